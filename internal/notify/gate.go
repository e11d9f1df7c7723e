package notify

import (
	"sync/atomic"

	"github.com/medwatch/medwatch/internal/logger"
)

// Sender delivers one alert line. Implementations must never block the
// caller; delivery is best effort.
type Sender interface {
	Send(text string)
}

// Gate emits alerts only on dedup-flag edges: a failure-class alert fires
// when its flag flips false to true, the paired recovery-class alert fires
// when it flips back. Steady-state repetition of either condition emits
// nothing. The gate itself holds no state beyond the flags it is handed.
type Gate struct {
	sender Sender
	log    logger.Logger
}

func NewGate(sender Sender, log logger.Logger) *Gate {
	return &Gate{sender: sender, log: log}
}

// Raise emits text if and only if flag transitions false to true.
// Reports whether the alert was emitted.
func (g *Gate) Raise(flag *atomic.Bool, text string) bool {
	if !flag.CompareAndSwap(false, true) {
		return false
	}
	g.log.Info("alert raised", logger.String("text", text))
	g.sender.Send(text)
	return true
}

// Clear emits text if and only if flag transitions true to false.
// Reports whether the alert was emitted.
func (g *Gate) Clear(flag *atomic.Bool, text string) bool {
	if !flag.CompareAndSwap(true, false) {
		return false
	}
	g.log.Info("alert cleared", logger.String("text", text))
	g.sender.Send(text)
	return true
}
