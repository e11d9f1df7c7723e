package probe

import (
	"time"

	"github.com/google/uuid"
)

// ping is the liveness request sent over the side channel. ID correlates the
// pong; Interval tells the host how often to expect the next probe.
type ping struct {
	ID         string `json:"id"`
	IntervalMs int64  `json:"interval"`
}

// pong is the host's answer. Only a pong echoing the ping ID counts.
type pong struct {
	ID string `json:"id"`
}

func newPing(interval time.Duration) ping {
	return ping{
		ID:         uuid.NewString(),
		IntervalMs: interval.Milliseconds(),
	}
}
