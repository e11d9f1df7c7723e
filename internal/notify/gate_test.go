package notify

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/medwatch/medwatch/internal/logger"
)

type recordingSender struct {
	mu    sync.Mutex
	texts []string
}

func (r *recordingSender) Send(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
}

func (r *recordingSender) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}

func TestGate_RaiseOnlyOnEdge(t *testing.T) {
	sender := &recordingSender{}
	gate := NewGate(sender, logger.New("error", false))

	var flag atomic.Bool
	if !gate.Raise(&flag, "down") {
		t.Error("first raise should emit")
	}
	if gate.Raise(&flag, "down") {
		t.Error("second raise should be suppressed")
	}
	if gate.Raise(&flag, "down") {
		t.Error("third raise should be suppressed")
	}

	got := sender.all()
	if len(got) != 1 || got[0] != "down" {
		t.Errorf("expected exactly one alert, got %v", got)
	}
}

func TestGate_ClearOnlyOnEdge(t *testing.T) {
	sender := &recordingSender{}
	gate := NewGate(sender, logger.New("error", false))

	var flag atomic.Bool
	if gate.Clear(&flag, "up") {
		t.Error("clear without a prior raise should emit nothing")
	}

	gate.Raise(&flag, "down")
	if !gate.Clear(&flag, "up") {
		t.Error("clear after raise should emit")
	}
	if gate.Clear(&flag, "up") {
		t.Error("second clear should be suppressed")
	}

	got := sender.all()
	if len(got) != 2 || got[0] != "down" || got[1] != "up" {
		t.Errorf("expected [down up], got %v", got)
	}
}

func TestGate_AlternatingEdges(t *testing.T) {
	sender := &recordingSender{}
	gate := NewGate(sender, logger.New("error", false))

	var flag atomic.Bool
	for i := 0; i < 3; i++ {
		gate.Raise(&flag, "down")
		gate.Raise(&flag, "down")
		gate.Clear(&flag, "up")
		gate.Clear(&flag, "up")
	}

	// No two consecutive identical alerts.
	got := sender.all()
	if len(got) != 6 {
		t.Fatalf("expected 6 alerts, got %d: %v", len(got), got)
	}
	for i := 1; i < len(got); i++ {
		if got[i] == got[i-1] {
			t.Errorf("consecutive duplicate alert at %d: %v", i, got)
		}
	}
}
