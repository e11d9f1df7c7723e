package probe

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/medwatch/medwatch/internal/domain"
	"github.com/medwatch/medwatch/internal/logger"
	"github.com/medwatch/medwatch/internal/notify"
)

const testLocalID = "monitor-1"

var testEndpoint = domain.Endpoint{URL: "ws://kms-1:8888/media", Address: "10.0.0.11:8888"}

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

// fakeChannel answers one ping per dial. When healthy it echoes the ping ID;
// when stale it answers with an unrelated ID and then closes.
type fakeChannel struct {
	healthy bool
	stale   bool

	mu     sync.Mutex
	pingID string
	reads  int
	closed bool
}

func (c *fakeChannel) WriteJSON(v interface{}) error {
	p, ok := v.(ping)
	if !ok {
		return errors.New("unexpected payload")
	}
	c.mu.Lock()
	c.pingID = p.ID
	c.mu.Unlock()
	return nil
}

func (c *fakeChannel) ReadJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.reads++
	resp, ok := v.(*pong)
	if !ok {
		return errors.New("unexpected receiver")
	}
	if c.stale {
		if c.reads > 1 {
			return errors.New("channel closed")
		}
		resp.ID = "someone-elses-pong"
		return nil
	}
	if !c.healthy {
		return errors.New("channel closed before pong")
	}
	resp.ID = c.pingID
	return nil
}

func (c *fakeChannel) SetReadDeadline(t time.Time) error { return nil }

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type fakeDialer struct {
	mu       sync.Mutex
	dials    int
	channels []*fakeChannel
	mode     func() *fakeChannel
}

func (d *fakeDialer) DialChannel(ctx context.Context, address string) (Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials++
	ch := d.mode()
	d.channels = append(d.channels, ch)
	return ch, nil
}

func (d *fakeDialer) dialsCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func newTestProber(dialer Dialer, mock *clock.Mock) (*Prober, *recordingSender) {
	log := logger.New("error", false)
	sender := &recordingSender{}
	gate := notify.NewGate(sender, log)
	p := NewProber(dialer, gate, Options{
		Interval: 30 * time.Second,
		Timeout:  15 * time.Second,
		LocalID:  testLocalID,
		HostType: domain.HostTypeMediaServer,
		Clock:    mock,
	}, log)
	return p, sender
}

func waitUntil(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for: %s", msg)
		}
		time.Sleep(time.Millisecond)
	}
}

func tick(t *testing.T, mock *clock.Mock, dialer *fakeDialer, n int) {
	t.Helper()
	// Yield so the probe goroutine registers its ticker before the clock is
	// advanced; a tick added before registration is silently lost.
	time.Sleep(10 * time.Millisecond)
	for i := 0; i < n; i++ {
		before := dialer.dialsCount()
		mock.Add(30 * time.Second)
		waitUntil(t, func() bool { return dialer.dialsCount() > before }, "probe tick")
	}
}

func probeAlert(ev domain.Event) string {
	return domain.AlertText(testLocalID, ev, domain.HostTypeMediaServer, testEndpoint)
}

func TestProber_ConsecutiveFailuresAlertOnce(t *testing.T) {
	mock := clock.NewMock()
	dialer := &fakeDialer{mode: func() *fakeChannel { return &fakeChannel{healthy: false} }}
	p, sender := newTestProber(dialer, mock)
	defer p.StopAll()

	flags := &domain.AlertFlags{}
	p.Start(testEndpoint, flags)

	tick(t, mock, dialer, 3)
	waitUntil(t, func() bool { return len(sender.all()) >= 1 }, "failure alert")

	got := sender.all()
	if len(got) != 1 || got[0] != probeAlert(domain.EventWSConnUnhealthy) {
		t.Errorf("expected exactly one WS_CONN_UNHEALTHY after 3 failures, got %v", got)
	}
}

func TestProber_RecoveryAlertsOnce(t *testing.T) {
	mock := clock.NewMock()
	var healthy atomic.Bool
	dialer := &fakeDialer{mode: func() *fakeChannel { return &fakeChannel{healthy: healthy.Load()} }}
	p, sender := newTestProber(dialer, mock)
	defer p.StopAll()

	flags := &domain.AlertFlags{}
	p.Start(testEndpoint, flags)

	tick(t, mock, dialer, 2)
	healthy.Store(true)
	tick(t, mock, dialer, 2)
	waitUntil(t, func() bool { return len(sender.all()) >= 2 }, "recovery alert")

	want := []string{
		probeAlert(domain.EventWSConnUnhealthy),
		probeAlert(domain.EventWSConnHealthy),
	}
	got := sender.all()
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestProber_HealthyProbesStaySilent(t *testing.T) {
	mock := clock.NewMock()
	dialer := &fakeDialer{mode: func() *fakeChannel { return &fakeChannel{healthy: true} }}
	p, sender := newTestProber(dialer, mock)
	defer p.StopAll()

	flags := &domain.AlertFlags{}
	p.Start(testEndpoint, flags)

	tick(t, mock, dialer, 3)

	if got := sender.all(); len(got) != 0 {
		t.Errorf("healthy probes must not alert, got %v", got)
	}
}

func TestProber_MismatchedPongIsFailure(t *testing.T) {
	mock := clock.NewMock()
	dialer := &fakeDialer{mode: func() *fakeChannel { return &fakeChannel{stale: true} }}
	p, sender := newTestProber(dialer, mock)
	defer p.StopAll()

	flags := &domain.AlertFlags{}
	p.Start(testEndpoint, flags)

	tick(t, mock, dialer, 1)
	waitUntil(t, func() bool { return len(sender.all()) >= 1 }, "failure alert")

	got := sender.all()
	if len(got) != 1 || got[0] != probeAlert(domain.EventWSConnUnhealthy) {
		t.Errorf("a pong with a foreign id must not count, got %v", got)
	}
}

func TestProber_ChannelClosedAfterEachRoundTrip(t *testing.T) {
	mock := clock.NewMock()
	dialer := &fakeDialer{mode: func() *fakeChannel { return &fakeChannel{healthy: true} }}
	p, _ := newTestProber(dialer, mock)
	defer p.StopAll()

	p.Start(testEndpoint, &domain.AlertFlags{})
	tick(t, mock, dialer, 2)

	allClosed := func() bool {
		dialer.mu.Lock()
		defer dialer.mu.Unlock()
		for _, ch := range dialer.channels {
			ch.mu.Lock()
			closed := ch.closed
			ch.mu.Unlock()
			if !closed {
				return false
			}
		}
		return len(dialer.channels) == 2
	}
	waitUntil(t, allClosed, "channels to be closed after each round-trip")
}

func TestProber_StartIsIdempotentPerAddress(t *testing.T) {
	mock := clock.NewMock()
	dialer := &fakeDialer{mode: func() *fakeChannel { return &fakeChannel{healthy: true} }}
	p, _ := newTestProber(dialer, mock)
	defer p.StopAll()

	flags := &domain.AlertFlags{}
	p.Start(testEndpoint, flags)
	p.Start(testEndpoint, flags)
	p.Start(testEndpoint, flags)

	if p.Count() != 1 {
		t.Fatalf("expected a single probe per address, got %d", p.Count())
	}

	// One tick, one dial: only one loop is running.
	tick(t, mock, dialer, 1)
	if dialer.dialsCount() != 1 {
		t.Errorf("expected 1 dial after 1 interval, got %d", dialer.dialsCount())
	}
}
