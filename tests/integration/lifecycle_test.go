package integration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/medwatch/medwatch/internal/domain"
	"github.com/medwatch/medwatch/internal/logger"
	"github.com/medwatch/medwatch/internal/notify"
	"github.com/medwatch/medwatch/internal/registry"
	"github.com/medwatch/medwatch/internal/supervisor"
)

type connectorFunc func(ctx context.Context, url string) (domain.Client, error)

func (f connectorFunc) Connect(ctx context.Context, url string) (domain.Client, error) {
	return f(ctx, url)
}

type fakeClient struct {
	mu           sync.Mutex
	onDisconnect func()
}

func (c *fakeClient) OnDisconnect(fn func()) {
	c.mu.Lock()
	c.onDisconnect = fn
	c.mu.Unlock()
}

func (c *fakeClient) OnReconnect(fn func(sameSession bool)) {}

func (c *fakeClient) Close() error { return nil }

func (c *fakeClient) drop() {
	c.mu.Lock()
	fn := c.onDisconnect
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

type alertSink struct {
	mu    sync.Mutex
	texts []string
}

func (s *alertSink) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		var body struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(data, &body); err != nil {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.texts = append(s.texts, body.Text)
		s.mu.Unlock()
	}
}

func (s *alertSink) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

func waitUntil(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for: %s", msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// TestDisconnectRecoveryDeliversAlertPair runs the full path from transport
// disconnect to webhook delivery: supervisor -> gate -> webhook -> HTTP sink,
// with a scripted connector standing in for the media host.
func TestDisconnectRecoveryDeliversAlertPair(t *testing.T) {
	sink := &alertSink{}
	srv := httptest.NewServer(sink.handler())
	defer srv.Close()

	log := logger.New("error", false)
	webhook := notify.NewWebhook(srv.URL, 2*time.Second, log)
	gate := notify.NewGate(webhook, log)
	reg := registry.NewHostRegistry()

	ep := domain.Endpoint{URL: "ws://kms-1.internal:8888/media", Address: "10.0.0.11:8888"}

	first := &fakeClient{}
	var calls atomic.Int32
	var allowReconnect atomic.Bool
	connector := connectorFunc(func(ctx context.Context, url string) (domain.Client, error) {
		if calls.Add(1) == 1 {
			return first, nil
		}
		if !allowReconnect.Load() {
			return nil, domain.ErrConnect
		}
		return &fakeClient{}, nil
	})

	sup := supervisor.New(connector, reg, gate, nil, nil, supervisor.Options{
		FailoverTimeout:   500 * time.Millisecond,
		ReconnectDelay:    20 * time.Millisecond,
		MaxStartupRetries: 0,
		LocalID:           "monitor-1",
	}, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sup.Start(ctx, []domain.Endpoint{ep})

	waitUntil(t, func() bool { return reg.Count() == 1 }, "startup connect")
	if got := sink.all(); len(got) != 0 {
		t.Fatalf("clean startup must not alert, got %v", got)
	}

	first.drop()
	waitUntil(t, func() bool { return len(sink.all()) == 1 }, "OFFLINE delivery")

	allowReconnect.Store(true)
	waitUntil(t, func() bool { return len(sink.all()) == 2 }, "ONLINE delivery")
	waitUntil(t, func() bool { return reg.Count() == 1 }, "re-registration")

	want := []string{
		"monitor-1 triggered MEDIA_SERVER_OFFLINE for MediaServer ws://kms-1.internal:8888/media 10.0.0.11:8888",
		"monitor-1 triggered MEDIA_SERVER_ONLINE for MediaServer ws://kms-1.internal:8888/media 10.0.0.11:8888",
	}
	got := sink.all()
	if got[0] != want[0] || got[1] != want[1] {
		t.Errorf("expected %v, got %v", want, got)
	}

	// Settled: exactly one registry entry for the endpoint, loop gone.
	waitUntil(t, func() bool { return len(sup.Reconnecting()) == 0 }, "loop cleanup")
	snaps := reg.Snapshots()
	if len(snaps) != 1 || snaps[0].URL != ep.URL {
		t.Errorf("unexpected registry contents: %v", snaps)
	}
}
