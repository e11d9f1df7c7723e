package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/medwatch/medwatch/internal/logger"
)

var testLog = logger.New("error", false)

// newSession dials a local websocket server and hands back both ends of the
// connection so tests can drive server-side behavior.
func newSession(t *testing.T) (*wsClient, *websocket.Conn) {
	t.Helper()

	upgrader := websocket.Upgrader{}
	serverConns := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serverConns <- conn
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	cl, err := NewWSConnector(time.Second, testLog).Connect(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = cl.Close() })

	server := <-serverConns
	t.Cleanup(func() { _ = server.Close() })
	return cl.(*wsClient), server
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

func TestDisconnectDeliveredOnce(t *testing.T) {
	cl, server := newSession(t)

	var calls atomic.Int32
	cl.OnDisconnect(func() { calls.Add(1) })

	server.Close()
	waitUntil(t, func() bool { return calls.Load() == 1 }, "disconnect callback")

	// The read loop has exited; a straggling fire must be a no-op.
	cl.fireDisconnect()
	if got := calls.Load(); got != 1 {
		t.Errorf("expected 1 disconnect callback, got %d", got)
	}
}

func TestDisconnectBeforeRegistrationIsReplayed(t *testing.T) {
	cl, server := newSession(t)

	server.Close()
	waitUntil(t, func() bool {
		cl.mu.Lock()
		defer cl.mu.Unlock()
		return cl.dropped
	}, "read loop to observe the drop")

	var calls atomic.Int32
	cl.OnDisconnect(func() { calls.Add(1) })
	if got := calls.Load(); got != 1 {
		t.Fatalf("disconnect seen before registration was never delivered (calls=%d)", got)
	}

	cl.fireDisconnect()
	if got := calls.Load(); got != 1 {
		t.Errorf("replayed disconnect delivered again, got %d calls", got)
	}
}

func TestReconnectEventPropagatesSessionFlag(t *testing.T) {
	cl, server := newSession(t)

	flags := make(chan bool, 2)
	cl.OnReconnect(func(sameSession bool) { flags <- sameSession })

	// Non-control frames on the channel are ignored.
	if err := server.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := server.WriteJSON(serverEvent{Event: "reconnected", SameSession: true}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := server.WriteJSON(serverEvent{Event: "reconnected", SameSession: false}); err != nil {
		t.Fatalf("write: %v", err)
	}

	for _, want := range []bool{true, false} {
		select {
		case got := <-flags:
			if got != want {
				t.Errorf("sameSession = %v, want %v", got, want)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for reconnect callback")
		}
	}
}

func TestCloseSuppressesDisconnect(t *testing.T) {
	cl, server := newSession(t)

	var calls atomic.Int32
	cl.OnDisconnect(func() { calls.Add(1) })

	if err := cl.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	server.Close()

	waitUntil(t, func() bool {
		cl.mu.Lock()
		defer cl.mu.Unlock()
		return cl.closed
	}, "close to settle")
	time.Sleep(50 * time.Millisecond)
	if got := calls.Load(); got != 0 {
		t.Errorf("disconnect callback fired after Close, calls=%d", got)
	}
}
