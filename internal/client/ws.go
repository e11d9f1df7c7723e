package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/medwatch/medwatch/internal/domain"
	"github.com/medwatch/medwatch/internal/logger"
)

// WSConnector dials media hosts over websocket and wraps each connection in
// the client capability the supervisor consumes.
type WSConnector struct {
	dialer *websocket.Dialer
	log    logger.Logger
}

func NewWSConnector(handshakeTimeout time.Duration, log logger.Logger) *WSConnector {
	return &WSConnector{
		dialer: &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		log:    log,
	}
}

func (c *WSConnector) Connect(ctx context.Context, url string) (domain.Client, error) {
	conn, _, err := c.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", domain.ErrConnect, url, err)
	}

	ws := &wsClient{
		conn: conn,
		url:  url,
		log:  c.log,
	}
	go ws.readLoop()
	return ws, nil
}

// serverEvent is a control message pushed by the media server on its
// session channel.
type serverEvent struct {
	Event       string `json:"event"`
	SameSession bool   `json:"sameSession"`
}

// wsClient owns one websocket session. The read loop watches for pushed
// control events and turns a read error into a single disconnect callback.
type wsClient struct {
	conn *websocket.Conn
	url  string
	log  logger.Logger

	mu           sync.Mutex
	onDisconnect func()
	onReconnect  func(sameSession bool)
	closed       bool // Close was called; read errors after this are ours
	dropped      bool // disconnect seen before a callback was registered
	fired        bool // disconnect callback already invoked
}

func (c *wsClient) OnDisconnect(fn func()) {
	c.mu.Lock()
	c.onDisconnect = fn
	fire := c.dropped && !c.fired
	if fire {
		c.fired = true
	}
	c.mu.Unlock()

	if fire {
		fn()
	}
}

func (c *wsClient) OnReconnect(fn func(sameSession bool)) {
	c.mu.Lock()
	c.onReconnect = fn
	c.mu.Unlock()
}

func (c *wsClient) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close()
}

func (c *wsClient) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.fireDisconnect()
			return
		}

		var ev serverEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			// Not a control frame; nothing for the supervisor here.
			continue
		}
		if ev.Event == "reconnected" {
			c.fireReconnect(ev.SameSession)
		}
	}
}

func (c *wsClient) fireDisconnect() {
	c.mu.Lock()
	if c.closed || c.fired {
		c.mu.Unlock()
		return
	}
	fn := c.onDisconnect
	if fn == nil {
		// No callback yet; OnDisconnect replays this once one is registered.
		c.dropped = true
		c.mu.Unlock()
		return
	}
	c.fired = true
	c.mu.Unlock()

	c.log.Debugf("session to %s dropped", c.url)
	fn()
}

func (c *wsClient) fireReconnect(sameSession bool) {
	c.mu.Lock()
	fn := c.onReconnect
	c.mu.Unlock()

	if fn != nil {
		fn(sameSession)
	}
}
