package callcontrol

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/medwatch/medwatch/internal/domain"
	"github.com/medwatch/medwatch/internal/logger"
)

type authRequest struct {
	Action     string `json:"action"`
	Credential string `json:"credential"`
}

type authReply struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

type noticeFrame struct {
	Notice string `json:"notice"`
}

// WSConnector dials the call-control host over websocket and performs the
// credential handshake before handing the session over.
type WSConnector struct {
	host       string
	port       int
	credential string
	dialer     *websocket.Dialer
	log        logger.Logger
}

func NewWSConnector(host string, port int, credential string, handshakeTimeout time.Duration, log logger.Logger) *WSConnector {
	return &WSConnector{
		host:       host,
		port:       port,
		credential: credential,
		dialer:     &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		log:        log,
	}
}

func (c *WSConnector) Connect(ctx context.Context) (Session, error) {
	url := fmt.Sprintf("ws://%s:%d", c.host, c.port)
	conn, _, err := c.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", domain.ErrConnect, url, err)
	}

	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(dl)
		_ = conn.SetWriteDeadline(dl)
	}

	if err := conn.WriteJSON(authRequest{Action: "auth", Credential: c.credential}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: send auth: %v", domain.ErrConnect, err)
	}
	var reply authReply
	if err := conn.ReadJSON(&reply); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: read auth reply: %v", domain.ErrConnect, err)
	}
	if !reply.OK {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %s", domain.ErrAuth, reply.Reason)
	}

	_ = conn.SetReadDeadline(time.Time{})
	_ = conn.SetWriteDeadline(time.Time{})

	s := &wsSession{conn: conn, log: c.log}
	go s.readLoop()
	return s, nil
}

// wsSession owns one authenticated connection and forwards pushed notice
// frames. A raw transport drop with no notice is reported as network-error.
type wsSession struct {
	conn *websocket.Conn
	log  logger.Logger

	mu       sync.Mutex
	onNotice func(Notice)
	pending  []Notice // notices seen before a callback was registered
	closed   bool
}

func (s *wsSession) OnNotice(fn func(Notice)) {
	s.mu.Lock()
	s.onNotice = fn
	flush := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, n := range flush {
		fn(n)
	}
}

func (s *wsSession) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.conn.Close()
}

func (s *wsSession) readLoop() {
	for {
		var frame noticeFrame
		if err := s.conn.ReadJSON(&frame); err != nil {
			s.deliver(NoticeNetworkError)
			return
		}
		switch Notice(frame.Notice) {
		case NoticeShutdown, NoticeSessionTakeover, NoticeNetworkError:
			s.deliver(Notice(frame.Notice))
		default:
			// Not a disconnect notice; ignore.
		}
	}
}

func (s *wsSession) deliver(n Notice) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	fn := s.onNotice
	if fn == nil {
		s.pending = append(s.pending, n)
	}
	s.mu.Unlock()

	if fn != nil {
		fn(n)
	}
}
