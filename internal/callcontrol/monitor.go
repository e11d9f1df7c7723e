package callcontrol

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/medwatch/medwatch/internal/domain"
	"github.com/medwatch/medwatch/internal/logger"
	"github.com/medwatch/medwatch/internal/notify"
	"github.com/medwatch/medwatch/internal/probe"
)

// Notice categories the call-control server pushes in place of a generic
// disconnect callback. Any of them means the session is gone.
type Notice string

const (
	NoticeShutdown        Notice = "shutdown"
	NoticeSessionTakeover Notice = "session-takeover"
	NoticeNetworkError    Notice = "network-error"
)

// Session is an authenticated call-control connection.
type Session interface {
	// OnNotice registers the callback invoked for each pushed disconnect
	// notice.
	OnNotice(fn func(Notice))
	Close() error
}

// Connector performs the authentication handshake and yields a session.
type Connector interface {
	Connect(ctx context.Context) (Session, error)
}

// Options configures a Monitor.
type Options struct {
	Endpoint        domain.Endpoint // as reported in alert text
	FailoverTimeout time.Duration
	ReconnectDelay  time.Duration
	ProbeURL        string // optional secondary liveness URL, "" = no probe
	LocalID         string
	Clock           clock.Clock // nil = wall clock
}

// Monitor supervises the single call-control host. It follows the media-host
// pattern with two differences: a startup failure (including a rejected
// handshake) enters the reconnection loop immediately instead of bounded
// startup retries, and disconnects arrive as pushed notice categories rather
// than a transport callback.
type Monitor struct {
	connector Connector
	gate      *notify.Gate
	prober    *probe.Prober // optional, labeled for call control
	clk       clock.Clock
	log       logger.Logger

	ep              domain.Endpoint
	failoverTimeout time.Duration
	reconnectDelay  time.Duration
	probeURL        string
	localID         string

	ctx context.Context // set by Start

	flags     domain.AlertFlags
	probeFlag domain.AlertFlags // liveness dedup, independent of the other three

	mu           sync.Mutex
	session      Session
	reconnecting bool // single-host loop guard
}

// New builds a Monitor. prober may be nil; it is only used when a probe URL
// is configured.
func New(connector Connector, gate *notify.Gate, prober *probe.Prober, opts Options, log logger.Logger) *Monitor {
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Monitor{
		connector:       connector,
		gate:            gate,
		prober:          prober,
		clk:             clk,
		log:             log,
		ep:              opts.Endpoint,
		failoverTimeout: opts.FailoverTimeout,
		reconnectDelay:  opts.ReconnectDelay,
		probeURL:        opts.ProbeURL,
		localID:         opts.LocalID,
	}
}

// Start dispatches the initial connection attempt and, when configured, the
// secondary liveness probe. It returns immediately.
func (m *Monitor) Start(ctx context.Context) {
	m.ctx = ctx

	if m.probeURL != "" && m.prober != nil {
		m.prober.Start(domain.Endpoint{URL: m.probeURL, Address: m.probeURL}, &m.probeFlag)
	}

	go func() {
		sess, err := m.connectRace(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.log.Warn("call-control startup connect failed",
				logger.String("host", m.ep.URL),
				logger.Error(err))
			m.gate.Raise(&m.flags.StartupFailure,
				m.alertText(domain.EventStartupConnectFailure))
			m.startReconnectLoop()
			return
		}
		m.adopt(sess)
	}()
}

// Connected reports whether an authenticated session is currently held.
func (m *Monitor) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.session != nil
}

// Endpoint returns the supervised call-control endpoint.
func (m *Monitor) Endpoint() domain.Endpoint {
	return m.ep
}

// connectRace races the authenticating connect against the failover timeout,
// first settlement wins. A session arriving after the timeout is closed and
// discarded.
func (m *Monitor) connectRace(ctx context.Context) (Session, error) {
	type result struct {
		sess Session
		err  error
	}
	settled := new(atomic.Bool)
	results := make(chan result, 1)

	go func() {
		sess, err := m.connector.Connect(ctx)
		if !settled.CompareAndSwap(false, true) {
			if sess != nil {
				_ = sess.Close()
			}
			return
		}
		results <- result{sess: sess, err: err}
	}()

	timer := m.clk.Timer(m.failoverTimeout)
	defer timer.Stop()

	select {
	case r := <-results:
		return r.sess, r.err
	case <-timer.C:
		if !settled.CompareAndSwap(false, true) {
			r := <-results
			return r.sess, r.err
		}
		return nil, fmt.Errorf("%w: %s after %v", domain.ErrTimeout, m.ep.URL, m.failoverTimeout)
	case <-ctx.Done():
		if !settled.CompareAndSwap(false, true) {
			r := <-results
			if r.sess != nil {
				_ = r.sess.Close()
			}
		}
		return nil, ctx.Err()
	}
}

// adopt takes ownership of a fresh session and subscribes to the disconnect
// notice categories. Clearing the startup flag here pairs a success alert
// with a failure alert regardless of whether the recovery came from the
// initial attempt or the reconnection loop.
func (m *Monitor) adopt(sess Session) {
	m.mu.Lock()
	m.session = sess
	m.mu.Unlock()

	sess.OnNotice(func(n Notice) { m.handleNotice(n) })

	m.gate.Clear(&m.flags.StartupFailure,
		m.alertText(domain.EventStartupConnectSuccess))
	m.log.Info("call-control host connected", logger.String("host", m.ep.URL))
}

// handleNotice treats every pushed notice category as a disconnect: the
// session is dropped, the OFFLINE alert fires on its edge, and exactly one
// reconnection loop starts.
func (m *Monitor) handleNotice(n Notice) {
	m.log.Warn("call-control disconnect notice",
		logger.String("host", m.ep.URL),
		logger.String("category", string(n)))

	m.mu.Lock()
	if m.session != nil {
		_ = m.session.Close()
		m.session = nil
	}
	m.mu.Unlock()

	m.gate.Raise(&m.flags.Failure, m.alertText(domain.EventMediaServerOffline))
	m.startReconnectLoop()
}

func (m *Monitor) startReconnectLoop() {
	m.mu.Lock()
	if m.reconnecting {
		m.mu.Unlock()
		return
	}
	m.reconnecting = true
	m.mu.Unlock()

	go m.runReconnectLoop()
}

func (m *Monitor) runReconnectLoop() {
	ticker := m.clk.Ticker(m.reconnectDelay)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			sess, err := m.connectRace(m.ctx)
			if err != nil {
				// No alert per tick; the OFFLINE alert stands until recovery.
				m.log.Debug("call-control reconnect attempt failed",
					logger.String("host", m.ep.URL),
					logger.Error(err))
				continue
			}

			m.mu.Lock()
			m.reconnecting = false
			m.mu.Unlock()

			m.adopt(sess)
			m.gate.Clear(&m.flags.Failure, m.alertText(domain.EventMediaServerOnline))
			return
		}
	}
}

func (m *Monitor) alertText(ev domain.Event) string {
	return domain.AlertText(m.localID, ev, domain.HostTypeCallControl, m.ep)
}
