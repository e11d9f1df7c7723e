package supervisor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/medwatch/medwatch/internal/domain"
	"github.com/medwatch/medwatch/internal/logger"
	"github.com/medwatch/medwatch/internal/notify"
	"github.com/medwatch/medwatch/internal/registry"
)

// warnThreshold is the number of failed attempts logged at warn level before
// escalating to error.
const warnThreshold = 3

// persistTimeout bounds each best-effort snapshot write.
const persistTimeout = 2 * time.Second

// SnapshotSaver persists best-effort snapshots of the registry.
type SnapshotSaver interface {
	SaveSnapshot(ctx context.Context, snaps []domain.Snapshot) error
}

// ProbeStarter starts a liveness probe for an endpoint. Must be idempotent
// per endpoint.
type ProbeStarter interface {
	Start(ep domain.Endpoint, flags *domain.AlertFlags)
}

// Options configures a Supervisor.
type Options struct {
	FailoverTimeout   time.Duration // max time for one connect round-trip
	ReconnectDelay    time.Duration // delay between connect attempts
	MaxStartupRetries int           // startup attempts per host, 0 = unbounded
	LocalID           string        // identifier prefixed to alert text
	Clock             clock.Clock   // nil = wall clock
}

// Supervisor owns the connection lifecycle of the media-host fleet: bounded
// startup connects racing the failover timeout, disconnect and reconnect
// tracking, and the guarded per-host reconnection loops.
type Supervisor struct {
	connector domain.Connector
	registry  *registry.HostRegistry
	gate      *notify.Gate
	probes    ProbeStarter  // optional
	store     SnapshotSaver // optional
	clk       clock.Clock
	log       logger.Logger

	failoverTimeout   time.Duration
	reconnectDelay    time.Duration
	maxStartupRetries int
	localID           string

	ctx context.Context // set by Start; governs reconnection loops

	mu    sync.Mutex
	loops map[string]chan struct{}               // host ID -> reconnection loop stop channel
	flags map[domain.Endpoint]*domain.AlertFlags // long-lived dedup flags per endpoint
}

// New builds a Supervisor. probes and store may be nil.
func New(
	connector domain.Connector,
	reg *registry.HostRegistry,
	gate *notify.Gate,
	probes ProbeStarter,
	store SnapshotSaver,
	opts Options,
	log logger.Logger,
) *Supervisor {
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Supervisor{
		connector:         connector,
		registry:          reg,
		gate:              gate,
		probes:            probes,
		store:             store,
		clk:               clk,
		log:               log,
		failoverTimeout:   opts.FailoverTimeout,
		reconnectDelay:    opts.ReconnectDelay,
		maxStartupRetries: opts.MaxStartupRetries,
		localID:           opts.LocalID,
		loops:             make(map[string]chan struct{}),
		flags:             make(map[domain.Endpoint]*domain.AlertFlags),
	}
}

// Start dispatches one startup connection attempt per endpoint. Attempts run
// concurrently and independently; Start returns as soon as all are dispatched.
// ctx also governs every reconnection loop started later.
func (s *Supervisor) Start(ctx context.Context, endpoints []domain.Endpoint) {
	s.ctx = ctx

	g := new(errgroup.Group)
	for _, ep := range endpoints {
		ep := ep
		g.Go(func() error {
			s.ConnectWithBound(ctx, ep, s.maxStartupRetries)
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		s.log.Info("startup connection phase settled",
			logger.Int("connected", s.registry.Count()))
	}()
}

// ConnectWithBound attempts to connect one endpoint, retrying after
// reconnectDelay until the attempt bound is exhausted (maxRetries 0 retries
// forever). It returns once the host is connected or abandoned. This is the
// only place startup-phase alerts are emitted; steady-state disconnects use
// the OFFLINE/ONLINE pair instead.
func (s *Supervisor) ConnectWithBound(ctx context.Context, ep domain.Endpoint, maxRetries int) {
	flags := s.flagsFor(ep)
	retries := 0

	for {
		cl, err := s.connectRace(ctx, ep.URL)
		if err == nil {
			h := s.adopt(ep, cl, flags)
			h.Retries.Store(int32(retries))
			s.gate.Clear(&flags.StartupFailure,
				s.alertText(domain.EventStartupConnectSuccess, ep))
			s.log.Info("media host connected",
				logger.String("url", ep.URL),
				logger.String("address", ep.Address),
				logger.String("host_id", h.ID))
			return
		}
		if ctx.Err() != nil {
			return
		}

		retries++
		s.gate.Raise(&flags.StartupFailure,
			s.alertText(domain.EventStartupConnectFailure, ep))

		if maxRetries > 0 && retries >= maxRetries {
			s.log.Error("giving up on media host, startup retries exhausted",
				logger.String("url", ep.URL),
				logger.Int("attempts", retries))
			return
		}
		s.logAttemptFailure("startup connect failed", ep, retries, err)

		select {
		case <-ctx.Done():
			return
		case <-s.clk.After(s.reconnectDelay):
		}
	}
}

// connectRace issues the connect concurrently with the failover timeout and
// returns whichever settles first. The one-shot guard makes the loser's late
// result inert: a late success is closed and discarded, a late timeout
// changes nothing.
func (s *Supervisor) connectRace(ctx context.Context, url string) (domain.Client, error) {
	type result struct {
		cl  domain.Client
		err error
	}
	settled := new(atomic.Bool)
	results := make(chan result, 1)

	go func() {
		cl, err := s.connector.Connect(ctx, url)
		if !settled.CompareAndSwap(false, true) {
			// Lost the race; discard the handle.
			if cl != nil {
				_ = cl.Close()
			}
			return
		}
		results <- result{cl: cl, err: err}
	}()

	timer := s.clk.Timer(s.failoverTimeout)
	defer timer.Stop()

	select {
	case r := <-results:
		return r.cl, r.err
	case <-timer.C:
		if !settled.CompareAndSwap(false, true) {
			// The connect settled between the timer firing and this branch
			// running; its result stands.
			r := <-results
			return r.cl, r.err
		}
		return nil, fmt.Errorf("%w: %s after %v", domain.ErrTimeout, url, s.failoverTimeout)
	case <-ctx.Done():
		if !settled.CompareAndSwap(false, true) {
			r := <-results
			if r.cl != nil {
				_ = r.cl.Close()
			}
		}
		return nil, ctx.Err()
	}
}

// adopt registers a fresh Host for a connected client, wires its lifecycle
// observers, and starts the liveness probe when one is configured.
func (s *Supervisor) adopt(ep domain.Endpoint, cl domain.Client, flags *domain.AlertFlags) *domain.Host {
	h := &domain.Host{
		ID:          uuid.NewString(),
		Endpoint:    ep,
		ConnectedAt: s.clk.Now(),
		Handle:      cl,
		Flags:       flags,
	}
	s.registry.Register(h)
	s.persist()

	cl.OnDisconnect(func() { s.handleDisconnect(h) })
	cl.OnReconnect(func(sameSession bool) { s.handleReconnect(h, sameSession) })

	if s.probes != nil {
		s.probes.Start(ep, flags)
	}
	return h
}

// handleDisconnect runs the CONNECTED -> DISCONNECTED transition: the host
// leaves the registry, its counters reset, the OFFLINE alert fires on the
// dedup edge, and exactly one reconnection loop starts for its ID.
func (s *Supervisor) handleDisconnect(h *domain.Host) {
	if s.registry.Deregister(h.ID) {
		s.persist()
	}
	h.Retries.Store(0)

	s.log.Warn("media host disconnected",
		logger.String("url", h.Endpoint.URL),
		logger.String("address", h.Endpoint.Address),
		logger.String("host_id", h.ID))

	s.gate.Raise(&h.Flags.Failure,
		s.alertText(domain.EventMediaServerOffline, h.Endpoint))
	s.startReconnectLoop(h)
}

// handleReconnect handles a transport-level reconnect notice. A reconnect
// that did not preserve the session is indistinguishable from a fresh
// disconnect: the old session cannot be trusted, so it goes through the
// disconnect path even if a previous OFFLINE cycle has not settled yet.
func (s *Supervisor) handleReconnect(h *domain.Host, sameSession bool) {
	if !sameSession {
		s.handleDisconnect(h)
		return
	}
	// Original registration is undisturbed; no registry mutation.
	s.gate.Clear(&h.Flags.Failure,
		s.alertText(domain.EventMediaServerOnline, h.Endpoint))
}

// flagsFor returns the long-lived dedup flags for an endpoint, creating them
// on first use. Successive registrations of the same endpoint share one set
// so that a raised alert can be cleared by the registration replacing it.
func (s *Supervisor) flagsFor(ep domain.Endpoint) *domain.AlertFlags {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.flags[ep]
	if !ok {
		f = &domain.AlertFlags{}
		s.flags[ep] = f
	}
	return f
}

func (s *Supervisor) alertText(ev domain.Event, ep domain.Endpoint) string {
	return domain.AlertText(s.localID, ev, domain.HostTypeMediaServer, ep)
}

func (s *Supervisor) logAttemptFailure(msg string, ep domain.Endpoint, attempt int, err error) {
	if attempt <= warnThreshold {
		s.log.Warn(msg,
			logger.String("url", ep.URL),
			logger.Int("attempt", attempt),
			logger.Duration("next_retry_in", s.reconnectDelay),
			logger.Error(err))
		return
	}
	s.log.Error(msg+" repeatedly",
		logger.String("url", ep.URL),
		logger.Int("attempt", attempt),
		logger.Duration("next_retry_in", s.reconnectDelay),
		logger.Error(err))
}

// persist saves a best-effort snapshot of the registry. Supervisor state
// never depends on the store.
func (s *Supervisor) persist() {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.store.SaveSnapshot(ctx, s.registry.Snapshots()); err != nil {
		s.log.Warn("failed to persist host snapshot", logger.Error(err))
	}
}
