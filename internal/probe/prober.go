package probe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/medwatch/medwatch/internal/domain"
	"github.com/medwatch/medwatch/internal/logger"
	"github.com/medwatch/medwatch/internal/notify"
	"github.com/medwatch/medwatch/internal/utils"
)

// Channel is a short-lived side-channel connection used for one liveness
// round-trip.
type Channel interface {
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
	SetReadDeadline(t time.Time) error
	Close() error
}

// Dialer opens probe side channels.
type Dialer interface {
	DialChannel(ctx context.Context, address string) (Channel, error)
}

// Options configures a Prober.
type Options struct {
	Interval time.Duration   // time between probes (per endpoint)
	Timeout  time.Duration   // max time for one ping round-trip
	LocalID  string          // identifier prefixed to alert text
	HostType domain.HostType // label carried in alert text
	Clock    clock.Clock     // nil = wall clock
}

// Prober runs a periodic websocket liveness check per endpoint. It exists
// because the primary transport's disconnect callback does not reliably
// detect partial network degradation, so it runs independently of the
// registry's view and may alert while a host is still considered connected.
type Prober struct {
	dialer Dialer
	gate   *notify.Gate
	clk    clock.Clock
	log    logger.Logger

	interval time.Duration
	timeout  time.Duration
	localID  string
	hostType domain.HostType

	quit     chan struct{}
	quitOnce sync.Once

	mu     sync.Mutex
	probes map[string]struct{} // address -> running marker
}

func NewProber(dialer Dialer, gate *notify.Gate, opts Options, log logger.Logger) *Prober {
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Prober{
		dialer:   dialer,
		gate:     gate,
		clk:      clk,
		log:      log,
		interval: opts.Interval,
		timeout:  opts.Timeout,
		localID:  opts.LocalID,
		hostType: opts.HostType,
		quit:     make(chan struct{}),
		probes:   make(map[string]struct{}),
	}
}

// Start begins probing an endpoint. Idempotent: a second call for an address
// that already has a running probe is a no-op, so the probe survives host
// re-registration after a reconnect.
func (p *Prober) Start(ep domain.Endpoint, flags *domain.AlertFlags) {
	p.mu.Lock()
	if _, running := p.probes[ep.Address]; running {
		p.mu.Unlock()
		return
	}
	p.probes[ep.Address] = struct{}{}
	p.mu.Unlock()

	p.log.Info("starting liveness probe",
		logger.String("address", ep.Address),
		logger.Duration("interval", p.interval))
	go p.run(ep, flags)
}

// Count returns the number of running probes.
func (p *Prober) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.probes)
}

// StopAll terminates every probe loop. Used at shutdown.
func (p *Prober) StopAll() {
	p.quitOnce.Do(func() { close(p.quit) })
}

func (p *Prober) run(ep domain.Endpoint, flags *domain.AlertFlags) {
	ticker := p.clk.Ticker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.quit:
			return
		case <-ticker.C:
			if err := p.check(ep); err != nil {
				p.log.Debug("liveness probe failed",
					logger.String("address", ep.Address),
					logger.Error(err))
				p.gate.Raise(&flags.Healthcheck,
					p.alertText(domain.EventWSConnUnhealthy, ep))
				continue
			}
			p.gate.Clear(&flags.Healthcheck,
				p.alertText(domain.EventWSConnHealthy, ep))
		}
	}
}

// check opens a fresh side channel, sends one ping, and waits for the
// matching pong within the failover timeout. The channel is closed no matter
// how the round-trip ends.
func (p *Prober) check(ep domain.Endpoint) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	ch, err := p.dialer.DialChannel(ctx, ep.Address)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", domain.ErrProbe, ep.Address, err)
	}
	defer utils.Close(ch)

	req := newPing(p.interval)
	if err := ch.WriteJSON(req); err != nil {
		return fmt.Errorf("%w: send ping: %v", domain.ErrProbe, err)
	}
	if err := ch.SetReadDeadline(p.clk.Now().Add(p.timeout)); err != nil {
		return fmt.Errorf("%w: set deadline: %v", domain.ErrProbe, err)
	}

	for {
		var resp pong
		if err := ch.ReadJSON(&resp); err != nil {
			// Covers timeouts and channels closed before our pong arrived.
			return fmt.Errorf("%w: awaiting pong: %v", domain.ErrProbe, err)
		}
		if resp.ID == req.ID {
			return nil
		}
		// Unrelated frame; keep reading until the deadline.
	}
}

func (p *Prober) alertText(ev domain.Event, ep domain.Endpoint) string {
	return domain.AlertText(p.localID, ev, p.hostType, ep)
}
