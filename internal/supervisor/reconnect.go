package supervisor

import (
	"github.com/medwatch/medwatch/internal/domain"
	"github.com/medwatch/medwatch/internal/logger"
)

// startReconnectLoop begins periodic reconnect attempts for a disconnected
// host. At most one loop runs per host ID; the presence check and insert
// happen under one lock acquisition, so starting a second is a no-op.
func (s *Supervisor) startReconnectLoop(h *domain.Host) {
	s.mu.Lock()
	if _, running := s.loops[h.ID]; running {
		s.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	s.loops[h.ID] = stop
	s.mu.Unlock()

	go s.runReconnectLoop(h, stop)
}

// runReconnectLoop retries the connect race every reconnectDelay until one
// attempt succeeds. Failed ticks emit no alert; the initial OFFLINE alert
// stands until recovery. On success the loop removes its own timer entry,
// registers a fresh host for the endpoint, and clears the failure flag.
func (s *Supervisor) runReconnectLoop(h *domain.Host, stop chan struct{}) {
	ticker := s.clk.Ticker(s.reconnectDelay)
	defer ticker.Stop()

	attempts := 0
	for {
		select {
		case <-stop:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			cl, err := s.connectRace(s.ctx, h.Endpoint.URL)
			if err != nil {
				attempts++
				s.logAttemptFailure("reconnect attempt failed", h.Endpoint, attempts, err)
				continue
			}

			s.removeReconnectLoop(h.ID)
			nh := s.adopt(h.Endpoint, cl, h.Flags)
			nh.Retries.Store(int32(attempts))
			s.gate.Clear(&h.Flags.Failure,
				s.alertText(domain.EventMediaServerOnline, h.Endpoint))
			s.log.Info("media host reconnected",
				logger.String("url", h.Endpoint.URL),
				logger.String("address", h.Endpoint.Address),
				logger.String("host_id", nh.ID),
				logger.Int("attempts", attempts+1))
			return
		}
	}
}

func (s *Supervisor) removeReconnectLoop(id string) {
	s.mu.Lock()
	delete(s.loops, id)
	s.mu.Unlock()
}

// Reconnecting returns the IDs of hosts with an active reconnection loop.
func (s *Supervisor) Reconnecting() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.loops))
	for id := range s.loops {
		ids = append(ids, id)
	}
	return ids
}
