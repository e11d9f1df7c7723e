package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/medwatch/medwatch/internal/domain"
	"github.com/medwatch/medwatch/internal/httpserver/deps"
	"github.com/medwatch/medwatch/internal/logger"
)

type callControlStatus struct {
	URL       string `json:"url"`
	Address   string `json:"address"`
	Connected bool   `json:"connected"`
}

type statusResponse struct {
	Connected     []domain.Snapshot  `json:"connected"`
	Reconnecting  []string           `json:"reconnecting"`
	ActiveProbes  int                `json:"active_probes"`
	CallControl   *callControlStatus `json:"call_control,omitempty"`
	LastPersisted *time.Time         `json:"last_persisted,omitempty"`
}

// Status reports the registry view: connected hosts, hosts with an active
// reconnection loop, probe count, call-control state, and the time of the
// last persisted snapshot when the store is configured.
func Status(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := statusResponse{
			Connected:    d.Registry.Snapshots(),
			Reconnecting: d.Supervisor.Reconnecting(),
		}
		if d.Prober != nil {
			resp.ActiveProbes = d.Prober.Count()
		}
		if d.CallControl != nil {
			ep := d.CallControl.Endpoint()
			resp.CallControl = &callControlStatus{
				URL:       ep.URL,
				Address:   ep.Address,
				Connected: d.CallControl.Connected(),
			}
		}
		if d.Store != nil {
			if snap, err := d.Store.LoadSnapshot(r.Context()); err != nil {
				d.Logger.Warn("failed to load persisted snapshot", logger.Error(err))
			} else if snap != nil {
				resp.LastPersisted = &snap.PersistedAt
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		_ = json.NewEncoder(w).Encode(resp)
	}
}
