package registry

import (
	"sort"
	"sync"

	"github.com/medwatch/medwatch/internal/domain"
)

// HostRegistry is the authoritative in-memory set of currently connected
// media hosts. It is mutated by the connection supervisor on connect and
// disconnect; everything else only reads from it.
type HostRegistry struct {
	mu    sync.RWMutex
	hosts map[string]*domain.Host // ID -> Host
}

// NewHostRegistry creates an empty registry.
func NewHostRegistry() *HostRegistry {
	return &HostRegistry{
		hosts: make(map[string]*domain.Host),
	}
}

// Register adds a host. Any stale entry with the same ID or the same
// (url, address) pair is replaced, so the registry never holds two entries
// for one endpoint.
func (r *HostRegistry) Register(h *domain.Host) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.hosts, h.ID)
	for id, existing := range r.hosts {
		if existing.Endpoint == h.Endpoint {
			delete(r.hosts, id)
		}
	}
	r.hosts[h.ID] = h
}

// Deregister removes a host by ID and reports whether it was present.
func (r *HostRegistry) Deregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.hosts[id]
	delete(r.hosts, id)
	return ok
}

// Get retrieves a host by ID.
func (r *HostRegistry) Get(id string) (*domain.Host, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.hosts[id]
	return h, ok
}

// All returns all connected hosts.
func (r *HostRegistry) All() []*domain.Host {
	r.mu.RLock()
	defer r.mu.RUnlock()

	hosts := make([]*domain.Host, 0, len(r.hosts))
	for _, h := range r.hosts {
		hosts = append(hosts, h)
	}
	return hosts
}

// Count returns the number of connected hosts.
func (r *HostRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.hosts)
}

// Snapshots returns the persistable view of all connected hosts, ordered by
// endpoint URL for stable output.
func (r *HostRegistry) Snapshots() []domain.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snaps := make([]domain.Snapshot, 0, len(r.hosts))
	for _, h := range r.hosts {
		snaps = append(snaps, h.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool {
		if snaps[i].URL != snaps[j].URL {
			return snaps[i].URL < snaps[j].URL
		}
		return snaps[i].Address < snaps[j].Address
	})
	return snaps
}
