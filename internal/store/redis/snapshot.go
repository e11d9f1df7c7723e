package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/medwatch/medwatch/internal/domain"
)

// DefaultSnapshotTTL bounds how long a stale snapshot outlives the process
// that wrote it.
const DefaultSnapshotTTL = 48 * time.Hour

// StoredSnapshot is the persisted registry view plus its write time.
type StoredSnapshot struct {
	Hosts       []domain.Snapshot `json:"hosts"`
	PersistedAt time.Time         `json:"persisted_at"`
}

// Store persists best-effort snapshots of the host registry. The supervisor
// writes one on every registry mutation; nothing reads them back into
// supervisor state. They exist for the status API and post-crash forensics.
type Store struct {
	client *redis.Client
}

// NewStore creates a snapshot store on an established client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// SaveSnapshot overwrites the persisted registry view.
func (s *Store) SaveSnapshot(ctx context.Context, snaps []domain.Snapshot) error {
	data, err := json.Marshal(StoredSnapshot{
		Hosts:       snaps,
		PersistedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if err := s.client.Set(ctx, SnapshotKey(), data, DefaultSnapshotTTL).Err(); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns the last persisted registry view, or nil when none
// exists.
func (s *Store) LoadSnapshot(ctx context.Context) (*StoredSnapshot, error) {
	data, err := s.client.Get(ctx, SnapshotKey()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	var snap StoredSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}
