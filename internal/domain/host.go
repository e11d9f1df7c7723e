package domain

import (
	"context"
	"sync/atomic"
	"time"
)

// Endpoint identifies a media host by its transport URL and network address.
// The pair is unique within the registry.
type Endpoint struct {
	URL     string `yaml:"url" json:"url"`
	Address string `yaml:"address" json:"address"`
}

// Client is the capability surface of a connected media-host session.
// It wraps whatever transport library actually holds the socket.
type Client interface {
	// OnDisconnect registers the callback fired once when the session drops.
	OnDisconnect(fn func())
	// OnReconnect registers the callback fired when the transport reports a
	// reconnect. sameSession is false when the server lost session state, in
	// which case the session cannot be trusted.
	OnReconnect(fn func(sameSession bool))
	Close() error
}

// Connector dials a media host and yields a connected client.
type Connector interface {
	Connect(ctx context.Context, url string) (Client, error)
}

// AlertFlags are the dedup gates for one supervised endpoint. They outlive any
// single Host so that a failure raised against one registration can be cleared
// by the registration that replaces it.
type AlertFlags struct {
	StartupFailure atomic.Bool
	Failure        atomic.Bool
	Healthcheck    atomic.Bool
}

// Host is a currently connected media host held by the registry.
type Host struct {
	// ID is a generated opaque token, never derived from the endpoint.
	// Every registration gets a fresh one.
	ID          string
	Endpoint    Endpoint
	ConnectedAt time.Time

	// Handle is the connected session, exclusively owned by whichever
	// supervisor component currently holds the host. Discarded on
	// disconnect, never reused.
	Handle Client

	// Retries counts failed connect attempts for this host. Reset when the
	// host disconnects.
	Retries atomic.Int32

	// Flags is shared across successive registrations of the same endpoint.
	Flags *AlertFlags
}

// Snapshot is the persisted view of a connected host.
type Snapshot struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	Address     string    `json:"address"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Snapshot returns the persistable view of the host.
func (h *Host) Snapshot() Snapshot {
	return Snapshot{
		ID:          h.ID,
		URL:         h.Endpoint.URL,
		Address:     h.Endpoint.Address,
		ConnectedAt: h.ConnectedAt,
	}
}
