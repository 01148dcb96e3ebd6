// Package backend defines the connection contract every storage backend
// implements, plus the shared bookkeeping base embedded by the concrete
// connections under backend/qdrant, backend/relational, backend/graphdb and
// backend/rediskv.
package backend

import (
	"context"
	"time"

	"github.com/BaSui01/storagecore/config"
	"github.com/BaSui01/storagecore/types"
)

// Connection is a handle to one backend instance. Implementations must be
// safe for use by a single owner at a time; the pool guarantees exclusive
// ownership (a connection is idle or active, never both).
type Connection interface {
	// Connect establishes the underlying client/session.
	Connect(ctx context.Context) error

	// Disconnect tears the connection down. The pool calls this exactly
	// once on every terminal path (health failure, shrink, close).
	Disconnect(ctx context.Context) error

	// IsConnected reports the bookkeeping status without a network probe.
	IsConnected() bool

	// IsHealthy actively probes the backend.
	IsHealthy(ctx context.Context) bool

	// Reconnect tears down and re-establishes the connection once.
	Reconnect(ctx context.Context) error

	// AutoReconnect runs up to maxRetries Reconnect attempts with
	// exponentially growing delay, honoring ctx cancellation.
	AutoReconnect(ctx context.Context, maxRetries int, retryDelay time.Duration) error

	// ID returns the unique connection identifier.
	ID() string

	// Type returns the backend type this connection talks to.
	Type() types.DatabaseType

	// Status returns the current lifecycle status.
	Status() types.ConnectionStatus

	// CreatedAt returns the creation timestamp.
	CreatedAt() time.Time

	// LastActivity returns the last time the connection was used.
	LastActivity() time.Time

	// Touch records activity now.
	Touch()
}

// Factory creates the correct Connection implementation for a database
// type. The pool manager holds exactly one factory; tests substitute a mock.
type Factory interface {
	New(t types.DatabaseType, reg *config.Registry) (Connection, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(t types.DatabaseType, reg *config.Registry) (Connection, error)

// New implements Factory.
func (f FactoryFunc) New(t types.DatabaseType, reg *config.Registry) (Connection, error) {
	return f(t, reg)
}
