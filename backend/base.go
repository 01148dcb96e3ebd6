package backend

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/storagecore/types"
)

// Base carries the bookkeeping shared by every concrete connection: id,
// type, status, timestamps and last error, all guarded by one mutex.
// Concrete connections embed *Base and implement dialing themselves.
type Base struct {
	id     string
	dbType types.DatabaseType
	logger *zap.Logger

	mu           sync.Mutex
	status       types.ConnectionStatus
	createdAt    time.Time
	lastActivity time.Time
	lastErr      error

	// reconnectFn points back at the embedding connection's Reconnect so
	// AutoReconnect can drive it without knowing the concrete type.
	reconnectFn func(ctx context.Context) error
}

// NewBase creates the shared bookkeeping for a connection of the given type.
func NewBase(t types.DatabaseType, logger *zap.Logger) *Base {
	if logger == nil {
		logger = zap.NewNop()
	}
	now := time.Now()
	return &Base{
		id:           uuid.NewString(),
		dbType:       t,
		logger:       logger.With(zap.String("component", "backend_connection"), zap.String("database", string(t))),
		status:       types.StatusDisconnected,
		createdAt:    now,
		lastActivity: now,
	}
}

// BindReconnect registers the embedding connection's Reconnect for use by
// AutoReconnect. Concrete constructors call this once.
func (b *Base) BindReconnect(fn func(ctx context.Context) error) {
	b.reconnectFn = fn
}

// ID returns the unique connection identifier.
func (b *Base) ID() string { return b.id }

// Type returns the backend type.
func (b *Base) Type() types.DatabaseType { return b.dbType }

// Logger returns the connection-scoped logger.
func (b *Base) Logger() *zap.Logger { return b.logger }

// Status returns the current lifecycle status.
func (b *Base) Status() types.ConnectionStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// SetStatus updates the lifecycle status.
func (b *Base) SetStatus(s types.ConnectionStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = s
}

// IsConnected reports whether the bookkeeping status is Connected.
func (b *Base) IsConnected() bool {
	return b.Status() == types.StatusConnected
}

// CreatedAt returns the creation timestamp.
func (b *Base) CreatedAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.createdAt
}

// LastActivity returns the last recorded activity time.
func (b *Base) LastActivity() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastActivity
}

// Touch records activity now.
func (b *Base) Touch() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastActivity = time.Now()
}

// LastError returns the most recent error recorded on the connection.
func (b *Base) LastError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastErr
}

// SetError records err and, when non-nil, moves the status to Error.
func (b *Base) SetError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastErr = err
	if err != nil {
		b.status = types.StatusError
	}
}

// AutoReconnect runs up to maxRetries Reconnect attempts. The delay doubles
// after every failed attempt (retryDelay, 2×, 4×, ...). It returns nil on
// the first success, ctx.Err() on cancellation, and a CONNECTION_CREATION
// error wrapping the last failure otherwise.
func (b *Base) AutoReconnect(ctx context.Context, maxRetries int, retryDelay time.Duration) error {
	if b.reconnectFn == nil {
		return types.NewError(types.ErrConnectionCreation, "connection has no reconnect binding").
			WithDatabase(b.dbType)
	}

	b.SetStatus(types.StatusReconnecting)

	var lastErr error
	delay := retryDelay
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		if err := b.reconnectFn(ctx); err != nil {
			lastErr = err
			b.logger.Warn("reconnect attempt failed",
				zap.String("connection_id", b.id),
				zap.Int("attempt", attempt+1),
				zap.Int("max_retries", maxRetries),
				zap.Error(err),
			)
			continue
		}
		return nil
	}

	err := types.NewErrorf(types.ErrConnectionCreation, "reconnect failed after %d attempts", maxRetries).
		WithDatabase(b.dbType).
		WithCause(lastErr)
	b.SetError(err)
	return err
}
