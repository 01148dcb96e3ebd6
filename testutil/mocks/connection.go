// =============================================================================
// 🔌 MockConnection / MockFactory — backend test doubles
// =============================================================================
// Mock backend connection with error injection and call recording, plus a
// factory producing them, for pool and coordinator tests.
//
// Usage:
//
//	f := mocks.NewFactory()
//	mgr := pool.NewManager(reg, f, zap.NewNop())
//	f.Created()[0].SetHealthy(false) // inject a health failure
// =============================================================================
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/storagecore/backend"
	"github.com/BaSui01/storagecore/config"
	"github.com/BaSui01/storagecore/types"
)

// Connection is a mock backend.Connection.
type Connection struct {
	id     string
	dbType types.DatabaseType

	mu           sync.Mutex
	status       types.ConnectionStatus
	healthy      bool
	createdAt    time.Time
	lastActivity time.Time

	// Error injection
	connectErr    error
	reconnectErr  error
	disconnectErr error

	// Call recording
	connectCalls    int
	disconnectCalls int
	reconnectCalls  int
	healthCalls     int
}

var _ backend.Connection = (*Connection)(nil)

// NewConnection creates a healthy, disconnected mock connection.
func NewConnection(t types.DatabaseType) *Connection {
	now := time.Now()
	return &Connection{
		id:           uuid.NewString(),
		dbType:       t,
		status:       types.StatusDisconnected,
		healthy:      true,
		createdAt:    now,
		lastActivity: now,
	}
}

// SetHealthy flips the health probe result.
func (c *Connection) SetHealthy(healthy bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.healthy = healthy
}

// SetConnectErr injects a Connect failure.
func (c *Connection) SetConnectErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectErr = err
}

// SetReconnectErr injects a Reconnect failure.
func (c *Connection) SetReconnectErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnectErr = err
}

// ConnectCalls returns how many times Connect ran.
func (c *Connection) ConnectCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectCalls
}

// DisconnectCalls returns how many times Disconnect ran.
func (c *Connection) DisconnectCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnectCalls
}

// ReconnectCalls returns how many times Reconnect ran.
func (c *Connection) ReconnectCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnectCalls
}

// Connect implements backend.Connection.
func (c *Connection) Connect(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectCalls++
	if c.connectErr != nil {
		c.status = types.StatusError
		return c.connectErr
	}
	c.status = types.StatusConnected
	return nil
}

// Disconnect implements backend.Connection.
func (c *Connection) Disconnect(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCalls++
	c.status = types.StatusDisconnected
	return c.disconnectErr
}

// IsConnected implements backend.Connection.
func (c *Connection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status == types.StatusConnected
}

// IsHealthy implements backend.Connection.
func (c *Connection) IsHealthy(context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.healthCalls++
	return c.healthy
}

// Reconnect implements backend.Connection.
func (c *Connection) Reconnect(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnectCalls++
	if c.reconnectErr != nil {
		c.status = types.StatusError
		return c.reconnectErr
	}
	// Health is scripted, not healed: tests flip it through SetHealthy.
	c.status = types.StatusConnected
	return nil
}

// AutoReconnect implements backend.Connection with a single immediate
// attempt per retry and no backoff sleeps, keeping tests fast.
func (c *Connection) AutoReconnect(ctx context.Context, maxRetries int, _ time.Duration) error {
	var lastErr error
	for i := 0; i < maxRetries; i++ {
		if err := c.Reconnect(ctx); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return types.NewErrorf(types.ErrConnectionCreation, "mock reconnect failed after %d attempts", maxRetries).
		WithDatabase(c.dbType).
		WithCause(lastErr)
}

// ID implements backend.Connection.
func (c *Connection) ID() string { return c.id }

// Type implements backend.Connection.
func (c *Connection) Type() types.DatabaseType { return c.dbType }

// Status implements backend.Connection.
func (c *Connection) Status() types.ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// CreatedAt implements backend.Connection.
func (c *Connection) CreatedAt() time.Time { return c.createdAt }

// LastActivity implements backend.Connection.
func (c *Connection) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// Touch implements backend.Connection.
func (c *Connection) Touch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActivity = time.Now()
}

// SetLastActivity backdates the activity timestamp for idle-cleanup tests.
func (c *Connection) SetLastActivity(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActivity = t
}

// Factory is a mock backend.Factory recording every connection it makes.
type Factory struct {
	mu        sync.Mutex
	created   []*Connection
	createErr error
}

var _ backend.Factory = (*Factory)(nil)

// NewFactory creates a factory producing healthy mock connections.
func NewFactory() *Factory {
	return &Factory{}
}

// SetCreateErr injects a factory failure.
func (f *Factory) SetCreateErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createErr = err
}

// Created returns every connection the factory has produced, in order.
func (f *Factory) Created() []*Connection {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Connection, len(f.created))
	copy(out, f.created)
	return out
}

// New implements backend.Factory.
func (f *Factory) New(t types.DatabaseType, _ *config.Registry) (backend.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	conn := NewConnection(t)
	f.created = append(f.created, conn)
	return conn, nil
}
