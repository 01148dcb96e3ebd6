// Package rediskv implements the key-value cache backend connection on top
// of go-redis.
package rediskv

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/storagecore/backend"
	"github.com/BaSui01/storagecore/config"
	"github.com/BaSui01/storagecore/types"
)

// Connection is a pooled handle to one Redis server.
//
// go-redis multiplexes its own socket pool internally; a pooled Connection
// here is one client, so pool sizing controls how many independent clients
// the rest of the system may hold at once.
type Connection struct {
	*backend.Base

	cfg    config.RedisSettings
	client *redis.Client
}

var _ backend.Connection = (*Connection)(nil)

// New creates a redis connection that dials cfg.Addr on Connect.
func New(cfg config.RedisSettings, logger *zap.Logger) *Connection {
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}
	c := &Connection{
		Base: backend.NewBase(types.DatabaseRedis, logger),
		cfg:  cfg,
	}
	c.BindReconnect(c.Reconnect)
	return c
}

// Client returns the go-redis client. Valid only while connected.
func (c *Connection) Client() *redis.Client { return c.client }

// Connect dials the server and verifies it answers PING.
func (c *Connection) Connect(ctx context.Context) error {
	c.SetStatus(types.StatusConnecting)

	client := redis.NewClient(&redis.Options{
		Addr:     c.cfg.Addr,
		Password: c.cfg.Password,
		DB:       c.cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		err = types.NewError(types.ErrConnectionCreation, "redis unreachable").
			WithDatabase(types.DatabaseRedis).
			WithCause(err)
		c.SetError(err)
		return err
	}

	c.client = client
	c.SetStatus(types.StatusConnected)
	c.Touch()
	return nil
}

// Disconnect closes the client.
func (c *Connection) Disconnect(context.Context) error {
	defer func() {
		c.client = nil
		c.SetStatus(types.StatusDisconnected)
	}()

	if c.client != nil {
		if err := c.client.Close(); err != nil {
			return fmt.Errorf("redis close failed: %w", err)
		}
	}
	return nil
}

// IsHealthy pings the server.
func (c *Connection) IsHealthy(ctx context.Context) bool {
	if c.client == nil {
		return false
	}
	return c.client.Ping(ctx).Err() == nil
}

// Reconnect closes and redials.
func (c *Connection) Reconnect(ctx context.Context) error {
	_ = c.Disconnect(ctx)
	return c.Connect(ctx)
}
