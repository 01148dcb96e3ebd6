// Package storagecore provides a top-level convenience entry point wiring
// the connection pools and the transaction coordinator together with minimal
// boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/storagecore"
//
//	client, err := storagecore.New(storagecore.WithConfigPath("storagecore.yaml"))
//	client, err := storagecore.New(storagecore.WithRegistry(reg))
//
// This is a thin wrapper around the config, pool and txn packages; use them
// directly when you need finer control.
package storagecore

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/BaSui01/storagecore/backend"
	"github.com/BaSui01/storagecore/backend/factory"
	"github.com/BaSui01/storagecore/config"
	"github.com/BaSui01/storagecore/internal/metrics"
	"github.com/BaSui01/storagecore/pool"
	"github.com/BaSui01/storagecore/txn"
	"github.com/BaSui01/storagecore/types"
)

// Client bundles the pool manager and the transaction coordinator built from
// one configuration registry.
type Client struct {
	Registry     *config.Registry
	Pools        *pool.Manager
	Transactions *txn.Coordinator

	logger *zap.Logger
}

type settings struct {
	configPath string
	registry   *config.Registry
	factory    backend.Factory
	logger     *zap.Logger
	registerer prometheus.Registerer
}

// Option configures the client created by [New].
type Option func(*settings)

// WithConfigPath loads the registry from a YAML file plus environment
// overrides. Ignored when WithRegistry is also given.
func WithConfigPath(path string) Option {
	return func(s *settings) { s.configPath = path }
}

// WithRegistry supplies a pre-built configuration registry.
func WithRegistry(reg *config.Registry) Option {
	return func(s *settings) { s.registry = reg }
}

// WithFactory overrides the connection factory. Tests substitute mocks here.
func WithFactory(f backend.Factory) Option {
	return func(s *settings) { s.factory = f }
}

// WithLogger sets a custom zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithMetrics enables Prometheus metrics on the given registerer.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(s *settings) { s.registerer = reg }
}

// New builds a client: configuration, pool manager and coordinator. Pools
// are registered lazily through [Client.InitializePools].
func New(opts ...Option) (*Client, error) {
	var s settings
	for _, opt := range opts {
		opt(&s)
	}

	if s.logger == nil {
		s.logger = zap.NewNop()
	}

	reg := s.registry
	if reg == nil {
		loader := config.NewLoader()
		if s.configPath != "" {
			loader = loader.WithConfigPath(s.configPath)
		}
		var err error
		reg, err = loader.Load()
		if err != nil {
			return nil, err
		}
	} else if err := reg.Validate(); err != nil {
		return nil, err
	}

	f := s.factory
	if f == nil {
		f = factory.New(s.logger)
	}

	var collector *metrics.Collector
	if s.registerer != nil {
		collector = metrics.NewCollector("storagecore", s.registerer, s.logger)
	}

	return &Client{
		Registry:     reg,
		Pools:        pool.NewManager(reg, f, s.logger, pool.WithMetrics(collector)),
		Transactions: txn.NewCoordinator(reg, s.logger, txn.WithMetrics(collector)),
		logger:       s.logger,
	}, nil
}

// InitializePools registers a pool for each given database type using the
// registry settings. With no types given, every known type gets a pool.
func (c *Client) InitializePools(ctx context.Context, dbs ...types.DatabaseType) error {
	if len(dbs) == 0 {
		dbs = types.AllDatabaseTypes()
	}
	var errs []error
	for _, t := range dbs {
		if err := c.Pools.InitializePool(ctx, t, nil); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewPoolParticipant creates a staged-write participant for a backend
// without native transactions.
func (c *Client) NewPoolParticipant(t types.DatabaseType) *txn.PoolParticipant {
	return txn.NewPoolParticipant(c.Pools, t, c.logger)
}

// NewRelationalParticipant creates a participant backed by a native
// Postgres transaction.
func (c *Client) NewRelationalParticipant() *txn.RelationalParticipant {
	return txn.NewRelationalParticipant(c.Pools, c.logger)
}

// Close shuts the coordinator down and closes every pool.
func (c *Client) Close(ctx context.Context, force bool) error {
	c.Transactions.Close()
	return c.Pools.CloseAll(ctx, force)
}
