// Package pool implements the per-backend-type connection pool engine:
// acquisition and release with FIFO wait-queue fairness, periodic health
// checking with replacement, adaptive sizing, statistics, and a typed
// lifecycle event bus.
package pool

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/storagecore/backend"
	"github.com/BaSui01/storagecore/config"
	"github.com/BaSui01/storagecore/internal/metrics"
	"github.com/BaSui01/storagecore/types"
)

// closePollInterval is how often a graceful close re-checks the active set.
const closePollInterval = 100 * time.Millisecond

// Manager owns one pool per database type and exposes the public
// acquire/release/resize/close surface. All configuration arrives through
// the injected registry; nothing is read from global state.
type Manager struct {
	registry *config.Registry
	factory  backend.Factory
	logger   *zap.Logger
	metrics  *metrics.Collector
	events   *eventBus

	// mu guards the pools map itself; each poolInfo has its own mutex.
	mu    sync.RWMutex
	pools map[types.DatabaseType]*poolInfo
}

// Option customizes the manager.
type Option func(*Manager)

// WithMetrics attaches a Prometheus collector. Without it, metrics calls
// are no-ops.
func WithMetrics(c *metrics.Collector) Option {
	return func(m *Manager) { m.metrics = c }
}

// NewManager creates a pool manager. The factory decides which concrete
// backend connection each database type gets; tests inject mocks through it.
func NewManager(reg *config.Registry, f backend.Factory, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		registry: reg,
		factory:  f,
		logger:   logger.With(zap.String("component", "connection_pool")),
		pools:    make(map[types.DatabaseType]*poolInfo),
	}
	m.events = newEventBus(logger)
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Subscribe registers a handler for pool lifecycle events. Empty kind or
// database matches everything.
func (m *Manager) Subscribe(kind EventKind, database types.DatabaseType, fn Handler) *Subscription {
	return m.events.subscribe(kind, database, fn)
}

// =============================================================================
// 🏊 Pool lifecycle
// =============================================================================

// InitializePool registers a pool for the given database type and
// pre-creates MinConnections connections (best-effort; creation failures
// are logged and left to the health checker to repair). Overrides of nil
// use the registry settings for the type.
func (m *Manager) InitializePool(ctx context.Context, t types.DatabaseType, overrides *config.Settings) error {
	if !t.IsValid() {
		return types.NewErrorf(types.ErrPoolNotFound, "unknown database type %q", t)
	}

	settings := m.registry.ForType(t)
	if overrides != nil {
		settings = *overrides
	}
	if err := settings.Validate(); err != nil {
		return err
	}

	p := newPoolInfo(t, settings)

	m.mu.Lock()
	if _, exists := m.pools[t]; exists {
		m.mu.Unlock()
		return types.NewErrorf(types.ErrPoolExists, "pool for %s already initialized", t)
	}
	m.pools[t] = p
	m.mu.Unlock()

	for i := 0; i < settings.MinConnections; i++ {
		p.mu.Lock()
		p.total++
		p.mu.Unlock()

		conn, err := m.createConnection(ctx, p)
		if err != nil {
			p.mu.Lock()
			p.total--
			p.mu.Unlock()
			m.logger.Warn("initial connection creation failed",
				zap.String("database", string(t)), zap.Error(err))
			continue
		}
		p.mu.Lock()
		p.idle = append(p.idle, conn)
		p.mu.Unlock()
	}

	m.startLoops(p)

	m.logger.Info("pool initialized",
		zap.String("database", string(t)),
		zap.Int("min_connections", settings.MinConnections),
		zap.Int("max_connections", settings.MaxConnections),
		zap.Duration("acquire_timeout", settings.AcquireTimeout),
	)
	m.events.publish(Event{Kind: EventPoolInitialized, Database: t})
	return nil
}

// =============================================================================
// 🎯 Acquire / release
// =============================================================================

// GetConnection acquires a connection using the pool's configured
// AcquireTimeout for queueing.
func (m *Manager) GetConnection(ctx context.Context, t types.DatabaseType) (backend.Connection, error) {
	p, err := m.pool(t)
	if err != nil {
		return nil, err
	}
	return m.acquire(ctx, p, p.settings.AcquireTimeout)
}

// GetConnectionTimeout acquires a connection with a caller-supplied queue
// timeout.
func (m *Manager) GetConnectionTimeout(ctx context.Context, t types.DatabaseType, timeout time.Duration) (backend.Connection, error) {
	p, err := m.pool(t)
	if err != nil {
		return nil, err
	}
	return m.acquire(ctx, p, timeout)
}

func (m *Manager) acquire(ctx context.Context, p *poolInfo, timeout time.Duration) (backend.Connection, error) {
	start := time.Now()

	for {
		p.mu.Lock()
		if p.closing {
			p.mu.Unlock()
			return nil, types.NewErrorf(types.ErrPoolClosed, "pool %s is closing", p.database).
				WithDatabase(p.database)
		}

		// Fast path: reuse an idle connection.
		if conn := p.popIdleLocked(); conn != nil {
			p.mu.Unlock()

			conn, ok := m.verifyOrRecover(ctx, p, conn)
			if !ok {
				// Destroyed; capacity freed up, try again.
				continue
			}
			return m.checkout(p, conn, start)
		}

		// Spare capacity: create. Capacity is reserved before unlocking so
		// concurrent acquires cannot overshoot MaxConnections.
		if p.total < p.settings.MaxConnections {
			p.total++
			p.mu.Unlock()

			conn, err := m.createConnection(ctx, p)
			if err != nil {
				p.mu.Lock()
				p.total--
				p.mu.Unlock()
				return nil, err
			}

			// Older requests may have queued while the connection was being
			// built. They were here first: hand the new connection to the
			// queue head and line up behind it.
			p.mu.Lock()
			if len(p.queue) > 0 && !p.closing {
				p.idle = append(p.idle, conn)
				p.drainQueueLocked()
				p.mu.Unlock()
				continue
			}
			p.mu.Unlock()
			return m.checkout(p, conn, start)
		}

		// Saturated: queue.
		w := newWaiter(p.database)
		w.timer = time.AfterFunc(timeout, func() { m.expireWaiter(p, w) })
		p.queue = append(p.queue, w)
		queueLen := len(p.queue)
		p.mu.Unlock()

		m.logger.Debug("acquire queued",
			zap.String("database", string(p.database)),
			zap.String("waiter_id", w.id),
			zap.Int("queue_length", queueLen),
		)
		go m.autoOptimize(context.Background(), p.database)

		return m.await(ctx, p, w)
	}
}

// await suspends the caller until its waiter is fulfilled, times out, is
// cancelled, or the pool closes.
func (m *Manager) await(ctx context.Context, p *poolInfo, w *waiter) (backend.Connection, error) {
	select {
	case res := <-w.ch:
		if res.err != nil {
			return nil, res.err
		}
		m.metrics.RecordAcquire(string(p.database), time.Since(w.enqueuedAt))
		m.events.publish(Event{
			Kind:         EventConnectionAcquired,
			Database:     p.database,
			ConnectionID: res.conn.ID(),
		})
		res.conn.Touch()
		return res.conn, nil

	case <-ctx.Done():
		p.mu.Lock()
		won := p.removeWaiterLocked(w)
		p.mu.Unlock()
		if won {
			return nil, ctx.Err()
		}
		// Lost the race: a result is already (or about to be) in the
		// channel. If it carries a connection, hand it back to the pool.
		res := <-w.ch
		if res.conn != nil {
			_ = m.ReleaseConnection(context.Background(), res.conn)
		}
		return nil, ctx.Err()
	}
}

// expireWaiter fires when a queued request exceeds its timeout.
func (m *Manager) expireWaiter(p *poolInfo, w *waiter) {
	p.mu.Lock()
	if !p.removeWaiterLocked(w) {
		p.mu.Unlock()
		return
	}
	p.stats.TotalTimeouts++
	waited := time.Since(w.enqueuedAt)
	p.mu.Unlock()

	m.metrics.RecordAcquireTimeout(string(p.database))
	m.events.publish(Event{
		Kind:     EventQueueTimeout,
		Database: p.database,
		Payload:  map[string]any{"waited": waited.String()},
	})

	w.ch <- acquireResult{err: types.NewErrorf(types.ErrAcquisitionTimeout,
		"acquire timed out after %v waiting for a %s connection", waited.Round(time.Millisecond), p.database).
		WithDatabase(p.database).
		WithRetryable(true)}
}

// checkout moves a verified connection into the active set and finishes the
// acquire bookkeeping.
func (m *Manager) checkout(p *poolInfo, conn backend.Connection, start time.Time) (backend.Connection, error) {
	p.mu.Lock()
	if p.closing {
		p.mu.Unlock()
		m.destroyConnection(context.Background(), p, conn)
		return nil, types.NewErrorf(types.ErrPoolClosed, "pool %s is closing", p.database).
			WithDatabase(p.database)
	}
	p.active[conn.ID()] = conn
	p.recordAcquireLocked(time.Since(start))
	p.mu.Unlock()

	conn.Touch()
	m.metrics.RecordAcquire(string(p.database), time.Since(start))
	m.events.publish(Event{
		Kind:         EventConnectionAcquired,
		Database:     p.database,
		ConnectionID: conn.ID(),
	})
	return conn, nil
}

// ReleaseConnection returns an active connection to its pool. A healthy
// connection goes back to the idle list and the wait queue is drained in
// FIFO order; an unhealthy one gets one bounded reconnect sequence and is
// destroyed on failure, with a replacement built for any queued waiters.
func (m *Manager) ReleaseConnection(ctx context.Context, conn backend.Connection) error {
	p, err := m.pool(conn.Type())
	if err != nil {
		return err
	}

	p.mu.Lock()
	if _, ok := p.active[conn.ID()]; !ok {
		p.mu.Unlock()
		m.logger.Warn("release of connection not in active set",
			zap.String("database", string(p.database)),
			zap.String("connection_id", conn.ID()),
		)
		return errors.New("connection is not checked out from this pool")
	}
	delete(p.active, conn.ID())
	p.stats.TotalReleased++
	p.touchLocked()
	closing := p.closing
	p.mu.Unlock()

	m.metrics.RecordRelease(string(p.database))

	if closing {
		m.destroyConnection(ctx, p, conn)
		return nil
	}

	conn, ok := m.verifyOrRecover(ctx, p, conn)
	if !ok {
		// Destroyed. The freed capacity belongs to the oldest queued
		// request, not to whichever acquire arrives next.
		m.replaceForWaiters(ctx, p)
		return nil
	}

	p.mu.Lock()
	var served []fulfilled
	if len(p.idle) < p.settings.MaxConnections {
		p.idle = append(p.idle, conn)
		served = p.drainQueueLocked()
		p.mu.Unlock()
	} else {
		p.mu.Unlock()
		m.destroyConnection(ctx, p, conn)
		return nil
	}

	m.events.publish(Event{
		Kind:         EventConnectionReleased,
		Database:     p.database,
		ConnectionID: conn.ID(),
	})
	for _, f := range served {
		m.logger.Debug("queued acquire fulfilled",
			zap.String("database", string(p.database)),
			zap.String("waiter_id", f.waiter.id),
			zap.String("connection_id", f.conn.ID()),
		)
	}
	return nil
}

// =============================================================================
// 🔍 Status queries
// =============================================================================

// PoolStatus returns a point-in-time snapshot of one pool.
func (m *Manager) PoolStatus(t types.DatabaseType) (types.PoolStatus, error) {
	p, err := m.pool(t)
	if err != nil {
		return types.PoolStatus{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked(), nil
}

// QueueInfo returns a snapshot of a pool's wait queue.
func (m *Manager) QueueInfo(t types.DatabaseType) (types.QueueInfo, error) {
	p, err := m.pool(t)
	if err != nil {
		return types.QueueInfo{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	info := types.QueueInfo{Type: t, Length: len(p.queue)}
	for _, w := range p.queue {
		info.Items = append(info.Items, types.QueueItemInfo{ID: w.id, EnqueuedAt: w.enqueuedAt})
	}
	if len(p.queue) > 0 {
		info.OldestWait = time.Since(p.queue[0].enqueuedAt)
	}
	return info, nil
}

// ResetStatistics zeroes a pool's counters.
func (m *Manager) ResetStatistics(t types.DatabaseType) error {
	p, err := m.pool(t)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.stats = types.PoolStatistics{}
	p.mu.Unlock()
	return nil
}

// =============================================================================
// 🧹 Cleanup / close
// =============================================================================

// CleanupIdleConnections destroys idle connections that have been inactive
// longer than maxIdle (the pool's MaxIdleTime when maxIdle <= 0), never
// shrinking below MinConnections. It returns the number destroyed.
func (m *Manager) CleanupIdleConnections(ctx context.Context, t types.DatabaseType, maxIdle time.Duration) (int, error) {
	p, err := m.pool(t)
	if err != nil {
		return 0, err
	}
	if maxIdle <= 0 {
		maxIdle = p.settings.MaxIdleTime
	}
	cutoff := time.Now().Add(-maxIdle)

	p.mu.Lock()
	var stale []backend.Connection
	kept := p.idle[:0]
	for _, conn := range p.idle {
		if conn.LastActivity().Before(cutoff) && p.total-len(stale) > p.settings.MinConnections {
			stale = append(stale, conn)
		} else {
			kept = append(kept, conn)
		}
	}
	p.idle = kept
	p.mu.Unlock()

	for _, conn := range stale {
		m.destroyConnection(ctx, p, conn)
	}
	if len(stale) > 0 {
		m.events.publish(Event{
			Kind:     EventIdleCleanup,
			Database: t,
			Payload:  map[string]any{"destroyed": len(stale)},
		})
	}
	return len(stale), nil
}

// ClosePool shuts one pool down. Periodic tasks stop first. A forced close
// destroys every idle and active connection immediately; a graceful close
// rejects the wait queue, waits for active connections to drain (bounded by
// AcquireTimeout), then force-destroys whatever remains. Per-connection
// errors are logged, never propagated, so close always runs to completion.
func (m *Manager) ClosePool(ctx context.Context, t types.DatabaseType, force bool) error {
	p, err := m.pool(t)
	if err != nil {
		return err
	}

	p.stopOnce.Do(func() { close(p.stop) })
	p.loops.Wait()

	p.mu.Lock()
	p.closing = true

	rejected := p.queue
	p.queue = nil
	for _, w := range rejected {
		if w.done {
			continue
		}
		w.done = true
		if w.timer != nil {
			w.timer.Stop()
		}
		w.ch <- acquireResult{err: types.NewErrorf(types.ErrPoolClosed,
			"pool %s is closing", t).WithDatabase(t)}
	}

	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	for _, conn := range idle {
		m.destroyConnection(ctx, p, conn)
	}

	if !force {
		deadline := time.Now().Add(p.settings.AcquireTimeout)
		for {
			p.mu.Lock()
			remaining := len(p.active)
			p.mu.Unlock()
			if remaining == 0 || time.Now().After(deadline) {
				break
			}
			select {
			case <-ctx.Done():
				// Caller gave up waiting; fall through to forced teardown.
			case <-time.After(closePollInterval):
				continue
			}
			break
		}
	}

	p.mu.Lock()
	actives := make([]backend.Connection, 0, len(p.active))
	for _, conn := range p.active {
		actives = append(actives, conn)
	}
	p.active = make(map[string]backend.Connection)
	p.mu.Unlock()

	for _, conn := range actives {
		m.destroyConnection(ctx, p, conn)
	}

	m.mu.Lock()
	delete(m.pools, t)
	m.mu.Unlock()

	m.logger.Info("pool closed",
		zap.String("database", string(t)),
		zap.Bool("force", force),
		zap.Int("queue_rejected", len(rejected)),
	)
	m.events.publish(Event{Kind: EventPoolClosed, Database: t, Payload: map[string]any{"force": force}})
	return nil
}

// CloseAll closes every pool. Individual close errors are joined.
func (m *Manager) CloseAll(ctx context.Context, force bool) error {
	m.mu.RLock()
	dbs := make([]types.DatabaseType, 0, len(m.pools))
	for t := range m.pools {
		dbs = append(dbs, t)
	}
	m.mu.RUnlock()

	var errs []error
	for _, t := range dbs {
		if err := m.ClosePool(ctx, t, force); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// =============================================================================
// 🔧 Internals
// =============================================================================

func (m *Manager) pool(t types.DatabaseType) (*poolInfo, error) {
	m.mu.RLock()
	p, ok := m.pools[t]
	m.mu.RUnlock()
	if !ok {
		return nil, types.NewErrorf(types.ErrPoolNotFound, "no pool initialized for database type %q", t)
	}
	return p, nil
}

// createConnection builds and connects a new backend connection. The caller
// must have reserved capacity (p.total) beforehand and must give it back on
// error.
func (m *Manager) createConnection(ctx context.Context, p *poolInfo) (backend.Connection, error) {
	conn, err := m.factory.New(p.database, m.registry)
	if err == nil {
		err = conn.Connect(ctx)
	}
	if err != nil {
		p.mu.Lock()
		p.stats.TotalFailed++
		p.mu.Unlock()
		m.metrics.RecordCreationFailure(string(p.database))
		m.events.publish(Event{Kind: EventConnectionError, Database: p.database, Err: err})
		if types.GetErrorCode(err) == "" {
			err = types.NewError(types.ErrConnectionCreation, "connection creation failed").
				WithDatabase(p.database).
				WithCause(err)
		}
		return nil, err
	}

	p.mu.Lock()
	p.stats.TotalCreated++
	p.touchLocked()
	p.mu.Unlock()

	m.metrics.RecordCreated(string(p.database))
	m.events.publish(Event{
		Kind:         EventConnectionCreated,
		Database:     p.database,
		ConnectionID: conn.ID(),
	})
	return conn, nil
}

// destroyConnection disconnects conn and releases its capacity. Every
// created connection passes through here exactly once; callers must have
// already removed it from the idle list and active set.
func (m *Manager) destroyConnection(ctx context.Context, p *poolInfo, conn backend.Connection) {
	if err := conn.Disconnect(ctx); err != nil {
		m.logger.Warn("connection disconnect failed",
			zap.String("database", string(p.database)),
			zap.String("connection_id", conn.ID()),
			zap.Error(err),
		)
	}

	p.mu.Lock()
	p.total--
	p.stats.TotalDestroyed++
	empty := p.total == 0
	p.mu.Unlock()

	m.metrics.RecordDestroyed(string(p.database))
	m.events.publish(Event{
		Kind:         EventConnectionDestroyed,
		Database:     p.database,
		ConnectionID: conn.ID(),
	})
	if empty {
		m.events.publish(Event{Kind: EventPoolEmpty, Database: p.database})
	}
}

// replaceForWaiters builds one replacement connection when capacity opened
// up while requests are queued, handing it to the queue head. Creation
// failures are logged; the waiter keeps its place and times out normally.
func (m *Manager) replaceForWaiters(ctx context.Context, p *poolInfo) {
	p.mu.Lock()
	if p.closing || len(p.queue) == 0 || p.total >= p.settings.MaxConnections {
		p.mu.Unlock()
		return
	}
	p.total++
	p.mu.Unlock()

	conn, err := m.createConnection(ctx, p)
	if err != nil {
		p.mu.Lock()
		p.total--
		p.mu.Unlock()
		m.logger.Warn("replacement for queued acquire failed",
			zap.String("database", string(p.database)),
			zap.Error(err),
		)
		return
	}

	p.mu.Lock()
	p.idle = append(p.idle, conn)
	served := p.drainQueueLocked()
	p.mu.Unlock()

	for _, f := range served {
		m.logger.Debug("queued acquire fulfilled by replacement",
			zap.String("database", string(p.database)),
			zap.String("waiter_id", f.waiter.id),
			zap.String("connection_id", f.conn.ID()),
		)
	}
}

// verifyOrRecover health-checks a connection that is owned by the caller
// (in neither the idle list nor the active set). Unhealthy connections get
// one bounded, exponentially backed-off reconnect sequence; on failure the
// connection is destroyed and false is returned.
func (m *Manager) verifyOrRecover(ctx context.Context, p *poolInfo, conn backend.Connection) (backend.Connection, bool) {
	probeCtx, cancel := context.WithTimeout(ctx, p.settings.HealthCheckTimeout)
	healthy := conn.IsHealthy(probeCtx)
	cancel()
	if healthy {
		return conn, true
	}

	m.logger.Warn("unhealthy connection, attempting reconnect",
		zap.String("database", string(p.database)),
		zap.String("connection_id", conn.ID()),
	)
	if err := conn.AutoReconnect(ctx, p.settings.RetryAttempts, p.settings.RetryDelay); err != nil {
		m.events.publish(Event{
			Kind:         EventConnectionError,
			Database:     p.database,
			ConnectionID: conn.ID(),
			Err: types.NewError(types.ErrConnectionHealth, "connection failed health recovery").
				WithDatabase(p.database).
				WithCause(err),
		})
		m.destroyConnection(ctx, p, conn)
		return nil, false
	}
	return conn, true
}
