// Package txn implements the two-phase-commit transaction coordinator used
// to apply a logical write atomically across backends that have no native
// cross-store transaction support.
//
// The coordinator is in-process: it assumes a single coordinating process
// stays alive for the lifetime of a transaction and keeps no persisted log.
// A documented limitation follows from the backends themselves: when the
// commit phase succeeds for some participants and fails for a later one,
// the transaction is marked failed but the already-committed participants
// are NOT undone — there is no compensating-transaction mechanism.
package txn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/storagecore/config"
	"github.com/BaSui01/storagecore/internal/metrics"
	"github.com/BaSui01/storagecore/types"
)

// Participant is the per-backend adapter the coordinator drives. A vote of
// false (or an error, or a phase timeout) from Prepare fails the
// transaction; Commit and Rollback report success the same way.
type Participant interface {
	Type() types.DatabaseType
	Prepare(ctx context.Context) (bool, error)
	Commit(ctx context.Context) (bool, error)
	Rollback(ctx context.Context) (bool, error)
	IsPrepared() bool
}

// Coordinator owns transaction records and drives the 2PC protocol.
type Coordinator struct {
	settings config.CoordinatorSettings
	logger   *zap.Logger
	metrics  *metrics.Collector
	tracer   trace.Tracer

	mu           sync.Mutex
	transactions map[string]*transaction

	stop     chan struct{}
	stopOnce sync.Once
	sweepWG  sync.WaitGroup
}

// Option customizes the coordinator.
type Option func(*Coordinator)

// WithMetrics attaches a Prometheus collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(co *Coordinator) { co.metrics = c }
}

// NewCoordinator creates a coordinator and starts its background timeout
// sweep. Close must be called to stop the sweep.
func NewCoordinator(reg *config.Registry, logger *zap.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{
		settings:     reg.Coordinator,
		logger:       logger.With(zap.String("component", "tx_coordinator")),
		tracer:       otel.Tracer("storagecore/txn"),
		transactions: make(map[string]*transaction),
		stop:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.settings.SweepInterval > 0 {
		c.sweepWG.Add(1)
		go c.sweepLoop()
	}
	return c
}

// Close stops the timeout sweep. In-flight transactions are untouched.
func (c *Coordinator) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
	c.sweepWG.Wait()
}

// =============================================================================
// 🔄 Transaction lifecycle
// =============================================================================

// Begin creates a transaction with the default timeout and returns its id.
func (c *Coordinator) Begin() string {
	return c.BeginWithTimeout(c.settings.DefaultTimeout)
}

// BeginWithTimeout creates a transaction with an explicit timeout.
func (c *Coordinator) BeginWithTimeout(timeout time.Duration) string {
	if timeout <= 0 {
		timeout = c.settings.DefaultTimeout
	}
	t := newTransaction(timeout)

	c.mu.Lock()
	c.transactions[t.id] = t
	c.mu.Unlock()

	c.logger.Debug("transaction begun",
		zap.String("transaction_id", t.id),
		zap.Duration("timeout", timeout),
	)
	return t.id
}

// RegisterParticipant adds a participant to an active transaction. One
// participant per database type.
func (c *Coordinator) RegisterParticipant(id string, p Participant) error {
	t, err := c.transaction(id)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != types.TxActive {
		return types.NewErrorf(types.ErrInvalidStateTransition,
			"cannot register participant in %s transaction %s", t.state, id)
	}
	if _, exists := t.participants[p.Type()]; exists {
		return types.NewErrorf(types.ErrParticipantExists,
			"participant for %s already registered in transaction %s", p.Type(), id)
	}
	t.participants[p.Type()] = p
	t.prepared[p.Type()] = false
	return nil
}

// PreparePhase asks every participant to vote, concurrently, each call
// racing a phase timer. It returns true only when every participant votes
// yes. On any no-vote, error or timeout the transaction is marked failed,
// every participant is rolled back (best-effort, failures logged), and
// false is returned — that all-or-nothing gate is the protocol's atomicity
// guarantee. The error return is reserved for programmer mistakes (unknown
// transaction, wrong state).
func (c *Coordinator) PreparePhase(ctx context.Context, id string) (bool, error) {
	t, err := c.transaction(id)
	if err != nil {
		return false, err
	}

	t.mu.Lock()
	if t.state != types.TxActive {
		t.mu.Unlock()
		return false, types.NewErrorf(types.ErrInvalidStateTransition,
			"prepare requires an active transaction, %s is %s", id, t.state)
	}
	t.mu.Unlock()

	ctx, span := c.tracer.Start(ctx, "txn.prepare",
		trace.WithAttributes(attribute.String("transaction.id", id)))
	defer span.End()
	start := time.Now()
	defer func() { c.metrics.RecordPhase("prepare", time.Since(start)) }()

	participants := t.participantsSnapshot()

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range participants {
		p := p
		g.Go(func() error {
			ok, err := callWithTimeout(gctx, c.settings.PhaseTimeout, p.Prepare)
			if err != nil {
				return types.NewErrorf(types.ErrPrepareTimeout,
					"prepare failed for %s", p.Type()).WithDatabase(p.Type()).WithCause(err)
			}
			if !ok {
				return fmt.Errorf("participant %s voted no", p.Type())
			}
			t.mu.Lock()
			t.prepared[p.Type()] = true
			t.mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		c.logger.Warn("prepare phase failed, rolling back",
			zap.String("transaction_id", id),
			zap.Error(err),
		)
		t.mu.Lock()
		_ = t.transitionLocked(types.TxFailed)
		t.mu.Unlock()
		c.metrics.RecordTransaction("failed")
		c.rollbackParticipants(participants, id)
		return false, nil
	}

	t.mu.Lock()
	_ = t.transitionLocked(types.TxPrepared)
	t.mu.Unlock()

	c.logger.Debug("transaction prepared",
		zap.String("transaction_id", id),
		zap.Int("participants", len(participants)),
	)
	return true, nil
}

// CommitPhase tells every prepared participant to apply, concurrently with
// a phase timeout. On full success the transaction commits. On partial
// failure the transaction is marked failed and already-committed
// participants are NOT undone — the backends offer no distributed rollback
// of a committed write, and inventing a compensating mechanism here would
// only hide the gap.
func (c *Coordinator) CommitPhase(ctx context.Context, id string) (bool, error) {
	t, err := c.transaction(id)
	if err != nil {
		return false, err
	}

	t.mu.Lock()
	if t.state != types.TxPrepared {
		t.mu.Unlock()
		return false, types.NewErrorf(types.ErrInvalidStateTransition,
			"commit requires a prepared transaction, %s is %s", id, t.state)
	}
	t.mu.Unlock()

	ctx, span := c.tracer.Start(ctx, "txn.commit",
		trace.WithAttributes(attribute.String("transaction.id", id)))
	defer span.End()
	start := time.Now()
	defer func() { c.metrics.RecordPhase("commit", time.Since(start)) }()

	participants := t.participantsSnapshot()

	// No errgroup cancellation here: once committing, every participant
	// gets its full chance to apply.
	var wg sync.WaitGroup
	errs := make([]error, len(participants))
	for i, p := range participants {
		i, p := i, p
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := callWithTimeout(ctx, c.settings.PhaseTimeout, p.Commit)
			switch {
			case err != nil:
				errs[i] = types.NewErrorf(types.ErrCommitTimeout,
					"commit failed for %s", p.Type()).WithDatabase(p.Type()).WithCause(err)
			case !ok:
				errs[i] = fmt.Errorf("participant %s reported commit failure", p.Type())
			}
		}()
	}
	wg.Wait()

	var failed []error
	for _, e := range errs {
		if e != nil {
			failed = append(failed, e)
		}
	}
	if len(failed) > 0 {
		for _, e := range failed {
			c.logger.Error("partial commit failure — committed participants are not undone",
				zap.String("transaction_id", id),
				zap.Error(e),
			)
		}
		t.mu.Lock()
		_ = t.transitionLocked(types.TxFailed)
		t.mu.Unlock()
		c.metrics.RecordTransaction("failed")
		return false, nil
	}

	t.mu.Lock()
	_ = t.transitionLocked(types.TxCommitted)
	t.mu.Unlock()
	c.metrics.RecordTransaction("committed")

	c.logger.Info("transaction committed",
		zap.String("transaction_id", id),
		zap.Int("participants", len(participants)),
	)
	return true, nil
}

// RollbackTransaction invokes rollback on every participant concurrently
// (timeout-bounded) and transitions to rolled_back regardless of individual
// outcomes, logging failures. Rolling back a committed transaction is a
// programmer error; rolling back an already rolled-back one is a no-op.
func (c *Coordinator) RollbackTransaction(ctx context.Context, id string) error {
	t, err := c.transaction(id)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.state == types.TxRolledBack {
		t.mu.Unlock()
		return nil
	}
	if t.state == types.TxCommitted {
		t.mu.Unlock()
		return types.NewErrorf(types.ErrInvalidStateTransition,
			"transaction %s is already committed", id)
	}
	t.mu.Unlock()

	ctx, span := c.tracer.Start(ctx, "txn.rollback",
		trace.WithAttributes(attribute.String("transaction.id", id)))
	defer span.End()
	start := time.Now()
	defer func() { c.metrics.RecordPhase("rollback", time.Since(start)) }()

	c.rollbackParticipants(t.participantsSnapshot(), id)

	t.mu.Lock()
	_ = t.transitionLocked(types.TxRolledBack)
	t.mu.Unlock()
	c.metrics.RecordTransaction("rolled_back")

	c.logger.Info("transaction rolled back", zap.String("transaction_id", id))
	return nil
}

// rollbackParticipants runs rollback on every participant concurrently,
// best-effort: timeouts and failures are logged, never propagated.
func (c *Coordinator) rollbackParticipants(participants []Participant, id string) {
	var wg sync.WaitGroup
	for _, p := range participants {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Fresh context: rollback must run even when the caller's
			// context is already cancelled.
			ok, err := callWithTimeout(context.Background(), c.settings.PhaseTimeout, p.Rollback)
			if err != nil {
				c.logger.Error("participant rollback failed",
					zap.String("transaction_id", id),
					zap.String("database", string(p.Type())),
					zap.Error(types.NewError(types.ErrRollbackTimeout, "rollback did not complete").
						WithDatabase(p.Type()).WithCause(err)),
				)
				return
			}
			if !ok {
				c.logger.Error("participant reported rollback failure",
					zap.String("transaction_id", id),
					zap.String("database", string(p.Type())),
				)
			}
		}()
	}
	wg.Wait()
}

// CleanupTransaction removes the transaction's bookkeeping. Safe to call
// more than once.
func (c *Coordinator) CleanupTransaction(id string) {
	c.mu.Lock()
	delete(c.transactions, id)
	c.mu.Unlock()
}

// TransactionStatus returns a snapshot of one transaction.
func (c *Coordinator) TransactionStatus(id string) (types.TransactionStatus, error) {
	t, err := c.transaction(id)
	if err != nil {
		return types.TransactionStatus{}, err
	}
	return t.status(), nil
}

// =============================================================================
// 🚀 Convenience orchestration
// =============================================================================

// ExecuteTwoPhaseCommit runs a complete transaction: begin, register all
// participants, run the caller's write operation, prepare, commit. Any
// failure triggers rollback; cleanup always runs.
func (c *Coordinator) ExecuteTwoPhaseCommit(ctx context.Context, participants []Participant, op func(ctx context.Context, txID string) error) error {
	id := c.Begin()
	defer c.CleanupTransaction(id)

	for _, p := range participants {
		if err := c.RegisterParticipant(id, p); err != nil {
			return err
		}
	}

	if err := op(ctx, id); err != nil {
		if rbErr := c.RollbackTransaction(ctx, id); rbErr != nil {
			c.logger.Error("rollback after failed operation errored",
				zap.String("transaction_id", id), zap.Error(rbErr))
		}
		return fmt.Errorf("transaction operation failed: %w", err)
	}

	ok, err := c.PreparePhase(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return types.NewErrorf(types.ErrPrepareTimeout,
			"prepare phase failed for transaction %s", id).WithRetryable(true)
	}

	ok, err = c.CommitPhase(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return types.NewErrorf(types.ErrCommitTimeout,
			"commit phase failed for transaction %s", id)
	}
	return nil
}

// =============================================================================
// ⏱️ Timeout sweep
// =============================================================================

// sweepLoop periodically force-rolls-back transactions older than their
// timeout. Errors are logged, never thrown into a caller's context.
func (c *Coordinator) sweepLoop() {
	defer c.sweepWG.Done()

	ticker := time.NewTicker(c.settings.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.sweepOnce()
		}
	}
}

func (c *Coordinator) sweepOnce() {
	c.mu.Lock()
	expired := make([]*transaction, 0)
	for _, t := range c.transactions {
		t.mu.Lock()
		if t.state == types.TxActive && time.Since(t.createdAt) > t.timeout {
			expired = append(expired, t)
		}
		t.mu.Unlock()
	}
	c.mu.Unlock()

	for _, t := range expired {
		c.logger.Warn("transaction exceeded timeout, forcing rollback",
			zap.String("transaction_id", t.id),
			zap.Duration("timeout", t.timeout),
		)
		go func(id string) {
			if err := c.RollbackTransaction(context.Background(), id); err != nil {
				c.logger.Error("timeout rollback failed",
					zap.String("transaction_id", id), zap.Error(err))
			}
		}(t.id)
	}
}

// =============================================================================
// 🔧 Internals
// =============================================================================

func (c *Coordinator) transaction(id string) (*transaction, error) {
	c.mu.Lock()
	t, ok := c.transactions[id]
	c.mu.Unlock()
	if !ok {
		return nil, types.NewErrorf(types.ErrTransactionNotFound, "transaction %q not found", id)
	}
	return t, nil
}

// callWithTimeout races a participant call against a timer so a backend
// that ignores context cancellation still cannot stall a phase.
func callWithTimeout(ctx context.Context, d time.Duration, fn func(ctx context.Context) (bool, error)) (bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		ok  bool
		err error
	}
	ch := make(chan result, 1)
	go func() {
		ok, err := fn(callCtx)
		ch <- result{ok: ok, err: err}
	}()

	select {
	case res := <-ch:
		return res.ok, res.err
	case <-callCtx.Done():
		return false, callCtx.Err()
	}
}
