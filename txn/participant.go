package txn

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/storagecore/backend"
	"github.com/BaSui01/storagecore/pool"
	"github.com/BaSui01/storagecore/types"
)

// Op is one staged operation against a held backend connection. Callers
// stage an apply Op for the commit phase and, where the backend permits it,
// a compensating undo Op for rollback. Backends without a cheap inverse
// stage a nil undo; rollback then simply discards the staged work, which is
// correct because nothing was applied before commit.
type Op func(ctx context.Context, conn backend.Connection) error

type stagedOp struct {
	apply Op
	undo  Op
}

// PoolParticipant adapts a pooled backend without native transactions
// (vector, graph, key-value) to the coordinator's contract. Writes are
// staged between Begin and Prepare; Prepare acquires and health-checks a
// connection (the vote); Commit applies the staged operations; Rollback
// runs whatever undo operations were staged and releases the connection.
type PoolParticipant struct {
	pools    *pool.Manager
	database types.DatabaseType
	logger   *zap.Logger

	mu       sync.Mutex
	ops      []stagedOp
	applied  int
	conn     backend.Connection
	prepared bool
}

var _ Participant = (*PoolParticipant)(nil)

// NewPoolParticipant creates a participant for the given database type,
// drawing connections from the shared pool manager.
func NewPoolParticipant(pools *pool.Manager, t types.DatabaseType, logger *zap.Logger) *PoolParticipant {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PoolParticipant{
		pools:    pools,
		database: t,
		logger: logger.With(
			zap.String("component", "tx_participant"),
			zap.String("database", string(t)),
		),
	}
}

// Type implements Participant.
func (p *PoolParticipant) Type() types.DatabaseType { return p.database }

// Stage queues an apply operation and its compensating undo (undo may be
// nil). Staging after Prepare is a programmer error and is ignored with a
// log.
func (p *PoolParticipant) Stage(apply, undo Op) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.prepared {
		p.logger.Error("stage called after prepare, operation dropped")
		return
	}
	p.ops = append(p.ops, stagedOp{apply: apply, undo: undo})
}

// Prepare acquires a connection and verifies it is usable. A healthy
// connection in hand is this backend's yes vote; no writes happen yet.
func (p *PoolParticipant) Prepare(ctx context.Context) (bool, error) {
	conn, err := p.pools.GetConnection(ctx, p.database)
	if err != nil {
		return false, err
	}
	if !conn.IsHealthy(ctx) {
		_ = p.pools.ReleaseConnection(ctx, conn)
		return false, types.NewError(types.ErrConnectionHealth, "connection unhealthy at prepare").
			WithDatabase(p.database)
	}

	p.mu.Lock()
	p.conn = conn
	p.prepared = true
	p.mu.Unlock()
	return true, nil
}

// Commit applies the staged operations in order, then releases the
// connection. A failure part-way through leaves earlier operations applied;
// the coordinator surfaces that as a partial commit failure.
func (p *PoolParticipant) Commit(ctx context.Context) (bool, error) {
	p.mu.Lock()
	if !p.prepared || p.conn == nil {
		p.mu.Unlock()
		return false, errors.New("commit before successful prepare")
	}
	conn := p.conn
	ops := p.ops
	p.mu.Unlock()

	for i, op := range ops {
		if err := op.apply(ctx, conn); err != nil {
			p.mu.Lock()
			p.applied = i
			p.mu.Unlock()
			p.logger.Error("staged operation failed during commit",
				zap.Int("operation", i), zap.Error(err))
			return false, err
		}
	}

	p.mu.Lock()
	p.applied = len(ops)
	p.conn = nil
	p.mu.Unlock()

	_ = p.pools.ReleaseConnection(ctx, conn)
	return true, nil
}

// Rollback undoes whatever was applied (best-effort, newest first) and
// releases the held connection. With nothing applied it simply discards
// the staged operations.
func (p *PoolParticipant) Rollback(ctx context.Context) (bool, error) {
	p.mu.Lock()
	conn := p.conn
	ops := p.ops
	applied := p.applied
	p.conn = nil
	p.ops = nil
	p.applied = 0
	p.prepared = false
	p.mu.Unlock()

	ok := true
	if conn != nil {
		for i := applied - 1; i >= 0; i-- {
			if ops[i].undo == nil {
				continue
			}
			if err := ops[i].undo(ctx, conn); err != nil {
				ok = false
				p.logger.Error("undo operation failed during rollback",
					zap.Int("operation", i), zap.Error(err))
			}
		}
		_ = p.pools.ReleaseConnection(ctx, conn)
	}
	return ok, nil
}

// IsPrepared implements Participant.
func (p *PoolParticipant) IsPrepared() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.prepared
}
