package txn

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/storagecore/backend"
	"github.com/BaSui01/storagecore/backend/relational"
	"github.com/BaSui01/storagecore/pool"
	"github.com/BaSui01/storagecore/types"
)

// Stmt is one staged statement executed inside the relational transaction.
type Stmt func(tx *gorm.DB) error

// RelationalParticipant adapts the Postgres backend to the coordinator's
// contract using a real database transaction: Prepare begins the
// transaction and executes every staged statement (the database validates
// the writes before the vote), Commit and Rollback map directly onto the
// native operations. This is the only backend where prepare gives a hard
// durability guarantee.
type RelationalParticipant struct {
	pools  *pool.Manager
	logger *zap.Logger

	mu       sync.Mutex
	stmts    []Stmt
	conn     backend.Connection
	tx       *gorm.DB
	prepared bool
}

var _ Participant = (*RelationalParticipant)(nil)

// NewRelationalParticipant creates a participant drawing Postgres
// connections from the shared pool manager.
func NewRelationalParticipant(pools *pool.Manager, logger *zap.Logger) *RelationalParticipant {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RelationalParticipant{
		pools: pools,
		logger: logger.With(
			zap.String("component", "tx_participant"),
			zap.String("database", string(types.DatabasePostgres)),
		),
	}
}

// Type implements Participant.
func (p *RelationalParticipant) Type() types.DatabaseType { return types.DatabasePostgres }

// Stage queues a statement for execution inside the transaction.
func (p *RelationalParticipant) Stage(stmt Stmt) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.prepared {
		p.logger.Error("stage called after prepare, statement dropped")
		return
	}
	p.stmts = append(p.stmts, stmt)
}

// Prepare acquires a connection, opens a database transaction and runs
// every staged statement inside it. Any statement failure rolls the
// database transaction back and votes no.
func (p *RelationalParticipant) Prepare(ctx context.Context) (bool, error) {
	conn, err := p.pools.GetConnection(ctx, types.DatabasePostgres)
	if err != nil {
		return false, err
	}

	rc, ok := conn.(*relational.Connection)
	if !ok {
		_ = p.pools.ReleaseConnection(ctx, conn)
		return false, errors.New("postgres pool returned a non-relational connection")
	}

	tx := rc.DB().WithContext(ctx).Begin()
	if tx.Error != nil {
		_ = p.pools.ReleaseConnection(ctx, conn)
		return false, tx.Error
	}

	p.mu.Lock()
	stmts := p.stmts
	p.mu.Unlock()

	for i, stmt := range stmts {
		if err := stmt(tx); err != nil {
			p.logger.Warn("staged statement failed during prepare",
				zap.Int("statement", i), zap.Error(err))
			tx.Rollback()
			_ = p.pools.ReleaseConnection(ctx, conn)
			return false, nil
		}
	}

	p.mu.Lock()
	p.conn = conn
	p.tx = tx
	p.prepared = true
	p.mu.Unlock()
	return true, nil
}

// Commit commits the native transaction and releases the connection.
func (p *RelationalParticipant) Commit(ctx context.Context) (bool, error) {
	p.mu.Lock()
	if !p.prepared || p.tx == nil {
		p.mu.Unlock()
		return false, errors.New("commit before successful prepare")
	}
	tx := p.tx
	conn := p.conn
	p.tx = nil
	p.conn = nil
	p.mu.Unlock()

	err := tx.Commit().Error
	_ = p.pools.ReleaseConnection(ctx, conn)
	if err != nil {
		p.logger.Error("native commit failed", zap.Error(err))
		return false, err
	}
	return true, nil
}

// Rollback rolls the native transaction back (a no-op when prepare never
// succeeded) and releases the connection.
func (p *RelationalParticipant) Rollback(ctx context.Context) (bool, error) {
	p.mu.Lock()
	tx := p.tx
	conn := p.conn
	p.tx = nil
	p.conn = nil
	p.stmts = nil
	p.prepared = false
	p.mu.Unlock()

	ok := true
	if tx != nil {
		if err := tx.Rollback().Error; err != nil {
			ok = false
			p.logger.Error("native rollback failed", zap.Error(err))
		}
	}
	if conn != nil {
		_ = p.pools.ReleaseConnection(ctx, conn)
	}
	return ok, nil
}

// IsPrepared implements Participant.
func (p *RelationalParticipant) IsPrepared() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.prepared
}
