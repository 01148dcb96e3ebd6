package txn_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/storagecore/config"
	"github.com/BaSui01/storagecore/testutil/mocks"
	"github.com/BaSui01/storagecore/txn"
	"github.com/BaSui01/storagecore/types"
)

func newTestCoordinator(t *testing.T, settings config.CoordinatorSettings) *txn.Coordinator {
	t.Helper()
	reg := config.NewRegistry()
	reg.Coordinator = settings
	c := txn.NewCoordinator(reg, zap.NewNop())
	t.Cleanup(c.Close)
	return c
}

func quietSettings() config.CoordinatorSettings {
	return config.CoordinatorSettings{
		DefaultTimeout: 30 * time.Second,
		PhaseTimeout:   time.Second,
		SweepInterval:  0, // no background sweep unless a test wants it
	}
}

func allParticipants() []*mocks.Participant {
	return []*mocks.Participant{
		mocks.NewParticipant(types.DatabaseQdrant),
		mocks.NewParticipant(types.DatabasePostgres),
		mocks.NewParticipant(types.DatabaseMongo),
	}
}

func register(t *testing.T, c *txn.Coordinator, id string, parts []*mocks.Participant) {
	t.Helper()
	for _, p := range parts {
		require.NoError(t, c.RegisterParticipant(id, p))
	}
}

func TestTwoPhaseCommitHappyPath(t *testing.T) {
	c := newTestCoordinator(t, quietSettings())
	ctx := context.Background()

	id := c.Begin()
	parts := allParticipants()
	register(t, c, id, parts)

	ok, err := c.PreparePhase(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)

	status, err := c.TransactionStatus(id)
	require.NoError(t, err)
	assert.Equal(t, types.TxPrepared, status.State)
	for dt, prepared := range status.Participants {
		assert.True(t, prepared, dt)
	}

	ok, err = c.CommitPhase(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)

	status, err = c.TransactionStatus(id)
	require.NoError(t, err)
	assert.Equal(t, types.TxCommitted, status.State)

	for _, p := range parts {
		assert.Equal(t, 1, p.PrepareCalls())
		assert.Equal(t, 1, p.CommitCalls())
		assert.Equal(t, 0, p.RollbackCalls())
	}
}

func TestRegisterParticipantRules(t *testing.T) {
	c := newTestCoordinator(t, quietSettings())
	ctx := context.Background()

	id := c.Begin()
	require.NoError(t, c.RegisterParticipant(id, mocks.NewParticipant(types.DatabaseRedis)))

	// One participant per database type.
	err := c.RegisterParticipant(id, mocks.NewParticipant(types.DatabaseRedis))
	assert.True(t, types.IsCode(err, types.ErrParticipantExists))

	// Unknown transaction.
	err = c.RegisterParticipant("no-such-id", mocks.NewParticipant(types.DatabaseMongo))
	assert.True(t, types.IsCode(err, types.ErrTransactionNotFound))

	// Registration closes once the transaction leaves active.
	ok, err := c.PreparePhase(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	err = c.RegisterParticipant(id, mocks.NewParticipant(types.DatabaseMongo))
	assert.True(t, types.IsCode(err, types.ErrInvalidStateTransition))
}

func TestPrepareNoVoteFailsAndRollsBackEveryone(t *testing.T) {
	c := newTestCoordinator(t, quietSettings())
	ctx := context.Background()

	id := c.Begin()
	parts := allParticipants()
	parts[1].FailPrepare()
	register(t, c, id, parts)

	ok, err := c.PreparePhase(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	status, err := c.TransactionStatus(id)
	require.NoError(t, err)
	assert.Equal(t, types.TxFailed, status.State)

	for _, p := range parts {
		assert.Equal(t, 1, p.RollbackCalls())
	}
}

func TestPrepareErrorFailsTransaction(t *testing.T) {
	c := newTestCoordinator(t, quietSettings())
	ctx := context.Background()

	id := c.Begin()
	parts := allParticipants()
	parts[0].SetPrepareErr(assert.AnError)
	register(t, c, id, parts)

	ok, err := c.PreparePhase(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	status, err := c.TransactionStatus(id)
	require.NoError(t, err)
	assert.Equal(t, types.TxFailed, status.State)
}

func TestPrepareTimeoutFailsTransaction(t *testing.T) {
	settings := quietSettings()
	settings.PhaseTimeout = 50 * time.Millisecond
	c := newTestCoordinator(t, settings)
	ctx := context.Background()

	id := c.Begin()
	slow := mocks.NewParticipant(types.DatabaseMongo).SetPrepareDelay(500 * time.Millisecond)
	fast := mocks.NewParticipant(types.DatabaseRedis)
	register(t, c, id, []*mocks.Participant{slow, fast})

	start := time.Now()
	ok, err := c.PreparePhase(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), 400*time.Millisecond)

	status, err := c.TransactionStatus(id)
	require.NoError(t, err)
	assert.Equal(t, types.TxFailed, status.State)
	assert.Equal(t, 1, fast.RollbackCalls())
}

func TestPrepareRequiresActiveState(t *testing.T) {
	c := newTestCoordinator(t, quietSettings())
	ctx := context.Background()

	id := c.Begin()
	register(t, c, id, []*mocks.Participant{mocks.NewParticipant(types.DatabaseRedis)})
	ok, err := c.PreparePhase(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = c.PreparePhase(ctx, id)
	assert.True(t, types.IsCode(err, types.ErrInvalidStateTransition))
}

func TestCommitRequiresPreparedState(t *testing.T) {
	c := newTestCoordinator(t, quietSettings())
	id := c.Begin()

	_, err := c.CommitPhase(context.Background(), id)
	assert.True(t, types.IsCode(err, types.ErrInvalidStateTransition))
}

func TestCommitPartialFailureIsNotUndone(t *testing.T) {
	c := newTestCoordinator(t, quietSettings())
	ctx := context.Background()

	id := c.Begin()
	parts := allParticipants()
	parts[2].FailCommit(assert.AnError)
	register(t, c, id, parts)

	ok, err := c.PreparePhase(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = c.CommitPhase(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	status, err := c.TransactionStatus(id)
	require.NoError(t, err)
	assert.Equal(t, types.TxFailed, status.State)

	// Every participant got its commit call; the ones that succeeded are
	// left committed.
	for _, p := range parts {
		assert.Equal(t, 1, p.CommitCalls())
		assert.Equal(t, 0, p.RollbackCalls())
	}
}

func TestRollbackTransaction(t *testing.T) {
	c := newTestCoordinator(t, quietSettings())
	ctx := context.Background()

	id := c.Begin()
	parts := allParticipants()
	register(t, c, id, parts)

	require.NoError(t, c.RollbackTransaction(ctx, id))
	status, err := c.TransactionStatus(id)
	require.NoError(t, err)
	assert.Equal(t, types.TxRolledBack, status.State)

	// Idempotent: a second rollback is a no-op.
	require.NoError(t, c.RollbackTransaction(ctx, id))
	for _, p := range parts {
		assert.Equal(t, 1, p.RollbackCalls())
	}
}

func TestRollbackCommittedTransactionRejected(t *testing.T) {
	c := newTestCoordinator(t, quietSettings())
	ctx := context.Background()

	id := c.Begin()
	register(t, c, id, []*mocks.Participant{mocks.NewParticipant(types.DatabaseRedis)})
	ok, err := c.PreparePhase(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = c.CommitPhase(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)

	err = c.RollbackTransaction(ctx, id)
	assert.True(t, types.IsCode(err, types.ErrInvalidStateTransition))
}

func TestCleanupTransaction(t *testing.T) {
	c := newTestCoordinator(t, quietSettings())

	id := c.Begin()
	_, err := c.TransactionStatus(id)
	require.NoError(t, err)

	c.CleanupTransaction(id)
	_, err = c.TransactionStatus(id)
	assert.True(t, types.IsCode(err, types.ErrTransactionNotFound))

	// Safe to repeat.
	c.CleanupTransaction(id)
}

func TestTimeoutSweepRollsBackStaleTransactions(t *testing.T) {
	settings := quietSettings()
	settings.SweepInterval = 20 * time.Millisecond
	c := newTestCoordinator(t, settings)

	id := c.BeginWithTimeout(30 * time.Millisecond)
	p := mocks.NewParticipant(types.DatabaseRedis)
	require.NoError(t, c.RegisterParticipant(id, p))

	require.Eventually(t, func() bool {
		status, err := c.TransactionStatus(id)
		return err == nil && status.State == types.TxRolledBack
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, p.RollbackCalls())
}

func TestSweepLeavesYoungTransactionsAlone(t *testing.T) {
	settings := quietSettings()
	settings.SweepInterval = 10 * time.Millisecond
	c := newTestCoordinator(t, settings)

	id := c.BeginWithTimeout(time.Hour)
	time.Sleep(100 * time.Millisecond)

	status, err := c.TransactionStatus(id)
	require.NoError(t, err)
	assert.Equal(t, types.TxActive, status.State)
}

func TestExecuteTwoPhaseCommit(t *testing.T) {
	c := newTestCoordinator(t, quietSettings())
	ctx := context.Background()

	parts := allParticipants()
	ps := make([]txn.Participant, len(parts))
	for i, p := range parts {
		ps[i] = p
	}

	var opTxID string
	err := c.ExecuteTwoPhaseCommit(ctx, ps, func(_ context.Context, txID string) error {
		opTxID = txID
		return nil
	})
	require.NoError(t, err)
	assert.NotEmpty(t, opTxID)

	// Cleanup ran: the transaction record is gone.
	_, err = c.TransactionStatus(opTxID)
	assert.True(t, types.IsCode(err, types.ErrTransactionNotFound))

	for _, p := range parts {
		assert.Equal(t, 1, p.PrepareCalls())
		assert.Equal(t, 1, p.CommitCalls())
	}
}

func TestExecuteTwoPhaseCommitOperationFailure(t *testing.T) {
	c := newTestCoordinator(t, quietSettings())
	ctx := context.Background()

	parts := allParticipants()
	ps := make([]txn.Participant, len(parts))
	for i, p := range parts {
		ps[i] = p
	}

	err := c.ExecuteTwoPhaseCommit(ctx, ps, func(context.Context, string) error {
		return assert.AnError
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)

	for _, p := range parts {
		assert.Equal(t, 0, p.PrepareCalls())
		assert.Equal(t, 1, p.RollbackCalls())
	}
}

func TestExecuteTwoPhaseCommitPrepareFailure(t *testing.T) {
	c := newTestCoordinator(t, quietSettings())
	ctx := context.Background()

	parts := allParticipants()
	parts[0].FailPrepare()
	ps := make([]txn.Participant, len(parts))
	for i, p := range parts {
		ps[i] = p
	}

	err := c.ExecuteTwoPhaseCommit(ctx, ps, func(context.Context, string) error { return nil })
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrPrepareTimeout))
	assert.True(t, types.IsRetryable(err))

	for _, p := range parts {
		assert.Equal(t, 0, p.CommitCalls())
		assert.Equal(t, 1, p.RollbackCalls())
	}
}
