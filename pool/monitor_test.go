package pool_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/storagecore/backend"
	"github.com/BaSui01/storagecore/types"
)

func TestOptimizePoolSizeGrowsTowardTarget(t *testing.T) {
	mgr, f := newTestManager(t)
	initPool(t, mgr, types.DatabaseRedis, 2, 10)
	ctx := context.Background()

	// target = 2 + (10-2) * 0.5 = 6
	require.NoError(t, mgr.OptimizePoolSize(ctx, types.DatabaseRedis, 0.5))

	status, err := mgr.PoolStatus(types.DatabaseRedis)
	require.NoError(t, err)
	assert.Equal(t, 6, status.Idle)
	assert.Len(t, f.Created(), 6)
}

func TestOptimizePoolSizeShrinksToMinimum(t *testing.T) {
	mgr, _ := newTestManager(t)
	initPool(t, mgr, types.DatabaseRedis, 2, 10)
	ctx := context.Background()

	require.NoError(t, mgr.OptimizePoolSize(ctx, types.DatabaseRedis, 1.0))
	status, err := mgr.PoolStatus(types.DatabaseRedis)
	require.NoError(t, err)
	require.Equal(t, 10, status.Idle)

	require.NoError(t, mgr.OptimizePoolSize(ctx, types.DatabaseRedis, 0.0))
	status, err = mgr.PoolStatus(types.DatabaseRedis)
	require.NoError(t, err)
	assert.Equal(t, 2, status.Idle)
	assert.EqualValues(t, 8, status.Statistics.TotalDestroyed)
}

func TestOptimizePoolSizeClampsLoadFactor(t *testing.T) {
	mgr, _ := newTestManager(t)
	initPool(t, mgr, types.DatabaseRedis, 2, 5)
	ctx := context.Background()

	require.NoError(t, mgr.OptimizePoolSize(ctx, types.DatabaseRedis, 7.5))
	status, err := mgr.PoolStatus(types.DatabaseRedis)
	require.NoError(t, err)
	assert.Equal(t, 5, status.Idle)

	require.NoError(t, mgr.OptimizePoolSize(ctx, types.DatabaseRedis, -3.0))
	status, err = mgr.PoolStatus(types.DatabaseRedis)
	require.NoError(t, err)
	assert.Equal(t, 2, status.Idle)
}

func TestOptimizePoolSizeNeverTouchesActive(t *testing.T) {
	mgr, _ := newTestManager(t)
	initPool(t, mgr, types.DatabaseRedis, 0, 3)
	ctx := context.Background()

	var held []backend.Connection
	for i := 0; i < 3; i++ {
		conn, err := mgr.GetConnection(ctx, types.DatabaseRedis)
		require.NoError(t, err)
		held = append(held, conn)
	}

	// Shrinking can only destroy idle connections; everything is checked out.
	require.NoError(t, mgr.OptimizePoolSize(ctx, types.DatabaseRedis, 0.0))

	status, err := mgr.PoolStatus(types.DatabaseRedis)
	require.NoError(t, err)
	assert.Equal(t, 3, status.Active)
	assert.EqualValues(t, 0, status.Statistics.TotalDestroyed)

	for _, conn := range held {
		require.NoError(t, mgr.ReleaseConnection(ctx, conn))
	}
}

func TestOptimizePoolSizeUnknownPool(t *testing.T) {
	mgr, _ := newTestManager(t)
	err := mgr.OptimizePoolSize(context.Background(), types.DatabaseMongo, 0.5)
	assert.True(t, types.IsCode(err, types.ErrPoolNotFound))
}

func TestReleaseDrainsQueue(t *testing.T) {
	mgr, _ := newTestManager(t)
	initPool(t, mgr, types.DatabaseRedis, 0, 1)
	ctx := context.Background()

	held, err := mgr.GetConnection(ctx, types.DatabaseRedis)
	require.NoError(t, err)

	connCh := make(chan backend.Connection, 1)
	go func() {
		conn, err := mgr.GetConnection(ctx, types.DatabaseRedis)
		assert.NoError(t, err)
		connCh <- conn
	}()
	require.Eventually(t, func() bool {
		info, err := mgr.QueueInfo(types.DatabaseRedis)
		return err == nil && info.Length == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, mgr.ReleaseConnection(ctx, held))

	conn := <-connCh
	require.NotNil(t, conn)
	assert.Equal(t, held.ID(), conn.ID())
	require.NoError(t, mgr.ReleaseConnection(ctx, conn))
}
