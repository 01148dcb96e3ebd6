package rediskv

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/storagecore/config"
	"github.com/BaSui01/storagecore/types"
)

func TestConnectLifecycle(t *testing.T) {
	srv := miniredis.RunT(t)
	ctx := context.Background()

	conn := New(config.RedisSettings{Addr: srv.Addr()}, zap.NewNop())
	assert.Equal(t, types.DatabaseRedis, conn.Type())
	assert.False(t, conn.IsConnected())

	require.NoError(t, conn.Connect(ctx))
	assert.True(t, conn.IsConnected())
	assert.True(t, conn.IsHealthy(ctx))
	require.NotNil(t, conn.Client())

	require.NoError(t, conn.Client().Set(ctx, "chunk:42", "indexed", 0).Err())
	got, err := srv.Get("chunk:42")
	require.NoError(t, err)
	assert.Equal(t, "indexed", got)

	require.NoError(t, conn.Disconnect(ctx))
	assert.False(t, conn.IsConnected())
	assert.False(t, conn.IsHealthy(ctx))
}

func TestConnectUnreachable(t *testing.T) {
	conn := New(config.RedisSettings{Addr: "localhost:1"}, zap.NewNop())

	err := conn.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrConnectionCreation))
	assert.Equal(t, types.StatusError, conn.Status())
}

func TestHealthReflectsServerState(t *testing.T) {
	srv := miniredis.RunT(t)
	ctx := context.Background()

	conn := New(config.RedisSettings{Addr: srv.Addr()}, zap.NewNop())
	require.NoError(t, conn.Connect(ctx))
	assert.True(t, conn.IsHealthy(ctx))

	srv.SetError("LOADING redis is loading the dataset in memory")
	assert.False(t, conn.IsHealthy(ctx))

	srv.SetError("")
	assert.True(t, conn.IsHealthy(ctx))
}

func TestReconnectRedials(t *testing.T) {
	srv := miniredis.RunT(t)
	ctx := context.Background()

	conn := New(config.RedisSettings{Addr: srv.Addr()}, zap.NewNop())
	require.NoError(t, conn.Connect(ctx))
	first := conn.Client()

	require.NoError(t, conn.Reconnect(ctx))
	assert.True(t, conn.IsConnected())
	assert.NotSame(t, first, conn.Client())
}
