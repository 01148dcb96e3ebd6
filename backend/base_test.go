package backend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/storagecore/types"
)

func TestBaseBookkeeping(t *testing.T) {
	b := NewBase(types.DatabaseRedis, zap.NewNop())

	assert.NotEmpty(t, b.ID())
	assert.Equal(t, types.DatabaseRedis, b.Type())
	assert.Equal(t, types.StatusDisconnected, b.Status())
	assert.False(t, b.IsConnected())

	b.SetStatus(types.StatusConnected)
	assert.True(t, b.IsConnected())

	before := b.LastActivity()
	time.Sleep(time.Millisecond)
	b.Touch()
	assert.True(t, b.LastActivity().After(before))
}

func TestBaseSetErrorMovesToErrorStatus(t *testing.T) {
	b := NewBase(types.DatabaseMongo, nil)
	b.SetStatus(types.StatusConnected)

	cause := errors.New("broken pipe")
	b.SetError(cause)
	assert.Equal(t, types.StatusError, b.Status())
	assert.Equal(t, cause, b.LastError())

	// A nil error clears the record without touching the status.
	b.SetError(nil)
	assert.NoError(t, b.LastError())
	assert.Equal(t, types.StatusError, b.Status())
}

func TestAutoReconnectSucceedsAfterRetries(t *testing.T) {
	b := NewBase(types.DatabaseQdrant, zap.NewNop())

	attempts := 0
	b.BindReconnect(func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("still down")
		}
		return nil
	})

	err := b.AutoReconnect(context.Background(), 5, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestAutoReconnectExhaustsRetries(t *testing.T) {
	b := NewBase(types.DatabasePostgres, zap.NewNop())

	cause := errors.New("refused")
	attempts := 0
	b.BindReconnect(func(context.Context) error {
		attempts++
		return cause
	})

	err := b.AutoReconnect(context.Background(), 3, time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.True(t, types.IsCode(err, types.ErrConnectionCreation))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, types.StatusError, b.Status())
}

func TestAutoReconnectBackoffDoubles(t *testing.T) {
	b := NewBase(types.DatabaseRedis, zap.NewNop())

	var stamps []time.Time
	b.BindReconnect(func(context.Context) error {
		stamps = append(stamps, time.Now())
		return errors.New("down")
	})

	_ = b.AutoReconnect(context.Background(), 3, 20*time.Millisecond)
	require.Len(t, stamps, 3)

	// First retry waits ~20ms, second ~40ms.
	first := stamps[1].Sub(stamps[0])
	second := stamps[2].Sub(stamps[1])
	assert.GreaterOrEqual(t, first, 20*time.Millisecond)
	assert.GreaterOrEqual(t, second, 40*time.Millisecond)
}

func TestAutoReconnectHonorsContext(t *testing.T) {
	b := NewBase(types.DatabaseRedis, zap.NewNop())
	b.BindReconnect(func(context.Context) error { return errors.New("down") })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.AutoReconnect(ctx, 3, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAutoReconnectWithoutBinding(t *testing.T) {
	b := NewBase(types.DatabaseRedis, zap.NewNop())
	err := b.AutoReconnect(context.Background(), 3, time.Millisecond)
	assert.True(t, types.IsCode(err, types.ErrConnectionCreation))
}
