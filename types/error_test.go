package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	err := NewError(ErrPoolClosed, "pool redis is closing")
	assert.Equal(t, "[POOL_CLOSED] pool redis is closing", err.Error())

	cause := errors.New("socket reset")
	err = NewErrorf(ErrConnectionCreation, "dial %s failed", "localhost:6379").WithCause(cause)
	assert.Equal(t, "[CONNECTION_CREATION] dial localhost:6379 failed: socket reset", err.Error())
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestErrorBuilders(t *testing.T) {
	err := NewError(ErrAcquisitionTimeout, "acquire timed out").
		WithDatabase(DatabaseQdrant).
		WithRetryable(true)

	assert.Equal(t, DatabaseQdrant, err.Database)
	assert.True(t, err.Retryable)
	assert.True(t, IsRetryable(err))
	assert.True(t, IsCode(err, ErrAcquisitionTimeout))
	assert.Equal(t, ErrAcquisitionTimeout, GetErrorCode(err))
}

func TestErrorCodeThroughWrapping(t *testing.T) {
	inner := NewError(ErrConnectionHealth, "probe failed").WithRetryable(true)
	wrapped := fmt.Errorf("release: %w", inner)

	assert.Equal(t, ErrConnectionHealth, GetErrorCode(wrapped))
	assert.True(t, IsRetryable(wrapped))
}

func TestErrorCodeOnPlainError(t *testing.T) {
	err := errors.New("plain")
	assert.Equal(t, ErrorCode(""), GetErrorCode(err))
	assert.False(t, IsRetryable(err))
	assert.False(t, IsCode(err, ErrPoolClosed))
}

func TestErrorCodeOnNil(t *testing.T) {
	require.Equal(t, ErrorCode(""), GetErrorCode(nil))
	require.False(t, IsRetryable(nil))
}
