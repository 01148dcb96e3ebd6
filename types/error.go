package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the module.
type ErrorCode string

// Connection pool error codes
const (
	ErrConnectionCreation ErrorCode = "CONNECTION_CREATION"
	ErrAcquisitionTimeout ErrorCode = "ACQUISITION_TIMEOUT"
	ErrConnectionHealth   ErrorCode = "CONNECTION_HEALTH"
	ErrPoolNotFound       ErrorCode = "POOL_NOT_FOUND"
	ErrPoolClosed         ErrorCode = "POOL_CLOSED"
	ErrPoolExists         ErrorCode = "POOL_EXISTS"
)

// Transaction coordinator error codes
const (
	ErrPrepareTimeout         ErrorCode = "PREPARE_TIMEOUT"
	ErrCommitTimeout          ErrorCode = "COMMIT_TIMEOUT"
	ErrRollbackTimeout        ErrorCode = "ROLLBACK_TIMEOUT"
	ErrTransactionNotFound    ErrorCode = "TRANSACTION_NOT_FOUND"
	ErrInvalidStateTransition ErrorCode = "INVALID_STATE_TRANSITION"
	ErrParticipantExists      ErrorCode = "PARTICIPANT_EXISTS"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode    `json:"code"`
	Message   string       `json:"message"`
	Database  DatabaseType `json:"database,omitempty"`
	Retryable bool         `json:"retryable"`
	Cause     error        `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewErrorf creates a new Error with a formatted message.
func NewErrorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithDatabase tags the error with the backend type it concerns.
func (e *Error) WithDatabase(t DatabaseType) *Error {
	e.Database = t
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error, or "" when err is not
// a *types.Error.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given error code.
func IsCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}
