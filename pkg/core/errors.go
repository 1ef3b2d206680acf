package core

import (
	"errors"
	"fmt"
)

// Validation errors
var (
	ErrInvalidKindName  = errors.New("backlog: invalid job kind name (must be alphanumeric, start with letter)")
	ErrKindNameTooLong  = errors.New("backlog: job kind name too long")
	ErrInvalidOwnerID   = errors.New("backlog: invalid owner id")
	ErrOwnerIDTooLong   = errors.New("backlog: owner id too long")
	ErrBatchIDTooLong   = errors.New("backlog: batch id exceeds maximum length")
	ErrPayloadTooLarge  = errors.New("backlog: job payload exceeds size limit")
	ErrUnknownKind      = errors.New("backlog: no handler registered for job kind")
	ErrJobNotFound      = errors.New("backlog: job not found")
	ErrDuplicateKind    = errors.New("backlog: handler already registered for job kind")
	ErrInvalidPayload   = errors.New("backlog: payload failed validation")
	ErrStoreUnavailable = errors.New("backlog: job store unavailable")
)

// NoRetryError marks a handler failure as permanent. The runner sends the job
// straight to failed without consuming further attempts.
type NoRetryError struct {
	Err error
}

func (e *NoRetryError) Error() string {
	return fmt.Sprintf("no retry: %v", e.Err)
}

func (e *NoRetryError) Unwrap() error {
	return e.Err
}

// NoRetry wraps an error to indicate it should not be retried.
func NoRetry(err error) error {
	return &NoRetryError{Err: err}
}

// Retryable classifies a handler error. Everything is retryable unless it is
// (or wraps) a NoRetryError or the unknown-kind sentinel.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var noRetry *NoRetryError
	if errors.As(err, &noRetry) {
		return false
	}
	return !errors.Is(err, ErrUnknownKind)
}
