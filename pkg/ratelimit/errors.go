package ratelimit

import (
	"fmt"
	"time"
)

// ThrottledError reports that a call was rejected by the token bucket or by
// an active backoff floor. Callers should retry after RetryAfter.
type ThrottledError struct {
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("ratelimit: throttled, retry after %v", e.RetryAfter)
}

// CircuitOpenError reports that the circuit breaker for the key is open and
// all calls are rejected until the cooldown elapses.
type CircuitOpenError struct {
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("ratelimit: circuit open, retry after %v", e.RetryAfter)
}
