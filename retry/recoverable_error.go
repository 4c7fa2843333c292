package retry

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"
)

// RecoverableError lets an error declare its own retry behavior, overriding
// the heuristics in IsRecoverable.
type RecoverableError interface {
	error
	IsRecoverable() bool
}

// IsRecoverable reports whether an error is worth retrying. Errors
// implementing RecoverableError decide for themselves; everything else is
// judged by type and message heuristics.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	var recoverable RecoverableError
	if errors.As(err, &recoverable) {
		return recoverable.IsRecoverable()
	}
	return isRecoverableByType(err)
}

// isRecoverableByType applies heuristics for common error types.
func isRecoverableByType(err error) bool {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		// A deadline on one attempt may not bind the next.
		return true
	case errors.Is(err, context.Canceled):
		// Cancellation is intentional.
		return false
	}

	// Network-level timeouts are retryable.
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Temporary() {
		return true
	}

	// URL errors wrap the transport error.
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return isRecoverableByType(urlErr.Err)
	}

	// Fall back to message patterns that indicate transient conditions.
	errStr := strings.ToLower(err.Error())
	patterns := []string{
		"connection refused",
		"connection reset",
		"timeout",
		"temporary failure",
		"rate limit",
		"too many requests",
		"service unavailable",
		"internal server error",
		"bad gateway",
		"gateway timeout",
	}
	for _, pattern := range patterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

type recoverableError struct {
	err error
}

func (e *recoverableError) Error() string { return e.err.Error() }

func (e *recoverableError) IsRecoverable() bool { return true }

func (e *recoverableError) Unwrap() error { return e.err }

// NewRecoverableError marks an error as retryable regardless of heuristics.
func NewRecoverableError(err error) RecoverableError {
	return &recoverableError{err: err}
}

type nonRecoverableError struct {
	err error
}

func (e *nonRecoverableError) Error() string { return e.err.Error() }

func (e *nonRecoverableError) IsRecoverable() bool { return false }

func (e *nonRecoverableError) Unwrap() error { return e.err }

// NewNonRecoverableError marks an error as one that must not be retried.
func NewNonRecoverableError(err error) RecoverableError {
	return &nonRecoverableError{err: err}
}
