package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/deepnoodle-ai/relay/retry"
)

// FailureKind classifies why an invocation failed. The kind drives the retry
// decision and the terminal status of the execution record.
type FailureKind string

const (
	// FailureTransient marks errors expected to clear on their own, such as
	// network blips, timeouts on a single attempt, and overloaded upstreams.
	FailureTransient FailureKind = "transient"

	// FailurePermanent marks errors where a retry would produce the same
	// result, such as an unknown workflow or a rejected payload.
	FailurePermanent FailureKind = "permanent"

	// FailureUnknown marks errors that could not be classified. Whether
	// these are retried is controlled by RetryPolicy.FailClosed. The
	// default is to retry them, on the theory that most unclassified
	// errors in practice turn out to be transient.
	FailureUnknown FailureKind = "unknown"

	// FailureCircuitOpen marks invocations rejected by an open circuit
	// breaker before reaching the remote system.
	FailureCircuitOpen FailureKind = "circuit_open"

	// FailureCanceled marks invocations interrupted by caller cancellation.
	FailureCanceled FailureKind = "canceled"

	// FailureDeadlineExceeded marks invocations that ran out of time at the
	// execution level, as opposed to a single attempt timing out.
	FailureDeadlineExceeded FailureKind = "deadline_exceeded"
)

// Failure is a classified invocation error. It supports Go's error wrapping
// patterns with Unwrap(), so callers can match with errors.Is and errors.As.
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
	Wrapped error       `json:"-"`
}

// Error implements the error interface.
func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// Unwrap returns the underlying error, if any.
func (f *Failure) Unwrap() error {
	return f.Wrapped
}

// Retryable reports whether a failure of this kind should be retried.
// Unclassified failures are retried when retryUnknown is true.
func (f *Failure) Retryable(retryUnknown bool) bool {
	switch f.Kind {
	case FailureTransient:
		return true
	case FailureUnknown:
		return retryUnknown
	default:
		return false
	}
}

// NewFailure creates a Failure with the given kind and message.
func NewFailure(kind FailureKind, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapFailure wraps an error with an explicit classification. Use this when
// the caller already knows the kind, e.g. a transport mapping an HTTP 429 to
// a transient failure.
func WrapFailure(kind FailureKind, err error) *Failure {
	return &Failure{Kind: kind, Message: err.Error(), Wrapped: err}
}

// Classify converts a regular error into a Failure. Already-classified
// errors pass through unchanged. Context sentinel errors map to the
// canceled and deadline kinds. Errors marked with the retry package's
// RecoverableError interface classify as transient or permanent according
// to the mark. Everything else is classified transient when the retry
// package's recoverability heuristics recognize it, and unknown otherwise.
func Classify(err error) *Failure {
	var failure *Failure
	if errors.As(err, &failure) {
		return failure
	}
	switch {
	case errors.Is(err, context.Canceled):
		return &Failure{Kind: FailureCanceled, Message: err.Error(), Wrapped: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &Failure{Kind: FailureDeadlineExceeded, Message: err.Error(), Wrapped: err}
	}
	var marked retry.RecoverableError
	if errors.As(err, &marked) {
		if marked.IsRecoverable() {
			return &Failure{Kind: FailureTransient, Message: err.Error(), Wrapped: err}
		}
		return &Failure{Kind: FailurePermanent, Message: err.Error(), Wrapped: err}
	}
	if retry.IsRecoverable(err) {
		return &Failure{Kind: FailureTransient, Message: err.Error(), Wrapped: err}
	}
	return &Failure{Kind: FailureUnknown, Message: err.Error(), Wrapped: err}
}

// KindOf returns the failure kind an error classifies to.
func KindOf(err error) FailureKind {
	if err == nil {
		return ""
	}
	return Classify(err).Kind
}
