package relay

import (
	"context"
)

// Invoker is the boundary between the orchestrator and the remote workflow
// system. Implementations perform network calls; the orchestrator owns
// retries, circuit breaking, and the execution state machine.
type Invoker interface {

	// Invoke performs exactly one invocation attempt and returns the remote
	// result payload. Implementations must not retry internally: the
	// orchestrator decides whether and when another attempt happens. On
	// failure, return an error classified with the failure kinds in this
	// package (or recognizable by Classify).
	Invoke(ctx context.Context, execution *Execution) (any, error)

	// GetStatus returns the remote system's view of an execution. It is
	// idempotent and safe to poll. When the remote system is unreachable or
	// does not know the execution, implementations report StatusFailed
	// rather than an error, so pollers degrade to a conservative answer.
	GetStatus(ctx context.Context, executionID string) (Status, error)

	// Cancel asks the remote system to stop an execution. The boolean
	// reports whether the request was acknowledged, not whether the remote
	// work actually stopped.
	Cancel(ctx context.Context, executionID string) (bool, error)

	// HealthCheck reports whether the remote system is reachable. It must
	// be side-effect free.
	HealthCheck(ctx context.Context) bool
}

// Confirm the interface is implemented correctly.
var _ Invoker = (*FuncInvoker)(nil)

// FuncInvoker adapts plain functions to the Invoker interface. It is useful
// in tests and examples where only some of the operations matter. Nil
// functions get conservative defaults: status reports StatusFailed, cancel
// reports unacknowledged, and health reports reachable.
type FuncInvoker struct {
	InvokeFunc func(ctx context.Context, execution *Execution) (any, error)
	StatusFunc func(ctx context.Context, executionID string) (Status, error)
	CancelFunc func(ctx context.Context, executionID string) (bool, error)
	HealthFunc func(ctx context.Context) bool
}

func (f *FuncInvoker) Invoke(ctx context.Context, execution *Execution) (any, error) {
	if f.InvokeFunc == nil {
		return nil, NewFailure(FailurePermanent, "invoke is not implemented")
	}
	return f.InvokeFunc(ctx, execution)
}

func (f *FuncInvoker) GetStatus(ctx context.Context, executionID string) (Status, error) {
	if f.StatusFunc == nil {
		return StatusFailed, nil
	}
	return f.StatusFunc(ctx, executionID)
}

func (f *FuncInvoker) Cancel(ctx context.Context, executionID string) (bool, error) {
	if f.CancelFunc == nil {
		return false, nil
	}
	return f.CancelFunc(ctx, executionID)
}

func (f *FuncInvoker) HealthCheck(ctx context.Context) bool {
	if f.HealthFunc == nil {
		return true
	}
	return f.HealthFunc(ctx)
}
