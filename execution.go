package relay

import (
	"fmt"
	"time"

	"go.jetify.com/typeid"
)

// NewExecutionID returns a new unique execution identifier.
func NewExecutionID() string {
	id, err := typeid.WithPrefix("exec")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// Status represents the execution status.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusTimedOut  Status = "timed_out"
)

// Terminal reports whether the status is final. Terminal records never
// transition again.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled, StatusTimedOut:
		return true
	}
	return false
}

// Execution is the record of one remote workflow invocation. It is designed
// to be fully JSON serializable. Records are never mutated in place: every
// transition returns a fresh copy, so a reference held by a hook or tracer
// stays stable no matter what happens later.
type Execution struct {
	ID          string         `json:"id"`
	WorkflowID  string         `json:"workflow_id"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Status      Status         `json:"status"`
	StartedAt   time.Time      `json:"started_at,omitzero"`
	CompletedAt time.Time      `json:"completed_at,omitzero"`
	Result      any            `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// NewExecution creates a Pending record for one invocation of the given
// workflow. An ID is generated if none is supplied later.
func NewExecution(workflowID string, parameters map[string]any) *Execution {
	return &Execution{
		ID:         NewExecutionID(),
		WorkflowID: workflowID,
		Parameters: copyMap(parameters),
		Status:     StatusPending,
		Metadata:   map[string]any{},
	}
}

// Clone returns a shallow copy of the record with its own parameter and
// metadata maps.
func (e *Execution) Clone() *Execution {
	clone := *e
	clone.Parameters = copyMap(e.Parameters)
	clone.Metadata = copyMap(e.Metadata)
	return &clone
}

// Duration returns the wall-clock duration of the execution. The boolean is
// false until both timestamps are set. The result is never negative.
func (e *Execution) Duration() (time.Duration, bool) {
	if e.StartedAt.IsZero() || e.CompletedAt.IsZero() {
		return 0, false
	}
	d := e.CompletedAt.Sub(e.StartedAt)
	if d < 0 {
		d = 0
	}
	return d, true
}

// WithMetadata returns a copy of the record with the given key set. This is
// how hooks and the orchestrator annotate a record without touching the
// lifecycle fields.
func (e *Execution) WithMetadata(key string, value any) *Execution {
	clone := e.Clone()
	clone.Metadata[key] = value
	return clone
}

// Start transitions a Pending record to Running, stamping the start time
// once. Retried attempts reuse the same Running record, so the start time
// reflects the beginning of the first attempt.
func (e *Execution) Start() (*Execution, error) {
	if e.Status != StatusPending {
		return nil, fmt.Errorf("cannot start execution %s in status %q", e.ID, e.Status)
	}
	clone := e.Clone()
	clone.Status = StatusRunning
	if clone.StartedAt.IsZero() {
		clone.StartedAt = time.Now()
	}
	return clone, nil
}

// Succeed transitions a Running record to Succeeded, recording the result.
func (e *Execution) Succeed(result any) (*Execution, error) {
	return e.finish(StatusSucceeded, result, nil)
}

// Fail transitions a record to Failed, recording the error.
func (e *Execution) Fail(cause error) (*Execution, error) {
	return e.finish(StatusFailed, nil, cause)
}

// Cancel transitions a record to Cancelled, recording the cancellation cause.
func (e *Execution) Cancel(cause error) (*Execution, error) {
	return e.finish(StatusCancelled, nil, cause)
}

// Timeout transitions a record to TimedOut, recording the deadline error.
func (e *Execution) Timeout(cause error) (*Execution, error) {
	return e.finish(StatusTimedOut, nil, cause)
}

// finish performs a terminal transition. Success carries a result and no
// error; every other terminal status carries an error and no result. A
// record may finish from Pending when it fails or is cancelled before the
// first attempt starts.
func (e *Execution) finish(status Status, result any, cause error) (*Execution, error) {
	if e.Status.Terminal() {
		return nil, fmt.Errorf("execution %s already finished with status %q", e.ID, e.Status)
	}
	if status == StatusSucceeded && e.Status != StatusRunning {
		return nil, fmt.Errorf("cannot succeed execution %s in status %q", e.ID, e.Status)
	}
	clone := e.Clone()
	clone.Status = status
	clone.CompletedAt = time.Now()
	if status == StatusSucceeded {
		clone.Result = result
		clone.Error = ""
	} else {
		if cause == nil {
			return nil, fmt.Errorf("execution %s cannot finish with status %q without an error", e.ID, status)
		}
		clone.Result = nil
		clone.Error = cause.Error()
	}
	return clone, nil
}

// Summary returns a condensed view of the record for logs and listings.
func (e *Execution) Summary() *ExecutionSummary {
	summary := &ExecutionSummary{
		ExecutionID: e.ID,
		WorkflowID:  e.WorkflowID,
		Status:      string(e.Status),
		StartedAt:   e.StartedAt,
		CompletedAt: e.CompletedAt,
		Error:       e.Error,
	}
	if d, ok := e.Duration(); ok {
		summary.Duration = d
	}
	return summary
}

// ExecutionSummary provides a summary view of an execution.
type ExecutionSummary struct {
	ExecutionID string        `json:"execution_id"`
	WorkflowID  string        `json:"workflow_id"`
	Status      string        `json:"status"`
	StartedAt   time.Time     `json:"started_at,omitzero"`
	CompletedAt time.Time     `json:"completed_at,omitzero"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`
}

// copyMap creates a shallow copy of a map.
func copyMap(m map[string]any) map[string]any {
	copy := make(map[string]any, len(m))
	for k, v := range m {
		copy[k] = v
	}
	return copy
}
