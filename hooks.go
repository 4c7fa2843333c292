package relay

import (
	"context"
	"fmt"
	"io"
	"log/slog"
)

// HookPhase identifies when in the execution lifecycle a hook runs.
type HookPhase string

const (
	// PhasePreExecution runs before the first invocation attempt. An error
	// from a pre-execution hook aborts the execution.
	PhasePreExecution HookPhase = "pre_execution"

	// PhasePostExecution runs after a successful execution only.
	PhasePostExecution HookPhase = "post_execution"

	// PhaseError runs after an execution finishes in any failed state.
	PhaseError HookPhase = "error"

	// PhaseRetry runs before each retry attempt, after the backoff wait is
	// scheduled.
	PhaseRetry HookPhase = "retry"
)

// HookEvent carries the context delivered to a hook. Execution is a copy of
// the current record; hooks communicate back by annotating its metadata on
// the record they return.
type HookEvent struct {
	Phase     HookPhase
	Execution *Execution

	// Err is the classified failure. Set for the error and retry phases.
	Err error

	// Attempt is the number of the upcoming attempt, counting from one.
	// Set for the retry phase: the first retry is attempt 2.
	Attempt int
}

// Hook observes or extends execution behavior at one or more phases. Run
// may return an annotated copy of the event's execution record, or nil to
// leave it unchanged. Only metadata annotations are honored: the lifecycle
// fields belong to the orchestrator's state machine.
type Hook interface {

	// Name identifies the hook in logs.
	Name() string

	// Run the hook for one event.
	Run(ctx context.Context, event *HookEvent) (*Execution, error)
}

// Confirm the interfaces are implemented correctly.
var (
	_ Hook = (*HookFunc)(nil)
	_ Hook = (*LoggingHook)(nil)
)

// HookFunc wraps a function for use as a Hook.
type HookFunc struct {
	name string
	fn   func(ctx context.Context, event *HookEvent) (*Execution, error)
}

// NewHookFunc returns a Hook for the given function.
func NewHookFunc(name string, fn func(ctx context.Context, event *HookEvent) (*Execution, error)) *HookFunc {
	return &HookFunc{name: name, fn: fn}
}

// Name of the hook.
func (h *HookFunc) Name() string { return h.name }

// Run the hook.
func (h *HookFunc) Run(ctx context.Context, event *HookEvent) (*Execution, error) {
	return h.fn(ctx, event)
}

// Hooks routes execution lifecycle events to registered hooks. Hooks run
// strictly sequentially in registration order within each phase, so a hook
// may rely on the annotations of those registered before it.
type Hooks struct {
	logger *slog.Logger
	phases map[HookPhase][]Hook
}

// NewHooks creates an empty hook table.
func NewHooks() *Hooks {
	return &Hooks{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		phases: map[HookPhase][]Hook{},
	}
}

// SetLogger sets the logger used to report swallowed hook errors.
func (h *Hooks) SetLogger(logger *slog.Logger) {
	if logger != nil {
		h.logger = logger
	}
}

// Register adds a hook to a phase. A hook may be registered on several
// phases independently.
func (h *Hooks) Register(phase HookPhase, hook Hook) error {
	switch phase {
	case PhasePreExecution, PhasePostExecution, PhaseError, PhaseRetry:
	default:
		return fmt.Errorf("unknown hook phase: %q", phase)
	}
	if hook == nil {
		return fmt.Errorf("hook is required")
	}
	h.phases[phase] = append(h.phases[phase], hook)
	return nil
}

// RegisterAll adds a hook to every phase.
func (h *Hooks) RegisterAll(hook Hook) error {
	for _, phase := range []HookPhase{PhasePreExecution, PhasePostExecution, PhaseError, PhaseRetry} {
		if err := h.Register(phase, hook); err != nil {
			return err
		}
	}
	return nil
}

// Empty reports whether no hooks are registered on any phase.
func (h *Hooks) Empty() bool {
	for _, hooks := range h.phases {
		if len(hooks) > 0 {
			return false
		}
	}
	return true
}

// PreExecution runs the pre-execution hooks. The first hook error stops the
// chain and is returned so the orchestrator can abort before invoking.
func (h *Hooks) PreExecution(ctx context.Context, execution *Execution) (*Execution, error) {
	current := execution
	for _, hook := range h.phases[PhasePreExecution] {
		updated, err := hook.Run(ctx, &HookEvent{
			Phase:     PhasePreExecution,
			Execution: current.Clone(),
		})
		if err != nil {
			return current, fmt.Errorf("pre-execution hook %q failed: %w", hook.Name(), err)
		}
		current = h.merge(PhasePreExecution, hook, current, updated)
	}
	return current, nil
}

// PostExecution runs the post-execution hooks for a successful record. Hook
// errors are logged and do not affect the outcome.
func (h *Hooks) PostExecution(ctx context.Context, execution *Execution) *Execution {
	return h.runObservers(ctx, PhasePostExecution, execution, nil, 0)
}

// ExecutionError runs the error hooks for a failed record. Hook errors are
// logged and do not affect the outcome.
func (h *Hooks) ExecutionError(ctx context.Context, execution *Execution, cause error) *Execution {
	return h.runObservers(ctx, PhaseError, execution, cause, 0)
}

// Retry runs the retry hooks before the given attempt. Hook errors are
// logged and do not affect the outcome.
func (h *Hooks) Retry(ctx context.Context, execution *Execution, cause error, attempt int) *Execution {
	return h.runObservers(ctx, PhaseRetry, execution, cause, attempt)
}

// runObservers runs a phase whose hook errors are swallowed: a broken
// observer must never change an execution's outcome.
func (h *Hooks) runObservers(ctx context.Context, phase HookPhase, execution *Execution, cause error, attempt int) *Execution {
	current := execution
	for _, hook := range h.phases[phase] {
		updated, err := h.runSafely(ctx, hook, &HookEvent{
			Phase:     phase,
			Execution: current.Clone(),
			Err:       cause,
			Attempt:   attempt,
		})
		if err != nil {
			h.logger.Error("hook failed",
				"hook", hook.Name(),
				"phase", phase,
				"execution_id", execution.ID,
				"error", err)
			continue
		}
		current = h.merge(phase, hook, current, updated)
	}
	return current
}

// runSafely invokes one hook, converting a panic into an error.
func (h *Hooks) runSafely(ctx context.Context, hook Hook, event *HookEvent) (updated *Execution, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hook panicked: %v", r)
		}
	}()
	return hook.Run(ctx, event)
}

// merge folds a hook's returned record into the current one. Metadata
// annotations are kept; any other change is discarded, and an attempted
// status change is called out because it indicates a hook trying to drive
// the state machine.
func (h *Hooks) merge(phase HookPhase, hook Hook, current, updated *Execution) *Execution {
	if updated == nil {
		return current
	}
	if updated.Status != current.Status {
		h.logger.Warn("hook attempted a status change, ignoring",
			"hook", hook.Name(),
			"phase", phase,
			"execution_id", current.ID,
			"status", current.Status,
			"attempted", updated.Status)
	}
	if len(updated.Metadata) == 0 {
		return current
	}
	merged := current.Clone()
	for k, v := range updated.Metadata {
		merged.Metadata[k] = v
	}
	return merged
}

// LoggingHook emits a structured log line for every lifecycle phase. An
// orchestrator built with no hooks installs one on all phases, so that
// executions are observable by default rather than silent.
type LoggingHook struct {
	logger *slog.Logger
}

// NewLoggingHook creates a LoggingHook writing to the given logger.
func NewLoggingHook(logger *slog.Logger) *LoggingHook {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &LoggingHook{logger: logger}
}

// Name of the hook.
func (h *LoggingHook) Name() string { return "logging" }

// Run logs the event.
func (h *LoggingHook) Run(ctx context.Context, event *HookEvent) (*Execution, error) {
	execution := event.Execution
	logger := h.logger.With(
		"execution_id", execution.ID,
		"workflow_id", execution.WorkflowID)
	switch event.Phase {
	case PhasePreExecution:
		logger.Info("execution starting")
	case PhasePostExecution:
		if d, ok := execution.Duration(); ok {
			logger.Info("execution succeeded", "duration", d)
		} else {
			logger.Info("execution succeeded")
		}
	case PhaseError:
		logger.Error("execution failed",
			"status", execution.Status,
			"error", event.Err)
	case PhaseRetry:
		logger.Warn("retrying execution",
			"attempt", event.Attempt,
			"error", event.Err)
	}
	return nil, nil
}
