package relay

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/deepnoodle-ai/relay/retry"
)

// RetryPolicy configures the retry loop around invocation attempts. Waits
// grow exponentially from BaseWait by BackoffRate, are capped at MaxWait,
// and are jittered so concurrent executions spread out.
type RetryPolicy struct {
	// MaxAttempts is the total number of invocation attempts, including the
	// first. Defaults to 3.
	MaxAttempts int

	// BaseWait is the wait before the first retry. Defaults to 1s.
	BaseWait time.Duration

	// MaxWait caps the wait between attempts. Defaults to 30s.
	MaxWait time.Duration

	// BackoffRate multiplies the wait after each retry. Defaults to 2.
	BackoffRate float64

	// FailClosed stops retries for failures that could not be classified.
	// The default is to retry them.
	FailClosed bool
}

func (p *RetryPolicy) applyDefaults() {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = retry.DefaultMaxAttempts
	}
	if p.BaseWait <= 0 {
		p.BaseWait = retry.DefaultBaseWait
	}
	if p.MaxWait <= 0 {
		p.MaxWait = retry.DefaultMaxWait
	}
	if p.BackoffRate <= 0 {
		p.BackoffRate = retry.DefaultBackoffRate
	}
}

// Options configures an Orchestrator.
type Options struct {
	// Invoker reaches the remote workflow system. Required.
	Invoker Invoker

	// Hooks extend execution behavior. When nil or empty, a LoggingHook is
	// installed on every phase so executions are observable by default.
	Hooks *Hooks

	// Tracer observes lifecycle transitions. Defaults to NullTracer.
	Tracer Tracer

	Logger *slog.Logger

	Retry RetryPolicy

	Breaker BreakerOptions

	// AttemptTimeout bounds each invocation attempt. Zero means no
	// per-attempt bound beyond what the invoker applies itself.
	AttemptTimeout time.Duration

	// ExecutionTimeout bounds the whole execution, including waits between
	// attempts. Zero means the caller's context is the only bound.
	ExecutionTimeout time.Duration

	// Concurrency is the maximum number of in-flight invocations during
	// batch execution. Defaults to 4.
	Concurrency int
}

// Orchestrator drives remote workflow invocations through a state machine
// with retries, per-workflow circuit breaking, hooks, and tracing. It is
// safe for concurrent use.
type Orchestrator struct {
	invoker          Invoker
	hooks            *Hooks
	tracer           Tracer
	logger           *slog.Logger
	retryPolicy      RetryPolicy
	breakers         *BreakerRegistry
	attemptTimeout   time.Duration
	executionTimeout time.Duration
	concurrency      int
}

// New creates an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Invoker == nil {
		return nil, fmt.Errorf("invoker is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Tracer == nil {
		opts.Tracer = NewNullTracer()
	}
	if opts.Hooks == nil {
		opts.Hooks = NewHooks()
	}
	opts.Hooks.SetLogger(opts.Logger)
	if opts.Hooks.Empty() {
		if err := opts.Hooks.RegisterAll(NewLoggingHook(opts.Logger)); err != nil {
			return nil, err
		}
	}
	opts.Retry.applyDefaults()
	if opts.Breaker.Logger == nil {
		opts.Breaker.Logger = opts.Logger
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Orchestrator{
		invoker:          opts.Invoker,
		hooks:            opts.Hooks,
		tracer:           opts.Tracer,
		logger:           opts.Logger,
		retryPolicy:      opts.Retry,
		breakers:         NewBreakerRegistry(opts.Breaker),
		attemptTimeout:   opts.AttemptTimeout,
		executionTimeout: opts.ExecutionTimeout,
		concurrency:      opts.Concurrency,
	}, nil
}

// Request describes one invocation to execute.
type Request struct {
	// ExecutionID overrides the generated record identifier. Optional.
	ExecutionID string

	// WorkflowID identifies the remote workflow to invoke. Required.
	WorkflowID string

	// Parameters are passed to the remote workflow as-is.
	Parameters map[string]any

	// Metadata seeds the record's annotations.
	Metadata map[string]any
}

// Execute runs one invocation to completion and returns the terminal
// record. The record is always returned, also on failure, so callers can
// inspect the final state; the error is the classified failure (a *Failure)
// when the execution did not succeed.
func (o *Orchestrator) Execute(ctx context.Context, req Request) (*Execution, error) {
	if req.WorkflowID == "" {
		return nil, fmt.Errorf("workflow id is required")
	}
	execution := NewExecution(req.WorkflowID, req.Parameters)
	if req.ExecutionID != "" {
		execution.ID = req.ExecutionID
	}
	for k, v := range req.Metadata {
		execution.Metadata[k] = v
	}
	logger := o.logger.With(
		"execution_id", execution.ID,
		"workflow_id", execution.WorkflowID)
	ctx = WithLogger(ctx, logger)

	if o.executionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.executionTimeout)
		defer cancel()
	}

	// The end of the trace is guaranteed no matter how the execution ends.
	final := execution
	defer func() {
		o.trace(ctx, "end", final, o.tracer.EndTrace)
	}()
	o.trace(ctx, "start", execution, o.tracer.StartTrace)

	fail := func(failure *Failure, attempts int) (*Execution, error) {
		terminal, err := o.finishFailure(execution, failure, attempts)
		if err != nil {
			logger.Error("invalid terminal transition", "error", err)
			terminal = execution
		}
		terminal = o.hooks.ExecutionError(ctx, terminal, failure)
		o.trace(ctx, "update", terminal, o.tracer.UpdateTrace)
		final = terminal
		return terminal, failure
	}

	// Pre-execution hooks may veto the execution before any attempt.
	updated, hookErr := o.hooks.PreExecution(ctx, execution)
	execution = updated
	if hookErr != nil {
		return fail(WrapFailure(FailurePermanent, hookErr), 0)
	}

	running, err := execution.Start()
	if err != nil {
		return execution, err
	}
	execution = running
	o.trace(ctx, "update", execution, o.tracer.UpdateTrace)
	logger.Debug("execution running")

	breaker := o.breakers.Get(execution.WorkflowID)

	var result any
	attempts := 0
	retryErr := retry.Do(ctx, func() error {
		attempts++
		return o.attempt(ctx, breaker, execution, &result)
	},
		retry.WithMaxAttempts(o.retryPolicy.MaxAttempts),
		retry.WithBaseWait(o.retryPolicy.BaseWait),
		retry.WithMaxWait(o.retryPolicy.MaxWait),
		retry.WithBackoffRate(o.retryPolicy.BackoffRate),
		retry.WithRetryIf(func(err error) bool {
			return Classify(err).Retryable(!o.retryPolicy.FailClosed)
		}),
		retry.WithOnRetry(func(attempt int, cause error, wait time.Duration) {
			logger.Debug("scheduling retry",
				"attempt", attempt,
				"wait", wait,
				"error", cause)
			execution = o.hooks.Retry(ctx, execution, Classify(cause), attempt)
		}))

	if retryErr != nil {
		return fail(Classify(retryErr), attempts)
	}

	succeeded, err := execution.Succeed(result)
	if err != nil {
		return execution, err
	}
	succeeded = succeeded.WithMetadata("attempts", attempts)
	succeeded = o.hooks.PostExecution(ctx, succeeded)
	o.trace(ctx, "update", succeeded, o.tracer.UpdateTrace)
	final = succeeded
	logger.Debug("execution succeeded", "attempts", attempts)
	return succeeded, nil
}

// attempt performs one invocation attempt under the circuit breaker and the
// per-attempt timeout. The breaker sees the outcome of every attempt that
// reached the invoker; rejections and caller-side endings are not service
// failures and leave its counters alone.
func (o *Orchestrator) attempt(ctx context.Context, breaker *CircuitBreaker, execution *Execution, result *any) error {
	if !breaker.Allow() {
		return NewFailure(FailureCircuitOpen,
			"circuit breaker open for workflow %q", execution.WorkflowID)
	}
	attemptCtx := ctx
	if o.attemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, o.attemptTimeout)
		defer cancel()
	}
	res, err := o.invoker.Invoke(attemptCtx, execution)
	if err != nil {
		failure := o.classifyAttempt(ctx, err)
		switch failure.Kind {
		case FailureCanceled, FailureDeadlineExceeded:
		default:
			breaker.RecordFailure()
		}
		return failure
	}
	breaker.RecordSuccess()
	*result = res
	return nil
}

// classifyAttempt maps an attempt error to a failure, distinguishing the
// execution-level deadline from a single attempt timing out. Only the
// former ends the execution as timed out; an attempt timeout is transient
// and eligible for retry.
func (o *Orchestrator) classifyAttempt(ctx context.Context, err error) *Failure {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Classify(ctxErr)
	}
	failure := Classify(err)
	if failure.Kind == FailureDeadlineExceeded || failure.Kind == FailureCanceled {
		// The execution context is still live, so the deadline or cancel
		// came from the attempt scope.
		return &Failure{
			Kind:    FailureTransient,
			Message: failure.Message,
			Wrapped: failure.Wrapped,
		}
	}
	return failure
}

// finishFailure moves a record to the terminal state implied by the failure
// kind.
func (o *Orchestrator) finishFailure(execution *Execution, failure *Failure, attempts int) (*Execution, error) {
	if attempts > 0 {
		execution = execution.WithMetadata("attempts", attempts)
	}
	switch failure.Kind {
	case FailureCanceled:
		return execution.Cancel(failure)
	case FailureDeadlineExceeded:
		return execution.Timeout(failure)
	default:
		return execution.Fail(failure)
	}
}

// trace invokes one tracer callback with a copy of the record, recovering
// panics so a broken tracer cannot alter the execution outcome.
func (o *Orchestrator) trace(ctx context.Context, stage string, execution *Execution, fn func(context.Context, *Execution)) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("tracer panicked",
				"stage", stage,
				"execution_id", execution.ID,
				"panic", fmt.Sprint(r))
		}
	}()
	fn(ctx, execution.Clone())
}

// RemoteStatus fetches the remote system's view of an execution.
func (o *Orchestrator) RemoteStatus(ctx context.Context, executionID string) (Status, error) {
	return o.invoker.GetStatus(ctx, executionID)
}

// Cancel asks the remote system to cancel an execution. A true response
// means the request was acknowledged, not that the work already stopped.
func (o *Orchestrator) Cancel(ctx context.Context, executionID string) (bool, error) {
	return o.invoker.Cancel(ctx, executionID)
}

// Healthy reports whether the remote system is reachable.
func (o *Orchestrator) Healthy(ctx context.Context) bool {
	return o.invoker.HealthCheck(ctx)
}

// BreakerSnapshots exposes the state of every circuit breaker created so
// far, for dashboards and tests.
func (o *Orchestrator) BreakerSnapshots() []BreakerSnapshot {
	return o.breakers.Snapshots()
}
