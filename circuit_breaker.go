package relay

import (
	"io"
	"log/slog"
	"sync"
	"time"
)

// BreakerState represents the circuit breaker state.
type BreakerState string

const (
	// BreakerClosed admits all invocations.
	BreakerClosed BreakerState = "closed"

	// BreakerOpen rejects invocations until the recovery timeout elapses.
	BreakerOpen BreakerState = "open"

	// BreakerHalfOpen admits a limited number of probe invocations to test
	// whether the remote workflow has recovered.
	BreakerHalfOpen BreakerState = "half_open"
)

// BreakerOptions configures circuit breakers. The zero value selects the
// defaults.
type BreakerOptions struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// breaker. Defaults to 5.
	FailureThreshold int

	// RecoveryTimeout is how long the breaker stays open before admitting
	// probes. Defaults to 30 seconds.
	RecoveryTimeout time.Duration

	// HalfOpenProbes is the number of invocations admitted while half-open.
	// Defaults to 1.
	HalfOpenProbes int

	Logger *slog.Logger
}

func (o *BreakerOptions) applyDefaults() {
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = 5
	}
	if o.RecoveryTimeout <= 0 {
		o.RecoveryTimeout = 30 * time.Second
	}
	if o.HalfOpenProbes <= 0 {
		o.HalfOpenProbes = 1
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
}

// CircuitBreaker protects one remote workflow from being hammered while it
// is failing. Consecutive failures open the breaker; after a recovery
// timeout a limited number of probes are admitted, and a successful probe
// closes it again. All methods are safe for concurrent use, and every
// check-then-transition happens under one lock so concurrent callers cannot
// both observe a stale state and transition twice.
type CircuitBreaker struct {
	workflowID string
	opts       BreakerOptions
	logger     *slog.Logger

	mutex       sync.Mutex
	state       BreakerState
	failures    int
	probes      int
	lastFailure time.Time
}

// NewCircuitBreaker creates a circuit breaker for one workflow.
func NewCircuitBreaker(workflowID string, opts BreakerOptions) *CircuitBreaker {
	opts.applyDefaults()
	return &CircuitBreaker{
		workflowID: workflowID,
		opts:       opts,
		logger:     opts.Logger.With("workflow_id", workflowID),
		state:      BreakerClosed,
	}
}

// Allow reports whether an invocation may proceed. An open breaker whose
// recovery timeout has elapsed transitions to half-open and admits the
// caller as a probe.
func (b *CircuitBreaker) Allow() bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if time.Since(b.lastFailure) >= b.opts.RecoveryTimeout {
			b.setState(BreakerHalfOpen)
			b.probes = 1
			return true
		}
		return false
	case BreakerHalfOpen:
		if b.probes < b.opts.HalfOpenProbes {
			b.probes++
			return true
		}
		return false
	}
	return true
}

// RecordSuccess notes a successful invocation. A success while half-open
// closes the breaker and resets the failure count.
func (b *CircuitBreaker) RecordSuccess() {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	switch b.state {
	case BreakerHalfOpen:
		b.setState(BreakerClosed)
		b.failures = 0
		b.probes = 0
	case BreakerClosed:
		b.failures = 0
	}
}

// RecordFailure notes a failed invocation. While closed, reaching the
// failure threshold opens the breaker. While half-open, any failure reopens
// it and restarts the recovery timeout.
func (b *CircuitBreaker) RecordFailure() {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.lastFailure = time.Now()
	switch b.state {
	case BreakerClosed:
		b.failures++
		if b.failures >= b.opts.FailureThreshold {
			b.setState(BreakerOpen)
		}
	case BreakerHalfOpen:
		b.setState(BreakerOpen)
		b.probes = 0
	}
}

// setState transitions the breaker and logs the change. Callers hold the lock.
func (b *CircuitBreaker) setState(state BreakerState) {
	if b.state == state {
		return
	}
	prior := b.state
	b.state = state
	b.logger.Info("circuit breaker state changed",
		"from", prior,
		"to", state,
		"failures", b.failures)
}

// State returns the current breaker state.
func (b *CircuitBreaker) State() BreakerState {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.state
}

// Snapshot returns a point-in-time view of the breaker for observability.
func (b *CircuitBreaker) Snapshot() BreakerSnapshot {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return BreakerSnapshot{
		WorkflowID:  b.workflowID,
		State:       b.state,
		Failures:    b.failures,
		LastFailure: b.lastFailure,
	}
}

// BreakerSnapshot is a point-in-time view of one circuit breaker.
type BreakerSnapshot struct {
	WorkflowID  string       `json:"workflow_id"`
	State       BreakerState `json:"state"`
	Failures    int          `json:"failures"`
	LastFailure time.Time    `json:"last_failure,omitzero"`
}

// BreakerRegistry maintains one circuit breaker per workflow. Concurrent
// executions of the same workflow share a breaker; different workflows fail
// independently.
type BreakerRegistry struct {
	opts     BreakerOptions
	mutex    sync.RWMutex
	breakers map[string]*CircuitBreaker
}

// NewBreakerRegistry creates a registry applying the same options to every
// breaker it creates.
func NewBreakerRegistry(opts BreakerOptions) *BreakerRegistry {
	opts.applyDefaults()
	return &BreakerRegistry{
		opts:     opts,
		breakers: map[string]*CircuitBreaker{},
	}
}

// Get returns the breaker for a workflow, creating it on first use.
func (r *BreakerRegistry) Get(workflowID string) *CircuitBreaker {
	r.mutex.RLock()
	breaker, ok := r.breakers[workflowID]
	r.mutex.RUnlock()
	if ok {
		return breaker
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()
	if breaker, ok := r.breakers[workflowID]; ok {
		return breaker
	}
	breaker = NewCircuitBreaker(workflowID, r.opts)
	r.breakers[workflowID] = breaker
	return breaker
}

// Snapshots returns a view of every breaker in the registry.
func (r *BreakerRegistry) Snapshots() []BreakerSnapshot {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	snapshots := make([]BreakerSnapshot, 0, len(r.breakers))
	for _, breaker := range r.breakers {
		snapshots = append(snapshots, breaker.Snapshot())
	}
	return snapshots
}
