// Package metrics exposes execution outcomes as Prometheus metrics. The
// Hook registers on the post-execution, error, and retry phases and counts
// terminal statuses, failure kinds, retries, and execution durations.
package metrics

import (
	"context"

	"github.com/deepnoodle-ai/relay"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Options configures a Hook.
type Options struct {
	// Namespace prefixes every metric name. Defaults to "relay".
	Namespace string

	// Registerer receives the metrics. Defaults to the global registerer,
	// which is what promhttp.Handler serves.
	Registerer prometheus.Registerer
}

// Hook records execution metrics. Register it with RegisterOn or wire it
// into specific phases by hand.
type Hook struct {
	executions *prometheus.CounterVec
	failures   *prometheus.CounterVec
	retries    *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

var _ relay.Hook = (*Hook)(nil)

// NewHook creates the metric set.
func NewHook(opts Options) *Hook {
	if opts.Namespace == "" {
		opts.Namespace = "relay"
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(opts.Registerer)
	return &Hook{
		executions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: opts.Namespace,
				Name:      "executions_total",
				Help:      "Executions reaching a terminal status",
			},
			[]string{"workflow_id", "status"},
		),
		failures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: opts.Namespace,
				Name:      "failures_total",
				Help:      "Failed executions by failure kind",
			},
			[]string{"workflow_id", "kind"},
		),
		retries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: opts.Namespace,
				Name:      "retries_total",
				Help:      "Retry attempts scheduled after failed attempts",
			},
			[]string{"workflow_id"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: opts.Namespace,
				Name:      "execution_duration_seconds",
				Help:      "Wall-clock execution duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"workflow_id", "status"},
		),
	}
}

// Name identifies the hook in logs.
func (h *Hook) Name() string { return "metrics" }

// Run records the event. It never annotates the record and never fails.
func (h *Hook) Run(ctx context.Context, event *relay.HookEvent) (*relay.Execution, error) {
	execution := event.Execution
	switch event.Phase {
	case relay.PhasePostExecution:
		h.observeTerminal(execution)
	case relay.PhaseError:
		h.observeTerminal(execution)
		h.failures.WithLabelValues(execution.WorkflowID, string(relay.KindOf(event.Err))).Inc()
	case relay.PhaseRetry:
		h.retries.WithLabelValues(execution.WorkflowID).Inc()
	}
	return nil, nil
}

// RegisterOn attaches the hook to the phases it consumes.
func (h *Hook) RegisterOn(hooks *relay.Hooks) error {
	for _, phase := range []relay.HookPhase{relay.PhasePostExecution, relay.PhaseError, relay.PhaseRetry} {
		if err := hooks.Register(phase, h); err != nil {
			return err
		}
	}
	return nil
}

func (h *Hook) observeTerminal(execution *relay.Execution) {
	h.executions.WithLabelValues(execution.WorkflowID, string(execution.Status)).Inc()
	if d, ok := execution.Duration(); ok {
		h.duration.WithLabelValues(execution.WorkflowID, string(execution.Status)).Observe(d.Seconds())
	}
}
