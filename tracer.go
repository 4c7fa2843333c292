package relay

import (
	"context"
	"io"
	"log/slog"
)

// Tracer observes execution lifecycle transitions. StartTrace fires once
// when the record is created, UpdateTrace on every status change, and
// EndTrace exactly once when the execution reaches a terminal state, even
// when it fails. Tracers receive copies of the record and must tolerate
// concurrent calls for different executions. A tracer must never influence
// the execution outcome; the orchestrator recovers tracer panics.
type Tracer interface {
	StartTrace(ctx context.Context, execution *Execution)
	UpdateTrace(ctx context.Context, execution *Execution)
	EndTrace(ctx context.Context, execution *Execution)
}

// Confirm the interfaces are implemented correctly.
var (
	_ Tracer = (*NullTracer)(nil)
	_ Tracer = (*LoggingTracer)(nil)
	_ Tracer = (*MultiTracer)(nil)
)

// NullTracer is a no-op implementation of Tracer.
type NullTracer struct{}

func NewNullTracer() *NullTracer {
	return &NullTracer{}
}

func (t *NullTracer) StartTrace(ctx context.Context, execution *Execution) {}

func (t *NullTracer) UpdateTrace(ctx context.Context, execution *Execution) {}

func (t *NullTracer) EndTrace(ctx context.Context, execution *Execution) {}

// LoggingTracer writes one structured log line per lifecycle transition.
type LoggingTracer struct {
	logger *slog.Logger
}

func NewLoggingTracer(logger *slog.Logger) *LoggingTracer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &LoggingTracer{logger: logger}
}

func (t *LoggingTracer) StartTrace(ctx context.Context, execution *Execution) {
	t.logger.Info("trace started",
		"execution_id", execution.ID,
		"workflow_id", execution.WorkflowID,
		"status", execution.Status)
}

func (t *LoggingTracer) UpdateTrace(ctx context.Context, execution *Execution) {
	t.logger.Info("trace updated",
		"execution_id", execution.ID,
		"workflow_id", execution.WorkflowID,
		"status", execution.Status)
}

func (t *LoggingTracer) EndTrace(ctx context.Context, execution *Execution) {
	attrs := []any{
		"execution_id", execution.ID,
		"workflow_id", execution.WorkflowID,
		"status", execution.Status,
	}
	if d, ok := execution.Duration(); ok {
		attrs = append(attrs, "duration", d)
	}
	if execution.Error != "" {
		attrs = append(attrs, "error", execution.Error)
	}
	t.logger.Info("trace ended", attrs...)
}

// MultiTracer fans lifecycle events out to multiple tracers in order.
type MultiTracer struct {
	tracers []Tracer
}

// NewMultiTracer creates a tracer that forwards to each of the given tracers.
func NewMultiTracer(tracers ...Tracer) *MultiTracer {
	return &MultiTracer{tracers: tracers}
}

// Add appends a tracer to the fan-out list.
func (t *MultiTracer) Add(tracer Tracer) {
	t.tracers = append(t.tracers, tracer)
}

func (t *MultiTracer) StartTrace(ctx context.Context, execution *Execution) {
	for _, tracer := range t.tracers {
		tracer.StartTrace(ctx, execution)
	}
}

func (t *MultiTracer) UpdateTrace(ctx context.Context, execution *Execution) {
	for _, tracer := range t.tracers {
		tracer.UpdateTrace(ctx, execution)
	}
}

func (t *MultiTracer) EndTrace(ctx context.Context, execution *Execution) {
	for _, tracer := range t.tracers {
		tracer.EndTrace(ctx, execution)
	}
}
