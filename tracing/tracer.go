// Package tracing bridges execution lifecycles onto OpenTelemetry spans.
// Each execution becomes one span, opened when the orchestrator starts the
// trace and closed when the record reaches a terminal status.
package tracing

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/deepnoodle-ai/relay"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/deepnoodle-ai/relay"

var (
	providerOnce sync.Once
	providerErr  error
)

// Init installs a global tracer provider with the stdout exporter. Traces
// go to os.Stdout, or to outputFile when given. The first successful call
// wins; later calls return its result.
func Init(serviceName, serviceVersion, outputFile string) error {
	var w io.Writer = os.Stdout
	if outputFile != "" {
		f, err := os.Create(outputFile)
		if err != nil {
			return err
		}
		w = f
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return err
	}
	return InitWithExporter(serviceName, serviceVersion, exporter)
}

// InitWithExporter installs a global tracer provider using the supplied
// span exporter, for callers integrating with OTLP or another backend.
func InitWithExporter(serviceName, serviceVersion string, exporter sdktrace.SpanExporter) error {
	providerOnce.Do(func() {
		res, err := resource.New(context.Background(),
			resource.WithAttributes(
				attribute.String("service.name", serviceName),
				attribute.String("service.version", serviceVersion),
			),
		)
		if err != nil {
			providerErr = err
			return
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tp)
	})
	return providerErr
}

// Options configures a Tracer.
type Options struct {
	// Provider supplies the underlying tracer. Defaults to the global
	// provider, which Init installs.
	Provider trace.TracerProvider
}

// Tracer emits one OpenTelemetry span per execution. It implements
// relay.Tracer and is safe for concurrent use.
type Tracer struct {
	tracer trace.Tracer

	mu    sync.Mutex
	spans map[string]trace.Span
}

var _ relay.Tracer = (*Tracer)(nil)

// New creates a Tracer.
func New(opts Options) *Tracer {
	provider := opts.Provider
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	return &Tracer{
		tracer: provider.Tracer(instrumentationName),
		spans:  map[string]trace.Span{},
	}
}

// StartTrace opens the span for an execution.
func (t *Tracer) StartTrace(ctx context.Context, execution *relay.Execution) {
	_, span := t.tracer.Start(ctx, "execute "+execution.WorkflowID,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("execution.id", execution.ID),
			attribute.String("workflow.id", execution.WorkflowID),
		),
	)
	t.mu.Lock()
	t.spans[execution.ID] = span
	t.mu.Unlock()
}

// UpdateTrace records a status change as a span event.
func (t *Tracer) UpdateTrace(ctx context.Context, execution *relay.Execution) {
	span := t.span(execution.ID)
	if span == nil {
		return
	}
	span.AddEvent("status",
		trace.WithAttributes(attribute.String("execution.status", string(execution.Status))))
}

// EndTrace closes the span with the terminal status of the record. Spans
// for executions that never started are ended untouched.
func (t *Tracer) EndTrace(ctx context.Context, execution *relay.Execution) {
	t.mu.Lock()
	span, ok := t.spans[execution.ID]
	delete(t.spans, execution.ID)
	t.mu.Unlock()
	if !ok {
		return
	}

	span.SetAttributes(attribute.String("execution.status", string(execution.Status)))
	if attempts, ok := execution.Metadata["attempts"]; ok {
		if n, ok := attempts.(int); ok {
			span.SetAttributes(attribute.Int("execution.attempts", n))
		}
	}
	switch execution.Status {
	case relay.StatusSucceeded:
		span.SetStatus(codes.Ok, "")
	case relay.StatusFailed, relay.StatusCancelled, relay.StatusTimedOut:
		span.SetStatus(codes.Error, execution.Error)
	}
	span.End()
}

func (t *Tracer) span(executionID string) trace.Span {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.spans[executionID]
}
