package tracing

import (
	"context"
	"testing"
	"time"

	"github.com/deepnoodle-ai/relay"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestTracer(t *testing.T) (*Tracer, *tracetest.InMemoryExporter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	return New(Options{Provider: provider}), exporter
}

func attributeValue(t *testing.T, attrs []attribute.KeyValue, key string) string {
	t.Helper()
	for _, attr := range attrs {
		if string(attr.Key) == key {
			return attr.Value.Emit()
		}
	}
	t.Fatalf("attribute %q not found", key)
	return ""
}

func TestTracerSpansSuccessfulExecution(t *testing.T) {
	tracer, exporter := newTestTracer(t)

	orchestrator, err := relay.New(relay.Options{
		Invoker: &relay.FuncInvoker{
			InvokeFunc: func(ctx context.Context, execution *relay.Execution) (any, error) {
				return "done", nil
			},
		},
		Tracer: tracer,
	})
	require.NoError(t, err)

	execution, err := orchestrator.Execute(context.Background(), relay.Request{WorkflowID: "greeter"})
	require.NoError(t, err)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	span := spans[0]
	require.Equal(t, "execute greeter", span.Name)
	require.Equal(t, codes.Ok, span.Status.Code)
	require.Equal(t, execution.ID, attributeValue(t, span.Attributes, "execution.id"))
	require.Equal(t, "succeeded", attributeValue(t, span.Attributes, "execution.status"))

	// The running and terminal status changes arrive as span events.
	var statuses []string
	for _, event := range span.Events {
		if event.Name == "status" {
			statuses = append(statuses, attributeValue(t, event.Attributes, "execution.status"))
		}
	}
	require.Equal(t, []string{"running", "succeeded"}, statuses)
}

func TestTracerMarksFailedExecutions(t *testing.T) {
	tracer, exporter := newTestTracer(t)

	orchestrator, err := relay.New(relay.Options{
		Invoker: &relay.FuncInvoker{
			InvokeFunc: func(ctx context.Context, execution *relay.Execution) (any, error) {
				return nil, relay.NewFailure(relay.FailurePermanent, "no such workflow")
			},
		},
		Tracer: tracer,
		Retry:  relay.RetryPolicy{MaxAttempts: 1, BaseWait: time.Millisecond},
	})
	require.NoError(t, err)

	_, err = orchestrator.Execute(context.Background(), relay.Request{WorkflowID: "missing"})
	require.Error(t, err)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	span := spans[0]
	require.Equal(t, codes.Error, span.Status.Code)
	require.Contains(t, span.Status.Description, "no such workflow")
	require.Equal(t, "failed", attributeValue(t, span.Attributes, "execution.status"))
}

func TestTracerToleratesUnknownExecutions(t *testing.T) {
	tracer, exporter := newTestTracer(t)

	execution := relay.NewExecution("demo", nil)
	tracer.UpdateTrace(context.Background(), execution)
	tracer.EndTrace(context.Background(), execution)
	require.Empty(t, exporter.GetSpans())
}

func TestTracerConcurrentExecutions(t *testing.T) {
	tracer, exporter := newTestTracer(t)

	orchestrator, err := relay.New(relay.Options{
		Invoker: &relay.FuncInvoker{
			InvokeFunc: func(ctx context.Context, execution *relay.Execution) (any, error) {
				return execution.WorkflowID, nil
			},
		},
		Tracer:      tracer,
		Concurrency: 4,
	})
	require.NoError(t, err)

	requests := make([]relay.Request, 8)
	for i := range requests {
		requests[i] = relay.Request{WorkflowID: "load-test"}
	}
	results := orchestrator.ExecuteBatch(context.Background(), requests)
	require.Len(t, results, 8)
	require.Len(t, exporter.GetSpans(), 8)
}
