package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/deepnoodle-ai/relay"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func newTestHook(t *testing.T) *Hook {
	t.Helper()
	return NewHook(Options{Namespace: "relay_test", Registerer: prometheus.NewRegistry()})
}

func newOrchestrator(t *testing.T, hook *Hook, invoker relay.Invoker) *relay.Orchestrator {
	t.Helper()
	hooks := relay.NewHooks()
	require.NoError(t, hook.RegisterOn(hooks))
	orchestrator, err := relay.New(relay.Options{
		Invoker: invoker,
		Hooks:   hooks,
		Retry:   relay.RetryPolicy{MaxAttempts: 3, BaseWait: time.Millisecond},
	})
	require.NoError(t, err)
	return orchestrator
}

func TestHookCountsSuccess(t *testing.T) {
	hook := newTestHook(t)
	orchestrator := newOrchestrator(t, hook, &relay.FuncInvoker{
		InvokeFunc: func(ctx context.Context, execution *relay.Execution) (any, error) {
			return "done", nil
		},
	})

	_, err := orchestrator.Execute(context.Background(), relay.Request{WorkflowID: "greeter"})
	require.NoError(t, err)

	require.Equal(t, float64(1),
		testutil.ToFloat64(hook.executions.WithLabelValues("greeter", "succeeded")))
	require.Equal(t, float64(0),
		testutil.ToFloat64(hook.retries.WithLabelValues("greeter")))
}

func TestHookCountsRetriesAndFailures(t *testing.T) {
	hook := newTestHook(t)
	orchestrator := newOrchestrator(t, hook, &relay.FuncInvoker{
		InvokeFunc: func(ctx context.Context, execution *relay.Execution) (any, error) {
			return nil, relay.NewFailure(relay.FailureTransient, "host hiccup")
		},
	})

	_, err := orchestrator.Execute(context.Background(), relay.Request{WorkflowID: "flaky"})
	require.Error(t, err)

	// Three attempts means two scheduled retries and one terminal failure.
	require.Equal(t, float64(2),
		testutil.ToFloat64(hook.retries.WithLabelValues("flaky")))
	require.Equal(t, float64(1),
		testutil.ToFloat64(hook.executions.WithLabelValues("flaky", "failed")))
	require.Equal(t, float64(1),
		testutil.ToFloat64(hook.failures.WithLabelValues("flaky", "transient")))
}

func TestHookObservesDuration(t *testing.T) {
	hook := newTestHook(t)
	orchestrator := newOrchestrator(t, hook, &relay.FuncInvoker{
		InvokeFunc: func(ctx context.Context, execution *relay.Execution) (any, error) {
			return "ok", nil
		},
	})

	_, err := orchestrator.Execute(context.Background(), relay.Request{WorkflowID: "timed"})
	require.NoError(t, err)

	count := testutil.CollectAndCount(hook.duration)
	require.Greater(t, count, 0)
}

func TestHookIgnoresUnrelatedPhases(t *testing.T) {
	hook := newTestHook(t)
	execution := relay.NewExecution("demo", nil)

	updated, err := hook.Run(context.Background(), &relay.HookEvent{
		Phase:     relay.PhasePreExecution,
		Execution: execution,
	})
	require.NoError(t, err)
	require.Nil(t, updated)
	require.Equal(t, float64(0),
		testutil.ToFloat64(hook.executions.WithLabelValues("demo", "succeeded")))
}
