//go:build integration

package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/deepnoodle-ai/relay"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var container *postgres.PostgresContainer

func TestMain(m *testing.M) {
	code := m.Run()
	if container != nil {
		_ = container.Terminate(context.Background())
	}
	os.Exit(code)
}

func setupHistory(t *testing.T) (*History, context.Context) {
	t.Helper()
	ctx := context.Background()

	if container == nil || !container.IsRunning() {
		var err error
		container, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("relay_test"),
			postgres.WithUsername("relay"),
			postgres.WithPassword("relay"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	history, err := Open(ctx, databaseURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { history.Close() })

	_, err = history.db.ExecContext(ctx, "TRUNCATE TABLE executions")
	require.NoError(t, err)

	return history, ctx
}

func finishedExecution(t *testing.T, workflowID string, result map[string]any) *relay.Execution {
	t.Helper()
	execution := relay.NewExecution(workflowID, map[string]any{"env": "test"})
	execution, err := execution.Start()
	require.NoError(t, err)
	execution, err = execution.Succeed(result)
	require.NoError(t, err)
	return execution
}

func TestRecordAndGet(t *testing.T) {
	history, ctx := setupHistory(t)

	execution := finishedExecution(t, "image-pipeline", map[string]any{"url": "https://cdn.example.com/1.png"})
	require.NoError(t, history.Record(ctx, execution))

	loaded, err := history.Get(ctx, execution.ID)
	require.NoError(t, err)
	require.Equal(t, execution.ID, loaded.ID)
	require.Equal(t, "image-pipeline", loaded.WorkflowID)
	require.Equal(t, relay.StatusSucceeded, loaded.Status)
	require.Equal(t, map[string]any{"env": "test"}, loaded.Parameters)
	require.Equal(t, map[string]any{"url": "https://cdn.example.com/1.png"}, loaded.Result)
	require.WithinDuration(t, execution.StartedAt, loaded.StartedAt, time.Millisecond)
}

func TestRecordUpserts(t *testing.T) {
	history, ctx := setupHistory(t)

	execution := relay.NewExecution("demo", nil)
	require.NoError(t, history.Record(ctx, execution))

	running, err := execution.Start()
	require.NoError(t, err)
	require.NoError(t, history.Record(ctx, running))

	finished, err := running.Fail(relay.NewFailure(relay.FailurePermanent, "no such workflow"))
	require.NoError(t, err)
	require.NoError(t, history.Record(ctx, finished))

	loaded, err := history.Get(ctx, execution.ID)
	require.NoError(t, err)
	require.Equal(t, relay.StatusFailed, loaded.Status)
	require.Contains(t, loaded.Error, "no such workflow")
}

func TestGetMissingExecution(t *testing.T) {
	history, ctx := setupHistory(t)

	_, err := history.Get(ctx, "exec_does_not_exist")
	require.Error(t, err)
	require.Contains(t, err.Error(), "execution not found")
}

func TestForWorkflow(t *testing.T) {
	history, ctx := setupHistory(t)

	for i := 0; i < 3; i++ {
		execution := finishedExecution(t, "report", map[string]any{"n": i})
		require.NoError(t, history.Record(ctx, execution))
	}
	other := finishedExecution(t, "cleanup", nil)
	require.NoError(t, history.Record(ctx, other))

	summaries, err := history.ForWorkflow(ctx, "report", 10)
	require.NoError(t, err)
	require.Len(t, summaries, 3)
	for _, summary := range summaries {
		require.Equal(t, "report", summary.WorkflowID)
		require.Equal(t, string(relay.StatusSucceeded), summary.Status)
	}

	limited, err := history.ForWorkflow(ctx, "report", 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
}

func TestHistoryAsTracer(t *testing.T) {
	history, ctx := setupHistory(t)

	orchestrator, err := relay.New(relay.Options{
		Invoker: &relay.FuncInvoker{
			InvokeFunc: func(ctx context.Context, execution *relay.Execution) (any, error) {
				return map[string]any{"ok": true}, nil
			},
		},
		Tracer: history,
	})
	require.NoError(t, err)

	execution, err := orchestrator.Execute(ctx, relay.Request{WorkflowID: "traced"})
	require.NoError(t, err)

	loaded, err := history.Get(ctx, execution.ID)
	require.NoError(t, err)
	require.Equal(t, relay.StatusSucceeded, loaded.Status)
	require.Equal(t, map[string]any{"ok": true}, loaded.Result)
}
