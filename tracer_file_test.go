package relay

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileTracerWritesHistory(t *testing.T) {
	tracer := NewFileTracer(t.TempDir(), nil)
	ctx := context.Background()

	execution := NewExecution("demo", nil)
	tracer.StartTrace(ctx, execution)

	running := mustStart(t, execution)
	tracer.UpdateTrace(ctx, running)

	done, err := running.Fail(errors.New("boom"))
	require.NoError(t, err)
	tracer.UpdateTrace(ctx, done)
	tracer.EndTrace(ctx, done)

	events, err := tracer.History(execution.ID)
	require.NoError(t, err)
	require.Len(t, events, 4)

	require.Equal(t, "start", events[0].Event)
	require.Equal(t, StatusPending, events[0].Status)
	require.Equal(t, "update", events[1].Event)
	require.Equal(t, StatusRunning, events[1].Status)
	require.Equal(t, "end", events[3].Event)
	require.Equal(t, StatusFailed, events[3].Status)
	require.Equal(t, "boom", events[3].Error)

	for _, event := range events {
		require.Equal(t, execution.ID, event.ExecutionID)
		require.Equal(t, "demo", event.WorkflowID)
		require.False(t, event.Timestamp.IsZero())
	}
}

func TestFileTracerHistoryMissingExecution(t *testing.T) {
	tracer := NewFileTracer(t.TempDir(), nil)
	_, err := tracer.History("exec_missing")
	require.Error(t, err)
}

func TestFileTracerSeparatesExecutions(t *testing.T) {
	tracer := NewFileTracer(t.TempDir(), nil)
	ctx := context.Background()

	first := NewExecution("demo", nil)
	second := NewExecution("demo", nil)
	tracer.StartTrace(ctx, first)
	tracer.StartTrace(ctx, second)

	events, err := tracer.History(first.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
}
