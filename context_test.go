package relay

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoggerContext(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
		ctx := WithLogger(context.Background(), logger)
		got, ok := GetLoggerFromContext(ctx)
		require.True(t, ok)
		require.Same(t, logger, got)
	})

	t.Run("absent logger reports false", func(t *testing.T) {
		_, ok := GetLoggerFromContext(context.Background())
		require.False(t, ok)
	})

	t.Run("invokers see the execution-scoped logger", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, nil))

		invoker := &FuncInvoker{
			InvokeFunc: func(ctx context.Context, execution *Execution) (any, error) {
				contextLogger, ok := GetLoggerFromContext(ctx)
				require.True(t, ok)
				contextLogger.Info("handling request")
				return "ok", nil
			},
		}
		orchestrator, err := New(Options{Invoker: invoker, Logger: logger})
		require.NoError(t, err)

		execution, err := orchestrator.Execute(context.Background(), Request{WorkflowID: "greeter"})
		require.NoError(t, err)

		// The context logger carries the execution attributes.
		require.Contains(t, buf.String(), "handling request")
		require.Contains(t, buf.String(), execution.ID)
	})
}
