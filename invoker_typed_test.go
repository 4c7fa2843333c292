package relay

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mathParams struct {
	A int `json:"a"`
	B int `json:"b"`
}

type mathResult struct {
	Sum int `json:"sum"`
}

func TestTypedInvoker(t *testing.T) {
	ctx := context.Background()

	t.Run("parameters map onto the typed struct", func(t *testing.T) {
		invoker := NewTypedInvoker(func(ctx context.Context, params mathParams) (mathResult, error) {
			return mathResult{Sum: params.A + params.B}, nil
		})

		orchestrator, err := New(Options{Invoker: invoker, Retry: fastRetries(3)})
		require.NoError(t, err)

		execution, err := orchestrator.Execute(ctx, Request{
			WorkflowID: "math.add",
			Parameters: map[string]any{"a": 5, "b": 3},
		})
		require.NoError(t, err)
		assert.Equal(t, mathResult{Sum: 8}, execution.Result)
	})

	t.Run("missing parameters take zero values", func(t *testing.T) {
		invoker := NewTypedInvoker(func(ctx context.Context, params mathParams) (mathResult, error) {
			return mathResult{Sum: params.A + params.B}, nil
		})

		result, err := invoker.Invoke(ctx, NewExecution("math.add", map[string]any{"a": 7}))
		require.NoError(t, err)
		assert.Equal(t, mathResult{Sum: 7}, result)
	})

	t.Run("parameters that do not fit fail permanently", func(t *testing.T) {
		calls := 0
		invoker := NewTypedInvoker(func(ctx context.Context, params mathParams) (mathResult, error) {
			calls++
			return mathResult{}, nil
		})

		orchestrator, err := New(Options{Invoker: invoker, Retry: fastRetries(3)})
		require.NoError(t, err)

		execution, err := orchestrator.Execute(ctx, Request{
			WorkflowID: "math.add",
			Parameters: map[string]any{"a": "five"},
		})
		require.Error(t, err)
		require.Equal(t, FailurePermanent, KindOf(err))
		require.Equal(t, StatusFailed, execution.Status)

		// A conversion failure never reaches the function and is not
		// worth retrying.
		require.Zero(t, calls)
	})
}
