package relay

import (
	"context"
	"encoding/json"
	"fmt"
)

// NewTypedInvoker wraps a function taking typed parameters in an Invoker.
// The execution's parameters are mapped onto P through a JSON round trip,
// so `json` field tags control the mapping. Parameters that do not fit the
// type are a permanent failure: retrying cannot make them fit. GetStatus,
// Cancel, and HealthCheck keep the FuncInvoker defaults.
func NewTypedInvoker[P, R any](fn func(ctx context.Context, params P) (R, error)) *FuncInvoker {
	return &FuncInvoker{
		InvokeFunc: func(ctx context.Context, execution *Execution) (any, error) {
			var params P
			if err := convertParameters(execution.Parameters, &params); err != nil {
				return nil, WrapFailure(FailurePermanent, err)
			}
			return fn(ctx, params)
		},
	}
}

// convertParameters maps loosely typed parameters onto a target struct.
func convertParameters(parameters map[string]any, target any) error {
	data, err := json.Marshal(parameters)
	if err != nil {
		return fmt.Errorf("failed to encode parameters: %w", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to decode parameters: %w", err)
	}
	return nil
}
