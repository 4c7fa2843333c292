package relay

import (
	"context"
	"fmt"

	"github.com/deepnoodle-ai/relay/script"
)

// ScriptHookOptions configures a ScriptHook.
type ScriptHookOptions struct {
	// Name identifies the hook in logs. Defaults to "script".
	Name string

	// Condition is an expression evaluated in the pre-execution phase. It
	// sees the globals `execution`, `phase`, `attempt`, and `error`. A
	// falsy result aborts the execution.
	Condition string

	// Annotations maps metadata keys to template strings rendered with the
	// same globals on every phase the hook runs in. Rendered values are
	// written to the record's metadata.
	Annotations map[string]string

	// Compiler overrides the expression engine. Defaults to Risor with
	// DefaultGlobals.
	Compiler script.Compiler
}

// ScriptHook gates and annotates executions with compiled expressions. A
// condition like `execution["parameters"]["env"] != "prod"` turns the hook
// into a guard; annotation templates stamp rendered values into metadata.
type ScriptHook struct {
	name        string
	condition   script.Script
	annotations map[string]*script.Template
}

var _ Hook = (*ScriptHook)(nil)

// NewScriptHook compiles the condition and annotation templates.
func NewScriptHook(opts ScriptHookOptions) (*ScriptHook, error) {
	if opts.Name == "" {
		opts.Name = "script"
	}
	compiler := opts.Compiler
	if compiler == nil {
		compiler = script.NewRisorCompiler(script.DefaultGlobals())
	}
	hook := &ScriptHook{
		name:        opts.Name,
		annotations: map[string]*script.Template{},
	}
	if opts.Condition != "" {
		condition, err := compiler.Compile(context.Background(), opts.Condition)
		if err != nil {
			return nil, fmt.Errorf("failed to compile condition: %w", err)
		}
		hook.condition = condition
	}
	for key, raw := range opts.Annotations {
		template, err := script.NewTemplate(compiler, raw)
		if err != nil {
			return nil, fmt.Errorf("failed to compile annotation %q: %w", key, err)
		}
		hook.annotations[key] = template
	}
	return hook, nil
}

// Name identifies the hook in logs.
func (h *ScriptHook) Name() string { return h.name }

// Run evaluates the condition in the pre-execution phase and renders the
// annotations in every phase.
func (h *ScriptHook) Run(ctx context.Context, event *HookEvent) (*Execution, error) {
	globals := h.globals(event)

	if event.Phase == PhasePreExecution && h.condition != nil {
		result, err := h.condition.Evaluate(ctx, globals)
		if err != nil {
			return nil, err
		}
		if !result.IsTruthy() {
			return nil, fmt.Errorf("condition rejected workflow %q", event.Execution.WorkflowID)
		}
	}

	if len(h.annotations) == 0 {
		return nil, nil
	}
	updated := event.Execution
	for key, template := range h.annotations {
		value, err := template.Eval(ctx, globals)
		if err != nil {
			return nil, fmt.Errorf("failed to render annotation %q: %w", key, err)
		}
		updated = updated.WithMetadata(key, value)
	}
	return updated, nil
}

// globals builds the expression environment for one event. The execution is
// exposed as a plain map so expressions cannot touch the record itself.
func (h *ScriptHook) globals(event *HookEvent) map[string]any {
	execution := event.Execution
	errText := ""
	if event.Err != nil {
		errText = event.Err.Error()
	}
	return map[string]any{
		"phase":   string(event.Phase),
		"attempt": int64(event.Attempt),
		"error":   errText,
		"execution": map[string]any{
			"id":          execution.ID,
			"workflow_id": execution.WorkflowID,
			"status":      string(execution.Status),
			"parameters":  execution.Parameters,
			"metadata":    execution.Metadata,
			"error":       execution.Error,
		},
	}
}
