// Package script compiles and evaluates small expressions used to gate and
// annotate executions. The default engine is Risor; the interfaces keep the
// rest of the module independent of any one scripting language.
package script

import (
	"context"
)

// Value is the result of evaluating a script.
type Value interface {

	// Value returns the result as a Go value.
	Value() any

	// String returns the string form of the result.
	String() string

	// IsTruthy reports whether the result counts as true in a condition.
	IsTruthy() bool
}

// Script is a compiled expression ready for evaluation.
type Script interface {
	Evaluate(ctx context.Context, globals map[string]any) (Value, error)
}

// Compiler compiles source code into a Script.
type Compiler interface {
	Compile(ctx context.Context, code string) (Script, error)
}
