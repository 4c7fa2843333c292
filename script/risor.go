package script

import (
	"context"
	"fmt"
	"sort"

	"github.com/risor-io/risor"
	"github.com/risor-io/risor/compiler"
	"github.com/risor-io/risor/modules/all"
	"github.com/risor-io/risor/object"
	"github.com/risor-io/risor/parser"
)

// RisorCompiler compiles Risor expressions. Global names must be known at
// compile time, so names that only receive values at evaluation time need a
// placeholder entry in the globals passed here.
type RisorCompiler struct {
	globals map[string]any
}

// NewRisorCompiler creates a compiler with the given globals.
func NewRisorCompiler(globals map[string]any) *RisorCompiler {
	return &RisorCompiler{globals: globals}
}

// Compile parses and compiles one expression.
func (c *RisorCompiler) Compile(ctx context.Context, code string) (Script, error) {
	ast, err := parser.Parse(ctx, code)
	if err != nil {
		return nil, err
	}
	var names []string
	for name := range c.globals {
		names = append(names, name)
	}
	sort.Strings(names)

	compiled, err := compiler.Compile(ast, compiler.WithGlobalNames(names))
	if err != nil {
		return nil, err
	}
	return &RisorScript{compiler: c, code: compiled}, nil
}

// DefaultGlobals returns the Risor builtins plus placeholder entries for
// the names delivered per event: the execution view, the hook phase, the
// upcoming attempt number, and the failure message.
func DefaultGlobals() map[string]any {
	globals := map[string]any{}
	for name, value := range all.Builtins() {
		globals[name] = value
	}
	globals["execution"] = object.NewMap(map[string]object.Object{})
	globals["phase"] = ""
	globals["attempt"] = 0
	globals["error"] = ""
	return globals
}

// RisorScript is a compiled Risor expression.
type RisorScript struct {
	compiler *RisorCompiler
	code     *compiler.Code
}

// Evaluate runs the expression. Globals passed here override the compiler's
// entries of the same name.
func (s *RisorScript) Evaluate(ctx context.Context, globals map[string]any) (Value, error) {
	combined := make(map[string]any, len(s.compiler.globals)+len(globals))
	for name, value := range s.compiler.globals {
		combined[name] = value
	}
	for name, value := range globals {
		combined[name] = value
	}
	result, err := risor.EvalCode(ctx, s.code, risor.WithGlobals(combined))
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate expression: %w", err)
	}
	return &RisorValue{obj: result}, nil
}

// RisorValue wraps a Risor object as a Value.
type RisorValue struct {
	obj object.Object
}

// Value converts the result to a plain Go value.
func (v *RisorValue) Value() any {
	return convertRisorObject(v.obj)
}

// String returns the string form of the result.
func (v *RisorValue) String() string {
	switch o := v.obj.(type) {
	case *object.String:
		return o.Value()
	case *object.NilType:
		return ""
	default:
		return fmt.Sprintf("%v", convertRisorObject(v.obj))
	}
}

// IsTruthy reports condition truthiness: false, 0, "", empty collections,
// and the string "false" are all false.
func (v *RisorValue) IsTruthy() bool {
	return risorTruthy(v.obj)
}

// convertRisorObject converts a Risor object to a plain Go value.
func convertRisorObject(obj object.Object) any {
	switch o := obj.(type) {
	case *object.String:
		return o.Value()
	case *object.Int:
		return o.Value()
	case *object.Float:
		return o.Value()
	case *object.Bool:
		return o.Value()
	case *object.Time:
		return o.Value()
	case *object.NilType:
		return nil
	case *object.List:
		var result []any
		for _, item := range o.Value() {
			result = append(result, convertRisorObject(item))
		}
		return result
	case *object.Map:
		result := make(map[string]any, len(o.Value()))
		for key, value := range o.Value() {
			result[key] = convertRisorObject(value)
		}
		return result
	case *object.Set:
		var result []any
		for _, item := range o.Value() {
			result = append(result, convertRisorObject(item))
		}
		return result
	default:
		return obj.Inspect()
	}
}

func risorTruthy(obj object.Object) bool {
	switch o := obj.(type) {
	case *object.Bool:
		return o.Value()
	case *object.Int:
		return o.Value() != 0
	case *object.Float:
		return o.Value() != 0.0
	case *object.String:
		value := o.Value()
		return value != "" && value != "false"
	case *object.List:
		return len(o.Value()) > 0
	case *object.Map:
		return len(o.Value()) > 0
	case *object.NilType:
		return false
	default:
		return o.IsTruthy()
	}
}
