package script

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

var templateExpr = regexp.MustCompile(`\${([^}]+)}`)

// Template is a string with embedded ${...} expressions. The literal parts
// are kept verbatim; each expression is compiled once and evaluated per
// call.
type Template struct {
	raw     string
	parts   []string
	scripts []Script
}

// NewTemplate compiles the expressions in a template string.
func NewTemplate(compiler Compiler, raw string) (*Template, error) {
	if strings.Count(raw, "${") > strings.Count(raw, "}") {
		return nil, fmt.Errorf("unclosed template expression in string: %q", raw)
	}
	matches := templateExpr.FindAllStringSubmatchIndex(raw, -1)
	if len(matches) == 0 {
		return &Template{raw: raw}, nil
	}

	var lastEnd int
	var parts []string
	var scripts []Script
	for _, match := range matches {
		if match[0] > lastEnd {
			parts = append(parts, raw[lastEnd:match[0]])
		}
		expr := raw[match[2]:match[3]]
		compiled, err := compiler.Compile(context.Background(), expr)
		if err != nil {
			return nil, fmt.Errorf("failed to compile template expression %q: %w", expr, err)
		}
		scripts = append(scripts, compiled)
		// Placeholder for the evaluated result.
		parts = append(parts, "")
		lastEnd = match[1]
	}
	if lastEnd < len(raw) {
		parts = append(parts, raw[lastEnd:])
	}
	return &Template{raw: raw, parts: parts, scripts: scripts}, nil
}

// Eval renders the template with the given globals.
func (t *Template) Eval(ctx context.Context, globals map[string]any) (string, error) {
	if len(t.scripts) == 0 {
		return t.raw, nil
	}
	parts := make([]string, len(t.parts))
	copy(parts, t.parts)

	next := 0
	for _, compiled := range t.scripts {
		result, err := compiled.Evaluate(ctx, globals)
		if err != nil {
			return "", fmt.Errorf("failed to evaluate template expression: %w", err)
		}
		for ; next < len(parts); next++ {
			if parts[next] == "" {
				parts[next] = result.String()
				next++
				break
			}
		}
	}
	return strings.Join(parts, ""), nil
}
