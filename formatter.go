package relay

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
)

// Formatter interface for pretty output
type Formatter interface {
	PrintExecutionStart(execution *Execution)
	PrintRetry(execution *Execution, attempt int, cause error)
	PrintExecutionEnd(execution *Execution, cause error)
}

// ConsoleFormatter writes colorized progress lines for interactive runs.
// Pair it with a quiet logger: the formatter shows progress, the logger
// keeps the details.
type ConsoleFormatter struct {
	out io.Writer
}

var _ Formatter = (*ConsoleFormatter)(nil)

// NewConsoleFormatter creates a formatter writing to stdout.
func NewConsoleFormatter() *ConsoleFormatter {
	return NewConsoleFormatterWithWriter(os.Stdout)
}

// NewConsoleFormatterWithWriter creates a formatter writing to w.
func NewConsoleFormatterWithWriter(w io.Writer) *ConsoleFormatter {
	return &ConsoleFormatter{out: w}
}

func (f *ConsoleFormatter) PrintExecutionStart(execution *Execution) {
	fmt.Fprintf(f.out, "%s %s (%s)\n",
		color.BlueString("▶"), execution.WorkflowID, execution.ID)
}

func (f *ConsoleFormatter) PrintRetry(execution *Execution, attempt int, cause error) {
	fmt.Fprintf(f.out, "%s %s retrying (attempt %d): %v\n",
		color.YellowString("↻"), execution.WorkflowID, attempt, cause)
}

func (f *ConsoleFormatter) PrintExecutionEnd(execution *Execution, cause error) {
	if cause != nil || execution.Status != StatusSucceeded {
		fmt.Fprintf(f.out, "%s %s %s",
			color.RedString("✗"), execution.WorkflowID, execution.Status)
		if execution.Error != "" {
			fmt.Fprintf(f.out, ": %s", execution.Error)
		}
		fmt.Fprintln(f.out)
		return
	}
	line := fmt.Sprintf("%s %s succeeded", color.GreenString("✓"), execution.WorkflowID)
	if d, ok := execution.Duration(); ok {
		line += fmt.Sprintf(" in %s", d.Round(time.Millisecond))
	}
	fmt.Fprintln(f.out, line)
}

// NewFormatterHook adapts a Formatter to the hook phases. Register it on
// every phase; it prints on pre-execution, retry, post-execution, and
// error events and ignores the rest.
func NewFormatterHook(formatter Formatter) Hook {
	return NewHookFunc("formatter", func(ctx context.Context, event *HookEvent) (*Execution, error) {
		switch event.Phase {
		case PhasePreExecution:
			formatter.PrintExecutionStart(event.Execution)
		case PhaseRetry:
			formatter.PrintRetry(event.Execution, event.Attempt, event.Err)
		case PhasePostExecution:
			formatter.PrintExecutionEnd(event.Execution, nil)
		case PhaseError:
			formatter.PrintExecutionEnd(event.Execution, event.Err)
		}
		return nil, nil
	})
}
