package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// TraceEvent is a single entry in an execution's trace log.
type TraceEvent struct {
	Event       string    `json:"event"`
	ExecutionID string    `json:"execution_id"`
	WorkflowID  string    `json:"workflow_id"`
	Status      Status    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Error       string    `json:"error,omitempty"`
	Duration    float64   `json:"duration_seconds,omitempty"`
}

// FileTracer is an implementation of Tracer that records lifecycle events to
// a file. A file is created per execution, formatted as newline-delimited
// JSON. Write errors are logged rather than surfaced, since a tracer must
// not affect the execution.
type FileTracer struct {
	directory string
	logger    *slog.Logger
}

// NewFileTracer creates a FileTracer writing under the given directory.
func NewFileTracer(directory string, logger *slog.Logger) *FileTracer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &FileTracer{directory: directory, logger: logger}
}

func (t *FileTracer) tracePath(executionID string) string {
	return filepath.Join(t.directory, fmt.Sprintf("%s.jsonl", executionID))
}

func (t *FileTracer) StartTrace(ctx context.Context, execution *Execution) {
	t.append(execution, "start")
}

func (t *FileTracer) UpdateTrace(ctx context.Context, execution *Execution) {
	t.append(execution, "update")
}

func (t *FileTracer) EndTrace(ctx context.Context, execution *Execution) {
	t.append(execution, "end")
}

func (t *FileTracer) append(execution *Execution, event string) {
	entry := &TraceEvent{
		Event:       event,
		ExecutionID: execution.ID,
		WorkflowID:  execution.WorkflowID,
		Status:      execution.Status,
		Timestamp:   time.Now(),
		Error:       execution.Error,
	}
	if d, ok := execution.Duration(); ok {
		entry.Duration = d.Seconds()
	}
	if err := t.write(entry); err != nil {
		t.logger.Error("failed to write trace event",
			"execution_id", execution.ID,
			"event", event,
			"error", err)
	}
}

func (t *FileTracer) write(entry *TraceEvent) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	path := t.tracePath(entry.ExecutionID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

// History reads back the trace log for an execution.
func (t *FileTracer) History(executionID string) ([]*TraceEvent, error) {
	data, err := os.ReadFile(t.tracePath(executionID))
	if err != nil {
		return nil, err
	}
	var events []*TraceEvent
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		var event TraceEvent
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			return nil, err
		}
		events = append(events, &event)
	}
	return events, nil
}
