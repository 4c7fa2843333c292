// Package postgres persists execution history in PostgreSQL. The History
// store doubles as a relay.Tracer, so wiring it into an orchestrator is
// enough to keep a queryable record of every execution.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/deepnoodle-ai/relay"

	_ "github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS executions (
	id           TEXT PRIMARY KEY,
	workflow_id  TEXT NOT NULL,
	status       TEXT NOT NULL,
	parameters   JSONB,
	result       JSONB,
	error        TEXT NOT NULL DEFAULT '',
	metadata     JSONB,
	started_at   TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	updated_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS executions_workflow_idx
	ON executions (workflow_id, updated_at DESC);
`

// History stores execution records in PostgreSQL.
type History struct {
	db     *sql.DB
	logger *slog.Logger
}

// Confirm History can serve as a tracer.
var _ relay.Tracer = (*History)(nil)

// Open connects to PostgreSQL and ensures the executions table exists.
func Open(ctx context.Context, databaseURL string, logger *slog.Logger) (*History, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create executions table: %w", err)
	}
	return &History{
		db:     db,
		logger: logger.With("component", "postgres_history"),
	}, nil
}

// Close releases the database connection pool.
func (h *History) Close() error {
	return h.db.Close()
}

// Record upserts one execution record.
func (h *History) Record(ctx context.Context, execution *relay.Execution) error {
	if execution == nil {
		return fmt.Errorf("execution is required")
	}
	parameters, err := json.Marshal(execution.Parameters)
	if err != nil {
		return fmt.Errorf("failed to marshal parameters: %w", err)
	}
	result, err := json.Marshal(execution.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	metadata, err := json.Marshal(execution.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO executions (
			id, workflow_id, status, parameters, result, error,
			metadata, started_at, completed_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			result = EXCLUDED.result,
			error = EXCLUDED.error,
			metadata = EXCLUDED.metadata,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			updated_at = EXCLUDED.updated_at
	`
	_, err = h.db.ExecContext(ctx, query,
		execution.ID,
		execution.WorkflowID,
		string(execution.Status),
		string(parameters),
		string(result),
		execution.Error,
		string(metadata),
		nullTime(execution.StartedAt),
		nullTime(execution.CompletedAt),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record execution %s: %w", execution.ID, err)
	}
	return nil
}

// Get returns one execution by ID.
func (h *History) Get(ctx context.Context, executionID string) (*relay.Execution, error) {
	query := `
		SELECT id, workflow_id, status, parameters, result, error,
		       metadata, started_at, completed_at
		FROM executions WHERE id = $1
	`
	execution, err := scanExecution(h.db.QueryRowContext(ctx, query, executionID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("execution not found: %s", executionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load execution %s: %w", executionID, err)
	}
	return execution, nil
}

// ForWorkflow returns the most recently updated executions of a workflow,
// newest first, as summaries.
func (h *History) ForWorkflow(ctx context.Context, workflowID string, limit int) ([]*relay.ExecutionSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, workflow_id, status, parameters, result, error,
		       metadata, started_at, completed_at
		FROM executions
		WHERE workflow_id = $1
		ORDER BY updated_at DESC
		LIMIT $2
	`
	rows, err := h.db.QueryContext(ctx, query, workflowID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions for %s: %w", workflowID, err)
	}
	defer rows.Close()

	var summaries []*relay.ExecutionSummary
	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		summaries = append(summaries, execution.Summary())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list executions for %s: %w", workflowID, err)
	}
	return summaries, nil
}

// StartTrace implements relay.Tracer by recording the initial record.
func (h *History) StartTrace(ctx context.Context, execution *relay.Execution) {
	h.record(ctx, execution)
}

// UpdateTrace implements relay.Tracer by recording the current record.
func (h *History) UpdateTrace(ctx context.Context, execution *relay.Execution) {
	h.record(ctx, execution)
}

// EndTrace implements relay.Tracer by recording the terminal record.
func (h *History) EndTrace(ctx context.Context, execution *relay.Execution) {
	h.record(ctx, execution)
}

// record persists a trace callback. Tracer callbacks cannot fail the
// execution, so database errors are logged and dropped. The execution's
// context may already be cancelled by the time EndTrace runs, so writes use
// their own deadline.
func (h *History) record(ctx context.Context, execution *relay.Execution) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := h.Record(writeCtx, execution); err != nil {
		h.logger.Error("failed to record execution history",
			"execution_id", execution.ID, "error", err)
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(row scanner) (*relay.Execution, error) {
	var (
		execution  relay.Execution
		status     string
		parameters []byte
		result     []byte
		metadata   []byte
		startedAt  sql.NullTime
		endedAt    sql.NullTime
	)
	err := row.Scan(
		&execution.ID,
		&execution.WorkflowID,
		&status,
		&parameters,
		&result,
		&execution.Error,
		&metadata,
		&startedAt,
		&endedAt,
	)
	if err != nil {
		return nil, err
	}
	execution.Status = relay.Status(status)
	if len(parameters) > 0 {
		if err := json.Unmarshal(parameters, &execution.Parameters); err != nil {
			return nil, fmt.Errorf("failed to unmarshal parameters: %w", err)
		}
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &execution.Result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal result: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &execution.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	if startedAt.Valid {
		execution.StartedAt = startedAt.Time
	}
	if endedAt.Valid {
		execution.CompletedAt = endedAt.Time
	}
	return &execution, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
