package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/gorax/gorax/internal/statemachine"
)

// ErrNotFound is returned when a queried run or node attempt does not exist.
var ErrNotFound = errors.New("engine: not found")

// ExecutionRecord mirrors the workflow_executions table.
type ExecutionRecord struct {
	ID          string         `db:"id"`
	WorkflowID  string         `db:"workflow_id"`
	TenantID    string         `db:"tenant_id"`
	State       string         `db:"state"`
	Metadata    []byte         `db:"metadata"`
	Result      sql.NullString `db:"result"`
	Error       sql.NullString `db:"error"`
	StartedAt   time.Time      `db:"started_at"`
	CompletedAt sql.NullTime   `db:"completed_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

// NodeExecutionRecord mirrors the node_executions table.
type NodeExecutionRecord struct {
	ID                  string         `db:"id"`
	WorkflowExecutionID string         `db:"workflow_execution_id"`
	NodeID              string         `db:"node_id"`
	State               string         `db:"state"`
	Input               sql.NullString `db:"input"`
	Output              sql.NullString `db:"output"`
	Error               sql.NullString `db:"error"`
	StartedAt           sql.NullTime   `db:"started_at"`
	CompletedAt         sql.NullTime   `db:"completed_at"`
	UpdatedAt           time.Time      `db:"updated_at"`
}

// Repository persists run and node-attempt snapshots derived from a
// live Context. It does not own the Context itself; the Engine does.
type Repository struct {
	db *sqlx.DB
}

// NewRepository constructs a Repository against db.
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// SaveExecution upserts the run-level snapshot of ctx.
func (r *Repository) SaveExecution(ctx context.Context, c *statemachine.Context) error {
	metadata, err := json.Marshal(map[string]interface{}{"variables": c.Variables})
	if err != nil {
		return fmt.Errorf("engine: marshal metadata: %w", err)
	}
	row := ExecutionRecord{
		ID:         c.RunID,
		WorkflowID: c.WorkflowID,
		TenantID:   c.TenantID,
		State:      string(c.State),
		Metadata:   metadata,
		StartedAt:  c.StartTime,
		UpdatedAt:  time.Now().UTC(),
	}
	if c.Error != "" {
		row.Error = sql.NullString{String: c.Error, Valid: true}
	}
	if c.EndTime != nil {
		row.CompletedAt = sql.NullTime{Time: *c.EndTime, Valid: true}
	}

	const query = `
		INSERT INTO workflow_executions (
			id, workflow_id, tenant_id, state, metadata, result, error,
			started_at, completed_at, updated_at
		) VALUES (
			:id, :workflow_id, :tenant_id, :state, :metadata, :result, :error,
			:started_at, :completed_at, :updated_at
		)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			metadata = EXCLUDED.metadata,
			error = EXCLUDED.error,
			completed_at = EXCLUDED.completed_at,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("engine: save execution: %w", err)
	}
	return nil
}

// SaveNodeExecution upserts a single node's current run record.
func (r *Repository) SaveNodeExecution(ctx context.Context, runID string, rec *statemachine.NodeRunRecord) error {
	row := NodeExecutionRecord{
		ID:                   runID + ":" + rec.NodeID,
		WorkflowExecutionID: runID,
		NodeID:              rec.NodeID,
		State:               string(rec.State),
		UpdatedAt:           time.Now().UTC(),
	}
	if rec.Input != nil {
		if encoded, err := json.Marshal(rec.Input); err == nil {
			row.Input = sql.NullString{String: string(encoded), Valid: true}
		}
	}
	if rec.Output != nil {
		if encoded, err := json.Marshal(rec.Output); err == nil {
			row.Output = sql.NullString{String: string(encoded), Valid: true}
		}
	}
	if rec.Error != "" {
		row.Error = sql.NullString{String: rec.Error, Valid: true}
	}
	if rec.StartTime != nil {
		row.StartedAt = sql.NullTime{Time: *rec.StartTime, Valid: true}
	}
	if rec.EndTime != nil {
		row.CompletedAt = sql.NullTime{Time: *rec.EndTime, Valid: true}
	}

	const query = `
		INSERT INTO node_executions (
			id, workflow_execution_id, node_id, state, input, output, error,
			started_at, completed_at, updated_at
		) VALUES (
			:id, :workflow_execution_id, :node_id, :state, :input, :output, :error,
			:started_at, :completed_at, :updated_at
		)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			input = EXCLUDED.input,
			output = EXCLUDED.output,
			error = EXCLUDED.error,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("engine: save node execution: %w", err)
	}
	return nil
}

// ListExecutions lists runs for workflowID scoped to tenantID, newest first.
func (r *Repository) ListExecutions(ctx context.Context, tenantID, workflowID string) ([]ExecutionRecord, error) {
	var rows []ExecutionRecord
	const query = `
		SELECT id, workflow_id, tenant_id, state, metadata, result, error,
		       started_at, completed_at, updated_at
		FROM workflow_executions
		WHERE tenant_id = $1 AND workflow_id = $2
		ORDER BY started_at DESC
	`
	if err := r.db.SelectContext(ctx, &rows, query, tenantID, workflowID); err != nil {
		return nil, fmt.Errorf("engine: list executions: %w", err)
	}
	return rows, nil
}

// GetExecution fetches a single run snapshot scoped to tenantID.
func (r *Repository) GetExecution(ctx context.Context, tenantID, runID string) (ExecutionRecord, error) {
	var row ExecutionRecord
	const query = `
		SELECT id, workflow_id, tenant_id, state, metadata, result, error,
		       started_at, completed_at, updated_at
		FROM workflow_executions
		WHERE tenant_id = $1 AND id = $2
	`
	if err := r.db.GetContext(ctx, &row, query, tenantID, runID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ExecutionRecord{}, ErrNotFound
		}
		return ExecutionRecord{}, fmt.Errorf("engine: get execution: %w", err)
	}
	return row, nil
}

// ListNodeExecutions lists attempts for nodeID across all runs, newest first.
func (r *Repository) ListNodeExecutions(ctx context.Context, nodeID string) ([]NodeExecutionRecord, error) {
	var rows []NodeExecutionRecord
	const query = `
		SELECT id, workflow_execution_id, node_id, state, input, output, error,
		       started_at, completed_at, updated_at
		FROM node_executions
		WHERE node_id = $1
		ORDER BY updated_at DESC
	`
	if err := r.db.SelectContext(ctx, &rows, query, nodeID); err != nil {
		return nil, fmt.Errorf("engine: list node executions: %w", err)
	}
	return rows, nil
}
