package schedule

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Repository handles scheduled_events database operations.
type Repository struct {
	db *sqlx.DB
}

// NewRepository creates a new schedule repository.
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a new ScheduledEvent, assigning its id.
func (r *Repository) Create(ctx context.Context, e ScheduledEvent) (ScheduledEvent, error) {
	e.ID = uuid.New().String()
	now := time.Now()
	e.CreatedAt = now
	e.UpdatedAt = now
	if e.Status == "" {
		e.Status = StatusActive
	}

	rowVal, err := e.toRow()
	if err != nil {
		return ScheduledEvent{}, err
	}

	const query = `
		INSERT INTO scheduled_events (id, tenant_id, workflow_id, node_id, data, schedule, status, last_run, next_run, metadata, created_at, updated_at)
		VALUES (:id, :tenant_id, :workflow_id, :node_id, :data, :schedule, :status, :last_run, :next_run, :metadata, :created_at, :updated_at)
	`
	if _, err := r.db.NamedExecContext(ctx, query, rowVal); err != nil {
		return ScheduledEvent{}, err
	}
	return e, nil
}

// Get fetches a ScheduledEvent by id, scoped to tenantID.
func (r *Repository) Get(ctx context.Context, tenantID, id string) (ScheduledEvent, error) {
	const query = `SELECT * FROM scheduled_events WHERE id = $1 AND tenant_id = $2`
	var rowVal row
	if err := r.db.GetContext(ctx, &rowVal, query, id, tenantID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ScheduledEvent{}, ErrNotFound
		}
		return ScheduledEvent{}, err
	}
	return rowVal.toScheduledEvent()
}

// ListByWorkflow returns every ScheduledEvent bound to workflowID.
func (r *Repository) ListByWorkflow(ctx context.Context, tenantID, workflowID string) ([]ScheduledEvent, error) {
	const query = `SELECT * FROM scheduled_events WHERE tenant_id = $1 AND workflow_id = $2 ORDER BY created_at`
	var rows []row
	if err := r.db.SelectContext(ctx, &rows, query, tenantID, workflowID); err != nil {
		return nil, err
	}
	return toScheduledEvents(rows)
}

// Update persists changed fields of an existing ScheduledEvent.
func (r *Repository) Update(ctx context.Context, e ScheduledEvent) (ScheduledEvent, error) {
	e.UpdatedAt = time.Now()
	rowVal, err := e.toRow()
	if err != nil {
		return ScheduledEvent{}, err
	}
	const query = `
		UPDATE scheduled_events SET
			data = :data, schedule = :schedule, status = :status,
			last_run = :last_run, next_run = :next_run, metadata = :metadata,
			updated_at = :updated_at
		WHERE id = :id AND tenant_id = :tenant_id
	`
	res, err := r.db.NamedExecContext(ctx, query, rowVal)
	if err != nil {
		return ScheduledEvent{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ScheduledEvent{}, ErrNotFound
	}
	return e, nil
}

// Delete removes a ScheduledEvent.
func (r *Repository) Delete(ctx context.Context, tenantID, id string) error {
	const query = `DELETE FROM scheduled_events WHERE id = $1 AND tenant_id = $2`
	res, err := r.db.ExecContext(ctx, query, id, tenantID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Due returns every active event whose next_run has passed, across all
// tenants, capped at limit rows. The scheduler polls this on each tick.
func (r *Repository) Due(ctx context.Context, asOf time.Time, limit int) ([]ScheduledEvent, error) {
	const query = `
		SELECT * FROM scheduled_events
		WHERE status = $1 AND next_run IS NOT NULL AND next_run <= $2
		ORDER BY next_run
		LIMIT $3
	`
	var rows []row
	if err := r.db.SelectContext(ctx, &rows, query, string(StatusActive), asOf, limit); err != nil {
		return nil, err
	}
	return toScheduledEvents(rows)
}

func toScheduledEvents(rows []row) ([]ScheduledEvent, error) {
	out := make([]ScheduledEvent, 0, len(rows))
	for _, rowVal := range rows {
		e, err := rowVal.toScheduledEvent()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
