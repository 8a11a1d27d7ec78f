package workflow

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Repository persists workflow definitions against the workflows table.
type Repository struct {
	db *sqlx.DB
}

// NewRepository constructs a Repository over an established connection.
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a new draft workflow and assigns it an id if absent.
func (r *Repository) Create(ctx context.Context, w Workflow) (Workflow, error) {
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	if w.Status == "" {
		w.Status = StatusDraft
	}
	if w.Version == 0 {
		w.Version = 1
	}
	now := time.Now().UTC()
	w.CreatedAt = now
	w.UpdatedAt = now

	rec, err := w.toRow()
	if err != nil {
		return Workflow{}, err
	}

	const q = `
		INSERT INTO workflows (id, tenant_id, name, description, nodes, edges, tags, status, version, created_at, updated_at)
		VALUES (:id, :tenant_id, :name, :description, :nodes, :edges, :tags, :status, :version, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, q, rec); err != nil {
		return Workflow{}, err
	}
	return w, nil
}

// GetByID fetches a workflow scoped to its owning tenant.
func (r *Repository) GetByID(ctx context.Context, tenantID, id string) (Workflow, error) {
	const q = `SELECT id, tenant_id, name, description, nodes, edges, tags, status, version, created_at, updated_at
		FROM workflows WHERE id = $1 AND tenant_id = $2`
	var rec row
	if err := r.db.GetContext(ctx, &rec, q, id, tenantID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Workflow{}, ErrNotFound
		}
		return Workflow{}, err
	}
	return rec.toWorkflow()
}

// Update performs a partial update: only non-zero-value fields in patch
// are applied, and Version is incremented.
func (r *Repository) Update(ctx context.Context, tenantID, id string, patch Workflow) (Workflow, error) {
	existing, err := r.GetByID(ctx, tenantID, id)
	if err != nil {
		return Workflow{}, err
	}
	if patch.Name != "" {
		existing.Name = patch.Name
	}
	if patch.Description != "" {
		existing.Description = patch.Description
	}
	if patch.Nodes != nil {
		existing.Nodes = patch.Nodes
	}
	if patch.Edges != nil {
		existing.Edges = patch.Edges
	}
	if patch.Tags != nil {
		existing.Tags = patch.Tags
	}
	existing.Version++
	existing.UpdatedAt = time.Now().UTC()

	rec, err := existing.toRow()
	if err != nil {
		return Workflow{}, err
	}
	const q = `
		UPDATE workflows SET name = :name, description = :description, nodes = :nodes,
			edges = :edges, tags = :tags, version = :version, updated_at = :updated_at
		WHERE id = :id AND tenant_id = :tenant_id`
	res, err := r.db.NamedExecContext(ctx, q, rec)
	if err != nil {
		return Workflow{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Workflow{}, ErrNotFound
	}
	return existing, nil
}

// Publish transitions a workflow from draft to published.
func (r *Repository) Publish(ctx context.Context, tenantID, id string) (Workflow, error) {
	existing, err := r.GetByID(ctx, tenantID, id)
	if err != nil {
		return Workflow{}, err
	}
	if existing.Status == StatusPublished {
		return Workflow{}, ErrStateConflict
	}
	const q = `UPDATE workflows SET status = $1, updated_at = $2 WHERE id = $3 AND tenant_id = $4`
	now := time.Now().UTC()
	if _, err := r.db.ExecContext(ctx, q, string(StatusPublished), now, id, tenantID); err != nil {
		return Workflow{}, err
	}
	existing.Status = StatusPublished
	existing.UpdatedAt = now
	return existing, nil
}

// List returns every workflow for a tenant, newest first.
func (r *Repository) List(ctx context.Context, tenantID string) ([]Workflow, error) {
	const q = `SELECT id, tenant_id, name, description, nodes, edges, tags, status, version, created_at, updated_at
		FROM workflows WHERE tenant_id = $1 ORDER BY created_at DESC`
	var recs []row
	if err := r.db.SelectContext(ctx, &recs, q, tenantID); err != nil {
		return nil, err
	}
	out := make([]Workflow, 0, len(recs))
	for _, rec := range recs {
		w, err := rec.toWorkflow()
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}
