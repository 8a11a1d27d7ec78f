package webhook

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Repository handles Endpoint persistence.
type Repository struct {
	db *sqlx.DB
}

// NewRepository creates a new webhook repository.
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a new Endpoint.
func (r *Repository) Create(ctx context.Context, e Endpoint) (Endpoint, error) {
	e.ID = uuid.New().String()
	now := time.Now()
	e.CreatedAt, e.UpdatedAt = now, now

	const query = `
		INSERT INTO webhook_endpoints
			(id, tenant_id, workflow_id, node_id, provider, secret, enabled, created_at, updated_at)
		VALUES
			(:id, :tenant_id, :workflow_id, :node_id, :provider, :secret, :enabled, :created_at, :updated_at)
	`
	if _, err := r.db.NamedExecContext(ctx, query, e); err != nil {
		return Endpoint{}, err
	}
	return e, nil
}

// Get retrieves an Endpoint by id, scoped to its tenant.
func (r *Repository) Get(ctx context.Context, tenantID, id string) (Endpoint, error) {
	const query = `SELECT * FROM webhook_endpoints WHERE tenant_id = $1 AND id = $2`
	var e Endpoint
	if err := r.db.GetContext(ctx, &e, query, tenantID, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Endpoint{}, ErrNotFound
		}
		return Endpoint{}, err
	}
	return e, nil
}

// GetByID retrieves an Endpoint by id alone, for use by the ingress
// handler before the request's tenant is known.
func (r *Repository) GetByID(ctx context.Context, id string) (Endpoint, error) {
	const query = `SELECT * FROM webhook_endpoints WHERE id = $1`
	var e Endpoint
	if err := r.db.GetContext(ctx, &e, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Endpoint{}, ErrNotFound
		}
		return Endpoint{}, err
	}
	return e, nil
}

// ListByWorkflow returns every Endpoint bound to a workflow.
func (r *Repository) ListByWorkflow(ctx context.Context, tenantID, workflowID string) ([]Endpoint, error) {
	const query = `
		SELECT * FROM webhook_endpoints
		WHERE tenant_id = $1 AND workflow_id = $2
		ORDER BY created_at
	`
	endpoints := []Endpoint{}
	if err := r.db.SelectContext(ctx, &endpoints, query, tenantID, workflowID); err != nil {
		return nil, err
	}
	return endpoints, nil
}

// SetEnabled toggles an Endpoint's active state.
func (r *Repository) SetEnabled(ctx context.Context, tenantID, id string, enabled bool) error {
	const query = `
		UPDATE webhook_endpoints
		SET enabled = $3, updated_at = $4
		WHERE tenant_id = $1 AND id = $2
	`
	result, err := r.db.ExecContext(ctx, query, tenantID, id, enabled, time.Now())
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes an Endpoint permanently.
func (r *Repository) Delete(ctx context.Context, tenantID, id string) error {
	const query = `DELETE FROM webhook_endpoints WHERE tenant_id = $1 AND id = $2`
	result, err := r.db.ExecContext(ctx, query, tenantID, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
