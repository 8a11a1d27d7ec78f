package workflow

import (
	"context"
	"log/slog"

	"github.com/gorax/gorax/internal/graph"
)

// Service is the thin application layer HTTP ingress calls: it validates
// a definition with the Graph Processor before ever persisting it.
type Service struct {
	repo   *Repository
	logger *slog.Logger
}

// NewService constructs a Service.
func NewService(repo *Repository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Create validates the definition then persists a new draft workflow.
func (s *Service) Create(ctx context.Context, w Workflow) (Workflow, error) {
	if err := w.Definition().Validate(); err != nil {
		return Workflow{}, err
	}
	if _, err := graph.Process(w.Definition()); err != nil {
		return Workflow{}, err
	}
	created, err := s.repo.Create(ctx, w)
	if err != nil {
		return Workflow{}, err
	}
	s.logger.Info("workflow created", "workflow_id", created.ID, "tenant_id", created.TenantID)
	return created, nil
}

// Update validates the patched definition (when nodes/edges are part of
// the patch) before persisting a partial update.
func (s *Service) Update(ctx context.Context, tenantID, id string, patch Workflow) (Workflow, error) {
	if patch.Nodes != nil || patch.Edges != nil {
		existing, err := s.repo.GetByID(ctx, tenantID, id)
		if err != nil {
			return Workflow{}, err
		}
		merged := existing
		if patch.Nodes != nil {
			merged.Nodes = patch.Nodes
		}
		if patch.Edges != nil {
			merged.Edges = patch.Edges
		}
		if err := merged.Definition().Validate(); err != nil {
			return Workflow{}, err
		}
		if _, err := graph.Process(merged.Definition()); err != nil {
			return Workflow{}, err
		}
	}
	updated, err := s.repo.Update(ctx, tenantID, id, patch)
	if err != nil {
		return Workflow{}, err
	}
	s.logger.Info("workflow updated", "workflow_id", updated.ID, "version", updated.Version)
	return updated, nil
}

// Publish re-validates the stored definition then flips its status.
func (s *Service) Publish(ctx context.Context, tenantID, id string) (Workflow, error) {
	w, err := s.repo.GetByID(ctx, tenantID, id)
	if err != nil {
		return Workflow{}, err
	}
	if _, err := graph.Process(w.Definition()); err != nil {
		return Workflow{}, err
	}
	return s.repo.Publish(ctx, tenantID, id)
}

// Get fetches a single workflow.
func (s *Service) Get(ctx context.Context, tenantID, id string) (Workflow, error) {
	return s.repo.GetByID(ctx, tenantID, id)
}

// List returns every workflow owned by a tenant.
func (s *Service) List(ctx context.Context, tenantID string) ([]Workflow, error) {
	return s.repo.List(ctx, tenantID)
}

// DryRun validates a candidate definition without persisting anything,
// returning the first violated invariant if any.
func (s *Service) DryRun(def Definition) (*graph.ProcessedWorkflow, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return graph.Process(def)
}
