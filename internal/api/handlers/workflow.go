package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gorax/gorax/internal/api/middleware"
	"github.com/gorax/gorax/internal/api/response"
	"github.com/gorax/gorax/internal/graph"
	"github.com/gorax/gorax/internal/workflow"
)

// WorkflowHandler handles workflow definition CRUD and dry-run requests.
type WorkflowHandler struct {
	service *workflow.Service
	logger  *slog.Logger
}

// NewWorkflowHandler creates a new workflow handler.
func NewWorkflowHandler(service *workflow.Service, logger *slog.Logger) *WorkflowHandler {
	return &WorkflowHandler{service: service, logger: logger}
}

// List returns all workflows for the tenant.
func (h *WorkflowHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r)
	workflows, err := h.service.List(r.Context(), tenantID)
	if err != nil {
		response.InternalError(w, h.logger, "failed to list workflows")
		return
	}
	response.OK(w, h.logger, workflows)
}

// Create creates a new draft workflow.
func (h *WorkflowHandler) Create(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r)

	var wf workflow.Workflow
	if err := json.NewDecoder(r.Body).Decode(&wf); err != nil {
		response.BadRequest(w, h.logger, "invalid request body")
		return
	}
	wf.TenantID = tenantID

	created, err := h.service.Create(r.Context(), wf)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	response.Created(w, h.logger, created)
}

// Get retrieves a single workflow.
func (h *WorkflowHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r)
	workflowID := chi.URLParam(r, "workflowID")

	wf, err := h.service.Get(r.Context(), tenantID, workflowID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	response.OK(w, h.logger, wf)
}

// Update updates a workflow's draft definition.
func (h *WorkflowHandler) Update(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r)
	workflowID := chi.URLParam(r, "workflowID")

	var patch workflow.Workflow
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		response.BadRequest(w, h.logger, "invalid request body")
		return
	}

	updated, err := h.service.Update(r.Context(), tenantID, workflowID, patch)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	response.OK(w, h.logger, updated)
}

// Publish transitions a workflow from draft to published.
func (h *WorkflowHandler) Publish(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r)
	workflowID := chi.URLParam(r, "workflowID")

	published, err := h.service.Publish(r.Context(), tenantID, workflowID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	response.OK(w, h.logger, published)
}

// DryRunRequest carries an ad-hoc definition to validate without persisting.
type DryRunRequest struct {
	Nodes []workflow.Node `json:"nodes"`
	Edges []workflow.Edge `json:"edges"`
}

// DryRun validates a definition through the Graph Processor without
// persisting it, surfacing invariant violations to the caller.
func (h *WorkflowHandler) DryRun(w http.ResponseWriter, r *http.Request) {
	var req DryRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, h.logger, "invalid request body")
		return
	}

	def := workflow.Definition{Nodes: req.Nodes, Edges: req.Edges}
	if err := def.Validate(); err != nil {
		response.ValidationError(w, h.logger, err.Error(), "definition")
		return
	}

	processed, err := h.service.DryRun(def)
	if err != nil {
		var verr *graph.ValidationError
		if errors.As(err, &verr) {
			response.ValidationError(w, h.logger, err.Error(), "definition")
			return
		}
		response.InternalError(w, h.logger, "failed to validate workflow")
		return
	}
	response.OK(w, h.logger, processed)
}

func (h *WorkflowHandler) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, workflow.ErrNotFound):
		response.NotFound(w, h.logger, "workflow not found")
	case errors.Is(err, workflow.ErrStateConflict):
		response.Conflict(w, h.logger, err.Error())
	default:
		var verr *graph.ValidationError
		if errors.As(err, &verr) {
			response.ValidationError(w, h.logger, err.Error(), "definition")
			return
		}
		response.InternalError(w, h.logger, "workflow operation failed")
	}
}
