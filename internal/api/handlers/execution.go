package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gorax/gorax/internal/api/middleware"
	"github.com/gorax/gorax/internal/api/response"
	"github.com/gorax/gorax/internal/engine"
	"github.com/gorax/gorax/internal/graph"
	"github.com/gorax/gorax/internal/statemachine"
	"github.com/gorax/gorax/internal/workflow"
)

// ExecutionHandler starts, lists, and controls workflow runs against
// the Execution Engine.
type ExecutionHandler struct {
	workflows *workflow.Service
	runner    *engine.Engine
	repo      *engine.Repository
	logger    *slog.Logger
}

// NewExecutionHandler creates a new execution handler.
func NewExecutionHandler(workflows *workflow.Service, runner *engine.Engine, repo *engine.Repository, logger *slog.Logger) *ExecutionHandler {
	return &ExecutionHandler{workflows: workflows, runner: runner, repo: repo, logger: logger}
}

// startRequest carries optional trigger variables for a manual run.
type startRequest struct {
	Variables map[string]interface{} `json:"variables"`
}

// Start triggers a manual run of a published workflow.
func (h *ExecutionHandler) Start(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r)
	workflowID := chi.URLParam(r, "workflowID")

	var req startRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	wf, err := h.workflows.Get(r.Context(), tenantID, workflowID)
	if err != nil {
		if errors.Is(err, workflow.ErrNotFound) {
			response.NotFound(w, h.logger, "workflow not found")
			return
		}
		response.InternalError(w, h.logger, "failed to load workflow")
		return
	}

	processed, err := graph.Process(wf.Definition())
	if err != nil {
		var verr *graph.ValidationError
		if errors.As(err, &verr) {
			response.ValidationError(w, h.logger, err.Error(), "definition")
			return
		}
		response.InternalError(w, h.logger, "failed to process workflow graph")
		return
	}

	runID, err := h.runner.Start(r.Context(), workflowID, tenantID, processed, req.Variables, statemachine.RunConfig{})
	if err != nil {
		response.InternalError(w, h.logger, "failed to start run")
		return
	}
	response.Created(w, h.logger, map[string]string{"runId": runID})
}

// List returns past runs of a workflow.
func (h *ExecutionHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r)
	workflowID := r.URL.Query().Get("workflow_id")
	if workflowID == "" {
		response.BadRequest(w, h.logger, "workflow_id is required")
		return
	}

	runs, err := h.repo.ListExecutions(r.Context(), tenantID, workflowID)
	if err != nil {
		response.InternalError(w, h.logger, "failed to list executions")
		return
	}
	response.OK(w, h.logger, runs)
}

// Get retrieves a single run.
func (h *ExecutionHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r)
	runID := chi.URLParam(r, "runID")

	run, err := h.repo.GetExecution(r.Context(), tenantID, runID)
	if err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			response.NotFound(w, h.logger, "execution not found")
			return
		}
		response.InternalError(w, h.logger, "failed to get execution")
		return
	}
	response.OK(w, h.logger, run)
}

// Pause pauses a running execution.
func (h *ExecutionHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, h.runner.Pause)
}

// Resume resumes a paused execution.
func (h *ExecutionHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, h.runner.Resume)
}

// Cancel cancels a run in progress.
func (h *ExecutionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, h.runner.Cancel)
}

func (h *ExecutionHandler) control(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, runID string) error) {
	runID := chi.URLParam(r, "runID")
	if err := op(r.Context(), runID); err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			response.NotFound(w, h.logger, "execution not found")
			return
		}
		switch engine.ClassifyError(err).Kind {
		case engine.ErrorKindProtocolViolation:
			response.Conflict(w, h.logger, err.Error())
		default:
			response.InternalError(w, h.logger, "failed to update run")
		}
		return
	}
	response.NoContent(w)
}
