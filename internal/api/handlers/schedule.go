package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gorax/gorax/internal/api/middleware"
	"github.com/gorax/gorax/internal/api/response"
	"github.com/gorax/gorax/internal/schedule"
)

// ScheduleHandler handles ScheduledEvent CRUD and lifecycle requests.
type ScheduleHandler struct {
	service *schedule.Service
	logger  *slog.Logger
}

// NewScheduleHandler creates a new schedule handler.
func NewScheduleHandler(service *schedule.Service, logger *slog.Logger) *ScheduleHandler {
	return &ScheduleHandler{service: service, logger: logger}
}

// Create creates a new ScheduledEvent for a workflow.
func (h *ScheduleHandler) Create(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r)
	workflowID := chi.URLParam(r, "workflowID")

	var e schedule.ScheduledEvent
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		response.BadRequest(w, h.logger, "invalid request body")
		return
	}
	e.TenantID = tenantID
	e.WorkflowID = workflowID

	created, err := h.service.Create(r.Context(), e)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	response.Created(w, h.logger, created)
}

// List returns all ScheduledEvents for a workflow.
func (h *ScheduleHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r)
	workflowID := chi.URLParam(r, "workflowID")

	events, err := h.service.ListByWorkflow(r.Context(), tenantID, workflowID)
	if err != nil {
		response.InternalError(w, h.logger, "failed to list scheduled events")
		return
	}
	response.OK(w, h.logger, events)
}

// Get retrieves a single ScheduledEvent.
func (h *ScheduleHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r)
	id := chi.URLParam(r, "scheduleID")

	e, err := h.service.Get(r.Context(), tenantID, id)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	response.OK(w, h.logger, e)
}

// Pause stops a ScheduledEvent from firing.
func (h *ScheduleHandler) Pause(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r)
	id := chi.URLParam(r, "scheduleID")

	e, err := h.service.Pause(r.Context(), tenantID, id)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	response.OK(w, h.logger, e)
}

// Resume reactivates a paused ScheduledEvent.
func (h *ScheduleHandler) Resume(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r)
	id := chi.URLParam(r, "scheduleID")

	e, err := h.service.Resume(r.Context(), tenantID, id)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	response.OK(w, h.logger, e)
}

// Delete removes a ScheduledEvent permanently.
func (h *ScheduleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r)
	id := chi.URLParam(r, "scheduleID")

	if err := h.service.Delete(r.Context(), tenantID, id); err != nil {
		h.respondServiceError(w, err)
		return
	}
	response.NoContent(w)
}

func (h *ScheduleHandler) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, schedule.ErrNotFound):
		response.NotFound(w, h.logger, "scheduled event not found")
	case errors.Is(err, schedule.ErrInvalidSchedule):
		response.ValidationError(w, h.logger, err.Error(), "schedule")
	default:
		h.logger.Error("schedule operation failed", "error", err)
		response.InternalError(w, h.logger, "schedule operation failed")
	}
}
