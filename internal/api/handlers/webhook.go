package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gorax/gorax/internal/api/middleware"
	"github.com/gorax/gorax/internal/api/response"
	"github.com/gorax/gorax/internal/webhook"
)

// WebhookHandler registers provider-bound endpoints and ingests their
// deliveries.
type WebhookHandler struct {
	service *webhook.Service
	logger  *slog.Logger
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(service *webhook.Service, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{service: service, logger: logger}
}

type createEndpointRequest struct {
	NodeID   string `json:"nodeId"`
	Provider string `json:"provider"`
}

// Create registers a new provider-bound endpoint for a workflow.
func (h *WebhookHandler) Create(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r)
	workflowID := chi.URLParam(r, "workflowID")

	var req createEndpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, h.logger, "invalid request body")
		return
	}

	endpoint, err := h.service.Create(r.Context(), tenantID, workflowID, req.NodeID, req.Provider)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	response.Created(w, h.logger, endpoint)
}

// List returns every endpoint bound to a workflow.
func (h *WebhookHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r)
	workflowID := chi.URLParam(r, "workflowID")

	endpoints, err := h.service.ListByWorkflow(r.Context(), tenantID, workflowID)
	if err != nil {
		response.InternalError(w, h.logger, "failed to list webhook endpoints")
		return
	}
	response.OK(w, h.logger, endpoints)
}

// Delete removes an endpoint permanently.
func (h *WebhookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r)
	id := chi.URLParam(r, "endpointID")

	if err := h.service.Delete(r.Context(), tenantID, id); err != nil {
		h.respondServiceError(w, err)
		return
	}
	response.NoContent(w)
}

// Ingest is the public, unauthenticated provider-facing endpoint:
// /webhooks/{endpointID}. GET requests are treated as a provider's
// one-shot verification handshake; any other method is a delivery.
func (h *WebhookHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "endpointID")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		response.BadRequest(w, h.logger, "failed to read request body")
		return
	}
	headers := flattenHeaders(r.Header)
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			headers[key] = values[0]
		}
	}

	if r.Method == http.MethodGet {
		result, err := h.service.Challenge(r.Context(), id, body, headers)
		if err != nil {
			h.respondServiceError(w, err)
			return
		}
		if !result.IsChallenge {
			response.BadRequest(w, h.logger, "not a verification request")
			return
		}
		w.Header().Set("Content-Type", result.ContentType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Response)
		return
	}

	runID, err := h.service.Deliver(r.Context(), id, body, headers)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	response.Data(w, h.logger, http.StatusAccepted, map[string]string{"runId": runID})
}

func flattenHeaders(headers http.Header) map[string]string {
	result := make(map[string]string, len(headers))
	for key, values := range headers {
		if len(values) > 0 {
			result[key] = values[0]
		}
	}
	return result
}

func (h *WebhookHandler) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, webhook.ErrNotFound):
		response.NotFound(w, h.logger, "webhook endpoint not found")
	case errors.Is(err, webhook.ErrUnknownProvider):
		response.ValidationError(w, h.logger, err.Error(), "provider")
	case errors.Is(err, webhook.ErrUnauthorized):
		response.Unauthorized(w, h.logger, "signature verification failed")
	default:
		h.logger.Error("webhook operation failed", "error", err)
		response.InternalError(w, h.logger, "webhook operation failed")
	}
}
