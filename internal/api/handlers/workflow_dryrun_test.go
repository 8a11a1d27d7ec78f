package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestWorkflowHandler() *WorkflowHandler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewWorkflowHandler(nil, logger)
}

func TestDryRun_ValidDefinitionProcesses(t *testing.T) {
	handler := newTestWorkflowHandler()

	body, _ := json.Marshal(map[string]interface{}{
		"nodes": []map[string]interface{}{
			{"id": "n1", "type": "transform"},
			{"id": "n2", "type": "transform"},
		},
		"edges": []map[string]interface{}{
			{"id": "e1", "source": "n1", "target": "n2"},
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/workflows/wf-1/dry-run", bytes.NewReader(body))
	req = addTenantContext(req, "tenant-1")

	w := httptest.NewRecorder()
	handler.DryRun(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDryRun_InvalidEdgeRejected(t *testing.T) {
	handler := newTestWorkflowHandler()

	body, _ := json.Marshal(map[string]interface{}{
		"nodes": []map[string]interface{}{{"id": "n1", "type": "transform"}},
		"edges": []map[string]interface{}{{"id": "e1", "source": "n1", "target": "missing"}},
	})
	req := httptest.NewRequest(http.MethodPost, "/workflows/wf-1/dry-run", bytes.NewReader(body))
	req = addTenantContext(req, "tenant-1")

	w := httptest.NewRecorder()
	handler.DryRun(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDryRun_InvalidRequestBody(t *testing.T) {
	handler := newTestWorkflowHandler()

	req := httptest.NewRequest(http.MethodPost, "/workflows/wf-1/dry-run", bytes.NewBufferString("not json"))
	req = addTenantContext(req, "tenant-1")

	w := httptest.NewRecorder()
	handler.DryRun(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
