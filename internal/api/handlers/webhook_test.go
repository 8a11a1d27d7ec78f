package handlers

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gorax/gorax/internal/webhook"
	"github.com/gorax/gorax/internal/webhookadapter"
)

func newTestWebhookHandler(t *testing.T) (*WebhookHandler, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "sqlmock")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := webhook.NewService(webhook.NewRepository(sqlxDB), webhookadapter.NewRegistry(), nil, nil, nil, logger)
	return NewWebhookHandler(svc, logger), mock
}

func TestWebhookHandler_Create_UnknownProvider(t *testing.T) {
	handler, _ := newTestWebhookHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/workflows/wf-1/webhooks", bytes.NewBufferString(`{"nodeId":"start","provider":"carrier-pigeon"}`))
	req = withRouteParams(req, map[string]string{"workflowID": "wf-1"})

	w := httptest.NewRecorder()
	handler.Create(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookHandler_Create_Success(t *testing.T) {
	handler, mock := newTestWebhookHandler(t)
	mock.ExpectExec(`INSERT INTO webhook_endpoints`).WillReturnResult(sqlmock.NewResult(1, 1))

	req := httptest.NewRequest(http.MethodPost, "/workflows/wf-1/webhooks", bytes.NewBufferString(`{"nodeId":"start","provider":"slack"}`))
	req = withRouteParams(req, map[string]string{"workflowID": "wf-1"})

	w := httptest.NewRecorder()
	handler.Create(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestWebhookHandler_Ingest_MissingEndpoint(t *testing.T) {
	handler, mock := newTestWebhookHandler(t)
	mock.ExpectQuery(`SELECT \* FROM webhook_endpoints`).WillReturnRows(sqlmock.NewRows(nil))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/missing", bytes.NewBufferString(`{}`))
	req = withRouteParams(req, map[string]string{"endpointID": "missing"})

	w := httptest.NewRecorder()
	handler.Ingest(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
