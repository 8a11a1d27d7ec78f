package worker

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gorax/gorax/internal/jobqueue"
)

func TestHealthServer_LivenessAlwaysOK(t *testing.T) {
	w := New(newTestEngine(), jobqueue.NewMemoryQueue(1), nil, 1, testLogger())
	hs := NewHealthServer(w, "0")

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	rec := httptest.NewRecorder()
	hs.handleLiveness(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthServer_ReadinessReflectsSetReady(t *testing.T) {
	w := New(newTestEngine(), jobqueue.NewMemoryQueue(1), nil, 1, testLogger())
	hs := NewHealthServer(w, "0")

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	rec := httptest.NewRecorder()
	hs.handleReadiness(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	hs.SetReady(true)
	rec = httptest.NewRecorder()
	hs.handleReadiness(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthServer_HealthReportsLaneDepth(t *testing.T) {
	queue := jobqueue.NewMemoryQueue(4)
	w := New(newTestEngine(), queue, []string{"default"}, 1, testLogger())
	hs := NewHealthServer(w, "0")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	hs.handleHealth(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
