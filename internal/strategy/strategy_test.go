package strategy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gorax/gorax/internal/expression"
	"github.com/gorax/gorax/internal/security"
	"github.com/gorax/gorax/internal/workflow"
)

func testDeps() Dependencies {
	return Dependencies{
		Evaluator:    expression.NewEvaluator(),
		URLValidator: security.NewURLValidatorWithConfig(&security.URLValidatorConfig{Enabled: false}),
		HTTPClient:   &http.Client{},
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register("http", NewHTTPStrategy(testDeps()))
	s, ok := r.Get("http")
	require.True(t, ok)
	assert.NotNil(t, s)

	_, ok = r.Get("unknown")
	assert.False(t, ok)

	_, err := r.MustGet("unknown")
	assert.Error(t, err)
}

func TestHTTPStrategy_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	s := NewHTTPStrategy(testDeps())
	node := workflow.Node{ID: "n1", Type: "http", Name: "n1", Config: map[string]interface{}{"url": server.URL, "method": "GET"}}
	result, err := s.Execute(context.Background(), RunView{}, node, map[string]interface{}{})
	require.NoError(t, err)
	assert.True(t, result.Success)
	httpResult := result.Output.(HTTPResult)
	assert.Equal(t, 200, httpResult.StatusCode)
}

func TestHTTPStrategy_ServerErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	s := NewHTTPStrategy(testDeps())
	node := workflow.Node{ID: "n1", Type: "http", Name: "n1", Config: map[string]interface{}{"url": server.URL}}
	result, err := s.Execute(context.Background(), RunView{}, node, map[string]interface{}{})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.True(t, result.Retryable)
}

func TestHTTPStrategy_Validate(t *testing.T) {
	s := NewHTTPStrategy(testDeps())
	report := s.Validate(workflow.Node{ID: "n1", Type: "http", Name: "n1"})
	assert.False(t, report.Valid())
}

func TestTransformStrategy_Map(t *testing.T) {
	s := NewTransformStrategy(testDeps())
	node := workflow.Node{ID: "n1", Type: "transform", Name: "n1", Config: map[string]interface{}{
		"transformationType": "map", "template": "item * 2",
	}}
	result, err := s.Execute(context.Background(), RunView{}, node, []interface{}{1, 2, 3})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, []interface{}{2, 4, 6}, result.Output)
}

func TestTransformStrategy_MapScalar(t *testing.T) {
	s := NewTransformStrategy(testDeps())
	node := workflow.Node{ID: "n1", Type: "transform", Name: "n1", Config: map[string]interface{}{
		"transformationType": "map", "template": "input.v * 2",
	}}
	result, err := s.Execute(context.Background(), RunView{}, node, map[string]interface{}{"v": 3})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 6, result.Output)
}

func TestTransformStrategy_Filter(t *testing.T) {
	s := NewTransformStrategy(testDeps())
	node := workflow.Node{ID: "n1", Type: "transform", Name: "n1", Config: map[string]interface{}{
		"transformationType": "filter", "template": "item > 1",
	}}
	result, err := s.Execute(context.Background(), RunView{}, node, []interface{}{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{2, 3}, result.Output)
}

func TestTransformStrategy_Reduce(t *testing.T) {
	s := NewTransformStrategy(testDeps())
	node := workflow.Node{ID: "n1", Type: "transform", Name: "n1", Config: map[string]interface{}{
		"transformationType": "reduce", "template": "acc + item", "initialValue": 0,
	}}
	result, err := s.Execute(context.Background(), RunView{}, node, []interface{}{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, 6.0, result.Output)
}

func TestDecisionStrategy(t *testing.T) {
	s := NewDecisionStrategy(testDeps())
	node := workflow.Node{ID: "n1", Type: "decision", Name: "n1", Config: map[string]interface{}{
		"expression": `input.v > 10 ? "approve" : "reject"`,
	}}
	result, err := s.Execute(context.Background(), RunView{}, node, map[string]interface{}{"v": 20})
	require.NoError(t, err)
	assert.Equal(t, "approve", result.Output)
}

func TestDelayStrategy_CompletesAfterDuration(t *testing.T) {
	s := NewDelayStrategy()
	node := workflow.Node{ID: "n1", Type: "delay", Name: "n1", Config: map[string]interface{}{"durationMs": 1}}
	result, err := s.Execute(context.Background(), RunView{}, node, "hi")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "hi", result.Output)
}

func TestDelayStrategy_CancellationInterruptsWait(t *testing.T) {
	s := NewDelayStrategy()
	node := workflow.Node{ID: "n1", Type: "delay", Name: "n1", Config: map[string]interface{}{"durationMs": 60000}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := s.Execute(ctx, RunView{}, node, nil)
	require.Error(t, err)
	assert.False(t, result.Success)
}

func TestWebhookSinkStrategy_PassesInputThrough(t *testing.T) {
	s := NewWebhookSinkStrategy()
	result, err := s.Execute(context.Background(), RunView{}, workflow.Node{ID: "n1", Type: "webhook-sink", Name: "n1"}, "payload")
	require.NoError(t, err)
	assert.Equal(t, "payload", result.Output)
}

func TestAgentStrategy_NoRunnerConfigured(t *testing.T) {
	s := NewAgentStrategy()
	result, err := s.Execute(context.Background(), RunView{}, workflow.Node{ID: "n1", Type: "agent", Name: "n1"}, nil)
	require.NoError(t, err)
	assert.False(t, result.Success)
}
