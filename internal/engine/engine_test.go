package engine

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gorax/gorax/internal/eventbus"
	"github.com/gorax/gorax/internal/eventstore"
	"github.com/gorax/gorax/internal/expression"
	"github.com/gorax/gorax/internal/graph"
	"github.com/gorax/gorax/internal/jobqueue"
	"github.com/gorax/gorax/internal/statemachine"
	"github.com/gorax/gorax/internal/strategy"
	"github.com/gorax/gorax/internal/workflow"
)

type stubStrategy struct {
	result strategy.ExecutionResult
	err    error
	calls  int
}

func (s *stubStrategy) Validate(node workflow.Node) strategy.ValidationReport { return strategy.ValidationReport{} }
func (s *stubStrategy) Execute(ctx context.Context, view strategy.RunView, node workflow.Node, input interface{}) (strategy.ExecutionResult, error) {
	s.calls++
	return s.result, s.err
}
func (s *stubStrategy) Cleanup(ctx context.Context, view strategy.RunView, node workflow.Node) {}

func newTestEngine(t *testing.T) (*Engine, *jobqueue.MemoryQueue, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.MatchExpectationsInOrder(false)
	sqlxDB := sqlx.NewDb(db, "sqlmock")
	mock.ExpectExec(".*").WillReturnResult(sqlmock.NewResult(1, 1))

	store := eventstore.New(sqlxDB)
	bus := eventbus.New(store, nil)
	queue := jobqueue.NewMemoryQueue(64)
	registry := strategy.NewRegistry()

	eng := New(Dependencies{
		Queue:     queue,
		Bus:       bus,
		Registry:  registry,
		Evaluator: expression.NewEvaluator(),
		Repo:      nil, // persistence exercised separately in repository_test.go-style mocks
		Lanes:     map[string]string{},
		Backoff:   BackoffPolicy{InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2, Jitter: false},
	})
	return eng, queue, mock
}

func linearProcessed(t *testing.T) *graph.ProcessedWorkflow {
	def := workflow.Definition{
		Nodes: []workflow.Node{
			{ID: "a", Type: "noop", Name: "a"},
			{ID: "b", Type: "noop", Name: "b"},
		},
		Edges: []workflow.Edge{{ID: "e1", Source: "a", Target: "b"}},
	}
	p, err := graph.Process(def)
	require.NoError(t, err)
	return p
}

func drainOne(t *testing.T, eng *Engine, queue *jobqueue.MemoryQueue, lane string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	d, err := queue.Dequeue(ctx, lane)
	require.NoError(t, err)
	require.NoError(t, eng.ProcessDelivery(context.Background(), d))
}

func TestEngine_LinearRunCompletes(t *testing.T) {
	eng, queue, _ := newTestEngine(t)
	succeed := &stubStrategy{result: strategy.ExecutionResult{Success: true, Output: "ok"}}
	eng.registry.Register("noop", succeed)

	processed := linearProcessed(t)
	runID, err := eng.Start(context.Background(), "wf-1", "tenant-1", processed, map[string]interface{}{}, statemachine.RunConfig{MaxRetries: 2})
	require.NoError(t, err)

	drainOne(t, eng, queue, jobqueue.DefaultLane)
	drainOne(t, eng, queue, jobqueue.DefaultLane)

	entry, ok := eng.getRun(runID)
	require.True(t, ok)
	assert.Equal(t, statemachine.WorkflowCompleted, entry.ctx.State)
	assert.Equal(t, 2, succeed.calls)
}

func TestEngine_RetryThenSucceed(t *testing.T) {
	eng, queue, _ := newTestEngine(t)
	calls := 0
	flaky := &stubStrategy{}
	eng.registry.Register("noop", flakyStrategy(&calls))

	processed := linearProcessed(t)
	runID, err := eng.Start(context.Background(), "wf-1", "tenant-1", processed, map[string]interface{}{}, statemachine.RunConfig{MaxRetries: 2})
	require.NoError(t, err)

	// node a: first attempt fails retryable, retried, second attempt succeeds
	drainOne(t, eng, queue, jobqueue.DefaultLane) // a attempt 1: fail
	time.Sleep(20 * time.Millisecond)             // backoff
	drainOne(t, eng, queue, jobqueue.DefaultLane) // a attempt 2: succeed
	drainOne(t, eng, queue, jobqueue.DefaultLane) // b

	entry, ok := eng.getRun(runID)
	require.True(t, ok)
	assert.Equal(t, statemachine.WorkflowCompleted, entry.ctx.State)
	_ = flaky
}

func flakyStrategy(calls *int) strategy.Strategy {
	return &flakyStub{calls: calls}
}

type flakyStub struct {
	calls *int
}

func (s *flakyStub) Validate(node workflow.Node) strategy.ValidationReport { return strategy.ValidationReport{} }
func (s *flakyStub) Execute(ctx context.Context, view strategy.RunView, node workflow.Node, input interface{}) (strategy.ExecutionResult, error) {
	*s.calls++
	if *s.calls == 1 {
		return strategy.ExecutionResult{Success: false, Error: "transient", Retryable: true}, nil
	}
	return strategy.ExecutionResult{Success: true, Output: "ok"}, nil
}
func (s *flakyStub) Cleanup(ctx context.Context, view strategy.RunView, node workflow.Node) {}

func TestEngine_NonRetryableFailureFailsRun(t *testing.T) {
	eng, queue, _ := newTestEngine(t)
	eng.registry.Register("noop", &stubStrategy{result: strategy.ExecutionResult{Success: false, Error: "bad config", Retryable: false}})

	processed := linearProcessed(t)
	runID, err := eng.Start(context.Background(), "wf-1", "tenant-1", processed, map[string]interface{}{}, statemachine.RunConfig{MaxRetries: 2})
	require.NoError(t, err)

	drainOne(t, eng, queue, jobqueue.DefaultLane)

	entry, ok := eng.getRun(runID)
	require.True(t, ok)
	assert.Equal(t, statemachine.WorkflowFailed, entry.ctx.State)
}

func TestEngine_ConditionalSkipsSuccessor(t *testing.T) {
	eng, queue, _ := newTestEngine(t)
	eng.registry.Register("noop", &stubStrategy{result: strategy.ExecutionResult{Success: true, Output: map[string]interface{}{"v": 1}}})

	def := workflow.Definition{
		Nodes: []workflow.Node{
			{ID: "a", Type: "noop", Name: "a"},
			{ID: "b", Type: "noop", Name: "b"},
		},
		Edges: []workflow.Edge{{ID: "e1", Source: "a", Target: "b", Condition: "output.v > 10"}},
	}
	processed, err := graph.Process(def)
	require.NoError(t, err)

	runID, err := eng.Start(context.Background(), "wf-1", "tenant-1", processed, map[string]interface{}{}, statemachine.RunConfig{MaxRetries: 0})
	require.NoError(t, err)

	drainOne(t, eng, queue, jobqueue.DefaultLane) // a completes, b's only edge is false -> skipped

	entry, ok := eng.getRun(runID)
	require.True(t, ok)
	assert.Equal(t, statemachine.NodeSkipped, entry.ctx.NodeRecords["b"].State)
	assert.Equal(t, statemachine.WorkflowCompleted, entry.ctx.State)
}

func TestEngine_CancelStopsRun(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	eng.registry.Register("noop", &stubStrategy{result: strategy.ExecutionResult{Success: true}})

	processed := linearProcessed(t)
	runID, err := eng.Start(context.Background(), "wf-1", "tenant-1", processed, map[string]interface{}{}, statemachine.RunConfig{})
	require.NoError(t, err)

	require.NoError(t, eng.Cancel(context.Background(), runID))
	entry, ok := eng.getRun(runID)
	require.True(t, ok)
	assert.Equal(t, statemachine.WorkflowCanceled, entry.ctx.State)
}
