package schedule

import (
	"context"
	"log/slog"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gorax/gorax/internal/graph"
	"github.com/gorax/gorax/internal/statemachine"
	"github.com/gorax/gorax/internal/workflow"
)

type fakeWorkflowLookup struct {
	wf workflow.Workflow
}

func (f fakeWorkflowLookup) Get(ctx context.Context, tenantID, id string) (workflow.Workflow, error) {
	return f.wf, nil
}

type fakeRunner struct {
	started []string
}

func (f *fakeRunner) Start(ctx context.Context, workflowID, tenantID string, processed *graph.ProcessedWorkflow, variables map[string]interface{}, cfg statemachine.RunConfig) (string, error) {
	f.started = append(f.started, workflowID)
	return "run-1", nil
}

func (f *fakeRunner) TriggerNode(ctx context.Context, workflowID, tenantID string, processed *graph.ProcessedWorkflow, nodeID string, variables map[string]interface{}, cfg statemachine.RunConfig) (string, error) {
	f.started = append(f.started, workflowID)
	return "run-1", nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestScheduler_Tick_FiresDueEventAndAdvancesNextRun(t *testing.T) {
	db, mock := setupTestDB(t)
	defer db.Close()

	svc := NewService(NewRepository(db))
	wf := workflow.Workflow{
		ID:       "wf-1",
		TenantID: "tenant-1",
		Nodes:    []workflow.Node{{ID: "start", Type: "transform"}},
		Edges:    nil,
	}
	runner := &fakeRunner{}
	scheduler := NewScheduler(svc, fakeWorkflowLookup{wf: wf}, runner, testLogger())

	now := time.Now()
	cols := []string{"id", "tenant_id", "workflow_id", "node_id", "data", "schedule", "status", "last_run", "next_run", "metadata", "created_at", "updated_at"}
	scheduleJSON := []byte(`{"cron":"0 0 * * * *","timezone":"UTC"}`)
	mock.ExpectQuery(`SELECT \* FROM scheduled_events`).
		WillReturnRows(sqlmock.NewRows(cols).AddRow("evt-1", "tenant-1", "wf-1", "start", []byte("{}"), scheduleJSON, "active", nil, now.Add(-time.Minute), []byte("{}"), now, now))
	mock.ExpectExec(`UPDATE scheduled_events`).WillReturnResult(sqlmock.NewResult(0, 1))

	scheduler.tick(context.Background())

	require.Len(t, runner.started, 1)
	assert.Equal(t, "wf-1", runner.started[0])
}

func TestScheduler_Tick_NoDueEventsIsNoop(t *testing.T) {
	db, mock := setupTestDB(t)
	defer db.Close()

	svc := NewService(NewRepository(db))
	runner := &fakeRunner{}
	scheduler := NewScheduler(svc, fakeWorkflowLookup{}, runner, testLogger())

	mock.ExpectQuery(`SELECT \* FROM scheduled_events`).WillReturnRows(sqlmock.NewRows(nil))

	scheduler.tick(context.Background())
	assert.Empty(t, runner.started)
}

func TestScheduler_StartStop(t *testing.T) {
	db, mock := setupTestDB(t)
	defer db.Close()

	svc := NewService(NewRepository(db))
	runner := &fakeRunner{}
	scheduler := NewScheduler(svc, fakeWorkflowLookup{}, runner, testLogger())
	scheduler.checkInterval = time.Millisecond
	mock.ExpectQuery(`SELECT \* FROM scheduled_events`).WillReturnRows(sqlmock.NewRows(nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	scheduler.Start(ctx)
	scheduler.Stop()
}
