package statemachine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gorax/gorax/internal/graph"
	"github.com/gorax/gorax/internal/workflow"
)

func singleNodeProcessed(t *testing.T) *graph.ProcessedWorkflow {
	t.Helper()
	pw, err := graph.Process(workflow.Definition{
		Nodes: []workflow.Node{{ID: "n1", Type: "transform", Name: "n1"}},
	})
	require.NoError(t, err)
	return pw
}

func TestWorkflowLifecycle_LinearRun(t *testing.T) {
	pw := singleNodeProcessed(t)
	ctx := New("run1", "wf1", "tenant1", pw, map[string]interface{}{"v": 3}, RunConfig{MaxRetries: 2})

	events, err := ctx.StartWorkflow()
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventWorkflowStarted, events[0].Type)
	assert.Equal(t, WorkflowRunning, ctx.State)

	_, err = ctx.ScheduleNode("n1", map[string]interface{}{"v": 3})
	require.NoError(t, err)
	assert.True(t, ctx.Scheduled["n1"])

	_, err = ctx.StartNode("n1", 1)
	require.NoError(t, err)
	assert.Equal(t, NodeRunning, ctx.NodeRecords["n1"].State)

	_, err = ctx.CompleteNode("n1", 6)
	require.NoError(t, err)
	assert.Equal(t, NodeCompleted, ctx.NodeRecords["n1"].State)
	assert.False(t, ctx.Scheduled["n1"])
	assert.True(t, ctx.Terminated())

	events, err = ctx.CompleteWorkflow()
	require.NoError(t, err)
	assert.Equal(t, EventWorkflowCompleted, events[0].Type)
	assert.Equal(t, WorkflowCompleted, ctx.State)
}

func TestStartWorkflow_ProtocolViolationWhenNotCreated(t *testing.T) {
	pw := singleNodeProcessed(t)
	ctx := New("run1", "wf1", "tenant1", pw, nil, RunConfig{})
	_, err := ctx.StartWorkflow()
	require.NoError(t, err)

	_, err = ctx.StartWorkflow()
	require.Error(t, err)
	var pv *ErrProtocolViolation
	assert.ErrorAs(t, err, &pv)
}

func TestRetryNode(t *testing.T) {
	pw := singleNodeProcessed(t)
	ctx := New("run1", "wf1", "tenant1", pw, nil, RunConfig{MaxRetries: 3})
	_, _ = ctx.StartWorkflow()
	_, _ = ctx.ScheduleNode("n1", nil)
	_, _ = ctx.StartNode("n1", 1)
	_, err := ctx.FailNode("n1", "boom")
	require.NoError(t, err)
	assert.Equal(t, NodeFailed, ctx.NodeRecords["n1"].State)

	_, err = ctx.RetryNode("n1")
	require.NoError(t, err)
	assert.Equal(t, NodePending, ctx.NodeRecords["n1"].State)
	assert.Equal(t, 1, ctx.NodeRecords["n1"].RetryCount)
	assert.True(t, ctx.Scheduled["n1"])
}

func TestCancelWorkflow_CancelsInFlightNodes(t *testing.T) {
	pw := singleNodeProcessed(t)
	ctx := New("run1", "wf1", "tenant1", pw, nil, RunConfig{})
	_, _ = ctx.StartWorkflow()
	_, _ = ctx.ScheduleNode("n1", nil)
	_, _ = ctx.StartNode("n1", 1)

	events, err := ctx.CancelWorkflow()
	require.NoError(t, err)
	assert.Equal(t, WorkflowCanceled, ctx.State)
	assert.Equal(t, NodeCanceled, ctx.NodeRecords["n1"].State)
	assert.False(t, ctx.Scheduled["n1"])

	var sawNodeCanceled, sawWorkflowCanceled bool
	for _, ev := range events {
		if ev.Type == EventNodeCanceled {
			sawNodeCanceled = true
		}
		if ev.Type == EventWorkflowCanceled {
			sawWorkflowCanceled = true
		}
	}
	assert.True(t, sawNodeCanceled)
	assert.True(t, sawWorkflowCanceled)
}

func TestSkipNode_TerminalRejectsDoubleTransition(t *testing.T) {
	pw := singleNodeProcessed(t)
	ctx := New("run1", "wf1", "tenant1", pw, nil, RunConfig{})
	_, _ = ctx.StartWorkflow()
	_, err := ctx.SkipNode("n1")
	require.NoError(t, err)
	assert.Equal(t, NodeSkipped, ctx.NodeRecords["n1"].State)

	_, err = ctx.SkipNode("n1")
	require.Error(t, err)
}
