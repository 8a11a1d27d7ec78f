package statemachine

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrProtocolViolation marks a transition that is illegal in the current
// state; invalid transitions fail loudly. The Engine treats
// it as fatal for the run.
type ErrProtocolViolation struct {
	Entity string
	From   string
	Event  string
}

func (e *ErrProtocolViolation) Error() string {
	return fmt.Sprintf("protocol violation: %s cannot handle %q from state %q", e.Entity, e.Event, e.From)
}

func newEvent(typ EventType, tenantID string, payload, metadata map[string]interface{}) DomainEvent {
	return DomainEvent{
		ID:        uuid.New().String(),
		Type:      typ,
		Timestamp: time.Now().UTC(),
		TenantID:  tenantID,
		Payload:   payload,
		Metadata:  metadata,
	}
}

// StartWorkflow: Created -> Running.
func (c *Context) StartWorkflow() ([]DomainEvent, error) {
	if c.State != WorkflowCreated {
		return nil, &ErrProtocolViolation{Entity: "workflow", From: string(c.State), Event: "start"}
	}
	c.State = WorkflowRunning
	c.StartTime = time.Now().UTC()
	c.recordHistory("workflow", c.RunID, "start", nil)
	ev := newEvent(EventWorkflowStarted, c.TenantID, map[string]interface{}{
		"runId": c.RunID, "workflowId": c.WorkflowID,
	}, withMeta(c.RunID, "", nil))
	return []DomainEvent{ev}, nil
}

// PauseWorkflow: Running -> Paused.
func (c *Context) PauseWorkflow() ([]DomainEvent, error) {
	if c.State != WorkflowRunning {
		return nil, &ErrProtocolViolation{Entity: "workflow", From: string(c.State), Event: "pause"}
	}
	c.State = WorkflowPaused
	c.recordHistory("workflow", c.RunID, "pause", nil)
	ev := newEvent(EventWorkflowPaused, c.TenantID, map[string]interface{}{"runId": c.RunID}, withMeta(c.RunID, "", nil))
	return []DomainEvent{ev}, nil
}

// ResumeWorkflow: Paused -> Running.
func (c *Context) ResumeWorkflow() ([]DomainEvent, error) {
	if c.State != WorkflowPaused {
		return nil, &ErrProtocolViolation{Entity: "workflow", From: string(c.State), Event: "resume"}
	}
	c.State = WorkflowRunning
	c.recordHistory("workflow", c.RunID, "resume", nil)
	ev := newEvent(EventWorkflowResumed, c.TenantID, map[string]interface{}{"runId": c.RunID}, withMeta(c.RunID, "", nil))
	return []DomainEvent{ev}, nil
}

// CompleteWorkflow: Running -> Completed (terminal).
func (c *Context) CompleteWorkflow() ([]DomainEvent, error) {
	if c.State != WorkflowRunning {
		return nil, &ErrProtocolViolation{Entity: "workflow", From: string(c.State), Event: "complete"}
	}
	now := time.Now().UTC()
	c.State = WorkflowCompleted
	c.EndTime = &now
	c.recordHistory("workflow", c.RunID, "complete", nil)
	dur := durationMillis(c.StartTime, now)
	ev := newEvent(EventWorkflowCompleted, c.TenantID, map[string]interface{}{"runId": c.RunID}, withMeta(c.RunID, "", dur))
	return []DomainEvent{ev}, nil
}

// FailWorkflow: Running|Paused -> Failed (terminal).
func (c *Context) FailWorkflow(reason string) ([]DomainEvent, error) {
	if c.State != WorkflowRunning && c.State != WorkflowPaused {
		return nil, &ErrProtocolViolation{Entity: "workflow", From: string(c.State), Event: "fail"}
	}
	now := time.Now().UTC()
	c.State = WorkflowFailed
	c.EndTime = &now
	c.Error = reason
	c.recordHistory("workflow", c.RunID, "fail", map[string]interface{}{"error": reason})
	dur := durationMillis(c.StartTime, now)
	ev := newEvent(EventWorkflowFailed, c.TenantID, map[string]interface{}{"runId": c.RunID, "error": reason}, withMeta(c.RunID, "", dur))
	return []DomainEvent{ev}, nil
}

// CancelWorkflow: Running|Paused -> Canceled (terminal). Every node in
// {Pending, Running} is recorded Canceled as part of the same transition.
func (c *Context) CancelWorkflow() ([]DomainEvent, error) {
	if c.State != WorkflowRunning && c.State != WorkflowPaused {
		return nil, &ErrProtocolViolation{Entity: "workflow", From: string(c.State), Event: "cancel"}
	}
	now := time.Now().UTC()
	c.State = WorkflowCanceled
	c.EndTime = &now
	c.recordHistory("workflow", c.RunID, "cancel", nil)

	events := make([]DomainEvent, 0, len(c.NodeRecords)+1)
	for nodeID, rec := range c.NodeRecords {
		if rec.State == NodePending || rec.State == NodeRunning {
			rec.State = NodeCanceled
			rec.EndTime = &now
			delete(c.Scheduled, nodeID)
			events = append(events, newEvent(EventNodeCanceled, c.TenantID, map[string]interface{}{
				"runId": c.RunID, "nodeId": nodeID,
			}, withMeta(c.RunID, nodeID, nil)))
		}
	}
	events = append(events, newEvent(EventWorkflowCanceled, c.TenantID, map[string]interface{}{"runId": c.RunID}, withMeta(c.RunID, "", durationMillis(c.StartTime, now))))
	return events, nil
}

// ScheduleNode creates the node's run record on first schedule and marks
// it Pending + scheduled. Re-scheduling (a retry) is legal from Failed.
func (c *Context) ScheduleNode(nodeID string, input interface{}) ([]DomainEvent, error) {
	rec := c.NodeRecord(nodeID)
	if rec.State != NodePending && rec.State != "" && rec.State != NodeFailed {
		if rec.State != NodePending {
			return nil, &ErrProtocolViolation{Entity: "node " + nodeID, From: string(rec.State), Event: "schedule"}
		}
	}
	rec.State = NodePending
	rec.Input = input
	c.Scheduled[nodeID] = true
	c.recordHistory("node", nodeID, "schedule", nil)
	ev := newEvent(EventNodeScheduled, c.TenantID, map[string]interface{}{
		"runId": c.RunID, "nodeId": nodeID, "input": input,
	}, withMeta(c.RunID, nodeID, nil))
	return []DomainEvent{ev}, nil
}

// StartNode: Pending -> Running, recording a new attempt.
func (c *Context) StartNode(nodeID string, attemptNumber int) ([]DomainEvent, error) {
	if c.State != WorkflowRunning {
		return nil, &ErrProtocolViolation{Entity: "node " + nodeID, From: string(c.State), Event: "start"}
	}
	rec := c.NodeRecord(nodeID)
	if rec.State != NodePending {
		return nil, &ErrProtocolViolation{Entity: "node " + nodeID, From: string(rec.State), Event: "start"}
	}
	now := time.Now().UTC()
	rec.State = NodeRunning
	if rec.StartTime == nil {
		rec.StartTime = &now
	}
	rec.Attempts = append(rec.Attempts, NodeAttempt{AttemptNumber: attemptNumber, StartTime: now, State: NodeRunning})
	c.recordHistory("node", nodeID, "start", map[string]interface{}{"attempt": attemptNumber})
	ev := newEvent(EventNodeStarted, c.TenantID, map[string]interface{}{
		"runId": c.RunID, "nodeId": nodeID, "attemptNumber": attemptNumber,
	}, withMeta(c.RunID, nodeID, nil))
	return []DomainEvent{ev}, nil
}

// CompleteNode: Running -> Completed.
func (c *Context) CompleteNode(nodeID string, output interface{}) ([]DomainEvent, error) {
	rec := c.NodeRecord(nodeID)
	if rec.State != NodeRunning {
		return nil, &ErrProtocolViolation{Entity: "node " + nodeID, From: string(rec.State), Event: "complete"}
	}
	now := time.Now().UTC()
	rec.State = NodeCompleted
	rec.Output = output
	rec.EndTime = &now
	if len(rec.Attempts) > 0 {
		last := &rec.Attempts[len(rec.Attempts)-1]
		last.State = NodeCompleted
		last.EndTime = &now
		last.Output = output
	}
	delete(c.Scheduled, nodeID)
	c.Completed[nodeID] = true
	c.recordHistory("node", nodeID, "complete", nil)
	var dur *int64
	if rec.StartTime != nil {
		dur = durationMillis(*rec.StartTime, now)
	}
	ev := newEvent(EventNodeCompleted, c.TenantID, map[string]interface{}{
		"runId": c.RunID, "nodeId": nodeID, "output": output,
	}, withMeta(c.RunID, nodeID, dur))
	return []DomainEvent{ev}, nil
}

// FailNode: Running -> Failed. Whether the node re-enters Pending for a
// retry is an Engine decision (retry policy needs run config); this
// transition only records the failed attempt.
func (c *Context) FailNode(nodeID string, errMsg string) ([]DomainEvent, error) {
	rec := c.NodeRecord(nodeID)
	if rec.State != NodeRunning {
		return nil, &ErrProtocolViolation{Entity: "node " + nodeID, From: string(rec.State), Event: "fail"}
	}
	now := time.Now().UTC()
	rec.State = NodeFailed
	rec.Error = errMsg
	rec.EndTime = &now
	if len(rec.Attempts) > 0 {
		last := &rec.Attempts[len(rec.Attempts)-1]
		last.State = NodeFailed
		last.EndTime = &now
		last.Error = errMsg
	}
	delete(c.Scheduled, nodeID)
	c.Failed[nodeID] = true
	c.recordHistory("node", nodeID, "fail", map[string]interface{}{"error": errMsg})
	attemptNumber := 0
	if len(rec.Attempts) > 0 {
		attemptNumber = rec.Attempts[len(rec.Attempts)-1].AttemptNumber
	}
	ev := newEvent(EventNodeFailed, c.TenantID, map[string]interface{}{
		"runId": c.RunID, "nodeId": nodeID, "error": errMsg, "attemptNumber": attemptNumber,
	}, withMeta(c.RunID, nodeID, nil))
	return []DomainEvent{ev}, nil
}

// RetryNode moves a Failed node back to Pending, bumping retryCount. It
// is the Engine's explicit re-enqueue action, distinct from the initial
// ScheduleNode.
func (c *Context) RetryNode(nodeID string) ([]DomainEvent, error) {
	rec := c.NodeRecord(nodeID)
	if rec.State != NodeFailed {
		return nil, &ErrProtocolViolation{Entity: "node " + nodeID, From: string(rec.State), Event: "retry"}
	}
	rec.State = NodePending
	rec.RetryCount++
	delete(c.Failed, nodeID)
	c.Scheduled[nodeID] = true
	c.recordHistory("node", nodeID, "retry", map[string]interface{}{"retryCount": rec.RetryCount})
	ev := newEvent(EventNodeScheduled, c.TenantID, map[string]interface{}{
		"runId": c.RunID, "nodeId": nodeID, "retryCount": rec.RetryCount,
	}, withMeta(c.RunID, nodeID, nil))
	return []DomainEvent{ev}, nil
}

// SkipNode reaches Skipped only when the node's sole incoming edge's
// condition evaluated false, or via skip propagation.
func (c *Context) SkipNode(nodeID string) ([]DomainEvent, error) {
	rec := c.NodeRecord(nodeID)
	if rec.State.Terminal() {
		return nil, &ErrProtocolViolation{Entity: "node " + nodeID, From: string(rec.State), Event: "skip"}
	}
	now := time.Now().UTC()
	rec.State = NodeSkipped
	rec.EndTime = &now
	delete(c.Scheduled, nodeID)
	c.recordHistory("node", nodeID, "skip", nil)
	ev := newEvent(EventNodeSkipped, c.TenantID, map[string]interface{}{
		"runId": c.RunID, "nodeId": nodeID,
	}, withMeta(c.RunID, nodeID, nil))
	return []DomainEvent{ev}, nil
}

// CancelNode: Pending|Running -> Canceled, used outside a full workflow
// cancel (e.g. a per-node timeout escalation is still modeled as a fail).
func (c *Context) CancelNode(nodeID string) ([]DomainEvent, error) {
	rec := c.NodeRecord(nodeID)
	if rec.State != NodePending && rec.State != NodeRunning {
		return nil, &ErrProtocolViolation{Entity: "node " + nodeID, From: string(rec.State), Event: "cancel"}
	}
	now := time.Now().UTC()
	rec.State = NodeCanceled
	rec.EndTime = &now
	delete(c.Scheduled, nodeID)
	c.recordHistory("node", nodeID, "cancel", nil)
	ev := newEvent(EventNodeCanceled, c.TenantID, map[string]interface{}{
		"runId": c.RunID, "nodeId": nodeID,
	}, withMeta(c.RunID, nodeID, nil))
	return []DomainEvent{ev}, nil
}

// Terminated reports whether no node is scheduled and every exit node is
// Completed or Skipped. Failed or Canceled non-exit nodes are not checked
// here; HasFailedNode reports failures.
func (c *Context) Terminated() bool {
	if len(c.Scheduled) != 0 {
		return false
	}
	for _, exitID := range c.Processed.Exit {
		rec, ok := c.NodeRecords[exitID]
		if !ok {
			return false
		}
		if rec.State != NodeCompleted && rec.State != NodeSkipped {
			return false
		}
	}
	return true
}

// HasFailedNode reports whether any node in the run is in a Failed state.
func (c *Context) HasFailedNode() bool {
	return len(c.Failed) > 0
}
