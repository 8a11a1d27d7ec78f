package statemachine

import "time"

// EventType names a domain event kind.
type EventType string

const (
	EventWorkflowStarted   EventType = "workflow.execution.started"
	EventWorkflowCompleted EventType = "workflow.execution.completed"
	EventWorkflowFailed    EventType = "workflow.execution.failed"
	EventWorkflowPaused    EventType = "workflow.execution.paused"
	EventWorkflowResumed   EventType = "workflow.execution.resumed"
	EventWorkflowCanceled  EventType = "workflow.execution.canceled"

	EventNodeScheduled EventType = "node.execution.scheduled"
	EventNodeStarted   EventType = "node.execution.started"
	EventNodeCompleted EventType = "node.execution.completed"
	EventNodeFailed    EventType = "node.execution.failed"
	EventNodeSkipped   EventType = "node.execution.skipped"
	EventNodeCanceled  EventType = "node.execution.canceled"
)

// DomainEvent is the unit the Event Bus publishes and the Event Store
// persists.
type DomainEvent struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	TenantID  string                 `json:"tenantId"`
	Payload   map[string]interface{} `json:"payload"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

func withMeta(runID, nodeID string, durationMs *int64) map[string]interface{} {
	meta := map[string]interface{}{"runId": runID}
	if nodeID != "" {
		meta["nodeId"] = nodeID
	}
	if durationMs != nil {
		meta["durationMs"] = *durationMs
	}
	return meta
}

func durationMillis(start time.Time, end time.Time) *int64 {
	d := end.Sub(start).Milliseconds()
	return &d
}
