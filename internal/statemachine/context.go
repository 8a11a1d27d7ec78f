// Package statemachine implements the pure per-run transition function:
// it derives the next Context and a list of outbound domain events from
// an event, and performs no I/O of any kind. The Engine
// (internal/engine) is the only caller, and interprets the outbound list.
package statemachine

import (
	"time"

	"github.com/gorax/gorax/internal/graph"
)

// WorkflowState is the lifecycle of a single run.
type WorkflowState string

const (
	WorkflowCreated   WorkflowState = "created"
	WorkflowRunning   WorkflowState = "running"
	WorkflowPaused    WorkflowState = "paused"
	WorkflowCompleted WorkflowState = "completed"
	WorkflowFailed    WorkflowState = "failed"
	WorkflowCanceled  WorkflowState = "canceled"
)

// Terminal reports whether the state can never transition further.
func (s WorkflowState) Terminal() bool {
	switch s {
	case WorkflowCompleted, WorkflowFailed, WorkflowCanceled:
		return true
	default:
		return false
	}
}

// NodeState is the lifecycle of a single node within a run.
type NodeState string

const (
	NodePending   NodeState = "pending"
	NodeRunning   NodeState = "running"
	NodeCompleted NodeState = "completed"
	NodeFailed    NodeState = "failed"
	NodeSkipped   NodeState = "skipped"
	NodeCanceled  NodeState = "canceled"
)

// Terminal reports whether a node state is final for its current attempt.
func (s NodeState) Terminal() bool {
	switch s {
	case NodeCompleted, NodeFailed, NodeSkipped, NodeCanceled:
		return true
	default:
		return false
	}
}

// NodeAttempt records one execution attempt of a node.
type NodeAttempt struct {
	AttemptNumber int        `json:"attemptNumber"`
	StartTime     time.Time  `json:"startTime"`
	EndTime       *time.Time `json:"endTime,omitempty"`
	State         NodeState  `json:"state"`
	Output        interface{} `json:"output,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// NodeRunRecord is a node's full history within a single run.
type NodeRunRecord struct {
	NodeID     string        `json:"nodeId"`
	State      NodeState     `json:"state"`
	StartTime  *time.Time    `json:"startTime,omitempty"`
	EndTime    *time.Time    `json:"endTime,omitempty"`
	Input      interface{}   `json:"input,omitempty"`
	Output     interface{}   `json:"output,omitempty"`
	Error      string        `json:"error,omitempty"`
	RetryCount int           `json:"retryCount"`
	Attempts   []NodeAttempt `json:"attempts"`
}

// HistoryEntry is one append-only entry in a Context's audit trail.
type HistoryEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Kind      string                 `json:"kind"`
	Entity    string                 `json:"entity"`
	Action    string                 `json:"action"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// RunConfig is the per-run retry/timeout policy, with node-level
// overrides applied by the Engine when scheduling a specific node.
type RunConfig struct {
	MaxRetries int           `json:"maxRetries"`
	RetryDelay time.Duration `json:"retryDelay"`
	Timeout    time.Duration `json:"timeout"`
}

// Context is the per-run state the Engine owns exclusively. Strategies
// only ever see a read-only view of it.
type Context struct {
	RunID      string
	WorkflowID string
	TenantID   string

	State     WorkflowState
	StartTime time.Time
	EndTime   *time.Time
	Error     string

	Variables   map[string]interface{}
	NodeRecords map[string]*NodeRunRecord
	Scheduled   map[string]bool
	Completed   map[string]bool
	Failed      map[string]bool

	// Satisfied tracks, per convergence node, which predecessors have
	// already fired or been definitively suppressed.
	Satisfied map[string]map[string]bool

	// Deferred holds nodes whose successor-scheduling was postponed by a
	// pause.
	Deferred map[string]bool

	Processed *graph.ProcessedWorkflow `json:"-"`
	History   []HistoryEntry
	Config    RunConfig
}

// New creates a fresh Context in the Created state, seeding Variables
// from the trigger input.
func New(runID, workflowID, tenantID string, processed *graph.ProcessedWorkflow, variables map[string]interface{}, cfg RunConfig) *Context {
	if variables == nil {
		variables = map[string]interface{}{}
	}
	return &Context{
		RunID:       runID,
		WorkflowID:  workflowID,
		TenantID:    tenantID,
		State:       WorkflowCreated,
		Variables:   variables,
		NodeRecords: map[string]*NodeRunRecord{},
		Scheduled:   map[string]bool{},
		Completed:   map[string]bool{},
		Failed:      map[string]bool{},
		Satisfied:   map[string]map[string]bool{},
		Deferred:    map[string]bool{},
		Processed:   processed,
		Config:      cfg,
	}
}

func (c *Context) recordHistory(kind, entity, action string, details map[string]interface{}) {
	c.History = append(c.History, HistoryEntry{
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		Entity:    entity,
		Action:    action,
		Details:   details,
	})
}

// NodeRecord returns (creating if absent) the node's run record.
func (c *Context) NodeRecord(nodeID string) *NodeRunRecord {
	rec, ok := c.NodeRecords[nodeID]
	if !ok {
		rec = &NodeRunRecord{NodeID: nodeID, State: NodePending}
		c.NodeRecords[nodeID] = rec
	}
	return rec
}
