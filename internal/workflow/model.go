// Package workflow holds the authored workflow definition: the node/edge
// list a tenant submits through HTTP ingress, and its CRUD persistence.
// The derived, execution-ready shape (ProcessedWorkflow) lives in
// internal/graph; this package never processes a graph itself.
package workflow

import (
	"encoding/json"
	"errors"
	"time"
)

// Status is the lifecycle of a workflow definition, independent of any run.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
)

// Node is a single vertex in the authored graph. Config is free-form and
// interpreted by the strategy registered for Type; Position is advisory
// and ignored by everything except the authoring UI.
type Node struct {
	ID       string                 `json:"id" db:"-"`
	Type     string                 `json:"type"`
	Name     string                 `json:"name"`
	Config   map[string]interface{} `json:"config,omitempty"`
	Position *Position              `json:"position,omitempty"`
}

// Position is advisory layout metadata, never read by the core.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Edge is a directed arc. An empty Condition means the edge is
// unconditional. FailureEdge marks an edge that only fires when its
// source node exhausts retries (the error-handler edge).
type Edge struct {
	ID          string `json:"id"`
	Source      string `json:"source"`
	Target      string `json:"target"`
	Condition   string `json:"condition,omitempty"`
	FailureEdge bool   `json:"failureEdge,omitempty"`
}

// Definition is the authored node/edge list before graph processing.
type Definition struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Validate performs the shallow, pre-graph-processing shape checks that
// HTTP ingress owns: every node has an id/type, every edge has a source
// and target. Deeper invariants (I1-I5) are the Graph Processor's job.
func (d Definition) Validate() error {
	if len(d.Nodes) == 0 {
		return errors.New("definition must contain at least one node")
	}
	seen := make(map[string]bool, len(d.Nodes))
	for _, n := range d.Nodes {
		if n.ID == "" {
			return errors.New("node id must not be empty")
		}
		if n.Type == "" {
			return errors.New("node " + n.ID + ": type must not be empty")
		}
		if seen[n.ID] {
			return errors.New("duplicate node id " + n.ID)
		}
		seen[n.ID] = true
	}
	for _, e := range d.Edges {
		if e.Source == "" || e.Target == "" {
			return errors.New("edge " + e.ID + ": source and target must not be empty")
		}
	}
	return nil
}

// Workflow is a tenant-owned, versioned workflow definition.
type Workflow struct {
	ID          string     `db:"id" json:"id"`
	TenantID    string     `db:"tenant_id" json:"tenantId"`
	Name        string     `db:"name" json:"name"`
	Description string     `db:"description" json:"description,omitempty"`
	Nodes       []Node     `db:"-" json:"nodes"`
	Edges       []Edge     `db:"-" json:"edges"`
	Tags        []string   `db:"-" json:"tags,omitempty"`
	Status      Status     `db:"status" json:"status"`
	Version     int        `db:"version" json:"version"`
	CreatedAt   time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updatedAt"`
}

// Definition collapses the Workflow's nodes/edges back into a Definition
// for handoff to graph.Process.
func (w Workflow) Definition() Definition {
	return Definition{Nodes: w.Nodes, Edges: w.Edges}
}

// row is the sqlx-mapped database row; nodes/edges/tags are stored as
// JSON text columns per the persisted state layout.
type row struct {
	ID          string    `db:"id"`
	TenantID    string    `db:"tenant_id"`
	Name        string    `db:"name"`
	Description string    `db:"description"`
	Nodes       []byte    `db:"nodes"`
	Edges       []byte    `db:"edges"`
	Tags        []byte    `db:"tags"`
	Status      string    `db:"status"`
	Version     int       `db:"version"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (w Workflow) toRow() (row, error) {
	nodesJSON, err := json.Marshal(w.Nodes)
	if err != nil {
		return row{}, err
	}
	edgesJSON, err := json.Marshal(w.Edges)
	if err != nil {
		return row{}, err
	}
	tags := w.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return row{}, err
	}
	return row{
		ID:          w.ID,
		TenantID:    w.TenantID,
		Name:        w.Name,
		Description: w.Description,
		Nodes:       nodesJSON,
		Edges:       edgesJSON,
		Tags:        tagsJSON,
		Status:      string(w.Status),
		Version:     w.Version,
		CreatedAt:   w.CreatedAt,
		UpdatedAt:   w.UpdatedAt,
	}, nil
}

func (r row) toWorkflow() (Workflow, error) {
	var nodes []Node
	if err := json.Unmarshal(r.Nodes, &nodes); err != nil {
		return Workflow{}, err
	}
	var edges []Edge
	if err := json.Unmarshal(r.Edges, &edges); err != nil {
		return Workflow{}, err
	}
	var tags []string
	if len(r.Tags) > 0 {
		if err := json.Unmarshal(r.Tags, &tags); err != nil {
			return Workflow{}, err
		}
	}
	return Workflow{
		ID:          r.ID,
		TenantID:    r.TenantID,
		Name:        r.Name,
		Description: r.Description,
		Nodes:       nodes,
		Edges:       edges,
		Tags:        tags,
		Status:      Status(r.Status),
		Version:     r.Version,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}, nil
}

// ErrNotFound is returned when a workflow id/tenant pair has no row.
var ErrNotFound = errors.New("workflow not found")

// ErrStateConflict is returned for operations invalid in the current status.
var ErrStateConflict = errors.New("workflow state conflict")
