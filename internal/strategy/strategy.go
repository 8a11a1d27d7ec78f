// Package strategy implements the node strategy contract: a
// uniform validate/execute/cleanup contract behind a per-type registry,
// plus the six built-in strategies.
package strategy

import (
	"context"
	"fmt"
	"sync"

	"github.com/gorax/gorax/internal/workflow"
)

// FieldError is a single field-level validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationReport is the result of validate: zero or more field errors.
type ValidationReport struct {
	Errors []FieldError `json:"errors,omitempty"`
}

// Valid reports whether the report carries no errors.
func (r ValidationReport) Valid() bool {
	return len(r.Errors) == 0
}

func fail(field, message string) ValidationReport {
	return ValidationReport{Errors: []FieldError{{Field: field, Message: message}}}
}

// RunView is the read-only view of a run a strategy is allowed to see:
// its variables, a way to read another node's
// already-computed output (for convergence inputs), and a cancellation
// signal. It cannot mutate the Context directly.
type RunView struct {
	RunID      string
	WorkflowID string
	TenantID   string
	Variables  map[string]interface{}
	NodeOutput func(nodeID string) (interface{}, bool)
}

// ExecutionResult is what execute returns: success with an output, or
// failure with an error and a retryability classification.
type ExecutionResult struct {
	Success   bool
	Output    interface{}
	Error     string
	Retryable bool
}

// Strategy is the three-operation contract every node type registers.
type Strategy interface {
	// Validate checks the node's config. Must be pure.
	Validate(node workflow.Node) ValidationReport
	// Execute computes a result from the node's resolved input. May
	// suspend arbitrarily long but must honor ctx cancellation promptly.
	Execute(ctx context.Context, view RunView, node workflow.Node, input interface{}) (ExecutionResult, error)
	// Cleanup is best-effort and runs on every exit path from Execute; it
	// never propagates an error to the Engine.
	Cleanup(ctx context.Context, view RunView, node workflow.Node)
}

// ValidateBase checks the fields every node type requires regardless of
// type: id, type, name present. Built-in strategies call this first and
// append their own field checks.
func ValidateBase(node workflow.Node) ValidationReport {
	var errs []FieldError
	if node.ID == "" {
		errs = append(errs, FieldError{Field: "id", Message: "id is required"})
	}
	if node.Type == "" {
		errs = append(errs, FieldError{Field: "type", Message: "type is required"})
	}
	if node.Name == "" {
		errs = append(errs, FieldError{Field: "name", Message: "name is required"})
	}
	return ValidationReport{Errors: errs}
}

// Registry maps a node's type to its strategy.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]Strategy)}
}

// Register adds or replaces the strategy for a node type.
func (r *Registry) Register(nodeType string, s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[nodeType] = s
}

// Get returns the strategy registered for a node type.
func (r *Registry) Get(nodeType string) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[nodeType]
	return s, ok
}

// MustGet returns the strategy registered for a node type, or an error
// identifying the missing registration.
func (r *Registry) MustGet(nodeType string) (Strategy, error) {
	s, ok := r.Get(nodeType)
	if !ok {
		return nil, fmt.Errorf("no strategy registered for node type %q", nodeType)
	}
	return s, nil
}

// NewDefaultRegistry registers the six built-in strategies under their
// canonical type names.
func NewDefaultRegistry(deps Dependencies) *Registry {
	r := NewRegistry()
	r.Register("http", NewHTTPStrategy(deps))
	r.Register("transform", NewTransformStrategy(deps))
	r.Register("decision", NewDecisionStrategy(deps))
	r.Register("delay", NewDelayStrategy())
	r.Register("webhook-sink", NewWebhookSinkStrategy())
	r.Register("agent", NewAgentStrategy())
	return r
}
