package strategy

import (
	"context"

	"github.com/gorax/gorax/internal/workflow"
)

// WebhookSinkStrategy returns its input unchanged; it is used as a
// terminal mark for external delivery — the ingress layer
// or an external system observes the node reaching Completed and takes
// delivery from there.
type WebhookSinkStrategy struct{}

// NewWebhookSinkStrategy constructs the webhook-sink strategy.
func NewWebhookSinkStrategy() *WebhookSinkStrategy {
	return &WebhookSinkStrategy{}
}

// Validate has no type-specific requirements beyond the base fields.
func (s *WebhookSinkStrategy) Validate(node workflow.Node) ValidationReport {
	return ValidateBase(node)
}

// Execute passes the resolved input through as output.
func (s *WebhookSinkStrategy) Execute(ctx context.Context, view RunView, node workflow.Node, input interface{}) (ExecutionResult, error) {
	return ExecutionResult{Success: true, Output: input}, nil
}

// Cleanup is a no-op.
func (s *WebhookSinkStrategy) Cleanup(ctx context.Context, view RunView, node workflow.Node) {}
