package strategy

import (
	"context"

	"github.com/gorax/gorax/internal/workflow"
)

// AgentRunner is the collaborator an agent node delegates to. It is
// deliberately opaque to the core: the engine only knows it
// may run for seconds to minutes and must honor ctx cancellation.
type AgentRunner interface {
	Run(ctx context.Context, node workflow.Node, input interface{}) (interface{}, error)
}

// AgentStrategy is opaque to the core; it declares the contract shape
// an async, long-running agent call must satisfy and delegates to a
// configured AgentRunner. Without one configured, it fails every node
// cleanly rather than silently no-op-ing, so a misconfigured deployment
// surfaces immediately instead of producing fabricated output.
type AgentStrategy struct {
	runner AgentRunner
}

// NewAgentStrategy constructs the agent strategy with no runner
// configured; call WithRunner to attach one.
func NewAgentStrategy() *AgentStrategy {
	return &AgentStrategy{}
}

// WithRunner attaches the AgentRunner a deployment wires in.
func (s *AgentStrategy) WithRunner(runner AgentRunner) *AgentStrategy {
	s.runner = runner
	return s
}

// Validate has no type-specific requirements beyond the base fields.
func (s *AgentStrategy) Validate(node workflow.Node) ValidationReport {
	return ValidateBase(node)
}

// Execute delegates to the configured AgentRunner, honoring cancellation.
func (s *AgentStrategy) Execute(ctx context.Context, view RunView, node workflow.Node, input interface{}) (ExecutionResult, error) {
	if s.runner == nil {
		return ExecutionResult{Success: false, Error: "no agent runtime configured"}, nil
	}
	output, err := s.runner.Run(ctx, node, input)
	if err != nil {
		if ctx.Err() != nil {
			return ExecutionResult{Success: false, Error: ctx.Err().Error()}, ctx.Err()
		}
		return ExecutionResult{Success: false, Error: err.Error(), Retryable: true}, nil
	}
	return ExecutionResult{Success: true, Output: output}, nil
}

// Cleanup is a no-op by default; a runner that holds resources across
// calls should be closed by the deployment that constructed it.
func (s *AgentStrategy) Cleanup(ctx context.Context, view RunView, node workflow.Node) {}
