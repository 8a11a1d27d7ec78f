package strategy

import (
	"context"
	"encoding/json"

	"github.com/gorax/gorax/internal/workflow"
)

// DecisionConfig is the node.config shape the decision strategy requires.
type DecisionConfig struct {
	Expression string `json:"expression"`
}

// DecisionStrategy evaluates the configured expression; its output is a
// discrete label the Engine's successor-selection can compare against
// in downstream edge conditions.
type DecisionStrategy struct {
	deps Dependencies
}

// NewDecisionStrategy constructs the decision strategy.
func NewDecisionStrategy(deps Dependencies) *DecisionStrategy {
	return &DecisionStrategy{deps: deps}
}

func (s *DecisionStrategy) decodeConfig(node workflow.Node) (DecisionConfig, error) {
	raw, err := json.Marshal(node.Config)
	if err != nil {
		return DecisionConfig{}, err
	}
	var cfg DecisionConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return DecisionConfig{}, err
	}
	return cfg, nil
}

// Validate requires a non-empty expression.
func (s *DecisionStrategy) Validate(node workflow.Node) ValidationReport {
	report := ValidateBase(node)
	cfg, err := s.decodeConfig(node)
	if err != nil {
		report.Errors = append(report.Errors, FieldError{Field: "config", Message: "invalid decision config: " + err.Error()})
		return report
	}
	if cfg.Expression == "" {
		report.Errors = append(report.Errors, FieldError{Field: "expression", Message: "expression is required"})
	}
	return report
}

// Execute evaluates the expression against the resolved input and the
// run's variables, and returns the raw result as the node's output.
func (s *DecisionStrategy) Execute(ctx context.Context, view RunView, node workflow.Node, input interface{}) (ExecutionResult, error) {
	cfg, err := s.decodeConfig(node)
	if err != nil {
		return ExecutionResult{Success: false, Error: err.Error()}, nil
	}
	env := map[string]interface{}{"input": input, "variables": view.Variables}
	result, err := s.deps.Evaluator.Evaluate(cfg.Expression, env)
	if err != nil {
		return ExecutionResult{Success: false, Error: err.Error()}, nil
	}
	return ExecutionResult{Success: true, Output: result}, nil
}

// Cleanup is a no-op: decision is a pure evaluation.
func (s *DecisionStrategy) Cleanup(ctx context.Context, view RunView, node workflow.Node) {}
