package strategy

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gorax/gorax/internal/workflow"
)

// TransformConfig is the node.config shape the transform strategy
// requires: transformationType selects map/filter/reduce, template is
// the restricted-language expression applied, initialValue seeds reduce.
type TransformConfig struct {
	TransformationType string      `json:"transformationType"`
	Template           string      `json:"template"`
	InitialValue       interface{} `json:"initialValue,omitempty"`
}

// TransformStrategy implements the three transform modes: map, filter, reduce.
// It is never retryable: a failing template is a configuration error,
// not a transient condition.
type TransformStrategy struct {
	deps Dependencies
}

// NewTransformStrategy constructs the transform strategy.
func NewTransformStrategy(deps Dependencies) *TransformStrategy {
	return &TransformStrategy{deps: deps}
}

func (s *TransformStrategy) decodeConfig(node workflow.Node) (TransformConfig, error) {
	raw, err := json.Marshal(node.Config)
	if err != nil {
		return TransformConfig{}, err
	}
	var cfg TransformConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return TransformConfig{}, err
	}
	return cfg, nil
}

// Validate requires a transformationType in {map, filter, reduce} and a
// non-empty template.
func (s *TransformStrategy) Validate(node workflow.Node) ValidationReport {
	report := ValidateBase(node)
	cfg, err := s.decodeConfig(node)
	if err != nil {
		report.Errors = append(report.Errors, FieldError{Field: "config", Message: "invalid transform config: " + err.Error()})
		return report
	}
	switch cfg.TransformationType {
	case "map", "filter", "reduce":
	default:
		report.Errors = append(report.Errors, FieldError{Field: "transformationType", Message: "must be one of map, filter, reduce"})
	}
	if cfg.Template == "" {
		report.Errors = append(report.Errors, FieldError{Field: "template", Message: "template is required"})
	}
	return report
}

// Execute applies the configured transformation to the resolved input.
func (s *TransformStrategy) Execute(ctx context.Context, view RunView, node workflow.Node, input interface{}) (ExecutionResult, error) {
	cfg, err := s.decodeConfig(node)
	if err != nil {
		return ExecutionResult{Success: false, Error: err.Error()}, nil
	}

	switch cfg.TransformationType {
	case "map":
		return s.execMap(cfg, input, view)
	case "filter":
		return s.execFilter(cfg, input, view)
	case "reduce":
		return s.execReduce(cfg, input, view)
	default:
		return ExecutionResult{Success: false, Error: "unknown transformationType " + cfg.TransformationType}, nil
	}
}

func (s *TransformStrategy) baseEnv(view RunView, input interface{}) map[string]interface{} {
	return map[string]interface{}{"input": input, "variables": view.Variables}
}

// execMap applies the template to each element of a sequence input, or
// once for a scalar input.
func (s *TransformStrategy) execMap(cfg TransformConfig, input interface{}, view RunView) (ExecutionResult, error) {
	seq, isSeq := input.([]interface{})
	if !isSeq {
		env := s.baseEnv(view, input)
		env["item"] = input
		result, err := s.deps.Evaluator.Evaluate(cfg.Template, env)
		if err != nil {
			return ExecutionResult{Success: false, Error: err.Error()}, nil
		}
		return ExecutionResult{Success: true, Output: result}, nil
	}
	out := make([]interface{}, len(seq))
	for i, item := range seq {
		env := s.baseEnv(view, input)
		env["item"] = item
		env["index"] = i
		result, err := s.deps.Evaluator.Evaluate(cfg.Template, env)
		if err != nil {
			return ExecutionResult{Success: false, Error: fmt.Sprintf("map at index %d: %s", i, err.Error())}, nil
		}
		out[i] = result
	}
	return ExecutionResult{Success: true, Output: out}, nil
}

// execFilter retains elements whose template truth-evaluates to true.
func (s *TransformStrategy) execFilter(cfg TransformConfig, input interface{}, view RunView) (ExecutionResult, error) {
	seq, isSeq := input.([]interface{})
	if !isSeq {
		return ExecutionResult{Success: false, Error: "filter requires a sequence input"}, nil
	}
	out := make([]interface{}, 0, len(seq))
	for i, item := range seq {
		env := s.baseEnv(view, input)
		env["item"] = item
		env["index"] = i
		keep, err := s.deps.Evaluator.EvaluateCondition(cfg.Template, env)
		if err != nil {
			return ExecutionResult{Success: false, Error: fmt.Sprintf("filter at index %d: %s", i, err.Error())}, nil
		}
		if keep {
			out = append(out, item)
		}
	}
	return ExecutionResult{Success: true, Output: out}, nil
}

// execReduce threads an accumulator seeded by initialValue across a
// sequence input.
func (s *TransformStrategy) execReduce(cfg TransformConfig, input interface{}, view RunView) (ExecutionResult, error) {
	seq, isSeq := input.([]interface{})
	if !isSeq {
		return ExecutionResult{Success: false, Error: "reduce requires a sequence input"}, nil
	}
	acc := cfg.InitialValue
	for i, item := range seq {
		env := s.baseEnv(view, input)
		env["item"] = item
		env["index"] = i
		env["acc"] = acc
		result, err := s.deps.Evaluator.Evaluate(cfg.Template, env)
		if err != nil {
			return ExecutionResult{Success: false, Error: fmt.Sprintf("reduce at index %d: %s", i, err.Error())}, nil
		}
		acc = result
	}
	return ExecutionResult{Success: true, Output: acc}, nil
}

// Cleanup is a no-op: transform holds no resources.
func (s *TransformStrategy) Cleanup(ctx context.Context, view RunView, node workflow.Node) {}
