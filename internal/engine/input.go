package engine

import (
	"fmt"

	"github.com/gorax/gorax/internal/expression"
	"github.com/gorax/gorax/internal/statemachine"
	"github.com/gorax/gorax/internal/workflow"
)

// ResolveInput computes a node's input just before execute, per spec
// §4.4: entry nodes see run variables, single-predecessor nodes see
// that predecessor's output, convergence nodes see a
// predecessorId->output mapping, and a declared inputMapping overrides
// individual fields with evaluated expressions merged over the base.
func ResolveInput(ctx *statemachine.Context, node workflow.Node, evaluator *expression.Evaluator) (interface{}, error) {
	predecessors := ctx.Processed.ReverseAdjacency[node.ID]

	var base interface{}
	switch {
	case ctx.Processed.IsEntry(node.ID):
		base = ctx.Variables
	case len(predecessors) == 1:
		base = predecessorOutput(ctx, predecessors[0])
	default:
		mapping := make(map[string]interface{}, len(predecessors))
		for _, pred := range predecessors {
			mapping[pred] = predecessorOutput(ctx, pred)
		}
		base = mapping
	}

	inputMapping, ok := node.Config["inputMapping"]
	if !ok {
		return base, nil
	}
	mapping, ok := inputMapping.(map[string]interface{})
	if !ok {
		return base, nil
	}

	merged := toMap(base)
	env := map[string]interface{}{
		"input":     base,
		"variables": ctx.Variables,
	}
	for field, rawExpr := range mapping {
		exprStr, ok := rawExpr.(string)
		if !ok {
			continue
		}
		value, err := evaluator.Evaluate(exprStr, env)
		if err != nil {
			return nil, fmt.Errorf("engine: inputMapping field %q: %w", field, err)
		}
		merged[field] = value
	}
	return merged, nil
}

func predecessorOutput(ctx *statemachine.Context, predecessorID string) interface{} {
	record, ok := ctx.NodeRecords[predecessorID]
	if !ok {
		return nil
	}
	return record.Output
}

func toMap(base interface{}) map[string]interface{} {
	if m, ok := base.(map[string]interface{}); ok {
		out := make(map[string]interface{}, len(m))
		for k, v := range m {
			out[k] = v
		}
		return out
	}
	return map[string]interface{}{"value": base}
}

// ApplyOutputMapping writes scalar outputs into run variables per a
// node's declared outputMapping, evaluated once execute succeeds.
func ApplyOutputMapping(ctx *statemachine.Context, node workflow.Node, input, output interface{}, evaluator *expression.Evaluator) error {
	raw, ok := node.Config["outputMapping"]
	if !ok {
		return nil
	}
	mapping, ok := raw.(map[string]interface{})
	if !ok {
		return nil
	}
	env := map[string]interface{}{
		"input":     input,
		"output":    output,
		"variables": ctx.Variables,
	}
	if ctx.Variables == nil {
		ctx.Variables = make(map[string]interface{})
	}
	for variable, rawExpr := range mapping {
		exprStr, ok := rawExpr.(string)
		if !ok {
			continue
		}
		value, err := evaluator.Evaluate(exprStr, env)
		if err != nil {
			return fmt.Errorf("engine: outputMapping field %q: %w", variable, err)
		}
		ctx.Variables[variable] = value
	}
	return nil
}
