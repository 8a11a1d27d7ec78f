// Package expression implements a restricted, total, side-effect-free
// expression language: literals, field/index access,
// arithmetic, comparison, boolean, `in`, string concatenation, and a
// fixed set of pure helpers. It deliberately excludes user-supplied code
// execution — there is no function body a caller can register, only the
// fixed helper set compiled in below.
package expression

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Evaluator compiles and runs expressions against a JSON-like environment.
type Evaluator struct{}

// NewEvaluator constructs an Evaluator. It holds no state; all methods
// are safe for concurrent use.
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// helperOptions wires the fixed helper set: len, contains, lower, upper,
// toNumber, toString. `len` is a builtin of expr-lang/expr already; the
// rest are registered explicitly.
func helperOptions() []expr.Option {
	return []expr.Option{
		expr.Function("contains", func(params ...interface{}) (interface{}, error) {
			if len(params) != 2 {
				return nil, fmt.Errorf("contains expects 2 arguments, got %d", len(params))
			}
			haystack := fmt.Sprintf("%v", params[0])
			needle := fmt.Sprintf("%v", params[1])
			return strings.Contains(haystack, needle), nil
		}),
		expr.Function("lower", func(params ...interface{}) (interface{}, error) {
			if len(params) != 1 {
				return nil, fmt.Errorf("lower expects 1 argument, got %d", len(params))
			}
			return strings.ToLower(fmt.Sprintf("%v", params[0])), nil
		}),
		expr.Function("upper", func(params ...interface{}) (interface{}, error) {
			if len(params) != 1 {
				return nil, fmt.Errorf("upper expects 1 argument, got %d", len(params))
			}
			return strings.ToUpper(fmt.Sprintf("%v", params[0])), nil
		}),
		expr.Function("toNumber", func(params ...interface{}) (interface{}, error) {
			if len(params) != 1 {
				return nil, fmt.Errorf("toNumber expects 1 argument, got %d", len(params))
			}
			return toNumber(params[0])
		}),
		expr.Function("toString", func(params ...interface{}) (interface{}, error) {
			if len(params) != 1 {
				return nil, fmt.Errorf("toString expects 1 argument, got %d", len(params))
			}
			return fmt.Sprintf("%v", params[0]), nil
		}),
	}
}

func toNumber(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		var f float64
		if _, err := fmt.Sscanf(n, "%g", &f); err != nil {
			return 0, fmt.Errorf("cannot convert %q to number", n)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to number", v)
	}
}

// Compile compiles an expression against an environment shape without
// running it; useful when the same expression is evaluated repeatedly
// against many inputs (e.g. `transform` in `map` mode over a sequence).
func (e *Evaluator) Compile(expression string, env map[string]interface{}) (*vm.Program, error) {
	if expression == "" {
		return nil, fmt.Errorf("empty expression")
	}
	opts := append(helperOptions(), expr.Env(env))
	return expr.Compile(expression, opts...)
}

// Run evaluates a pre-compiled program against an environment.
func (e *Evaluator) Run(program *vm.Program, env map[string]interface{}) (interface{}, error) {
	return expr.Run(program, env)
}

// Evaluate compiles and evaluates an expression in one step, returning
// whatever value the expression produces.
func (e *Evaluator) Evaluate(expression string, env map[string]interface{}) (interface{}, error) {
	program, err := e.Compile(expression, env)
	if err != nil {
		return nil, fmt.Errorf("failed to compile expression: %w", err)
	}
	result, err := e.Run(program, env)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate expression: %w", err)
	}
	return result, nil
}

// EvaluateCondition evaluates an expression and requires a boolean
// result; this is the form edge conditions and the `decision`/`filter`
// strategies use.
func (e *Evaluator) EvaluateCondition(expression string, env map[string]interface{}) (bool, error) {
	result, err := e.Evaluate(expression, env)
	if err != nil {
		return false, err
	}
	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("expression did not evaluate to boolean, got %T", result)
	}
	return b, nil
}
