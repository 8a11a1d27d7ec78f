package engine

import (
	"github.com/gorax/gorax/internal/statemachine"
)

// runBookkeeping holds engine-owned successor-resolution state that
// does not belong in the pure statemachine.Context: which edges fired
// (as opposed to merely "resolved", which Context.Satisfied already
// tracks) and which targets have already been scheduled or skipped, so
// a target is decided exactly once.
type runBookkeeping struct {
	firedEdges map[string]map[string]bool // target -> source -> fired
	decided    map[string]bool
}

func newRunBookkeeping() *runBookkeeping {
	return &runBookkeeping{
		firedEdges: make(map[string]map[string]bool),
		decided:    make(map[string]bool),
	}
}

// resolveSuccessors evaluates every outgoing edge of a just-completed
// (or just-skipped) node and returns the set of newly-resolvable
// targets to schedule and to skip. sourceOutput is nil when sourceID
// itself was skipped, since a skipped node never evaluates conditions:
// every one of its outgoing edges is definitively suppressed.
func (e *Engine) resolveSuccessors(ctx *statemachine.Context, bk *runBookkeeping, sourceID string, sourceSkipped bool, sourceInput, sourceOutput interface{}) ([]string, []string, error) {
	edges := ctx.Processed.EdgesFrom(sourceID)
	env := map[string]interface{}{
		"input":     sourceInput,
		"output":    sourceOutput,
		"variables": ctx.Variables,
	}

	targets := make(map[string]bool, len(edges))
	for _, edge := range edges {
		fired := !sourceSkipped
		if fired && edge.Condition != "" {
			result, err := e.evaluator.EvaluateCondition(edge.Condition, env)
			if err != nil {
				return nil, nil, err
			}
			fired = result
		}
		if bk.firedEdges[edge.Target] == nil {
			bk.firedEdges[edge.Target] = make(map[string]bool)
		}
		bk.firedEdges[edge.Target][sourceID] = fired

		if ctx.Satisfied[edge.Target] == nil {
			ctx.Satisfied[edge.Target] = make(map[string]bool)
		}
		ctx.Satisfied[edge.Target][sourceID] = true
		targets[edge.Target] = true
	}

	var toSchedule, toSkip []string
	for target := range targets {
		sched, skip := e.maybeResolveTarget(ctx, bk, target)
		if sched {
			toSchedule = append(toSchedule, target)
		}
		if skip {
			toSkip = append(toSkip, target)
		}
	}
	return toSchedule, toSkip, nil
}

// maybeResolveTarget decides target's fate once every one of its
// predecessors has resolved (fired or been suppressed): schedule if
// any predecessor edge fired, else Skip.
func (e *Engine) maybeResolveTarget(ctx *statemachine.Context, bk *runBookkeeping, target string) (schedule bool, skip bool) {
	if bk.decided[target] {
		return false, false
	}
	predecessors := ctx.Processed.ReverseAdjacency[target]
	resolved := ctx.Satisfied[target]
	if len(resolved) < len(predecessors) {
		return false, false // convergence wait: not every predecessor has resolved yet
	}

	bk.decided[target] = true
	for _, pred := range predecessors {
		if bk.firedEdges[target][pred] {
			return true, false
		}
	}
	return false, true
}
