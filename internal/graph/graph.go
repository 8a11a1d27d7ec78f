// Package graph turns an authored node/edge list into a normalized DAG:
// the only component in this repository with no I/O and no dependency
// on any other package but the node/edge types themselves.
package graph

import (
	"fmt"
	"sort"

	"github.com/gorax/gorax/internal/workflow"
)

// InvariantCode names which structural invariant a graph violated.
type InvariantCode string

const (
	InvalidEdgeEndpoint InvariantCode = "invalid_edge_endpoint"
	SelfEdge            InvariantCode = "self_edge"
	NoEntryOrExit       InvariantCode = "no_entry_or_exit"
	CycleDetected       InvariantCode = "cycle_detected"
	UnreachableNodes    InvariantCode = "unreachable_nodes"
)

// ValidationError reports the first violated invariant. Graph processing
// stops at the first failure; no partial ProcessedWorkflow escapes.
type ValidationError struct {
	Code    InvariantCode
	Message string
	NodeIDs []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// edgeKey indexes an edge by its endpoints for condition lookups.
type edgeKey struct{ source, target string }

// ProcessedWorkflow is the immutable, derived shape of an authored graph.
type ProcessedWorkflow struct {
	Nodes             map[string]workflow.Node
	Adjacency         map[string][]string
	ReverseAdjacency  map[string][]string
	Entry             []string
	Exit              []string
	BranchPoints      []string
	ConvergencePoints map[string][]string
	ParallelGroups    [][]string
	TopoOrder         []string
	Depth             map[string]int

	edges     map[edgeKey]workflow.Edge
	edgesFrom map[string][]workflow.Edge
}

// EdgesFrom returns the outgoing edges of a node in declaration order.
// Unlike Adjacency, it is not deduplicated by target: every declared
// edge is returned.
func (p *ProcessedWorkflow) EdgesFrom(nodeID string) []workflow.Edge {
	return p.edgesFrom[nodeID]
}

// Edge looks up the edge between two nodes, if any.
func (p *ProcessedWorkflow) Edge(source, target string) (workflow.Edge, bool) {
	e, ok := p.edges[edgeKey{source, target}]
	return e, ok
}

// IsEntry reports whether nodeID has no predecessors.
func (p *ProcessedWorkflow) IsEntry(nodeID string) bool {
	return len(p.ReverseAdjacency[nodeID]) == 0
}

// IsExit reports whether nodeID has no successors.
func (p *ProcessedWorkflow) IsExit(nodeID string) bool {
	return len(p.Adjacency[nodeID]) == 0
}

// Process is a pure function (nodes, edges) -> ProcessedWorkflow. It
// validates structural invariants and never performs I/O.
func Process(def workflow.Definition) (*ProcessedWorkflow, error) {
	nodes := make(map[string]workflow.Node, len(def.Nodes))
	for _, n := range def.Nodes {
		nodes[n.ID] = n
	}

	// I1: every edge endpoint refers to a known node.
	// I2: no self-edges.
	for _, e := range def.Edges {
		if e.Source == e.Target {
			return nil, &ValidationError{Code: SelfEdge, Message: "edge " + e.ID + " connects a node to itself", NodeIDs: []string{e.Source}}
		}
		if _, ok := nodes[e.Source]; !ok {
			return nil, &ValidationError{Code: InvalidEdgeEndpoint, Message: "edge " + e.ID + " source " + e.Source + " is not a known node", NodeIDs: []string{e.Source}}
		}
		if _, ok := nodes[e.Target]; !ok {
			return nil, &ValidationError{Code: InvalidEdgeEndpoint, Message: "edge " + e.ID + " target " + e.Target + " is not a known node", NodeIDs: []string{e.Target}}
		}
	}

	// Adjacency build: single pass, dedup successors, preserve first-seen order.
	adjacency := make(map[string][]string, len(nodes))
	reverseAdjacency := make(map[string][]string, len(nodes))
	seenSucc := make(map[string]map[string]bool, len(nodes))
	edges := make(map[edgeKey]workflow.Edge, len(def.Edges))
	edgesFrom := make(map[string][]workflow.Edge, len(nodes))
	for id := range nodes {
		adjacency[id] = []string{}
		reverseAdjacency[id] = []string{}
		seenSucc[id] = map[string]bool{}
	}
	for _, e := range def.Edges {
		edges[edgeKey{e.Source, e.Target}] = e
		edgesFrom[e.Source] = append(edgesFrom[e.Source], e)
		if seenSucc[e.Source][e.Target] {
			continue
		}
		seenSucc[e.Source][e.Target] = true
		adjacency[e.Source] = append(adjacency[e.Source], e.Target)
		reverseAdjacency[e.Target] = append(reverseAdjacency[e.Target], e.Source)
	}

	// Entry/exit.
	var entry, exit []string
	for id := range nodes {
		if len(reverseAdjacency[id]) == 0 {
			entry = append(entry, id)
		}
		if len(adjacency[id]) == 0 {
			exit = append(exit, id)
		}
	}
	sort.Strings(entry)
	sort.Strings(exit)
	if len(entry) == 0 || len(exit) == 0 {
		return nil, &ValidationError{Code: NoEntryOrExit, Message: "graph must have at least one entry and one exit node"}
	}

	// Cycle detection: DFS with tri-color marking.
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(nodes))
	var cyclePath []string
	var dfs func(id string) bool
	dfs = func(id string) bool {
		color[id] = gray
		cyclePath = append(cyclePath, id)
		for _, next := range adjacency[id] {
			switch color[next] {
			case gray:
				cyclePath = append(cyclePath, next)
				return true
			case white:
				if dfs(next) {
					return true
				}
			}
		}
		cyclePath = cyclePath[:len(cyclePath)-1]
		color[id] = black
		return false
	}
	ids := sortedKeys(nodes)
	for _, id := range ids {
		if color[id] == white {
			if dfs(id) {
				return nil, &ValidationError{Code: CycleDetected, Message: "graph contains a cycle", NodeIDs: append([]string(nil), cyclePath...)}
			}
		}
	}

	// Depth: BFS from entries, depth(n) = max over predecessors + 1.
	depth := make(map[string]int, len(nodes))
	order := topoSort(nodes, adjacency, reverseAdjacency)
	for _, id := range order {
		preds := reverseAdjacency[id]
		if len(preds) == 0 {
			depth[id] = 0
			continue
		}
		max := -1
		for _, p := range preds {
			if depth[p] > max {
				max = depth[p]
			}
		}
		depth[id] = max + 1
	}

	// Branch points / convergence points.
	var branchPoints []string
	convergencePoints := make(map[string][]string)
	for id := range nodes {
		if len(adjacency[id]) > 1 {
			branchPoints = append(branchPoints, id)
		}
		if len(reverseAdjacency[id]) > 1 {
			preds := append([]string(nil), reverseAdjacency[id]...)
			sort.Strings(preds)
			convergencePoints[id] = preds
		}
	}
	sort.Strings(branchPoints)

	// Parallel groups: iterative layering, deterministic tie-break by
	// depth then lexicographic nodeId.
	parallelGroups := layer(nodes, reverseAdjacency, depth)

	// Reachability: a node must be reached both by the forward BFS from
	// entries and by the reverse BFS from exits.
	forward := bfsReachable(adjacency, entry)
	backward := bfsReachable(reverseAdjacency, exit)
	var unreachable []string
	for id := range nodes {
		if !forward[id] || !backward[id] {
			unreachable = append(unreachable, id)
		}
	}
	if len(unreachable) > 0 {
		sort.Strings(unreachable)
		return nil, &ValidationError{Code: UnreachableNodes, Message: "graph contains nodes unreachable from an entry or to an exit", NodeIDs: unreachable}
	}

	return &ProcessedWorkflow{
		Nodes:             nodes,
		Adjacency:         adjacency,
		ReverseAdjacency:  reverseAdjacency,
		Entry:             entry,
		Exit:              exit,
		BranchPoints:      branchPoints,
		ConvergencePoints: convergencePoints,
		ParallelGroups:    parallelGroups,
		TopoOrder:         order,
		Depth:             depth,
		edges:             edges,
		edgesFrom:         edgesFrom,
	}, nil
}

func sortedKeys(m map[string]workflow.Node) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// topoSort is Kahn's algorithm, used only to derive depth in a single
// forward pass; the returned order is also exposed as TopoOrder.
func topoSort(nodes map[string]workflow.Node, adjacency, reverseAdjacency map[string][]string) []string {
	inDegree := make(map[string]int, len(nodes))
	for id := range nodes {
		inDegree[id] = len(reverseAdjacency[id])
	}
	var queue []string
	for id := range nodes {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)
	order := make([]string, 0, len(nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		var next []string
		for _, succ := range adjacency[id] {
			inDegree[succ]--
			if inDegree[succ] == 0 {
				next = append(next, succ)
			}
		}
		sort.Strings(next)
		queue = append(queue, next...)
		sort.Strings(queue)
	}
	return order
}

// layer produces the parallelGroups: nodes whose predecessors all lie in
// already-emitted layers, starting from the entry set.
func layer(nodes map[string]workflow.Node, reverseAdjacency map[string][]string, depth map[string]int) [][]string {
	emitted := make(map[string]bool, len(nodes))
	var groups [][]string
	remaining := len(nodes)
	for remaining > 0 {
		var ready []string
		for id := range nodes {
			if emitted[id] {
				continue
			}
			ok := true
			for _, p := range reverseAdjacency[id] {
				if !emitted[p] {
					ok = false
					break
				}
			}
			if ok {
				ready = append(ready, id)
			}
		}
		if len(ready) == 0 {
			// Invariant violation upstream (cycle) should already have
			// been caught; defensive break to avoid an infinite loop.
			break
		}
		sort.Slice(ready, func(i, j int) bool {
			if depth[ready[i]] != depth[ready[j]] {
				return depth[ready[i]] < depth[ready[j]]
			}
			return ready[i] < ready[j]
		})
		groups = append(groups, ready)
		for _, id := range ready {
			emitted[id] = true
		}
		remaining -= len(ready)
	}
	return groups
}

func bfsReachable(adjacency map[string][]string, starts []string) map[string]bool {
	visited := make(map[string]bool, len(adjacency))
	queue := append([]string(nil), starts...)
	for _, s := range starts {
		visited[s] = true
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, next := range adjacency[id] {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	return visited
}
