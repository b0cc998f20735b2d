// Package topology performs BFS reachability from a trigger node and
// filters out sub-component (capability-wiring) edges, which never
// participate in execution ordering.
package topology

import "github.com/theuselessai/pipelit/pkg/models"

// Result is the set of nodes reachable from a trigger node, plus the edge
// list restricted to those nodes and to traversable (non-sub-component)
// edges. Deterministic and idempotent.
type Result struct {
	// Reachable maps node_id -> true for every node reached from the trigger.
	Reachable map[string]bool
	// Edges is workflow.Edges filtered to those whose both endpoints are
	// reachable and whose label is not a sub-component label.
	Edges []*models.Edge
}

// IsReachable returns whether a node_id was reached.
func (r *Result) IsReachable(nodeID string) bool {
	return r.Reachable[nodeID]
}

// Walk performs BFS from triggerNodeID over edges, traversing direct and
// conditional edges and the loop_body/loop_return bypass labels, but never
// sub-component labels (llm|tool|output_parser). Unreachable nodes are
// silently excluded; Walk never fails.
func Walk(edges []*models.Edge, triggerNodeID string) *Result {
	adjacency := make(map[string][]*models.Edge)
	for _, e := range edges {
		if e.EdgeLabel.IsSubComponent() {
			continue
		}
		adjacency[e.From] = append(adjacency[e.From], e)
	}

	reachable := map[string]bool{triggerNodeID: true}
	queue := []string{triggerNodeID}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for _, e := range adjacency[cur] {
			if reachable[e.To] {
				continue
			}
			reachable[e.To] = true
			queue = append(queue, e.To)
		}
	}

	filtered := make([]*models.Edge, 0, len(edges))
	for _, e := range edges {
		if e.EdgeLabel.IsSubComponent() {
			continue
		}
		if reachable[e.From] && reachable[e.To] {
			filtered = append(filtered, e)
		}
	}

	return &Result{Reachable: reachable, Edges: filtered}
}

// SubComponentEdges returns the edges originating at nodeID that wire a
// capability (model/tool/parser) into it; these feed per-node
// configuration resolution instead of execution ordering.
func SubComponentEdges(edges []*models.Edge, nodeID string) []*models.Edge {
	out := make([]*models.Edge, 0)
	for _, e := range edges {
		if e.From == nodeID && e.EdgeLabel.IsSubComponent() {
			out = append(out, e)
		}
	}
	return out
}
