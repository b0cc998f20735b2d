// Package builder compiles a stored workflow graph into a per-trigger
// executable Plan.
package builder

import (
	"github.com/expr-lang/expr/vm"

	"github.com/theuselessai/pipelit/pkg/models"
)

// NodeSpec is a compiled node: its static config plus the sub-component
// refs resolved once at build time by following llm/tool/output_parser
// edges.
type NodeSpec struct {
	NodeID          string
	ComponentType   models.ComponentType
	SystemPrompt    string
	ResolvedConfig  map[string]interface{}
	ModelRef        string
	ToolRefs        []string
	OutputParserRef string
}

// SwitchRoute is one (condition_value, target) pair of a switch node's
// routing table, in declared order.
type SwitchRoute struct {
	ConditionValue string
	TargetNodeID   string
}

// SwitchRoutes holds a switch node's ordered routes plus an optional
// default target (the route whose condition_value == "default").
type SwitchRoutes struct {
	Routes  []SwitchRoute
	Default string // empty if no default route declared
}

// Resolve returns the target node_id for a given state.route value, per
// Exact match first, else "default", else ("", false) meaning the
// branch ends.
func (s *SwitchRoutes) Resolve(route string) (string, bool) {
	for _, r := range s.Routes {
		if r.ConditionValue == route {
			return r.TargetNodeID, true
		}
	}
	if s.Default != "" {
		return s.Default, true
	}
	return "", false
}

// Plan is a validated, trigger-scoped, executable representation of a
// workflow.
type Plan struct {
	TriggerNode string
	Nodes       map[string]*NodeSpec
	// Adjacency maps node_id -> outgoing non-sub-component edges, sorted by
	// (priority asc, edge_id asc), the frozen fan-out tie-break.
	Adjacency map[string][]*models.Edge
	// SwitchRoutes maps switch_node_id -> its routing table.
	SwitchRoutes map[string]*SwitchRoutes
	// EdgeGuards maps edge_id -> its compiled boolean guard program, for
	// direct edges carrying a non-empty Edge.Guard. An edge absent
	// from this map has no guard and is always followed.
	EdgeGuards map[string]*vm.Program
}

// OutgoingEdges returns nodeID's outgoing edges in adjacency order, or nil.
func (p *Plan) OutgoingEdges(nodeID string) []*models.Edge {
	return p.Adjacency[nodeID]
}

// EvalGuard runs edgeID's compiled guard program (if any) against env and
// reports whether the edge should be followed. An edge with no guard is
// always followed.
func (p *Plan) EvalGuard(edgeID string, env map[string]interface{}) (bool, error) {
	program, ok := p.EdgeGuards[edgeID]
	if !ok {
		return true, nil
	}
	result, err := vm.Run(program, env)
	if err != nil {
		return false, err
	}
	pass, _ := result.(bool)
	return pass, nil
}
