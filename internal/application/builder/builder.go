package builder

import (
	"fmt"
	"sort"

	"github.com/expr-lang/expr/vm"

	"github.com/theuselessai/pipelit/internal/application/topology"
	"github.com/theuselessai/pipelit/pkg/executor"
	"github.com/theuselessai/pipelit/pkg/models"
)

// Builder compiles stored nodes+edges into a per-trigger Plan.
type Builder struct {
	specs  *executor.SpecRegistry
	guards *guardCache
}

// New creates a Builder backed by the given component-type spec registry.
// specs may be nil, in which case every node is treated as ANY-compatible
// and sub-component requirements are never enforced.
func New(specs *executor.SpecRegistry) *Builder {
	return &Builder{specs: specs, guards: newGuardCache(256)}
}

// Build compiles workflow's graph into a Plan scoped to triggerNodeID.
// Returns a *models.ValidationError (wrapped) on any build-time rule
// violation.
func (b *Builder) Build(workflow *models.Workflow, triggerNodeID string) (*Plan, error) {
	if _, err := workflow.GetNode(triggerNodeID); err != nil {
		return nil, fmt.Errorf("build: trigger node %s: %w", triggerNodeID, err)
	}

	reach := topology.Walk(workflow.Edges, triggerNodeID)

	nodesByID := make(map[string]*models.Node, len(workflow.Nodes))
	for _, n := range workflow.Nodes {
		nodesByID[n.ID] = n
	}

	plan := &Plan{
		TriggerNode:  triggerNodeID,
		Nodes:        make(map[string]*NodeSpec),
		Adjacency:    make(map[string][]*models.Edge),
		SwitchRoutes: make(map[string]*SwitchRoutes),
		EdgeGuards:   make(map[string]*vm.Program),
	}

	// 1. Compile NodeSpecs for every reachable node (Builder rule 1: trigger-scoped).
	for nodeID := range reach.Reachable {
		node, ok := nodesByID[nodeID]
		if !ok {
			continue // dangling id from an edge with no matching node; ignore
		}

		spec := &NodeSpec{
			NodeID:         node.ID,
			ComponentType:  node.ComponentType,
			SystemPrompt:   node.SystemPrompt,
			ResolvedConfig: node.ExtraConfig,
		}

		for _, e := range topology.SubComponentEdges(workflow.Edges, node.ID) {
			switch e.EdgeLabel {
			case models.EdgeLabelLLM:
				spec.ModelRef = e.To
			case models.EdgeLabelTool:
				spec.ToolRefs = append(spec.ToolRefs, e.To)
			case models.EdgeLabelOutputParser:
				spec.OutputParserRef = e.To
			}
		}

		if err := b.validateRequiredSubcomponents(node, spec); err != nil {
			return nil, err
		}

		plan.Nodes[node.ID] = spec
	}

	// 2. Validate edges and build adjacency + switch routing (Builder rules 2, 3).
	for _, e := range reach.Edges {
		sourceNode := nodesByID[e.From]
		if sourceNode == nil {
			continue
		}

		if e.EdgeType == models.EdgeTypeConditional {
			if sourceNode.ComponentType != models.ComponentTypeSwitch {
				return nil, &models.ValidationError{
					Field:   "edges",
					Message: fmt.Sprintf("conditional edge %s originates from non-switch node %s", e.ID, e.From),
				}
			}
			routes := plan.SwitchRoutes[e.From]
			if routes == nil {
				routes = &SwitchRoutes{}
				plan.SwitchRoutes[e.From] = routes
			}
			if e.ConditionValue == "default" {
				routes.Default = e.To
			} else {
				routes.Routes = append(routes.Routes, SwitchRoute{ConditionValue: e.ConditionValue, TargetNodeID: e.To})
			}
		} else if sourceNode.ComponentType != models.ComponentTypeSwitch {
			// Non-bypass direct edges between non-switch nodes must satisfy
			// port-type compatibility (Builder rule 2). loop_body/loop_return
			// bypass this check.
			if !e.EdgeLabel.IsLoop() {
				if err := b.validatePortCompatibility(nodesByID[e.From], nodesByID[e.To]); err != nil {
					return nil, err
				}
			}

			// A direct edge between non-switch nodes may carry a
			// boolean expr-lang guard, compiled once per distinct guard text
			// and evaluated at walk time against {output, node}.
			if e.Guard != "" {
				program, err := b.guards.compileAndCache(e.Guard, map[string]interface{}{
					"output": map[string]interface{}{},
					"node":   "",
				})
				if err != nil {
					return nil, &models.ValidationError{
						Field:   "edges",
						Message: fmt.Sprintf("edge %s: invalid guard expression: %v", e.ID, err),
					}
				}
				plan.EdgeGuards[e.ID] = program
			}
		}

		plan.Adjacency[e.From] = append(plan.Adjacency[e.From], e)
	}

	// Frozen tie-break: (priority asc, edge_id asc).
	for _, edges := range plan.Adjacency {
		sort.Slice(edges, func(i, j int) bool {
			if edges[i].Priority != edges[j].Priority {
				return edges[i].Priority < edges[j].Priority
			}
			return edges[i].ID < edges[j].ID
		})
	}

	return plan, nil
}

// validateRequiredSubcomponents enforces that every AI-class node has a
// resolved model_ref when its NodeTypeSpec requires one.
func (b *Builder) validateRequiredSubcomponents(node *models.Node, spec *NodeSpec) error {
	if b.specs == nil {
		return nil
	}
	typeSpec, ok := b.specs.Get(string(node.ComponentType))
	if !ok {
		return nil
	}

	if typeSpec.Requires(executor.SubComponentModel) && spec.ModelRef == "" {
		return &models.ValidationError{
			Field:   "model_ref",
			Message: fmt.Sprintf("node %s (%s) requires a resolved model_ref via an llm-labelled edge", node.ID, node.ComponentType),
		}
	}
	if typeSpec.Requires(executor.SubComponentTools) && len(spec.ToolRefs) == 0 {
		return &models.ValidationError{
			Field:   "tool_refs",
			Message: fmt.Sprintf("node %s (%s) requires at least one resolved tool via a tool-labelled edge", node.ID, node.ComponentType),
		}
	}
	if typeSpec.Requires(executor.SubComponentOutputParser) && spec.OutputParserRef == "" {
		return &models.ValidationError{
			Field:   "output_parser_ref",
			Message: fmt.Sprintf("node %s (%s) requires a resolved output_parser_ref via an output_parser-labelled edge", node.ID, node.ComponentType),
		}
	}
	return nil
}

// validatePortCompatibility checks declared output/input port types are
// compatible across a dataflow edge. Nodes with no registered
// spec are treated leniently (ANY on both sides).
func (b *Builder) validatePortCompatibility(from, to *models.Node) error {
	if b.specs == nil || from == nil || to == nil {
		return nil
	}
	fromSpec, fromOK := b.specs.Get(string(from.ComponentType))
	toSpec, toOK := b.specs.Get(string(to.ComponentType))
	if !fromOK || !toOK || len(fromSpec.Outputs) == 0 || len(toSpec.Inputs) == 0 {
		return nil
	}

	outType := fromSpec.Outputs[0].Type
	for _, in := range toSpec.Inputs {
		if in.Type.Compatible(outType) {
			return nil
		}
	}

	return &models.ValidationError{
		Field: "edges",
		Message: fmt.Sprintf("port type mismatch: %s (%s) output is not compatible with any input of %s (%s)",
			from.ID, from.ComponentType, to.ID, to.ComponentType),
	}
}
