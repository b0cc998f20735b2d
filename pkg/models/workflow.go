package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Workflow represents a complete workflow definition with its graph structure.
type Workflow struct {
	ID          string                 `json:"id"`
	Slug        string                 `json:"slug"`
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Version     int                    `json:"version"`
	Status      WorkflowStatus         `json:"status"`
	Tags        []string               `json:"tags,omitempty"`
	Nodes       []*Node                `json:"nodes"`
	Edges       []*Edge                `json:"edges"`
	Variables   map[string]interface{} `json:"variables,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	// ErrorHandlerSlug, if set, names a workflow enqueued on unrecoverable failure
	// of an execution of this workflow, with the failure as its trigger
	// payload.
	ErrorHandlerSlug string    `json:"error_handler_slug,omitempty"`
	CreatedBy        string    `json:"created_by,omitempty"`
	DeletedAt        *time.Time `json:"deleted_at,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// WorkflowStatus represents the status of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusDraft    WorkflowStatus = "draft"
	WorkflowStatusActive   WorkflowStatus = "active"
	WorkflowStatusInactive WorkflowStatus = "inactive"
	WorkflowStatusArchived WorkflowStatus = "archived"
)

// ComponentType is a tag from a closed set; nodes are polymorphic only in
// configuration, never in control flow.
type ComponentType string

const (
	ComponentTypeTrigger     ComponentType = "trigger"
	ComponentTypeAgent       ComponentType = "agent"
	ComponentTypeTool        ComponentType = "tool"
	ComponentTypeSwitch      ComponentType = "switch"
	ComponentTypeLoop        ComponentType = "loop"
	ComponentTypeSubworkflow ComponentType = "subworkflow"
	ComponentTypeTransform   ComponentType = "transform"
)

// Node represents a single node in the workflow graph. Nodes never branch
// based on their own type at the engine level; component_type only selects
// which registered Executor runs and which NodeTypeSpec validates it.
type Node struct {
	ID            string                 `json:"id"` // node_id: unique within workflow, stable
	Name          string                 `json:"name"`
	ComponentType ComponentType          `json:"component_type"`
	SystemPrompt  string                 `json:"system_prompt,omitempty"`
	ExtraConfig   map[string]interface{} `json:"extra_config"`
	ModelRef      string                 `json:"model_ref,omitempty"`
	Position      *Position              `json:"position,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// Position represents the visual position of a node in the editor.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// EdgeType distinguishes ordinary dataflow edges from switch-routed ones.
type EdgeType string

const (
	EdgeTypeDirect      EdgeType = "direct"
	EdgeTypeConditional EdgeType = "conditional"
)

// EdgeLabel marks capability-wiring (sub-component) edges and loop edges.
// The empty label is an ordinary dataflow edge.
type EdgeLabel string

const (
	EdgeLabelNone         EdgeLabel = ""
	EdgeLabelLLM          EdgeLabel = "llm"
	EdgeLabelTool         EdgeLabel = "tool"
	EdgeLabelOutputParser EdgeLabel = "output_parser"
	EdgeLabelLoopBody     EdgeLabel = "loop_body"
	EdgeLabelLoopReturn   EdgeLabel = "loop_return"
)

// IsSubComponent reports whether the label wires a capability into a
// node rather than dataflow between two dataflow nodes. Sub-component
// edges never participate in execution ordering.
func (l EdgeLabel) IsSubComponent() bool {
	return l == EdgeLabelLLM || l == EdgeLabelTool || l == EdgeLabelOutputParser
}

// IsLoop reports whether the label is one of the loop-bypass labels that
// skip port-type compatibility checks.
func (l EdgeLabel) IsLoop() bool {
	return l == EdgeLabelLoopBody || l == EdgeLabelLoopReturn
}

// Edge represents a directed edge between two nodes.
type Edge struct {
	ID             string    `json:"id"`
	From           string    `json:"from"`
	To             string    `json:"to"`
	EdgeType       EdgeType  `json:"edge_type"`
	EdgeLabel      EdgeLabel `json:"edge_label,omitempty"`
	ConditionValue string    `json:"condition_value,omitempty"`
	Priority       int       `json:"priority"`
	// Guard is an optional expr-lang boolean expression, evaluated against
	// {output, node}, that gates whether a *direct* edge between two
	// non-switch nodes is followed. Only legal on EdgeTypeDirect edges
	// whose source is not a switch node (switch routing already uses
	// ConditionValue/state.route); the two mechanisms never overlap on the
	// same edge.
	Guard string `json:"guard,omitempty"`
}

// Validate validates the workflow structure.
func (w *Workflow) Validate() error {
	if w.Name == "" {
		return &ValidationError{Field: "name", Message: "name is required"}
	}

	if len(w.Nodes) == 0 {
		return &ValidationError{Field: "nodes", Message: "at least one node is required"}
	}

	nodeByID := make(map[string]*Node, len(w.Nodes))
	for _, node := range w.Nodes {
		if err := node.Validate(); err != nil {
			return err
		}
		if _, dup := nodeByID[node.ID]; dup {
			return &ValidationError{Field: "nodes", Message: fmt.Sprintf("duplicate node ID: %s", node.ID)}
		}
		nodeByID[node.ID] = node
	}

	for _, edge := range w.Edges {
		if err := edge.Validate(); err != nil {
			return err
		}

		source, ok := nodeByID[edge.From]
		if !ok {
			return &ValidationError{Field: "edges", Message: fmt.Sprintf("edge references non-existent source node: %s", edge.From)}
		}
		if _, ok := nodeByID[edge.To]; !ok {
			return &ValidationError{Field: "edges", Message: fmt.Sprintf("edge references non-existent target node: %s", edge.To)}
		}

		// Conditional edges may only originate from a switch node.
		if edge.EdgeType == EdgeTypeConditional && source.ComponentType != ComponentTypeSwitch {
			return &ValidationError{Field: "edges", Message: fmt.Sprintf("conditional edge %s originates from non-switch node %s", edge.ID, edge.From)}
		}

		// A Guard expression is only meaningful on a direct edge between
		// two non-switch nodes; switch routing already has its own
		// condition_value mechanism and must stay exhaustive.
		if edge.Guard != "" && (edge.EdgeType != EdgeTypeDirect || source.ComponentType == ComponentTypeSwitch) {
			return &ValidationError{Field: "edges", Message: fmt.Sprintf("edge %s: guard is only valid on a direct edge from a non-switch node", edge.ID)}
		}
	}

	return nil
}

// Validate validates the node structure.
func (n *Node) Validate() error {
	if n.ID == "" {
		return &ValidationError{Field: "id", Message: "node ID is required"}
	}
	if n.Name == "" {
		return &ValidationError{Field: "name", Message: "node name is required"}
	}
	if n.ComponentType == "" {
		return &ValidationError{Field: "component_type", Message: "component type is required"}
	}
	return nil
}

// Validate validates the edge structure.
func (e *Edge) Validate() error {
	if e.ID == "" {
		return &ValidationError{Field: "id", Message: "edge ID is required"}
	}
	if e.From == "" {
		return &ValidationError{Field: "from", Message: "edge source is required"}
	}
	if e.To == "" {
		return &ValidationError{Field: "to", Message: "edge target is required"}
	}
	// Self-loops are disallowed except via the explicit loop_body/loop_return
	// bypass labels, which model controlled re-entry.
	if e.From == e.To && !e.EdgeLabel.IsLoop() {
		return &ValidationError{Field: "edge", Message: "self-loop edges are not allowed outside loop_body/loop_return"}
	}
	if e.EdgeType == EdgeTypeConditional && e.ConditionValue == "" {
		return &ValidationError{Field: "condition_value", Message: "conditional edges require a condition_value"}
	}
	return nil
}

// GetNode returns a node by ID.
func (w *Workflow) GetNode(nodeID string) (*Node, error) {
	for _, node := range w.Nodes {
		if node.ID == nodeID {
			return node, nil
		}
	}
	return nil, ErrNodeNotFound
}

// GetEdge returns an edge by ID.
func (w *Workflow) GetEdge(edgeID string) (*Edge, error) {
	for _, edge := range w.Edges {
		if edge.ID == edgeID {
			return edge, nil
		}
	}
	return nil, ErrEdgeNotFound
}

// AddNode appends a validated node, rejecting duplicate node IDs.
func (w *Workflow) AddNode(node *Node) error {
	if err := node.Validate(); err != nil {
		return err
	}
	for _, existing := range w.Nodes {
		if existing.ID == node.ID {
			return &ValidationError{Field: "id", Message: fmt.Sprintf("node ID already exists: %s", node.ID)}
		}
	}
	w.Nodes = append(w.Nodes, node)
	return nil
}

// AddEdge appends a validated edge whose endpoints must already exist.
func (w *Workflow) AddEdge(edge *Edge) error {
	if err := edge.Validate(); err != nil {
		return err
	}
	for _, existing := range w.Edges {
		if existing.ID == edge.ID {
			return &ValidationError{Field: "id", Message: fmt.Sprintf("edge ID already exists: %s", edge.ID)}
		}
	}
	if _, err := w.GetNode(edge.From); err != nil {
		return &ValidationError{Field: "from", Message: fmt.Sprintf("source node does not exist: %s", edge.From)}
	}
	if _, err := w.GetNode(edge.To); err != nil {
		return &ValidationError{Field: "to", Message: fmt.Sprintf("target node does not exist: %s", edge.To)}
	}
	w.Edges = append(w.Edges, edge)
	return nil
}

// RemoveNode deletes a node and every edge touching it.
func (w *Workflow) RemoveNode(nodeID string) error {
	idx := -1
	for i, node := range w.Nodes {
		if node.ID == nodeID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrNodeNotFound
	}
	w.Nodes = append(w.Nodes[:idx], w.Nodes[idx+1:]...)

	kept := w.Edges[:0]
	for _, edge := range w.Edges {
		if edge.From != nodeID && edge.To != nodeID {
			kept = append(kept, edge)
		}
	}
	w.Edges = kept
	return nil
}

// RemoveEdge deletes an edge by ID.
func (w *Workflow) RemoveEdge(edgeID string) error {
	for i, edge := range w.Edges {
		if edge.ID == edgeID {
			w.Edges = append(w.Edges[:i], w.Edges[i+1:]...)
			return nil
		}
	}
	return ErrEdgeNotFound
}

// Clone creates a deep copy of the workflow.
func (w *Workflow) Clone() (*Workflow, error) {
	data, err := json.Marshal(w)
	if err != nil {
		return nil, err
	}

	var clone Workflow
	if err := json.Unmarshal(data, &clone); err != nil {
		return nil, err
	}

	return &clone, nil
}
