package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// WorkflowModel represents a workflow definition in the database.
type WorkflowModel struct {
	bun.BaseModel `bun:"table:workflows,alias:w"`

	ID               string      `bun:"id,pk" json:"id"`
	Slug             string      `bun:"slug,notnull,unique" json:"slug" validate:"required,max=255"`
	Name             string      `bun:"name,notnull" json:"name" validate:"required,max=255"`
	Description      string      `bun:"description" json:"description,omitempty"`
	Status           string      `bun:"status,notnull,default:'draft'" json:"status" validate:"required,oneof=draft active inactive archived"`
	Version          int         `bun:"version,notnull,default:1" json:"version" validate:"gte=1"`
	Tags             StringArray `bun:"tags,type:text[]" json:"tags,omitempty"`
	Variables        JSONBMap    `bun:"variables,type:jsonb,default:'{}'" json:"variables,omitempty"`
	Metadata         JSONBMap    `bun:"metadata,type:jsonb,default:'{}'" json:"metadata,omitempty"`
	ErrorHandlerSlug string      `bun:"error_handler_slug" json:"error_handler_slug,omitempty"`
	CreatedBy        string      `bun:"created_by" json:"created_by,omitempty"`
	CreatedAt        time.Time   `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt        time.Time   `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`
	DeletedAt        *time.Time  `bun:"deleted_at" json:"deleted_at,omitempty"`

	// Relationships
	Nodes []*NodeModel `bun:"rel:has-many,join:id=workflow_id" json:"nodes,omitempty"`
	Edges []*EdgeModel `bun:"rel:has-many,join:id=workflow_id" json:"edges,omitempty"`
}

// TableName returns the table name for WorkflowModel.
func (WorkflowModel) TableName() string {
	return "workflows"
}

// BeforeInsert hook to set timestamps.
func (w *WorkflowModel) BeforeInsert(ctx interface{}) error {
	now := time.Now()
	w.CreatedAt = now
	w.UpdatedAt = now
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	if w.Variables == nil {
		w.Variables = make(JSONBMap)
	}
	if w.Metadata == nil {
		w.Metadata = make(JSONBMap)
	}
	return nil
}

// BeforeUpdate hook to update timestamp.
func (w *WorkflowModel) BeforeUpdate(ctx interface{}) error {
	w.UpdatedAt = time.Now()
	return nil
}

// IsDeleted returns true if the workflow is soft-deleted.
func (w *WorkflowModel) IsDeleted() bool {
	return w.DeletedAt != nil
}

// NodeModel represents a workflow node in the database. NodeID is the
// caller-visible identifier, unique within one workflow; ID is the
// surrogate row key.
type NodeModel struct {
	bun.BaseModel `bun:"table:nodes,alias:n"`

	ID            string    `bun:"id,pk" json:"-"`
	NodeID        string    `bun:"node_id,notnull" json:"id" validate:"required,max=100"`
	WorkflowID    string    `bun:"workflow_id,notnull" json:"workflow_id" validate:"required"`
	Name          string    `bun:"name,notnull" json:"name" validate:"required,max=255"`
	ComponentType string    `bun:"component_type,notnull" json:"component_type" validate:"required,max=50"`
	SystemPrompt  string    `bun:"system_prompt" json:"system_prompt,omitempty"`
	ExtraConfig   JSONBMap  `bun:"extra_config,type:jsonb,notnull,default:'{}'" json:"extra_config"`
	ModelRef      string    `bun:"model_ref" json:"model_ref,omitempty"`
	Position      JSONBMap  `bun:"position,type:jsonb" json:"position,omitempty"`
	Metadata      JSONBMap  `bun:"metadata,type:jsonb" json:"metadata,omitempty"`
	CreatedAt     time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt     time.Time `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`

	// Relationships
	Workflow *WorkflowModel `bun:"rel:belongs-to,join:workflow_id=id" json:"workflow,omitempty"`
}

// TableName returns the table name for NodeModel.
func (NodeModel) TableName() string {
	return "nodes"
}

// BeforeInsert hook to set timestamps.
func (n *NodeModel) BeforeInsert(ctx interface{}) error {
	now := time.Now()
	n.CreatedAt = now
	n.UpdatedAt = now
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.ExtraConfig == nil {
		n.ExtraConfig = make(JSONBMap)
	}
	return nil
}

// BeforeUpdate hook to update timestamp.
func (n *NodeModel) BeforeUpdate(ctx interface{}) error {
	n.UpdatedAt = time.Now()
	return nil
}

// EdgeModel represents a directed edge between two workflow nodes in the
// database. From/To reference NodeModel.NodeID within the same workflow.
type EdgeModel struct {
	bun.BaseModel `bun:"table:edges,alias:e"`

	ID             string    `bun:"id,pk" json:"-"`
	EdgeID         string    `bun:"edge_id,notnull" json:"id" validate:"required,max=100"`
	WorkflowID     string    `bun:"workflow_id,notnull" json:"workflow_id" validate:"required"`
	FromNodeID     string    `bun:"from_node_id,notnull" json:"from" validate:"required,max=100"`
	ToNodeID       string    `bun:"to_node_id,notnull" json:"to" validate:"required,max=100"`
	EdgeType       string    `bun:"edge_type,notnull,default:'direct'" json:"edge_type" validate:"required,oneof=direct conditional"`
	EdgeLabel      string    `bun:"edge_label" json:"edge_label,omitempty" validate:"omitempty,oneof=llm tool output_parser loop_body loop_return"`
	ConditionValue string    `bun:"condition_value" json:"condition_value,omitempty"`
	Priority       int       `bun:"priority,notnull,default:0" json:"priority"`
	Guard          string    `bun:"guard" json:"guard,omitempty"`
	CreatedAt      time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt      time.Time `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`

	// Relationships
	Workflow *WorkflowModel `bun:"rel:belongs-to,join:workflow_id=id" json:"workflow,omitempty"`
}

// TableName returns the table name for EdgeModel.
func (EdgeModel) TableName() string {
	return "edges"
}

// BeforeInsert hook to set timestamps.
func (e *EdgeModel) BeforeInsert(ctx interface{}) error {
	now := time.Now()
	e.CreatedAt = now
	e.UpdatedAt = now
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}

// BeforeUpdate hook to update timestamp.
func (e *EdgeModel) BeforeUpdate(ctx interface{}) error {
	e.UpdatedAt = time.Now()
	return nil
}
