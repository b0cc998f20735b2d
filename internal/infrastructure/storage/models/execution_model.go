package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ExecutionModel represents a single firing of a workflow graph in the
// database.
type ExecutionModel struct {
	bun.BaseModel `bun:"table:executions,alias:ex"`

	ID                string     `bun:"id,pk" json:"id"`
	WorkflowID        string     `bun:"workflow_id,notnull" json:"workflow_id" validate:"required"`
	Status            string     `bun:"status,notnull,default:'pending'" json:"status" validate:"required,oneof=pending running interrupted completed failed cancelled"`
	ParentExecutionID *string    `bun:"parent_execution_id" json:"parent_execution_id,omitempty"`
	ParentNodeID      *string    `bun:"parent_node_id" json:"parent_node_id,omitempty"`
	WaitingNodeID     *string    `bun:"waiting_node_id" json:"waiting_node_id,omitempty"`
	ThreadID          *string    `bun:"thread_id" json:"thread_id,omitempty"`
	TriggerNodeID     string     `bun:"trigger_node_id,notnull" json:"trigger_node_id"`
	TriggerPayload    JSONBMap   `bun:"trigger_payload,type:jsonb,default:'{}'" json:"trigger_payload,omitempty"`
	FinalOutput       JSONBMap   `bun:"final_output,type:jsonb" json:"final_output,omitempty"`
	Error             string     `bun:"error" json:"error,omitempty"`
	ErrorCode         string     `bun:"error_code" json:"error_code,omitempty"`
	SpentTokens       int64      `bun:"spent_tokens,notnull,default:0" json:"spent_tokens"`
	SpentUSD          float64    `bun:"spent_usd,notnull,default:0" json:"spent_usd"`
	EpicID            *string    `bun:"epic_id" json:"epic_id,omitempty"`
	TaskID            *string    `bun:"task_id" json:"task_id,omitempty"`
	StartedAt         time.Time  `bun:"started_at,notnull,default:current_timestamp" json:"started_at"`
	CompletedAt       *time.Time `bun:"completed_at" json:"completed_at,omitempty"`
	CreatedAt         time.Time  `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt         time.Time  `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`

	// Relationships
	Workflow *WorkflowModel       `bun:"rel:belongs-to,join:workflow_id=id" json:"workflow,omitempty"`
	Logs     []*ExecutionLogModel `bun:"rel:has-many,join:id=execution_id" json:"logs,omitempty"`
}

// TableName returns the table name for ExecutionModel.
func (ExecutionModel) TableName() string {
	return "executions"
}

// BeforeInsert hook to set timestamps.
func (e *ExecutionModel) BeforeInsert(ctx interface{}) error {
	now := time.Now()
	e.CreatedAt = now
	e.UpdatedAt = now
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.TriggerPayload == nil {
		e.TriggerPayload = make(JSONBMap)
	}
	return nil
}

// BeforeUpdate hook to update timestamp.
func (e *ExecutionModel) BeforeUpdate(ctx interface{}) error {
	e.UpdatedAt = time.Now()
	return nil
}

// IsTerminal returns true if the execution is in a terminal state.
func (e *ExecutionModel) IsTerminal() bool {
	return e.Status == "completed" || e.Status == "failed" || e.Status == "cancelled"
}

// ExecutionLogModel is one append-only per-node record of an execution.
// Rows are only ever inserted, never updated or deleted while the
// execution row exists.
type ExecutionLogModel struct {
	bun.BaseModel `bun:"table:execution_logs,alias:el"`

	ID          string    `bun:"id,pk" json:"id"`
	ExecutionID string    `bun:"execution_id,notnull" json:"execution_id" validate:"required"`
	NodeID      string    `bun:"node_id,notnull" json:"node_id" validate:"required"`
	Status      string    `bun:"status,notnull" json:"status" validate:"required,oneof=pending running waiting success failed skipped cancelled"`
	Input       JSONBMap  `bun:"input,type:jsonb" json:"input,omitempty"`
	Output      JSONBMap  `bun:"output,type:jsonb" json:"output,omitempty"`
	Error       string    `bun:"error" json:"error,omitempty"`
	ErrorCode   string    `bun:"error_code" json:"error_code,omitempty"`
	Metadata    JSONBMap  `bun:"metadata,type:jsonb" json:"metadata,omitempty"`
	DurationMs  int64     `bun:"duration_ms,notnull,default:0" json:"duration_ms"`
	Timestamp   time.Time `bun:"timestamp,notnull,default:current_timestamp" json:"timestamp"`

	// Relationships
	Execution *ExecutionModel `bun:"rel:belongs-to,join:execution_id=id" json:"execution,omitempty"`
}

// TableName returns the table name for ExecutionLogModel.
func (ExecutionLogModel) TableName() string {
	return "execution_logs"
}

// BeforeInsert hook to set defaults.
func (l *ExecutionLogModel) BeforeInsert(ctx interface{}) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.Timestamp.IsZero() {
		l.Timestamp = time.Now()
	}
	return nil
}
