package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ScheduledJobModel is a persisted recurring-workflow-firing job.
type ScheduledJobModel struct {
	bun.BaseModel `bun:"table:scheduled_jobs,alias:sj"`

	ID              string     `bun:"id,pk" json:"id"`
	WorkflowID      string     `bun:"workflow_id,notnull" json:"workflow_id" validate:"required"`
	TriggerNodeID   string     `bun:"trigger_node_id,notnull" json:"trigger_node_id" validate:"required"`
	IntervalSeconds int64      `bun:"interval_seconds,notnull" json:"interval_seconds" validate:"gte=1"`
	TotalRepeats    int64      `bun:"total_repeats,notnull,default:0" json:"total_repeats" validate:"gte=0"`
	MaxRetries      int        `bun:"max_retries,notnull,default:0" json:"max_retries" validate:"gte=0"`
	TimeoutSeconds  int64      `bun:"timeout_seconds,notnull,default:0" json:"timeout_seconds" validate:"gte=0"`
	TriggerPayload  JSONBMap   `bun:"trigger_payload,type:jsonb" json:"trigger_payload,omitempty"`
	Status          string     `bun:"status,notnull,default:'active'" json:"status" validate:"required,oneof=active paused done dead"`
	CurrentRepeat   int64      `bun:"current_repeat,notnull,default:0" json:"current_repeat"`
	CurrentRetry    int        `bun:"current_retry,notnull,default:0" json:"current_retry"`
	LastRunAt       *time.Time `bun:"last_run_at" json:"last_run_at,omitempty"`
	NextRunAt       time.Time  `bun:"next_run_at,notnull" json:"next_run_at"`
	RunCount        int64      `bun:"run_count,notnull,default:0" json:"run_count"`
	ErrorCount      int64      `bun:"error_count,notnull,default:0" json:"error_count"`
	LastError       string     `bun:"last_error" json:"last_error,omitempty"`
	CreatedAt       time.Time  `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt       time.Time  `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`

	// Relationships
	Workflow *WorkflowModel `bun:"rel:belongs-to,join:workflow_id=id" json:"workflow,omitempty"`
}

// TableName returns the table name for ScheduledJobModel.
func (ScheduledJobModel) TableName() string {
	return "scheduled_jobs"
}

// BeforeInsert hook to set timestamps.
func (s *ScheduledJobModel) BeforeInsert(ctx interface{}) error {
	now := time.Now()
	s.CreatedAt = now
	s.UpdatedAt = now
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// BeforeUpdate hook to update timestamp.
func (s *ScheduledJobModel) BeforeUpdate(ctx interface{}) error {
	s.UpdatedAt = time.Now()
	return nil
}

// EpicModel is a budget-gated container row with spend counters.
type EpicModel struct {
	bun.BaseModel `bun:"table:epics,alias:ep"`

	ID             string      `bun:"id,pk" json:"id"`
	Title          string      `bun:"title,notnull" json:"title" validate:"required,max=255"`
	Tags           StringArray `bun:"tags,type:text[]" json:"tags,omitempty"`
	Status         string      `bun:"status,notnull,default:'open'" json:"status" validate:"required,oneof=open closed"`
	BudgetTokens   *int64      `bun:"budget_tokens" json:"budget_tokens,omitempty"`
	BudgetUSD      *float64    `bun:"budget_usd" json:"budget_usd,omitempty"`
	SpentTokens    int64       `bun:"spent_tokens,notnull,default:0" json:"spent_tokens"`
	SpentUSD       float64     `bun:"spent_usd,notnull,default:0" json:"spent_usd"`
	TotalTasks     int64       `bun:"total_tasks,notnull,default:0" json:"total_tasks"`
	CompletedTasks int64       `bun:"completed_tasks,notnull,default:0" json:"completed_tasks"`
	FailedTasks    int64       `bun:"failed_tasks,notnull,default:0" json:"failed_tasks"`
	CreatedAt      time.Time   `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt      time.Time   `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`

	// Relationships
	Tasks []*TaskModel `bun:"rel:has-many,join:id=epic_id" json:"tasks,omitempty"`
}

// TableName returns the table name for EpicModel.
func (EpicModel) TableName() string {
	return "epics"
}

// BeforeInsert hook to set timestamps.
func (e *EpicModel) BeforeInsert(ctx interface{}) error {
	now := time.Now()
	e.CreatedAt = now
	e.UpdatedAt = now
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}

// BeforeUpdate hook to update timestamp.
func (e *EpicModel) BeforeUpdate(ctx interface{}) error {
	e.UpdatedAt = time.Now()
	return nil
}

// TaskModel is a unit of work whose actual spend rolls up into its epic.
type TaskModel struct {
	bun.BaseModel `bun:"table:tasks,alias:t"`

	ID           string    `bun:"id,pk" json:"id"`
	EpicID       string    `bun:"epic_id,notnull" json:"epic_id" validate:"required"`
	Title        string    `bun:"title,notnull" json:"title" validate:"required,max=255"`
	Status       string    `bun:"status,notnull,default:'open'" json:"status"`
	ActualTokens int64     `bun:"actual_tokens,notnull,default:0" json:"actual_tokens"`
	ActualUSD    float64   `bun:"actual_usd,notnull,default:0" json:"actual_usd"`
	CreatedAt    time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt    time.Time `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`

	// Relationships
	Epic *EpicModel `bun:"rel:belongs-to,join:epic_id=id" json:"epic,omitempty"`
}

// TableName returns the table name for TaskModel.
func (TaskModel) TableName() string {
	return "tasks"
}

// BeforeInsert hook to set timestamps.
func (t *TaskModel) BeforeInsert(ctx interface{}) error {
	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

// BeforeUpdate hook to update timestamp.
func (t *TaskModel) BeforeUpdate(ctx interface{}) error {
	t.UpdatedAt = time.Now()
	return nil
}
