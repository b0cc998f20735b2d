package models

import "time"

// ExecutionStatus represents the status of an execution.
type ExecutionStatus string

const (
	ExecutionStatusPending     ExecutionStatus = "pending"
	ExecutionStatusRunning     ExecutionStatus = "running"
	ExecutionStatusInterrupted ExecutionStatus = "interrupted"
	ExecutionStatusCompleted   ExecutionStatus = "completed"
	ExecutionStatusFailed      ExecutionStatus = "failed"
	ExecutionStatusCancelled   ExecutionStatus = "cancelled"
)

// IsTerminal returns true if the execution status will never change again.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed || s == ExecutionStatusCancelled
}

// TriggerPayload is the initial input to an execution.
type TriggerPayload struct {
	Text    string                 `json:"text"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// Execution represents a single firing of a workflow graph.
type Execution struct {
	ID                string                 `json:"id"`
	WorkflowID        string                 `json:"workflow_id"`
	Status            ExecutionStatus        `json:"status"`
	ParentExecutionID *string                `json:"parent_execution_id,omitempty"`
	ParentNodeID      *string                `json:"parent_node_id,omitempty"`
	// WaitingNodeID identifies the node whose sub-workflow delegation is in
	// flight while Status == ExecutionStatusInterrupted: the key the
	// resumption checkpoint was saved under, and the node the next Run call
	// must resume from.
	WaitingNodeID     *string                `json:"waiting_node_id,omitempty"`
	ThreadID          *string                `json:"thread_id,omitempty"`
	TriggerNodeID     string                 `json:"trigger_node_id"`
	TriggerPayload    TriggerPayload         `json:"trigger_payload"`
	FinalOutput       map[string]interface{} `json:"final_output,omitempty"`
	Error             string                 `json:"error,omitempty"`
	ErrorCode         ErrorCode              `json:"error_code,omitempty"`
	SpentTokens       int64                  `json:"spent_tokens"`
	SpentUSD          float64                `json:"spent_usd"`
	EpicID            *string                `json:"epic_id,omitempty"`
	TaskID            *string                `json:"task_id,omitempty"`
	StartedAt         time.Time              `json:"started_at"`
	CompletedAt       *time.Time             `json:"completed_at,omitempty"`
	CreatedAt         time.Time              `json:"created_at"`
}

// CalculateDuration returns the execution duration so far (or total, if terminal).
func (e *Execution) CalculateDuration() time.Duration {
	if e.CompletedAt == nil {
		return time.Since(e.StartedAt)
	}
	return e.CompletedAt.Sub(e.StartedAt)
}

// NodeExecutionStatus tracks a node's progress within an execution.
type NodeExecutionStatus string

const (
	NodeExecutionStatusPending   NodeExecutionStatus = "pending"
	NodeExecutionStatusRunning   NodeExecutionStatus = "running"
	NodeExecutionStatusWaiting   NodeExecutionStatus = "waiting" // awaiting sub-workflow
	NodeExecutionStatusSuccess   NodeExecutionStatus = "success"
	NodeExecutionStatusFailed    NodeExecutionStatus = "failed"
	NodeExecutionStatusSkipped   NodeExecutionStatus = "skipped"
	NodeExecutionStatusCancelled NodeExecutionStatus = "cancelled"
)

// IsTerminal reports whether the node will not transition again this execution.
func (s NodeExecutionStatus) IsTerminal() bool {
	return s == NodeExecutionStatusSuccess || s == NodeExecutionStatusFailed ||
		s == NodeExecutionStatusSkipped || s == NodeExecutionStatusCancelled
}

// ExecutionLog is an append-only per-node record.
type ExecutionLog struct {
	ID          string                 `json:"id"`
	ExecutionID string                 `json:"execution_id"`
	NodeID      string                 `json:"node_id"`
	Status      NodeExecutionStatus    `json:"status"`
	Input       map[string]interface{} `json:"input,omitempty"`
	Output      map[string]interface{} `json:"output,omitempty"`
	Error       string                 `json:"error,omitempty"`
	ErrorCode   ErrorCode              `json:"error_code,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	DurationMs  int64                  `json:"duration_ms"`
	Timestamp   time.Time              `json:"timestamp"`
}

// ErrorCode is the closed machine-readable failure taxonomy.
type ErrorCode string

const (
	ErrorCodeValidation     ErrorCode = "VALIDATION"
	ErrorCodeComponentError ErrorCode = "COMPONENT_ERROR"
	ErrorCodeTimeout        ErrorCode = "TIMEOUT"
	ErrorCodeBudgetExceeded ErrorCode = "BUDGET_EXCEEDED"
	ErrorCodeCancelled      ErrorCode = "CANCELLED"
	ErrorCodeCheckpointLost ErrorCode = "CHECKPOINT_LOST"
	// ErrorCodeUpstreamFailed marks nodes skipped because an ancestor failed.
	ErrorCodeUpstreamFailed ErrorCode = "UPSTREAM_FAILED"
)
