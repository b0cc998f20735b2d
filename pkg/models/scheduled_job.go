package models

import (
	"fmt"
	"time"
)

// ScheduledJobStatus is the state-machine status of a recurring job.
type ScheduledJobStatus string

const (
	ScheduledJobStatusActive ScheduledJobStatus = "active"
	ScheduledJobStatusPaused ScheduledJobStatus = "paused"
	ScheduledJobStatusDone   ScheduledJobStatus = "done"
	ScheduledJobStatusDead   ScheduledJobStatus = "dead"
)

// ScheduledJob is a persisted recurring-workflow-firing job.
type ScheduledJob struct {
	ID              string                 `json:"id"`
	WorkflowID      string                 `json:"workflow_id"`
	TriggerNodeID   string                 `json:"trigger_node_id"`
	IntervalSeconds int64                  `json:"interval_seconds"` // >= 1
	TotalRepeats    int64                  `json:"total_repeats"`    // 0 = unlimited
	MaxRetries      int                    `json:"max_retries"`
	TimeoutSeconds  int64                  `json:"timeout_seconds"`
	TriggerPayload  map[string]interface{} `json:"trigger_payload,omitempty"`
	Status          ScheduledJobStatus     `json:"status"`
	CurrentRepeat   int64                  `json:"current_repeat"`
	CurrentRetry    int                    `json:"current_retry"`
	LastRunAt       *time.Time             `json:"last_run_at,omitempty"`
	NextRunAt       time.Time              `json:"next_run_at"`
	RunCount        int64                  `json:"run_count"`
	ErrorCount      int64                  `json:"error_count"`
	LastError       string                 `json:"last_error,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

// Validate checks the static invariants of a ScheduledJob.
func (s *ScheduledJob) Validate() error {
	if s.WorkflowID == "" {
		return &ValidationError{Field: "workflow_id", Message: "workflow ID is required"}
	}
	if s.TriggerNodeID == "" {
		return &ValidationError{Field: "trigger_node_id", Message: "trigger node ID is required"}
	}
	if s.IntervalSeconds < 1 {
		return &ValidationError{Field: "interval_seconds", Message: "must be >= 1"}
	}
	if s.TotalRepeats < 0 {
		return &ValidationError{Field: "total_repeats", Message: "must be >= 0 (0 = unlimited)"}
	}
	if s.MaxRetries < 0 {
		return &ValidationError{Field: "max_retries", Message: "must be >= 0"}
	}
	return nil
}

// DispatcherJobID computes the deterministic id that de-duplicates dispatcher
// enqueues after a crash or race: "sched-{job_id}-n{current_repeat}-rc{current_retry}".
func (s *ScheduledJob) DispatcherJobID() string {
	return fmt.Sprintf("sched-%s-n%d-rc%d", s.ID, s.CurrentRepeat, s.CurrentRetry)
}

// NextBackoffDelay computes the capped exponential backoff for the next retry
// after a failure: min(interval*2^current_retry, 10*interval).
func (s *ScheduledJob) NextBackoffDelay() time.Duration {
	interval := time.Duration(s.IntervalSeconds) * time.Second
	backoff := interval
	for i := 0; i < s.CurrentRetry; i++ {
		backoff *= 2
		cap := interval * 10
		if backoff > cap {
			return cap
		}
	}
	return backoff
}

// EpicStatus is the lifecycle status of an Epic.
type EpicStatus string

const (
	EpicStatusOpen   EpicStatus = "open"
	EpicStatusClosed EpicStatus = "closed"
)

// Epic is a budget-gated container consulted only as a budget gate and for
// roll-up of actual spend.
type Epic struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Tags           []string   `json:"tags,omitempty"`
	Status         EpicStatus `json:"status"`
	BudgetTokens   *int64     `json:"budget_tokens,omitempty"`
	BudgetUSD      *float64   `json:"budget_usd,omitempty"`
	SpentTokens    int64      `json:"spent_tokens"`
	SpentUSD       float64    `json:"spent_usd"`
	TotalTasks     int64      `json:"total_tasks"`
	CompletedTasks int64      `json:"completed_tasks"`
	FailedTasks    int64      `json:"failed_tasks"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// OverBudget reports whether running a node estimated to cost
// estimatedTokens would exceed the epic's token budget, or whether the USD
// budget is already exceeded.
func (e *Epic) OverBudget(estimatedTokens int64) bool {
	if e.BudgetTokens != nil && e.SpentTokens+estimatedTokens > *e.BudgetTokens {
		return true
	}
	if e.BudgetUSD != nil && e.SpentUSD > *e.BudgetUSD {
		return true
	}
	return false
}

// Task is a unit of work rolled up into an Epic's spend counters.
type Task struct {
	ID           string    `json:"id"`
	EpicID       string    `json:"epic_id"`
	Title        string    `json:"title"`
	Status       string    `json:"status"`
	ActualTokens int64     `json:"actual_tokens"`
	ActualUSD    float64   `json:"actual_usd"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
