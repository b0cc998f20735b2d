package engine

import (
	"context"

	"github.com/theuselessai/pipelit/pkg/models"
)

// WorkflowLoader loads the persisted workflow graph an execution runs
// against. Implementations adapt whatever store holds the rows
// (internal/infrastructure/storage, internal/infrastructure/store).
type WorkflowLoader interface {
	LoadWorkflow(ctx context.Context, workflowID string) (*models.Workflow, error)
	// LoadWorkflowBySlug resolves a workflow by its stable slug, used for
	// sub-workflow delegation and Workflow.ErrorHandlerSlug dispatch.
	LoadWorkflowBySlug(ctx context.Context, slug string) (*models.Workflow, error)
}

// ExecutionStore persists Execution rows and their append-only logs.
// TrySetRunning performs the compare-and-set that keeps a single
// execution owned by at most one worker at a time.
type ExecutionStore interface {
	GetExecution(ctx context.Context, executionID string) (*models.Execution, error)
	// TrySetRunning atomically transitions pending or interrupted ->
	// running, returning false if the execution is in any other status
	// (e.g. another worker already claimed it).
	TrySetRunning(ctx context.Context, executionID string) (bool, error)
	UpdateExecution(ctx context.Context, execution *models.Execution) error
	AppendLog(ctx context.Context, log *models.ExecutionLog) error
	// CreateExecution persists a brand-new execution row and returns its
	// id. UpdateExecution only overwrites existing rows.
	CreateExecution(ctx context.Context, execution *models.Execution) (string, error)
	// CreateChildExecution persists a new sub-workflow delegation row and
	// returns its id.
	CreateChildExecution(ctx context.Context, child *models.Execution) (string, error)
	// ChildExecutions lists every execution delegated from parentExecutionID,
	// used to cascade cancellation transitively.
	ChildExecutions(ctx context.Context, parentExecutionID string) ([]*models.Execution, error)
}

// NodeStatusNotifier is the thin seam the orchestrator uses to emit
// node_status / execution_* events without importing the observer
// package's concrete Event shape into every call site.
type NodeStatusNotifier interface {
	NotifyNodeStatus(ctx context.Context, executionID, workflowID, nodeID string, status models.NodeExecutionStatus, err string, errorCode models.ErrorCode, durationMs int64)
	NotifyExecutionStatus(ctx context.Context, executionID, workflowID string, status models.ExecutionStatus, err string)
	// NotifyEpicSpend reports a budget roll-up so subscribers of the
	// epic:<id> channel see epic_*/task_* mutations.
	NotifyEpicSpend(ctx context.Context, epicID, taskID string, spentTokens int64, spentUSD float64)
}
