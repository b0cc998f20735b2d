package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	storagemodels "github.com/theuselessai/pipelit/internal/infrastructure/storage/models"
	"github.com/theuselessai/pipelit/pkg/models"
)

// ExecutionRepository persists execution rows and their append-only logs.
// It satisfies engine.ExecutionStore.
type ExecutionRepository struct {
	db bun.IDB
}

// NewExecutionRepository creates a new ExecutionRepository.
func NewExecutionRepository(db bun.IDB) *ExecutionRepository {
	return &ExecutionRepository{db: db}
}

// GetExecution retrieves an execution by id.
func (r *ExecutionRepository) GetExecution(ctx context.Context, executionID string) (*models.Execution, error) {
	m := &storagemodels.ExecutionModel{}
	err := r.db.NewSelect().
		Model(m).
		Where("ex.id = ?", executionID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("execution %s: %w", executionID, models.ErrExecutionNotFound)
		}
		return nil, fmt.Errorf("failed to get execution %s: %w", executionID, err)
	}
	return storagemodels.ExecutionFromStorage(m), nil
}

// TrySetRunning claims the execution for this worker: a single UPDATE
// guarded on the current status, so two workers racing for the same row
// see exactly one winner. Interrupted rows are claimable too: resuming a
// sub-workflow wait is a worker taking ownership just like a fresh pending
// run.
func (r *ExecutionRepository) TrySetRunning(ctx context.Context, executionID string) (bool, error) {
	res, err := r.db.NewUpdate().
		Model((*storagemodels.ExecutionModel)(nil)).
		Set("status = ?", string(models.ExecutionStatusRunning)).
		Set("updated_at = current_timestamp").
		Where("id = ?", executionID).
		Where("status IN (?)", bun.In([]string{
			string(models.ExecutionStatusPending),
			string(models.ExecutionStatusInterrupted),
		})).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to claim execution %s: %w", executionID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// UpdateExecution overwrites the mutable columns of an execution row.
func (r *ExecutionRepository) UpdateExecution(ctx context.Context, execution *models.Execution) error {
	m := storagemodels.ExecutionToStorage(execution)
	m.UpdatedAt = time.Now()
	_, err := r.db.NewUpdate().
		Model(m).
		Column("status", "waiting_node_id", "thread_id", "trigger_payload",
			"final_output", "error", "error_code", "spent_tokens", "spent_usd",
			"completed_at", "updated_at").
		Where("id = ?", m.ID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update execution %s: %w", execution.ID, err)
	}
	return nil
}

// AppendLog inserts one append-only node log record.
func (r *ExecutionRepository) AppendLog(ctx context.Context, log *models.ExecutionLog) error {
	m := storagemodels.ExecutionLogToStorage(log)
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	if _, err := r.db.NewInsert().Model(m).Exec(ctx); err != nil {
		return fmt.Errorf("failed to append log for execution %s: %w", log.ExecutionID, err)
	}
	return nil
}

// Logs returns the append-only log for an execution in write order.
func (r *ExecutionRepository) Logs(ctx context.Context, executionID string) ([]*models.ExecutionLog, error) {
	var rows []*storagemodels.ExecutionLogModel
	err := r.db.NewSelect().
		Model(&rows).
		Where("execution_id = ?", executionID).
		Order("timestamp ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list logs for execution %s: %w", executionID, err)
	}
	logs := make([]*models.ExecutionLog, len(rows))
	for i, row := range rows {
		logs[i] = storagemodels.ExecutionLogFromStorage(row)
	}
	return logs, nil
}

// CreateExecution persists a brand-new execution row, assigning it a
// fresh id if execution.ID is empty.
func (r *ExecutionRepository) CreateExecution(ctx context.Context, execution *models.Execution) (string, error) {
	if execution.ID == "" {
		execution.ID = uuid.NewString()
	}
	if execution.CreatedAt.IsZero() {
		execution.CreatedAt = time.Now()
	}
	if execution.StartedAt.IsZero() {
		execution.StartedAt = execution.CreatedAt
	}
	m := storagemodels.ExecutionToStorage(execution)
	m.CreatedAt = execution.CreatedAt
	m.UpdatedAt = execution.CreatedAt
	if _, err := r.db.NewInsert().Model(m).Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to create execution: %w", err)
	}
	return execution.ID, nil
}

// CreateChildExecution persists a new sub-workflow delegation row. The
// parent_execution_id column is the child index, so no extra bookkeeping
// is needed beyond the insert.
func (r *ExecutionRepository) CreateChildExecution(ctx context.Context, child *models.Execution) (string, error) {
	return r.CreateExecution(ctx, child)
}

// ChildExecutions returns every execution delegated from
// parentExecutionID, oldest first. Cascading cancellation walks this list
// to find non-terminal descendants.
func (r *ExecutionRepository) ChildExecutions(ctx context.Context, parentExecutionID string) ([]*models.Execution, error) {
	var rows []*storagemodels.ExecutionModel
	err := r.db.NewSelect().
		Model(&rows).
		Where("parent_execution_id = ?", parentExecutionID).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list children of %s: %w", parentExecutionID, err)
	}
	children := make([]*models.Execution, len(rows))
	for i, row := range rows {
		children[i] = storagemodels.ExecutionFromStorage(row)
	}
	return children, nil
}
