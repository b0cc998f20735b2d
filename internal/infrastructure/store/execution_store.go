package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/theuselessai/pipelit/pkg/models"
)

func executionKey(id string) string {
	return fmt.Sprintf("pipelit:execution:%s", id)
}

func executionLogsKey(id string) string {
	return fmt.Sprintf("pipelit:execution:%s:logs", id)
}

// ExecutionStore persists Execution rows and their append-only logs,
// satisfying internal/application/engine.ExecutionStore.
type ExecutionStore struct {
	client *redis.Client
}

// NewExecutionStore wraps an existing Redis client.
func NewExecutionStore(client *redis.Client) *ExecutionStore {
	return &ExecutionStore{client: client}
}

// GetExecution implements engine.ExecutionStore.
func (s *ExecutionStore) GetExecution(ctx context.Context, executionID string) (*models.Execution, error) {
	raw, err := s.client.Get(ctx, executionKey(executionID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("execution %s: %w", executionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("execution store: get %s: %w", executionID, err)
	}
	var exec models.Execution
	if err := json.Unmarshal([]byte(raw), &exec); err != nil {
		return nil, fmt.Errorf("execution store: decode %s: %w", executionID, err)
	}
	return &exec, nil
}

// TrySetRunning implements engine.ExecutionStore's pending/interrupted
// -> running CAS that keeps a single execution owned by at most one
// worker at a time. Interrupted is claimable too: it is the status a
// sub-workflow delegation leaves behind while its child runs, and
// resuming it is just as much "a worker taking ownership" as a fresh
// pending run.
func (s *ExecutionStore) TrySetRunning(ctx context.Context, executionID string) (bool, error) {
	key := executionKey(executionID)
	claimed := false

	err := withOptimisticUpdate(ctx, s.client, key, func(tx *redis.Tx) error {
		claimed = false

		raw, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("execution %s: %w", executionID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		var exec models.Execution
		if err := json.Unmarshal([]byte(raw), &exec); err != nil {
			return err
		}
		if exec.Status != models.ExecutionStatusPending && exec.Status != models.ExecutionStatusInterrupted {
			return nil // not ours to claim; leave claimed=false
		}
		exec.Status = models.ExecutionStatusRunning

		data, err := json.Marshal(&exec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		if err != nil {
			return err
		}
		claimed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return claimed, nil
}

// UpdateExecution overwrites the stored Execution row.
func (s *ExecutionStore) UpdateExecution(ctx context.Context, execution *models.Execution) error {
	data, err := json.Marshal(execution)
	if err != nil {
		return fmt.Errorf("execution store: encode %s: %w", execution.ID, err)
	}
	return s.client.Set(ctx, executionKey(execution.ID), data, 0).Err()
}

// AppendLog pushes a node log record onto the execution's append-only log
// list.
func (s *ExecutionStore) AppendLog(ctx context.Context, log *models.ExecutionLog) error {
	data, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("execution store: encode log for %s: %w", log.ExecutionID, err)
	}
	return s.client.RPush(ctx, executionLogsKey(log.ExecutionID), data).Err()
}

// Logs returns the append-only log for an execution in write order.
func (s *ExecutionStore) Logs(ctx context.Context, executionID string) ([]*models.ExecutionLog, error) {
	raws, err := s.client.LRange(ctx, executionLogsKey(executionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("execution store: logs %s: %w", executionID, err)
	}
	logs := make([]*models.ExecutionLog, 0, len(raws))
	for _, raw := range raws {
		var log models.ExecutionLog
		if err := json.Unmarshal([]byte(raw), &log); err != nil {
			return nil, fmt.Errorf("execution store: decode log: %w", err)
		}
		logs = append(logs, &log)
	}
	return logs, nil
}

// CreateExecution persists a brand-new execution row, assigning it a
// fresh id if execution.ID is empty.
func (s *ExecutionStore) CreateExecution(ctx context.Context, execution *models.Execution) (string, error) {
	if execution.ID == "" {
		execution.ID = uuid.New().String()
	}
	if execution.CreatedAt.IsZero() {
		execution.CreatedAt = time.Now()
	}
	if execution.StartedAt.IsZero() {
		execution.StartedAt = execution.CreatedAt
	}
	if err := s.UpdateExecution(ctx, execution); err != nil {
		return "", fmt.Errorf("execution store: create: %w", err)
	}
	return execution.ID, nil
}

// CreateChildExecution persists a new sub-workflow delegation row
// and indexes it under its parent for cascading cancellation lookups.
func (s *ExecutionStore) CreateChildExecution(ctx context.Context, child *models.Execution) (string, error) {
	if _, err := s.CreateExecution(ctx, child); err != nil {
		return "", err
	}
	if child.ParentExecutionID != nil {
		if err := s.client.SAdd(ctx, childrenKey(*child.ParentExecutionID), child.ID).Err(); err != nil {
			return "", fmt.Errorf("execution store: index child: %w", err)
		}
	}
	return child.ID, nil
}

func childrenKey(parentExecutionID string) string {
	return fmt.Sprintf("pipelit:execution:%s:children", parentExecutionID)
}

// ChildExecutions returns every Execution delegated from parentExecutionID
// used by cascading cancellation to find non-terminal
// children to cancel transitively.
func (s *ExecutionStore) ChildExecutions(ctx context.Context, parentExecutionID string) ([]*models.Execution, error) {
	ids, err := s.client.SMembers(ctx, childrenKey(parentExecutionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("execution store: list children of %s: %w", parentExecutionID, err)
	}
	children := make([]*models.Execution, 0, len(ids))
	for _, id := range ids {
		child, err := s.GetExecution(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return children, nil
}
