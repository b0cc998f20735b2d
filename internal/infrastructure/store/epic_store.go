package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/theuselessai/pipelit/pkg/models"
)

func epicKey(id string) string {
	return fmt.Sprintf("pipelit:epic:%s", id)
}

func taskKey(id string) string {
	return fmt.Sprintf("pipelit:task:%s", id)
}

// EpicStore persists Epic budget containers and their linked Tasks,
// satisfying internal/application/engine.EpicStore. AddSpend's WATCH-based
// transaction provides the cross-process exclusion the engine's in-process
// budgetLocks deliberately leaves to the store.
type EpicStore struct {
	client *redis.Client
}

// NewEpicStore wraps an existing Redis client.
func NewEpicStore(client *redis.Client) *EpicStore {
	return &EpicStore{client: client}
}

// GetEpic implements engine.EpicStore.
func (s *EpicStore) GetEpic(ctx context.Context, epicID string) (*models.Epic, error) {
	raw, err := s.client.Get(ctx, epicKey(epicID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("epic %s: %w", epicID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("epic store: get %s: %w", epicID, err)
	}
	var epic models.Epic
	if err := json.Unmarshal([]byte(raw), &epic); err != nil {
		return nil, fmt.Errorf("epic store: decode %s: %w", epicID, err)
	}
	return &epic, nil
}

// SaveEpic writes (or overwrites) an epic, used by the bootstrap seeding
// path and by tests.
func (s *EpicStore) SaveEpic(ctx context.Context, epic *models.Epic) error {
	data, err := json.Marshal(epic)
	if err != nil {
		return fmt.Errorf("epic store: encode %s: %w", epic.ID, err)
	}
	return s.client.Set(ctx, epicKey(epic.ID), data, 0).Err()
}

// AddSpend implements engine.EpicStore, atomically rolling tokens/usd into
// the epic (and, if taskID is set, the linked Task) so that
// spent_* = sum of task.actual_* over linked tasks.
func (s *EpicStore) AddSpend(ctx context.Context, epicID, taskID string, tokens int64, usd float64) error {
	key := epicKey(epicID)
	err := withOptimisticUpdate(ctx, s.client, key, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("epic %s: %w", epicID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		var epic models.Epic
		if err := json.Unmarshal([]byte(raw), &epic); err != nil {
			return err
		}
		epic.SpentTokens += tokens
		epic.SpentUSD += usd

		data, err := json.Marshal(&epic)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("epic store: add spend %s: %w", epicID, err)
	}
	if taskID == "" {
		return nil
	}
	return s.addTaskSpend(ctx, taskID, tokens, usd)
}

func (s *EpicStore) addTaskSpend(ctx context.Context, taskID string, tokens int64, usd float64) error {
	key := taskKey(taskID)
	err := withOptimisticUpdate(ctx, s.client, key, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		var task models.Task
		if err := json.Unmarshal([]byte(raw), &task); err != nil {
			return err
		}
		task.ActualTokens += tokens
		task.ActualUSD += usd

		data, err := json.Marshal(&task)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("epic store: add task spend %s: %w", taskID, err)
	}
	return nil
}
