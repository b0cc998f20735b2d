package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const checkpointTTL = time.Hour

// Checkpoint is the compact resumption record written when a component
// delegates to a sub-workflow: everything the component needs to
// continue its own reasoning once the child execution terminates.
type Checkpoint struct {
	NodeID        string   `json:"node_id"`
	State         Snapshot `json:"state"`
	PendingChildID string  `json:"pending_child_id"`
}

// CheckpointStore persists and retrieves resumption checkpoints, keyed by
// exec:{execution_id}:{node_id}. Modeled on the
// CheckpointManager (execution_checkpoint.go), replacing its in-process map
// with the Redis-backed store the rest of the codebase already uses so a
// checkpoint survives the worker that wrote it.
type CheckpointStore struct {
	client *redis.Client
}

// NewCheckpointStore wraps an existing Redis client.
func NewCheckpointStore(client *redis.Client) *CheckpointStore {
	return &CheckpointStore{client: client}
}

func checkpointKey(executionID, nodeID string) string {
	return fmt.Sprintf("exec:%s:%s", executionID, nodeID)
}

// Save writes a checkpoint with the standard TTL.
func (s *CheckpointStore) Save(ctx context.Context, cp Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("checkpoint: marshal: %w", err)
	}
	key := checkpointKey(cp.State.ExecutionID, cp.NodeID)
	return s.client.Set(ctx, key, data, checkpointTTL).Err()
}

// Load retrieves the checkpoint for (executionID, nodeID). Returns
// (Checkpoint{}, false, nil) if the checkpoint was never written or expired
// and callers should surface this as CHECKPOINT_LOST.
func (s *CheckpointStore) Load(ctx context.Context, executionID, nodeID string) (Checkpoint, bool, error) {
	raw, err := s.client.Get(ctx, checkpointKey(executionID, nodeID)).Result()
	if err == redis.Nil {
		return Checkpoint{}, false, nil
	}
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("checkpoint: load: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal([]byte(raw), &cp); err != nil {
		return Checkpoint{}, false, fmt.Errorf("checkpoint: decode: %w", err)
	}
	return cp, true, nil
}

// Delete removes a checkpoint once it has been consumed by resumption.
func (s *CheckpointStore) Delete(ctx context.Context, executionID, nodeID string) error {
	return s.client.Del(ctx, checkpointKey(executionID, nodeID)).Err()
}
