// Package store provides the Redis-backed persistence adapters the core
// engine depends on (engine.WorkflowLoader, engine.ExecutionStore,
// engine.EpicStore, scheduler.Store). Persistent entity shape is fixed by
// pkg/models; the store behind it is an adapter choice, and this package
// is the zero-extra-infrastructure one: entity rows as Redis JSON blobs,
// the same idiom the engine already uses for checkpoints
// (internal/application/engine/checkpoint.go) and the dispatcher for
// queued jobs. internal/infrastructure/storage is the bun/PostgreSQL
// alternative, selected by configuration.
//
// Compare-and-set updates (ExecutionStore.TrySetRunning, EpicStore.AddSpend)
// use go-redis's WATCH-based optimistic transaction, the documented
// go-redis idiom for read-modify-write without a server-side scripting
// dependency.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a lookup key has no stored record.
var ErrNotFound = errors.New("store: not found")

const maxWatchRetries = 10

// withOptimisticUpdate runs fn under a WATCH on key, retrying on
// redis.TxFailedErr (a concurrent writer touched key mid-transaction).
func withOptimisticUpdate(ctx context.Context, client *redis.Client, key string, fn func(tx *redis.Tx) error) error {
	for i := 0; i < maxWatchRetries; i++ {
		err := client.Watch(ctx, fn, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("store: exhausted retries contending for %s", key)
}
