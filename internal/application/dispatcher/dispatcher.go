// Package dispatcher implements the job-dispatcher port: a
// minimal at-least-once queue abstraction the Orchestrator and Scheduler use
// to hand off work across worker processes. Built in the style of the
// Redis cache wrapper (internal/infrastructure/cache) since there is no
// queue abstraction of its own, so the sorted-set delay queue and dedup
// idiom are new, built directly on *redis.Client the way the rest of the
// codebase talks to Redis.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNoJob is returned by Dequeue (with a timeout) when no job became ready.
var ErrNoJob = errors.New("dispatcher: no job ready")

// Job is one unit of work pulled off a queue.
type Job struct {
	ID      string          `json:"id"`
	Queue   string          `json:"queue"`
	Payload json.RawMessage `json:"payload"`
	Timeout time.Duration   `json:"timeout"`
}

// Dispatcher is the port the engine and scheduler depend on.
// Implementations must guarantee per-queue FIFO among ready jobs of the same
// priority and must be idempotent on job_id: enqueuing the same id twice is
// a no-op the second time.
type Dispatcher interface {
	// Enqueue makes job immediately ready for a worker to dequeue.
	Enqueue(ctx context.Context, queue, jobID string, payload interface{}, timeout time.Duration) error
	// EnqueueIn makes job ready for dequeue after delay elapses.
	EnqueueIn(ctx context.Context, queue, jobID string, payload interface{}, delay, timeout time.Duration) error
	// Dequeue blocks (up to blockFor) for the next ready job on queue.
	// Returns ErrNoJob if blockFor elapses with nothing ready.
	Dequeue(ctx context.Context, queue string, blockFor time.Duration) (*Job, error)
}

const (
	dedupKeyPrefix  = "pipelit:dispatcher:seen:"
	delayedSetKeyFn = "pipelit:dispatcher:delayed:%s"
	readyListKeyFn  = "pipelit:dispatcher:ready:%s"
	jobHashKeyFn    = "pipelit:dispatcher:job:%s:%s"
	dedupTTL        = 24 * time.Hour
)

// RedisDispatcher is the Redis-backed Dispatcher: a per-queue sorted set
// holds delayed jobs scored by their ready-at unix timestamp; a promotion
// pass moves due jobs onto a per-queue list that Dequeue pops from (BLPOP).
// A SETNX-guarded dedup key per job_id makes both Enqueue variants
// idempotent.
type RedisDispatcher struct {
	client *redis.Client
}

// New creates a RedisDispatcher over an existing client (e.g.
// cache.RedisCache.Client()).
func New(client *redis.Client) *RedisDispatcher {
	return &RedisDispatcher{client: client}
}

func (d *RedisDispatcher) Enqueue(ctx context.Context, queue, jobID string, payload interface{}, timeout time.Duration) error {
	return d.EnqueueIn(ctx, queue, jobID, payload, 0, timeout)
}

func (d *RedisDispatcher) EnqueueIn(ctx context.Context, queue, jobID string, payload interface{}, delay, timeout time.Duration) error {
	dedupKey := dedupKeyPrefix + queue + ":" + jobID
	ok, err := d.client.SetNX(ctx, dedupKey, "1", dedupTTL).Result()
	if err != nil {
		return fmt.Errorf("dispatcher: dedup check: %w", err)
	}
	if !ok {
		return nil // already enqueued once; idempotent no-op
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("dispatcher: marshal payload: %w", err)
	}

	job := Job{ID: jobID, Queue: queue, Payload: raw, Timeout: timeout}
	jobData, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("dispatcher: marshal job: %w", err)
	}

	jobKey := fmt.Sprintf(jobHashKeyFn, queue, jobID)
	if err := d.client.Set(ctx, jobKey, jobData, dedupTTL).Err(); err != nil {
		return fmt.Errorf("dispatcher: store job: %w", err)
	}

	readyAt := time.Now().Add(delay)
	if delay <= 0 {
		if err := d.client.LPush(ctx, fmt.Sprintf(readyListKeyFn, queue), jobID).Err(); err != nil {
			return fmt.Errorf("dispatcher: push ready: %w", err)
		}
		return nil
	}

	err = d.client.ZAdd(ctx, fmt.Sprintf(delayedSetKeyFn, queue), redis.Z{
		Score:  float64(readyAt.Unix()),
		Member: jobID,
	}).Err()
	if err != nil {
		return fmt.Errorf("dispatcher: schedule delayed: %w", err)
	}
	return nil
}

// promote moves any delayed jobs whose ready-at has elapsed onto the ready list.
func (d *RedisDispatcher) promote(ctx context.Context, queue string) error {
	delayedKey := fmt.Sprintf(delayedSetKeyFn, queue)
	now := float64(time.Now().Unix())

	due, err := d.client.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprintf("%f", now)}).Result()
	if err != nil {
		return fmt.Errorf("dispatcher: scan delayed: %w", err)
	}
	for _, jobID := range due {
		removed, err := d.client.ZRem(ctx, delayedKey, jobID).Result()
		if err != nil || removed == 0 {
			continue // another worker promoted it first
		}
		if err := d.client.LPush(ctx, fmt.Sprintf(readyListKeyFn, queue), jobID).Err(); err != nil {
			return fmt.Errorf("dispatcher: promote to ready: %w", err)
		}
	}
	return nil
}

func (d *RedisDispatcher) Dequeue(ctx context.Context, queue string, blockFor time.Duration) (*Job, error) {
	if err := d.promote(ctx, queue); err != nil {
		return nil, err
	}

	result, err := d.client.BRPop(ctx, blockFor, fmt.Sprintf(readyListKeyFn, queue)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoJob
	}
	if err != nil {
		return nil, fmt.Errorf("dispatcher: dequeue: %w", err)
	}
	jobID := result[1]

	jobKey := fmt.Sprintf(jobHashKeyFn, queue, jobID)
	raw, err := d.client.Get(ctx, jobKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoJob // job record expired; treat as nothing ready
	}
	if err != nil {
		return nil, fmt.Errorf("dispatcher: fetch job body: %w", err)
	}

	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("dispatcher: decode job body: %w", err)
	}
	return &job, nil
}
