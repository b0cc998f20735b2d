package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/theuselessai/pipelit/pkg/models"
)

func scheduledJobKey(id string) string {
	return fmt.Sprintf("pipelit:scheduled-job:%s", id)
}

const scheduledJobsDueSet = "pipelit:scheduled-jobs:due"

// ScheduledJobStore persists ScheduledJob rows and answers the
// crash-recovery due-jobs scan, satisfying
// internal/application/scheduler.Store. The due set is a sorted set scored
// by next_run_at (unix seconds) so GetDue is a single ZRANGEBYSCORE rather
// than a scan over every job.
type ScheduledJobStore struct {
	client *redis.Client
}

// NewScheduledJobStore wraps an existing Redis client.
func NewScheduledJobStore(client *redis.Client) *ScheduledJobStore {
	return &ScheduledJobStore{client: client}
}

// GetDue implements scheduler.Store.
func (s *ScheduledJobStore) GetDue(ctx context.Context, now time.Time) ([]*models.ScheduledJob, error) {
	ids, err := s.client.ZRangeByScore(ctx, scheduledJobsDueSet, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.Unix()),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("scheduled job store: scan due: %w", err)
	}

	jobs := make([]*models.ScheduledJob, 0, len(ids))
	for _, id := range ids {
		raw, err := s.client.Get(ctx, scheduledJobKey(id)).Result()
		if errors.Is(err, redis.Nil) {
			// Job row expired or was deleted out from under the index;
			// drop the stale member and move on.
			s.client.ZRem(ctx, scheduledJobsDueSet, id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("scheduled job store: get %s: %w", id, err)
		}
		var job models.ScheduledJob
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			return nil, fmt.Errorf("scheduled job store: decode %s: %w", id, err)
		}
		jobs = append(jobs, &job)
	}
	return jobs, nil
}

// Get implements scheduler.Store, reloading a single job row by id, used
// by the dispatcher-side worker to refetch the job a fire payload names
// before recording its outcome.
func (s *ScheduledJobStore) Get(ctx context.Context, id string) (*models.ScheduledJob, error) {
	raw, err := s.client.Get(ctx, scheduledJobKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("scheduled job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scheduled job store: get %s: %w", id, err)
	}
	var job models.ScheduledJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("scheduled job store: decode %s: %w", id, err)
	}
	return &job, nil
}

// Update implements scheduler.Store, re-indexing the job's due-set score
// to its (possibly advanced) next_run_at, or removing it from the index
// once it reaches a terminal status.
func (s *ScheduledJobStore) Update(ctx context.Context, job *models.ScheduledJob) error {
	job.UpdatedAt = time.Now()
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("scheduled job store: encode %s: %w", job.ID, err)
	}
	if err := s.client.Set(ctx, scheduledJobKey(job.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("scheduled job store: save %s: %w", job.ID, err)
	}

	if job.Status == models.ScheduledJobStatusDone || job.Status == models.ScheduledJobStatusDead {
		return s.client.ZRem(ctx, scheduledJobsDueSet, job.ID).Err()
	}
	return s.client.ZAdd(ctx, scheduledJobsDueSet, redis.Z{
		Score:  float64(job.NextRunAt.Unix()),
		Member: job.ID,
	}).Err()
}

// Delete removes the job row and its due-index entry.
func (s *ScheduledJobStore) Delete(ctx context.Context, id string) error {
	removed, err := s.client.Del(ctx, scheduledJobKey(id)).Result()
	if err != nil {
		return fmt.Errorf("scheduled job store: delete %s: %w", id, err)
	}
	if removed == 0 {
		return fmt.Errorf("scheduled job %s: %w", id, ErrNotFound)
	}
	return s.client.ZRem(ctx, scheduledJobsDueSet, id).Err()
}

// Create persists a new active ScheduledJob and indexes it for the due
// scan, used by the bootstrap seeding path and by tests.
func (s *ScheduledJobStore) Create(ctx context.Context, job *models.ScheduledJob) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("scheduled job store: %w", err)
	}
	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.Status == "" {
		job.Status = models.ScheduledJobStatusActive
	}
	return s.Update(ctx, job)
}
