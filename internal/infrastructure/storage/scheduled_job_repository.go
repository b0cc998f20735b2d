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

// ScheduledJobRepository persists recurring-job rows. It satisfies
// scheduler.Store: GetDue answers the crash-recovery scan, Update advances
// the job's state machine after each firing.
type ScheduledJobRepository struct {
	db bun.IDB
}

// NewScheduledJobRepository creates a new ScheduledJobRepository.
func NewScheduledJobRepository(db bun.IDB) *ScheduledJobRepository {
	return &ScheduledJobRepository{db: db}
}

// Create persists a new scheduled job, assigning an id if empty.
func (r *ScheduledJobRepository) Create(ctx context.Context, job *models.ScheduledJob) error {
	if err := job.Validate(); err != nil {
		return err
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.NextRunAt.IsZero() {
		job.NextRunAt = time.Now().Add(time.Duration(job.IntervalSeconds) * time.Second)
	}
	m := storagemodels.ScheduledJobToStorage(job)
	now := time.Now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	if _, err := r.db.NewInsert().Model(m).Exec(ctx); err != nil {
		return fmt.Errorf("failed to create scheduled job: %w", err)
	}
	return nil
}

// Get retrieves a scheduled job by id.
func (r *ScheduledJobRepository) Get(ctx context.Context, id string) (*models.ScheduledJob, error) {
	m := &storagemodels.ScheduledJobModel{}
	err := r.db.NewSelect().
		Model(m).
		Where("sj.id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("scheduled job %s: %w", id, models.ErrScheduledJobNotFound)
		}
		return nil, fmt.Errorf("failed to get scheduled job %s: %w", id, err)
	}
	return storagemodels.ScheduledJobFromStorage(m), nil
}

// GetDue returns every active job whose next_run_at has elapsed, oldest
// first, so the recovery scan re-enqueues in firing order.
func (r *ScheduledJobRepository) GetDue(ctx context.Context, now time.Time) ([]*models.ScheduledJob, error) {
	var rows []*storagemodels.ScheduledJobModel
	err := r.db.NewSelect().
		Model(&rows).
		Where("status = ?", string(models.ScheduledJobStatusActive)).
		Where("next_run_at <= ?", now).
		Order("next_run_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to scan due jobs: %w", err)
	}
	jobs := make([]*models.ScheduledJob, len(rows))
	for i, row := range rows {
		jobs[i] = storagemodels.ScheduledJobFromStorage(row)
	}
	return jobs, nil
}

// Update overwrites the mutable columns of a scheduled job row.
func (r *ScheduledJobRepository) Update(ctx context.Context, job *models.ScheduledJob) error {
	m := storagemodels.ScheduledJobToStorage(job)
	m.UpdatedAt = time.Now()
	_, err := r.db.NewUpdate().
		Model(m).
		Column("status", "current_repeat", "current_retry", "last_run_at",
			"next_run_at", "run_count", "error_count", "last_error", "updated_at").
		Where("id = ?", m.ID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update scheduled job %s: %w", job.ID, err)
	}
	return nil
}

// Delete removes a scheduled job row entirely.
func (r *ScheduledJobRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.NewDelete().
		Model((*storagemodels.ScheduledJobModel)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete scheduled job %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("scheduled job %s: %w", id, models.ErrScheduledJobNotFound)
	}
	return nil
}
