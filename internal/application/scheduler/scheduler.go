// Package scheduler implements the ScheduledJob state machine and its
// crash-recovery scan. Each job self-reschedules: the firing itself
// decides the next enqueue time, so no external cron entry exists per
// job. The cron library only drives the periodic scan ticker, which
// enqueues a deterministic-id dispatcher job per due schedule; firing a
// schedule and running its workflow are different concerns once a queue
// sits between them.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/theuselessai/pipelit/internal/application/dispatcher"
	"github.com/theuselessai/pipelit/pkg/models"
)

// Store persists ScheduledJob rows and answers the due-jobs scan query.
// Implementations must make GetDue and Update safe for concurrent callers
// (a crash-recovery scan may overlap the previous scan's tail).
type Store interface {
	GetDue(ctx context.Context, now time.Time) ([]*models.ScheduledJob, error)
	Get(ctx context.Context, id string) (*models.ScheduledJob, error)
	Create(ctx context.Context, job *models.ScheduledJob) error
	Update(ctx context.Context, job *models.ScheduledJob) error
	Delete(ctx context.Context, id string) error
}

// ExecutionQueue is the dispatcher queue scheduled jobs are enqueued onto;
// a worker pool dequeuing from it (cmd/server's runScheduledExecutionWorker)
// is responsible for actually running the workflow and reporting the
// outcome back via RecordSuccess/RecordFailure.
const ExecutionQueue = "pipelit:scheduled-executions"

// Scheduler runs the crash-recovery scan: periodically finds
// ScheduledJobs whose next_run_at has elapsed and enqueues a dispatcher
// job for each, advancing or retiring the schedule per its outcome.
type Scheduler struct {
	store      Store
	dispatcher dispatcher.Dispatcher
	cron       *cron.Cron
	scanSpec   string
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithScanInterval overrides the default 1s crash-recovery scan cadence.
func WithScanInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		s.scanSpec = fmt.Sprintf("@every %s", d.String())
	}
}

// New creates a Scheduler. The scan runs once per second by default,
// fine grained enough that a 1-second interval schedule never starves.
func New(store Store, disp dispatcher.Dispatcher, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:      store,
		dispatcher: disp,
		cron:       cron.New(cron.WithSeconds()),
		scanSpec:   "@every 1s",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start registers the scan job and starts the cron runner. ctx governs
// every individual scan invocation, not the runner's own lifetime; use
// Stop to halt the runner.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.scanSpec, func() { s.scan(ctx) })
	if err != nil {
		return fmt.Errorf("scheduler: register scan job: %w", err)
	}
	s.cron.Start()
	return nil
}

// Stop halts the cron runner, waiting for any in-flight scan to finish.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
}

// scan finds every due, active ScheduledJob and enqueues it. Enqueue
// failures are not retried within the same scan tick; the job's
// next_run_at is unchanged, so the next tick picks it up again.
func (s *Scheduler) scan(ctx context.Context) {
	now := time.Now()
	due, err := s.store.GetDue(ctx, now)
	if err != nil {
		return
	}

	for _, job := range due {
		if job.Status != models.ScheduledJobStatusActive {
			continue
		}
		s.fire(ctx, job)
	}
}

// fire enqueues job's dispatcher job under its deterministic id
// ("sched-{job_id}-n{current_repeat}-rc{current_retry}"). That id is the
// only duplicate protection needed: a later scan tick that sees the job
// still due re-enqueues the same id and the dispatcher drops it as a
// no-op. All run_count/next_run_at bookkeeping happens when the worker
// reports the outcome through RecordSuccess/RecordFailure, never at
// enqueue time, so a retry re-fire can never count as a run.
func (s *Scheduler) fire(ctx context.Context, job *models.ScheduledJob) {
	payload := map[string]interface{}{
		"scheduled_job_id": job.ID,
		"workflow_id":      job.WorkflowID,
		"trigger_node_id":  job.TriggerNodeID,
		"trigger_payload":  job.TriggerPayload,
		"current_repeat":   job.CurrentRepeat,
		"current_retry":    job.CurrentRetry,
	}

	timeout := time.Duration(job.TimeoutSeconds) * time.Second
	_ = s.dispatcher.Enqueue(ctx, ExecutionQueue, job.DispatcherJobID(), payload, timeout)
}

// CreateSchedule validates and persists a new recurring job. The first
// firing lands one interval from now unless the caller set NextRunAt.
func (s *Scheduler) CreateSchedule(ctx context.Context, job *models.ScheduledJob) error {
	if err := job.Validate(); err != nil {
		return err
	}
	if job.Status == "" {
		job.Status = models.ScheduledJobStatusActive
	}
	if job.NextRunAt.IsZero() {
		job.NextRunAt = time.Now().Add(time.Duration(job.IntervalSeconds) * time.Second)
	}
	return s.store.Create(ctx, job)
}

// PauseSchedule transitions an active job to paused. No effort is made to
// cancel an already-enqueued dispatcher job; its worker observes the
// paused status and exits without rescheduling.
func (s *Scheduler) PauseSchedule(ctx context.Context, id string) error {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.Status != models.ScheduledJobStatusActive {
		return fmt.Errorf("schedule %s is %s: %w", id, job.Status, models.ErrJobNotActive)
	}
	job.Status = models.ScheduledJobStatusPaused
	return s.store.Update(ctx, job)
}

// ResumeSchedule transitions a paused job back to active with an
// immediate next firing.
func (s *Scheduler) ResumeSchedule(ctx context.Context, id string) error {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.Status != models.ScheduledJobStatusPaused {
		return fmt.Errorf("schedule %s is %s, not paused", id, job.Status)
	}
	job.Status = models.ScheduledJobStatusActive
	job.NextRunAt = time.Now()
	if err := s.store.Update(ctx, job); err != nil {
		return err
	}
	s.fire(ctx, job)
	return nil
}

// DeleteSchedule removes the job entirely, whatever its status.
func (s *Scheduler) DeleteSchedule(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}

// RecordSuccess advances job past a successful firing: run_count and
// current_repeat go up, the retry counter resets, and the next firing is
// scheduled one interval out, unless total_repeats is reached (0 means
// unlimited), which completes the job instead.
func RecordSuccess(job *models.ScheduledJob) {
	now := time.Now()
	job.RunCount++
	job.CurrentRepeat++
	job.CurrentRetry = 0
	job.LastRunAt = &now
	if job.TotalRepeats > 0 && job.CurrentRepeat >= job.TotalRepeats {
		job.Status = models.ScheduledJobStatusDone
		return
	}
	job.NextRunAt = now.Add(time.Duration(job.IntervalSeconds) * time.Second)
}

// RecordFailure applies the capped exponential backoff, retiring the job
// to "dead" once max_retries is exhausted.
func RecordFailure(job *models.ScheduledJob, errMsg string) {
	job.CurrentRetry++
	job.ErrorCount++
	job.LastError = errMsg
	if job.CurrentRetry > job.MaxRetries {
		job.Status = models.ScheduledJobStatusDead
		return
	}
	job.NextRunAt = time.Now().Add(job.NextBackoffDelay())
}
