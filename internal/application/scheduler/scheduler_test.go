package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theuselessai/pipelit/internal/application/dispatcher"
	"github.com/theuselessai/pipelit/pkg/models"
)

type fakeStore struct {
	mu   sync.Mutex
	jobs map[string]*models.ScheduledJob
}

func newFakeStore(jobs ...*models.ScheduledJob) *fakeStore {
	s := &fakeStore{jobs: make(map[string]*models.ScheduledJob)}
	for _, j := range jobs {
		s.jobs[j.ID] = j
	}
	return s
}

func (s *fakeStore) GetDue(ctx context.Context, now time.Time) ([]*models.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*models.ScheduledJob
	for _, j := range s.jobs {
		if j.Status == models.ScheduledJobStatusActive && !j.NextRunAt.After(now) {
			due = append(due, j)
		}
	}
	return due, nil
}

func (s *fakeStore) Get(ctx context.Context, id string) (*models.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("scheduled job %s not found", id)
	}
	return job, nil
}

func (s *fakeStore) Create(ctx context.Context, job *models.ScheduledJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("scheduled job %s already exists", job.ID)
	}
	s.jobs[job.ID] = job
	return nil
}

func (s *fakeStore) Update(ctx context.Context, job *models.ScheduledJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}

func (s *fakeStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return fmt.Errorf("scheduled job %s not found", id)
	}
	delete(s.jobs, id)
	return nil
}

func newTestDispatcher(t *testing.T) dispatcher.Dispatcher {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })
	return dispatcher.New(client)
}

func sampleJob() *models.ScheduledJob {
	return &models.ScheduledJob{
		ID:              "job-1",
		WorkflowID:      "wf-1",
		TriggerNodeID:   "trigger",
		IntervalSeconds: 60,
		MaxRetries:      3,
		TimeoutSeconds:  30,
		Status:          models.ScheduledJobStatusActive,
		NextRunAt:       time.Now().Add(-time.Second),
	}
}

func TestScan_FiresDueJobOnce(t *testing.T) {
	job := sampleJob()
	store := newFakeStore(job)
	disp := newTestDispatcher(t)
	s := New(store, disp)
	ctx := context.Background()

	before := job.NextRunAt
	s.scan(ctx)

	// fire only enqueues; all run bookkeeping waits for the worker's
	// RecordSuccess/RecordFailure report.
	assert.True(t, job.NextRunAt.Equal(before))
	assert.Equal(t, int64(0), job.RunCount)
	assert.Nil(t, job.LastRunAt)

	fetched, err := disp.Dequeue(ctx, ExecutionQueue, time.Second)
	require.NoError(t, err)
	assert.Equal(t, job.DispatcherJobID(), fetched.ID)

	// A second scan tick re-enqueues the same deterministic id, which the
	// dispatcher drops, so the still-due job does not pile up.
	s.scan(ctx)
	_, err = disp.Dequeue(ctx, ExecutionQueue, 10*time.Millisecond)
	assert.ErrorIs(t, err, dispatcher.ErrNoJob)
}

func TestScan_SkipsPausedJobs(t *testing.T) {
	job := sampleJob()
	job.Status = models.ScheduledJobStatusPaused
	store := newFakeStore(job)
	disp := newTestDispatcher(t)
	s := New(store, disp)
	ctx := context.Background()

	s.scan(ctx)

	_, err := disp.Dequeue(ctx, ExecutionQueue, 10*time.Millisecond)
	assert.ErrorIs(t, err, dispatcher.ErrNoJob)
}

func TestScan_SkipsFutureJobs(t *testing.T) {
	job := sampleJob()
	job.NextRunAt = time.Now().Add(time.Hour)
	store := newFakeStore(job)
	disp := newTestDispatcher(t)
	s := New(store, disp)
	ctx := context.Background()

	s.scan(ctx)

	_, err := disp.Dequeue(ctx, ExecutionQueue, 10*time.Millisecond)
	assert.ErrorIs(t, err, dispatcher.ErrNoJob)
}

func TestRecordSuccess_CompletesAfterTotalRepeats(t *testing.T) {
	job := sampleJob()
	job.TotalRepeats = 2
	job.CurrentRepeat = 1

	RecordSuccess(job)

	assert.Equal(t, int64(2), job.CurrentRepeat)
	assert.Equal(t, int64(1), job.RunCount)
	assert.Equal(t, models.ScheduledJobStatusDone, job.Status)
}

func TestRecordSuccess_StaysActiveWhenUnlimited(t *testing.T) {
	job := sampleJob()
	job.TotalRepeats = 0
	job.CurrentRepeat = 50

	RecordSuccess(job)

	assert.Equal(t, models.ScheduledJobStatusActive, job.Status)
	require.NotNil(t, job.LastRunAt)
	// The next firing lands one interval out from the success.
	wantNext := job.LastRunAt.Add(time.Duration(job.IntervalSeconds) * time.Second)
	assert.True(t, job.NextRunAt.Equal(wantNext))
}

// TestRetryBackoffThenSuccess_Flow walks a full fail-fail-succeed cycle
// through RecordFailure/RecordSuccess: two failed attempts back off at
// interval*2^retry, and the eventual success counts exactly one run
// while the accumulated error_count stays.
func TestRetryBackoffThenSuccess_Flow(t *testing.T) {
	job := sampleJob() // interval 60s, max_retries 3
	interval := time.Duration(job.IntervalSeconds) * time.Second

	before := time.Now()
	RecordFailure(job, "boom 1")
	assert.Equal(t, 1, job.CurrentRetry)
	assert.Equal(t, int64(1), job.ErrorCount)
	assert.Equal(t, int64(0), job.RunCount)
	assert.Equal(t, models.ScheduledJobStatusActive, job.Status)
	wantDelay := 2 * interval
	assert.WithinDuration(t, before.Add(wantDelay), job.NextRunAt, time.Second)

	before = time.Now()
	RecordFailure(job, "boom 2")
	assert.Equal(t, 2, job.CurrentRetry)
	assert.Equal(t, int64(2), job.ErrorCount)
	wantDelay = 4 * interval
	assert.WithinDuration(t, before.Add(wantDelay), job.NextRunAt, time.Second)

	before = time.Now()
	RecordSuccess(job)
	assert.Equal(t, int64(1), job.RunCount)
	assert.Equal(t, int64(2), job.ErrorCount, "error_count accumulates across the schedule's life")
	assert.Equal(t, 0, job.CurrentRetry)
	assert.Equal(t, models.ScheduledJobStatusActive, job.Status)
	assert.WithinDuration(t, before.Add(interval), job.NextRunAt, time.Second)
}

func TestRecordFailure_BacksOffUntilMaxRetries(t *testing.T) {
	job := sampleJob()
	job.MaxRetries = 2

	RecordFailure(job, "boom")
	assert.Equal(t, models.ScheduledJobStatusActive, job.Status)
	assert.Equal(t, 1, job.CurrentRetry)
	assert.Equal(t, "boom", job.LastError)

	RecordFailure(job, "boom again")
	assert.Equal(t, models.ScheduledJobStatusActive, job.Status)

	RecordFailure(job, "boom a third time")
	assert.Equal(t, models.ScheduledJobStatusDead, job.Status)
}

func TestCreateSchedule_DefaultsStatusAndNextRun(t *testing.T) {
	store := newFakeStore()
	s := New(store, newTestDispatcher(t))

	job := &models.ScheduledJob{
		ID:              "job-new",
		WorkflowID:      "wf-1",
		TriggerNodeID:   "trigger",
		IntervalSeconds: 60,
	}
	require.NoError(t, s.CreateSchedule(context.Background(), job))

	created, err := store.Get(context.Background(), "job-new")
	require.NoError(t, err)
	assert.Equal(t, models.ScheduledJobStatusActive, created.Status)
	assert.True(t, created.NextRunAt.After(time.Now().Add(50*time.Second)))
}

func TestCreateSchedule_RejectsInvalidJob(t *testing.T) {
	s := New(newFakeStore(), newTestDispatcher(t))

	err := s.CreateSchedule(context.Background(), &models.ScheduledJob{
		ID: "bad", WorkflowID: "wf-1", TriggerNodeID: "trigger",
		IntervalSeconds: 0,
	})
	require.Error(t, err)
}

func TestPauseSchedule_ThenScanSkipsIt(t *testing.T) {
	job := sampleJob()
	store := newFakeStore(job)
	disp := newTestDispatcher(t)
	s := New(store, disp)
	ctx := context.Background()

	require.NoError(t, s.PauseSchedule(ctx, job.ID))
	assert.Equal(t, models.ScheduledJobStatusPaused, job.Status)

	s.scan(ctx)
	_, err := disp.Dequeue(ctx, ExecutionQueue, 10*time.Millisecond)
	assert.ErrorIs(t, err, dispatcher.ErrNoJob)

	// Pausing a non-active job is rejected.
	err = s.PauseSchedule(ctx, job.ID)
	assert.ErrorIs(t, err, models.ErrJobNotActive)
}

func TestResumeSchedule_FiresImmediately(t *testing.T) {
	job := sampleJob()
	job.Status = models.ScheduledJobStatusPaused
	job.NextRunAt = time.Now().Add(time.Hour)
	store := newFakeStore(job)
	disp := newTestDispatcher(t)
	s := New(store, disp)
	ctx := context.Background()

	require.NoError(t, s.ResumeSchedule(ctx, job.ID))
	assert.Equal(t, models.ScheduledJobStatusActive, job.Status)

	fetched, err := disp.Dequeue(ctx, ExecutionQueue, time.Second)
	require.NoError(t, err)
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(fetched.Payload, &payload))
	assert.Equal(t, job.ID, payload["scheduled_job_id"])
}

func TestResumeSchedule_RejectsNonPausedJob(t *testing.T) {
	job := sampleJob()
	s := New(newFakeStore(job), newTestDispatcher(t))

	err := s.ResumeSchedule(context.Background(), job.ID)
	require.Error(t, err)
}

func TestDeleteSchedule_RemovesJob(t *testing.T) {
	job := sampleJob()
	store := newFakeStore(job)
	s := New(store, newTestDispatcher(t))
	ctx := context.Background()

	require.NoError(t, s.DeleteSchedule(ctx, job.ID))
	_, err := store.Get(ctx, job.ID)
	require.Error(t, err)
}
