package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cuongbtq/content-pipeline/internal/domain"
	"github.com/cuongbtq/content-pipeline/internal/testutil"
	"github.com/cuongbtq/content-pipeline/shared/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSweeper(store StaleJobStore, publisher EventPublisher, now time.Time, batch int) *Sweeper {
	return NewSweeper(&SweeperConfig{
		Logger:       logger.NewNop().Logger,
		Store:        store,
		Publisher:    publisher,
		Interval:     time.Minute,
		StuckAfter:   10 * time.Minute,
		PendingGrace: time.Minute,
		BatchSize:    batch,
		Now:          func() time.Time { return now },
	})
}

func jobAt(jobID string, status domain.Status, updated time.Time) domain.Job {
	job := pendingJob(jobID)
	job.Status = status
	job.CreatedAt = updated
	job.UpdatedAt = updated
	if status == domain.JobStatusCompleted {
		job.ResultID = "content-" + jobID
	}
	return job
}

func TestSweeper_SweepOnce(t *testing.T) {
	now := time.Now().UTC()
	store := testutil.NewMemoryStore()
	q := testutil.NewMemoryQueue()

	store.Put(jobAt("stuck-processing", domain.JobStatusProcessing, now.Add(-15*time.Minute)))
	store.Put(jobAt("live-processing", domain.JobStatusProcessing, now.Add(-5*time.Minute)))
	store.Put(jobAt("stuck-pending", domain.JobStatusPending, now.Add(-12*time.Minute)))
	store.Put(jobAt("delayed-pending", domain.JobStatusPending, now.Add(-10*time.Minute-30*time.Second)))
	store.Put(jobAt("old-completed", domain.JobStatusCompleted, now.Add(-time.Hour)))

	swept, err := newTestSweeper(store, q, now, 10).SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, swept)

	tests := []struct {
		jobID      string
		wantStatus domain.Status
		wantError  string
	}{
		{jobID: "stuck-processing", wantStatus: domain.JobStatusFailed, wantError: StuckProcessingError},
		{jobID: "live-processing", wantStatus: domain.JobStatusProcessing},
		{jobID: "stuck-pending", wantStatus: domain.JobStatusFailed, wantError: StuckPendingError},
		{jobID: "delayed-pending", wantStatus: domain.JobStatusPending},
		{jobID: "old-completed", wantStatus: domain.JobStatusCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.jobID, func(t *testing.T) {
			job, err := store.GetJob(context.Background(), tt.jobID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, job.Status)
			assert.Equal(t, tt.wantError, job.Error)
		})
	}

	events := q.Events()
	require.Len(t, events, 2)
	for _, e := range events {
		assert.Equal(t, domain.JobStatusFailed, e.Status)
		assert.Equal(t, "user-1", e.OwnerID)
	}
}

func TestSweeper_Batches(t *testing.T) {
	now := time.Now().UTC()
	store := testutil.NewMemoryStore()

	for i := 0; i < 5; i++ {
		store.Put(jobAt(fmt.Sprintf("job-%d", i), domain.JobStatusProcessing, now.Add(-time.Hour)))
	}

	swept, err := newTestSweeper(store, nil, now, 2).SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, swept)

	again, err := newTestSweeper(store, nil, now, 2).SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, again, "second sweep finds nothing")
}

func TestSweeper_StoreError(t *testing.T) {
	store := testutil.NewMemoryStore()
	store.FailOn(testutil.OpListStale, errors.New("connection refused"))

	_, err := newTestSweeper(store, nil, time.Now(), 10).SweepOnce(context.Background())
	assert.ErrorContains(t, err, "failed to list stale processing jobs")
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	store := testutil.NewMemoryStore()
	s := NewSweeper(&SweeperConfig{
		Logger:     logger.NewNop().Logger,
		Store:      store,
		Interval:   10 * time.Millisecond,
		StuckAfter: time.Minute,
	})

	old := jobAt("job-1", domain.JobStatusProcessing, time.Now().Add(-time.Hour))
	store.Put(old)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	assert.Eventually(t, func() bool {
		job, err := store.GetJob(context.Background(), "job-1")
		return err == nil && job.Status == domain.JobStatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
