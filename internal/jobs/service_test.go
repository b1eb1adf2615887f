package jobs

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cuongbtq/content-pipeline/internal/domain"
	"github.com/cuongbtq/content-pipeline/internal/storage"
	"github.com/cuongbtq/content-pipeline/internal/testutil"
	"github.com/cuongbtq/content-pipeline/shared/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(store *testutil.MemoryStore, q *testutil.MemoryQueue) *Service {
	return NewService(&Config{
		Logger: logger.NewNop().Logger,
		Store:  store,
		Queue:  q,
		Delay:  time.Minute,
	})
}

func TestSubmitJob(t *testing.T) {
	store := testutil.NewMemoryStore()
	q := testutil.NewMemoryQueue()
	svc := newTestService(store, q)

	sub, err := svc.SubmitJob(context.Background(), SubmitRequest{
		OwnerID: "user-1",
		Prompt:  "outline for a blog about cats",
		Kind:    "blog_outline",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, sub.JobID)
	assert.Equal(t, int64(60000), sub.DelayMs)
	assert.Equal(t, domain.JobStatusPending, sub.Status)

	job, err := store.GetJob(context.Background(), sub.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.Equal(t, "user-1", job.OwnerID)
	assert.Equal(t, domain.KindBlogOutline, job.Kind)

	enqueued := q.Enqueued()
	require.Len(t, enqueued, 1)
	assert.Equal(t, sub.JobID, enqueued[0].Message.JobID)
	assert.Equal(t, time.Minute, enqueued[0].Delay)
	assert.Equal(t, int64(60000), enqueued[0].Message.DelayMs)

	view, err := svc.GetStatus(context.Background(), sub.JobID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, view.Status)
	assert.Nil(t, view.Result)
}

func TestSubmitJob_Validation(t *testing.T) {
	tests := []struct {
		name    string
		req     SubmitRequest
		wantErr error
	}{
		{
			name:    "missing prompt",
			req:     SubmitRequest{OwnerID: "user-1", Kind: "blog_outline"},
			wantErr: domain.ErrInvalidRequest,
		},
		{
			name:    "blank prompt",
			req:     SubmitRequest{OwnerID: "user-1", Prompt: "   ", Kind: "blog_outline"},
			wantErr: domain.ErrInvalidRequest,
		},
		{
			name:    "missing kind",
			req:     SubmitRequest{OwnerID: "user-1", Prompt: "cats"},
			wantErr: domain.ErrInvalidRequest,
		},
		{
			name:    "unknown kind",
			req:     SubmitRequest{OwnerID: "user-1", Prompt: "cats", Kind: "poem"},
			wantErr: domain.ErrInvalidKind,
		},
		{
			name:    "missing owner",
			req:     SubmitRequest{Prompt: "cats", Kind: "social_caption"},
			wantErr: domain.ErrInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := testutil.NewMemoryStore()
			q := testutil.NewMemoryQueue()

			_, err := newTestService(store, q).SubmitJob(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, domain.ErrInvalidRequest)
			assert.Empty(t, q.Enqueued())
		})
	}
}

func TestSubmitJob_StoreFailure(t *testing.T) {
	store := testutil.NewMemoryStore()
	store.FailOn(testutil.OpCreateJob, errors.New("connection refused"))
	q := testutil.NewMemoryQueue()

	_, err := newTestService(store, q).SubmitJob(context.Background(), SubmitRequest{
		OwnerID: "user-1", Prompt: "cats", Kind: "blog_outline",
	})
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrInvalidRequest)
	assert.Empty(t, q.Enqueued(), "nothing is enqueued without a row")
}

func TestSubmitJob_EnqueueFailureFailsRow(t *testing.T) {
	store := testutil.NewMemoryStore()
	q := testutil.NewMemoryQueue()
	q.EnqueueErr = errors.New("broker unreachable")

	_, err := newTestService(store, q).SubmitJob(context.Background(), SubmitRequest{
		OwnerID: "user-1", Prompt: "cats", Kind: "blog_outline",
	})
	require.ErrorContains(t, err, "broker unreachable")

	jobs, err := store.ListJobs(context.Background(), listAll("user-1"))
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, domain.JobStatusFailed, jobs[0].Status)
	assert.Equal(t, enqueueFailedError, jobs[0].Error)
}

func TestGetStatus(t *testing.T) {
	store := testutil.NewMemoryStore()
	svc := newTestService(store, testutil.NewMemoryQueue())
	now := time.Now().UTC()

	store.Put(domain.Job{JobID: "pending", OwnerID: "user-1", Prompt: "p", Kind: domain.KindSocialCaption, Status: domain.JobStatusPending, CreatedAt: now, UpdatedAt: now})
	store.Put(domain.Job{JobID: "failed", OwnerID: "user-1", Prompt: "p", Kind: domain.KindSocialCaption, Status: domain.JobStatusFailed, Error: "quota exceeded", CreatedAt: now, UpdatedAt: now})
	store.Put(domain.Job{JobID: "completed", OwnerID: "user-1", Prompt: "p", Kind: domain.KindSocialCaption, Status: domain.JobStatusProcessing, CreatedAt: now, UpdatedAt: now})

	content := &domain.Content{
		ContentID: "content-1", OwnerID: "user-1", JobID: "completed", Kind: domain.KindSocialCaption,
		Prompt: "p", Title: "Title", Body: "Body", Sentiment: domain.SentimentNeutral, CreatedAt: now,
	}
	applied, err := store.CompleteJob(context.Background(), "completed", content)
	require.NoError(t, err)
	require.True(t, applied)

	tests := []struct {
		name       string
		jobID      string
		ownerID    string
		wantErr    error
		wantStatus domain.Status
		wantError  string
		wantResult bool
	}{
		{name: "pending", jobID: "pending", ownerID: "user-1", wantStatus: domain.JobStatusPending},
		{name: "failed carries error", jobID: "failed", ownerID: "user-1", wantStatus: domain.JobStatusFailed, wantError: "quota exceeded"},
		{name: "completed carries result", jobID: "completed", ownerID: "user-1", wantStatus: domain.JobStatusCompleted, wantResult: true},
		{name: "not found", jobID: "missing", ownerID: "user-1", wantErr: domain.ErrJobNotFound},
		{name: "other owner", jobID: "pending", ownerID: "user-2", wantErr: domain.ErrForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			view, err := svc.GetStatus(context.Background(), tt.jobID, tt.ownerID)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, view.Status)
			assert.Equal(t, tt.wantError, view.Error)
			if tt.wantResult {
				require.NotNil(t, view.Result)
				assert.Equal(t, "Title", view.Result.Title)
				assert.Equal(t, domain.SentimentNeutral, view.Result.Sentiment)
			} else {
				assert.Nil(t, view.Result)
			}
		})
	}
}

func TestListJobs_Pagination(t *testing.T) {
	store := testutil.NewMemoryStore()
	svc := newTestService(store, testutil.NewMemoryQueue())
	base := time.Now().UTC()

	for i := 0; i < 5; i++ {
		created := base.Add(time.Duration(i) * time.Second)
		store.Put(domain.Job{
			JobID: fmt.Sprintf("job-%d", i), OwnerID: "user-1", Prompt: "p",
			Kind: domain.KindBlogOutline, Status: domain.JobStatusPending,
			CreatedAt: created, UpdatedAt: created,
		})
	}
	store.Put(domain.Job{JobID: "other", OwnerID: "user-2", Prompt: "p", Kind: domain.KindBlogOutline, Status: domain.JobStatusPending, CreatedAt: base, UpdatedAt: base})

	page1, cursor, err := svc.ListJobs(context.Background(), ListRequest{OwnerID: "user-1", PageSize: 2})
	require.NoError(t, err)
	require.NotNil(t, cursor)
	assert.Equal(t, []string{"job-4", "job-3"}, jobIDs(page1))

	page2, cursor, err := svc.ListJobs(context.Background(), ListRequest{OwnerID: "user-1", PageSize: 2, Cursor: cursor})
	require.NoError(t, err)
	require.NotNil(t, cursor)
	assert.Equal(t, []string{"job-2", "job-1"}, jobIDs(page2))

	page3, cursor, err := svc.ListJobs(context.Background(), ListRequest{OwnerID: "user-1", PageSize: 2, Cursor: cursor})
	require.NoError(t, err)
	assert.Nil(t, cursor)
	assert.Equal(t, []string{"job-0"}, jobIDs(page3))
}

func TestListJobs_InvalidFilters(t *testing.T) {
	svc := newTestService(testutil.NewMemoryStore(), testutil.NewMemoryQueue())

	_, _, err := svc.ListJobs(context.Background(), ListRequest{OwnerID: "user-1", Status: "done"})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, _, err = svc.ListJobs(context.Background(), ListRequest{OwnerID: "user-1", Kind: "poem"})
	assert.ErrorIs(t, err, domain.ErrInvalidKind)
}

func jobIDs(jobs []domain.Job) []string {
	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.JobID
	}
	return ids
}

func listAll(ownerID string) storage.JobFilter {
	return storage.JobFilter{UserID: ownerID, PageSize: MaxPageSize}
}
