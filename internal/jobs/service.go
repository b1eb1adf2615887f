// Package jobs implements the submission path and the status query service
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cuongbtq/content-pipeline/internal/domain"
	"github.com/cuongbtq/content-pipeline/internal/queue"
	"github.com/cuongbtq/content-pipeline/internal/storage"
	"github.com/cuongbtq/content-pipeline/shared/metrics"
	"github.com/google/uuid"
)

// Page size bounds for ListJobs
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

const enqueueFailedError = "failed to enqueue job"

// Store is the subset of the job record store used by the submission and query paths
type Store interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	Transition(ctx context.Context, jobID string, to domain.Status, update domain.TransitionUpdate) (bool, error)
	GetContent(ctx context.Context, contentID string) (*domain.Content, error)
	ListJobs(ctx context.Context, filter storage.JobFilter) ([]domain.Job, error)
}

// Enqueuer hands a job to the work queue
type Enqueuer interface {
	Enqueue(ctx context.Context, msg queue.Message, delay time.Duration) error
}

// Config holds service dependencies
type Config struct {
	Logger  *slog.Logger
	Store   Store
	Queue   Enqueuer
	Metrics *metrics.Metrics
	// Delay is the minimum time before a submitted job becomes visible to workers
	Delay time.Duration
}

// Service creates jobs and answers status queries
type Service struct {
	logger  *slog.Logger
	store   Store
	queue   Enqueuer
	metrics *metrics.Metrics
	delay   time.Duration
	now     func() time.Time
}

// NewService creates a new Service
func NewService(cfg *Config) *Service {
	return &Service{
		logger:  cfg.Logger,
		store:   cfg.Store,
		queue:   cfg.Queue,
		metrics: cfg.Metrics,
		delay:   cfg.Delay,
		now:     time.Now,
	}
}

// SubmitRequest is a validated-on-submit job request
type SubmitRequest struct {
	OwnerID string
	Prompt  string
	Kind    string
}

// Submission is returned for an accepted job
type Submission struct {
	JobID   string
	DelayMs int64
	Status  domain.Status
}

// StatusView is the current state of a job as seen by its owner
type StatusView struct {
	JobID  string
	Status domain.Status
	Error  string
	Result *domain.Content
}

// ListRequest selects a page of the owner's jobs
type ListRequest struct {
	OwnerID  string
	Kind     string
	Status   string
	PageSize int
	Cursor   *storage.JobCursor
}

// SubmitJob creates the job row and then enqueues its message. It blocks until the row is
// durable and the broker accepted the message.
func (s *Service) SubmitJob(ctx context.Context, req SubmitRequest) (*Submission, error) {
	if req.OwnerID == "" {
		return nil, fmt.Errorf("%w: owner is required", domain.ErrInvalidRequest)
	}

	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, fmt.Errorf("%w: prompt is required", domain.ErrInvalidRequest)
	}

	if req.Kind == "" {
		return nil, fmt.Errorf("%w: content_type is required", domain.ErrInvalidRequest)
	}

	kind, err := domain.ParseKind(req.Kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %w %q", domain.ErrInvalidRequest, err, req.Kind)
	}

	now := s.now().UTC()
	job := &domain.Job{
		JobID:     uuid.NewString(),
		OwnerID:   req.OwnerID,
		Prompt:    prompt,
		Kind:      kind,
		Status:    domain.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	if err := s.queue.Enqueue(ctx, queue.NewMessage(job, s.delay), s.delay); err != nil {
		s.logger.Error("Failed to enqueue job",
			slog.String("job_id", job.JobID),
			slog.Any("error", err),
		)
		s.compensate(job.JobID)
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	s.metrics.JobSubmitted(string(kind))

	s.logger.Info("Job submitted",
		slog.String("job_id", job.JobID),
		slog.String("user_id", job.OwnerID),
		slog.String("content_type", string(kind)),
		slog.Duration("delay", s.delay),
	)

	return &Submission{
		JobID:   job.JobID,
		DelayMs: s.delay.Milliseconds(),
		Status:  job.Status,
	}, nil
}

// compensate fails a row whose message never reached the broker
func (s *Service) compensate(jobID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := s.store.Transition(ctx, jobID, domain.JobStatusFailed, domain.TransitionUpdate{Error: enqueueFailedError})
	if err != nil {
		s.logger.Error("Failed to mark unqueued job as failed",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
	}
}

// GetStatus reads the job row and, for completed jobs, the linked result.
// Jobs owned by someone else return ErrForbidden.
func (s *Service) GetStatus(ctx context.Context, jobID, ownerID string) (*StatusView, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if job.OwnerID != ownerID {
		return nil, domain.ErrForbidden
	}

	view := &StatusView{
		JobID:  job.JobID,
		Status: job.Status,
		Error:  job.Error,
	}

	if job.Status == domain.JobStatusCompleted && job.ResultID != "" {
		content, err := s.store.GetContent(ctx, job.ResultID)
		switch {
		case err == nil:
			view.Result = content
		case errors.Is(err, domain.ErrContentNotFound):
			s.logger.Warn("Completed job references missing content",
				slog.String("job_id", job.JobID),
				slog.String("content_id", job.ResultID),
			)
		default:
			return nil, err
		}
	}

	return view, nil
}

// ListJobs returns one page of the owner's jobs, newest first, and the cursor of the next
// page or nil when this is the last one
func (s *Service) ListJobs(ctx context.Context, req ListRequest) ([]domain.Job, *storage.JobCursor, error) {
	if req.Status != "" && !domain.Status(req.Status).Valid() {
		return nil, nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidRequest, req.Status)
	}

	if req.Kind != "" {
		if _, err := domain.ParseKind(req.Kind); err != nil {
			return nil, nil, fmt.Errorf("%w: %w %q", domain.ErrInvalidRequest, err, req.Kind)
		}
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	jobs, err := s.store.ListJobs(ctx, storage.JobFilter{
		UserID:   req.OwnerID,
		Kind:     req.Kind,
		Status:   req.Status,
		PageSize: pageSize,
		Cursor:   req.Cursor,
	})
	if err != nil {
		return nil, nil, err
	}

	if len(jobs) <= pageSize {
		return jobs, nil, nil
	}

	jobs = jobs[:pageSize]
	last := jobs[len(jobs)-1]
	return jobs, &storage.JobCursor{CreatedAt: last.CreatedAt, JobID: last.JobID}, nil
}
