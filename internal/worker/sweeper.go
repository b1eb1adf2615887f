package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/content-pipeline/internal/domain"
	"github.com/cuongbtq/content-pipeline/shared/metrics"
)

// Failure messages written by the sweeper
const (
	StuckProcessingError = "job timed out while processing"
	StuckPendingError    = "job was never picked up by a worker"
)

// StaleJobStore is the subset of the job record store the sweeper needs
type StaleJobStore interface {
	ListStaleJobs(ctx context.Context, status domain.Status, before time.Time, limit int) ([]domain.Job, error)
	Transition(ctx context.Context, jobID string, to domain.Status, update domain.TransitionUpdate) (bool, error)
}

// SweeperConfig holds sweeper configuration
type SweeperConfig struct {
	Logger    *slog.Logger
	Store     StaleJobStore
	Publisher EventPublisher
	Metrics   *metrics.Metrics
	Interval  time.Duration
	// StuckAfter is how long a processing row may go without a heartbeat
	StuckAfter time.Duration
	// PendingGrace is added to StuckAfter for pending rows, usually the submission delay
	PendingGrace time.Duration
	BatchSize    int
	Now          func() time.Time
}

// Sweeper fails jobs that were acknowledged by a worker that died, or never delivered at all
type Sweeper struct {
	logger       *slog.Logger
	store        StaleJobStore
	publisher    EventPublisher
	metrics      *metrics.Metrics
	interval     time.Duration
	stuckAfter   time.Duration
	pendingGrace time.Duration
	batchSize    int
	now          func() time.Time
}

// NewSweeper creates a new sweeper
func NewSweeper(cfg *SweeperConfig) *Sweeper {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Sweeper{
		logger:       cfg.Logger,
		store:        cfg.Store,
		publisher:    cfg.Publisher,
		metrics:      cfg.Metrics,
		interval:     cfg.Interval,
		stuckAfter:   cfg.StuckAfter,
		pendingGrace: cfg.PendingGrace,
		batchSize:    batchSize,
		now:          now,
	}
}

// Run sweeps every interval until ctx is cancelled
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info("Stale job sweeper started",
		slog.Duration("interval", s.interval),
		slog.Duration("stuck_after", s.stuckAfter),
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Stale job sweeper stopped")
			return nil

		case <-ticker.C:
			swept, err := s.SweepOnce(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				s.logger.Error("Stale job sweep failed", slog.Any("error", err))
				continue
			}
			if swept > 0 {
				s.logger.Info("Stale jobs failed", slog.Int("count", swept))
			}
		}
	}
}

// SweepOnce fails every stale processing and pending job and returns how many were transitioned
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	now := s.now()

	processing, err := s.sweepStatus(ctx, domain.JobStatusProcessing, now.Add(-s.stuckAfter), StuckProcessingError)
	if err != nil {
		return processing, err
	}

	pending, err := s.sweepStatus(ctx, domain.JobStatusPending, now.Add(-(s.stuckAfter + s.pendingGrace)), StuckPendingError)
	return processing + pending, err
}

func (s *Sweeper) sweepStatus(ctx context.Context, status domain.Status, before time.Time, reason string) (int, error) {
	swept := 0

	for {
		jobs, err := s.store.ListStaleJobs(ctx, status, before, s.batchSize)
		if err != nil {
			return swept, fmt.Errorf("failed to list stale %s jobs: %w", status, err)
		}

		progressed := false
		for _, job := range jobs {
			applied, err := s.store.Transition(ctx, job.JobID, domain.JobStatusFailed, domain.TransitionUpdate{Error: reason})
			if err != nil {
				if errors.Is(err, domain.ErrInvalidTransition) {
					continue
				}
				return swept, fmt.Errorf("failed to fail stale job %s: %w", job.JobID, err)
			}
			if !applied {
				continue
			}

			progressed = true
			swept++
			s.metrics.JobSwept(string(status))

			s.logger.Warn("Stale job marked as failed",
				slog.String("job_id", job.JobID),
				slog.String("previous_status", string(status)),
				slog.Time("updated_at", job.UpdatedAt),
			)

			if s.publisher != nil {
				event := domain.NewLifecycleEvent(job.JobID, job.OwnerID, domain.JobStatusFailed, reason)
				if err := s.publisher.PublishLifecycle(ctx, event); err != nil {
					s.logger.Error("Failed to publish lifecycle event",
						slog.String("job_id", job.JobID),
						slog.Any("error", err),
					)
				}
			}
		}

		if len(jobs) < s.batchSize || !progressed {
			return swept, nil
		}
	}
}
