package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/content-pipeline/internal/domain"
	"github.com/cuongbtq/content-pipeline/shared/metrics"
	"github.com/google/uuid"
)

const releaseTimeout = 5 * time.Second

// processJob runs one attempt of the pipeline for msg. It returns nil whenever the delivery
// should be acknowledged, including failed generations; a RetryableError means the job
// store was unreachable before any state was written and the delivery must be redelivered.
func (w *Worker) processJob(ctx context.Context, msg *jobMessage) (err error) {
	start := time.Now()
	outcome := metrics.OutcomeSkipped
	defer func() {
		if err != nil {
			outcome = metrics.OutcomeRetried
		}
		w.metrics.AttemptFinished(outcome, time.Since(start))
	}()

	log := w.logger.With(slog.String("job_id", msg.JobID), slog.String("worker_id", w.workerID))

	var lease Lease
	if w.locker != nil {
		lease, err = w.locker.Acquire(ctx, msg.JobID, w.lockTTL)
		if errors.Is(err, ErrLockHeld) {
			log.Warn("Job is held by another attempt, dropping delivery")
			return nil
		}
		if err != nil {
			return domain.NewRetryableError(err)
		}
		defer func() {
			releaseCtx, cancel := context.WithTimeout(ctx, releaseTimeout)
			defer cancel()
			if relErr := lease.Release(releaseCtx); relErr != nil {
				log.Warn("Failed to release job lock", slog.Any("error", relErr))
			}
		}()
	}

	job, err := withStoreTimeout(ctx, w.storeTimeout, func(ctx context.Context) (*domain.Job, error) {
		return w.store.GetJob(ctx, msg.JobID)
	})
	rowExists := true
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		log.Warn("Job row not found, processing from message payload")
		rowExists = false
		source := msg.Job()
		job = &source
	case err != nil:
		return domain.NewRetryableError(fmt.Errorf("failed to load job: %w", err))
	}

	if rowExists && job.Status.IsTerminal() {
		log.Info("Job already terminal, skipping redelivery", slog.String("status", string(job.Status)))
		return nil
	}

	if rowExists {
		_, err := withStoreTimeout(ctx, w.storeTimeout, func(ctx context.Context) (bool, error) {
			return w.store.Transition(ctx, job.JobID, domain.JobStatusProcessing, domain.TransitionUpdate{})
		})
		if err != nil {
			if errors.Is(err, domain.ErrInvalidTransition) {
				log.Info("Job moved to a terminal status concurrently, skipping", slog.Any("error", err))
				return nil
			}
			return domain.NewRetryableError(fmt.Errorf("failed to mark job processing: %w", err))
		}
	}

	log.Info("Processing job",
		slog.String("content_type", string(job.Kind)),
		slog.Bool("redelivered", msg.Delivery.Redelivered),
	)

	content, genErr := w.runGeneration(ctx, job, rowExists, lease)
	if genErr == nil {
		applied, persistErr := w.persistResult(ctx, rowExists, content)
		switch {
		case persistErr == nil:
			outcome = metrics.OutcomeCompleted
			log.Info("Job completed",
				slog.String("content_id", content.ContentID),
				slog.String("sentiment", string(content.Sentiment)),
				slog.Duration("took", time.Since(start)),
			)
			if applied || !rowExists {
				w.publishEvent(ctx, domain.NewLifecycleEvent(job.JobID, job.OwnerID, domain.JobStatusCompleted, ""))
			}
			return nil
		case errors.Is(persistErr, domain.ErrInvalidTransition):
			log.Info("Job reached a terminal status before the result was saved", slog.Any("error", persistErr))
			return nil
		default:
			genErr = fmt.Errorf("failed to save generated content: %w", persistErr)
		}
	}

	outcome = metrics.OutcomeFailed
	w.markFailed(ctx, log, job, rowExists, genErr.Error())
	return nil
}

// runGeneration generates content and classifies its sentiment under the job timeout
// while a heartbeat keeps the row and the lock fresh
func (w *Worker) runGeneration(ctx context.Context, job *domain.Job, rowExists bool, lease Lease) (*domain.Content, error) {
	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	heartbeatDone := make(chan struct{})
	go w.sendJobHeartbeat(jobCtx, job.JobID, rowExists, lease, heartbeatDone)
	defer close(heartbeatDone)

	generated, err := w.generator.Generate(jobCtx, job.Prompt, job.Kind)
	if err != nil {
		return nil, timeoutError(err, w.jobTimeout)
	}

	sentiment, err := w.generator.ClassifySentiment(jobCtx, generated.Body)
	if err != nil {
		return nil, timeoutError(err, w.jobTimeout)
	}

	return &domain.Content{
		ContentID: uuid.NewString(),
		OwnerID:   job.OwnerID,
		JobID:     job.JobID,
		Kind:      job.Kind,
		Prompt:    job.Prompt,
		Title:     generated.Title,
		Body:      generated.Body,
		Sentiment: sentiment,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// persistResult saves the content and, when the row exists, links it and completes the job
func (w *Worker) persistResult(ctx context.Context, rowExists bool, content *domain.Content) (bool, error) {
	return withStoreTimeout(ctx, w.storeTimeout, func(ctx context.Context) (bool, error) {
		if !rowExists {
			return false, w.store.CreateContent(ctx, content)
		}
		return w.store.CompleteJob(ctx, content.JobID, content)
	})
}

// markFailed records the failure. Errors are logged and never returned.
func (w *Worker) markFailed(ctx context.Context, log *slog.Logger, job *domain.Job, rowExists bool, reason string) {
	log.Error("Job failed", slog.String("error", reason))

	if !rowExists {
		w.publishEvent(ctx, domain.NewLifecycleEvent(job.JobID, job.OwnerID, domain.JobStatusFailed, reason))
		return
	}

	applied, err := withStoreTimeout(ctx, w.storeTimeout, func(ctx context.Context) (bool, error) {
		return w.store.Transition(ctx, job.JobID, domain.JobStatusFailed, domain.TransitionUpdate{Error: reason})
	})
	if err != nil {
		log.Error("Failed to update job status to failed", slog.Any("error", err))
		return
	}

	if applied {
		w.publishEvent(ctx, domain.NewLifecycleEvent(job.JobID, job.OwnerID, domain.JobStatusFailed, reason))
	}
}

// sendJobHeartbeat keeps updated_at fresh for the sweeper and extends the job lock
func (w *Worker) sendJobHeartbeat(ctx context.Context, jobID string, rowExists bool, lease Lease, done <-chan struct{}) {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return

		case <-ctx.Done():
			return

		case <-ticker.C:
			if rowExists {
				_, err := withStoreTimeout(ctx, w.storeTimeout, func(ctx context.Context) (struct{}, error) {
					return struct{}{}, w.store.Touch(ctx, jobID)
				})
				if err != nil {
					w.logger.Warn("Failed to update job heartbeat",
						slog.String("job_id", jobID),
						slog.Any("error", err),
					)
				}
			}

			if lease != nil {
				if err := lease.Extend(ctx, w.lockTTL); err != nil {
					w.logger.Warn("Failed to extend job lock",
						slog.String("job_id", jobID),
						slog.Any("error", err),
					)
				}
			}
		}
	}
}

// withStoreTimeout runs one store call under its own deadline
func withStoreTimeout[T any](ctx context.Context, timeout time.Duration, call func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return call(ctx)
}
