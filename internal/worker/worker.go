package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/content-pipeline/internal/domain"
	"github.com/cuongbtq/content-pipeline/internal/generation"
	"github.com/cuongbtq/content-pipeline/internal/queue"
	"github.com/cuongbtq/content-pipeline/shared/metrics"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	// ErrInvalidPayload is returned for deliveries that cannot be decoded. They are dead-lettered.
	ErrInvalidPayload = errors.New("invalid job payload")

	errConsumerClosed = errors.New("rabbitmq delivery channel closed")
)

// JobStore is the subset of the job record store the worker writes to
type JobStore interface {
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	Transition(ctx context.Context, jobID string, to domain.Status, update domain.TransitionUpdate) (bool, error)
	CompleteJob(ctx context.Context, jobID string, content *domain.Content) (bool, error)
	CreateContent(ctx context.Context, content *domain.Content) error
	Touch(ctx context.Context, jobID string) error
}

// MessageSource delivers work queue messages
type MessageSource interface {
	Consume(consumerTag string, prefetch int) (<-chan amqp.Delivery, io.Closer, error)
}

// EventPublisher broadcasts lifecycle events
type EventPublisher interface {
	PublishLifecycle(ctx context.Context, event domain.LifecycleEvent) error
}

// Config holds worker configuration
type Config struct {
	Logger            *slog.Logger
	Store             JobStore
	Source            MessageSource
	Generator         generation.Generator
	Publisher         EventPublisher
	Locker            Locker
	Metrics           *metrics.Metrics
	WorkerID          string
	Concurrency       int
	PrefetchCount     int
	JobTimeout        time.Duration
	HeartbeatInterval time.Duration
	LockTTL           time.Duration
	// StoreTimeout bounds each job store write and event publish
	StoreTimeout time.Duration
}

// Worker consumes the work queue and runs the generation pipeline for each job
type Worker struct {
	logger            *slog.Logger
	store             JobStore
	source            MessageSource
	generator         generation.Generator
	publisher         EventPublisher
	locker            Locker
	metrics           *metrics.Metrics
	workerID          string
	concurrency       int
	prefetchCount     int
	jobTimeout        time.Duration
	heartbeatInterval time.Duration
	lockTTL           time.Duration
	storeTimeout      time.Duration
	jobsChan          chan *jobMessage
	wg                sync.WaitGroup
}

// jobMessage is a decoded delivery handed from the dispatcher to the pool
type jobMessage struct {
	queue.Message
	Delivery amqp.Delivery
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = "worker-" + uuid.NewString()[:8]
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	prefetch := cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = concurrency
	}

	jobTimeout := cfg.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = 5 * time.Minute
	}

	heartbeat := cfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}

	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = jobTimeout + heartbeat
	}

	storeTimeout := cfg.StoreTimeout
	if storeTimeout <= 0 {
		storeTimeout = 10 * time.Second
	}

	return &Worker{
		logger:            cfg.Logger,
		store:             cfg.Store,
		source:            cfg.Source,
		generator:         cfg.Generator,
		publisher:         cfg.Publisher,
		locker:            cfg.Locker,
		metrics:           cfg.Metrics,
		workerID:          workerID,
		concurrency:       concurrency,
		prefetchCount:     prefetch,
		jobTimeout:        jobTimeout,
		heartbeatInterval: heartbeat,
		lockTTL:           lockTTL,
		storeTimeout:      storeTimeout,
		jobsChan:          make(chan *jobMessage),
	}
}

// Start consumes until ctx is cancelled or the broker closes the consumer.
// In-flight jobs are finished before Start returns.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	deliveries, consumer, err := w.setupConsumer()
	if err != nil {
		return err
	}

	w.spawnWorkerPool(ctx)

	dispatchErr := w.startMessageDispatcher(ctx, deliveries)

	close(w.jobsChan)
	w.wg.Wait()

	if err := consumer.Close(); err != nil {
		w.logger.Warn("Failed to close consumer", slog.Any("error", err))
	}

	w.logger.Info("Worker stopped", slog.String("worker_id", w.workerID))
	return dispatchErr
}

func (w *Worker) publishEvent(ctx context.Context, event domain.LifecycleEvent) {
	if w.publisher == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, w.storeTimeout)
	defer cancel()

	if err := w.publisher.PublishLifecycle(ctx, event); err != nil {
		w.logger.Error("Failed to publish lifecycle event",
			slog.String("job_id", event.JobID),
			slog.String("status", string(event.Status)),
			slog.Any("error", err),
		)
		return
	}

	w.logger.Debug("Lifecycle event published",
		slog.String("job_id", event.JobID),
		slog.String("status", string(event.Status)),
	)
}

func timeoutError(err error, timeout time.Duration) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("generation timed out after %s: %w", timeout, err)
	}
	return err
}
