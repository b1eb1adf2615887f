package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/cuongbtq/content-pipeline/internal/queue"
	"github.com/cuongbtq/content-pipeline/shared/metrics"
	amqp "github.com/rabbitmq/amqp091-go"
)

// setupConsumer starts consuming the work queue with the configured prefetch
func (w *Worker) setupConsumer() (<-chan amqp.Delivery, io.Closer, error) {
	deliveries, closer, err := w.source.Consume(w.workerID, w.prefetchCount)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	w.logger.Info("RabbitMQ consumer started",
		slog.String("consumer_tag", w.workerID),
		slog.Int("prefetch_count", w.prefetchCount),
	)

	return deliveries, closer, nil
}

// startMessageDispatcher decodes deliveries and hands them to the worker pool.
// It returns nil when ctx is cancelled and an error when the broker closes the channel.
func (w *Worker) startMessageDispatcher(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	w.logger.Info("Message dispatcher started",
		slog.String("worker_id", w.workerID),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled")
			return nil

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed")
				return errConsumerClosed
			}

			msg, err := decodeDelivery(delivery)
			if err != nil {
				w.logger.Error("Rejecting undecodable message",
					slog.String("message_id", delivery.MessageId),
					slog.Any("error", err),
				)
				w.metrics.AttemptFinished(metrics.OutcomeRejected, 0)
				// NACK without requeue - malformed messages go to the dead-letter queue
				if nackErr := delivery.Nack(false, false); nackErr != nil {
					w.logger.Error("Failed to NACK malformed message",
						slog.Any("error", nackErr),
					)
				}
				continue
			}

			select {
			case w.jobsChan <- msg:
				w.logger.Debug("Job dispatched to worker pool",
					slog.String("job_id", msg.JobID),
					slog.Uint64("delivery_tag", delivery.DeliveryTag),
					slog.Bool("redelivered", delivery.Redelivered),
				)
			case <-ctx.Done():
				w.logger.Info("Message dispatcher stopped while dispatching job")
				if nackErr := delivery.Nack(false, true); nackErr != nil {
					w.logger.Error("Failed to NACK message on shutdown",
						slog.Any("error", nackErr),
					)
				}
				return nil
			}
		}
	}
}

func decodeDelivery(delivery amqp.Delivery) (*jobMessage, error) {
	m, err := queue.DecodeMessage(delivery.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	if delivery.MessageId != "" && delivery.MessageId != m.JobID {
		return nil, fmt.Errorf("%w: message id %q does not match job id %q", ErrInvalidPayload, delivery.MessageId, m.JobID)
	}

	return &jobMessage{Message: m, Delivery: delivery}, nil
}
