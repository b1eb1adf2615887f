package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/cuongbtq/content-pipeline/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	contentTypeJSON = "application/json"

	// MessageTypeGenerate marks work queue messages
	MessageTypeGenerate = "generate-content"
	// MessageTypeLifecycle marks lifecycle event messages
	MessageTypeLifecycle = "job-lifecycle"
)

// Broker is the transport the queue runs on. *rabbitmq.Client implements it.
type Broker interface {
	Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error
	Consume(consumerTag string, prefetch int) (<-chan amqp.Delivery, *amqp.Channel, error)
	Subscribe(consumerTag string) (<-chan amqp.Delivery, *amqp.Channel, error)
}

// Names identifies the exchanges and queues used by the work queue
type Names struct {
	Exchange       string
	RoutingKey     string
	DelayQueue     string
	EventsExchange string
}

// Queue is the delay-capable work queue plus the lifecycle event stream
type Queue struct {
	broker Broker
	names  Names
	logger *slog.Logger
}

// New creates a Queue over broker
func New(broker Broker, names Names, logger *slog.Logger) *Queue {
	return &Queue{
		broker: broker,
		names:  names,
		logger: logger,
	}
}

// Enqueue publishes msg so that it becomes visible to consumers no earlier than delay from now.
// Delayed messages wait in the delay queue until their per-message TTL expires and are then
// dead-lettered to the work exchange.
func (q *Queue) Enqueue(ctx context.Context, msg Message, delay time.Duration) error {
	body, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	pub := amqp.Publishing{
		ContentType:  contentTypeJSON,
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.JobID,
		Timestamp:    time.Now(),
		Type:         MessageTypeGenerate,
		Body:         body,
	}

	exchange, routingKey := q.names.Exchange, q.names.RoutingKey
	if delay > 0 && q.names.DelayQueue != "" {
		exchange, routingKey = "", q.names.DelayQueue
		pub.Expiration = strconv.FormatInt(delay.Milliseconds(), 10)
	}

	if err := q.broker.Publish(ctx, exchange, routingKey, pub); err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", msg.JobID, err)
	}

	q.logger.Debug("Job enqueued",
		slog.String("job_id", msg.JobID),
		slog.Duration("delay", delay),
	)

	return nil
}

// Consume starts a consumer on the work queue. Closing the returned io.Closer cancels the
// consumer and closes its channel; unacknowledged deliveries are then redelivered by the broker.
func (q *Queue) Consume(consumerTag string, prefetch int) (<-chan amqp.Delivery, io.Closer, error) {
	deliveries, ch, err := q.broker.Consume(consumerTag, prefetch)
	if err != nil {
		return nil, nil, err
	}
	return deliveries, &channelCloser{ch: ch, tag: consumerTag}, nil
}

// PublishLifecycle broadcasts a terminal transition on the events exchange
func (q *Queue) PublishLifecycle(ctx context.Context, event domain.LifecycleEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode lifecycle event: %w", err)
	}

	err = q.broker.Publish(ctx, q.names.EventsExchange, "", amqp.Publishing{
		ContentType:  contentTypeJSON,
		DeliveryMode: amqp.Transient,
		MessageId:    event.JobID,
		Timestamp:    event.OccurredAt,
		Type:         MessageTypeLifecycle,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish lifecycle event for job %s: %w", event.JobID, err)
	}
	return nil
}

// SubscribeLifecycle opens a new subscription to lifecycle events. Only events published
// after the call are received.
func (q *Queue) SubscribeLifecycle(consumerTag string) (*Subscription, error) {
	deliveries, ch, err := q.broker.Subscribe(consumerTag)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to lifecycle events: %w", err)
	}
	return newSubscription(deliveries, &channelCloser{ch: ch, tag: consumerTag}, q.logger), nil
}

// Subscription is a lazy, non-restartable stream of lifecycle events
type Subscription struct {
	events chan domain.LifecycleEvent
	closer io.Closer
	logger *slog.Logger
	once   sync.Once
	err    error
}

func newSubscription(deliveries <-chan amqp.Delivery, closer io.Closer, logger *slog.Logger) *Subscription {
	s := &Subscription{
		events: make(chan domain.LifecycleEvent),
		closer: closer,
		logger: logger,
	}
	go s.pump(deliveries)
	return s
}

func (s *Subscription) pump(deliveries <-chan amqp.Delivery) {
	defer close(s.events)

	for d := range deliveries {
		var event domain.LifecycleEvent
		if err := json.Unmarshal(d.Body, &event); err != nil {
			s.logger.Warn("Dropping undecodable lifecycle event",
				slog.String("message_id", d.MessageId),
				slog.Any("error", err),
			)
			continue
		}
		s.events <- event
	}
}

// Events returns the event stream. It is closed after Close or when the broker channel closes.
func (s *Subscription) Events() <-chan domain.LifecycleEvent {
	return s.events
}

// Close releases the broker subscription. It is safe to call more than once.
func (s *Subscription) Close() error {
	s.once.Do(func() {
		s.err = s.closer.Close()
		// unblock pump if nobody is reading
		go func() {
			for range s.events {
			}
		}()
	})
	return s.err
}

type channelCloser struct {
	ch  *amqp.Channel
	tag string
}

func (c *channelCloser) Close() error {
	if c.ch == nil {
		return nil
	}
	if err := c.ch.Cancel(c.tag, false); err != nil && err != amqp.ErrClosed {
		c.ch.Close()
		return fmt.Errorf("failed to cancel consumer %s: %w", c.tag, err)
	}
	if err := c.ch.Close(); err != nil && err != amqp.ErrClosed {
		return fmt.Errorf("failed to close channel: %w", err)
	}
	return nil
}
