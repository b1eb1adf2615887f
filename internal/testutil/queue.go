package testutil

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/cuongbtq/content-pipeline/internal/domain"
	"github.com/cuongbtq/content-pipeline/internal/queue"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Settlement outcomes recorded by MemoryQueue
const (
	Acked     = "ack"
	Requeued  = "requeue"
	Discarded = "discard"
)

// Enqueued is a recorded Enqueue call
type Enqueued struct {
	Message queue.Message
	Delay   time.Duration
}

// MemoryQueue is an in-process work queue and lifecycle event bus. Deliveries carry
// the queue itself as acknowledger; requeued deliveries are redelivered immediately.
type MemoryQueue struct {
	mu          sync.Mutex
	deliveries  chan amqp.Delivery
	nextTag     uint64
	inflight    map[uint64]amqp.Delivery
	settled     map[uint64]string
	enqueued    []Enqueued
	events      []domain.LifecycleEvent
	subscribers map[*MemorySubscription]struct{}
	EnqueueErr  error
	PublishErr  error
}

// NewMemoryQueue creates an empty queue
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		deliveries:  make(chan amqp.Delivery, 128),
		inflight:    make(map[uint64]amqp.Delivery),
		settled:     make(map[uint64]string),
		subscribers: make(map[*MemorySubscription]struct{}),
	}
}

// Enqueue records msg and makes it available to consumers without waiting for delay
func (q *MemoryQueue) Enqueue(_ context.Context, msg queue.Message, delay time.Duration) error {
	q.mu.Lock()
	if q.EnqueueErr != nil {
		err := q.EnqueueErr
		q.mu.Unlock()
		return err
	}
	q.enqueued = append(q.enqueued, Enqueued{Message: msg, Delay: delay})
	q.mu.Unlock()

	body, err := msg.Encode()
	if err != nil {
		return err
	}
	q.Deliver(amqp.Delivery{MessageId: msg.JobID, ContentType: "application/json", Body: body})
	return nil
}

// Deliver pushes a raw delivery to consumers and returns its delivery tag
func (q *MemoryQueue) Deliver(d amqp.Delivery) uint64 {
	q.mu.Lock()
	q.nextTag++
	d.DeliveryTag = q.nextTag
	d.Acknowledger = q
	q.inflight[d.DeliveryTag] = d
	q.mu.Unlock()

	q.deliveries <- d
	return d.DeliveryTag
}

// Consume returns the shared delivery channel
func (q *MemoryQueue) Consume(string, int) (<-chan amqp.Delivery, io.Closer, error) {
	return q.deliveries, nopCloser{}, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

var _ io.Closer = nopCloser{}

// Enqueued returns every recorded Enqueue call
func (q *MemoryQueue) Enqueued() []Enqueued {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Enqueued(nil), q.enqueued...)
}

// Settled returns the outcome recorded for a delivery tag, or "" while unsettled
func (q *MemoryQueue) Settled(tag uint64) string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.settled[tag]
}

// SettledCount returns how many deliveries were settled with outcome
func (q *MemoryQueue) SettledCount(outcome string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, o := range q.settled {
		if o == outcome {
			n++
		}
	}
	return n
}

func (q *MemoryQueue) Ack(tag uint64, _ bool) error {
	q.settle(tag, Acked)
	return nil
}

func (q *MemoryQueue) Nack(tag uint64, _ bool, requeue bool) error {
	q.reject(tag, requeue)
	return nil
}

func (q *MemoryQueue) Reject(tag uint64, requeue bool) error {
	q.reject(tag, requeue)
	return nil
}

func (q *MemoryQueue) reject(tag uint64, requeue bool) {
	if !requeue {
		q.settle(tag, Discarded)
		return
	}

	q.mu.Lock()
	d, ok := q.inflight[tag]
	q.mu.Unlock()

	q.settle(tag, Requeued)
	if ok {
		d.Redelivered = true
		q.Deliver(d)
	}
}

func (q *MemoryQueue) settle(tag uint64, outcome string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, tag)
	q.settled[tag] = outcome
}

// PublishLifecycle records event and fans it out to current subscribers
func (q *MemoryQueue) PublishLifecycle(_ context.Context, event domain.LifecycleEvent) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.PublishErr != nil {
		return q.PublishErr
	}

	q.events = append(q.events, event)
	for sub := range q.subscribers {
		select {
		case sub.events <- event:
		default:
		}
	}
	return nil
}

// Events returns every published lifecycle event
func (q *MemoryQueue) Events() []domain.LifecycleEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]domain.LifecycleEvent(nil), q.events...)
}

// Subscribe starts receiving lifecycle events published from now on
func (q *MemoryQueue) Subscribe() *MemorySubscription {
	sub := &MemorySubscription{queue: q, events: make(chan domain.LifecycleEvent, 64)}

	q.mu.Lock()
	q.subscribers[sub] = struct{}{}
	q.mu.Unlock()

	return sub
}

// Subscribers returns the number of open subscriptions
func (q *MemoryQueue) Subscribers() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.subscribers)
}

// MemorySubscription is a lifecycle subscription on a MemoryQueue
type MemorySubscription struct {
	queue  *MemoryQueue
	events chan domain.LifecycleEvent
	once   sync.Once
}

func (s *MemorySubscription) Events() <-chan domain.LifecycleEvent {
	return s.events
}

// Close unsubscribes and closes the event channel. It is safe to call more than once.
func (s *MemorySubscription) Close() error {
	s.once.Do(func() {
		s.queue.mu.Lock()
		delete(s.queue.subscribers, s)
		close(s.events)
		s.queue.mu.Unlock()
	})
	return nil
}
