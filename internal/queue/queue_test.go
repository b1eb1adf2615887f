package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/content-pipeline/internal/domain"
	"github.com/cuongbtq/content-pipeline/shared/logger"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	exchange   string
	routingKey string
	msg        amqp.Publishing
}

type fakeBroker struct {
	mu        sync.Mutex
	published []published
	err       error
}

func (b *fakeBroker) Publish(_ context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.published = append(b.published, published{exchange: exchange, routingKey: routingKey, msg: msg})
	return nil
}

func (b *fakeBroker) Consume(string, int) (<-chan amqp.Delivery, *amqp.Channel, error) {
	return make(chan amqp.Delivery), nil, nil
}

func (b *fakeBroker) Subscribe(string) (<-chan amqp.Delivery, *amqp.Channel, error) {
	return make(chan amqp.Delivery), nil, nil
}

var testNames = Names{
	Exchange:       "content_exchange",
	RoutingKey:     "generate-content",
	DelayQueue:     "generate-content.delay",
	EventsExchange: "content_exchange.events",
}

func testMessage() Message {
	return Message{
		JobID:   "job-1",
		OwnerID: "user-1",
		Prompt:  "outline for a blog about cats",
		Kind:    domain.KindBlogOutline,
		DelayMs: 60000,
	}
}

func TestQueue_Enqueue(t *testing.T) {
	tests := []struct {
		name           string
		delay          time.Duration
		wantExchange   string
		wantRoutingKey string
		wantExpiration string
	}{
		{
			name:           "delayed message goes through the delay queue",
			delay:          time.Minute,
			wantExchange:   "",
			wantRoutingKey: "generate-content.delay",
			wantExpiration: "60000",
		},
		{
			name:           "zero delay goes straight to the work exchange",
			delay:          0,
			wantExchange:   "content_exchange",
			wantRoutingKey: "generate-content",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			broker := &fakeBroker{}
			q := New(broker, testNames, logger.NewNop().Logger)

			require.NoError(t, q.Enqueue(context.Background(), testMessage(), tt.delay))
			require.Len(t, broker.published, 1)

			p := broker.published[0]
			assert.Equal(t, tt.wantExchange, p.exchange)
			assert.Equal(t, tt.wantRoutingKey, p.routingKey)
			assert.Equal(t, tt.wantExpiration, p.msg.Expiration)
			assert.Equal(t, "job-1", p.msg.MessageId, "message id is the job id")
			assert.Equal(t, amqp.Persistent, p.msg.DeliveryMode)

			decoded, err := DecodeMessage(p.msg.Body)
			require.NoError(t, err)
			assert.Equal(t, "user-1", decoded.OwnerID)
		})
	}
}

func TestQueue_EnqueueBrokerError(t *testing.T) {
	broker := &fakeBroker{err: errors.New("connection reset")}
	q := New(broker, testNames, logger.NewNop().Logger)

	err := q.Enqueue(context.Background(), testMessage(), time.Minute)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job-1")
}

func TestQueue_PublishLifecycle(t *testing.T) {
	broker := &fakeBroker{}
	q := New(broker, testNames, logger.NewNop().Logger)

	event := domain.NewLifecycleEvent("job-1", "user-1", domain.JobStatusFailed, "upstream unavailable")
	require.NoError(t, q.PublishLifecycle(context.Background(), event))

	require.Len(t, broker.published, 1)
	p := broker.published[0]
	assert.Equal(t, "content_exchange.events", p.exchange)
	assert.Equal(t, MessageTypeLifecycle, p.msg.Type)

	var got domain.LifecycleEvent
	require.NoError(t, json.Unmarshal(p.msg.Body, &got))
	assert.Equal(t, event.JobID, got.JobID)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	assert.Equal(t, "upstream unavailable", got.Error)
}

func TestDecodeMessage(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{name: "valid", body: `{"job_id":"j","owner_id":"u","prompt":"p","content_type":"social_caption"}`},
		{name: "not json", body: `not json`, wantErr: true},
		{name: "missing job id", body: `{"prompt":"p","content_type":"social_caption"}`, wantErr: true},
		{name: "missing prompt", body: `{"job_id":"j","content_type":"social_caption"}`, wantErr: true},
		{name: "unknown kind", body: `{"job_id":"j","prompt":"p","content_type":"poem"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeMessage([]byte(tt.body))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedMessage)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

type closeFunc func() error

func (f closeFunc) Close() error { return f() }

func TestSubscription(t *testing.T) {
	deliveries := make(chan amqp.Delivery)
	var closed int
	sub := newSubscription(deliveries, closeFunc(func() error {
		closed++
		close(deliveries)
		return nil
	}), logger.NewNop().Logger)

	body, err := json.Marshal(domain.NewLifecycleEvent("job-1", "user-1", domain.JobStatusCompleted, ""))
	require.NoError(t, err)

	go func() {
		deliveries <- amqp.Delivery{Body: []byte("garbage")}
		deliveries <- amqp.Delivery{Body: body}
	}()

	select {
	case event := <-sub.Events():
		assert.Equal(t, "job-1", event.JobID)
		assert.Equal(t, domain.JobStatusCompleted, event.Status)
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	assert.Equal(t, 1, closed)

	_, ok := <-sub.Events()
	assert.False(t, ok, "events channel closes after Close")
}
