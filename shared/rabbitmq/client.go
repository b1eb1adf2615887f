package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrNotConnected is returned when the client has been closed or lost its connection
var ErrNotConnected = errors.New("not connected to RabbitMQ")

const maxReconnectDelay = 30 * time.Second

// Config holds RabbitMQ connection configuration
type Config struct {
	URL                string
	ExchangeName       string
	ExchangeType       string
	ExchangeDurable    bool
	ExchangeAutoDelete bool
	EventsExchangeName string
	QueueName          string
	QueueDurable       bool
	QueueAutoDelete    bool
	QueueExclusive     bool
	DelayQueueName     string
	DeadLetterQueue    string
	ConsumerTimeout    time.Duration
	RoutingKey         string
	RetryAttempts      int
	RetryInterval      time.Duration
	Heartbeat          time.Duration
	ConnectionTimeout  time.Duration
	PublishRetries     int
	PublishRetryDelay  time.Duration
	PublishBackoffMult float64
}

// Client owns one AMQP connection, a confirm-mode publish channel and the declared topology.
// Consumers and subscriptions get their own channels. A lost connection is re-established
// in the background; consumers and subscriptions must be reopened by their owners.
type Client struct {
	config *Config
	logger *slog.Logger

	publishMu sync.Mutex

	mu          sync.RWMutex
	conn        *amqp.Connection
	channel     *amqp.Channel
	isConnected bool

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient creates a new RabbitMQ client
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	client := &Client{
		config: config,
		logger: logger,
		done:   make(chan struct{}),
	}

	if err := client.connect(); err != nil {
		return nil, fmt.Errorf("failed to create RabbitMQ client: %w", err)
	}

	return client, nil
}

// connect establishes connection to RabbitMQ with retry logic
func (c *Client) connect() error {
	var (
		conn *amqp.Connection
		err  error
	)

	amqpConfig := amqp.Config{
		Heartbeat: c.config.Heartbeat,
		Locale:    "en_US",
	}
	if c.config.ConnectionTimeout > 0 {
		amqpConfig.Dial = amqp.DefaultDial(c.config.ConnectionTimeout)
	}

	attempts := c.config.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		c.logger.Info("Connecting to RabbitMQ",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
		)

		conn, err = amqp.DialConfig(c.config.URL, amqpConfig)
		if err == nil {
			c.logger.Info("Successfully connected to RabbitMQ")
			break
		}

		c.logger.Error("Failed to connect to RabbitMQ",
			slog.Any("error", err),
			slog.Int("attempt", attempt),
		)

		if attempt < attempts {
			time.Sleep(c.config.RetryInterval)
		}
	}

	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempts, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create channel: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	if err := c.setup(ch); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to setup exchange and queue: %w", err)
	}

	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		ch.Close()
		conn.Close()
		return ErrNotConnected
	default:
	}
	c.conn, c.channel, c.isConnected = conn, ch, true
	c.mu.Unlock()

	go c.watch(conn.NotifyClose(make(chan *amqp.Error, 1)))

	c.logger.Info("RabbitMQ client initialized",
		slog.String("exchange", c.config.ExchangeName),
		slog.String("queue", c.config.QueueName),
		slog.String("delay_queue", c.config.DelayQueueName),
		slog.String("events_exchange", c.config.EventsExchangeName),
	)

	return nil
}

// watch marks the client disconnected when the connection closes and reconnects
// unless the close was requested through Close
func (c *Client) watch(closed <-chan *amqp.Error) {
	err, ok := <-closed
	c.setConnected(false)
	if !ok || err == nil {
		return
	}

	c.logger.Error("RabbitMQ connection lost, reconnecting", slog.Any("error", err))
	c.reconnect(c.connect)
}

// reconnect calls connect with capped exponential backoff until it succeeds or the
// client is closed. It reports whether a connection was re-established.
func (c *Client) reconnect(connect func() error) bool {
	for attempt := 0; ; attempt++ {
		delay := min(BackoffDelay(c.config.RetryInterval, 2, min(attempt, 10)), maxReconnectDelay)

		select {
		case <-c.done:
			return false
		case <-time.After(delay):
		}

		if err := connect(); err != nil {
			c.logger.Error("Failed to reconnect to RabbitMQ",
				slog.Int("attempt", attempt+1),
				slog.Any("error", err),
			)
			continue
		}

		c.logger.Info("Reconnected to RabbitMQ", slog.Int("attempt", attempt+1))
		return true
	}
}

func (c *Client) connection() *amqp.Connection {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.isConnected = v
	c.mu.Unlock()
}

// setup declares the work exchange and queue, the delay and dead-letter queues
// and the lifecycle events exchange
func (c *Client) setup(ch *amqp.Channel) error {
	err := ch.ExchangeDeclare(
		c.config.ExchangeName,       // name
		c.config.ExchangeType,       // type
		c.config.ExchangeDurable,    // durable
		c.config.ExchangeAutoDelete, // auto-deleted
		false,                       // internal
		false,                       // no-wait
		nil,                         // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	if c.config.DeadLetterQueue != "" {
		_, err = ch.QueueDeclare(c.config.DeadLetterQueue, true, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("failed to declare dead-letter queue: %w", err)
		}
	}

	_, err = ch.QueueDeclare(
		c.config.QueueName,       // name
		c.config.QueueDurable,    // durable
		c.config.QueueAutoDelete, // auto-delete
		c.config.QueueExclusive,  // exclusive
		false,                    // no-wait
		WorkQueueArgs(c.config),  // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	err = ch.QueueBind(
		c.config.QueueName,    // queue name
		c.config.RoutingKey,   // routing key
		c.config.ExchangeName, // exchange
		false,                 // no-wait
		nil,                   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	if c.config.DelayQueueName != "" {
		_, err = ch.QueueDeclare(c.config.DelayQueueName, true, false, false, false, DelayQueueArgs(c.config))
		if err != nil {
			return fmt.Errorf("failed to declare delay queue: %w", err)
		}
	}

	if c.config.EventsExchangeName != "" {
		err = ch.ExchangeDeclare(c.config.EventsExchangeName, amqp.ExchangeFanout, true, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("failed to declare events exchange: %w", err)
		}
	}

	return nil
}

// WorkQueueArgs builds the work queue arguments: dead-lettering of rejected messages
// and the broker-side acknowledgement deadline
func WorkQueueArgs(config *Config) amqp.Table {
	args := amqp.Table{}
	if config.DeadLetterQueue != "" {
		args["x-dead-letter-exchange"] = ""
		args["x-dead-letter-routing-key"] = config.DeadLetterQueue
	}
	if config.ConsumerTimeout > 0 {
		args["x-consumer-timeout"] = config.ConsumerTimeout.Milliseconds()
	}
	if len(args) == 0 {
		return nil
	}
	return args
}

// DelayQueueArgs routes expired messages from the delay queue back to the work exchange
func DelayQueueArgs(config *Config) amqp.Table {
	return amqp.Table{
		"x-dead-letter-exchange":    config.ExchangeName,
		"x-dead-letter-routing-key": config.RoutingKey,
	}
}

// Publish publishes a message and waits for the broker confirmation, retrying with
// exponential backoff
func (c *Client) Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	maxRetries := c.config.PublishRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := c.publishOnce(ctx, exchange, routingKey, msg)
		if err == nil {
			if attempt > 0 {
				c.logger.Info("Successfully published message to RabbitMQ after retry",
					slog.Int("attempt", attempt+1),
					slog.String("message_id", msg.MessageId),
				)
			}
			return nil
		}

		lastErr = err

		if attempt < maxRetries {
			delay := BackoffDelay(c.config.PublishRetryDelay, c.config.PublishBackoffMult, attempt)
			c.logger.Warn("Failed to publish message to RabbitMQ, retrying...",
				slog.Int("attempt", attempt+1),
				slog.Int("max_retries", maxRetries),
				slog.Duration("retry_after", delay),
				slog.Any("error", err),
			)

			select {
			case <-ctx.Done():
				return fmt.Errorf("publish cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}
	}

	c.logger.Error("Failed to publish message to RabbitMQ after all retries",
		slog.Int("attempts", maxRetries+1),
		slog.Any("error", lastErr),
	)
	return fmt.Errorf("failed to publish message after %d attempts: %w", maxRetries+1, lastErr)
}

func (c *Client) publishOnce(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	c.mu.RLock()
	ch := c.channel
	c.mu.RUnlock()

	c.publishMu.Lock()
	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, exchange, routingKey, false, false, msg)
	c.publishMu.Unlock()
	if err != nil {
		return err
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !acked {
		return fmt.Errorf("broker nacked message %s", msg.MessageId)
	}
	return nil
}

// BackoffDelay returns base * mult^attempt with defaults for unset values
func BackoffDelay(base time.Duration, mult float64, attempt int) time.Duration {
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	if mult <= 0 {
		mult = 2.0
	}
	return time.Duration(float64(base) * math.Pow(mult, float64(attempt)))
}

// Consume opens a dedicated channel with the given prefetch and starts consuming the work queue.
// The returned channel is closed when the consumer channel closes.
func (c *Client) Consume(consumerTag string, prefetch int) (<-chan amqp.Delivery, *amqp.Channel, error) {
	if !c.IsConnected() {
		return nil, nil, ErrNotConnected
	}

	ch, err := c.connection().Channel()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open consumer channel: %w", err)
	}

	if prefetch > 0 {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			ch.Close()
			return nil, nil, fmt.Errorf("failed to set prefetch: %w", err)
		}
	}

	messages, err := ch.Consume(
		c.config.QueueName, // queue
		consumerTag,        // consumer tag
		false,              // auto-ack
		false,              // exclusive
		false,              // no-local
		false,              // no-wait
		nil,                // args
	)
	if err != nil {
		ch.Close()
		return nil, nil, fmt.Errorf("failed to consume messages: %w", err)
	}

	c.logger.Info("Started consuming messages from RabbitMQ",
		slog.String("queue", c.config.QueueName),
		slog.String("consumer_tag", consumerTag),
		slog.Int("prefetch", prefetch),
	)

	return messages, ch, nil
}

// Subscribe binds a server-named exclusive queue to the events exchange and consumes it with auto-ack.
// Closing the returned channel releases the queue.
func (c *Client) Subscribe(consumerTag string) (<-chan amqp.Delivery, *amqp.Channel, error) {
	if !c.IsConnected() {
		return nil, nil, ErrNotConnected
	}

	ch, err := c.connection().Channel()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open subscription channel: %w", err)
	}

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		ch.Close()
		return nil, nil, fmt.Errorf("failed to declare subscription queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, "", c.config.EventsExchangeName, false, nil); err != nil {
		ch.Close()
		return nil, nil, fmt.Errorf("failed to bind subscription queue: %w", err)
	}

	deliveries, err := ch.Consume(q.Name, consumerTag, true, true, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, nil, fmt.Errorf("failed to consume subscription queue: %w", err)
	}

	c.logger.Info("Subscribed to lifecycle events",
		slog.String("exchange", c.config.EventsExchangeName),
		slog.String("queue", q.Name),
	)

	return deliveries, ch, nil
}

// Close closes the RabbitMQ connection
func (c *Client) Close() error {
	c.logger.Info("Closing RabbitMQ connection")

	c.closeOnce.Do(func() {
		if c.done != nil {
			close(c.done)
		}
	})

	c.mu.Lock()
	conn, ch := c.conn, c.channel
	c.isConnected = false
	c.mu.Unlock()

	if ch != nil {
		if err := ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			c.logger.Error("Failed to close RabbitMQ channel",
				slog.Any("error", err),
			)
		}
	}

	if conn != nil && !conn.IsClosed() {
		if err := conn.Close(); err != nil {
			c.logger.Error("Failed to close RabbitMQ connection",
				slog.Any("error", err),
			)
			return err
		}
	}

	c.logger.Info("RabbitMQ connection closed successfully")
	return nil
}

// IsConnected returns the connection status
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected && c.conn != nil && !c.conn.IsClosed()
}
