package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Priya8975/pushhub/internal/queue"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ConsumerConfig configures the RabbitMQ consumer.
type ConsumerConfig struct {
	URL       string
	QueueName string
	Logger    *slog.Logger
}

// Consumer reads content events from RabbitMQ and enqueues the matching
// hub jobs. A message is acked once its job is in the job queue.
type Consumer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
	jobs    queue.Enqueuer
	logger  *slog.Logger
	mu      sync.Mutex
	closed  bool
}

type disposition int

const (
	ack disposition = iota
	reject
	requeue
)

func NewConsumer(cfg ConsumerConfig, jobs queue.Enqueuer) (*Consumer, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connecting to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}

	_, err = ch.QueueDeclare(
		cfg.QueueName,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declaring queue %s: %w", cfg.QueueName, err)
	}

	cfg.Logger.Info("rabbitmq consumer connected", "queue", cfg.QueueName)

	return &Consumer{
		conn:    conn,
		channel: ch,
		queue:   cfg.QueueName,
		jobs:    jobs,
		logger:  cfg.Logger,
	}, nil
}

// Start consumes until ctx is cancelled or the broker closes the channel.
func (c *Consumer) Start(ctx context.Context) error {
	if err := c.channel.Qos(1, 0, false); err != nil {
		return fmt.Errorf("setting qos: %w", err)
	}

	msgs, err := c.channel.Consume(
		c.queue,
		"",    // consumer tag (auto-generated)
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("starting consumer: %w", err)
	}

	c.logger.Info("consuming content events", "queue", c.queue)

	for {
		select {
		case <-ctx.Done():
			return nil

		case msg, ok := <-msgs:
			if !ok {
				return errors.New("rabbitmq delivery channel closed")
			}
			c.settle(msg, c.handle(ctx, msg.Body))
		}
	}
}

func (c *Consumer) settle(msg amqp.Delivery, d disposition) {
	var err error
	switch d {
	case ack:
		err = msg.Ack(false)
	case reject:
		err = msg.Nack(false, false)
	case requeue:
		err = msg.Nack(false, true)
	}
	if err != nil {
		c.logger.Error("settling message", "delivery_tag", msg.DeliveryTag, "error", err)
	}
}

func (c *Consumer) handle(ctx context.Context, body []byte) disposition {
	job, err := Route(body)
	if err != nil {
		c.logger.Warn("rejecting content event", "error", err)
		return reject
	}

	if err := c.jobs.Enqueue(ctx, job); err != nil {
		c.logger.Error("enqueueing job from content event",
			"kind", job.Kind,
			"job_id", job.ID,
			"error", err,
		)
		return requeue
	}

	c.logger.Debug("content event enqueued", "kind", job.Kind, "job_id", job.ID)
	return ack
}

// Close closes the channel and the connection. It is safe to call twice.
func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	if err := c.channel.Close(); err != nil {
		c.logger.Warn("closing rabbitmq channel", "error", err)
	}
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("closing rabbitmq connection: %w", err)
	}
	c.logger.Info("rabbitmq consumer closed")
	return nil
}
