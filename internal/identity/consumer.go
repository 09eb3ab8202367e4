package identity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	consumerTag      = "labsync-identity"
	reconnectBackoff = 5 * time.Second
)

// Consumer drains the identity provider's AMQP feed and applies each event.
// The broker redelivers on nack, so Apply's idempotency check does the
// dedupe work.
type Consumer struct {
	url       string
	queue     string
	processor *Processor
	log       *slog.Logger
}

func NewConsumer(url, queue string, processor *Processor, log *slog.Logger) *Consumer {
	if log == nil {
		log = slog.Default()
	}
	return &Consumer{url: url, queue: queue, processor: processor, log: log}
}

// Run consumes until ctx is cancelled, reconnecting with a fixed backoff on
// broker failures.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		err := c.consume(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn("identity consumer disconnected", "queue", c.queue, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectBackoff):
		}
	}
}

func (c *Consumer) consume(ctx context.Context) error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}
	defer conn.Close()

	channel, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer channel.Close()

	if _, err := channel.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", c.queue, err)
	}
	if err := channel.Qos(16, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := channel.Consume(c.queue, consumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.queue, err)
	}
	c.log.Info("identity consumer connected", "queue", c.queue)

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case reason := <-closed:
			return fmt.Errorf("connection closed: %v", reason)
		case delivery, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			if err := c.processor.Apply(delivery.Body); err != nil {
				c.log.Error("identity event failed", "error", err)
				// Malformed payloads would fail forever; drop them.
				_ = delivery.Nack(false, false)
				continue
			}
			_ = delivery.Ack(false)
		}
	}
}
