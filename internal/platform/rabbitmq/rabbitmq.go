// Package rabbitmq is a small AMQP 0-9-1 client: JSON publishing to a durable
// queue and a manual-ack consumer loop.
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const publishTimeout = 5 * time.Second

// Client owns one connection and one channel per direction.
type Client struct {
	conn   *amqp.Connection
	pubCh  *amqp.Channel
	pubMu  sync.Mutex
	queue  string
	logger *slog.Logger
}

// Dial connects and declares queue as durable.
func Dial(url, queue string, logger *slog.Logger) (*Client, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	return &Client{conn: conn, pubCh: ch, queue: queue, logger: logger}, nil
}

// Publish marshals message as JSON and publishes it to the client's queue.
func (c *Client) Publish(ctx context.Context, message any) error {
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	// amqp channels are not safe for concurrent publishing.
	c.pubMu.Lock()
	defer c.pubMu.Unlock()
	err = c.pubCh.PublishWithContext(ctx, "", c.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
		Timestamp:    time.Now(),
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", c.queue, err)
	}
	return nil
}

// Consume delivers every message to handler until ctx is cancelled.
// A handler error nacks without requeue so malformed messages cannot loop.
func (c *Client) Consume(ctx context.Context, handler func(ctx context.Context, body []byte) error) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("open consumer channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(32, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("rabbitmq delivery channel closed")
			}
			if err := handler(ctx, d.Body); err != nil {
				c.logger.WarnContext(ctx, "rabbitmq message rejected",
					"queue", c.queue,
					"error", err,
				)
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// Close closes the publish channel and the connection.
func (c *Client) Close() {
	if c.pubCh != nil {
		_ = c.pubCh.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}
