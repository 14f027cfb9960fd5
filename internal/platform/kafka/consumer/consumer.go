// Package consumer runs a franz-go group consumer that hands each record to a Handler.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Message is a consumed record.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
}

// Handler processes one message. Returning an error leaves the offset
// uncommitted so the record is redelivered after a rebalance or restart.
type Handler interface {
	Handle(ctx context.Context, msg *Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg *Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg *Message) error { return f(ctx, msg) }

// Config configures a Consumer.
type Config struct {
	Brokers []string
	Group   string
	Topics  []string
	// FromEnd starts a new group at the latest offset instead of the earliest.
	FromEnd bool
}

// Consumer polls records and commits offsets after successful handling.
type Consumer struct {
	client  *kgo.Client
	handler Handler
	logger  *slog.Logger
}

// New creates a group consumer.
func New(cfg Config, handler Handler, logger *slog.Logger) (*Consumer, error) {
	offset := kgo.NewOffset().AtStart()
	if cfg.FromEnd {
		offset = kgo.NewOffset().AtEnd()
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.Group),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.ConsumeResetOffset(offset),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	return &Consumer{client: client, handler: handler, logger: logger}, nil
}

// Run polls until ctx is cancelled or the client is closed.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			if errors.Is(err, context.Canceled) {
				return
			}
			c.logger.ErrorContext(ctx, "kafka fetch error",
				"topic", topic,
				"partition", partition,
				"error", err,
			)
		})

		var handled []*kgo.Record
		fetches.EachRecord(func(rec *kgo.Record) {
			msg := &Message{
				Topic:     rec.Topic,
				Partition: rec.Partition,
				Offset:    rec.Offset,
				Key:       rec.Key,
				Value:     rec.Value,
				Headers:   make(map[string]string, len(rec.Headers)),
			}
			for _, h := range rec.Headers {
				msg.Headers[h.Key] = string(h.Value)
			}
			if err := c.handler.Handle(ctx, msg); err != nil {
				c.logger.ErrorContext(ctx, "kafka handler failed",
					"topic", rec.Topic,
					"offset", rec.Offset,
					"error", err,
				)
				return
			}
			handled = append(handled, rec)
		})

		if len(handled) > 0 {
			if err := c.client.CommitRecords(ctx, handled...); err != nil && ctx.Err() == nil {
				c.logger.WarnContext(ctx, "kafka commit failed", "error", err)
			}
		}
	}
}

// Close leaves the group and closes the client.
func (c *Consumer) Close() {
	c.client.Close()
}
