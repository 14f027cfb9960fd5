package outbox

import (
	"context"
	"log/slog"
	"time"

	"togoretrouve/internal/platform/kafka/consumer"
	"togoretrouve/internal/platform/kafka/producer"
)

// Sink receives a batch of claimed events.
type Sink interface {
	Send(ctx context.Context, events []Event) error
}

// KafkaSink produces events to the topic mapped from their aggregate type.
// The aggregate id is the record key, so one conversation stays on one partition.
type KafkaSink struct {
	producer *producer.Producer
	topics   map[string]string
}

func NewKafkaSink(p *producer.Producer, topics map[string]string) *KafkaSink {
	return &KafkaSink{producer: p, topics: topics}
}

func (s *KafkaSink) Send(ctx context.Context, events []Event) error {
	msgs := make([]producer.Message, 0, len(events))
	for _, e := range events {
		topic, ok := s.topics[e.AggregateType]
		if !ok {
			continue
		}
		msgs = append(msgs, producer.Message{
			Topic: topic,
			Key:   []byte(e.AggregateID),
			Value: e.Payload,
			Headers: map[string]string{
				HeaderEventType: e.EventType,
				HeaderEventID:   e.ID.String(),
			},
		})
	}
	if len(msgs) == 0 {
		return nil
	}
	return s.producer.Publish(ctx, msgs...)
}

// LocalSink hands events straight to a consumer handler in this process.
// Handler errors are logged and the event is considered delivered.
type LocalSink struct {
	handler consumer.Handler
	logger  *slog.Logger
}

func NewLocalSink(handler consumer.Handler, logger *slog.Logger) *LocalSink {
	return &LocalSink{handler: handler, logger: logger}
}

func (s *LocalSink) Send(ctx context.Context, events []Event) error {
	for _, e := range events {
		msg := &consumer.Message{
			Topic: e.AggregateType,
			Key:   []byte(e.AggregateID),
			Value: e.Payload,
			Headers: map[string]string{
				HeaderEventType: e.EventType,
				HeaderEventID:   e.ID.String(),
			},
		}
		if err := s.handler.Handle(ctx, msg); err != nil {
			s.logger.WarnContext(ctx, "local event handler failed", "event_type", e.EventType, "error", err)
		}
	}
	return nil
}

// Relay polls a Source and forwards claimed batches to a Sink.
type Relay struct {
	source   Source
	sink     Sink
	interval time.Duration
	batch    int
	logger   *slog.Logger
	metrics  *Metrics
}

type Option func(*Relay)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		r.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(r *Relay) {
		r.metrics = m
	}
}

func WithInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batch = n
		}
	}
}

func NewRelay(source Source, sink Sink, opts ...Option) *Relay {
	r := &Relay{
		source:   source,
		sink:     sink,
		interval: 500 * time.Millisecond,
		batch:    100,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run relays until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "outbox relay started", "interval", r.interval, "batch", r.batch)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Drain(ctx)
		}
	}
}

// Drain relays full batches until the source runs dry or a send fails.
func (r *Relay) Drain(ctx context.Context) int {
	total := 0
	for {
		n, err := r.source.Claim(ctx, r.batch, r.sink.Send)
		if err != nil {
			if ctx.Err() == nil {
				r.logger.WarnContext(ctx, "outbox relay failed, will retry", "error", err)
				if r.metrics != nil {
					r.metrics.IncRelayFailures()
				}
			}
			return total
		}
		total += n
		if r.metrics != nil && n > 0 {
			r.metrics.AddRelayed(n)
		}
		if n < r.batch {
			return total
		}
	}
}
