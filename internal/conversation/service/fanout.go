package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"togoretrouve/internal/outbox"
	"togoretrouve/internal/platform/kafka/consumer"
	"togoretrouve/internal/realtime"
)

// Broadcaster publishes to the sockets subscribed on this instance.
type Broadcaster interface {
	Publish(topic string, ev realtime.Event) int
}

// Fanout turns consumed chat events into live socket events. Every instance
// runs one, so each delivers to its own sockets only.
type Fanout struct {
	hub     Broadcaster
	logger  *slog.Logger
	metrics *Metrics
}

func NewFanout(hub Broadcaster, logger *slog.Logger, metrics *Metrics) *Fanout {
	return &Fanout{hub: hub, logger: logger, metrics: metrics}
}

// Register routes the chat event types to the fan-out.
func (f *Fanout) Register(r *outbox.Router) {
	r.Register(outbox.EventMessageCreated, consumer.HandlerFunc(f.handleMessageCreated))
	r.Register(outbox.EventMessagesRead, consumer.HandlerFunc(f.handleMessagesRead))
}

func (f *Fanout) handleMessageCreated(ctx context.Context, msg *consumer.Message) error {
	var payload MessageCreated
	if err := json.Unmarshal(msg.Value, &payload); err != nil || payload.Message == nil {
		// undecodable records are skipped, not redelivered
		f.logger.WarnContext(ctx, "dropping malformed chat event", "event_type", outbox.EventMessageCreated, "key", string(msg.Key), "error", err)
		return nil
	}
	topic := realtime.ConversationTopic(payload.Message.ConversationID)
	n := f.hub.Publish(topic, realtime.Event{Type: realtime.EventMessage, Data: payload.Message})
	f.delivered(ctx, realtime.EventMessage, n)
	return nil
}

func (f *Fanout) handleMessagesRead(ctx context.Context, msg *consumer.Message) error {
	var payload MessagesRead
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		f.logger.WarnContext(ctx, "dropping malformed chat event", "event_type", outbox.EventMessagesRead, "key", string(msg.Key), "error", err)
		return nil
	}
	topic := realtime.ConversationTopic(payload.ConversationID)
	n := f.hub.Publish(topic, realtime.Event{Type: realtime.EventMessagesRead, Data: payload})
	f.delivered(ctx, realtime.EventMessagesRead, n)
	return nil
}

func (f *Fanout) delivered(ctx context.Context, event string, n int) {
	if f.metrics != nil {
		f.metrics.IncFanout(event)
	}
	f.logger.DebugContext(ctx, "chat event fanned out", "event", event, "sockets", n)
}
