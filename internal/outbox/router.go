package outbox

import (
	"context"
	"log/slog"

	"togoretrouve/internal/platform/kafka/consumer"
)

// Router dispatches consumed records to the handler registered for their
// event type header.
type Router struct {
	handlers map[string]consumer.Handler
	fallback consumer.Handler
	logger   *slog.Logger
}

// NewRouter creates an event router with an optional fallback handler.
func NewRouter(logger *slog.Logger, fallback consumer.Handler) *Router {
	return &Router{
		handlers: make(map[string]consumer.Handler),
		fallback: fallback,
		logger:   logger,
	}
}

func (r *Router) Register(eventType string, handler consumer.Handler) {
	r.handlers[eventType] = handler
}

func (r *Router) Handle(ctx context.Context, msg *consumer.Message) error {
	eventType := msg.Headers[HeaderEventType]
	handler, ok := r.handlers[eventType]
	if !ok {
		if r.fallback != nil {
			return r.fallback.Handle(ctx, msg)
		}
		r.logger.Debug("no handler for event, skipping",
			"event_type", eventType,
			"key", string(msg.Key),
		)
		// commit so the record is not redelivered
		return nil
	}
	return handler.Handle(ctx, msg)
}
