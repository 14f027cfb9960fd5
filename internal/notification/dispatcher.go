package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"togoretrouve/internal/realtime"
	id "togoretrouve/pkg/domain"
)

// Consumer feeds queued message bodies to a handler until ctx is done.
type Consumer interface {
	Consume(ctx context.Context, handler func(ctx context.Context, body []byte) error) error
}

// UnreadCounter reports a user's unread notification count.
type UnreadCounter interface {
	UnreadCount(ctx context.Context, recipientID id.UserID) (int, error)
}

// Dispatcher pushes notifications and the refreshed unread count to the
// recipient's live sockets.
type Dispatcher struct {
	counter UnreadCounter
	pusher  Pusher
	logger  *slog.Logger
}

func NewDispatcher(counter UnreadCounter, pusher Pusher, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{counter: counter, pusher: pusher, logger: logger}
}

// Run consumes the queue until ctx is done.
func (d *Dispatcher) Run(ctx context.Context, c Consumer) error {
	d.logger.InfoContext(ctx, "notification dispatcher started")
	return c.Consume(ctx, d.Handle)
}

// Handle decodes one queued notification. Malformed bodies are rejected so
// the queue can dead-letter them.
func (d *Dispatcher) Handle(ctx context.Context, body []byte) error {
	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return fmt.Errorf("decode notification: %w", err)
	}
	if n.RecipientID.IsNil() {
		return fmt.Errorf("notification %s has no recipient", n.ID)
	}
	d.Deliver(ctx, &n)
	return nil
}

func (d *Dispatcher) Deliver(ctx context.Context, n *Notification) {
	if d.pusher == nil {
		return
	}
	d.pusher.PushToUser(n.RecipientID, realtime.Event{Type: realtime.EventNotification, Data: n})
	d.PushUnreadCount(ctx, n.RecipientID)
}

func (d *Dispatcher) PushUnreadCount(ctx context.Context, userID id.UserID) {
	if d.pusher == nil {
		return
	}
	count, err := d.counter.UnreadCount(ctx, userID)
	if err != nil {
		d.logger.WarnContext(ctx, "failed to count unread notifications", "user_id", userID, "error", err)
		return
	}
	d.pusher.PushToUser(userID, realtime.Event{Type: realtime.EventUnreadCount, Data: map[string]int{"count": count}})
}

// LocalQueue is the in-process queue used when RabbitMQ is not configured.
type LocalQueue struct {
	ch chan []byte
}

func NewLocalQueue(size int) *LocalQueue {
	if size <= 0 {
		size = 256
	}
	return &LocalQueue{ch: make(chan []byte, size)}
}

func (q *LocalQueue) Publish(_ context.Context, message any) error {
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	select {
	case q.ch <- body:
		return nil
	default:
		return fmt.Errorf("local notification queue full")
	}
}

func (q *LocalQueue) Consume(ctx context.Context, handler func(ctx context.Context, body []byte) error) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case body := <-q.ch:
			_ = handler(ctx, body)
		}
	}
}
