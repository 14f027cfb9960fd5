package notification

import (
	"context"
	"errors"
	"log/slog"

	"togoretrouve/internal/realtime"
	id "togoretrouve/pkg/domain"
	dErrors "togoretrouve/pkg/domain-errors"
	"togoretrouve/pkg/platform/circuit"
	"togoretrouve/pkg/platform/sentinel"
	"togoretrouve/pkg/requestcontext"
)

// Queue carries stored notifications to the dispatcher.
type Queue interface {
	Publish(ctx context.Context, message any) error
}

// Pusher delivers live events to the sockets a user has open on this instance.
type Pusher interface {
	PushToUser(userID id.UserID, ev realtime.Event) int
}

// FailureCounter counts swallowed side-effect failures.
type FailureCounter interface {
	SideEffectFailed(kind string)
}

type Service struct {
	store      Store
	queue      Queue
	dispatcher *Dispatcher
	breaker    *circuit.Breaker
	logger     *slog.Logger
	metrics    FailureCounter
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m FailureCounter) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithQueue routes live delivery through q. While q keeps failing the
// breaker opens and notifications are pushed by the local dispatcher.
func WithQueue(q Queue, breaker *circuit.Breaker) Option {
	return func(s *Service) {
		s.queue = q
		s.breaker = breaker
	}
}

func NewService(store Store, pusher Pusher, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.breaker == nil {
		s.breaker = circuit.New("notification-queue")
	}
	s.dispatcher = NewDispatcher(store, pusher, s.logger)
	return s
}

// Dispatcher returns the consumer side that pushes queued notifications.
func (s *Service) Dispatcher() *Dispatcher {
	return s.dispatcher
}

// Notify stores a notification and hands it to live delivery. It never
// fails the caller: every error is logged and counted.
func (s *Service) Notify(ctx context.Context, req Request) {
	ctx = context.WithoutCancel(ctx)

	n, err := NewNotification(req, requestcontext.Now(ctx))
	if err != nil {
		s.failed(ctx, "notification rejected", req, err)
		return
	}
	if err := s.store.Create(ctx, n); err != nil {
		s.failed(ctx, "failed to store notification", req, err)
		return
	}
	s.dispatch(ctx, n)
}

func (s *Service) dispatch(ctx context.Context, n *Notification) {
	if s.queue != nil && s.breaker.Allow() {
		err := s.queue.Publish(ctx, n)
		if err == nil {
			if _, change := s.breaker.RecordSuccess(); change.Closed {
				s.logger.InfoContext(ctx, "notification queue recovered")
			}
			return
		}
		if _, change := s.breaker.RecordFailure(); change.Opened {
			s.logger.WarnContext(ctx, "notification queue failing, delivering locally", "error", err)
		}
		if s.metrics != nil {
			s.metrics.SideEffectFailed("notification_queue")
		}
	}
	s.dispatcher.Deliver(ctx, n)
}

func (s *Service) failed(ctx context.Context, msg string, req Request, err error) {
	if s.metrics != nil {
		s.metrics.SideEffectFailed("notification")
	}
	s.logger.ErrorContext(ctx, msg,
		"recipient_id", req.RecipientID,
		"type", req.Kind,
		"error", err,
	)
}

func (s *Service) ListMine(ctx context.Context, userID id.UserID, unreadOnly bool) ([]*Notification, error) {
	list, err := s.store.ListByRecipient(ctx, userID, unreadOnly, 100)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list notifications")
	}
	return list, nil
}

func (s *Service) MarkRead(ctx context.Context, userID id.UserID, notificationID id.NotificationID) (*Notification, error) {
	n, err := s.store.MarkRead(ctx, userID, notificationID, requestcontext.Now(ctx))
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "notification not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to mark notification read")
	}
	s.dispatcher.PushUnreadCount(ctx, userID)
	return n, nil
}

func (s *Service) MarkAllRead(ctx context.Context, userID id.UserID) (int, error) {
	count, err := s.store.MarkAllRead(ctx, userID, requestcontext.Now(ctx))
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to mark notifications read")
	}
	if count > 0 {
		s.dispatcher.PushUnreadCount(ctx, userID)
	}
	return count, nil
}

func (s *Service) UnreadCount(ctx context.Context, userID id.UserID) (int, error) {
	count, err := s.store.UnreadCount(ctx, userID)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count notifications")
	}
	return count, nil
}
