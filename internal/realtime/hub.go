// Package realtime fans live events out to connected WebSocket clients.
// Delivery is at-most-once: a client whose buffer is full misses the event
// and recovers through the pull endpoints.
package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"

	id "togoretrouve/pkg/domain"
)

// Outbound event types.
const (
	EventMessage      = "message"
	EventMessagesRead = "messages_read"
	EventTyping       = "typing"
	EventError        = "error"
	EventNotification = "notification"
	EventUnreadCount  = "unread_count"
)

// Event is the JSON envelope written to clients.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

func ConversationTopic(conversationID id.ConversationID) string {
	return "conversation:" + conversationID.String()
}

func UserTopic(userID id.UserID) string {
	return "user:" + userID.String()
}

// Metrics is the subset of platform metrics the hub reports to.
type Metrics interface {
	ConnectionOpened()
	ConnectionClosed()
	EventDropped()
}

type subscriber interface {
	deliver(frame []byte) bool
}

// Hub keeps topic subscriptions for this process only.
type Hub struct {
	mu      sync.RWMutex
	topics  map[string]map[subscriber]struct{}
	logger  *slog.Logger
	metrics Metrics
}

type Option func(*Hub)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) {
		h.logger = logger
	}
}

func WithMetrics(m Metrics) Option {
	return func(h *Hub) {
		h.metrics = m
	}
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		topics: make(map[string]map[subscriber]struct{}),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) subscribe(topic string, s subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[subscriber]struct{})
		h.topics[topic] = subs
	}
	subs[s] = struct{}{}
}

func (h *Hub) unsubscribe(topic string, s subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.topics[topic]
	delete(subs, s)
	if len(subs) == 0 {
		delete(h.topics, topic)
	}
}

// Publish delivers ev to every subscriber of topic without blocking.
// It returns the number of subscribers that accepted the event.
func (h *Hub) Publish(topic string, ev Event) int {
	frame, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("failed to encode live event", "type", ev.Type, "error", err)
		return 0
	}
	return h.publishFrame(topic, frame, nil)
}

// PublishExcept delivers ev to every subscriber of topic except the given user's sockets.
func (h *Hub) PublishExcept(topic string, ev Event, except id.UserID) int {
	frame, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("failed to encode live event", "type", ev.Type, "error", err)
		return 0
	}
	return h.publishFrame(topic, frame, func(s subscriber) bool {
		c, ok := s.(*Client)
		return ok && c.UserID == except
	})
}

// PushToUser delivers ev to every socket the user has open on this instance.
func (h *Hub) PushToUser(userID id.UserID, ev Event) int {
	return h.Publish(UserTopic(userID), ev)
}

func (h *Hub) publishFrame(topic string, frame []byte, skip func(subscriber) bool) int {
	h.mu.RLock()
	subs := make([]subscriber, 0, len(h.topics[topic]))
	for s := range h.topics[topic] {
		if skip == nil || !skip(s) {
			subs = append(subs, s)
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, s := range subs {
		if s.deliver(frame) {
			delivered++
			continue
		}
		if h.metrics != nil {
			h.metrics.EventDropped()
		}
		h.logger.Debug("live event dropped, client buffer full", "topic", topic)
	}
	return delivered
}

// Subscribers returns the number of live subscribers of topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}
