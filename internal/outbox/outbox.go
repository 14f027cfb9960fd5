// Package outbox records integration events in the same transaction as the
// state change that caused them, and relays them to the event stream.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	EventMessageCreated           = "message.created"
	EventMessagesRead             = "messages.read"
	EventDeclarationStatusChanged = "declaration.status_changed"
	EventReclamationStatusChanged = "reclamation.status_changed"
)

// Aggregate types.
const (
	AggregateConversation = "conversation"
	AggregateDeclaration  = "declaration"
	AggregateReclamation  = "reclamation"
)

// Record headers.
const (
	HeaderEventType = "event_type"
	HeaderEventID   = "event_id"
)

// Event is one outbox row.
type Event struct {
	ID            uuid.UUID       `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"created_at"`
}

// NewEvent encodes payload into an Event.
func NewEvent(aggregateType, aggregateID, eventType string, payload any, now time.Time) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return Event{
		ID:            uuid.New(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       raw,
		CreatedAt:     now,
	}, nil
}

// Writer appends events. Postgres joins the transaction carried by ctx.
type Writer interface {
	Append(ctx context.Context, events ...Event) error
}

// Source hands unpublished events to fn and marks them published when fn succeeds.
type Source interface {
	Claim(ctx context.Context, limit int, fn func(ctx context.Context, events []Event) error) (int, error)
}
