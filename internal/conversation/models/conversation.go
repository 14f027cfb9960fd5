// Package models holds conversations between an agent and a declarant about
// one declaration, and the append-only messages exchanged in them.
package models

import (
	"strings"
	"time"
	"unicode/utf8"

	authz "togoretrouve/internal/identity/models"
	id "togoretrouve/pkg/domain"
	dErrors "togoretrouve/pkg/domain-errors"
)

// MaxBodyLength bounds a message text in characters.
const MaxBodyLength = 2000

// Conversation is unique per (declaration, agent, declarant).
type Conversation struct {
	ID             id.ConversationID `json:"id"`
	DeclarationID  id.DeclarationID  `json:"declaration_id"`
	AgentID        id.UserID         `json:"agent_id"`
	DeclarantID    id.UserID         `json:"declarant_id"`
	CreatedAt      time.Time         `json:"created_at"`
	LastActivityAt time.Time         `json:"last_activity_at"`
}

func NewConversation(declarationID id.DeclarationID, agentID, declarantID id.UserID, now time.Time) (*Conversation, error) {
	if agentID == declarantID {
		return nil, dErrors.New(dErrors.CodeValidation, "a conversation needs two distinct participants")
	}
	return &Conversation{
		ID:             id.NewConversationID(),
		DeclarationID:  declarationID,
		AgentID:        agentID,
		DeclarantID:    declarantID,
		CreatedAt:      now,
		LastActivityAt: now,
	}, nil
}

func (c *Conversation) IsParticipant(userID id.UserID) bool {
	return userID == c.AgentID || userID == c.DeclarantID
}

// Other returns who a message from userID is addressed to. The declarant
// writes to the agent; the agent, or an admin stepping in, writes to the declarant.
func (c *Conversation) Other(userID id.UserID) id.UserID {
	if userID == c.DeclarantID {
		return c.AgentID
	}
	return c.DeclarantID
}

// CheckAccess allows the two participants and any admin.
func (c *Conversation) CheckAccess(actor authz.Actor) error {
	if actor.Role == authz.RoleAdmin || c.IsParticipant(actor.UserID) {
		return nil
	}
	return dErrors.New(dErrors.CodeForbidden, "only the participants may access this conversation")
}

// Summary is a conversation as listed for one of its participants.
type Summary struct {
	*Conversation
	Unread      int      `json:"unread_count"`
	LastMessage *Message `json:"last_message,omitempty"`
}

type MessageKind string

const (
	KindText   MessageKind = "text"
	KindFile   MessageKind = "file"
	KindSystem MessageKind = "system"
)

// Message is append-only; only the read flag changes after insert.
// Seq orders messages and is unique across conversations.
type Message struct {
	ID             id.MessageID      `json:"id"`
	ConversationID id.ConversationID `json:"conversation_id"`
	Seq            int64             `json:"seq,string"`
	SenderID       *id.UserID        `json:"sender_id,omitempty"`
	ReceiverID     *id.UserID        `json:"receiver_id,omitempty"`
	Kind           MessageKind       `json:"type"`
	Body           string            `json:"body"`
	FileKey        string            `json:"-"`
	FileURL        string            `json:"file_url,omitempty"`
	Read           bool              `json:"read"`
	ReadAt         *time.Time        `json:"read_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// NewMessage builds a message from sender to the other participant.
// It needs a non-blank body or a file.
func NewMessage(c *Conversation, senderID id.UserID, seq int64, body, fileKey string, now time.Time) (*Message, error) {
	body = strings.TrimSpace(body)
	if err := ValidateContent(body, fileKey != ""); err != nil {
		return nil, err
	}
	kind := KindText
	if fileKey != "" {
		kind = KindFile
	}
	receiverID := c.Other(senderID)
	return &Message{
		ID:             id.NewMessageID(),
		ConversationID: c.ID,
		Seq:            seq,
		SenderID:       &senderID,
		ReceiverID:     &receiverID,
		Kind:           kind,
		Body:           body,
		FileKey:        fileKey,
		CreatedAt:      now,
	}, nil
}

// ValidateContent checks a message body before anything is stored for it.
func ValidateContent(body string, hasFile bool) error {
	body = strings.TrimSpace(body)
	if body == "" && !hasFile {
		return dErrors.New(dErrors.CodeValidation, "message must contain text or a file")
	}
	if utf8.RuneCountInString(body) > MaxBodyLength {
		return dErrors.New(dErrors.CodeValidation, "message text is too long")
	}
	return nil
}

// NewSystemMessage is addressed to nobody and never counts as unread.
func NewSystemMessage(c *Conversation, seq int64, body string, now time.Time) *Message {
	return &Message{
		ID:             id.NewMessageID(),
		ConversationID: c.ID,
		Seq:            seq,
		Kind:           KindSystem,
		Body:           body,
		CreatedAt:      now,
	}
}

// UnreadFor reports whether m is an unread message addressed to userID.
func (m *Message) UnreadFor(userID id.UserID) bool {
	return !m.Read && m.ReceiverID != nil && *m.ReceiverID == userID
}
