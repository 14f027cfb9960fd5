// Package notification stores per-user notifications and pushes them to the
// recipient's live sockets through a dispatch queue.
package notification

import (
	"time"

	id "togoretrouve/pkg/domain"
	dErrors "togoretrouve/pkg/domain-errors"
)

type Kind string

const (
	KindDeclarationValidated Kind = "declaration_validated"
	KindDeclarationRejected  Kind = "declaration_rejected"
	KindDeclarationPublished Kind = "declaration_published"
	KindDeclarationArchived  Kind = "declaration_archived"
	KindClaimReceived        Kind = "claim_received"
	KindClaimUnderReview     Kind = "claim_under_review"
	KindClaimApproved        Kind = "claim_approved"
	KindClaimRejected        Kind = "claim_rejected"
	KindClaimWithdrawn       Kind = "claim_withdrawn"
	KindObjectRestituted     Kind = "object_restituted"
	KindNewMessage           Kind = "new_message"
)

// Notification is one entry in a user's inbox.
//
// Invariants:
//   - RecipientID, Kind and Title are set.
//   - ReadAt is set exactly when Read is true.
type Notification struct {
	ID            id.NotificationID `json:"id"`
	RecipientID   id.UserID         `json:"recipient_id"`
	Kind          Kind              `json:"type"`
	Title         string            `json:"title"`
	Message       string            `json:"message"`
	DeclarationID id.DeclarationID  `json:"declaration_id,omitempty"`
	ReclamationID id.ReclamationID  `json:"reclamation_id,omitempty"`
	Link          string            `json:"link,omitempty"`
	Important     bool              `json:"important"`
	Read          bool              `json:"read"`
	ReadAt        *time.Time        `json:"read_at,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// Request describes a notification to send.
type Request struct {
	RecipientID   id.UserID
	Kind          Kind
	Title         string
	Message       string
	DeclarationID id.DeclarationID
	ReclamationID id.ReclamationID
	Link          string
	Important     bool
}

func NewNotification(req Request, now time.Time) (*Notification, error) {
	if req.RecipientID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "recipient is required")
	}
	if req.Kind == "" || req.Title == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "notification type and title are required")
	}
	return &Notification{
		ID:            id.NewNotificationID(),
		RecipientID:   req.RecipientID,
		Kind:          req.Kind,
		Title:         req.Title,
		Message:       req.Message,
		DeclarationID: req.DeclarationID,
		ReclamationID: req.ReclamationID,
		Link:          req.Link,
		Important:     req.Important,
		CreatedAt:     now,
	}, nil
}

// MarkRead is idempotent and reports whether the flag flipped.
func (n *Notification) MarkRead(now time.Time) bool {
	if n.Read {
		return false
	}
	n.Read = true
	n.ReadAt = &now
	return true
}
