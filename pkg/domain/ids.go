package domain

import (
	"database/sql/driver"
	"strings"

	"github.com/google/uuid"

	dErrors "togoretrouve/pkg/domain-errors"
)

// ID is a typed UUID. The phantom kind parameter keeps identifiers of different
// entities from being assigned to each other.
//
// Invariant: values built with Parse are never the nil UUID.
type ID[K any] uuid.UUID

type (
	userKind         struct{}
	regionKind       struct{}
	prefectureKind   struct{}
	structureKind    struct{}
	declarationKind  struct{}
	commentKind      struct{}
	reclamationKind  struct{}
	documentKind     struct{}
	conversationKind struct{}
	messageKind      struct{}
	notificationKind struct{}
	actionLogKind    struct{}
)

type (
	UserID         = ID[userKind]
	RegionID       = ID[regionKind]
	PrefectureID   = ID[prefectureKind]
	StructureID    = ID[structureKind]
	DeclarationID  = ID[declarationKind]
	CommentID      = ID[commentKind]
	ReclamationID  = ID[reclamationKind]
	DocumentID     = ID[documentKind]
	ConversationID = ID[conversationKind]
	MessageID      = ID[messageKind]
	NotificationID = ID[notificationKind]
	ActionLogID    = ID[actionLogKind]
)

// New returns a fresh random identifier.
func New[K any]() ID[K] {
	return ID[K](uuid.New())
}

// Parse validates an identifier received at a trust boundary.
func Parse[K any](s string) (ID[K], error) {
	if strings.TrimSpace(s) == "" {
		return ID[K]{}, dErrors.New(dErrors.CodeInvalidInput, "identifier is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return ID[K]{}, dErrors.New(dErrors.CodeInvalidInput, "identifier must be a valid UUID")
	}
	if u == uuid.Nil {
		return ID[K]{}, dErrors.New(dErrors.CodeInvalidInput, "identifier cannot be nil")
	}
	return ID[K](u), nil
}

func NewUserID() UserID                 { return New[userKind]() }
func NewRegionID() RegionID             { return New[regionKind]() }
func NewPrefectureID() PrefectureID     { return New[prefectureKind]() }
func NewStructureID() StructureID       { return New[structureKind]() }
func NewDeclarationID() DeclarationID   { return New[declarationKind]() }
func NewCommentID() CommentID           { return New[commentKind]() }
func NewReclamationID() ReclamationID   { return New[reclamationKind]() }
func NewDocumentID() DocumentID         { return New[documentKind]() }
func NewConversationID() ConversationID { return New[conversationKind]() }
func NewMessageID() MessageID           { return New[messageKind]() }
func NewNotificationID() NotificationID { return New[notificationKind]() }
func NewActionLogID() ActionLogID       { return New[actionLogKind]() }

func ParseUserID(s string) (UserID, error)                 { return Parse[userKind](s) }
func ParseRegionID(s string) (RegionID, error)             { return Parse[regionKind](s) }
func ParsePrefectureID(s string) (PrefectureID, error)     { return Parse[prefectureKind](s) }
func ParseStructureID(s string) (StructureID, error)       { return Parse[structureKind](s) }
func ParseDeclarationID(s string) (DeclarationID, error)   { return Parse[declarationKind](s) }
func ParseReclamationID(s string) (ReclamationID, error)   { return Parse[reclamationKind](s) }
func ParseDocumentID(s string) (DocumentID, error)         { return Parse[documentKind](s) }
func ParseConversationID(s string) (ConversationID, error) { return Parse[conversationKind](s) }
func ParseNotificationID(s string) (NotificationID, error) { return Parse[notificationKind](s) }

func (id ID[K]) String() string {
	return uuid.UUID(id).String()
}

func (id ID[K]) IsNil() bool {
	return uuid.UUID(id) == uuid.Nil
}

// MarshalText renders nil identifiers as an empty string.
func (id ID[K]) MarshalText() ([]byte, error) {
	if id.IsNil() {
		return []byte{}, nil
	}
	return []byte(id.String()), nil
}

func (id *ID[K]) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*id = ID[K]{}
		return nil
	}
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return dErrors.New(dErrors.CodeInvalidInput, "identifier must be a valid UUID")
	}
	*id = ID[K](u)
	return nil
}

// Value stores nil identifiers as SQL NULL.
func (id ID[K]) Value() (driver.Value, error) {
	if id.IsNil() {
		return nil, nil
	}
	return id.String(), nil
}

func (id *ID[K]) Scan(src any) error {
	var u uuid.UUID
	if err := u.Scan(src); err != nil {
		return err
	}
	*id = ID[K](u)
	return nil
}

// Less orders identifiers bytewise. Used as a deterministic tie-breaker.
func (id ID[K]) Less(other ID[K]) bool {
	a, b := uuid.UUID(id), uuid.UUID(other)
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
