// Package models holds the declaration aggregate and its lifecycle rules.
package models

import (
	"fmt"
	"strings"
	"time"

	h3 "github.com/uber/h3-go/v4"

	"togoretrouve/internal/identity/models"
	id "togoretrouve/pkg/domain"
	dErrors "togoretrouve/pkg/domain-errors"
)

// H3Resolution is the cell size stored with every located declaration (~0.1 km²).
const H3Resolution = 9

type Kind string

const (
	KindLost  Kind = "lost"
	KindFound Kind = "found"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindLost, KindFound:
		return k, nil
	default:
		return "", dErrors.New(dErrors.CodeValidation, "type must be lost or found")
	}
}

type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func ParsePriority(s string) (Priority, error) {
	switch p := Priority(s); p {
	case PriorityNormal, PriorityHigh, PriorityUrgent:
		return p, nil
	default:
		return "", dErrors.New(dErrors.CodeValidation, "priority must be normal, high or urgent")
	}
}

// Location is an optional GPS point with its H3 cell.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	H3Index   string  `json:"h3_index"`
}

// NewLocation validates a coordinate pair and computes its cell.
func NewLocation(lat, lng float64) (*Location, error) {
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return nil, dErrors.New(dErrors.CodeValidation, "coordinates out of range")
	}
	cell := h3.LatLngToCell(h3.NewLatLng(lat, lng), H3Resolution)
	return &Location{Latitude: lat, Longitude: lng, H3Index: cell.String()}, nil
}

// Declaration is a report of a lost or found object.
//
// Invariants:
//   - Numero is assigned once, on first persist, and never changes.
//   - StructureID is the only stored jurisdiction; region and prefecture are derived.
//   - PublishedAt and RestitutedAt are each set at most once.
type Declaration struct {
	ID               id.DeclarationID `json:"id"`
	Numero           string           `json:"numero"`
	Kind             Kind             `json:"type"`
	Status           Status           `json:"status"`
	ObjectName       string           `json:"object_name"`
	Description      string           `json:"description"`
	Category         string           `json:"category"`
	PhotoKey         string           `json:"-"`
	StructureID      id.StructureID   `json:"structure_id"`
	IncidentDate     time.Time        `json:"incident_date"`
	IncidentPlace    string           `json:"incident_place"`
	Location         *Location        `json:"location,omitempty"`
	DeclarantID      id.UserID        `json:"declarant_id"`
	AgentID          id.UserID        `json:"agent_id,omitempty"`
	DeclarantComment string           `json:"declarant_comment,omitempty"`
	AgentComment     string           `json:"agent_comment,omitempty"`
	Priority         Priority         `json:"priority"`
	Public           bool             `json:"public"`
	ViewCount        int64            `json:"view_count"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
	PublishedAt      *time.Time       `json:"published_at,omitempty"`
	RestitutedAt     *time.Time       `json:"restituted_at,omitempty"`
}

// Fields are the declarant-editable attributes.
type Fields struct {
	Kind             Kind
	ObjectName       string
	Description      string
	Category         string
	StructureID      id.StructureID
	IncidentDate     time.Time
	IncidentPlace    string
	Location         *Location
	DeclarantComment string
}

func (f *Fields) normalize(now time.Time) error {
	f.ObjectName = strings.TrimSpace(f.ObjectName)
	f.Description = strings.TrimSpace(f.Description)
	f.Category = strings.ToLower(strings.TrimSpace(f.Category))
	f.IncidentPlace = strings.TrimSpace(f.IncidentPlace)
	f.DeclarantComment = strings.TrimSpace(f.DeclarantComment)

	if f.Kind != KindLost && f.Kind != KindFound {
		return dErrors.New(dErrors.CodeValidation, "type must be lost or found")
	}
	if f.ObjectName == "" {
		return dErrors.New(dErrors.CodeValidation, "object name is required")
	}
	if len(f.ObjectName) > 200 {
		return dErrors.New(dErrors.CodeValidation, "object name must be 200 characters or less")
	}
	if len(f.Description) > 5000 {
		return dErrors.New(dErrors.CodeValidation, "description must be 5000 characters or less")
	}
	if f.StructureID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "structure is required")
	}
	if f.IncidentDate.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "incident date is required")
	}
	if f.IncidentDate.After(now) {
		return dErrors.New(dErrors.CodeValidation, "incident date cannot be in the future")
	}
	return nil
}

// NewDeclaration builds a declaration in the created state. The number is
// assigned separately when it is first stored.
func NewDeclaration(declarationID id.DeclarationID, declarantID id.UserID, f Fields, now time.Time) (*Declaration, error) {
	if declarantID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "declarant is required")
	}
	if err := f.normalize(now); err != nil {
		return nil, err
	}
	return &Declaration{
		ID:               declarationID,
		Kind:             f.Kind,
		Status:           StatusCreated,
		ObjectName:       f.ObjectName,
		Description:      f.Description,
		Category:         f.Category,
		StructureID:      f.StructureID,
		IncidentDate:     f.IncidentDate,
		IncidentPlace:    f.IncidentPlace,
		Location:         f.Location,
		DeclarantID:      declarantID,
		DeclarantComment: f.DeclarantComment,
		Priority:         PriorityNormal,
		Public:           true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// Resource is the authorization view of d.
func (d *Declaration) Resource() models.Resource {
	return models.Resource{
		StructureID:   d.StructureID,
		OwnerID:       d.DeclarantID,
		OwnerEditable: d.Status == StatusCreated,
	}
}

// ApplyFields replaces the declarant-editable attributes.
func (d *Declaration) ApplyFields(f Fields, now time.Time) error {
	if err := f.normalize(now); err != nil {
		return err
	}
	d.Kind = f.Kind
	d.ObjectName = f.ObjectName
	d.Description = f.Description
	d.Category = f.Category
	d.StructureID = f.StructureID
	d.IncidentDate = f.IncidentDate
	d.IncidentPlace = f.IncidentPlace
	d.Location = f.Location
	d.DeclarantComment = f.DeclarantComment
	d.UpdatedAt = now
	return nil
}

// Fields returns the current declarant-editable attributes.
func (d *Declaration) Fields() Fields {
	return Fields{
		Kind:             d.Kind,
		ObjectName:       d.ObjectName,
		Description:      d.Description,
		Category:         d.Category,
		StructureID:      d.StructureID,
		IncidentDate:     d.IncidentDate,
		IncidentPlace:    d.IncidentPlace,
		Location:         d.Location,
		DeclarantComment: d.DeclarantComment,
	}
}

// IsPubliclyVisible reports whether anonymous readers may see d.
func (d *Declaration) IsPubliclyVisible() bool {
	return d.Status == StatusPublished && d.Public
}

// ApplyTransition moves d to target and stamps the one-time timestamps.
// Callers check CanTransition first.
func (d *Declaration) ApplyTransition(target Status, agentID id.UserID, comment string, now time.Time) {
	d.Status = target
	d.UpdatedAt = now
	if comment = strings.TrimSpace(comment); comment != "" {
		d.AgentComment = comment
	}
	switch target {
	case StatusValidated:
		d.AgentID = agentID
	case StatusPublished:
		if d.PublishedAt == nil {
			d.PublishedAt = &now
		}
	case StatusRestituted:
		if d.RestitutedAt == nil {
			d.RestitutedAt = &now
		}
	}
}

// Comment is an anonymous public comment on a published declaration.
type Comment struct {
	ID            id.CommentID     `json:"id"`
	DeclarationID id.DeclarationID `json:"declaration_id"`
	AuthorName    string           `json:"author_name"`
	Body          string           `json:"body"`
	CreatedAt     time.Time        `json:"created_at"`
}

const anonymousAuthor = "Anonyme"

func NewComment(declarationID id.DeclarationID, author, body string, now time.Time) (*Comment, error) {
	author = strings.TrimSpace(author)
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "comment text is required")
	}
	if n := len([]rune(body)); n > 1000 {
		return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("comment must be 1000 characters or less, got %d", n))
	}
	if len([]rune(author)) > 100 {
		return nil, dErrors.New(dErrors.CodeValidation, "author name must be 100 characters or less")
	}
	if author == "" {
		author = anonymousAuthor
	}
	return &Comment{
		ID:            id.NewCommentID(),
		DeclarationID: declarationID,
		AuthorName:    author,
		Body:          body,
		CreatedAt:     now,
	}, nil
}
