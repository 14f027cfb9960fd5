package models

import (
	"strings"
	"time"

	id "togoretrouve/pkg/domain"
	dErrors "togoretrouve/pkg/domain-errors"
)

type DocumentKind string

const (
	DocumentPhoto    DocumentKind = "photo"
	DocumentInvoice  DocumentKind = "invoice"
	DocumentWarranty DocumentKind = "warranty"
	DocumentIdentity DocumentKind = "identity"
	DocumentOther    DocumentKind = "other"
)

func ParseDocumentKind(s string) (DocumentKind, error) {
	switch k := DocumentKind(s); k {
	case DocumentPhoto, DocumentInvoice, DocumentWarranty, DocumentIdentity, DocumentOther:
		return k, nil
	case "":
		return DocumentOther, nil
	default:
		return "", dErrors.New(dErrors.CodeValidation, "document type must be photo, invoice, warranty, identity or other")
	}
}

// Document is a file supporting a claim. Only the verification fields change.
type Document struct {
	ID            id.DocumentID    `json:"id"`
	ReclamationID id.ReclamationID `json:"reclamation_id"`
	Kind          DocumentKind     `json:"type"`
	Description   string           `json:"description,omitempty"`
	ObjectKey     string           `json:"-"`
	ContentType   string           `json:"content_type"`
	Size          int64            `json:"size"`
	Verified      bool             `json:"verified"`
	VerifiedBy    id.UserID        `json:"verified_by,omitempty"`
	UploadedAt    time.Time        `json:"uploaded_at"`
	URL           string           `json:"url,omitempty"`
}

func NewDocument(reclamationID id.ReclamationID, kind DocumentKind, description, key, contentType string, size int64, now time.Time) (*Document, error) {
	description = strings.TrimSpace(description)
	if len([]rune(description)) > 500 {
		return nil, dErrors.New(dErrors.CodeValidation, "description must be 500 characters or less")
	}
	return &Document{
		ID:            id.NewDocumentID(),
		ReclamationID: reclamationID,
		Kind:          kind,
		Description:   description,
		ObjectKey:     key,
		ContentType:   contentType,
		Size:          size,
		UploadedAt:    now,
	}, nil
}

// Verify marks the document checked. It reports false when it already was.
func (d *Document) Verify(by id.UserID) bool {
	if d.Verified {
		return false
	}
	d.Verified = true
	d.VerifiedBy = by
	return true
}
