// Package models holds claims on published declarations and their supporting documents.
package models

import (
	"fmt"
	"strings"
	"time"

	id "togoretrouve/pkg/domain"
	dErrors "togoretrouve/pkg/domain-errors"
	"togoretrouve/pkg/email"
)

// RestitutedElsewhere is the motif given to claims closed by another claimant's approval.
const RestitutedElsewhere = "object restituted to another claimant"

type Status string

const (
	StatusSubmitted   Status = "submitted"
	StatusUnderReview Status = "under_review"
	StatusApproved    Status = "approved"
	StatusRejected    Status = "rejected"
	StatusWithdrawn   Status = "withdrawn"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusSubmitted, StatusUnderReview, StatusApproved, StatusRejected, StatusWithdrawn:
		return st, nil
	default:
		return "", dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown claim status %q", s))
	}
}

// IsPending reports whether the claim still awaits a decision.
func (s Status) IsPending() bool {
	return s == StatusSubmitted || s == StatusUnderReview
}

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

func ParseDecision(s string) (Decision, error) {
	switch d := Decision(s); d {
	case DecisionApprove, DecisionReject:
		return d, nil
	default:
		return "", dErrors.New(dErrors.CodeValidation, "decision must be approve or reject")
	}
}

// Reclamation is a citizen's claim on a published declaration.
//
// Invariants:
//   - (DeclarationID, ClaimantID) is unique.
//   - DecidedAt is set exactly when the claim is approved or rejected.
type Reclamation struct {
	ID            id.ReclamationID `json:"id"`
	Numero        string           `json:"numero"`
	DeclarationID id.DeclarationID `json:"declaration_id"`
	ClaimantID    id.UserID        `json:"claimant_id"`
	Status        Status           `json:"status"`
	Justification string           `json:"justification"`
	ContactPhone  string           `json:"contact_phone,omitempty"`
	ContactEmail  string           `json:"contact_email,omitempty"`
	AgentID       id.UserID        `json:"agent_id,omitempty"`
	Motif         string           `json:"motif,omitempty"`
	AgentComment  string           `json:"agent_comment,omitempty"`
	Priority      string           `json:"priority"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	DecidedAt     *time.Time       `json:"decided_at,omitempty"`
	Documents     []*Document      `json:"documents,omitempty"`
}

// Contact is the claimant-supplied part of a claim.
type Contact struct {
	Justification string
	Phone         string
	Email         string
}

func NewReclamation(reclamationID id.ReclamationID, declarationID id.DeclarationID, claimantID id.UserID, c Contact, now time.Time) (*Reclamation, error) {
	justification := strings.TrimSpace(c.Justification)
	if justification == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "justification is required")
	}
	if len([]rune(justification)) > 5000 {
		return nil, dErrors.New(dErrors.CodeValidation, "justification must be 5000 characters or less")
	}
	contactEmail := email.Normalize(c.Email)
	if contactEmail != "" {
		if err := email.Validate(contactEmail); err != nil {
			return nil, err
		}
	}
	return &Reclamation{
		ID:            reclamationID,
		DeclarationID: declarationID,
		ClaimantID:    claimantID,
		Status:        StatusSubmitted,
		Justification: justification,
		ContactPhone:  strings.TrimSpace(c.Phone),
		ContactEmail:  contactEmail,
		Priority:      "normal",
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func (r *Reclamation) invalid(target Status) error {
	return dErrors.New(dErrors.CodeInvalidTransition, fmt.Sprintf("cannot move claim from %s to %s", r.Status, target))
}

// Withdraw closes a claim the claimant no longer pursues.
func (r *Reclamation) Withdraw(now time.Time) error {
	if r.Status != StatusSubmitted {
		return r.invalid(StatusWithdrawn)
	}
	r.Status = StatusWithdrawn
	r.UpdatedAt = now
	return nil
}

// StartReview assigns the reviewing agent.
func (r *Reclamation) StartReview(agentID id.UserID, now time.Time) error {
	if r.Status != StatusSubmitted {
		return r.invalid(StatusUnderReview)
	}
	r.Status = StatusUnderReview
	r.AgentID = agentID
	r.UpdatedAt = now
	return nil
}

func (r *Reclamation) Approve(agentID id.UserID, comment string, now time.Time) error {
	if r.Status != StatusUnderReview {
		return r.invalid(StatusApproved)
	}
	r.decide(StatusApproved, agentID, now)
	r.AgentComment = strings.TrimSpace(comment)
	return nil
}

func (r *Reclamation) Reject(agentID id.UserID, motif, comment string, now time.Time) error {
	if r.Status != StatusUnderReview {
		return r.invalid(StatusRejected)
	}
	motif = strings.TrimSpace(motif)
	if motif == "" {
		return dErrors.New(dErrors.CodeValidation, "a rejection motif is required")
	}
	r.decide(StatusRejected, agentID, now)
	r.Motif = motif
	r.AgentComment = strings.TrimSpace(comment)
	return nil
}

// Close rejects a pending claim because the object went to someone else.
func (r *Reclamation) Close(agentID id.UserID, now time.Time) error {
	if !r.Status.IsPending() {
		return r.invalid(StatusRejected)
	}
	r.decide(StatusRejected, agentID, now)
	r.Motif = RestitutedElsewhere
	return nil
}

func (r *Reclamation) decide(status Status, agentID id.UserID, now time.Time) {
	r.Status = status
	if r.AgentID.IsNil() {
		r.AgentID = agentID
	}
	r.UpdatedAt = now
	r.DecidedAt = &now
}
