// Package actionlog keeps the immutable trail of lifecycle transitions and
// administrative actions on declarations and claims.
package actionlog

import (
	"fmt"
	"time"

	"github.com/mssola/useragent"

	id "togoretrouve/pkg/domain"
)

// Outcome records whether the attempted action took effect.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// Action names the operation that was attempted.
type Action string

const (
	ActionDeclarationCreated    Action = "declaration_created"
	ActionDeclarationUpdated    Action = "declaration_updated"
	ActionDeclarationDeleted    Action = "declaration_deleted"
	ActionDeclarationTransition Action = "declaration_transition"
	ActionDeclarationPhoto      Action = "declaration_photo"
	ActionClaimSubmitted        Action = "claim_submitted"
	ActionClaimWithdrawn        Action = "claim_withdrawn"
	ActionClaimReview           Action = "claim_review"
	ActionClaimDecision         Action = "claim_decision"
	ActionDocumentAttached      Action = "document_attached"
	ActionDocumentVerified      Action = "document_verified"
)

// Entry is one immutable ActionLog row.
//
// Invariants:
//   - At least one of DeclarationID or ReclamationID is set.
//   - Never mutated or deleted once appended.
type Entry struct {
	ID            id.ActionLogID   `json:"id"`
	ActorID       id.UserID        `json:"actor_id"`
	Action        Action           `json:"action"`
	DeclarationID id.DeclarationID `json:"declaration_id,omitempty"`
	ReclamationID id.ReclamationID `json:"reclamation_id,omitempty"`
	FromStatus    string           `json:"from_status,omitempty"`
	ToStatus      string           `json:"to_status,omitempty"`
	Outcome       Outcome          `json:"outcome"`
	Detail        string           `json:"detail,omitempty"`
	ClientIP      string           `json:"client_ip,omitempty"`
	UserAgent     string           `json:"user_agent,omitempty"`
	Device        string           `json:"device,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}

// DescribeDevice turns a User-Agent header into a short "Browser on OS" label.
func DescribeDevice(userAgent string) string {
	if userAgent == "" {
		return ""
	}
	ua := useragent.New(userAgent)
	if ua.Bot() {
		name, _ := ua.Browser()
		return "bot " + name
	}
	browser, _ := ua.Browser()
	os := ua.OS()
	switch {
	case browser == "" && os == "":
		return "unknown"
	case os == "":
		return browser
	case browser == "":
		return os
	}
	label := fmt.Sprintf("%s on %s", browser, os)
	if ua.Mobile() {
		label += " (mobile)"
	}
	return label
}
