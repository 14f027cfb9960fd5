package models

import (
	"fmt"

	id "togoretrouve/pkg/domain"
	dErrors "togoretrouve/pkg/domain-errors"
)

// Actor is the identity a service authorizes against. It is always loaded
// from the user store, never trusted from token claims.
type Actor struct {
	UserID      id.UserID
	Role        Role
	StructureID id.StructureID
}

// Action names a capability checked by Authorize.
type Action string

const (
	ActionView           Action = "view"
	ActionEdit           Action = "edit"
	ActionDelete         Action = "delete"
	ActionTransition     Action = "transition"
	ActionArchive        Action = "archive"
	ActionReviewClaim    Action = "review_claim"
	ActionVerifyDocument Action = "verify_document"
	ActionWithdraw       Action = "withdraw"
	ActionAttach         Action = "attach"
	ActionViewActions    Action = "view_actions"
	ActionManageUsers    Action = "manage_users"
)

// Resource is the part of a declaration or claim that authorization looks at.
type Resource struct {
	StructureID id.StructureID
	OwnerID     id.UserID
	// OwnerEditable is true while the owner may still edit or delete (declaration in created).
	OwnerEditable bool
}

var adminOnly = map[Action]bool{
	ActionArchive:     true,
	ActionManageUsers: true,
}

var ownerActions = map[Action]bool{
	ActionView:     true,
	ActionWithdraw: true,
	ActionAttach:   true,
}

// Authorize is the single capability check for declarations and claims.
//
// Withdrawing a claim and deleting a declaration are owner-only, whatever the
// role. Otherwise admins may do anything; agents may act when their structure
// equals the resource's structure; owners may view, attach, and edit while
// OwnerEditable.
func Authorize(actor Actor, action Action, res Resource) error {
	isOwner := !res.OwnerID.IsNil() && actor.UserID == res.OwnerID
	ownerAllowed := isOwner && (ownerActions[action] || (action == ActionEdit && res.OwnerEditable))

	switch action {
	case ActionWithdraw:
		if isOwner {
			return nil
		}
		return forbidden(actor, action)
	case ActionDelete:
		if isOwner && res.OwnerEditable {
			return nil
		}
		return forbidden(actor, action)
	}

	switch actor.Role {
	case RoleAdmin:
		return nil
	case RoleAgent:
		if adminOnly[action] {
			return forbidden(actor, action)
		}
		if !actor.StructureID.IsNil() && actor.StructureID == res.StructureID {
			return nil
		}
		if ownerAllowed {
			return nil
		}
		return forbidden(actor, action)
	case RoleCitizen:
		if ownerAllowed {
			return nil
		}
		return forbidden(actor, action)
	default:
		return forbidden(actor, action)
	}
}

func forbidden(actor Actor, action Action) error {
	return dErrors.New(dErrors.CodeForbidden, fmt.Sprintf("%s may not %s this resource", actor.Role, action))
}
