// Package identity wires users, roles and jurisdiction.
package identity

import (
	"context"

	"togoretrouve/internal/identity/models"
	"togoretrouve/internal/identity/service"
	id "togoretrouve/pkg/domain"
	dErrors "togoretrouve/pkg/domain-errors"
	authmw "togoretrouve/pkg/platform/middleware/auth"
)

// Service exposes account operations.
type Service = service.Service

// Actor is the authorization view of a user.
type Actor = models.Actor

// ActorResolver loads the current role and jurisdiction of a user.
type ActorResolver interface {
	Actor(ctx context.Context, userID id.UserID) (models.Actor, error)
}

// ActorFromContext resolves the authenticated caller placed in ctx by the auth middleware.
func ActorFromContext(ctx context.Context, resolver ActorResolver) (models.Actor, error) {
	userID := authmw.GetUserID(ctx)
	if userID.IsNil() {
		return models.Actor{}, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	return resolver.Actor(ctx, userID)
}
