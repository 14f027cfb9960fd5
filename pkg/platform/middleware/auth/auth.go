package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	id "togoretrouve/pkg/domain"
	request "togoretrouve/pkg/platform/middleware/request"
	"togoretrouve/pkg/requestcontext"
)

// JWTValidator defines the interface for validating JWT tokens
type JWTValidator interface {
	ValidateToken(tokenString string) (*JWTClaims, error)
}

// JWTClaims represents the claims we expect from the JWT validator
type JWTClaims struct {
	UserID string
	Role   string
}

type contextKeyRole struct{}

// ContextKeyRole is exported for tests that build authenticated contexts by hand.
var ContextKeyRole = contextKeyRole{}

// GetUserID retrieves the authenticated user ID from the context
func GetUserID(ctx context.Context) id.UserID {
	return requestcontext.UserID(ctx)
}

// GetRole retrieves the role claim of the authenticated user.
func GetRole(ctx context.Context) string {
	role, _ := ctx.Value(ContextKeyRole).(string)
	return role
}

// WithIdentity injects an authenticated identity into a context.
func WithIdentity(ctx context.Context, userID id.UserID, role string) context.Context {
	ctx = requestcontext.WithUserID(ctx, userID)
	return context.WithValue(ctx, ContextKeyRole, role)
}

// writeJSONError writes a JSON error response with the given status code and error details.
func writeJSONError(w http.ResponseWriter, status int, errCode, errDesc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(fmt.Appendf(nil, `{"error":"%s","error_description":"%s"}`, errCode, errDesc))
}

// tokenFromRequest reads a Bearer token, or the access_token query parameter on
// WebSocket upgrades where browsers cannot set headers.
func tokenFromRequest(r *http.Request) (string, bool) {
	const bearerPrefix = "Bearer "
	if after, ok := strings.CutPrefix(r.Header.Get("Authorization"), bearerPrefix); ok && after != "" {
		return after, true
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		if token := r.URL.Query().Get("access_token"); token != "" {
			return token, true
		}
	}
	return "", false
}

func RequireAuth(validator JWTValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := request.GetRequestID(ctx)

			token, ok := tokenFromRequest(r)
			if !ok {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestID,
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Missing or invalid Authorization header")
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestID,
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
				return
			}

			userID, err := id.ParseUserID(claims.UserID)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - malformed subject",
					"request_id", requestID,
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, userID, claims.Role)))
		})
	}
}
