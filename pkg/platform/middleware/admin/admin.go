package admin

import (
	"log/slog"
	"net/http"
	"slices"

	"togoretrouve/pkg/platform/middleware/auth"
	request "togoretrouve/pkg/platform/middleware/request"
)

// RequireRole rejects requests whose token role is not in allowed.
// It must run after auth.RequireAuth. Services still re-check the stored role;
// this only short-circuits obviously foreign callers.
func RequireRole(logger *slog.Logger, allowed ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := auth.GetRole(r.Context())
			if !slices.Contains(allowed, role) {
				ctx := r.Context()
				logger.WarnContext(ctx, "role not permitted",
					"role", role,
					"path", r.URL.Path,
					"request_id", request.GetRequestID(ctx),
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"error":"forbidden","error_description":"insufficient role"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
