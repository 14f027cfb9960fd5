package testutil

import (
	"context"
	"net/http"
	"time"

	id "togoretrouve/pkg/domain"
	authmw "togoretrouve/pkg/platform/middleware/auth"
	"togoretrouve/pkg/requestcontext"
)

// FixedNow is the clock used by service tests that pin request time.
var FixedNow = time.Date(2025, time.March, 14, 10, 30, 0, 0, time.UTC)

// WithAuth simulates what the auth middleware does for an authenticated request.
func WithAuth(req *http.Request, userID id.UserID, role string) *http.Request {
	return req.WithContext(authmw.WithIdentity(req.Context(), userID, role))
}

// Context returns a background context pinned to FixedNow with client metadata set.
func Context() context.Context {
	ctx := requestcontext.WithTime(context.Background(), FixedNow)
	return requestcontext.WithClientMetadata(ctx, "192.0.2.10", "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0")
}
