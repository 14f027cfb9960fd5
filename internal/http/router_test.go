package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"togoretrouve/internal/identity/token"
	"togoretrouve/internal/platform/logger"
	"togoretrouve/internal/platform/metrics"
	"togoretrouve/internal/ratelimit"
	id "togoretrouve/pkg/domain"
	authmw "togoretrouve/pkg/platform/middleware/auth"
	"togoretrouve/pkg/platform/middleware/request"
	"togoretrouve/pkg/testutil"
)

type echoRoutes struct{}

func (echoRoutes) Register(r chi.Router) {
	r.Get("/public/ping", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
}

func (echoRoutes) RegisterAuthenticated(r chi.Router) {
	r.Get("/me", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(authmw.GetUserID(r.Context()).String()))
	})
}

func (echoRoutes) RegisterAdmin(r chi.Router) {
	r.Get("/admin/ping", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
}

func (echoRoutes) RegisterSocket(r chi.Router) {
	r.Get("/ws/ping", func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.Context().Deadline(); ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func newRouter(t *testing.T, health map[string]HealthCheck) (http.Handler, *token.JWTService) {
	t.Helper()
	tokens := token.NewJWTService("test-key", "togoretrouve")
	reg := prometheus.NewRegistry()
	routes := echoRoutes{}
	return NewRouter(Config{
		Logger:         logger.Discard(),
		Tokens:         tokens,
		Latency:        metrics.New(reg),
		Gatherer:       reg,
		RequestTimeout: time.Second,
		Health:         health,
		Public:         []PublicRoutes{routes},
		Authenticated:  []AuthenticatedRoutes{routes},
		Admin:          []AdminRoutes{routes},
		Sockets:        []SocketRoutes{routes},
	}), tokens
}

func bearer(t *testing.T, tokens *token.JWTService, userID id.UserID, role string, req *http.Request) *http.Request {
	t.Helper()
	signed, _, err := tokens.GenerateAccessToken(userID, role, time.Now(), time.Hour)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+signed)
	return req
}

func TestRouteGroups(t *testing.T) {
	router, tokens := newRouter(t, nil)
	citizen := id.NewUserID()

	t.Run("public routes need no token and carry a request id", func(t *testing.T) {
		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/public/ping"))
		assert.Equal(t, http.StatusNoContent, rr.Code)
		assert.NotEmpty(t, rr.Header().Get(request.HeaderRequestID))
	})

	t.Run("authenticated routes reject anonymous callers", func(t *testing.T) {
		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/me"))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("authenticated routes see the token subject", func(t *testing.T) {
		req := bearer(t, tokens, citizen, "citizen", testutil.NewRequest(t, http.MethodGet, "/me"))
		rr := testutil.DoRequest(router, req)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, citizen.String(), rr.Body.String())
	})

	t.Run("admin routes refuse other roles", func(t *testing.T) {
		req := bearer(t, tokens, citizen, "citizen", testutil.NewRequest(t, http.MethodGet, "/admin/ping"))
		assert.Equal(t, http.StatusForbidden, testutil.DoRequest(router, req).Code)

		req = bearer(t, tokens, id.NewUserID(), "admin", testutil.NewRequest(t, http.MethodGet, "/admin/ping"))
		assert.Equal(t, http.StatusNoContent, testutil.DoRequest(router, req).Code)
	})

	t.Run("socket routes accept the query token and have no deadline", func(t *testing.T) {
		signed, _, err := tokens.GenerateAccessToken(citizen, "citizen", time.Now(), time.Hour)
		require.NoError(t, err)
		req := testutil.NewRequest(t, http.MethodGet, "/ws/ping?access_token="+signed)
		req.Header.Set("Upgrade", "websocket")
		rr := testutil.DoRequest(router, req)
		assert.Equal(t, http.StatusNoContent, rr.Code)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	router, _ := newRouter(t, nil)
	testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/public/ping"))

	rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/metrics"))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), `route="/public/ping"`))
}

func TestHealth(t *testing.T) {
	t.Run("all backends up", func(t *testing.T) {
		router, _ := newRouter(t, map[string]HealthCheck{
			"postgres": func(context.Context) error { return nil },
		})
		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/healthz"))
		assert.Equal(t, http.StatusOK, rr.Code)
		testutil.AssertJSONContains(t, rr, "status", "ok")
	})

	t.Run("one backend down", func(t *testing.T) {
		router, _ := newRouter(t, map[string]HealthCheck{
			"postgres": func(context.Context) error { return nil },
			"redis":    func(context.Context) error { return errors.New("connection refused") },
		})
		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/healthz"))
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
		testutil.AssertJSONContains(t, rr, "status", "degraded")
	})
}

func TestRateLimitedGroups(t *testing.T) {
	tokens := token.NewJWTService("test-key", "togoretrouve")
	limiter := ratelimit.New(ratelimit.NewInMemory(), ratelimit.WithLogger(logger.Discard()))
	routes := echoRoutes{}
	router := NewRouter(Config{
		Logger:        logger.Discard(),
		Tokens:        tokens,
		PublicLimit:   limiter.ByIP(ratelimit.Class{Name: "public", Limit: 1, Window: time.Minute}),
		UserLimit:     limiter.ByUser(ratelimit.Class{Name: "user", Limit: 1, Window: time.Minute}),
		Public:        []PublicRoutes{routes},
		Authenticated: []AuthenticatedRoutes{routes},
	})

	assert.Equal(t, http.StatusNoContent, testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/public/ping")).Code)
	assert.Equal(t, http.StatusTooManyRequests, testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/public/ping")).Code)

	user := id.NewUserID()
	me := func() int {
		return testutil.DoRequest(router, bearer(t, tokens, user, "citizen", testutil.NewRequest(t, http.MethodGet, "/me"))).Code
	}
	assert.Equal(t, http.StatusOK, me())
	assert.Equal(t, http.StatusTooManyRequests, me())
	assert.Equal(t, http.StatusOK, testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/healthz")).Code)
}
