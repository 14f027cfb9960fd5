package ratelimit_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"togoretrouve/internal/platform/logger"
	"togoretrouve/internal/ratelimit"
	id "togoretrouve/pkg/domain"
	"togoretrouve/pkg/platform/middleware/metadata"
	pkgtestutil "togoretrouve/pkg/testutil"
)

type failingStore struct{}

func (failingStore) Allow(context.Context, string, int, time.Duration) (ratelimit.Result, error) {
	return ratelimit.Result{}, errors.New("redis down")
}

var ok = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

func TestByIP(t *testing.T) {
	m := ratelimit.NewMetrics(prometheus.NewRegistry())
	limiter := ratelimit.New(ratelimit.NewInMemory(), ratelimit.WithLogger(logger.Discard()), ratelimit.WithMetrics(m))
	h := metadata.ClientMetadata(limiter.ByIP(ratelimit.Class{Name: "public", Limit: 2, Window: time.Minute})(ok))

	call := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.RemoteAddr = ip + ":40000"
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	first := call("10.0.0.1")
	assert.Equal(t, http.StatusNoContent, first.Code)
	assert.Equal(t, "2", first.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, http.StatusNoContent, call("10.0.0.1").Code)

	rejected := call("10.0.0.1")
	require.Equal(t, http.StatusTooManyRequests, rejected.Code)
	assert.NotEmpty(t, rejected.Header().Get("Retry-After"))
	pkgtestutil.AssertJSONContains(t, rejected, "error", "rate_limit_exceeded")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Rejected.WithLabelValues("public")))

	assert.Equal(t, http.StatusNoContent, call("10.0.0.2").Code)
}

func TestByUser(t *testing.T) {
	limiter := ratelimit.New(ratelimit.NewInMemory(), ratelimit.WithLogger(logger.Discard()))
	h := limiter.ByUser(ratelimit.Class{Name: "user", Limit: 1, Window: time.Minute})(ok)

	alice, bob := id.NewUserID(), id.NewUserID()
	call := func(userID id.UserID) int {
		req := pkgtestutil.WithAuth(httptest.NewRequest(http.MethodGet, "/declarations/mine", nil), userID, "citizen")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}

	assert.Equal(t, http.StatusNoContent, call(alice))
	assert.Equal(t, http.StatusTooManyRequests, call(alice))
	assert.Equal(t, http.StatusNoContent, call(bob))
}

func TestStoreFailureLetsRequestsThrough(t *testing.T) {
	limiter := ratelimit.New(failingStore{}, ratelimit.WithLogger(logger.Discard()))
	h := limiter.ByIP(ratelimit.Class{Name: "public", Limit: 1, Window: time.Minute})(ok)

	for range 3 {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/public/map", nil))
		assert.Equal(t, http.StatusNoContent, rr.Code)
	}
}
