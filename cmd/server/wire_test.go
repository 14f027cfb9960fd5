package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"togoretrouve/internal/attachment"
	"togoretrouve/internal/platform/config"
	"togoretrouve/internal/platform/logger"
	"togoretrouve/pkg/testutil"
)

type named struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func inMemoryApp(t *testing.T) *application {
	t.Helper()
	cfg := config.Server{
		Environment:    "test",
		JWTSigningKey:  "wire-test-key",
		JWTIssuer:      "togoretrouve",
		TokenTTL:       time.Hour,
		RequestTimeout: 5 * time.Second,
		NodeID:         1,
		Kafka:          config.KafkaConfig{RelayInterval: 50 * time.Millisecond, RelayBatch: 10},
		Storage:        config.StorageConfig{MaxUploadSize: 1 << 20},
		Numbering:      config.NumberingConfig{MaxAttempts: 3},
		RateLimit:      config.RateLimitConfig{Enabled: true, PublicPerMinute: 1000, UserPerMinute: 1000},
	}
	infra := &backends{files: attachment.NewMemoryBackend("/files")}
	app, err := wire(context.Background(), cfg, infra, logger.Discard())
	require.NoError(t, err)
	return app
}

func do(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = testutil.NewJSONRequest(t, method, path, body)
	} else {
		req = testutil.NewRequest(t, method, path)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return testutil.DoRequest(h, req)
}

func TestInMemoryApplication(t *testing.T) {
	app := inMemoryApp(t)
	h := app.router

	testutil.Given(t, "a server without external backends", func(t *testing.T) {
		testutil.Then(t, "it runs only the outbox relay", func(t *testing.T) {
			assert.Len(t, app.workers, 1)
		})

		testutil.Then(t, "health reports ok with no checks", func(t *testing.T) {
			rr := do(t, h, http.MethodGet, "/healthz", "", nil)
			testutil.AssertStatusOK(t, rr)
			testutil.AssertJSONContains(t, rr, "status", "ok")
		})
	})

	var token string
	testutil.When(t, "a citizen registers and logs in", func(t *testing.T) {
		rr := do(t, h, http.MethodPost, "/auth/register", "", map[string]string{
			"email":      "afi@example.tg",
			"password":   "motdepasse",
			"first_name": "Afi",
			"last_name":  "Mensah",
		})
		testutil.AssertStatus(t, rr, http.StatusCreated)

		rr = do(t, h, http.MethodPost, "/auth/login", "", map[string]string{
			"email":    "afi@example.tg",
			"password": "motdepasse",
		})
		testutil.AssertStatusOK(t, rr)
		login := testutil.UnmarshalResponse[struct {
			AccessToken string `json:"access_token"`
		}](t, rr)
		require.NotEmpty(t, login.AccessToken)
		token = login.AccessToken

		testutil.Then(t, "the profile carries the citizen role", func(t *testing.T) {
			rr := do(t, h, http.MethodGet, "/auth/me", token, nil)
			testutil.AssertStatusOK(t, rr)
			testutil.AssertJSONContains(t, rr, "role", "citizen")
		})

		testutil.Then(t, "admin routes are refused", func(t *testing.T) {
			rr := do(t, h, http.MethodGet, "/admin/users", token, nil)
			testutil.AssertStatus(t, rr, http.StatusForbidden)
		})
	})
	require.NotEmpty(t, token)

	var structureID string
	testutil.When(t, "the citizen browses the jurisdictions", func(t *testing.T) {
		rr := do(t, h, http.MethodGet, "/geo/regions", "", nil)
		testutil.AssertStatusOK(t, rr)
		regions := *testutil.UnmarshalResponse[[]named](t, rr)
		require.Len(t, regions, 5)

		rr = do(t, h, http.MethodGet, "/geo/regions/"+regions[0].ID+"/prefectures", "", nil)
		testutil.AssertStatusOK(t, rr)
		prefectures := *testutil.UnmarshalResponse[[]named](t, rr)
		require.NotEmpty(t, prefectures)

		rr = do(t, h, http.MethodGet, "/geo/prefectures/"+prefectures[0].ID+"/structures", "", nil)
		testutil.AssertStatusOK(t, rr)
		structures := *testutil.UnmarshalResponse[[]named](t, rr)
		require.NotEmpty(t, structures)
		structureID = structures[0].ID
	})
	require.NotEmpty(t, structureID)

	testutil.When(t, "the citizen declares a lost object", func(t *testing.T) {
		rr := do(t, h, http.MethodPost, "/declarations", token, map[string]any{
			"type":           "lost",
			"object_name":    "Sac à dos noir",
			"description":    "Contient un ordinateur",
			"category":       "bagages",
			"structure_id":   structureID,
			"incident_date":  time.Now().UTC().AddDate(0, 0, -1).Format(time.DateOnly),
			"incident_place": "Marché de Bè",
		})
		testutil.AssertStatus(t, rr, http.StatusCreated)
		created := testutil.UnmarshalResponse[struct {
			Numero string `json:"numero"`
			Status string `json:"status"`
		}](t, rr)

		testutil.Then(t, "it is numbered and awaits validation", func(t *testing.T) {
			assert.NotEmpty(t, created.Numero)
			assert.Equal(t, "created", created.Status)
		})

		testutil.Then(t, "it is listed among the citizen's declarations", func(t *testing.T) {
			rr := do(t, h, http.MethodGet, "/declarations/mine", token, nil)
			testutil.AssertStatusOK(t, rr)
			testutil.AssertJSONArrayLen(t, rr, 1)
		})

		testutil.Then(t, "it stays out of the public search", func(t *testing.T) {
			rr := do(t, h, http.MethodGet, "/public/declarations", "", nil)
			testutil.AssertStatusOK(t, rr)
			testutil.AssertJSONContains(t, rr, "total", float64(0))
		})
	})

	testutil.Then(t, "the request metrics are exported", func(t *testing.T) {
		rr := do(t, h, http.MethodGet, "/metrics", "", nil)
		testutil.AssertStatusOK(t, rr)
		assert.True(t, strings.Contains(rr.Body.String(), "togoretrouve_"))
	})
}
