// Package httpapi assembles the HTTP surface: middleware chain, route groups
// by access level and the operational endpoints.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"togoretrouve/internal/identity/models"
	"togoretrouve/pkg/platform/httputil"
	"togoretrouve/pkg/platform/middleware/admin"
	authmw "togoretrouve/pkg/platform/middleware/auth"
	"togoretrouve/pkg/platform/middleware/metadata"
	"togoretrouve/pkg/platform/middleware/request"
	"togoretrouve/pkg/platform/middleware/requesttime"
)

// PublicRoutes are reachable without a token.
type PublicRoutes interface {
	Register(r chi.Router)
}

// AuthenticatedRoutes need a valid access token.
type AuthenticatedRoutes interface {
	RegisterAuthenticated(r chi.Router)
}

// AdminRoutes need the admin role.
type AdminRoutes interface {
	RegisterAdmin(r chi.Router)
}

// SocketRoutes upgrade to WebSocket and so bypass the request timeout.
type SocketRoutes interface {
	RegisterSocket(r chi.Router)
}

// HealthCheck probes one backend.
type HealthCheck func(ctx context.Context) error

// Config lists everything the router mounts.
type Config struct {
	Logger         *slog.Logger
	Tokens         authmw.JWTValidator
	Latency        request.LatencyObserver
	Gatherer       prometheus.Gatherer
	RequestTimeout time.Duration
	Health         map[string]HealthCheck

	// PublicLimit and UserLimit are optional rate limiting middleware.
	PublicLimit func(http.Handler) http.Handler
	UserLimit   func(http.Handler) http.Handler

	Public        []PublicRoutes
	Authenticated []AuthenticatedRoutes
	Admin         []AdminRoutes
	Sockets       []SocketRoutes
}

// NewRouter wires the route groups behind the shared middleware chain.
func NewRouter(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(request.Recovery(cfg.Logger))
	r.Use(request.Logger(cfg.Logger))
	r.Use(request.Latency(cfg.Latency))
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)

	if cfg.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	r.Get("/healthz", healthHandler(cfg.Health, cfg.Logger))

	r.Group(func(r chi.Router) {
		r.Use(authmw.RequireAuth(cfg.Tokens, cfg.Logger))
		for _, s := range cfg.Sockets {
			s.RegisterSocket(r)
		}
	})

	r.Group(func(r chi.Router) {
		if cfg.RequestTimeout > 0 {
			r.Use(request.Timeout(cfg.RequestTimeout))
		}

		r.Group(func(r chi.Router) {
			if cfg.PublicLimit != nil {
				r.Use(cfg.PublicLimit)
			}
			for _, p := range cfg.Public {
				p.Register(r)
			}
		})

		r.Group(func(r chi.Router) {
			r.Use(authmw.RequireAuth(cfg.Tokens, cfg.Logger))
			if cfg.UserLimit != nil {
				r.Use(cfg.UserLimit)
			}
			for _, a := range cfg.Authenticated {
				a.RegisterAuthenticated(r)
			}

			r.Group(func(r chi.Router) {
				r.Use(admin.RequireRole(cfg.Logger, string(models.RoleAdmin)))
				for _, a := range cfg.Admin {
					a.RegisterAdmin(r)
				}
			})
		})
	})

	return r
}

type healthReport struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthHandler(checks map[string]HealthCheck, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		report := healthReport{Status: "ok", Checks: make(map[string]string, len(checks))}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				logger.WarnContext(ctx, "health check failed", "backend", name, "error", err)
				report.Status = "degraded"
				report.Checks[name] = err.Error()
				continue
			}
			report.Checks[name] = "ok"
		}

		status := http.StatusOK
		if report.Status != "ok" {
			status = http.StatusServiceUnavailable
		}
		httputil.WriteJSON(w, status, report)
	}
}
