package ratelimit

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"togoretrouve/pkg/platform/httputil"
	authmw "togoretrouve/pkg/platform/middleware/auth"
	"togoretrouve/pkg/platform/middleware/request"
	"togoretrouve/pkg/requestcontext"
)

type Metrics struct {
	Rejected *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Rejected: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "togoretrouve_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		}, []string{"class"}),
	}
}

// Limiter builds the rate limiting middleware. Store failures let the
// request through.
type Limiter struct {
	store   Store
	logger  *slog.Logger
	metrics *Metrics
}

type Option func(*Limiter)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(l *Limiter) {
		l.metrics = m
	}
}

func New(store Store, opts ...Option) *Limiter {
	l := &Limiter{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ByIP limits each client address to class. It needs the client metadata
// middleware upstream.
func (l *Limiter) ByIP(class Class) func(http.Handler) http.Handler {
	return l.limit(class, func(r *http.Request) string {
		return "ip:" + requestcontext.ClientIP(r.Context())
	})
}

// ByUser limits each authenticated user to class. It must run after
// auth.RequireAuth.
func (l *Limiter) ByUser(class Class) func(http.Handler) http.Handler {
	return l.limit(class, func(r *http.Request) string {
		return "user:" + authmw.GetUserID(r.Context()).String()
	})
}

func (l *Limiter) limit(class Class, keyOf func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key := class.Name + ":" + keyOf(r)

			result, err := l.store.Allow(ctx, key, class.Limit, class.Window)
			if err != nil {
				l.logger.ErrorContext(ctx, "rate limit check failed",
					"class", class.Name,
					"error", err,
					"request_id", request.GetRequestID(ctx),
				)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

			if !result.Allowed {
				if l.metrics != nil {
					l.metrics.Rejected.WithLabelValues(class.Name).Inc()
				}
				l.logger.WarnContext(ctx, "rate limit exceeded",
					"class", class.Name,
					"path", r.URL.Path,
					"request_id", request.GetRequestID(ctx),
				)
				retryAfter := result.RetryAfter(time.Now())
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				httputil.WriteJSON(w, http.StatusTooManyRequests, map[string]any{
					"error":             "rate_limit_exceeded",
					"error_description": "too many requests, try again later",
					"retry_after":       retryAfter,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
