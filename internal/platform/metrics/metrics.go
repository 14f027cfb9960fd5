package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the process-wide HTTP and realtime metrics.
type Metrics struct {
	RequestDuration *prometheus.HistogramVec
	UsersCreated    prometheus.Counter
	LiveConnections prometheus.Gauge
	FanoutDropped   prometheus.Counter
	SideEffectFails *prometheus.CounterVec
}

// New creates and registers the platform metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "togoretrouve_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"method", "route", "status"}),
		UsersCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "togoretrouve_users_created_total",
			Help: "Total number of users created in the system",
		}),
		LiveConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: "togoretrouve_live_connections",
			Help: "Currently open WebSocket connections",
		}),
		FanoutDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "togoretrouve_fanout_dropped_total",
			Help: "Live events dropped because a client buffer was full",
		}),
		SideEffectFails: f.NewCounterVec(prometheus.CounterOpts{
			Name: "togoretrouve_side_effect_failures_total",
			Help: "Best-effort side effects (notifications, action logs, broadcasts) that failed",
		}, []string{"kind"}),
	}
}

// ObserveRequest satisfies the request latency middleware.
func (m *Metrics) ObserveRequest(method, route string, status int, start time.Time) {
	m.RequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
}

// IncrementUsersCreated increments the users created counter by 1
func (m *Metrics) IncrementUsersCreated() {
	m.UsersCreated.Inc()
}

func (m *Metrics) ConnectionOpened() { m.LiveConnections.Inc() }
func (m *Metrics) ConnectionClosed() { m.LiveConnections.Dec() }
func (m *Metrics) EventDropped()     { m.FanoutDropped.Inc() }

// SideEffectFailed counts a swallowed best-effort failure.
func (m *Metrics) SideEffectFailed(kind string) {
	m.SideEffectFails.WithLabelValues(kind).Inc()
}
