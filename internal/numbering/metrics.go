package numbering

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts number collisions per series prefix.
type Metrics struct {
	Collisions *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Collisions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "togoretrouve_number_collisions_total",
			Help: "Sequential number collisions resolved by reseeding and retrying",
		}, []string{"prefix"}),
	}
}

func (m *Metrics) IncCollision(prefix string) {
	m.Collisions.WithLabelValues(prefix).Inc()
}
