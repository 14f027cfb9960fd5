package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts claim submissions and decisions.
type Metrics struct {
	Submitted prometheus.Counter
	Decisions *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Submitted: f.NewCounter(prometheus.CounterOpts{
			Name: "togoretrouve_claims_submitted_total",
			Help: "Claims submitted on published declarations",
		}),
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "togoretrouve_claim_decisions_total",
			Help: "Claims closed, by resulting status",
		}, []string{"status"}),
	}
}

func (m *Metrics) IncDecision(status string) {
	m.Decisions.WithLabelValues(status).Inc()
}
