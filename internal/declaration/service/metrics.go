package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts declaration creations and lifecycle transitions.
type Metrics struct {
	Created     *prometheus.CounterVec
	Transitions *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Created: f.NewCounterVec(prometheus.CounterOpts{
			Name: "togoretrouve_declarations_created_total",
			Help: "Declarations created, by type",
		}, []string{"type"}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "togoretrouve_declaration_transitions_total",
			Help: "Declaration lifecycle transitions attempted, by edge and outcome",
		}, []string{"from", "to", "outcome"}),
	}
}

func (m *Metrics) IncCreated(kind string) {
	m.Created.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncTransition(from, to, outcome string) {
	m.Transitions.WithLabelValues(from, to, outcome).Inc()
}
