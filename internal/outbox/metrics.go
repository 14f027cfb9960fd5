package outbox

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Relayed       prometheus.Counter
	RelayFailures prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Relayed: f.NewCounter(prometheus.CounterOpts{
			Name: "togoretrouve_outbox_relayed_total",
			Help: "Outbox events handed to the event stream",
		}),
		RelayFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "togoretrouve_outbox_relay_failures_total",
			Help: "Outbox relay batches that failed and were left for retry",
		}),
	}
}

func (m *Metrics) AddRelayed(n int)  { m.Relayed.Add(float64(n)) }
func (m *Metrics) IncRelayFailures() { m.RelayFailures.Inc() }
