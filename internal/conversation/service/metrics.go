package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts conversations opened and messages sent.
type Metrics struct {
	Opened   prometheus.Counter
	Messages *prometheus.CounterVec
	Fanout   *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Opened: f.NewCounter(prometheus.CounterOpts{
			Name: "togoretrouve_conversations_opened_total",
			Help: "Conversations created between an agent and a declarant",
		}),
		Messages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "togoretrouve_messages_sent_total",
			Help: "Messages persisted, by kind",
		}, []string{"kind"}),
		Fanout: f.NewCounterVec(prometheus.CounterOpts{
			Name: "togoretrouve_chat_fanout_events_total",
			Help: "Chat events handed to live sockets, by event type",
		}, []string{"event"}),
	}
}

func (m *Metrics) IncMessage(kind string) {
	m.Messages.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncFanout(event string) {
	m.Fanout.WithLabelValues(event).Inc()
}
