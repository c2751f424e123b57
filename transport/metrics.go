package transport

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts hot path events across all stages of a cluster. A nil
// *Metrics is valid and counts nothing.
type Metrics struct {
	RequestsSent    prometheus.Counter
	ResponsesRouted prometheus.Counter
	Overloads       prometheus.Counter
	SessionsLost    prometheus.Counter
	RingRebuilds    prometheus.Counter
}

// NewMetrics registers the driver counters with reg, which may be
// prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scylla_driver",
			Name:      "requests_sent_total",
			Help:      "CQL request frames handed to stage senders.",
		}),
		ResponsesRouted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scylla_driver",
			Name:      "responses_routed_total",
			Help:      "Response frames routed back to workers by stream ID.",
		}),
		Overloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scylla_driver",
			Name:      "overloads_total",
			Help:      "Requests rejected because no stream ID was free.",
		}),
		SessionsLost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scylla_driver",
			Name:      "sessions_lost_total",
			Help:      "Stage sessions that closed with workers in flight.",
		}),
		RingRebuilds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scylla_driver",
			Name:      "ring_rebuilds_total",
			Help:      "Published ring generations.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.RequestsSent, m.ResponsesRouted, m.Overloads, m.SessionsLost, m.RingRebuilds)
	}
	return m
}

func (m *Metrics) incRequestsSent() {
	if m != nil {
		m.RequestsSent.Inc()
	}
}

func (m *Metrics) incResponsesRouted() {
	if m != nil {
		m.ResponsesRouted.Inc()
	}
}

func (m *Metrics) incOverloads() {
	if m != nil {
		m.Overloads.Inc()
	}
}

func (m *Metrics) incSessionsLost() {
	if m != nil {
		m.SessionsLost.Inc()
	}
}

func (m *Metrics) incRingRebuilds() {
	if m != nil {
		m.RingRebuilds.Inc()
	}
}
