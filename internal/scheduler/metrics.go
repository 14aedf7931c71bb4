package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the poller's prometheus collectors.
type Metrics struct {
	ticks   *prometheus.CounterVec
	running prometheus.Gauge
}

// NewMetrics creates the poller collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "homeenv",
			Name:      "poller_ticks_total",
			Help:      "Poll ticks partitioned by outcome.",
		}, []string{"result"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "homeenv",
			Name:      "poller_running",
			Help:      "1 while the poller is armed, 0 otherwise.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.ticks, m.running)
	}

	return m
}
