package hub

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the hub's collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry
	sessions prometheus.Gauge
	events   *prometheus.CounterVec
	dropped  prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "parley",
			Subsystem: "hub",
			Name:      "sessions",
			Help:      "Live websocket sessions.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parley",
			Subsystem: "hub",
			Name:      "events_total",
			Help:      "Inbound websocket events by type and outcome.",
		}, []string{"event", "outcome"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "parley",
			Subsystem: "hub",
			Name:      "egress_full_total",
			Help:      "Outbound events that found a session's buffer full.",
		}),
	}
	m.registry.MustRegister(
		m.sessions,
		m.events,
		m.dropped,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
