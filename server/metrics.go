package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the collaboration server's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	activeSessions prometheus.Gauge
	activeClients  prometheus.Gauge
	operations     *prometheus.CounterVec
	historySteps   *prometheus.CounterVec
	errors         *prometheus.CounterVec
}

// NewMetrics registers the collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		activeSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "collab",
			Name:      "active_sessions",
			Help:      "Number of documents with an active session.",
		}),
		activeClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "collab",
			Name:      "active_clients",
			Help:      "Number of clients joined to a document.",
		}),
		operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "collab",
			Name:      "operations_total",
			Help:      "Operations applied to documents, by origin.",
		}, []string{"origin"}),
		historySteps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "collab",
			Name:      "history_requests_total",
			Help:      "Undo and redo requests, by request type and outcome.",
		}, []string{"request", "outcome"}),
		errors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "collab",
			Name:      "errors_total",
			Help:      "Failures while handling client messages, by stage.",
		}, []string{"stage"}),
	}
}

// Registry returns the registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
