// Package metrics holds the Prometheus collectors for the relay.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics aggregates all relay collectors on a private registry so tests can
// use independent instances.
type Metrics struct {
	registry *prometheus.Registry

	WebhookRequests   *prometheus.CounterVec
	Verifications     *prometheus.CounterVec
	MessagesRelayed   prometheus.Counter
	RelayFailures     *prometheus.CounterVec
	CompletionLatency prometheus.Histogram
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.WebhookRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "progbot",
			Name:      "webhook_requests_total",
			Help:      "Webhook HTTP requests by handler and status code.",
		},
		[]string{"handler", "code"},
	)
	m.Verifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "progbot",
			Name:      "verifications_total",
			Help:      "Webhook subscription verification attempts by result.",
		},
		[]string{"result"},
	)
	m.MessagesRelayed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "progbot",
			Name:      "messages_relayed_total",
			Help:      "Messages successfully relayed end to end.",
		},
	)
	m.RelayFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "progbot",
			Name:      "relay_failures_total",
			Help:      "Relay failures by stage (decode, complete, send).",
		},
		[]string{"stage"},
	)
	m.CompletionLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "progbot",
			Name:      "completion_latency_seconds",
			Help:      "Completion API request latency in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	m.registry.MustRegister(
		m.WebhookRequests,
		m.Verifications,
		m.MessagesRelayed,
		m.RelayFailures,
		m.CompletionLatency,
	)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gather exposes the registry for tests.
func (m *Metrics) Gather() prometheus.Gatherer {
	return m.registry
}
