// Package metrics holds the Prometheus collectors exported by the API
// server on /metrics.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nimbus"

// Metrics is a set of collectors registered on a private registry, so that
// several servers (and tests) can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	DispatchesPublished *prometheus.CounterVec
	DispatchesApplied   *prometheus.CounterVec
	PublishErrors       *prometheus.CounterVec
	HTTPRequests        *prometheus.CounterVec
	WebSocketClients    prometheus.Gauge
	IntegrityHealth     prometheus.Gauge
	IntegrityIssues     *prometheus.GaugeVec
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		DispatchesPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_published_total",
			Help:      "Instance dispatch messages published, by action type.",
		}, []string{"type"}),
		DispatchesApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "console_dispatches_applied_total",
			Help:      "Instance dispatch messages applied by a console store, by action type.",
		}, []string{"type"}),
		PublishErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Failed dispatch publications, by publisher.",
		}, []string{"publisher"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests handled, by method, route and status code.",
		}, []string{"method", "route", "status"}),
		WebSocketClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Connected websocket event clients.",
		}),
		IntegrityHealth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "integrity_health_score",
			Help:      "Health score (0-100) of the last integrity scan.",
		}),
		IntegrityIssues: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "integrity_issues",
			Help:      "Issues found by the last integrity scan, by issue type.",
		}, []string{"type"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.DispatchesPublished,
		m.DispatchesApplied,
		m.PublishErrors,
		m.HTTPRequests,
		m.WebSocketClients,
		m.IntegrityHealth,
		m.IntegrityIssues,
	)

	return m
}

// Handler returns the HTTP handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRequest records a handled HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int) {
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}

// ObservePublished records a published dispatch.
func (m *Metrics) ObservePublished(actionType string) {
	m.DispatchesPublished.WithLabelValues(actionType).Inc()
}

// ObserveApplied records a dispatch applied by a console store.
func (m *Metrics) ObserveApplied(actionType string) {
	m.DispatchesApplied.WithLabelValues(actionType).Inc()
}

// ObservePublishError records a failed publication.
func (m *Metrics) ObservePublishError(publisher string) {
	m.PublishErrors.WithLabelValues(publisher).Inc()
}

// ObserveIntegrity records the result of an integrity scan.
func (m *Metrics) ObserveIntegrity(healthScore int, issuesByType map[string]int) {
	m.IntegrityHealth.Set(float64(healthScore))
	m.IntegrityIssues.Reset()
	for typ, n := range issuesByType {
		m.IntegrityIssues.WithLabelValues(typ).Set(float64(n))
	}
}
