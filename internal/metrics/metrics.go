// Package metrics holds the Prometheus collectors for the proxy.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// LLMBuckets spans 100ms to 120s, wide enough for slow completions.
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

const (
	OutcomeOK        = "ok"
	DirectionInput   = "input"
	DirectionOutput  = "output"
	namespace        = "ollama_proxy"
	unknownRouteName = "other"
)

type Metrics struct {
	registry *prometheus.Registry
	models   map[string]struct{}

	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
	UpstreamRequests *prometheus.CounterVec
	UpstreamLatency  *prometheus.HistogramVec
	UpstreamTokens   *prometheus.CounterVec
}

// New builds the collectors. knownModels are the upstream ids allowed as a
// model label; every other id is recorded as "other".
func New(knownModels ...string) *Metrics {
	models := make(map[string]struct{}, len(knownModels))
	for _, id := range knownModels {
		models[id] = struct{}{}
	}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		models:   models,
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Inbound HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Inbound HTTP request duration",
				Buckets:   LLMBuckets,
			},
			[]string{"method", "path"},
		),
		UpstreamRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_requests_total",
				Help:      "Calls to the Anthropic Messages API by outcome",
			},
			[]string{"model", "outcome"},
		),
		UpstreamLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upstream_latency_seconds",
				Help:      "Anthropic Messages API latency",
				Buckets:   LLMBuckets,
			},
			[]string{"model"},
		),
		UpstreamTokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_tokens_total",
				Help:      "Tokens reported by the Anthropic Messages API",
			},
			[]string{"model", "direction"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequests,
		m.HTTPDuration,
		m.UpstreamRequests,
		m.UpstreamLatency,
		m.UpstreamTokens,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveHTTP records one inbound request. path must already be a route
// name from a fixed set; see Route.
func (m *Metrics) ObserveHTTP(method, path string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, path).Observe(seconds)
}

func (m *Metrics) ObserveUpstream(model, outcome string, seconds float64, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	model = m.Model(model)
	m.UpstreamRequests.WithLabelValues(model, outcome).Inc()
	m.UpstreamLatency.WithLabelValues(model).Observe(seconds)
	if inputTokens > 0 {
		m.UpstreamTokens.WithLabelValues(model, DirectionInput).Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.UpstreamTokens.WithLabelValues(model, DirectionOutput).Add(float64(outputTokens))
	}
}

// Model collapses upstream ids outside the configured alias table, since
// unknown names are passed through from clients verbatim.
func (m *Metrics) Model(id string) string {
	if _, ok := m.models[id]; ok {
		return id
	}
	return unknownRouteName
}

var knownRoutes = map[string]struct{}{
	"/":            {},
	"/api/tags":    {},
	"/api/show":    {},
	"/api/chat":    {},
	"/api/version": {},
	"/metrics":     {},
}

// Route collapses unknown paths into one label value.
func Route(path string) string {
	if _, ok := knownRoutes[path]; ok {
		return path
	}
	return unknownRouteName
}
