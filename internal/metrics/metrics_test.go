package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ollama-claude-proxy/internal/metrics"
)

func TestObserveUpstreamCountsTokens(t *testing.T) {
	m := metrics.New("claude-4-opus-20250514")

	m.ObserveUpstream("claude-4-opus-20250514", metrics.OutcomeOK, 1.5, 10, 20)
	m.ObserveUpstream("claude-4-opus-20250514", "upstream_timeout", 60, 0, 0)

	assert.InDelta(t, 1, testutil.ToFloat64(m.UpstreamRequests.WithLabelValues("claude-4-opus-20250514", metrics.OutcomeOK)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.UpstreamRequests.WithLabelValues("claude-4-opus-20250514", "upstream_timeout")), 0)
	assert.InDelta(t, 10, testutil.ToFloat64(m.UpstreamTokens.WithLabelValues("claude-4-opus-20250514", metrics.DirectionInput)), 0)
	assert.InDelta(t, 20, testutil.ToFloat64(m.UpstreamTokens.WithLabelValues("claude-4-opus-20250514", metrics.DirectionOutput)), 0)

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	var latency *dto.MetricFamily
	for _, mf := range families {
		if mf.GetName() == "ollama_proxy_upstream_latency_seconds" {
			latency = mf
		}
	}
	require.NotNil(t, latency)
	require.Len(t, latency.GetMetric(), 1)
	assert.Equal(t, uint64(2), latency.GetMetric()[0].GetHistogram().GetSampleCount())
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *metrics.Metrics
	assert.NotPanics(t, func() {
		m.ObserveHTTP("GET", "/", http.StatusOK, 0.1)
		m.ObserveUpstream("x", metrics.OutcomeOK, 0.1, 1, 1)
	})
}

func TestRouteCollapsesUnknownPaths(t *testing.T) {
	assert.Equal(t, "/api/chat", metrics.Route("/api/chat"))
	assert.Equal(t, "other", metrics.Route("/api/generate"))
	assert.Equal(t, "other", metrics.Route("/random/123"))
}

func TestHandlerServesRegistry(t *testing.T) {
	m := metrics.New()
	m.ObserveHTTP(http.MethodGet, "/api/tags", http.StatusOK, 0.01)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `ollama_proxy_http_requests_total{method="GET",path="/api/tags",status="200"} 1`)
}

func TestObserveUpstreamCollapsesUnknownModels(t *testing.T) {
	m := metrics.New("claude-4-sonnet-20250514")

	assert.Equal(t, "claude-4-sonnet-20250514", m.Model("claude-4-sonnet-20250514"))
	assert.Equal(t, "other", m.Model("made-up"))

	for _, id := range []string{"made-up-1", "made-up-2", "made-up-3"} {
		m.ObserveUpstream(id, metrics.OutcomeOK, 0.2, 5, 5)
	}

	assert.Equal(t, 1, testutil.CollectAndCount(m.UpstreamRequests))
	assert.Equal(t, 2, testutil.CollectAndCount(m.UpstreamTokens))
	assert.InDelta(t, 3, testutil.ToFloat64(m.UpstreamRequests.WithLabelValues("other", metrics.OutcomeOK)), 0)
}
