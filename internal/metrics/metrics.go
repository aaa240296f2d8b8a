package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes application metrics that are safe to scrape via Prometheus.
type Metrics struct {
	registry            *prometheus.Registry
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	editorActions       *prometheus.CounterVec
	renders             *prometheus.CounterVec
	renderDuration      *prometheus.HistogramVec
	datasourceRequests  *prometheus.CounterVec
	datasourceDuration  *prometheus.HistogramVec
}

// New creates a fresh Metrics registry with HTTP, editor, render, and
// datasource metrics registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "weathermap",
		Name:      "http_requests_total",
		Help:      "Count of HTTP requests processed by core-go",
	}, []string{"method", "path", "status"})

	httpRequestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "weathermap",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests served by core-go",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	editorActions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "weathermap",
		Name:      "editor_actions_total",
		Help:      "Editor actions applied, by action name and outcome",
	}, []string{"action", "outcome"})

	renders := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "weathermap",
		Name:      "renders_total",
		Help:      "Render requests, by variant and cache outcome",
	}, []string{"variant", "cache"})

	renderDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "weathermap",
		Name:      "render_duration_seconds",
		Help:      "Duration of map renders that missed the cache",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"variant"})

	datasourceRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "weathermap",
		Name:      "datasource_requests_total",
		Help:      "Upstream monitoring requests, by source type and outcome",
	}, []string{"type", "outcome"})

	datasourceDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "weathermap",
		Name:      "datasource_request_duration_seconds",
		Help:      "Duration of upstream monitoring requests",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"type"})

	registry.MustRegister(
		httpRequests,
		httpRequestDuration,
		editorActions,
		renders,
		renderDuration,
		datasourceRequests,
		datasourceDuration,
	)

	return &Metrics{
		registry:            registry,
		httpRequests:        httpRequests,
		httpRequestDuration: httpRequestDuration,
		editorActions:       editorActions,
		renders:             renders,
		renderDuration:      renderDuration,
		datasourceRequests:  datasourceRequests,
		datasourceDuration:  datasourceDuration,
	}
}

// ObserveHTTPRequest records a single HTTP request/response cycle.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"path":   path,
		"status": strconv.Itoa(status),
	}
	m.httpRequests.With(labels).Inc()
	m.httpRequestDuration.With(labels).Observe(duration.Seconds())
}

// ObserveEditorAction records one editor action and whether it was accepted.
func (m *Metrics) ObserveEditorAction(action string, success bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !success {
		outcome = "rejected"
	}
	m.editorActions.With(prometheus.Labels{"action": action, "outcome": outcome}).Inc()
}

// ObserveRender records one render request and, on a cache miss, its duration.
func (m *Metrics) ObserveRender(variant string, cached bool, duration time.Duration) {
	if m == nil {
		return
	}
	cache := "miss"
	if cached {
		cache = "hit"
	}
	m.renders.With(prometheus.Labels{"variant": variant, "cache": cache}).Inc()
	if !cached {
		m.renderDuration.With(prometheus.Labels{"variant": variant}).Observe(duration.Seconds())
	}
}

// ObserveDatasourceRequest records one upstream monitoring call.
func (m *Metrics) ObserveDatasourceRequest(sourceType string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.datasourceRequests.With(prometheus.Labels{"type": sourceType, "outcome": outcome}).Inc()
	m.datasourceDuration.With(prometheus.Labels{"type": sourceType}).Observe(duration.Seconds())
}

// Handler exposes the Prometheus registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics unavailable"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
