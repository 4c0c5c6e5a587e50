// Package metrics holds the prometheus collectors of the service. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lexchat"

type Metrics struct {
	registry *prometheus.Registry

	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	aiRequests        *prometheus.CounterVec
	aiDuration        *prometheus.HistogramVec
	tokens            *prometheus.CounterVec
	extractions       *prometheus.CounterVec
	bestEffortFailure *prometheus.CounterVec
	activeStreams     prometheus.Gauge
	streamDisconnects prometheus.Counter
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		aiRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ai_requests_total",
			Help:      "Model calls by kind (reply, stream, title) and outcome.",
		}, []string{"kind", "outcome"}),
		aiDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ai_request_duration_seconds",
			Help:      "Model call latency.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80, 120},
		}, []string{"kind"}),
		tokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ai_tokens_total",
			Help:      "Tokens consumed by direction (prompt, completion) and model.",
		}, []string{"direction", "model"}),
		extractions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extractions_total",
			Help:      "Text extractions by format and outcome.",
		}, []string{"format", "outcome"}),
		bestEffortFailure: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "best_effort_failures_total",
			Help:      "Failed non-fatal steps such as usage recording or titling.",
		}, []string{"step"}),
		activeStreams: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_streams",
			Help:      "Streaming replies in flight.",
		}),
		streamDisconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_disconnects_total",
			Help:      "Streams ended early because the client went away.",
		}),
	}
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveAI(kind string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.aiRequests.WithLabelValues(kind, outcome).Inc()
	m.aiDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

func (m *Metrics) AddTokens(model string, prompt, completion int) {
	if m == nil {
		return
	}
	if prompt > 0 {
		m.tokens.WithLabelValues("prompt", model).Add(float64(prompt))
	}
	if completion > 0 {
		m.tokens.WithLabelValues("completion", model).Add(float64(completion))
	}
}

func (m *Metrics) ObserveExtraction(format string, ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	m.extractions.WithLabelValues(format, outcome).Inc()
}

// BestEffortFailure counts a failed step that did not fail the request.
func (m *Metrics) BestEffortFailure(step string) {
	if m == nil {
		return
	}
	m.bestEffortFailure.WithLabelValues(step).Inc()
}

// StreamStarted increments the active stream gauge and returns its decrement.
func (m *Metrics) StreamStarted() func() {
	if m == nil {
		return func() {}
	}
	m.activeStreams.Inc()
	return m.activeStreams.Dec
}

func (m *Metrics) StreamDisconnected() {
	if m == nil {
		return
	}
	m.streamDisconnects.Inc()
}
