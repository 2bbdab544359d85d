// Package metrics records Prometheus metrics for tool, skill and model
// activity. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "calpilot"

// Metric label keys
const (
	labelName   = "name"
	labelStatus = "status"
	labelKind   = "kind"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

var durationBuckets = []float64{0.001, 0.01, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0}

type Metrics struct {
	registry *prometheus.Registry

	toolInvocations  *prometheus.CounterVec
	toolDuration     *prometheus.HistogramVec
	skillInvocations *prometheus.CounterVec
	modelRequests    *prometheus.CounterVec
	modelDuration    prometheus.Histogram
	turns            *prometheus.CounterVec
	activeTurns      prometheus.Gauge
	notifications    prometheus.Counter
}

// New creates the metric set on its own registry, including the Go runtime
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		toolInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_invocations_total",
			Help:      "Total number of tool invocations",
		}, []string{labelName, labelStatus}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_duration_seconds",
			Help:      "Tool invocation duration in seconds",
			Buckets:   durationBuckets,
		}, []string{labelName}),
		skillInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skill_invocations_total",
			Help:      "Total number of skill invocations",
		}, []string{labelName, labelStatus}),
		modelRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_requests_total",
			Help:      "Total number of language model requests",
		}, []string{labelStatus}),
		modelDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_request_duration_seconds",
			Help:      "Language model request duration in seconds",
			Buckets:   durationBuckets,
		}),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of dialogue turns by outcome",
		}, []string{labelKind}),
		activeTurns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_turns",
			Help:      "Number of dialogue turns in progress",
		}),
		notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_sent_total",
			Help:      "Total number of upcoming-event notifications sent",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.toolInvocations, m.toolDuration, m.skillInvocations,
		m.modelRequests, m.modelDuration, m.turns, m.activeTurns, m.notifications,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func status(ok bool) string {
	if ok {
		return StatusSuccess
	}
	return StatusError
}

func (m *Metrics) ObserveTool(name string, ok bool, d time.Duration) {
	if m == nil {
		return
	}
	m.toolInvocations.WithLabelValues(name, status(ok)).Inc()
	m.toolDuration.WithLabelValues(name).Observe(d.Seconds())
}

func (m *Metrics) ObserveSkill(name string, ok bool) {
	if m == nil {
		return
	}
	m.skillInvocations.WithLabelValues(name, status(ok)).Inc()
}

func (m *Metrics) ObserveModel(ok bool, d time.Duration) {
	if m == nil {
		return
	}
	m.modelRequests.WithLabelValues(status(ok)).Inc()
	m.modelDuration.Observe(d.Seconds())
}

// TurnStarted marks a turn in progress and returns a function that records
// its outcome. kind is "ok" or the error kind that ended the turn.
func (m *Metrics) TurnStarted() func(kind string) {
	if m == nil {
		return func(string) {}
	}
	m.activeTurns.Inc()
	return func(kind string) {
		m.activeTurns.Dec()
		m.turns.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) NotificationSent() {
	if m == nil {
		return
	}
	m.notifications.Inc()
}
