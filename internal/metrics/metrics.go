// Package metrics exposes Prometheus collectors for validation attempts.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ShayCichocki/valiloop/pkg/models"
)

const namespace = "valiloop"

// Metrics holds the collectors.
type Metrics struct {
	registry *prometheus.Registry

	attempts       *prometheus.CounterVec
	criteria       *prometheus.CounterVec
	deployFailures *prometheus.CounterVec
	probes         *prometheus.CounterVec
	roundDuration  prometheus.Histogram
	deployDuration prometheus.Histogram
	instances      prometheus.Gauge
	activeWorkers  prometheus.Gauge
}

// New registers collectors on a fresh registry, together with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		attempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "Validation attempts by response status.",
		}, []string{"status"}),
		criteria: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "criteria_total",
			Help:      "Criterion results by outcome.",
		}, []string{"outcome"}),
		deployFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deploy_failures_total",
			Help:      "Deployment failures by stage.",
		}, []string{"stage"}),
		probes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_total",
			Help:      "Health probes by result.",
		}, []string{"result"}),
		roundDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "round_duration_seconds",
			Help:      "Wall time of one criterion round.",
			Buckets:   prometheus.ExponentialBuckets(5, 2, 8),
		}),
		deployDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "deploy_duration_seconds",
			Help:      "Wall time from install to port detection.",
			Buckets:   prometheus.ExponentialBuckets(5, 2, 8),
		}),
		instances: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "instances_ready",
			Help:      "Instances with a detected port in the current attempt.",
		}),
		activeWorkers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_workers",
			Help:      "Workers currently holding a browser session.",
		}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// AttemptFinished counts an attempt by its response status tag.
func (m *Metrics) AttemptFinished(status string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(status).Inc()
}

// CriterionResult counts one criterion outcome.
func (m *Metrics) CriterionResult(outcome models.Outcome) {
	if m == nil {
		return
	}
	m.criteria.WithLabelValues(string(outcome)).Inc()
}

// DeployFailed counts a deployment failure at stage.
func (m *Metrics) DeployFailed(stage string) {
	if m == nil {
		return
	}
	m.deployFailures.WithLabelValues(stage).Inc()
}

// Deployed records a successful deployment.
func (m *Metrics) Deployed(d time.Duration, ready int) {
	if m == nil {
		return
	}
	m.deployDuration.Observe(d.Seconds())
	m.instances.Set(float64(ready))
}

// Probed counts a probe result: loaded, load_failed or classification_error.
func (m *Metrics) Probed(result string) {
	if m == nil {
		return
	}
	m.probes.WithLabelValues(result).Inc()
}

// RoundCompleted observes a round's duration.
func (m *Metrics) RoundCompleted(d time.Duration) {
	if m == nil {
		return
	}
	m.roundDuration.Observe(d.Seconds())
}

// WorkerStarted and WorkerDone track sessions in use.
func (m *Metrics) WorkerStarted() {
	if m == nil {
		return
	}
	m.activeWorkers.Inc()
}

func (m *Metrics) WorkerDone() {
	if m == nil {
		return
	}
	m.activeWorkers.Dec()
}

// TornDown resets the instance gauge.
func (m *Metrics) TornDown() {
	if m == nil {
		return
	}
	m.instances.Set(0)
}
