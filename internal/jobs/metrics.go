// Package jobmetrics instruments the insights worker and serves its metrics.
package jobmetrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Warmup guide outcomes.
const (
	GuideWarmed = "warmed"
	GuideFailed = "failed"
)

// Metrics holds the worker registry: task runs plus per-guide warmup outcomes.
type Metrics struct {
	registry     *prometheus.Registry
	runs         *prometheus.CounterVec
	failures     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	lastSuccess  *prometheus.GaugeVec
	warmupGuides *prometheus.CounterVec
}

// NewMetrics builds a registry with the task collectors and the Go runtime and
// process collectors of the worker.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tourops_jobs_total",
			Help: "Task executions by task type and status.",
		}, []string{"job", "status"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tourops_jobs_failures_total",
			Help: "Failed task executions by task type.",
		}, []string{"job"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tourops_job_duration_seconds",
			Help:    "Task execution time by task type.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}, []string{"job"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tourops_job_last_success_timestamp_seconds",
			Help: "Unix time of the last successful execution by task type.",
		}, []string{"job"}),
		warmupGuides: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tourops_insights_warmup_guides_total",
			Help: "Guides processed by the insights warmup by result.",
		}, []string{"result"}),
	}
	m.registry.MustRegister(
		m.runs, m.failures, m.duration, m.lastSuccess, m.warmupGuides,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	// Pre-create the series alerts depend on so they read 0 before the first failure.
	for _, result := range []string{GuideWarmed, GuideFailed} {
		m.warmupGuides.WithLabelValues(result)
	}
	return m
}

// Handler serves the worker registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Watch registers a task type so its failure series exists from startup.
func (m *Metrics) Watch(jobs ...string) {
	if m == nil {
		return
	}
	for _, job := range jobs {
		m.failures.WithLabelValues(job)
	}
}

// ObserveWarmupGuide records the outcome of warming one guide.
func (m *Metrics) ObserveWarmupGuide(result string) {
	if m == nil {
		return
	}
	m.warmupGuides.WithLabelValues(result).Inc()
}

// Tracker times one task execution.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track starts timing a run of job. A nil Metrics yields a no-op tracker.
func (m *Metrics) Track(job string) *Tracker {
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End records the run and returns err unchanged.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	m := t.metrics
	m.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	if err != nil {
		m.failures.WithLabelValues(t.job).Inc()
		m.runs.WithLabelValues(t.job, "failure").Inc()
		return err
	}
	m.runs.WithLabelValues(t.job, "success").Inc()
	m.lastSuccess.WithLabelValues(t.job).SetToCurrentTime()
	return nil
}
