package metrics

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "content_pipeline"

	// Attempt outcomes
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
	OutcomeRetried   = "retried"
	OutcomeRejected  = "rejected"
)

// Metrics holds the pipeline collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	jobsSubmitted   *prometheus.CounterVec
	jobAttempts     *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	sweptJobs       *prometheus.CounterVec
	pushSubscribers prometheus.Gauge
	pushDropped     prometheus.Counter
	httpRequests    *prometheus.CounterVec
	httpLatency     *prometheus.HistogramVec
}

// New builds the collectors and registers them, together with the Go and process
// collectors, on a fresh registry
func New(service string) *Metrics {
	constLabels := prometheus.Labels{"service": service}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "jobs_submitted_total",
			Help:        "Number of accepted job submissions partitioned by content kind.",
			ConstLabels: constLabels,
		}, []string{"kind"}),
		jobAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "job_attempts_total",
			Help:        "Number of processing attempts partitioned by outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		attemptDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "job_attempt_duration_seconds",
			Help:        "Time spent on one processing attempt partitioned by outcome.",
			ConstLabels: constLabels,
			Buckets:     []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"outcome"}),
		sweptJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "swept_jobs_total",
			Help:        "Number of stale jobs failed by the sweeper partitioned by previous status.",
			ConstLabels: constLabels,
		}, []string{"status"}),
		pushSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "push_subscribers",
			Help:        "Number of currently connected push subscribers.",
			ConstLabels: constLabels,
		}),
		pushDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "push_dropped_total",
			Help:        "Number of lifecycle events dropped for slow subscribers.",
			ConstLabels: constLabels,
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "http_requests_total",
			Help:        "Number of HTTP requests partitioned by status code, method and HTTP path.",
			ConstLabels: constLabels,
		}, []string{"code", "method", "path"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "http_request_duration_seconds",
			Help:        "Time spent on the request partitioned by status code, method and HTTP path.",
			ConstLabels: constLabels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"code", "method", "path"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.jobsSubmitted,
		m.jobAttempts,
		m.attemptDuration,
		m.sweptJobs,
		m.pushSubscribers,
		m.pushDropped,
		m.httpRequests,
		m.httpLatency,
	)

	return m
}

// RegisterDB exposes connection pool statistics for db
func (m *Metrics) RegisterDB(db *sql.DB, name string) {
	if m == nil {
		return
	}
	m.registry.MustRegister(collectors.NewDBStatsCollector(db, name))
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// JobSubmitted counts an accepted submission
func (m *Metrics) JobSubmitted(kind string) {
	if m == nil {
		return
	}
	m.jobsSubmitted.WithLabelValues(kind).Inc()
}

// AttemptFinished records one processing attempt
func (m *Metrics) AttemptFinished(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.jobAttempts.WithLabelValues(outcome).Inc()
	m.attemptDuration.WithLabelValues(outcome).Observe(took.Seconds())
}

// JobSwept counts a job failed by the sweeper
func (m *Metrics) JobSwept(previous string) {
	if m == nil {
		return
	}
	m.sweptJobs.WithLabelValues(previous).Inc()
}

// SubscriberAdded tracks a new push subscriber
func (m *Metrics) SubscriberAdded() {
	if m == nil {
		return
	}
	m.pushSubscribers.Inc()
}

// SubscriberRemoved tracks a disconnected push subscriber
func (m *Metrics) SubscriberRemoved() {
	if m == nil {
		return
	}
	m.pushSubscribers.Dec()
}

// PushDropped counts an event dropped for a slow subscriber
func (m *Metrics) PushDropped() {
	if m == nil {
		return
	}
	m.pushDropped.Inc()
}

// GinMiddleware records request counts and latency by route pattern
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if m == nil {
			return
		}

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		code := strconv.Itoa(c.Writer.Status())
		m.httpRequests.WithLabelValues(code, c.Request.Method, path).Inc()
		m.httpLatency.WithLabelValues(code, c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
