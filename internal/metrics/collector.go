// Package metrics exposes Prometheus collectors for job orchestration and HTTP traffic.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector groups the service's collectors. A nil *Collector is valid and
// records nothing.
type Collector struct {
	registry *prometheus.Registry

	submissions  *prometheus.CounterVec
	polls        *prometheus.CounterVec
	terminal     *prometheus.CounterVec
	relocations  *prometheus.CounterVec
	callerRuns   prometheus.Counter
	activeLoops  prometheus.Gauge
	jobDuration  *prometheus.HistogramVec
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewCollector registers every collector on a fresh registry under namespace.
func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_submissions_total",
			Help:      "Provider job submissions by kind and outcome",
		}, []string{"kind", "outcome"}),
		polls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_polls_total",
			Help:      "Provider status polls by outcome",
		}, []string{"outcome"}),
		terminal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_terminal_total",
			Help:      "Jobs reaching a terminal status",
		}, []string{"status"}),
		relocations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "asset_relocations_total",
			Help:      "Result asset relocations by outcome",
		}, []string{"outcome"}),
		callerRuns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relocation_caller_runs_total",
			Help:      "Relocations executed on the submitting goroutine because the pool queue was full",
		}),
		activeLoops: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "poll_loops_active",
			Help:      "Poll loops currently running",
		}),
		jobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Time from submission to terminal status",
			Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200, 1800},
		}, []string{"status"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) Submission(kind, outcome string) {
	if c == nil {
		return
	}
	c.submissions.WithLabelValues(kind, outcome).Inc()
}

func (c *Collector) Poll(outcome string) {
	if c == nil {
		return
	}
	c.polls.WithLabelValues(outcome).Inc()
}

// Terminal records a finished job and how long it ran.
func (c *Collector) Terminal(status string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.terminal.WithLabelValues(status).Inc()
	c.jobDuration.WithLabelValues(status).Observe(elapsed.Seconds())
}

func (c *Collector) Relocation(outcome string) {
	if c == nil {
		return
	}
	c.relocations.WithLabelValues(outcome).Inc()
}

func (c *Collector) CallerRuns() {
	if c == nil {
		return
	}
	c.callerRuns.Inc()
}

// LoopStarted increments the active loop gauge and returns its decrement.
func (c *Collector) LoopStarted() func() {
	if c == nil {
		return func() {}
	}
	c.activeLoops.Inc()
	return c.activeLoops.Dec
}

func (c *Collector) HTTPRequest(method, route string, status int, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(method, route, http.StatusText(status)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
