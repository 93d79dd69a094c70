// Package metrics exposes Prometheus collectors for engine activity.
//
// All methods are safe on a nil *Collectors so engines can run without
// metrics wired.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"patentbatch/internal/task"
)

// Collectors groups the patentbatch metrics.
type Collectors struct {
	registry      *prometheus.Registry
	submissions   *prometheus.CounterVec
	polls         *prometheus.CounterVec
	retries       prometheus.Counter
	transitions   *prometheus.CounterVec
	remoteLatency *prometheus.HistogramVec
	batchStatus   *prometheus.GaugeVec
	results       *prometheus.GaugeVec
	tokens        *prometheus.CounterVec
}

// New creates collectors registered on a fresh registry.
func New() *Collectors {
	c := &Collectors{
		registry: prometheus.NewRegistry(),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "patentbatch_submissions_total",
			Help: "Remote submissions by mode and outcome",
		}, []string{"mode", "outcome"}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "patentbatch_polls_total",
			Help: "Status fetches by mode and outcome",
		}, []string{"mode", "outcome"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "patentbatch_retries_total",
			Help: "Async requests re-submitted after a remote failure",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "patentbatch_request_transitions_total",
			Help: "Async request transitions by target status",
		}, []string{"status"}),
		remoteLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "patentbatch_remote_latency_seconds",
			Help:    "Latency of remote calls by operation",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		batchStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "patentbatch_batch_status",
			Help: "1 for the current remote batch status",
		}, []string{"status"}),
		results: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "patentbatch_results",
			Help: "Current results by status",
		}, []string{"status"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "patentbatch_tokens_total",
			Help: "Tokens reported by the remote service",
		}, []string{"type"}),
	}
	c.registry.MustRegister(
		c.submissions,
		c.polls,
		c.retries,
		c.transitions,
		c.remoteLatency,
		c.batchStatus,
		c.results,
		c.tokens,
	)
	return c
}

// Registry returns the registry backing the collectors.
func (c *Collectors) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the collectors in the Prometheus text format.
func (c *Collectors) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collectors) Submission(mode task.Mode, outcome string) {
	if c == nil {
		return
	}
	c.submissions.WithLabelValues(string(mode), outcome).Inc()
}

func (c *Collectors) Poll(mode task.Mode, outcome string) {
	if c == nil {
		return
	}
	c.polls.WithLabelValues(string(mode), outcome).Inc()
}

func (c *Collectors) Retry() {
	if c == nil {
		return
	}
	c.retries.Inc()
}

func (c *Collectors) Transition(status task.Status) {
	if c == nil {
		return
	}
	c.transitions.WithLabelValues(string(status)).Inc()
}

// ObserveRemote records the duration of a remote call started at start.
func (c *Collectors) ObserveRemote(operation string, start time.Time) {
	if c == nil {
		return
	}
	c.remoteLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// BatchStatus marks status as the current batch status.
func (c *Collectors) BatchStatus(status task.BatchStatus) {
	if c == nil {
		return
	}
	c.batchStatus.Reset()
	c.batchStatus.WithLabelValues(string(status)).Set(1)
}

// Results publishes the current result counts.
func (c *Collectors) Results(counts map[task.Status]int) {
	if c == nil {
		return
	}
	for _, status := range task.AllStatuses() {
		c.results.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}

// Tokens adds reported token usage.
func (c *Collectors) Tokens(usage task.Usage) {
	if c == nil || usage.IsZero() {
		return
	}
	c.tokens.WithLabelValues("prompt").Add(float64(usage.PromptTokens))
	c.tokens.WithLabelValues("completion").Add(float64(usage.CompletionTokens))
}
