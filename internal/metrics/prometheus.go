package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics implements Metrics using Prometheus. The hot-path
// decision counters are mirrored into atomics so health snapshots can read
// them without touching the registry.
type PrometheusMetrics struct {
	decisionsAllow atomic.Uint64
	decisionsDeny  atomic.Uint64

	decisionsTotal   *prometheus.CounterVec
	decisionDuration prometheus.Histogram
	authErrors       *prometheus.CounterVec
	activeRequests   prometheus.Gauge

	cacheHits          *prometheus.CounterVec
	cacheMisses        *prometheus.CounterVec
	cacheEvictions     *prometheus.CounterVec
	cacheErrors        *prometheus.CounterVec
	cacheInvalidations *prometheus.CounterVec
	cacheSize          *prometheus.GaugeVec
	cacheEpoch         prometheus.Gauge

	rateLimitChecks     *prometheus.CounterVec
	rateLimitViolations *prometheus.CounterVec

	overrideActivations   *prometheus.CounterVec
	delegationTransitions *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance
func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	decisionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Total number of authorization decisions by reason",
		},
		[]string{"reason", "allowed"},
	)

	decisionDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "decision_duration_microseconds",
			Help:      "Authorization decision latency in microseconds",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000, 10000},
		},
	)

	authErrors := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total number of authorization errors by type",
		},
		[]string{"type"},
	)

	activeRequests := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_requests",
			Help:      "Number of active authorization requests",
		},
	)

	cacheHits := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of cache hits by tier",
		},
		[]string{"tier"},
	)

	cacheMisses := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total number of cache misses by tier",
		},
		[]string{"tier"},
	)

	cacheEvictions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Total number of cache evictions by tier",
		},
		[]string{"tier"},
	)

	cacheErrors := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "errors_total",
			Help:      "Total number of cache store errors by tier",
		},
		[]string{"tier"},
	)

	cacheInvalidations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "invalidations_total",
			Help:      "Total number of cache invalidations by trigger",
		},
		[]string{"trigger"},
	)

	cacheSize := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Current number of cache entries by tier",
		},
		[]string{"tier"},
	)

	cacheEpoch := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "epoch",
			Help:      "Current cache epoch",
		},
	)

	rateLimitChecks := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "checks_total",
			Help:      "Total number of rate limit checks by rule and outcome",
		},
		[]string{"rule", "allowed"},
	)

	rateLimitViolations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "violations_total",
			Help:      "Total number of rate limit violations by rule",
		},
		[]string{"rule"},
	)

	overrideActivations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "override",
			Name:      "activations_total",
			Help:      "Total number of emergency override activations by reason",
		},
		[]string{"reason"},
	)

	delegationTransitions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delegation",
			Name:      "transitions_total",
			Help:      "Total number of delegation state transitions",
		},
		[]string{"state"},
	)

	registry.MustRegister(
		decisionsTotal,
		decisionDuration,
		authErrors,
		activeRequests,
		cacheHits,
		cacheMisses,
		cacheEvictions,
		cacheErrors,
		cacheInvalidations,
		cacheSize,
		cacheEpoch,
		rateLimitChecks,
		rateLimitViolations,
		overrideActivations,
		delegationTransitions,
	)

	return &PrometheusMetrics{
		decisionsTotal:        decisionsTotal,
		decisionDuration:      decisionDuration,
		authErrors:            authErrors,
		activeRequests:        activeRequests,
		cacheHits:             cacheHits,
		cacheMisses:           cacheMisses,
		cacheEvictions:        cacheEvictions,
		cacheErrors:           cacheErrors,
		cacheInvalidations:    cacheInvalidations,
		cacheSize:             cacheSize,
		cacheEpoch:            cacheEpoch,
		rateLimitChecks:       rateLimitChecks,
		rateLimitViolations:   rateLimitViolations,
		overrideActivations:   overrideActivations,
		delegationTransitions: delegationTransitions,
		registry:              registry,
	}
}

// RecordDecision records one authorization decision
func (p *PrometheusMetrics) RecordDecision(reason string, allowed bool, duration time.Duration) {
	if allowed {
		p.decisionsAllow.Add(1)
	} else {
		p.decisionsDeny.Add(1)
	}

	p.decisionsTotal.WithLabelValues(reason, boolLabel(allowed)).Inc()
	p.decisionDuration.Observe(float64(duration.Microseconds()))
}

// DecisionCounts returns the atomic allow/deny totals for health snapshots
func (p *PrometheusMetrics) DecisionCounts() (allow, deny uint64) {
	return p.decisionsAllow.Load(), p.decisionsDeny.Load()
}

// RecordAuthError records an internal authorization fault
func (p *PrometheusMetrics) RecordAuthError(errorType string) {
	p.authErrors.WithLabelValues(errorType).Inc()
}

// IncActiveRequests increments active requests
func (p *PrometheusMetrics) IncActiveRequests() {
	p.activeRequests.Inc()
}

// DecActiveRequests decrements active requests
func (p *PrometheusMetrics) DecActiveRequests() {
	p.activeRequests.Dec()
}

func (p *PrometheusMetrics) RecordCacheHit(tier string) {
	p.cacheHits.WithLabelValues(tier).Inc()
}

func (p *PrometheusMetrics) RecordCacheMiss(tier string) {
	p.cacheMisses.WithLabelValues(tier).Inc()
}

func (p *PrometheusMetrics) RecordCacheEviction(tier string) {
	p.cacheEvictions.WithLabelValues(tier).Inc()
}

func (p *PrometheusMetrics) RecordCacheError(tier string) {
	p.cacheErrors.WithLabelValues(tier).Inc()
}

func (p *PrometheusMetrics) RecordCacheInvalidation(trigger string, keys int) {
	p.cacheInvalidations.WithLabelValues(trigger).Add(float64(keys))
}

func (p *PrometheusMetrics) UpdateCacheSize(tier string, size int) {
	p.cacheSize.WithLabelValues(tier).Set(float64(size))
}

func (p *PrometheusMetrics) UpdateCacheEpoch(epoch uint64) {
	p.cacheEpoch.Set(float64(epoch))
}

func (p *PrometheusMetrics) RecordRateLimitCheck(ruleID string, allowed bool) {
	p.rateLimitChecks.WithLabelValues(ruleID, boolLabel(allowed)).Inc()
}

func (p *PrometheusMetrics) RecordRateLimitViolation(ruleID string, backoffLevel int) {
	p.rateLimitViolations.WithLabelValues(ruleID).Inc()
}

func (p *PrometheusMetrics) RecordOverrideActivation(reason string) {
	p.overrideActivations.WithLabelValues(reason).Inc()
}

func (p *PrometheusMetrics) RecordDelegationTransition(state string) {
	p.delegationTransitions.WithLabelValues(state).Inc()
}

// HTTPHandler returns the Prometheus HTTP handler for the /metrics endpoint
func (p *PrometheusMetrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
