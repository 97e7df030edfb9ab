// Package metrics provides observability for the authorization engine
package metrics

import (
	"net/http"
	"time"
)

// Metrics provides observability for the authorization engine
type Metrics interface {
	// Authorization metrics
	RecordDecision(reason string, allowed bool, duration time.Duration)
	RecordAuthError(errorType string)
	IncActiveRequests()
	DecActiveRequests()

	// Cache metrics
	RecordCacheHit(tier string)
	RecordCacheMiss(tier string)
	RecordCacheEviction(tier string)
	RecordCacheError(tier string)
	RecordCacheInvalidation(trigger string, keys int)
	UpdateCacheSize(tier string, size int)
	UpdateCacheEpoch(epoch uint64)

	// Rate limiter metrics
	RecordRateLimitCheck(ruleID string, allowed bool)
	RecordRateLimitViolation(ruleID string, backoffLevel int)

	// Lifecycle metrics
	RecordOverrideActivation(reason string)
	RecordDelegationTransition(state string)

	// HTTP handler for Prometheus scraping
	HTTPHandler() http.Handler
}

// NoOpMetrics provides a no-op implementation for testing/disabled monitoring
type NoOpMetrics struct{}

// NewNoOpMetrics creates a new no-op metrics instance
func NewNoOpMetrics() *NoOpMetrics {
	return &NoOpMetrics{}
}

func (n *NoOpMetrics) RecordDecision(string, bool, time.Duration) {}
func (n *NoOpMetrics) RecordAuthError(string)                     {}
func (n *NoOpMetrics) IncActiveRequests()                         {}
func (n *NoOpMetrics) DecActiveRequests()                         {}
func (n *NoOpMetrics) RecordCacheHit(string)                      {}
func (n *NoOpMetrics) RecordCacheMiss(string)                     {}
func (n *NoOpMetrics) RecordCacheEviction(string)                 {}
func (n *NoOpMetrics) RecordCacheError(string)                    {}
func (n *NoOpMetrics) RecordCacheInvalidation(string, int)        {}
func (n *NoOpMetrics) UpdateCacheSize(string, int)                {}
func (n *NoOpMetrics) UpdateCacheEpoch(uint64)                    {}
func (n *NoOpMetrics) RecordRateLimitCheck(string, bool)          {}
func (n *NoOpMetrics) RecordRateLimitViolation(string, int)       {}
func (n *NoOpMetrics) RecordOverrideActivation(string)            {}
func (n *NoOpMetrics) RecordDelegationTransition(string)          {}

// HTTPHandler returns a no-op handler
func (n *NoOpMetrics) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("# NoOp metrics - monitoring disabled\n"))
	})
}
