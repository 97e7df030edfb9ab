package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Result is the outcome of one rule check
type Result struct {
	Allowed      bool          `json:"allowed"`
	RuleID       string        `json:"ruleId"`
	Limit        int           `json:"limit"`
	Remaining    int           `json:"remaining"`
	ResetTime    time.Time     `json:"resetTime"`
	RetryAfter   time.Duration `json:"retryAfter,omitempty"`
	BackoffLevel int           `json:"backoffLevel,omitempty"`
}

// CompositeResult is the AND of several rule checks
type CompositeResult struct {
	Allowed bool      `json:"allowed"`
	Results []*Result `json:"results"`
}

// ViolationHandler is invoked asynchronously when a check trips backoff
type ViolationHandler func(subject, resourceClass, ruleID string, violationCount, backoffLevel int)

// Limiter is the token-bucket admission controller. Buckets live in a
// shared store with a per-process fallback; a store fault never blocks a
// caller (fail open).
type Limiter struct {
	mu       sync.RWMutex
	config   *Config
	store    Store
	fallback Store

	logger      *zap.Logger
	onViolation ViolationHandler
	now         func() time.Time
}

// NewLimiter creates a limiter. store may be nil (fallback-only operation);
// fallback may be nil when no local store is wanted.
func NewLimiter(config *Config, store Store, fallback Store, logger *zap.Logger) (*Limiter, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Limiter{
		config:   config,
		store:    store,
		fallback: fallback,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// SetViolationHandler registers the backoff violation callback
func (l *Limiter) SetViolationHandler(h ViolationHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onViolation = h
}

// UpdateConfig swaps the rule set atomically (hot reload)
func (l *Limiter) UpdateConfig(config *Config) error {
	if err := config.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	l.config = config
	l.mu.Unlock()

	l.logger.Info("rate limit rules reloaded", zap.Int("rules", len(config.Rules)))
	return nil
}

func (l *Limiter) snapshot() (*Config, ViolationHandler) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config, l.onViolation
}

// CheckLimit runs one token-bucket check. ruleID may be empty; the rule is
// then resolved from the resource class. A store fault on both tiers allows
// the request.
func (l *Limiter) CheckLimit(ctx context.Context, subject, resourceClass, ruleID string) *Result {
	config, onViolation := l.snapshot()
	rule := config.ResolveRule(ruleID, resourceClass)
	key := BucketKey(subject, resourceClass, rule.ID)
	now := l.now()

	store, bucket, ok := l.loadBucket(ctx, key)
	if !ok {
		// No store reachable: never block legitimate traffic on limiter outage
		return &Result{
			Allowed:   true,
			RuleID:    rule.ID,
			Limit:     rule.Limit,
			Remaining: rule.Limit,
			ResetTime: now,
		}
	}
	if bucket == nil {
		bucket = newBucket(rule, now)
	}

	if bucket.inBackoff(now) {
		return &Result{
			Allowed:      false,
			RuleID:       rule.ID,
			Limit:        rule.Limit,
			Remaining:    0,
			ResetTime:    bucket.BackoffExpiry,
			RetryAfter:   bucket.BackoffExpiry.Sub(now),
			BackoffLevel: bucket.BackoffLevel,
		}
	}

	bucket.refill(rule, now)

	if bucket.Tokens >= 1 {
		bucket.Tokens--
		l.persistBucket(ctx, store, key, bucket, config.BucketTTL)
		return &Result{
			Allowed:   true,
			RuleID:    rule.ID,
			Limit:     rule.Limit,
			Remaining: int(bucket.Tokens),
			ResetTime: bucket.resetTime(rule, now),
		}
	}

	result := &Result{
		Allowed:   false,
		RuleID:    rule.ID,
		Limit:     rule.Limit,
		Remaining: 0,
	}

	if rule.BackoffEnabled {
		bucket.recordViolation(rule, now)
		result.BackoffLevel = bucket.BackoffLevel
		result.ResetTime = bucket.BackoffExpiry
		result.RetryAfter = bucket.BackoffExpiry.Sub(now)

		if onViolation != nil {
			go onViolation(subject, resourceClass, rule.ID, bucket.ViolationCount, bucket.BackoffLevel)
		}
	} else {
		result.ResetTime = bucket.resetTime(rule, now)
		result.RetryAfter = result.ResetTime.Sub(now)
	}

	l.persistBucket(ctx, store, key, bucket, config.BucketTTL)
	return result
}

// CheckAll requires every listed rule to pass for the same subject/class.
// All rules are evaluated (each consumes from its own bucket) so one check
// cannot mask another's violation accounting.
func (l *Limiter) CheckAll(ctx context.Context, subject, resourceClass string, ruleIDs []string) *CompositeResult {
	composite := &CompositeResult{Allowed: true}
	for _, id := range ruleIDs {
		result := l.CheckLimit(ctx, subject, resourceClass, id)
		composite.Results = append(composite.Results, result)
		if !result.Allowed {
			composite.Allowed = false
		}
	}
	return composite
}

// ClearBackoff resets violation state for one bucket, keeping its tokens
func (l *Limiter) ClearBackoff(ctx context.Context, subject, resourceClass, ruleID string) error {
	config, _ := l.snapshot()
	rule := config.ResolveRule(ruleID, resourceClass)
	key := BucketKey(subject, resourceClass, rule.ID)

	store, bucket, ok := l.loadBucket(ctx, key)
	if !ok || bucket == nil {
		return nil
	}

	bucket.clearBackoff()
	return store.Put(ctx, key, bucket, config.BucketTTL)
}

// ResetSubject deletes every bucket owned by a subject, in both stores
func (l *Limiter) ResetSubject(ctx context.Context, subject string) (int, error) {
	pattern := SubjectBucketPattern(subject)

	removed := 0
	var firstErr error
	for _, store := range []Store{l.store, l.fallback} {
		if store == nil {
			continue
		}
		n, err := store.DeletePattern(ctx, pattern)
		removed += n
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return removed, firstErr
}

// loadBucket reads the bucket from the shared store, falling back to the
// local store on fault. The returned store is where the bucket must be
// written back. ok is false only when no store is usable.
func (l *Limiter) loadBucket(ctx context.Context, key string) (Store, *Bucket, bool) {
	if l.store != nil {
		bucket, err := l.store.Get(ctx, key)
		if err == nil {
			return l.store, bucket, true
		}
		l.logger.Warn("bucket store unavailable, using local fallback",
			zap.String("key", key),
			zap.Error(err))
	}

	if l.fallback != nil {
		bucket, err := l.fallback.Get(ctx, key)
		if err == nil {
			return l.fallback, bucket, true
		}
	}
	return nil, nil, false
}

func (l *Limiter) persistBucket(ctx context.Context, store Store, key string, bucket *Bucket, ttl time.Duration) {
	if err := store.Put(ctx, key, bucket, ttl); err != nil {
		l.logger.Warn("bucket persist failed", zap.String("key", key), zap.Error(err))
		if l.fallback != nil && store != l.fallback {
			if err := l.fallback.Put(ctx, key, bucket, ttl); err != nil {
				l.logger.Warn("fallback bucket persist failed", zap.String("key", key), zap.Error(err))
			}
		}
	}
}
