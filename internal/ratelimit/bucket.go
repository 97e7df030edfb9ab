package ratelimit

import (
	"fmt"
	"time"
)

// Bucket is the persisted token-bucket state for one (subject, class, rule)
type Bucket struct {
	Tokens         float64   `json:"tokens"`
	LastRefill     time.Time `json:"lastRefill"`
	BackoffLevel   int       `json:"backoffLevel,omitempty"`
	BackoffExpiry  time.Time `json:"backoffExpiry,omitempty"`
	ViolationCount int       `json:"violationCount,omitempty"`
}

// newBucket returns a full bucket
func newBucket(rule *Rule, now time.Time) *Bucket {
	return &Bucket{
		Tokens:     float64(rule.Limit),
		LastRefill: now,
	}
}

// refill adds elapsed-time tokens, capped at the rule's capacity
func (b *Bucket) refill(rule *Rule, now time.Time) {
	elapsed := now.Sub(b.LastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.Tokens += elapsed * rule.RefillRate
	if b.Tokens > float64(rule.Limit) {
		b.Tokens = float64(rule.Limit)
	}
	b.LastRefill = now
}

// inBackoff reports whether the bucket is inside a backoff window
func (b *Bucket) inBackoff(now time.Time) bool {
	return !b.BackoffExpiry.IsZero() && now.Before(b.BackoffExpiry)
}

// recordViolation escalates the backoff one level, capped by the rule
func (b *Bucket) recordViolation(rule *Rule, now time.Time) {
	b.ViolationCount++
	if b.BackoffLevel < rule.MaxBackoffLevel {
		b.BackoffLevel++
	}
	b.BackoffExpiry = now.Add(rule.BackoffDuration(b.BackoffLevel))
}

// clearBackoff resets violation state without touching tokens
func (b *Bucket) clearBackoff() {
	b.BackoffLevel = 0
	b.BackoffExpiry = time.Time{}
	b.ViolationCount = 0
}

// resetTime estimates when the next token becomes available
func (b *Bucket) resetTime(rule *Rule, now time.Time) time.Time {
	if b.Tokens >= 1 {
		return now
	}
	deficit := 1 - b.Tokens
	return now.Add(time.Duration(deficit / rule.RefillRate * float64(time.Second)))
}

// BucketKey builds the store key for one bucket
func BucketKey(subject, resourceClass, ruleID string) string {
	return fmt.Sprintf("bucket:%s:%s:%s", subject, resourceClass, ruleID)
}

// SubjectBucketPattern matches every bucket owned by one subject
func SubjectBucketPattern(subject string) string {
	return fmt.Sprintf("bucket:%s:*", subject)
}
