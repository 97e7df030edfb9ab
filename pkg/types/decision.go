package types

import (
	"fmt"
	"time"
)

// DecisionReason explains why a decision was reached
type DecisionReason string

const (
	// ReasonRateLimitExceeded - admission control refused the request (retryable)
	ReasonRateLimitExceeded DecisionReason = "RATE_LIMIT_EXCEEDED"
	// ReasonAuthorizationError - an unexpected internal fault, failed closed
	ReasonAuthorizationError DecisionReason = "AUTHORIZATION_ERROR"
	// ReasonNoPermission - no source carried a matching permission
	ReasonNoPermission DecisionReason = "NO_PERMISSION"
	// ReasonDirectRoleDeny - a direct role grant denied the action
	ReasonDirectRoleDeny DecisionReason = "DIRECT_ROLE_DENY"
	// ReasonDelegationDeny - a delegation denied the action
	ReasonDelegationDeny DecisionReason = "DELEGATION_DENY"
	// ReasonDirectRoleAllow - a direct role grant allowed the action
	ReasonDirectRoleAllow DecisionReason = "DIRECT_ROLE_ALLOW"
	// ReasonDelegationAllow - a delegation allowed the action
	ReasonDelegationAllow DecisionReason = "DELEGATION_ALLOW"
	// ReasonEmergencyOverride - an active emergency override allowed the action
	ReasonEmergencyOverride DecisionReason = "EMERGENCY_OVERRIDE"
)

// DecisionSource identifies the permission source behind a decision
type DecisionSource string

const (
	SourceDirectRole        DecisionSource = "DIRECT_ROLE"
	SourceDelegation        DecisionSource = "DELEGATION"
	SourceEmergencyOverride DecisionSource = "EMERGENCY_OVERRIDE"
	SourceRateLimiter       DecisionSource = "RATE_LIMITER"
	SourceNone              DecisionSource = "NONE"
)

// Decision is the authorization engine's output for one request
type Decision struct {
	Allowed           bool                   `json:"allowed"`
	Reason            DecisionReason         `json:"reason"`
	Source            DecisionSource         `json:"source"`
	MatchedPermission *Permission            `json:"matchedPermission,omitempty"`
	Details           map[string]interface{} `json:"details,omitempty"`
}

// CachedDecision wraps a decision with the freshness metadata the two-tier
// cache needs: storage time, TTL, the cache epoch it was written under, and
// an integrity checksum for the distributed tier.
type CachedDecision struct {
	Decision *Decision     `json:"decision"`
	StoredAt time.Time     `json:"storedAt"`
	TTL      time.Duration `json:"ttl"`
	Epoch    uint64        `json:"epoch"`
	Checksum uint32        `json:"checksum,omitempty"`
}

// Fresh reports whether the entry is still valid: its age must be within its
// TTL and, when versioning is in effect, its epoch must equal currentEpoch.
func (c *CachedDecision) Fresh(now time.Time, currentEpoch uint64) bool {
	return !c.Expired(now) && c.Epoch == currentEpoch
}

// Expired reports whether the entry has outlived its TTL
func (c *CachedDecision) Expired(now time.Time) bool {
	return now.Sub(c.StoredAt) > c.TTL
}

// DeniedError is the typed error used by throw-on-deny convenience wrappers.
// It carries the full decision for callers that need the details.
type DeniedError struct {
	Decision *Decision
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("authorization denied: %s", e.Decision.Reason)
}
