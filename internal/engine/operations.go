package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/careaccess/go-core/internal/audit"
	"github.com/careaccess/go-core/internal/cache"
	"github.com/careaccess/go-core/pkg/types"
)

// Canonical action/resource-class pairs and dedicated rate-limit rules for
// the privileged derived operations.
const (
	actionRoleAssign       = "role.assign"
	classRoleManagement    = "role_management"
	ruleRoleManagement     = "role-management"
	actionDelegationCreate = "delegation.create"
	classDelegation        = "delegation"
	ruleDelegation         = "delegation"
	actionOverrideActivate = "emergency.activate"
	classOverride          = "emergency_override"
	ruleOverride           = "emergency"
	actionAdminExecute     = "admin.execute"
	classAdmin             = "admin"
	ruleAdmin              = "admin"
)

// globalRule is the per-subject budget every derived operation also passes
const globalRule = "default"

// AuthorizeRoleAssignment authorizes a role-management operation
func (e *Engine) AuthorizeRoleAssignment(ctx context.Context, subject, targetID string) *types.Decision {
	return e.authorizeDerived(ctx, subject, actionRoleAssign, targetID, classRoleManagement, ruleRoleManagement)
}

// AuthorizeDelegation authorizes creating a delegation
func (e *Engine) AuthorizeDelegation(ctx context.Context, subject, targetID string) *types.Decision {
	return e.authorizeDerived(ctx, subject, actionDelegationCreate, targetID, classDelegation, ruleDelegation)
}

// AuthorizeEmergencyOverride authorizes activating an emergency override
func (e *Engine) AuthorizeEmergencyOverride(ctx context.Context, subject, targetID string) *types.Decision {
	return e.authorizeDerived(ctx, subject, actionOverrideActivate, targetID, classOverride, ruleOverride)
}

// AuthorizeAdminOperation authorizes an administrative operation
func (e *Engine) AuthorizeAdminOperation(ctx context.Context, subject, targetID string) *types.Decision {
	return e.authorizeDerived(ctx, subject, actionAdminExecute, targetID, classAdmin, ruleAdmin)
}

// authorizeDerived first passes the dedicated stricter rule plus the global
// per-subject rule, then delegates to Authorize with the canonical pair.
func (e *Engine) authorizeDerived(ctx context.Context, subject, action, targetID, resourceClass, ruleID string) *types.Decision {
	composite := e.limiter.CheckAll(ctx, subject, resourceClass, []string{ruleID, globalRule})
	if !composite.Allowed {
		for _, result := range composite.Results {
			e.metrics.RecordRateLimitCheck(result.RuleID, result.Allowed)
			if !result.Allowed {
				decision := rateLimitedDecision(result)
				e.finish(subject, action, targetID, decision, e.now())
				return decision
			}
		}
	}

	return e.Authorize(ctx, subject, action, targetID, resourceClass)
}

// InvalidationTrigger names the policy change behind a cache invalidation
type InvalidationTrigger string

const (
	TriggerRoleAssigned         InvalidationTrigger = "ROLE_ASSIGNED"
	TriggerRoleRevoked          InvalidationTrigger = "ROLE_REVOKED"
	TriggerDelegationCreated    InvalidationTrigger = "DELEGATION_CREATED"
	TriggerDelegationRevoked    InvalidationTrigger = "DELEGATION_REVOKED"
	TriggerPermissionSetUpdated InvalidationTrigger = "PERMISSION_SET_UPDATED"
)

// InvalidateCache drops cached decisions affected by a policy change. For
// subject-scoped triggers the id is the subject; for
// PERMISSION_SET_UPDATED it is the permission set id, fanned out to every
// subject holding the set.
func (e *Engine) InvalidateCache(ctx context.Context, trigger InvalidationTrigger, id string) error {
	var removed int
	var err error

	switch trigger {
	case TriggerRoleAssigned, TriggerRoleRevoked, TriggerDelegationCreated, TriggerDelegationRevoked:
		removed, err = e.cache.InvalidateSubject(ctx, id)

	case TriggerPermissionSetUpdated:
		subjects, ferr := e.repo.FetchSubjectsForPermissionSet(ctx, id)
		if ferr != nil {
			return fmt.Errorf("fetch subjects for permission set %s: %w", id, ferr)
		}
		patterns := make([]string, 0, len(subjects))
		for _, subject := range subjects {
			patterns = append(patterns, cache.SubjectPattern(subject))
		}
		removed, err = e.cache.InvalidateMultiple(ctx, patterns)

	default:
		return fmt.Errorf("unknown invalidation trigger: %s", trigger)
	}

	e.metrics.RecordCacheInvalidation(string(trigger), removed)
	e.auditor.Record(audit.EventTypeCacheInvalidation, audit.CategoryAuthorization,
		"decision cache invalidated", audit.Fields{
			Target:  id,
			Success: err == nil,
			Data: map[string]interface{}{
				"trigger": trigger,
				"removed": removed,
			},
		})

	if err != nil {
		return fmt.Errorf("invalidate cache for %s: %w", trigger, err)
	}
	return nil
}

// ComponentHealth reports one dependency's health
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// HealthSnapshot is the engine's component health view
type HealthSnapshot struct {
	Healthy    bool                       `json:"healthy"`
	Components map[string]ComponentHealth `json:"components"`
	CacheStats cache.Stats                `json:"cacheStats"`
}

// Health probes the repository and cache tiers
func (e *Engine) Health(ctx context.Context) *HealthSnapshot {
	snapshot := &HealthSnapshot{
		Healthy:    true,
		Components: make(map[string]ComponentHealth),
		CacheStats: e.cache.Stats(),
	}

	if err := e.repo.Ping(ctx); err != nil {
		snapshot.Healthy = false
		snapshot.Components["repository"] = ComponentHealth{Healthy: false, Error: err.Error()}
	} else {
		snapshot.Components["repository"] = ComponentHealth{Healthy: true}
	}

	if err := e.cache.Ping(ctx); err != nil {
		// Tier-2 loss degrades to tier-1-only operation, not unhealthy
		snapshot.Components["cache"] = ComponentHealth{Healthy: false, Error: err.Error()}
	} else {
		snapshot.Components["cache"] = ComponentHealth{Healthy: true}
	}

	return snapshot
}

// ResetSubjectLimits deletes every rate bucket a subject owns. The reset is
// itself an authorized and audited administrative operation.
func (e *Engine) ResetSubjectLimits(ctx context.Context, actor, subject string) error {
	if decision := e.AuthorizeAdminOperation(ctx, actor, subject); !decision.Allowed {
		return &types.DeniedError{Decision: decision}
	}

	removed, err := e.limiter.ResetSubject(ctx, subject)
	e.auditor.Record(audit.EventTypeAdminAction, audit.CategoryAdmin,
		"rate limit buckets reset", audit.Fields{
			Actor:   actor,
			Target:  subject,
			Success: err == nil,
			Data:    map[string]interface{}{"removed": removed},
		})
	if err != nil {
		return fmt.Errorf("reset subject limits: %w", err)
	}

	e.logger.Info("rate limit buckets reset",
		zap.String("actor", actor),
		zap.String("subject", subject),
		zap.Int("removed", removed))
	return nil
}

// ClearSubjectBackoff clears one bucket's backoff window. Authorized and
// audited like every administrative reset.
func (e *Engine) ClearSubjectBackoff(ctx context.Context, actor, subject, resourceClass, ruleID string) error {
	if decision := e.AuthorizeAdminOperation(ctx, actor, subject); !decision.Allowed {
		return &types.DeniedError{Decision: decision}
	}

	err := e.limiter.ClearBackoff(ctx, subject, resourceClass, ruleID)
	e.auditor.Record(audit.EventTypeAdminAction, audit.CategoryAdmin,
		"rate limit backoff cleared", audit.Fields{
			Actor:   actor,
			Target:  subject,
			Success: err == nil,
			Data: map[string]interface{}{
				"resource_class": resourceClass,
				"rule":           ruleID,
			},
		})
	if err != nil {
		return fmt.Errorf("clear subject backoff: %w", err)
	}
	return nil
}
