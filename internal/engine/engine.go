// Package engine provides the core authorization decision engine: admission
// control, decision caching, emergency overrides, source gathering, and
// tiered precedence evaluation.
package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/careaccess/go-core/internal/audit"
	"github.com/careaccess/go-core/internal/cache"
	"github.com/careaccess/go-core/internal/metrics"
	"github.com/careaccess/go-core/internal/permset"
	"github.com/careaccess/go-core/internal/ratelimit"
	"github.com/careaccess/go-core/internal/repository"
	"github.com/careaccess/go-core/pkg/types"
)

// Config configures the decision engine
type Config struct {
	// DelegationPriorityPenalty is subtracted from a delegated role's
	// priority when computing a delegation source's effective priority
	DelegationPriorityPenalty int

	// Decision cache TTL per action class; zero values take the defaults
	ReadTTL    time.Duration
	WriteTTL   time.Duration
	DeleteTTL  time.Duration
	AdminTTL   time.Duration
	DefaultTTL time.Duration
}

// DefaultConfig returns a default engine configuration
func DefaultConfig() Config {
	return Config{
		DelegationPriorityPenalty: types.DelegationPriorityPenalty,
		ReadTTL:                   300 * time.Second,
		WriteTTL:                  60 * time.Second,
		DeleteTTL:                 30 * time.Second,
		AdminTTL:                  10 * time.Second,
		DefaultTTL:                60 * time.Second,
	}
}

// Engine is the authorization decision engine. One instance per process,
// shared by reference across request-scoped callers.
type Engine struct {
	repo     repository.Repository
	resolver *permset.Resolver
	cache    *cache.DecisionCache
	limiter  *ratelimit.Limiter
	auditor  audit.Logger
	metrics  metrics.Metrics
	logger   *zap.Logger
	config   Config
	now      func() time.Time
}

// New creates an authorization engine
func New(cfg Config, repo repository.Repository, decisionCache *cache.DecisionCache, limiter *ratelimit.Limiter, auditor audit.Logger, m metrics.Metrics, logger *zap.Logger) *Engine {
	if cfg.DelegationPriorityPenalty == 0 {
		cfg.DelegationPriorityPenalty = types.DelegationPriorityPenalty
	}
	if cfg.DefaultTTL == 0 {
		defaults := DefaultConfig()
		cfg.ReadTTL, cfg.WriteTTL, cfg.DeleteTTL, cfg.AdminTTL, cfg.DefaultTTL =
			defaults.ReadTTL, defaults.WriteTTL, defaults.DeleteTTL, defaults.AdminTTL, defaults.DefaultTTL
	}
	if m == nil {
		m = metrics.NewNoOpMetrics()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		repo:     repo,
		resolver: permset.NewResolver(repo),
		cache:    decisionCache,
		limiter:  limiter,
		auditor:  auditor,
		metrics:  m,
		logger:   logger,
		config:   cfg,
		now:      time.Now,
	}
}

// Authorize decides whether subject may perform action on the resource.
// It always returns a Decision: business denials are decisions, not errors,
// and unexpected internal faults fail closed as AUTHORIZATION_ERROR.
func (e *Engine) Authorize(ctx context.Context, subject, action, resourceID, resourceClass string) *types.Decision {
	start := time.Now()
	e.metrics.IncActiveRequests()
	defer e.metrics.DecActiveRequests()

	// Step 1: admission control, bypassing cache and repository entirely
	limit := e.limiter.CheckLimit(ctx, subject, resourceClass, "")
	e.metrics.RecordRateLimitCheck(limit.RuleID, limit.Allowed)
	if !limit.Allowed {
		decision := rateLimitedDecision(limit)
		e.finish(subject, action, resourceID, decision, start)
		return decision
	}

	decision := e.evaluate(ctx, subject, action, resourceID, resourceClass)
	e.finish(subject, action, resourceID, decision, start)
	return decision
}

// evaluate runs steps 2-6. Any panic is recovered into a fail-closed
// AUTHORIZATION_ERROR decision.
func (e *Engine) evaluate(ctx context.Context, subject, action, resourceID, resourceClass string) (decision *types.Decision) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("authorization fault",
				zap.String("subject", subject),
				zap.String("action", action),
				zap.Any("panic", r))
			e.metrics.RecordAuthError("panic")
			decision = &types.Decision{
				Allowed: false,
				Reason:  types.ReasonAuthorizationError,
				Source:  types.SourceNone,
			}
		}
	}()

	now := e.now()
	key := cache.DecisionKey(subject, action, resourceID)

	// Step 2: a fresh cached decision is returned verbatim
	if entry := e.cache.Get(ctx, key); entry != nil {
		e.metrics.RecordCacheHit("decision")
		return entry.Decision
	}
	e.metrics.RecordCacheMiss("decision")

	// Step 3: emergency override
	if decision := e.checkOverride(ctx, subject, action, resourceClass, now); decision != nil {
		return decision
	}

	// Steps 4-5: gather sources and evaluate precedence tiers
	sources := e.gatherSources(ctx, subject, now)
	decision = e.evaluatePrecedence(subject, action, resourceClass, sources)

	// Step 6: cache write with an action-class-dependent TTL
	e.cache.Put(ctx, key, decision, e.ttlForAction(action))

	return decision
}

// checkOverride returns an allow decision when an active override covers the
// request. Emergency access is audited synchronously before returning; it is
// never best-effort audited.
func (e *Engine) checkOverride(ctx context.Context, subject, action, resourceClass string, now time.Time) *types.Decision {
	o, err := e.repo.FetchActiveEmergencyOverride(ctx, subject)
	if err != nil {
		e.logger.Warn("override fetch failed", zap.String("subject", subject), zap.Error(err))
		return nil
	}
	if o == nil || !o.ActiveAt(now) {
		return nil
	}

	perms, err := e.repo.GetPermissionsByIDs(ctx, o.GrantedPermissionIDs)
	if err != nil {
		e.logger.Warn("override permission lookup failed", zap.String("override", o.ID), zap.Error(err))
		return nil
	}

	for i := range perms {
		p := perms[i]
		if p.Effect != types.EffectAllow || !p.Matches(action, resourceClass) {
			continue
		}

		decision := &types.Decision{
			Allowed:           true,
			Reason:            types.ReasonEmergencyOverride,
			Source:            types.SourceEmergencyOverride,
			MatchedPermission: &p,
			Details: map[string]interface{}{
				"overrideId":  o.ID,
				"triggeredBy": o.TriggeredBy,
				"expiresAt":   o.ExpiresAt,
			},
		}

		if err := e.auditor.RecordSync(ctx, audit.EventTypeEmergencyAccess, audit.CategorySecurity,
			"emergency override granted access", audit.Fields{
				Actor:    subject,
				Target:   resourceClass,
				Severity: audit.SeverityHigh,
				Success:  true,
				Data: map[string]interface{}{
					"override_id": o.ID,
					"action":      action,
					"reason":      o.Reason,
				},
			}); err != nil {
			e.logger.Error("emergency access audit failed", zap.String("override", o.ID), zap.Error(err))
		}

		return decision
	}
	return nil
}

// precedenceTier pairs a source kind with the effect it may contribute
type precedenceTier struct {
	kind   SourceKind
	effect types.Effect
	reason types.DecisionReason
	source types.DecisionSource
}

// Tier order is fixed: any deny outranks any allow, and within an effect
// direct roles outrank delegations.
var precedenceTiers = []precedenceTier{
	{SourceKindDirectRole, types.EffectDeny, types.ReasonDirectRoleDeny, types.SourceDirectRole},
	{SourceKindDelegation, types.EffectDeny, types.ReasonDelegationDeny, types.SourceDelegation},
	{SourceKindDirectRole, types.EffectAllow, types.ReasonDirectRoleAllow, types.SourceDirectRole},
	{SourceKindDelegation, types.EffectAllow, types.ReasonDelegationAllow, types.SourceDelegation},
}

// evaluatePrecedence scans the four tiers in order. Within a tier sources
// are scanned in fetch order, not priority order: the first-fetched matching
// source wins over a higher-priority one later in the same tier.
func (e *Engine) evaluatePrecedence(subject, action, resourceClass string, sources []*PermissionSource) *types.Decision {
	for _, tier := range precedenceTiers {
		for _, src := range sources {
			if src.Kind != tier.kind {
				continue
			}
			for i := range src.Permissions {
				p := src.Permissions[i]
				if p.Effect != tier.effect || !p.Matches(action, resourceClass) {
					continue
				}

				decision := &types.Decision{
					Allowed:           tier.effect == types.EffectAllow,
					Reason:            tier.reason,
					Source:            tier.source,
					MatchedPermission: &p,
					Details: map[string]interface{}{
						"sourceRef":      src.Ref(),
						"roleId":         src.RoleID,
						"sourcePriority": src.Priority,
					},
				}

				if tier.effect == types.EffectDeny {
					e.logConflict(subject, action, resourceClass, src, sources)
				}
				return decision
			}
		}
	}

	return &types.Decision{
		Allowed: false,
		Reason:  types.ReasonNoPermission,
		Source:  types.SourceNone,
	}
}

// logConflict asynchronously records a winning deny naming every source
// that was considered.
func (e *Engine) logConflict(subject, action, resourceClass string, winner *PermissionSource, sources []*PermissionSource) {
	considered := make([]string, 0, len(sources))
	for _, src := range sources {
		considered = append(considered, src.Ref())
	}

	e.auditor.Record(audit.EventTypeAuthzConflict, audit.CategoryAuthorization,
		"deny outranked other permission sources", audit.Fields{
			Actor:    subject,
			Target:   resourceClass,
			Severity: audit.SeverityWarning,
			Success:  true,
			Data: map[string]interface{}{
				"action":             action,
				"winner":             winner.Ref(),
				"considered_sources": considered,
			},
		})
}

// finish records metrics and the async decision audit (step 7). Audit
// failures never reach the caller.
func (e *Engine) finish(subject, action, resourceID string, decision *types.Decision, start time.Time) {
	e.metrics.RecordDecision(string(decision.Reason), decision.Allowed, time.Since(start))

	e.auditor.Record(audit.EventTypeAuthzDecision, audit.CategoryAuthorization,
		"authorization decision", audit.Fields{
			Actor:   subject,
			Target:  resourceID,
			Success: decision.Allowed,
			Data: map[string]interface{}{
				"action": action,
				"reason": decision.Reason,
				"source": decision.Source,
			},
		})
}

func rateLimitedDecision(limit *ratelimit.Result) *types.Decision {
	return &types.Decision{
		Allowed: false,
		Reason:  types.ReasonRateLimitExceeded,
		Source:  types.SourceRateLimiter,
		Details: map[string]interface{}{
			"rule":              limit.RuleID,
			"limit":             limit.Limit,
			"remaining":         limit.Remaining,
			"retryAfterSeconds": limit.RetryAfter.Seconds(),
			"backoffLevel":      limit.BackoffLevel,
		},
	}
}

// ttlForAction maps the action's verb to a cache TTL. The verb is the last
// dot-separated segment ("document.read" -> "read").
func (e *Engine) ttlForAction(action string) time.Duration {
	verb := action
	for i := len(action) - 1; i >= 0; i-- {
		if action[i] == '.' {
			verb = action[i+1:]
			break
		}
	}

	switch verb {
	case "read", "view", "list":
		return e.config.ReadTTL
	case "write", "create", "update":
		return e.config.WriteTTL
	case "delete":
		return e.config.DeleteTTL
	case "execute", "assign", "activate":
		return e.config.AdminTTL
	default:
		return e.config.DefaultTTL
	}
}

// MustAuthorize is the throw-on-deny wrapper: a deny Decision becomes a
// typed error carrying the decision details.
func (e *Engine) MustAuthorize(ctx context.Context, subject, action, resourceID, resourceClass string) error {
	decision := e.Authorize(ctx, subject, action, resourceID, resourceClass)
	if decision.Allowed {
		return nil
	}
	return &types.DeniedError{Decision: decision}
}
