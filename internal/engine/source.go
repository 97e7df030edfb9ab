package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/careaccess/go-core/pkg/types"
)

// SourceKind tags where a permission source came from
type SourceKind string

const (
	SourceKindDirectRole SourceKind = "direct_role"
	SourceKindDelegation SourceKind = "delegation"
)

// PermissionSource is one gathered source of permissions: a direct role
// grant or a delegation. Sources keep their fetch order; precedence tiers
// scan them in that order, not by priority.
type PermissionSource struct {
	Kind         SourceKind
	RoleID       string
	GrantID      string
	DelegationID string
	Priority     int
	Permissions  []types.Permission
}

// Ref identifies the source in logs and conflict reports
func (s *PermissionSource) Ref() string {
	if s.Kind == SourceKindDelegation {
		return string(s.Kind) + ":" + s.DelegationID
	}
	return string(s.Kind) + ":" + s.GrantID
}

// gatherSources collects the subject's effective permission sources: direct
// role grants first, then delegations, each in repository fetch order.
// Repository faults degrade to an empty source list; a missing role or a
// failed expansion skips that source only.
func (e *Engine) gatherSources(ctx context.Context, subject string, now time.Time) []*PermissionSource {
	var sources []*PermissionSource

	grants, err := e.repo.FetchActiveRoleGrants(ctx, subject)
	if err != nil {
		e.logger.Warn("role grant fetch failed", zap.String("subject", subject), zap.Error(err))
		grants = nil
	}
	for _, grant := range grants {
		if !grant.EffectiveAt(now) {
			continue
		}
		role, err := e.repo.GetRole(ctx, grant.RoleID)
		if err != nil || !role.IsActive() {
			continue
		}
		perms, err := e.resolver.Expand(ctx, role.PermissionSetIDs)
		if err != nil {
			e.logger.Warn("permission set expansion failed",
				zap.String("role", role.ID), zap.Error(err))
			continue
		}
		sources = append(sources, &PermissionSource{
			Kind:        SourceKindDirectRole,
			RoleID:      role.ID,
			GrantID:     grant.ID,
			Priority:    role.Priority,
			Permissions: perms,
		})
	}

	delegations, err := e.repo.FetchActiveDelegations(ctx, subject)
	if err != nil {
		e.logger.Warn("delegation fetch failed", zap.String("subject", subject), zap.Error(err))
		delegations = nil
	}
	for _, d := range delegations {
		if !d.EffectiveAt(now) {
			continue
		}
		role, err := e.repo.GetRole(ctx, d.RoleID)
		if err != nil || !role.IsActive() {
			continue
		}

		perms := d.PermissionSubset
		if len(perms) == 0 {
			perms, err = e.resolver.Expand(ctx, role.PermissionSetIDs)
			if err != nil {
				e.logger.Warn("permission set expansion failed",
					zap.String("role", role.ID), zap.Error(err))
				continue
			}
		}
		sources = append(sources, &PermissionSource{
			Kind:         SourceKindDelegation,
			RoleID:       role.ID,
			DelegationID: d.ID,
			Priority:     role.Priority - e.config.DelegationPriorityPenalty,
			Permissions:  perms,
		})
	}

	return sources
}
