// Package delegation manages the delegation lifecycle: request, approval,
// revocation, and expiry sweeping.
package delegation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/careaccess/go-core/internal/audit"
	"github.com/careaccess/go-core/internal/notify"
	"github.com/careaccess/go-core/pkg/types"
)

var (
	// ErrNotPending indicates an approval of a non-pending delegation
	ErrNotPending = errors.New("delegation: not pending approval")
	// ErrNotActive indicates a revocation of a non-active delegation
	ErrNotActive = errors.New("delegation: not active")
	// ErrNotAuthorized indicates the actor may not perform the transition
	ErrNotAuthorized = errors.New("delegation: actor not authorized")
)

// Store is the persistence surface the manager needs
type Store interface {
	CreateDelegation(ctx context.Context, d *types.Delegation) error
	UpdateDelegation(ctx context.Context, d *types.Delegation) error
	GetDelegation(ctx context.Context, id string) (*types.Delegation, error)
	ListDelegations(ctx context.Context) ([]*types.Delegation, error)
}

// AdminChecker reports whether a subject holds administrator access,
// used to authorize third-party revocations.
type AdminChecker func(ctx context.Context, subject string) bool

// Manager drives delegation lifecycle transitions. Every transition is
// audited; notification fan-out happens no later than the audit write.
type Manager struct {
	store      Store
	auditor    audit.Logger
	dispatcher *notify.Dispatcher
	isAdmin    AdminChecker
	logger     *zap.Logger
	now        func() time.Time
}

// NewManager creates a delegation manager
func NewManager(store Store, auditor audit.Logger, dispatcher *notify.Dispatcher, isAdmin AdminChecker, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if isAdmin == nil {
		isAdmin = func(context.Context, string) bool { return false }
	}
	return &Manager{
		store:      store,
		auditor:    auditor,
		dispatcher: dispatcher,
		isAdmin:    isAdmin,
		logger:     logger,
		now:        time.Now,
	}
}

// Request validates and persists a new delegation. Normal-priority requests
// are created pending approval; emergency-priority requests auto-approve
// under the system identity.
func (m *Manager) Request(ctx context.Context, d *types.Delegation) (*types.Delegation, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	if d.ID == "" {
		d.ID = "dlg-" + uuid.NewString()
	}
	d.State = types.DelegationStatePending

	if d.Priority == types.DelegationPriorityEmergency {
		now := m.now()
		d.State = types.DelegationStateActive
		d.ApprovedBy = types.SystemIdentity
		d.ApprovedAt = &now
	}

	if err := m.store.CreateDelegation(ctx, d); err != nil {
		return nil, fmt.Errorf("create delegation: %w", err)
	}

	m.dispatcher.Publish(notify.Event{
		Type:       notify.NotifyDelegationCreated,
		Subject:    d.ToSubject,
		Actor:      d.FromSubject,
		Recipients: []string{d.ToSubject},
		Message:    fmt.Sprintf("delegation of role %s requested", d.RoleID),
		Data:       map[string]interface{}{"delegation_id": d.ID, "priority": d.Priority},
	})

	m.auditor.Record(audit.EventTypeDelegationChange, audit.CategoryLifecycle,
		"delegation requested", audit.Fields{
			Actor:   d.FromSubject,
			Target:  d.ToSubject,
			Success: true,
			Data: map[string]interface{}{
				"delegation_id": d.ID,
				"role_id":       d.RoleID,
				"state":         d.State,
				"priority":      d.Priority,
			},
		})

	m.logger.Info("delegation requested",
		zap.String("id", d.ID),
		zap.String("from", d.FromSubject),
		zap.String("to", d.ToSubject),
		zap.String("state", string(d.State)))

	return d, nil
}

// Approve activates a pending delegation
func (m *Manager) Approve(ctx context.Context, id, approver string) (*types.Delegation, error) {
	d, err := m.store.GetDelegation(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.State != types.DelegationStatePending {
		return nil, ErrNotPending
	}

	now := m.now()
	d.State = types.DelegationStateActive
	d.ApprovedBy = approver
	d.ApprovedAt = &now

	if err := m.store.UpdateDelegation(ctx, d); err != nil {
		return nil, fmt.Errorf("approve delegation: %w", err)
	}

	m.dispatcher.Publish(notify.Event{
		Type:       notify.NotifyDelegationApproved,
		Subject:    d.ToSubject,
		Actor:      approver,
		Recipients: []string{d.FromSubject, d.ToSubject},
		Message:    fmt.Sprintf("delegation of role %s approved", d.RoleID),
		Data:       map[string]interface{}{"delegation_id": d.ID},
	})

	m.auditor.Record(audit.EventTypeDelegationChange, audit.CategoryLifecycle,
		"delegation approved", audit.Fields{
			Actor:   approver,
			Target:  d.ToSubject,
			Success: true,
			Data:    map[string]interface{}{"delegation_id": d.ID},
		})

	return d, nil
}

// Revoke ends an active delegation immediately and irreversibly. Only the
// original delegator or an administrator may revoke.
func (m *Manager) Revoke(ctx context.Context, id, actor, reason string) (*types.Delegation, error) {
	d, err := m.store.GetDelegation(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.State != types.DelegationStateActive && d.State != types.DelegationStatePending {
		return nil, ErrNotActive
	}
	if actor != d.FromSubject && !m.isAdmin(ctx, actor) {
		m.auditor.Record(audit.EventTypeDelegationChange, audit.CategorySecurity,
			"delegation revocation refused", audit.Fields{
				Actor:    actor,
				Target:   d.ID,
				Severity: audit.SeverityWarning,
				Success:  false,
			})
		return nil, ErrNotAuthorized
	}

	now := m.now()
	d.State = types.DelegationStateRevoked
	d.RevokedBy = actor
	d.RevokedAt = &now
	d.RevocationReason = reason

	if err := m.store.UpdateDelegation(ctx, d); err != nil {
		return nil, fmt.Errorf("revoke delegation: %w", err)
	}

	m.dispatcher.Publish(notify.Event{
		Type:       notify.NotifyDelegationRevoked,
		Subject:    d.ToSubject,
		Actor:      actor,
		Recipients: []string{d.FromSubject, d.ToSubject},
		Message:    fmt.Sprintf("delegation of role %s revoked", d.RoleID),
		Data:       map[string]interface{}{"delegation_id": d.ID, "reason": reason},
	})

	m.auditor.Record(audit.EventTypeDelegationChange, audit.CategoryLifecycle,
		"delegation revoked", audit.Fields{
			Actor:   actor,
			Target:  d.ToSubject,
			Success: true,
			Data: map[string]interface{}{
				"delegation_id": d.ID,
				"reason":        reason,
			},
		})

	return d, nil
}

// SweepExpired marks lingering active/pending rows whose window has lapsed
// as expired, for reporting. Effective expiry is always derived at read
// time; the sweep only reconciles stored state.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	delegations, err := m.store.ListDelegations(ctx)
	if err != nil {
		return 0, fmt.Errorf("list delegations: %w", err)
	}

	now := m.now()
	swept := 0
	for _, d := range delegations {
		if d.State != types.DelegationStateActive && d.State != types.DelegationStatePending {
			continue
		}
		if !d.IsExpired(now) {
			continue
		}

		d.State = types.DelegationStateExpired
		if err := m.store.UpdateDelegation(ctx, d); err != nil {
			m.logger.Warn("expiry sweep update failed",
				zap.String("id", d.ID), zap.Error(err))
			continue
		}
		swept++

		m.auditor.Record(audit.EventTypeDelegationChange, audit.CategoryLifecycle,
			"delegation expired", audit.Fields{
				Actor:   types.SystemIdentity,
				Target:  d.ToSubject,
				Success: true,
				Data:    map[string]interface{}{"delegation_id": d.ID},
			})
	}

	if swept > 0 {
		m.logger.Info("delegation expiry sweep", zap.Int("swept", swept))
	}
	return swept, nil
}
