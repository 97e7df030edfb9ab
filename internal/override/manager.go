// Package override manages the emergency override lifecycle.
package override

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

// MinJustificationLength applies to the admin_override reason: a blanket
// administrative grant needs a written justification, not a tick-box.
const MinJustificationLength = 20

var (
	// ErrUnknownReason indicates an unrecognized reason code
	ErrUnknownReason = errors.New("override: unrecognized reason code")
	// ErrDurationTooLong indicates the requested duration exceeds the ceiling
	ErrDurationTooLong = errors.New("override: duration exceeds ceiling")
	// ErrJustificationTooShort indicates admin_override without a real justification
	ErrJustificationTooShort = errors.New("override: justification too short for admin_override")
	// ErrAlreadyEnded indicates a mutation of a deactivated override
	ErrAlreadyEnded = errors.New("override: already ended")
	// ErrNoPermissions indicates an activation granting nothing
	ErrNoPermissions = errors.New("override: at least one permission id required")
)

var recognizedReasons = map[types.OverrideReason]bool{
	types.ReasonMedicalEmergency:     true,
	types.ReasonSafetyConcern:        true,
	types.ReasonCaregiverUnavailable: true,
	types.ReasonAdminOverride:        true,
}

// Store is the persistence surface the manager needs
type Store interface {
	CreateOverride(ctx context.Context, o *types.EmergencyOverride) error
	UpdateOverride(ctx context.Context, o *types.EmergencyOverride) error
	GetOverride(ctx context.Context, id string) (*types.EmergencyOverride, error)
	ListOverrides(ctx context.Context) ([]*types.EmergencyOverride, error)
}

// Config bounds override activation
type Config struct {
	// MaxDuration is the ceiling on how long one override may last
	MaxDuration time.Duration
}

// DefaultConfig returns the default activation bounds
func DefaultConfig() *Config {
	return &Config{MaxDuration: 24 * time.Hour}
}

// ActivationRequest carries the inputs to Activate
type ActivationRequest struct {
	TriggeredBy     string
	AffectedSubject string
	Reason          types.OverrideReason
	Justification   string
	PermissionIDs   []string
	Duration        time.Duration
	Recipients      []string
}

// Manager drives emergency override activation and deactivation. Both
// transitions fan out notifications no later than the audit write, and the
// audit write is synchronous: emergency access is never best-effort audited.
type Manager struct {
	store      Store
	config     *Config
	auditor    audit.Logger
	dispatcher *notify.Dispatcher
	logger     *zap.Logger
	now        func() time.Time
}

// NewManager creates an override manager
func NewManager(store Store, config *Config, auditor audit.Logger, dispatcher *notify.Dispatcher, logger *zap.Logger) *Manager {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:      store,
		config:     config,
		auditor:    auditor,
		dispatcher: dispatcher,
		logger:     logger,
		now:        time.Now,
	}
}

// Activate validates and creates an override. Overrides are created already
// active: emergency access must not wait for an approval round-trip.
func (m *Manager) Activate(ctx context.Context, req *ActivationRequest) (*types.EmergencyOverride, error) {
	if !recognizedReasons[req.Reason] {
		return nil, fmt.Errorf("%w: %q", ErrUnknownReason, req.Reason)
	}
	if req.Duration <= 0 || req.Duration > m.config.MaxDuration {
		return nil, fmt.Errorf("%w: %v (max %v)", ErrDurationTooLong, req.Duration, m.config.MaxDuration)
	}
	if req.Reason == types.ReasonAdminOverride && len(req.Justification) < MinJustificationLength {
		return nil, ErrJustificationTooShort
	}
	if len(req.PermissionIDs) == 0 {
		return nil, ErrNoPermissions
	}

	now := m.now()
	o := &types.EmergencyOverride{
		ID:                   "ovr-" + uuid.NewString(),
		TriggeredBy:          req.TriggeredBy,
		AffectedSubject:      req.AffectedSubject,
		Reason:               req.Reason,
		Justification:        req.Justification,
		GrantedPermissionIDs: req.PermissionIDs,
		NotifiedSubjects:     req.Recipients,
		ActivatedAt:          now,
		ExpiresAt:            now.Add(req.Duration),
	}

	if err := m.store.CreateOverride(ctx, o); err != nil {
		return nil, fmt.Errorf("create override: %w", err)
	}

	// Notify before the audit write completes the transition
	m.dispatcher.PublishSync(notify.Event{
		Type:       notify.NotifyOverrideActivated,
		Subject:    o.AffectedSubject,
		Actor:      o.TriggeredBy,
		Recipients: o.NotifiedSubjects,
		Message:    fmt.Sprintf("emergency override activated: %s", o.Reason),
		Data:       map[string]interface{}{"override_id": o.ID, "expires_at": o.ExpiresAt},
	})

	if err := m.auditor.RecordSync(ctx, audit.EventTypeOverrideChange, audit.CategorySecurity,
		"emergency override activated", audit.Fields{
			Actor:    o.TriggeredBy,
			Target:   o.AffectedSubject,
			Severity: audit.SeverityHigh,
			Success:  true,
			Data: map[string]interface{}{
				"override_id":    o.ID,
				"reason":         o.Reason,
				"permission_ids": o.GrantedPermissionIDs,
				"expires_at":     o.ExpiresAt,
			},
		}); err != nil {
		m.logger.Error("override activation audit failed",
			zap.String("id", o.ID), zap.Error(err))
	}

	m.logger.Warn("emergency override activated",
		zap.String("id", o.ID),
		zap.String("triggered_by", o.TriggeredBy),
		zap.String("subject", o.AffectedSubject),
		zap.String("reason", string(o.Reason)),
		zap.Time("expires_at", o.ExpiresAt))

	return o, nil
}

// Deactivate stamps the deactivation and freezes the record
func (m *Manager) Deactivate(ctx context.Context, id, actor string) (*types.EmergencyOverride, error) {
	o, err := m.store.GetOverride(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.DeactivatedAt != nil {
		return nil, ErrAlreadyEnded
	}

	now := m.now()
	o.DeactivatedAt = &now
	o.DeactivatedBy = actor

	if err := m.store.UpdateOverride(ctx, o); err != nil {
		return nil, fmt.Errorf("deactivate override: %w", err)
	}

	m.dispatcher.PublishSync(notify.Event{
		Type:       notify.NotifyOverrideDeactivated,
		Subject:    o.AffectedSubject,
		Actor:      actor,
		Recipients: o.NotifiedSubjects,
		Message:    "emergency override deactivated",
		Data:       map[string]interface{}{"override_id": o.ID},
	})

	if err := m.auditor.RecordSync(ctx, audit.EventTypeOverrideChange, audit.CategorySecurity,
		"emergency override deactivated", audit.Fields{
			Actor:    actor,
			Target:   o.AffectedSubject,
			Severity: audit.SeverityHigh,
			Success:  true,
			Data:     map[string]interface{}{"override_id": o.ID},
		}); err != nil {
		m.logger.Error("override deactivation audit failed",
			zap.String("id", o.ID), zap.Error(err))
	}

	return o, nil
}

// SweepExpired deactivates lingering overrides whose expiry has passed,
// under the system identity. ActiveAt already excludes them from decisions;
// the sweep closes the records.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	overrides, err := m.store.ListOverrides(ctx)
	if err != nil {
		return 0, fmt.Errorf("list overrides: %w", err)
	}

	now := m.now()
	swept := 0
	for _, o := range overrides {
		if o.DeactivatedAt != nil || now.Before(o.ExpiresAt) {
			continue
		}

		expiry := o.ExpiresAt
		o.DeactivatedAt = &expiry
		o.DeactivatedBy = types.SystemIdentity
		if err := m.store.UpdateOverride(ctx, o); err != nil {
			m.logger.Warn("override sweep update failed",
				zap.String("id", o.ID), zap.Error(err))
			continue
		}
		swept++

		m.auditor.Record(audit.EventTypeOverrideChange, audit.CategoryLifecycle,
			"emergency override expired", audit.Fields{
				Actor:   types.SystemIdentity,
				Target:  o.AffectedSubject,
				Success: true,
				Data:    map[string]interface{}{"override_id": o.ID},
			})
	}

	if swept > 0 {
		m.logger.Info("override expiry sweep", zap.Int("swept", swept))
	}
	return swept, nil
}
