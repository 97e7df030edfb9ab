package types

import (
	"errors"
	"fmt"
	"time"
)

// DelegationPriorityPenalty is subtracted from the delegated role's priority
// to compute a delegation's effective priority. A delegation never outranks
// an equal-priority direct grant. Overridable via engine configuration.
const DelegationPriorityPenalty = 10

// SystemIdentity is the actor recorded for automatic transitions such as
// auto-approval of emergency-priority delegations and expiry sweeps.
const SystemIdentity = "system"

// DelegationState represents the lifecycle state of a delegation.
// Transitions are forward-only: pending -> active -> expired|revoked.
type DelegationState string

const (
	DelegationStatePending DelegationState = "pending"
	DelegationStateActive  DelegationState = "active"
	DelegationStateExpired DelegationState = "expired"
	DelegationStateRevoked DelegationState = "revoked"
)

// DelegationPriority indicates how urgently a delegation request should be
// processed. Emergency-priority requests auto-approve under SystemIdentity.
type DelegationPriority string

const (
	DelegationPriorityNormal    DelegationPriority = "normal"
	DelegationPriorityEmergency DelegationPriority = "emergency"
)

// Delegation is a time-bounded transfer of a role's access from one subject
// to another. An optional permission subset narrows what is transferred.
type Delegation struct {
	ID               string             `json:"id"`
	FromSubject      string             `json:"fromSubject"`
	ToSubject        string             `json:"toSubject"`
	RoleID           string             `json:"roleId"`
	StartsAt         time.Time          `json:"startsAt"`
	EndsAt           time.Time          `json:"endsAt"`
	State            DelegationState    `json:"state"`
	Priority         DelegationPriority `json:"priority,omitempty"`
	ApprovedBy       string             `json:"approvedBy,omitempty"`
	ApprovedAt       *time.Time         `json:"approvedAt,omitempty"`
	PermissionSubset []Permission       `json:"permissionSubset,omitempty"`
	Scopes           []string           `json:"scopes,omitempty"`
	RevokedBy        string             `json:"revokedBy,omitempty"`
	RevokedAt        *time.Time         `json:"revokedAt,omitempty"`
	RevocationReason string             `json:"revocationReason,omitempty"`
}

// Validate checks structural invariants of the delegation
func (d *Delegation) Validate() error {
	if d.FromSubject == "" {
		return errors.New("delegation from-subject required")
	}
	if d.ToSubject == "" {
		return errors.New("delegation to-subject required")
	}
	if d.FromSubject == d.ToSubject {
		return errors.New("self-delegation is not allowed")
	}
	if d.RoleID == "" {
		return errors.New("delegation role ID required")
	}
	if !d.EndsAt.After(d.StartsAt) {
		return fmt.Errorf("delegation end time %v must be after start time %v", d.EndsAt, d.StartsAt)
	}
	return nil
}

// IsExpired reports whether the validity window has lapsed at t.
// Expiry is derived from the window, never from a stored state write.
func (d *Delegation) IsExpired(t time.Time) bool {
	return !t.Before(d.EndsAt)
}

// EffectiveAt reports whether the delegation conveys access at t
func (d *Delegation) EffectiveAt(t time.Time) bool {
	if d.State != DelegationStateActive {
		return false
	}
	if t.Before(d.StartsAt) {
		return false
	}
	return !d.IsExpired(t)
}
