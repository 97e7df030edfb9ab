package types

import "time"

// OverrideReason is a recognized justification category for emergency access
type OverrideReason string

const (
	ReasonMedicalEmergency     OverrideReason = "medical_emergency"
	ReasonSafetyConcern        OverrideReason = "safety_concern"
	ReasonCaregiverUnavailable OverrideReason = "caregiver_unavailable"
	ReasonAdminOverride        OverrideReason = "admin_override"
)

// EmergencyOverride grants a subject temporary access outside the normal
// grant and delegation rules. It is created already active and ends either by
// explicit deactivation or the expiry sweep; afterwards it is an immutable
// audit record. Only the enumerated permission IDs are granted, never an
// implicit wildcard.
type EmergencyOverride struct {
	ID                   string         `json:"id"`
	TriggeredBy          string         `json:"triggeredBy"`
	AffectedSubject      string         `json:"affectedSubject"`
	Reason               OverrideReason `json:"reason"`
	Justification        string         `json:"justification,omitempty"`
	GrantedPermissionIDs []string       `json:"grantedPermissionIds"`
	NotifiedSubjects     []string       `json:"notifiedSubjects,omitempty"`
	ActivatedAt          time.Time      `json:"activatedAt"`
	ExpiresAt            time.Time      `json:"expiresAt"`
	DeactivatedAt        *time.Time     `json:"deactivatedAt,omitempty"`
	DeactivatedBy        string         `json:"deactivatedBy,omitempty"`
}

// ActiveAt reports whether the override is in force at t. A past expiry ends
// the override even if it was never explicitly deactivated.
func (o *EmergencyOverride) ActiveAt(t time.Time) bool {
	if o.DeactivatedAt != nil {
		return false
	}
	if t.Before(o.ActivatedAt) {
		return false
	}
	return t.Before(o.ExpiresAt)
}

// GrantsPermission reports whether the override enumerates the permission ID
func (o *EmergencyOverride) GrantsPermission(permissionID string) bool {
	for _, id := range o.GrantedPermissionIDs {
		if id == permissionID {
			return true
		}
	}
	return false
}
