// Package types provides shared types for the authorization core
package types

import (
	"strings"
)

// Effect represents the outcome a permission asserts
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Wildcard matches any action or resource class in a permission
const Wildcard = "*"

// Permission grants or denies an action on a resource class
type Permission struct {
	ID       string `json:"id"`
	Resource string `json:"resource"` // resource class or "*"
	Action   string `json:"action"`   // action name or "*"
	Effect   Effect `json:"effect"`
	Scope    string `json:"scope,omitempty"`
}

// Matches reports whether the permission covers the requested action and
// resource class. Both fields support the "*" wildcard.
func (p *Permission) Matches(action, resourceClass string) bool {
	if p.Action != Wildcard && !strings.EqualFold(p.Action, action) {
		return false
	}
	if p.Resource != Wildcard && !strings.EqualFold(p.Resource, resourceClass) {
		return false
	}
	return true
}

// PermissionSet groups permissions and may inherit from a parent set.
// Expansion of the parent chain is cycle-safe (see internal/permset).
type PermissionSet struct {
	ID          string       `json:"id"`
	Name        string       `json:"name,omitempty"`
	Permissions []Permission `json:"permissions"`
	ParentID    string       `json:"parentId,omitempty"`
}

// RoleType categorizes roles within the access-control product
type RoleType string

const (
	RoleTypeFamilyMember     RoleType = "family_member"
	RoleTypeCaregiver        RoleType = "caregiver"
	RoleTypeAdministrator    RoleType = "administrator"
	RoleTypeEmergencyContact RoleType = "emergency_contact"
)

// RoleState represents the lifecycle state of a role definition
type RoleState string

const (
	RoleStateActive   RoleState = "active"
	RoleStateDisabled RoleState = "disabled"
)

// Role is a named bundle of permission sets with a precedence priority.
// Higher priority means the role outranks lower-priority roles; delegated
// access always carries a reduced effective priority (see
// DelegationPriorityPenalty).
type Role struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Type             RoleType  `json:"type"`
	State            RoleState `json:"state"`
	PermissionSetIDs []string  `json:"permissionSetIds"`
	Priority         int       `json:"priority"`
	Tags             []string  `json:"tags,omitempty"`
}

// IsActive reports whether the role definition is usable
func (r *Role) IsActive() bool {
	return r.State == RoleStateActive
}
