// Package db provides database schema constants and migration management
package db

// Table names as constants for type safety
const (
	TableRoles              = "roles"
	TablePermissions        = "permissions"
	TablePermissionSets     = "permission_sets"
	TableRoleGrants         = "role_grants"
	TableDelegations        = "delegations"
	TableEmergencyOverrides = "emergency_overrides"
)

// Column names for compile-time checking
const (
	// Common columns
	ColID       = "id"
	ColState    = "state"
	ColStartsAt = "starts_at"
	ColEndsAt   = "ends_at"
	ColScopes   = "scopes"

	// Role columns
	ColName             = "name"
	ColType             = "type"
	ColPermissionSetIDs = "permission_set_ids"
	ColPriority         = "priority"
	ColTags             = "tags"

	// Grant columns
	ColSubject   = "subject"
	ColRoleID    = "role_id"
	ColGrantedBy = "granted_by"
	ColSchedule  = "schedule"

	// Delegation columns
	ColFromSubject      = "from_subject"
	ColToSubject        = "to_subject"
	ColApprovedBy       = "approved_by"
	ColApprovedAt       = "approved_at"
	ColPermissionSubset = "permission_subset"
	ColRevokedBy        = "revoked_by"
	ColRevokedAt        = "revoked_at"
	ColRevocationReason = "revocation_reason"

	// Override columns
	ColTriggeredBy          = "triggered_by"
	ColAffectedSubject      = "affected_subject"
	ColReason               = "reason"
	ColJustification        = "justification"
	ColGrantedPermissionIDs = "granted_permission_ids"
	ColNotifiedSubjects     = "notified_subjects"
	ColActivatedAt          = "activated_at"
	ColExpiresAt            = "expires_at"
	ColDeactivatedAt        = "deactivated_at"
	ColDeactivatedBy        = "deactivated_by"
)
