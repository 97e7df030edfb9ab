// Package rest provides the HTTP API for authorization checks, delegation
// and override lifecycle, and operational endpoints.
package rest

import (
	"time"

	"github.com/careaccess/go-core/pkg/types"
)

// ErrorResponse is the API error envelope
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// AuthorizeRequest is one authorization check
type AuthorizeRequest struct {
	Subject       string `json:"subject" binding:"required"`
	Action        string `json:"action" binding:"required"`
	ResourceID    string `json:"resourceId" binding:"required"`
	ResourceClass string `json:"resourceClass" binding:"required"`
}

// AuthorizeResponse carries the decision and evaluation metadata
type AuthorizeResponse struct {
	Allowed           bool                   `json:"allowed"`
	Reason            string                 `json:"reason"`
	Source            string                 `json:"source"`
	MatchedPermission *types.Permission      `json:"matchedPermission,omitempty"`
	Details           map[string]interface{} `json:"details,omitempty"`
	Timestamp         time.Time              `json:"timestamp"`
}

// BatchAuthorizeRequest checks several actions for one subject
type BatchAuthorizeRequest struct {
	Subject string                 `json:"subject" binding:"required"`
	Checks  []BatchAuthorizeCheck  `json:"checks" binding:"required,min=1"`
}

// BatchAuthorizeCheck is one entry of a batch check
type BatchAuthorizeCheck struct {
	Action        string `json:"action" binding:"required"`
	ResourceID    string `json:"resourceId" binding:"required"`
	ResourceClass string `json:"resourceClass" binding:"required"`
}

// BatchAuthorizeResponse mirrors the request order
type BatchAuthorizeResponse struct {
	Results []AuthorizeResponse `json:"results"`
}

// DelegationRequest creates a delegation
type DelegationRequest struct {
	FromSubject      string             `json:"fromSubject" binding:"required"`
	ToSubject        string             `json:"toSubject" binding:"required"`
	RoleID           string             `json:"roleId" binding:"required"`
	StartsAt         time.Time          `json:"startsAt"`
	EndsAt           time.Time          `json:"endsAt" binding:"required"`
	Priority         string             `json:"priority,omitempty"`
	PermissionSubset []types.Permission `json:"permissionSubset,omitempty"`
	Scopes           []string           `json:"scopes,omitempty"`
}

// RevokeRequest names the actor and reason for a revocation
type RevokeRequest struct {
	Actor  string `json:"actor" binding:"required"`
	Reason string `json:"reason,omitempty"`
}

// ApproveRequest names the approver
type ApproveRequest struct {
	Approver string `json:"approver" binding:"required"`
}

// OverrideRequest activates an emergency override
type OverrideRequest struct {
	TriggeredBy     string   `json:"triggeredBy" binding:"required"`
	AffectedSubject string   `json:"affectedSubject" binding:"required"`
	Reason          string   `json:"reason" binding:"required"`
	Justification   string   `json:"justification,omitempty"`
	PermissionIDs   []string `json:"permissionIds" binding:"required,min=1"`
	DurationSeconds int      `json:"durationSeconds" binding:"required,min=1"`
	Recipients      []string `json:"recipients,omitempty"`
}

// DeactivateRequest names the actor ending an override
type DeactivateRequest struct {
	Actor string `json:"actor" binding:"required"`
}

// InvalidateRequest triggers a cache invalidation
type InvalidateRequest struct {
	Trigger string `json:"trigger" binding:"required"`
	ID      string `json:"id" binding:"required"`
}

// AdminResetRequest resets rate limit state for a subject
type AdminResetRequest struct {
	Actor   string `json:"actor" binding:"required"`
	Subject string `json:"subject" binding:"required"`
}

func decisionResponse(d *types.Decision) AuthorizeResponse {
	return AuthorizeResponse{
		Allowed:           d.Allowed,
		Reason:            string(d.Reason),
		Source:            string(d.Source),
		MatchedPermission: d.MatchedPermission,
		Details:           d.Details,
		Timestamp:         time.Now(),
	}
}
