package rest

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/careaccess/go-core/internal/delegation"
	"github.com/careaccess/go-core/internal/repository"
	"github.com/careaccess/go-core/pkg/types"
)

// createDelegationHandler handles POST /v1/delegations. Normal-priority
// requests come back pending; emergency-priority requests come back active.
func (s *Server) createDelegationHandler(c *gin.Context) {
	if s.delegations == nil {
		c.JSON(http.StatusNotImplemented, ErrorResponse{Error: "delegations_disabled"})
		return
	}

	var req DelegationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}

	startsAt := req.StartsAt
	if startsAt.IsZero() {
		startsAt = time.Now()
	}

	priority := types.DelegationPriorityNormal
	if req.Priority == string(types.DelegationPriorityEmergency) {
		priority = types.DelegationPriorityEmergency
	}

	d, err := s.delegations.Request(c.Request.Context(), &types.Delegation{
		FromSubject:      req.FromSubject,
		ToSubject:        req.ToSubject,
		RoleID:           req.RoleID,
		StartsAt:         startsAt,
		EndsAt:           req.EndsAt,
		Priority:         priority,
		PermissionSubset: req.PermissionSubset,
		Scopes:           req.Scopes,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_delegation", Message: err.Error()})
		return
	}

	c.JSON(http.StatusCreated, d)
}

// approveDelegationHandler handles POST /v1/delegations/:id/approve
func (s *Server) approveDelegationHandler(c *gin.Context) {
	if s.delegations == nil {
		c.JSON(http.StatusNotImplemented, ErrorResponse{Error: "delegations_disabled"})
		return
	}

	var req ApproveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}

	d, err := s.delegations.Approve(c.Request.Context(), c.Param("id"), req.Approver)
	if err != nil {
		s.writeDelegationError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// revokeDelegationHandler handles POST /v1/delegations/:id/revoke
func (s *Server) revokeDelegationHandler(c *gin.Context) {
	if s.delegations == nil {
		c.JSON(http.StatusNotImplemented, ErrorResponse{Error: "delegations_disabled"})
		return
	}

	var req RevokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}

	d, err := s.delegations.Revoke(c.Request.Context(), c.Param("id"), req.Actor, req.Reason)
	if err != nil {
		s.writeDelegationError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (s *Server) writeDelegationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: err.Error()})
	case errors.Is(err, delegation.ErrNotAuthorized):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "not_authorized", Message: err.Error()})
	case errors.Is(err, delegation.ErrNotPending), errors.Is(err, delegation.ErrNotActive):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "invalid_state", Message: err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: err.Error()})
	}
}
