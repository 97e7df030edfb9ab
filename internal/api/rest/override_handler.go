package rest

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/careaccess/go-core/internal/override"
	"github.com/careaccess/go-core/internal/repository"
	"github.com/careaccess/go-core/pkg/types"
)

// activateOverrideHandler handles POST /v1/overrides. Overrides are created
// already active; there is no approval round-trip for emergency access.
func (s *Server) activateOverrideHandler(c *gin.Context) {
	if s.overrides == nil {
		c.JSON(http.StatusNotImplemented, ErrorResponse{Error: "overrides_disabled"})
		return
	}

	var req OverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}

	o, err := s.overrides.Activate(c.Request.Context(), &override.ActivationRequest{
		TriggeredBy:     req.TriggeredBy,
		AffectedSubject: req.AffectedSubject,
		Reason:          types.OverrideReason(req.Reason),
		Justification:   req.Justification,
		PermissionIDs:   req.PermissionIDs,
		Duration:        time.Duration(req.DurationSeconds) * time.Second,
		Recipients:      req.Recipients,
	})
	if err != nil {
		s.writeOverrideError(c, err)
		return
	}

	c.JSON(http.StatusCreated, o)
}

// deactivateOverrideHandler handles POST /v1/overrides/:id/deactivate
func (s *Server) deactivateOverrideHandler(c *gin.Context) {
	if s.overrides == nil {
		c.JSON(http.StatusNotImplemented, ErrorResponse{Error: "overrides_disabled"})
		return
	}

	var req DeactivateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}

	o, err := s.overrides.Deactivate(c.Request.Context(), c.Param("id"), req.Actor)
	if err != nil {
		s.writeOverrideError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (s *Server) writeOverrideError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: err.Error()})
	case errors.Is(err, override.ErrAlreadyEnded):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "invalid_state", Message: err.Error()})
	case errors.Is(err, override.ErrUnknownReason),
		errors.Is(err, override.ErrDurationTooLong),
		errors.Is(err, override.ErrJustificationTooShort),
		errors.Is(err, override.ErrNoPermissions):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_override", Message: err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: err.Error()})
	}
}
