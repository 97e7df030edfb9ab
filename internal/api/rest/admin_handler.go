package rest

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/careaccess/go-core/internal/engine"
	"github.com/careaccess/go-core/pkg/types"
)

// invalidateCacheHandler handles POST /v1/admin/cache/invalidate
func (s *Server) invalidateCacheHandler(c *gin.Context) {
	var req InvalidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}

	trigger := engine.InvalidationTrigger(strings.ToUpper(req.Trigger))
	if err := s.engine.InvalidateCache(c.Request.Context(), trigger, req.ID); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalidation_failed", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"invalidated": true})
}

// resetLimitsHandler handles POST /v1/admin/ratelimit/reset. The reset is
// itself authorized: the actor must pass an admin authorization check.
func (s *Server) resetLimitsHandler(c *gin.Context) {
	var req AdminResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}

	if err := s.engine.ResetSubjectLimits(c.Request.Context(), req.Actor, req.Subject); err != nil {
		var denied *types.DeniedError
		if errors.As(err, &denied) {
			c.JSON(http.StatusForbidden, ErrorResponse{
				Error:   "not_authorized",
				Message: "actor is not authorized for administrative resets",
				Details: map[string]interface{}{"reason": denied.Decision.Reason},
			})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reset": true})
}
