package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// authorizeHandler handles POST /v1/authorize. Denials are data, not
// errors: the response is always 200 with the decision body.
func (s *Server) authorizeHandler(c *gin.Context) {
	var req AuthorizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: err.Error(),
		})
		return
	}

	decision := s.engine.Authorize(c.Request.Context(),
		req.Subject, req.Action, req.ResourceID, req.ResourceClass)
	c.JSON(http.StatusOK, decisionResponse(decision))
}

// batchAuthorizeHandler handles POST /v1/authorize/batch. Each check is an
// independent engine call; results keep the request order.
func (s *Server) batchAuthorizeHandler(c *gin.Context) {
	var req BatchAuthorizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: err.Error(),
		})
		return
	}

	results := make([]AuthorizeResponse, 0, len(req.Checks))
	for _, check := range req.Checks {
		decision := s.engine.Authorize(c.Request.Context(),
			req.Subject, check.Action, check.ResourceID, check.ResourceClass)
		results = append(results, decisionResponse(decision))
	}
	c.JSON(http.StatusOK, BatchAuthorizeResponse{Results: results})
}
