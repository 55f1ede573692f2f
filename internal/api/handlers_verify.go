package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"license-reseller/internal/license"
)

// handleVerify checks a key and registers the device when a slot is free
// POST /api/verify
func (s *Server) handleVerify(c *gin.Context) {
	var req license.VerifyRequest
	if !bindJSON(c, &req) {
		return
	}

	verdict, err := s.services.Verification.Verify(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, verdict)
}

// handleVerifyCheck answers like handleVerify without binding the device
// POST /api/verify/check
func (s *Server) handleVerifyCheck(c *gin.Context) {
	var req license.VerifyRequest
	if !bindJSON(c, &req) {
		return
	}

	verdict, err := s.services.Verification.VerifyReadOnly(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, verdict)
}
