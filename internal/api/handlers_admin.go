package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GrantCreditsRequest adds credits to a reseller
type GrantCreditsRequest struct {
	Amount int64 `json:"amount" binding:"required,min=1"`
}

// SetActiveRequest enables or disables a reseller
type SetActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// handleAdminListResellers lists every reseller
// GET /api/admin/resellers
func (s *Server) handleAdminListResellers(c *gin.Context) {
	resellers, err := s.services.Resellers.List(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"resellers": resellers,
		"count":     len(resellers),
	})
}

// handleAdminGrantCredits adds credits to a reseller's balance
// POST /api/admin/resellers/:id/credits
func (s *Server) handleAdminGrantCredits(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req GrantCreditsRequest
	if !bindJSON(c, &req) {
		return
	}

	reseller, err := s.services.Ledger.Grant(c.Request.Context(), id, req.Amount)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"reseller": reseller})
}

// handleAdminSetActive enables or disables a reseller
// PUT /api/admin/resellers/:id/active
func (s *Server) handleAdminSetActive(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req SetActiveRequest
	if !bindJSON(c, &req) {
		return
	}

	reseller, err := s.services.Resellers.SetActive(c.Request.Context(), id, *req.Active)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"reseller": reseller})
}

// GET /api/admin/referral-tokens
func (s *Server) handleAdminListReferralTokens(c *gin.Context) {
	tokens, err := s.services.Resellers.ReferralTokens(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tokens": tokens,
		"count":  len(tokens),
	})
}

// POST /api/admin/referral-tokens
func (s *Server) handleAdminCreateReferralToken(c *gin.Context) {
	token, err := s.services.Resellers.NewReferralToken(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, token)
}

// DELETE /api/admin/referral-tokens/:token
func (s *Server) handleAdminDeleteReferralToken(c *gin.Context) {
	if err := s.services.Resellers.DeleteReferralToken(c.Request.Context(), c.Param("token")); err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Referral token deleted"})
}

// handleAdminListKeys lists every key in the system
// GET /api/admin/keys
func (s *Server) handleAdminListKeys(c *gin.Context) {
	keys, err := s.services.Catalog.All(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"keys":  keys,
		"count": len(keys),
	})
}

// handleAdminRevokeKey revokes any key and frees its devices
// POST /api/admin/keys/:id/revoke
func (s *Server) handleAdminRevokeKey(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	key, err := s.services.Revocation.Revoke(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"key": key})
}

// handleAdminDeleteKey removes a key and its devices for good
// DELETE /api/admin/keys/:id
func (s *Server) handleAdminDeleteKey(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	if err := s.services.Revocation.Delete(c.Request.Context(), id); err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "License key deleted"})
}
