package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"license-reseller/internal/auth"
	"license-reseller/internal/license"
	"license-reseller/internal/logging"
)

// KeySummary counts a reseller's keys by status
type KeySummary struct {
	Total   int `json:"total"`
	Active  int `json:"active"`
	Expired int `json:"expired"`
	Revoked int `json:"revoked"`
}

func summarize(keys []license.KeyView) KeySummary {
	summary := KeySummary{Total: len(keys)}
	for _, k := range keys {
		switch k.Status {
		case license.StatusActive:
			summary.Active++
		case license.StatusExpired:
			summary.Expired++
		case license.StatusRevoked:
			summary.Revoked++
		}
	}
	return summary
}

// handleResellerProfile returns the caller's account, balance and key counts
// GET /api/reseller/profile
func (s *Server) handleResellerProfile(c *gin.Context) {
	ctx := c.Request.Context()

	reseller, err := s.auth.Me(ctx, auth.GetUserClaims(c))
	if err != nil {
		s.writeError(c, err)
		return
	}

	keys, err := s.services.Catalog.ForReseller(ctx, reseller.ID)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"reseller": reseller,
		"keys":     summarize(keys),
	})
}

// handleResellerListKeys lists the caller's keys with status and device counts
// GET /api/reseller/keys
func (s *Server) handleResellerListKeys(c *gin.Context) {
	keys, err := s.services.Catalog.ForReseller(c.Request.Context(), auth.GetResellerID(c))
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"keys":  keys,
		"count": len(keys),
	})
}

// handleResellerIssueKeys issues keys against the caller's credits
// POST /api/reseller/keys
func (s *Server) handleResellerIssueKeys(c *gin.Context) {
	var req license.IssueRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := s.services.Issuance.Issue(c.Request.Context(), auth.GetResellerID(c), req)
	if err != nil {
		var partial *license.PartialIssuanceError
		if errors.As(err, &partial) {
			// keys that made it are paid for and must reach the reseller
			logger := logging.FromContext(c.Request.Context())
			logger.Error().Err(partial.Err).Int("issued", len(partial.Result.Keys)).Msg("Issuance interrupted")
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":            "PARTIAL_ISSUANCE",
				"message":          "issuance was interrupted, only some keys were created",
				"keys":             partial.Result.Keys,
				"remainingCredits": partial.Result.RemainingCredits,
			})
			return
		}
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

// handleResellerRevokeKey revokes one of the caller's keys
// POST /api/reseller/keys/:id/revoke
func (s *Server) handleResellerRevokeKey(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	key, err := s.services.Revocation.RevokeOwned(c.Request.Context(), auth.GetResellerID(c), id)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"key": key})
}

// handleResellerListDevices lists the devices bound to one of the caller's keys
// GET /api/reseller/keys/:id/devices
func (s *Server) handleResellerListDevices(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	devices, err := s.services.Devices.ListOwned(c.Request.Context(), auth.GetResellerID(c), id)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleResellerRemoveDevice frees a device slot
// DELETE /api/reseller/keys/:id/devices/:deviceId
func (s *Server) handleResellerRemoveDevice(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	err := s.services.Devices.RemoveOwned(c.Request.Context(), auth.GetResellerID(c), id, c.Param("deviceId"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Device removed"})
}
