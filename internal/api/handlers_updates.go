package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// PublishUpdateRequest is an admin broadcast
type PublishUpdateRequest struct {
	Message string `json:"message" binding:"required"`
}

// handleListUpdates returns the recent update history, newest first
// GET /api/updates, GET /api/admin/updates
func (s *Server) handleListUpdates(c *gin.Context) {
	list, err := s.updates.List(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"updates": list,
		"count":   len(list),
	})
}

// handleLatestUpdate returns the newest update, or null when there is none
// GET /api/updates/latest
func (s *Server) handleLatestUpdate(c *gin.Context) {
	latest, err := s.updates.Latest(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"update": latest})
}

// POST /api/admin/updates
func (s *Server) handleAdminPublishUpdate(c *gin.Context) {
	var req PublishUpdateRequest
	if !bindJSON(c, &req) {
		return
	}

	update, err := s.updates.Publish(c.Request.Context(), req.Message)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, update)
}

// DELETE /api/admin/updates/:id
func (s *Server) handleAdminDeleteUpdate(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	if err := s.updates.Delete(c.Request.Context(), id); err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Update deleted"})
}
