package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"license-reseller/internal/license"
	"license-reseller/internal/logging"
)

// Handlers contains the auth HTTP handlers
type Handlers struct {
	service *Service
}

// NewHandlers creates a new Handlers instance
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// Register handles reseller registration
// POST /api/auth/register
func (h *Handlers) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "VALIDATION_ERROR",
			"message": err.Error(),
		})
		return
	}

	reseller, err := h.service.Register(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err, "failed to register reseller")
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":  "registration successful",
		"reseller": reseller,
	})
}

// Login handles reseller login
// POST /api/auth/login
func (h *Handlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "VALIDATION_ERROR",
			"message": err.Error(),
		})
		return
	}

	response, err := h.service.Login(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err, "failed to login")
		return
	}

	c.JSON(http.StatusOK, response)
}

// AdminLogin handles operator login
// POST /api/auth/admin/login
func (h *Handlers) AdminLogin(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "VALIDATION_ERROR",
			"message": err.Error(),
		})
		return
	}

	response, err := h.service.AdminLogin(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err, "failed to login")
		return
	}

	c.JSON(http.StatusOK, response)
}

// GetMe returns the caller's identity
// GET /api/auth/me
func (h *Handlers) GetMe(c *gin.Context) {
	claims := GetUserClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   ErrUnauthorized.Code,
			"message": ErrUnauthorized.Message,
		})
		return
	}

	reseller, err := h.service.Me(c.Request.Context(), claims)
	if err != nil {
		h.writeError(c, err, "failed to load profile")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"username": claims.Username,
		"role":     claims.Role,
		"reseller": reseller,
	})
}

func (h *Handlers) writeError(c *gin.Context, err error, fallback string) {
	var authErr AuthError
	if errors.As(err, &authErr) {
		status := http.StatusUnauthorized
		switch authErr.Code {
		case ErrAccountSuspended.Code:
			status = http.StatusForbidden
		case ErrWeakPassword.Code:
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{
			"error":   authErr.Code,
			"message": authErr.Message,
		})
		return
	}

	var domainErr *license.Error
	if errors.As(err, &domainErr) {
		status := http.StatusConflict
		switch domainErr.Kind {
		case license.KindValidation:
			status = http.StatusBadRequest
		case license.KindNotFound:
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{
			"error":   domainErr.Code,
			"message": domainErr.Message,
		})
		return
	}

	logger := logging.FromContext(c.Request.Context())
	logger.Error().Err(err).Msg(fallback)
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "INTERNAL_ERROR",
		"message": fallback,
	})
}

// RegisterRoutes registers all auth routes
func (h *Handlers) RegisterRoutes(router *gin.RouterGroup) {
	// Public routes (no auth required)
	router.POST("/register", h.Register)
	router.POST("/login", h.Login)
	router.POST("/admin/login", h.AdminLogin)

	// Protected routes (auth required)
	protected := router.Group("")
	protected.Use(Middleware(h.service.GetJWTManager()))
	{
		protected.GET("/me", h.GetMe)
	}
}
