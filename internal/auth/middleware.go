package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// Context keys for caller data
	ContextKeyResellerID = "reseller_id"
	ContextKeyUsername   = "username"
	ContextKeyRole       = "role"
	ContextKeyClaims     = "user_claims"
)

// Middleware creates a JWT authentication middleware
func Middleware(jwtManager *JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Extract token from Authorization header
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   ErrUnauthorized.Code,
				"message": "missing authorization header",
			})
			return
		}

		// Check Bearer prefix
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   ErrUnauthorized.Code,
				"message": "invalid authorization header format",
			})
			return
		}

		claims, err := jwtManager.ValidateAccessToken(strings.TrimSpace(parts[1]))
		if err != nil {
			authErr, ok := err.(AuthError)
			if !ok {
				authErr = ErrInvalidToken
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   authErr.Code,
				"message": authErr.Message,
			})
			return
		}

		c.Set(ContextKeyResellerID, claims.ResellerID)
		c.Set(ContextKeyUsername, claims.Username)
		c.Set(ContextKeyRole, claims.Role)
		c.Set(ContextKeyClaims, claims)

		c.Next()
	}
}

// RequireRole middleware ensures the caller holds role
func RequireRole(role Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetUserClaims(c)
		if claims == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   ErrUnauthorized.Code,
				"message": "authentication required",
			})
			return
		}
		if claims.Role != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   ErrForbidden.Code,
				"message": string(role) + " access required",
			})
			return
		}
		c.Next()
	}
}

// RequireAdmin middleware ensures the user is the operator
func RequireAdmin() gin.HandlerFunc {
	return RequireRole(RoleAdmin)
}

// RequireReseller middleware ensures the user is a reseller
func RequireReseller() gin.HandlerFunc {
	return RequireRole(RoleReseller)
}

// GetResellerID extracts the reseller ID from the Gin context
func GetResellerID(c *gin.Context) int64 {
	if id, exists := c.Get(ContextKeyResellerID); exists {
		if v, ok := id.(int64); ok {
			return v
		}
	}
	return 0
}

// GetUserClaims extracts the full user claims from the Gin context
func GetUserClaims(c *gin.Context) *UserClaims {
	if claims, exists := c.Get(ContextKeyClaims); exists {
		if v, ok := claims.(*UserClaims); ok {
			return v
		}
	}
	return nil
}
