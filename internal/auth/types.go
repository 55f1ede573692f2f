package auth

import (
	"time"

	"license-reseller/internal/license"
)

// Role distinguishes reseller tokens from the operator token
type Role string

const (
	RoleReseller Role = "reseller"
	RoleAdmin    Role = "admin"
)

// UserClaims represents the JWT claims for a reseller or the admin
type UserClaims struct {
	ResellerID int64  `json:"reseller_id,omitempty"`
	Username   string `json:"username"`
	Role       Role   `json:"role"`
}

// IsAdmin reports whether the claims belong to the operator
func (c UserClaims) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// RegisterRequest represents a reseller registration request
type RegisterRequest struct {
	Username      string `json:"username" binding:"required,min=3,max=32,alphanum"`
	Password      string `json:"password" binding:"required,min=8"`
	ReferralToken string `json:"referralToken" binding:"required"`
}

// LoginRequest represents a reseller or admin login request
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse represents a successful login response
type LoginResponse struct {
	AccessToken string            `json:"access_token"`
	TokenType   string            `json:"token_type"` // Always "Bearer"
	ExpiresIn   int64             `json:"expires_in"` // Seconds
	Role        Role              `json:"role"`
	Reseller    *license.Reseller `json:"reseller,omitempty"`
}

// Config holds authentication configuration
type Config struct {
	JWTSecret           string
	AccessTokenDuration time.Duration
	MinPasswordLength   int
	BcryptCost          int

	AdminUsername string
	AdminPassword string
}

// DefaultConfig returns default authentication configuration
func DefaultConfig() Config {
	return Config{
		JWTSecret:           "", // Must be set
		AccessTokenDuration: 24 * time.Hour,
		MinPasswordLength:   MinPasswordLength,
		BcryptCost:          DefaultBcryptCost,
		AdminUsername:       "admin",
	}
}

// Error types for authentication
type AuthError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e AuthError) Error() string {
	return e.Message
}

// Common authentication errors
var (
	ErrInvalidCredentials = AuthError{Code: "INVALID_CREDENTIALS", Message: "invalid username or password"}
	ErrInvalidToken       = AuthError{Code: "INVALID_TOKEN", Message: "invalid or expired token"}
	ErrTokenExpired       = AuthError{Code: "TOKEN_EXPIRED", Message: "token has expired"}
	ErrUnauthorized       = AuthError{Code: "UNAUTHORIZED", Message: "unauthorized access"}
	ErrForbidden          = AuthError{Code: "FORBIDDEN", Message: "access forbidden"}
	ErrAccountSuspended   = AuthError{Code: "ACCOUNT_SUSPENDED", Message: "reseller account has been disabled"}
	ErrWeakPassword       = AuthError{Code: "WEAK_PASSWORD", Message: "password does not meet requirements"}
)
