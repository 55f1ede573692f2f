package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"license-reseller/internal/events"
	"license-reseller/internal/license"
)

// Accounts is the reseller storage the auth service needs
type Accounts interface {
	RegisterReseller(ctx context.Context, token string, reseller *license.Reseller) (*license.Reseller, error)
	FindResellerByUsername(ctx context.Context, username string) (*license.Reseller, error)
	FindReseller(ctx context.Context, id int64) (*license.Reseller, error)
}

// Service handles authentication operations
type Service struct {
	accounts        Accounts
	jwtManager      *JWTManager
	passwordManager *PasswordManager
	publisher       license.Publisher
	logger          zerolog.Logger

	adminUsername string
	adminHash     string
}

// NewService creates a new authentication service. The admin password is
// hashed once here so it is never compared in plain text.
func NewService(accounts Accounts, config Config, publisher license.Publisher, logger zerolog.Logger) (*Service, error) {
	if config.JWTSecret == "" {
		return nil, errors.New("JWT secret is required")
	}
	if config.AccessTokenDuration == 0 {
		config.AccessTokenDuration = 24 * time.Hour
	}
	if config.AdminUsername == "" {
		config.AdminUsername = "admin"
	}

	s := &Service{
		accounts:        accounts,
		jwtManager:      NewJWTManager(config.JWTSecret, config.AccessTokenDuration),
		passwordManager: NewPasswordManager(config.BcryptCost, config.MinPasswordLength),
		publisher:       publisher,
		logger:          logger.With().Str("component", "auth").Logger(),
		adminUsername:   config.AdminUsername,
	}

	if config.AdminPassword != "" {
		hash, err := s.passwordManager.HashPassword(config.AdminPassword)
		if err != nil {
			return nil, fmt.Errorf("failed to hash admin password: %w", err)
		}
		s.adminHash = hash
	} else {
		s.logger.Warn().Msg("Admin password not configured, admin login disabled")
	}

	return s, nil
}

// GetJWTManager returns the JWT manager for use in middleware
func (s *Service) GetJWTManager() *JWTManager {
	return s.jwtManager
}

// Register consumes a referral token and creates an active reseller with no credits
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*license.Reseller, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" {
		return nil, license.Invalid("username is required")
	}
	if strings.EqualFold(username, s.adminUsername) {
		return nil, license.ErrUsernameTaken
	}

	if err := s.passwordManager.ValidatePasswordStrength(req.Password); err != nil {
		return nil, AuthError{Code: ErrWeakPassword.Code, Message: err.Error()}
	}

	passwordHash, err := s.passwordManager.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	reseller, err := s.accounts.RegisterReseller(ctx, strings.TrimSpace(req.ReferralToken), &license.Reseller{
		Username:     username,
		PasswordHash: passwordHash,
		Active:       true,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Int64("reseller_id", reseller.ID).
		Str("username", reseller.Username).
		Msg("Reseller registered")

	if s.publisher != nil {
		s.publisher.Publish(events.Event{
			Type:      events.EventResellerCreated,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"reseller_id": reseller.ID,
				"username":    reseller.Username,
			},
		})
	}

	return reseller, nil
}

// Login authenticates a reseller
func (s *Service) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	reseller, err := s.accounts.FindResellerByUsername(ctx, strings.TrimSpace(req.Username))
	if err != nil {
		return nil, fmt.Errorf("failed to get reseller: %w", err)
	}
	if reseller == nil || !s.passwordManager.VerifyPassword(req.Password, reseller.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	if !reseller.Active {
		return nil, ErrAccountSuspended
	}

	token, err := s.jwtManager.GenerateAccessToken(UserClaims{
		ResellerID: reseller.ID,
		Username:   reseller.Username,
		Role:       RoleReseller,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Int64("reseller_id", reseller.ID).Msg("Reseller logged in")

	return &LoginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   s.jwtManager.GetAccessTokenDuration(),
		Role:        RoleReseller,
		Reseller:    reseller,
	}, nil
}

// AdminLogin authenticates the operator against the configured credentials
func (s *Service) AdminLogin(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	if s.adminHash == "" {
		return nil, ErrInvalidCredentials
	}
	usernameOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(s.adminUsername)) == 1
	passwordOK := s.passwordManager.VerifyPassword(req.Password, s.adminHash)
	if !usernameOK || !passwordOK {
		s.logger.Warn().Str("username", req.Username).Msg("Failed admin login")
		return nil, ErrInvalidCredentials
	}

	token, err := s.jwtManager.GenerateAccessToken(UserClaims{
		Username: s.adminUsername,
		Role:     RoleAdmin,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Msg("Admin logged in")

	return &LoginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   s.jwtManager.GetAccessTokenDuration(),
		Role:        RoleAdmin,
	}, nil
}

// Me returns the reseller behind the claims, or nil for the admin
func (s *Service) Me(ctx context.Context, claims *UserClaims) (*license.Reseller, error) {
	if claims.IsAdmin() {
		return nil, nil
	}
	reseller, err := s.accounts.FindReseller(ctx, claims.ResellerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get reseller: %w", err)
	}
	if reseller == nil {
		return nil, license.ErrResellerNotFound
	}
	return reseller, nil
}
