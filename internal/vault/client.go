package vault

import (
	"context"
	"fmt"
	"sync"

	"license-reseller/config"

	"github.com/hashicorp/vault/api"
	"github.com/rs/zerolog"
)

// Secrets are the runtime credentials kept in Vault
type Secrets struct {
	JWTSecret     string
	DBPassword    string
	AdminPassword string
	RedisPassword string
}

// Client wraps the HashiCorp Vault client
type Client struct {
	client *api.Client
	config config.VaultConfig
	logger zerolog.Logger

	mu     sync.RWMutex
	cached *Secrets
}

// NewClient creates a new Vault client. A disabled config yields a client
// whose LoadSecrets returns an empty set.
func NewClient(cfg config.VaultConfig, logger zerolog.Logger) (*Client, error) {
	c := &Client{
		config: cfg,
		logger: logger.With().Str("component", "vault").Logger(),
	}
	if !cfg.Enabled {
		return c, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		tlsConfig := &api.TLSConfig{
			CACert: cfg.CACert,
		}
		if err := vaultConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	c.client = client
	return c, nil
}

// IsEnabled reports whether secrets are read from Vault
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// LoadSecrets reads the service secret from the KV v2 engine. The result is
// cached for the life of the client.
func (c *Client) LoadSecrets(ctx context.Context) (*Secrets, error) {
	c.mu.RLock()
	if c.cached != nil {
		s := *c.cached
		c.mu.RUnlock()
		return &s, nil
	}
	c.mu.RUnlock()

	if !c.config.Enabled {
		return &Secrets{}, nil
	}

	path := c.secretPath()
	secret, err := c.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secrets from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("secret %s not found", path)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid secret format at %s", path)
	}

	s := &Secrets{
		JWTSecret:     getString(data, "jwt_secret"),
		DBPassword:    getString(data, "db_password"),
		AdminPassword: getString(data, "admin_password"),
		RedisPassword: getString(data, "redis_password"),
	}

	c.mu.Lock()
	c.cached = s
	c.mu.Unlock()

	c.logger.Info().Str("path", path).Msg("Loaded secrets from vault")

	out := *s
	return &out, nil
}

// Apply copies every non-empty secret over the matching config field
func (s *Secrets) Apply(cfg *config.Config) {
	if s.JWTSecret != "" {
		cfg.Auth.JWTSecret = s.JWTSecret
	}
	if s.DBPassword != "" {
		cfg.Database.Password = s.DBPassword
	}
	if s.AdminPassword != "" {
		cfg.Admin.Password = s.AdminPassword
	}
	if s.RedisPassword != "" {
		cfg.Redis.Password = s.RedisPassword
	}
}

func (c *Client) secretPath() string {
	return fmt.Sprintf("%s/data/%s", c.config.MountPath, c.config.SecretPath)
}

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}
