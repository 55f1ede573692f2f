package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// DefaultConfigFile is read from the working directory when CONFIG_FILE is unset
const DefaultConfigFile = "config.json"

type Config struct {
	Server    ServerConfig    `json:"server" envconfig:"SERVER"`
	Database  DatabaseConfig  `json:"database" envconfig:"DATABASE"`
	Redis     RedisConfig     `json:"redis" envconfig:"REDIS"`
	Auth      AuthConfig      `json:"auth" envconfig:"AUTH"`
	Admin     AdminConfig     `json:"admin" envconfig:"ADMIN"`
	Vault     VaultConfig     `json:"vault" envconfig:"VAULT"`
	Logging   LoggingConfig   `json:"logging" envconfig:"LOGGING"`
	RateLimit RateLimitConfig `json:"rate_limit" envconfig:"RATE_LIMIT"`
	License   LicenseConfig   `json:"license" envconfig:"LICENSE"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int    `json:"port" split_words:"true"`
	Host            string `json:"host" split_words:"true"`
	AllowedOrigins  string `json:"allowed_origins" split_words:"true"`  // Comma separated, "*" allows all
	ReadTimeout     int    `json:"read_timeout" split_words:"true"`     // Seconds
	WriteTimeout    int    `json:"write_timeout" split_words:"true"`    // Seconds
	ShutdownTimeout int    `json:"shutdown_timeout" split_words:"true"` // Seconds
}

// DatabaseConfig selects and configures the key store
type DatabaseConfig struct {
	Driver   string `json:"driver" split_words:"true"` // postgres or memory
	Host     string `json:"host" split_words:"true"`
	Port     int    `json:"port" split_words:"true"`
	User     string `json:"user" split_words:"true"`
	Password string `json:"password" split_words:"true"`
	Name     string `json:"name" split_words:"true"`
	SSLMode  string `json:"ssl_mode" split_words:"true"`
	MaxConns int32  `json:"max_conns" split_words:"true"`
	MinConns int32  `json:"min_conns" split_words:"true"`
}

// RedisConfig holds Redis configuration for caching and rate limiting
type RedisConfig struct {
	Enabled  bool   `json:"enabled" split_words:"true"`
	Address  string `json:"address" split_words:"true"`
	Password string `json:"password" split_words:"true"`
	DB       int    `json:"db" split_words:"true"`
	PoolSize int    `json:"pool_size" split_words:"true"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret           string        `json:"jwt_secret" split_words:"true"`
	AccessTokenDuration time.Duration `json:"access_token_duration" split_words:"true"`
	MinPasswordLength   int           `json:"min_password_length" split_words:"true"`
}

// AdminConfig holds the single operator account
type AdminConfig struct {
	Username string `json:"username" split_words:"true"`
	Password string `json:"password" split_words:"true"`
}

// VaultConfig holds HashiCorp Vault configuration
type VaultConfig struct {
	Enabled    bool   `json:"enabled" split_words:"true"`
	Address    string `json:"address" split_words:"true"`
	Token      string `json:"token" split_words:"true"`
	MountPath  string `json:"mount_path" split_words:"true"`  // KV v2 mount
	SecretPath string `json:"secret_path" split_words:"true"` // Path of the service secret
	TLSEnabled bool   `json:"tls_enabled" split_words:"true"`
	CACert     string `json:"ca_cert" split_words:"true"`
}

type LoggingConfig struct {
	Level       string `json:"level" split_words:"true"`        // DEBUG, INFO, WARN, ERROR
	Output      string `json:"output" split_words:"true"`       // stdout, stderr, or file path
	JSONFormat  bool   `json:"json_format" split_words:"true"`  // Output as JSON
	IncludeFile bool   `json:"include_file" split_words:"true"` // Include file and line number
}

// RateLimitConfig limits the public verification endpoints per client IP
type RateLimitConfig struct {
	Enabled           bool `json:"enabled" split_words:"true"`
	RequestsPerMinute int  `json:"requests_per_minute" split_words:"true"`
	Burst             int  `json:"burst" split_words:"true"`
}

// LicenseConfig tunes issuance side effects
type LicenseConfig struct {
	MirrorIssuedKeys   bool `json:"mirror_issued_keys" split_words:"true"`
	MirrorRetention    int  `json:"mirror_retention" split_words:"true"` // Keys kept per reseller in the mirror
	UpdateHistoryLimit int  `json:"update_history_limit" split_words:"true"`
}

// Load reads the config file (CONFIG_FILE or config.json), applies
// environment overrides, fills defaults and validates the result.
func Load() (*Config, error) {
	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		path = DefaultConfigFile
	}

	cfg, err := loadFromFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		// If no config file, start with empty config
		cfg = &Config{}
	}

	// Environment variables take precedence over the file
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

// ApplyDefaults fills every zero value that has a sensible default
func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.AllowedOrigins == "" {
		c.Server.AllowedOrigins = "*"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 15
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.Database.Host == "" {
		c.Database.Host = "localhost"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.User == "" {
		c.Database.User = "license"
	}
	if c.Database.Name == "" {
		c.Database.Name = "license_reseller"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = 25
	}
	if c.Database.MinConns == 0 {
		c.Database.MinConns = 5
	}

	if c.Redis.Address == "" {
		c.Redis.Address = "localhost:6379"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 10
	}

	if c.Auth.AccessTokenDuration == 0 {
		c.Auth.AccessTokenDuration = 24 * time.Hour
	}
	if c.Auth.MinPasswordLength == 0 {
		c.Auth.MinPasswordLength = 8
	}

	if c.Admin.Username == "" {
		c.Admin.Username = "admin"
	}

	if c.Vault.MountPath == "" {
		c.Vault.MountPath = "secret"
	}
	if c.Vault.SecretPath == "" {
		c.Vault.SecretPath = "license-reseller"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "INFO"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}

	if c.RateLimit.RequestsPerMinute == 0 {
		c.RateLimit.RequestsPerMinute = 60
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 10
	}

	if c.License.MirrorRetention == 0 {
		c.License.MirrorRetention = 1000
	}
	if c.License.UpdateHistoryLimit == 0 {
		c.License.UpdateHistoryLimit = 50
	}
}

// Validate checks the settings that cannot be defaulted. Secrets may still
// arrive from Vault, so ValidateSecrets runs after they are resolved.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("database.driver must be postgres or memory, got %q", c.Database.Driver)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.RateLimit.RequestsPerMinute < 0 || c.RateLimit.Burst < 0 {
		return errors.New("rate_limit values must not be negative")
	}
	if c.Vault.Enabled && c.Vault.Address == "" {
		return errors.New("vault.address is required when vault is enabled")
	}
	return nil
}

// ValidateSecrets checks that every required secret is present
func (c *Config) ValidateSecrets() error {
	var missing []string
	if len(c.Auth.JWTSecret) < 32 {
		missing = append(missing, "auth.jwt_secret (min 32 chars)")
	}
	if c.Admin.Password == "" {
		missing = append(missing, "admin.password")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing secrets: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Origins splits the CORS origin list
func (s ServerConfig) Origins() []string {
	var out []string
	for _, o := range strings.Split(s.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// Address returns host:port for the HTTP listener
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
