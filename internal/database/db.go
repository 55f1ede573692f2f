package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool   *pgxpool.Pool
	logger zerolog.Logger
}

// Config holds database configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int32
	MinConns int32
}

// DSN renders the libpq connection string for cfg
func (cfg Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)
}

// NewDB creates a new database connection
func NewDB(ctx context.Context, cfg Config, logger zerolog.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	logger = logger.With().Str("component", "Database").Logger()
	logger.Info().Str("database", cfg.Database).Str("host", cfg.Host).Msg("Connected to PostgreSQL")

	return &DB{Pool: pool, logger: logger}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info().Msg("Database connection closed")
	}
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS resellers (
		id BIGSERIAL PRIMARY KEY,
		username VARCHAR(64) NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		credits BIGINT NOT NULL DEFAULT 0,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS referral_tokens (
		token VARCHAR(64) PRIMARY KEY,
		used BOOLEAN NOT NULL DEFAULT FALSE,
		used_by VARCHAR(64),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		used_at TIMESTAMPTZ
	)`,

	`CREATE TABLE IF NOT EXISTS license_keys (
		id BIGSERIAL PRIMARY KEY,
		license_key VARCHAR(64) NOT NULL UNIQUE,
		game VARCHAR(32) NOT NULL,
		reseller_id BIGINT NOT NULL REFERENCES resellers(id),
		device_limit INTEGER NOT NULL CHECK (device_limit >= 1),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		expires_at TIMESTAMPTZ NOT NULL,
		revoked BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_license_keys_reseller ON license_keys(reseller_id)`,

	// devices go away with their key
	`CREATE TABLE IF NOT EXISTS devices (
		id BIGSERIAL PRIMARY KEY,
		key_id BIGINT NOT NULL REFERENCES license_keys(id) ON DELETE CASCADE,
		device_id VARCHAR(256) NOT NULL,
		registered_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (key_id, device_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_devices_key ON devices(key_id)`,

	`CREATE TABLE IF NOT EXISTS updates (
		id BIGSERIAL PRIMARY KEY,
		message TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	db.logger.Info().Int("count", len(migrations)).Msg("Running database migrations")

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	db.logger.Info().Msg("Database migrations completed")
	return nil
}

// HealthCheck checks if the database is reachable
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}
