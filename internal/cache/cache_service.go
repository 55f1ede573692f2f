// Package cache provides Redis-based caching for the license service: the
// issued-key mirror, the latest update message and rate-limit counters.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"license-reseller/config"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrUnavailable is returned while the circuit breaker is open
var ErrUnavailable = errors.New("redis unavailable (circuit breaker open)")

// CacheService provides Redis-based caching with graceful degradation.
// When Redis is unavailable, operations return errors that callers should handle
// by falling back to the database or to local state.
type CacheService struct {
	client       *redis.Client
	config       config.RedisConfig
	logger       zerolog.Logger
	mu           sync.RWMutex
	healthy      bool
	failureCount int
	lastCheck    time.Time

	// Circuit breaker settings
	maxFailures   int
	checkInterval time.Duration

	mirrorRetention int64
}

// Key prefixes for different cache types
const (
	PrefixIssuedKeys   = "reseller:%d:issued_keys"
	PrefixLatestUpdate = "updates:latest"
	PrefixRateLimit    = "ratelimit:%s:%d"
)

// Default TTLs
const (
	DefaultUpdateTTL      = 24 * time.Hour
	DefaultMirrorTTL      = 30 * 24 * time.Hour
	DefaultMirrorRetained = 1000
)

// Option customises a CacheService
type Option func(*CacheService)

// WithMirrorRetention caps the number of mirrored keys kept per reseller
func WithMirrorRetention(n int) Option {
	return func(cs *CacheService) {
		if n > 0 {
			cs.mirrorRetention = int64(n)
		}
	}
}

// NewCacheService creates a new CacheService with the provided configuration.
// It attempts to connect to Redis and verifies connectivity.
func NewCacheService(cfg config.RedisConfig, logger zerolog.Logger, opts ...Option) (*CacheService, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("redis is not enabled in configuration")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	cs := &CacheService{
		client:          client,
		config:          cfg,
		logger:          logger.With().Str("component", "cache").Logger(),
		maxFailures:     3,
		checkInterval:   30 * time.Second,
		mirrorRetention: DefaultMirrorRetained,
	}
	for _, opt := range opts {
		opt(cs)
	}

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		cs.logger.Warn().Err(err).Str("address", cfg.Address).Msg("Initial Redis connection failed, running degraded")
		cs.lastCheck = time.Now()
		return cs, nil // Return service in degraded mode
	}

	cs.healthy = true
	cs.lastCheck = time.Now()
	cs.logger.Info().Str("address", cfg.Address).Msg("Redis connected")

	return cs, nil
}

// IsHealthy returns whether Redis is currently available.
func (cs *CacheService) IsHealthy() bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.healthy
}

// recordFailure tracks a Redis operation failure for circuit breaker.
func (cs *CacheService) recordFailure() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.failureCount++
	if cs.failureCount >= cs.maxFailures {
		if cs.healthy {
			cs.logger.Warn().Int("failures", cs.failureCount).Msg("Circuit breaker OPEN: Redis marked unhealthy")
		}
		cs.healthy = false
	}
}

// recordSuccess resets the failure counter on successful operation.
func (cs *CacheService) recordSuccess() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if !cs.healthy {
		cs.logger.Info().Msg("Circuit breaker CLOSED: Redis recovered")
	}
	cs.healthy = true
	cs.failureCount = 0
	cs.lastCheck = time.Now()
}

// checkHealth performs a background health check if enough time has passed.
func (cs *CacheService) checkHealth() {
	cs.mu.Lock()
	shouldCheck := !cs.healthy && time.Since(cs.lastCheck) >= cs.checkInterval
	if shouldCheck {
		cs.lastCheck = time.Now()
	}
	cs.mu.Unlock()

	if !shouldCheck {
		return
	}

	go func() {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := cs.client.Ping(pingCtx).Err(); err == nil {
			cs.recordSuccess()
		}
	}()
}

func (cs *CacheService) available() error {
	cs.checkHealth()
	if !cs.IsHealthy() {
		return ErrUnavailable
	}
	return nil
}

// Get retrieves a value from cache. A miss returns redis.Nil.
func (cs *CacheService) Get(ctx context.Context, key string) (string, error) {
	if err := cs.available(); err != nil {
		return "", err
	}

	result, err := cs.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", err // Cache miss, not a failure
		}
		cs.recordFailure()
		return "", fmt.Errorf("redis get failed: %w", err)
	}

	cs.recordSuccess()
	return result, nil
}

// Set stores a value in cache with TTL.
func (cs *CacheService) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if err := cs.available(); err != nil {
		return err
	}

	var data string
	switch v := value.(type) {
	case string:
		data = v
	case []byte:
		data = string(v)
	default:
		jsonData, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to marshal value: %w", err)
		}
		data = string(jsonData)
	}

	if err := cs.client.Set(ctx, key, data, ttl).Err(); err != nil {
		cs.recordFailure()
		return fmt.Errorf("redis set failed: %w", err)
	}

	cs.recordSuccess()
	return nil
}

// Delete removes a key from cache.
func (cs *CacheService) Delete(ctx context.Context, key string) error {
	if err := cs.available(); err != nil {
		return err
	}

	if err := cs.client.Del(ctx, key).Err(); err != nil {
		cs.recordFailure()
		return fmt.Errorf("redis delete failed: %w", err)
	}

	cs.recordSuccess()
	return nil
}

// GetJSON retrieves and unmarshals a JSON value from cache.
func (cs *CacheService) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := cs.Get(ctx, key)
	if err != nil {
		return err
	}

	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return fmt.Errorf("failed to unmarshal cached value: %w", err)
	}

	return nil
}

// SetJSON marshals and stores a JSON value in cache.
func (cs *CacheService) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return cs.Set(ctx, key, value, ttl)
}

// IncrementWindow atomically increments a fixed-window counter and returns
// the new count. The window TTL is set on first increment.
func (cs *CacheService) IncrementWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	if err := cs.available(); err != nil {
		return 0, err
	}

	// INCR is atomic; the first hit of a window sets its expiry
	val, err := cs.client.Incr(ctx, key).Result()
	if err != nil {
		cs.recordFailure()
		return 0, fmt.Errorf("redis incr failed: %w", err)
	}
	if val == 1 {
		cs.client.Expire(ctx, key, window)
	}

	cs.recordSuccess()
	return val, nil
}

// Close closes the Redis connection.
func (cs *CacheService) Close() error {
	if cs.client != nil {
		return cs.client.Close()
	}
	return nil
}

// Ping checks Redis connectivity and feeds the result to the breaker.
func (cs *CacheService) Ping(ctx context.Context) error {
	if err := cs.client.Ping(ctx).Err(); err != nil {
		cs.recordFailure()
		return err
	}
	cs.recordSuccess()
	return nil
}

// Stats returns cache statistics for monitoring.
type Stats struct {
	Healthy      bool   `json:"healthy"`
	FailureCount int    `json:"failure_count"`
	Address      string `json:"address"`
	PoolSize     int    `json:"pool_size"`
}

// GetStats returns current cache statistics.
func (cs *CacheService) GetStats() Stats {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	return Stats{
		Healthy:      cs.healthy,
		FailureCount: cs.failureCount,
		Address:      cs.config.Address,
		PoolSize:     cs.config.PoolSize,
	}
}

// IssuedKeysKey generates the mirror list key for a reseller.
func IssuedKeysKey(resellerID int64) string {
	return fmt.Sprintf(PrefixIssuedKeys, resellerID)
}

// LatestUpdateKey returns the cache key of the newest update message.
func LatestUpdateKey() string {
	return PrefixLatestUpdate
}

// RateLimitKey generates the counter key for a client in the window
// containing now.
func RateLimitKey(client string, now time.Time, window time.Duration) string {
	return fmt.Sprintf(PrefixRateLimit, client, now.UnixNano()/int64(window))
}
