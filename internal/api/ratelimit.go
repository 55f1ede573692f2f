package api

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"license-reseller/internal/cache"
)

const (
	backendRedis = "redis"
	backendLocal = "local"

	visitorTTL = 3 * time.Minute
)

// WindowCounter is a shared fixed-window counter, normally Redis
type WindowCounter interface {
	IsHealthy() bool
	IncrementWindow(ctx context.Context, key string, window time.Duration) (int64, error)
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter limits requests per client. It counts in Redis while Redis is
// healthy so every instance shares one budget, and falls back to an
// in-process token bucket per client otherwise.
type RateLimiter struct {
	counter WindowCounter
	limit   int
	burst   int
	window  time.Duration

	mu          sync.Mutex
	visitors    map[string]*visitor
	lastCleanup time.Time
	now         func() time.Time
}

// NewRateLimiter creates a limiter allowing limit requests per window
func NewRateLimiter(limit, burst int, window time.Duration, counter WindowCounter) *RateLimiter {
	if limit <= 0 {
		limit = 60
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		counter:     counter,
		limit:       limit,
		burst:       burst,
		window:      window,
		visitors:    make(map[string]*visitor),
		lastCleanup: time.Now(),
		now:         time.Now,
	}
}

// Allow reports whether client may proceed and which backend decided
func (r *RateLimiter) Allow(ctx context.Context, client string) (bool, string) {
	if r.counter != nil && r.counter.IsHealthy() {
		n, err := r.counter.IncrementWindow(ctx, cache.RateLimitKey(client, r.now(), r.window), r.window)
		if err == nil {
			return n <= int64(r.limit), backendRedis
		}
	}
	return r.local(client).Allow(), backendLocal
}

func (r *RateLimiter) local(client string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if now.Sub(r.lastCleanup) > visitorTTL {
		for k, v := range r.visitors {
			if now.Sub(v.lastSeen) > visitorTTL {
				delete(r.visitors, k)
			}
		}
		r.lastCleanup = now
	}

	v, ok := r.visitors[client]
	if !ok {
		every := r.window / time.Duration(r.limit)
		v = &visitor{limiter: rate.NewLimiter(rate.Every(every), r.burst)}
		r.visitors[client] = v
	}
	v.lastSeen = now
	return v.limiter
}

// rateLimitMiddleware rejects clients over budget with 429
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, backend := s.limiter.Allow(c.Request.Context(), c.ClientIP())
		if !allowed {
			if s.metrics != nil {
				s.metrics.ObserveRateLimited(c.FullPath(), backend)
			}
			c.Header("Retry-After", strconv.Itoa(int(s.limiter.window.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "RATE_LIMITED",
				"message": "too many requests, please try again later",
			})
			return
		}
		c.Next()
	}
}
