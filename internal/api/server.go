package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"license-reseller/config"
	"license-reseller/internal/auth"
	"license-reseller/internal/cache"
	"license-reseller/internal/events"
	"license-reseller/internal/license"
	"license-reseller/internal/logging"
	"license-reseller/internal/metrics"
	"license-reseller/internal/updates"
)

// HealthChecker reports store reachability
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies are the collaborators the HTTP layer calls into
type Dependencies struct {
	Services *license.Services
	Auth     *auth.Service
	Updates  *updates.Service
	Store    HealthChecker
	Cache    *cache.CacheService // Can be nil if Redis is disabled
	EventBus *events.EventBus
	Metrics  *metrics.Registry // Can be nil
	Logger   zerolog.Logger
}

// Server represents the HTTP API server
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	config     config.ServerConfig
	services   *license.Services
	auth       *auth.Service
	updates    *updates.Service
	store      HealthChecker
	cache      *cache.CacheService
	metrics    *metrics.Registry
	limiter    *RateLimiter
	hub        *WSHub
	logger     zerolog.Logger
	startedAt  time.Time
}

// NewServer creates a new API server
func NewServer(cfg config.ServerConfig, rl config.RateLimitConfig, deps Dependencies) *Server {
	router := gin.New()

	// Middleware
	router.Use(gin.Recovery())
	router.Use(logging.GinMiddleware(deps.Logger))
	if deps.Metrics != nil {
		router.Use(deps.Metrics.GinMiddleware())
	}

	// CORS middleware
	corsConfig := cors.DefaultConfig()
	origins := cfg.Origins()
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = origins
		corsConfig.AllowCredentials = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", logging.TraceHeader}
	corsConfig.ExposeHeaders = []string{"Content-Length", logging.TraceHeader}
	router.Use(cors.New(corsConfig))

	s := &Server{
		router:    router,
		config:    cfg,
		services:  deps.Services,
		auth:      deps.Auth,
		updates:   deps.Updates,
		store:     deps.Store,
		cache:     deps.Cache,
		metrics:   deps.Metrics,
		hub:       NewWSHub(deps.Logger),
		logger:    deps.Logger.With().Str("component", "api").Logger(),
		startedAt: time.Now(),
	}

	if rl.Enabled {
		var counter WindowCounter
		if deps.Cache != nil {
			counter = deps.Cache
		}
		s.limiter = NewRateLimiter(rl.RequestsPerMinute, rl.Burst, time.Minute, counter)
	}

	if deps.EventBus != nil {
		deps.EventBus.Subscribe(events.EventUpdatePublished, s.hub.BroadcastEvent)
		deps.EventBus.Subscribe(events.EventUpdateDeleted, s.hub.BroadcastEvent)
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.Group("/api")

	// Public routes
	api.GET("/health", s.handleHealth)
	verify := api.Group("/verify")
	if s.limiter != nil {
		verify.Use(s.rateLimitMiddleware())
	}
	verify.POST("", s.handleVerify)
	verify.POST("/check", s.handleVerifyCheck)

	api.GET("/updates", s.handleListUpdates)
	api.GET("/updates/latest", s.handleLatestUpdate)

	s.router.GET("/ws/updates", s.handleWebSocket)
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	// Auth routes
	auth.NewHandlers(s.auth).RegisterRoutes(api.Group("/auth"))

	jwt := auth.Middleware(s.auth.GetJWTManager())

	// Reseller routes
	reseller := api.Group("/reseller", jwt, auth.RequireReseller())
	{
		reseller.GET("/profile", s.handleResellerProfile)
		reseller.GET("/keys", s.handleResellerListKeys)
		reseller.POST("/keys", s.handleResellerIssueKeys)
		reseller.POST("/keys/:id/revoke", s.handleResellerRevokeKey)
		reseller.GET("/keys/:id/devices", s.handleResellerListDevices)
		reseller.DELETE("/keys/:id/devices/:deviceId", s.handleResellerRemoveDevice)
	}

	// Admin routes
	admin := api.Group("/admin", jwt, auth.RequireAdmin())
	{
		admin.GET("/resellers", s.handleAdminListResellers)
		admin.POST("/resellers/:id/credits", s.handleAdminGrantCredits)
		admin.PUT("/resellers/:id/active", s.handleAdminSetActive)

		admin.GET("/referral-tokens", s.handleAdminListReferralTokens)
		admin.POST("/referral-tokens", s.handleAdminCreateReferralToken)
		admin.DELETE("/referral-tokens/:token", s.handleAdminDeleteReferralToken)

		admin.GET("/keys", s.handleAdminListKeys)
		admin.POST("/keys/:id/revoke", s.handleAdminRevokeKey)
		admin.DELETE("/keys/:id", s.handleAdminDeleteKey)

		admin.GET("/updates", s.handleListUpdates)
		admin.POST("/updates", s.handleAdminPublishUpdate)
		admin.DELETE("/updates/:id", s.handleAdminDeleteUpdate)
	}
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the websocket hub so the caller can run it
func (s *Server) Hub() *WSHub {
	return s.hub
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// handleHealth returns server health status
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	redisStatus := "disabled"
	var redisStats *cache.Stats
	if s.cache != nil {
		redisStatus = "healthy"
		if err := s.cache.Ping(ctx); err != nil {
			redisStatus = "degraded"
		}
		stats := s.cache.GetStats()
		redisStats = &stats
	}

	if err := s.store.HealthCheck(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Database health check failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unhealthy",
			"database": "unhealthy",
			"redis":    redisStatus,
		})
		return
	}

	body := gin.H{
		"status":     "healthy",
		"database":   "healthy",
		"redis":      redisStatus,
		"ws_clients": s.hub.GetClientCount(),
		"uptime":     time.Since(s.startedAt).Round(time.Second).String(),
	}
	if redisStats != nil {
		body["redis_stats"] = redisStats
	}
	c.JSON(http.StatusOK, body)
}

// errorResponse is a helper to send error responses
func errorResponse(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, gin.H{
		"error":   code,
		"message": message,
	})
}

// writeError maps a service error to a status code and body. Anything that
// is not a domain error is logged and hidden behind a generic message.
func (s *Server) writeError(c *gin.Context, err error) {
	var domainErr *license.Error
	if errors.As(err, &domainErr) {
		errorResponse(c, statusFor(domainErr), domainErr.Code, domainErr.Message)
		return
	}

	logger := logging.FromContext(c.Request.Context())
	logger.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
	errorResponse(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
}

func statusFor(err *license.Error) int {
	switch {
	case errors.Is(err, license.ErrInsufficientCredits):
		return http.StatusPaymentRequired
	case errors.Is(err, license.ErrResellerInactive):
		return http.StatusForbidden
	}
	switch err.Kind {
	case license.KindValidation:
		return http.StatusBadRequest
	case license.KindNotFound:
		return http.StatusNotFound
	case license.KindBusiness:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// bindJSON decodes the body or answers 400
func bindJSON(c *gin.Context, dest interface{}) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		errorResponse(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return false
	}
	return true
}

// parseID reads a positive numeric path parameter or answers 400
func parseID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		errorResponse(c, http.StatusBadRequest, "INVALID_ID", fmt.Sprintf("invalid %s", name))
		return 0, false
	}
	return id, true
}
