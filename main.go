package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"license-reseller/config"
	"license-reseller/internal/api"
	"license-reseller/internal/auth"
	"license-reseller/internal/cache"
	"license-reseller/internal/database"
	"license-reseller/internal/events"
	"license-reseller/internal/license"
	"license-reseller/internal/logging"
	"license-reseller/internal/metrics"
	"license-reseller/internal/updates"
	"license-reseller/internal/vault"
)

// backend is everything the services need from a store
type backend interface {
	license.Backend
	auth.Accounts
	updates.Repository
	api.HealthChecker
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "license-reseller: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Initialize structured logging
	logger, closer := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Output:      cfg.Logging.Output,
		JSONFormat:  cfg.Logging.JSONFormat,
		IncludeFile: cfg.Logging.IncludeFile,
		Component:   "main",
	})
	if closer != nil {
		defer closer.Close()
	}
	logging.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Secrets from Vault override file and env values
	vaultClient, err := vault.NewClient(cfg.Vault, logger)
	if err != nil {
		return fmt.Errorf("failed to create vault client: %w", err)
	}
	if vaultClient.IsEnabled() {
		secrets, err := vaultClient.LoadSecrets(ctx)
		if err != nil {
			return fmt.Errorf("failed to load secrets from vault: %w", err)
		}
		secrets.Apply(cfg)
		logger.Info().Msg("Secrets loaded from Vault")
	}
	if err := cfg.ValidateSecrets(); err != nil {
		return err
	}

	store, cleanup, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	// Redis is optional; interfaces stay nil when it is off
	var (
		cacheService *cache.CacheService
		mirror       license.KeyMirror
		updatesCache updates.Cache
	)
	if cfg.Redis.Enabled {
		cacheService, err = cache.NewCacheService(cfg.Redis, logger, cache.WithMirrorRetention(cfg.License.MirrorRetention))
		if err != nil {
			return fmt.Errorf("failed to create cache service: %w", err)
		}
		defer cacheService.Close()
		updatesCache = cacheService
		if cfg.License.MirrorIssuedKeys {
			mirror = cacheService
		}
	} else {
		logger.Info().Msg("Redis disabled, running without cache")
	}

	eventBus := events.NewEventBus()
	registry := metrics.NewRegistry()
	eventBus.SubscribeAll(registry.HandleEvent)

	services := license.NewServices(license.Dependencies{
		Store:     store,
		Publisher: eventBus,
		Mirror:    mirror,
		Observer:  registry,
		Logger:    logger,
	})

	authConfig := auth.DefaultConfig()
	authConfig.JWTSecret = cfg.Auth.JWTSecret
	authConfig.AccessTokenDuration = cfg.Auth.AccessTokenDuration
	authConfig.MinPasswordLength = cfg.Auth.MinPasswordLength
	authConfig.AdminUsername = cfg.Admin.Username
	authConfig.AdminPassword = cfg.Admin.Password

	authService, err := auth.NewService(store, authConfig, eventBus, logger)
	if err != nil {
		return fmt.Errorf("failed to create auth service: %w", err)
	}

	updatesService := updates.NewService(store, updatesCache, eventBus, cfg.License.UpdateHistoryLimit, logger)

	if cfg.Logging.Level != "DEBUG" {
		gin.SetMode(gin.ReleaseMode)
	}
	server := api.NewServer(cfg.Server, cfg.RateLimit, api.Dependencies{
		Services: services,
		Auth:     authService,
		Updates:  updatesService,
		Store:    store,
		Cache:    cacheService,
		EventBus: eventBus,
		Metrics:  registry,
		Logger:   logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		server.Hub().Run(gctx)
		return nil
	})
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	eventBus.Wait()
	logger.Info().Msg("Server stopped")
	return nil
}

// openStore connects the configured store and returns its cleanup func
func openStore(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (backend, func(), error) {
	switch cfg.Driver {
	case "memory":
		logger.Warn().Msg("Using in-memory store, data is lost on restart")
		return database.NewMemoryStore(), func() {}, nil

	default:
		db, err := database.NewDB(ctx, database.Config{
			Host:     cfg.Host,
			Port:     cfg.Port,
			User:     cfg.User,
			Password: cfg.Password,
			Database: cfg.Name,
			SSLMode:  cfg.SSLMode,
			MaxConns: cfg.MaxConns,
			MinConns: cfg.MinConns,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := db.RunMigrations(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		return database.NewRepository(db), db.Close, nil
	}
}
