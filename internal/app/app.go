// Package app assembles the gateway from configuration and runs it.
package app

import (
	"context"

	goredis "github.com/go-redis/redis/v8"
	"github.com/robfig/cron/v3"

	"playshelf/internal/catalog"
	"playshelf/internal/circuitbreaker"
	"playshelf/internal/common/cache"
	"playshelf/internal/common/logging"
	clientlimit "playshelf/internal/common/ratelimit"
	"playshelf/internal/config"
	"playshelf/internal/gateway"
	"playshelf/internal/library"
	"playshelf/internal/oauth2"
	"playshelf/internal/ratelimit"
	"playshelf/internal/redis"
)

// App holds all the application dependencies
type App struct {
	Config      *config.Config
	Library     *library.Store
	RedisClient *redis.Client
	Breaker     *circuitbreaker.Breaker
	Tokens      *oauth2.Manager
	Limiter     *ratelimit.Limiter
	Pages       *cache.Tiered[catalog.SearchResultPage]
	Gateway     *gateway.Gateway
	Clients     clientlimit.Limiter
	Logger      logging.Logger

	sweeper *cron.Cron
}

// New creates a new application instance with all dependencies
func New(cfg *config.Config) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logging.GetGlobalLogger().WithFields(logging.String("component", "app")),
	}

	if err := app.initializeLibrary(); err != nil {
		return nil, err
	}

	if err := app.initializeRedis(); err != nil {
		// Redis is optional, the page cache stays process-local
		app.Logger.Warn("Redis initialization failed, continuing without shared cache",
			logging.String("error", err.Error()))
	}

	if err := app.initializeGateway(); err != nil {
		app.Cleanup()
		return nil, err
	}

	if err := app.initializeClientLimiter(); err != nil {
		app.Cleanup()
		return nil, err
	}

	if err := app.startSweeper(); err != nil {
		app.Cleanup()
		return nil, err
	}

	return app, nil
}

func (app *App) initializeLibrary() error {
	store, err := library.Open(app.Config.DatabasePath)
	if err != nil {
		return err
	}
	app.Library = store
	app.Logger.Info("Library: Opened", logging.String("path", app.Config.DatabasePath))
	return nil
}

// initializeClientLimiter shares per-client budgets through Redis when it is connected
func (app *App) initializeClientLimiter() error {
	cfg := clientlimit.DefaultConfig()
	cfg.RequestsPerSecond = app.Config.ClientRateLimit
	cfg.Burst = app.Config.ClientRateBurst

	var rdb goredis.Cmdable
	if app.RedisClient != nil {
		rdb = app.RedisClient.Redis()
	}
	limiter, err := clientlimit.New(cfg, rdb)
	if err != nil {
		return err
	}
	app.Clients = limiter
	if cfg.Enabled() {
		app.Logger.Info("Client rate limiting: Enabled",
			logging.Any("requests_per_second", cfg.RequestsPerSecond),
			logging.Bool("distributed", rdb != nil))
	}
	return nil
}

func (app *App) startSweeper() error {
	c, err := cache.StartSweeper(app.Config.CacheSweepSchedule, app.Logger, app.Pages.Local())
	if err != nil {
		return err
	}
	app.sweeper = c
	return nil
}

// Shutdown stops background work, waiting for a running sweep up to ctx
func (app *App) Shutdown(ctx context.Context) error {
	if app.sweeper == nil {
		return nil
	}
	select {
	case <-app.sweeper.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cleanup releases all resources
func (app *App) Cleanup() {
	if app.sweeper != nil {
		app.sweeper.Stop()
	}
	if app.Library != nil {
		app.Library.Close()
	}
	if app.RedisClient != nil {
		app.RedisClient.Close()
	}
}
