package app

import (
	"context"
	stderrors "errors"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"playshelf/internal/common/logging"
	"playshelf/internal/config"
	"playshelf/internal/tracing"
)

const shutdownTimeout = 30 * time.Second

var errBreakerOpen = stderrors.New("circuit breaker is open")

// Run is the main entry point for the application
func Run() error {
	// Load environment variables
	_ = godotenv.Load()

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		logging.Error("Configuration could not be loaded", err)
		return err
	}
	if err := cfg.Validate(); err != nil {
		logging.Error("Configuration validation failed", err)
		return err
	}

	// Initialize logging
	if err := logging.InitGlobalLogger(logging.Settings{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	}); err != nil {
		return err
	}
	defer logging.MustSync()

	logging.Info("Starting playshelf",
		logging.Int("cpus", runtime.NumCPU()),
		logging.String("config", cfg.String()),
	)

	shutdownTracing, err := tracing.Setup(context.Background(), tracing.Config{Endpoint: cfg.OTLPEndpoint})
	if err != nil {
		logging.Error("Tracing setup failed", err)
		return err
	}

	// Initialize application
	app, err := New(cfg)
	if err != nil {
		logging.Error("Failed to initialize application", err)
		return err
	}
	defer app.Cleanup()

	// Start server
	srv := app.RunServer()
	serveErr, err := srv.Start()
	if err != nil {
		logging.Error("Server failed to start", err)
		return err
	}
	logging.Info("Listening", logging.String("port", cfg.Port))

	// Wait for interrupt signal or a serve failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		if err != nil {
			logging.Error("Server stopped unexpectedly", err)
			return err
		}
	}

	logging.Info("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logging.Error("Server forced to shutdown", err)
		return err
	}

	// Shutdown application components
	if err := app.Shutdown(ctx); err != nil {
		logging.Warn("Error during app shutdown", logging.String("error", err.Error()))
	}
	if err := shutdownTracing(ctx); err != nil {
		logging.Warn("Trace exporter did not flush", logging.String("error", err.Error()))
	}

	logging.Info("Server exited")
	return nil
}
