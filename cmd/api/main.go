package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/therealutkarshpriyadarshi/subextract/internal/app"
	"github.com/therealutkarshpriyadarshi/subextract/internal/config"
	"github.com/therealutkarshpriyadarshi/subextract/internal/keys"
	"github.com/therealutkarshpriyadarshi/subextract/internal/logging"
	"github.com/therealutkarshpriyadarshi/subextract/internal/middleware"
	"github.com/therealutkarshpriyadarshi/subextract/internal/tracing"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	_, closer, err := tracing.InitTracer(cfg.Tracing.Enabled, cfg.Tracing.ServiceName, cfg.Tracing.Endpoint)
	if err != nil {
		logger.WithError(err).Warn("tracing disabled")
	} else {
		defer closer.Close()
	}

	// Initialize access keys
	keyFile, err := keys.Load(cfg.Auth.KeyFile)
	if err != nil {
		logger.Fatalf("Failed to load key file: %v", err)
	}
	if len(keyFile.List()) == 0 {
		logger.Warnf("no access keys in %s, every request will be denied", keyFile.Path())
	}
	middleware.SetJWTSecret(cfg.Auth.JWTSecret)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize pipeline: %v", err)
	}
	defer a.Close()

	// Start the extraction worker before serving
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if err := a.Worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.WithError(err).Error("worker stopped")
		}
	}()
	a.Monitor.Start(ctx, 10*time.Second)

	api := &API{
		subtitles: a.Service,
		health:    a.Health,
		monitor:   a.Monitor,
		filesDir:  a.Store.Dir(),
		logger:    logger.WithComponent("api"),
	}
	limiter := middleware.NewRateLimiter(cfg.Auth.RateLimit.RequestsPerSecond, cfg.Auth.RateLimit.Burst)
	router := setupRouter(api, keyFile, limiter, logger)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Infof("Starting API server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	// A running extraction finishes first; queued jobs are not started.
	cancel()
	<-workerDone

	logger.Info("Server stopped")
}
