// Command api is the Farewatch API server: observation ingest, on-demand
// evaluation, and read-only route reports.
//
// Usage:
//
//	farewatch-api
//	API_PORT=8080 farewatch-api
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"

	"github.com/farewatch/farewatch/internal/api"
	"github.com/farewatch/farewatch/internal/cache"
	"github.com/farewatch/farewatch/internal/config"
	"github.com/farewatch/farewatch/internal/db"
	"github.com/farewatch/farewatch/internal/evaluate"
	"github.com/farewatch/farewatch/internal/maintenance"
	"github.com/farewatch/farewatch/internal/notify"
	"github.com/farewatch/farewatch/internal/store"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	// Load .env if present
	_ = godotenv.Load(".env")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	// Connect to database
	logger.Info("Connecting to database...")
	pool, err := db.New(ctx, cfg)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("Database connected",
		"min_conns", cfg.DBPoolMinConns,
		"max_conns", cfg.DBPoolMaxConns)

	if err := pool.EnsureSchema(ctx); err != nil {
		logger.Error("Failed to ensure schema", "error", err)
		os.Exit(1)
	}

	st := store.NewPostgres(pool.Pool)

	// Push delivery (nil sender = alerts recorded as failed, not dropped)
	var pusher notify.Pusher
	if sender := notify.NewNtfySender(cfg.NtfyServer, cfg.NtfyTopic, cfg.PushTimeout); sender != nil {
		pusher = sender
		logger.Info("Push delivery configured", "server", cfg.NtfyServer)
	} else {
		logger.Info("Push delivery disabled (no NTFY_TOPIC)")
	}

	notifier := notify.New(st, pusher, cfg.AlertCooldown, logger)
	evaluator := evaluate.New(st, notifier, cfg.AlertThreshold, logger)

	// Initialize cache
	appCache := cache.New(cfg.CacheEnabled)
	logger.Info("Cache initialized", "enabled", cfg.CacheEnabled)

	// Start maintenance tickers (evaluation sweep, audit cleanup)
	go maintenance.Start(ctx, maintenance.Tasks{
		Store:     st,
		Evaluator: evaluator,
		Cfg:       cfg,
	}, logger)

	// Create router
	router := api.NewRouter(st, pool, appCache, cfg, evaluator, logger)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	go func() {
		logger.Info("Starting Farewatch API",
			"addr", addr,
			"environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt
	<-ctx.Done()
	logger.Info("Shutting down...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", "error", err)
	}
	logger.Info("Server stopped")
}
