// Harrier - Returns-abuse detection for e-commerce, batteries included.
// Copyright (c) 2025 opensource.retail
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-retail/harrier/internal/analysis"
	"github.com/opensource-retail/harrier/internal/api"
	"github.com/opensource-retail/harrier/internal/bus"
	"github.com/opensource-retail/harrier/internal/cache"
	"github.com/opensource-retail/harrier/internal/domain"
	"github.com/opensource-retail/harrier/internal/ingest"
	"github.com/opensource-retail/harrier/internal/repository"
	"github.com/opensource-retail/harrier/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("HARRIER_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting harrier",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("HARRIER_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize ingest service
	ingestSvc := ingest.NewService(repo, cacheImpl, busImpl)
	slog.Info("ingest service initialized")

	// Initialize analysis pipeline
	runner, err := analysis.NewRunner(repo, cacheImpl, busImpl, cfg.Analysis)
	if err != nil {
		slog.Error("failed to initialize analysis pipeline", "error", err)
		os.Exit(1)
	}
	slog.Info("analysis pipeline initialized",
		"window_days", cfg.Analysis.WindowDays,
		"alert_threshold", cfg.Analysis.AlertThreshold,
		"max_workers", cfg.Analysis.MaxWorkers,
	)

	// Initialize alert dispatcher (Pro tier or opt-in)
	var dispatcher *worker.Dispatcher
	if cfg.Tier == domain.TierPro || os.Getenv("HARRIER_ALERT_DISPATCH") == "true" {
		dispatcher = worker.NewDispatcher(busImpl, nil)
		if err := dispatcher.Start(); err != nil {
			slog.Error("failed to start alert dispatcher", "error", err)
		} else {
			slog.Info("alert dispatcher started")
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg, repo, cacheImpl, ingestSvc, runner, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("harrier is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop dispatcher first
	if dispatcher != nil {
		if err := dispatcher.Stop(); err != nil {
			slog.Error("failed to stop alert dispatcher", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("harrier shutdown complete")
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🦅 HARRIER                  ║")
	fmt.Println("  ║      Returns Abuse Detection Engine       ║")
	fmt.Println("  ║       Eyes on every return.               ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /upload-csv        - Ingest an order/returns CSV export")
	fmt.Println("    POST /run-analysis      - Score every user and raise alerts")
	fmt.Println("    GET  /fraud-users       - Behavior scores ranked by risk")
	fmt.Println("    GET  /alerts            - Recent fraud alerts")
	fmt.Println("    GET  /users             - List users")
	fmt.Println("    GET  /users/{id}        - User detail with score and alerts")
	fmt.Println("    GET  /transactions      - Recent transactions")
	fmt.Println("    GET  /analytics-summary - Dashboard aggregates")
	fmt.Println("    GET  /health            - Health check")
	fmt.Println()
}
