// Kestrel - Transaction fraud scoring engine.
// Copyright (c) 2025 opensource.finance
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

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/compliance"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/drift"
	"github.com/opensource-finance/kestrel/internal/feature"
	"github.com/opensource-finance/kestrel/internal/history"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/risk"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/worker"
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
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Distributed deployment via environment
	if os.Getenv("KESTREL_DISTRIBUTED") == "true" {
		cfg = domain.DistributedConfig()
		slog.Info("running in distributed mode")
	}
	if p := os.Getenv("KESTREL_MODEL_PATH"); p != "" {
		cfg.Artifacts.ModelPath = p
	}
	if p := os.Getenv("KESTREL_SCALER_PATH"); p != "" {
		cfg.Artifacts.ScalerPath = p
	}

	slog.Info("configuration loaded",
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

	// Load scoring artifacts. The model and scaler are trained offline with
	// kestrel-train; refusing to start without them beats scoring garbage.
	scaler, err := feature.LoadScaler(cfg.Artifacts.ScalerPath)
	if err != nil {
		slog.Error("failed to load scaler artifact",
			"path", cfg.Artifacts.ScalerPath,
			"error", err,
			"hint", "run kestrel-train to produce artifacts",
		)
		os.Exit(1)
	}
	ae, err := model.Load(cfg.Artifacts.ModelPath)
	if err != nil {
		slog.Error("failed to load model artifact",
			"path", cfg.Artifacts.ModelPath,
			"error", err,
			"hint", "run kestrel-train to produce artifacts",
		)
		os.Exit(1)
	}
	slog.Info("scoring artifacts loaded",
		"model_path", cfg.Artifacts.ModelPath,
		"scaler_path", cfg.Artifacts.ScalerPath,
		"input_dim", ae.InputDim(),
	)

	engineer := feature.NewEngineerWithScaler(scaler)
	classifier := risk.NewClassifier(cfg.Scoring)
	monitor := drift.NewMonitor(cfg.Drift)
	orch := scoring.NewOrchestrator(engineer, ae, classifier, monitor)

	// Initialize History Service
	historySvc := history.NewService(repo, cacheImpl)
	slog.Info("history service initialized")

	// Initialize Compliance Engine
	checks, err := compliance.NewEngine(cfg.Compliance, repo)
	if err != nil {
		slog.Error("failed to initialize compliance engine", "error", err)
		os.Exit(1)
	}

	// Load custom rules from database (no hardcoded defaults - configure via API)
	if err := loadRulesFromDatabase(ctx, repo, checks); err != nil {
		slog.Error("failed to load rules", "error", err)
		os.Exit(1)
	}
	slog.Info("compliance engine initialized", "custom_rules", checks.Rules().Count())

	// Assemble the scoring pipeline
	velocityWindow := time.Duration(cfg.Compliance.VelocityWindowHours * float64(time.Hour))
	pipeline := scoring.NewPipeline(orch, checks, historySvc, repo, busImpl, velocityWindow)

	// Initialize async Worker
	var asyncWorker *worker.Worker
	if os.Getenv("KESTREL_ASYNC_WORKER") != "false" {
		asyncWorker = worker.NewWorker(busImpl, pipeline)
		if err := asyncWorker.Start(); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started")
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg, pipeline, repo, cacheImpl, busImpl, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

// loadRulesFromDatabase loads custom compliance rules into the engine.
// All rules are configured via POST /rules API - no hardcoded defaults.
func loadRulesFromDatabase(ctx context.Context, repo domain.Repository, checks *compliance.Engine) error {
	dbRules, err := repo.ListRuleConfigs(ctx)
	if err != nil {
		slog.Warn("failed to list rules from database", "error", err)
		return nil // Start with empty rules - they can be added via API
	}

	if len(dbRules) > 0 {
		slog.Info("loading rules from database", "count", len(dbRules))
		return checks.Rules().Reload(dbRules)
	}

	slog.Info("no custom rules in database - configure via POST /rules API")
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🦅 KESTREL                  ║")
	fmt.Println("  ║     Transaction Fraud Scoring Engine      ║")
	fmt.Println("  ║      Hovering over every payment.         ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /score             - Score a transaction")
	fmt.Println("    POST /ingest            - Queue a transaction for async scoring")
	fmt.Println("    POST /compliance        - Run compliance checks only")
	fmt.Println("    GET  /scores/{id}       - Get score by ID")
	fmt.Println("    GET  /transactions/{id} - Get transaction by ID")
	fmt.Println("    GET  /cases/{id}        - Get investigation case by ID")
	fmt.Println("    GET  /drift             - Score-distribution drift metrics")
	fmt.Println("    POST /model/reload      - Hot-swap model artifacts")
	fmt.Println("    GET  /rules             - List custom compliance rules")
	fmt.Println("    POST /rules             - Create a custom compliance rule")
	fmt.Println("    POST /rules/reload      - Hot-reload rules from database")
	fmt.Println("    GET  /health            - Health check")
	fmt.Println()
}
