// Kestrel - Voice agent tool core for fraud verification and lead capture.
// Copyright (c) 2025 opensource.voice
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

	"github.com/opensource-voice/kestrel/internal/api"
	"github.com/opensource-voice/kestrel/internal/bus"
	"github.com/opensource-voice/kestrel/internal/caseflow"
	"github.com/opensource-voice/kestrel/internal/domain"
	"github.com/opensource-voice/kestrel/internal/faq"
	"github.com/opensource-voice/kestrel/internal/leads"
	"github.com/opensource-voice/kestrel/internal/repository"
	"github.com/opensource-voice/kestrel/internal/rules"
	"github.com/opensource-voice/kestrel/internal/session"
	"github.com/opensource-voice/kestrel/internal/worker"
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

	// Check for Pro tier via environment
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	if path := os.Getenv("KESTREL_FAQ_PATH"); path != "" {
		cfg.FAQPath = path
	}
	if path := os.Getenv("KESTREL_DB_PATH"); path != "" {
		cfg.Repository.SQLitePath = path
	}
	if path := os.Getenv("KESTREL_LEADS_PATH"); path != "" {
		cfg.Repository.LeadLogPath = path
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"sessions", cfg.Session.Type,
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

	// Initialize Session Store
	sessions, err := session.New(cfg.Session)
	if err != nil {
		slog.Error("failed to initialize session store", "error", err)
		os.Exit(1)
	}
	defer sessions.Close()
	slog.Info("session store initialized", "type", cfg.Session.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Qualifier Engine
	engine, err := rules.NewEngine(100)
	if err != nil {
		slog.Error("failed to initialize qualifier engine", "error", err)
		os.Exit(1)
	}

	// Load qualifiers from database (no hardcoded defaults - configure via API)
	if err := loadQualifiersFromDatabase(ctx, repo, engine); err != nil {
		slog.Error("failed to load qualifiers", "error", err)
		os.Exit(1)
	}
	slog.Info("qualifier engine initialized", "qualifier_count", engine.QualifiersCount())

	// Build FAQ index (missing document degrades to an empty index)
	faqIndex := faq.Load(cfg.FAQPath)
	slog.Info("faq index built", "path", cfg.FAQPath, "entries", faqIndex.Size())

	// Initialize services
	caseSvc := caseflow.NewService(repo, sessions, busImpl)
	leadSvc := leads.NewService(repo, engine, busImpl)

	// Initialize remediation Worker
	remediation := worker.NewWorker(busImpl, repo)
	if err := remediation.Start(); err != nil {
		slog.Error("failed to start remediation worker", "error", err)
		os.Exit(1)
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, sessions, busImpl, caseSvc, leadSvc, faqIndex, engine, Version)

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

	// Stop remediation worker first
	remediation.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

// loadQualifiersFromDatabase loads qualifier configs into the engine.
// All qualifiers must be configured via POST /qualifiers - no hardcoded defaults.
func loadQualifiersFromDatabase(ctx context.Context, repo domain.Repository, engine *rules.Engine) error {
	configs, err := repo.ListQualifiers(ctx)
	if err != nil {
		slog.Warn("failed to list qualifiers from database", "error", err)
		return nil // Start with empty qualifiers - they can be added via API
	}

	if len(configs) > 0 {
		slog.Info("loading qualifiers from database", "count", len(configs))
		return engine.LoadQualifiers(configs)
	}

	slog.Info("no qualifiers in database - configure via POST /qualifiers API")
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ==============================================")
	fmt.Println("                  KESTREL")
	fmt.Println("       Voice Agent Tool Core")
	fmt.Println("       Every call, on the record.")
	fmt.Println("  ==============================================")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /tools/load_case       - Load a pending fraud case")
	fmt.Println("    POST /tools/verify_customer - Verify the customer's identity")
	fmt.Println("    POST /tools/resolve_case    - Record the case disposition")
	fmt.Println("    POST /tools/record_lead     - Capture a sales lead")
	fmt.Println("    POST /tools/search_faq      - Answer a product question")
	fmt.Println("    GET  /cases/{id}            - Get a fraud case")
	fmt.Println("    GET  /leads                 - List captured leads")
	fmt.Println("    GET  /qualifiers            - List lead qualifiers")
	fmt.Println("    POST /qualifiers            - Create a lead qualifier")
	fmt.Println("    POST /qualifiers/reload     - Hot-reload qualifiers")
	fmt.Println("    GET  /health                - Health check")
	fmt.Println()
}
