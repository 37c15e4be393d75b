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

	"github.com/lysyi3m/vod-comb/app/alert"
	"github.com/lysyi3m/vod-comb/app/api"
	"github.com/lysyi3m/vod-comb/app/catalog"
	"github.com/lysyi3m/vod-comb/app/cfg"
	"github.com/lysyi3m/vod-comb/app/collector"
	"github.com/lysyi3m/vod-comb/app/database"
	"github.com/lysyi3m/vod-comb/app/health"
	"github.com/lysyi3m/vod-comb/app/source"
	"github.com/lysyi3m/vod-comb/app/tasks"
)

func main() {
	opts, err := cfg.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if opts == nil {
		// Help was shown, exit gracefully
		return
	}

	logLevel := slog.LevelInfo
	if opts.Debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("Starting VOD Comb server", "version", opts.Version)

	db, err := database.NewConnection(opts.DBPath)
	if err != nil {
		slog.Error("Failed to open database", "path", opts.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("Database ready", "path", opts.DBPath, "schema_version", version, "dirty", dirty)

	sourceRepo := database.NewSourceRepository(db)
	mappingRepo := database.NewMappingRepository(db)
	healthRepo := database.NewHealthRepository(db)
	taskRepo := database.NewTaskRepository(db)
	catalogRepo := database.NewCatalogRepository(db)

	// Load and register source configurations
	registry := source.NewRegistry(opts.SourcesDir)
	if err := registry.Run(); err != nil {
		slog.Error("Failed to load source configurations", "dir", opts.SourcesDir, "error", err)
		os.Exit(1)
	}
	slog.Info("Source configurations loaded", "dir", opts.SourcesDir, "count", registry.GetConfigCount())

	registered := 0
	for id, config := range registry.GetConfigs() {
		if err := sourceRepo.UpsertSource(config.ToSource()); err != nil {
			slog.Warn("Failed to register source", "source", id, "error", err)
			continue
		}

		for _, m := range config.Mappings {
			cat := database.Category{ID: m.Category, Name: m.CategoryName}
			if cat.Name == "" {
				cat.Name = m.Category
			}
			if err := mappingRepo.UpsertCategory(cat); err != nil {
				slog.Warn("Failed to register category", "category", m.Category, "error", err)
			}
		}
		if err := mappingRepo.ReplaceMappings(id, config.ToMappings()); err != nil {
			slog.Warn("Failed to register category mappings", "source", id, "error", err)
			continue
		}

		slog.Info("Registered source", "source", id, "endpoint", config.Endpoint, "weight", config.Weight, "mappings", len(config.Mappings))
		registered++
	}
	slog.Info("Source registration finished", "registered", registered, "total", registry.GetConfigCount())

	// Core components
	client := source.NewClient(opts.UserAgent, time.Duration(opts.FetchTimeout)*time.Second)
	monitor := health.NewMonitor(client, healthRepo,
		time.Duration(opts.SlowThresholdMs)*time.Millisecond,
		time.Duration(opts.HardTimeoutMs)*time.Millisecond,
		opts.HealthConcurrency)
	merger := catalog.NewMerger(catalogRepo)
	coordinator := collector.NewCoordinator(client, merger, monitor, sourceRepo, opts.FetchConcurrency, opts.FetchRateLimit)
	notifier := alert.NewWebhookSink(opts.AlertWebhookURL)

	orchestrator := tasks.NewOrchestrator(taskRepo, sourceRepo, mappingRepo, healthRepo,
		coordinator, monitor, notifier, tasks.Options{
			IncrementalHours:    opts.IncrementalHours,
			IncrementalSchedule: opts.IncrementalSchedule,
			HealthSchedule:      opts.HealthSchedule,
		})
	if err := orchestrator.Start(); err != nil {
		slog.Error("Failed to start task orchestrator", "error", err)
		os.Exit(1)
	}
	defer orchestrator.Stop()
	slog.Info("Task orchestrator started",
		"incremental_schedule", opts.IncrementalSchedule,
		"health_schedule", opts.HealthSchedule)

	// HTTP server
	apiHandler := api.NewHandler(orchestrator, sourceRepo, catalogRepo, taskRepo, registry)
	server := api.NewServer(apiHandler, opts.APIAccessKey, opts.Version)

	httpServer := &http.Server{
		Addr:         ":" + opts.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "port", opts.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig.String())
	case err := <-serverErrChan:
		slog.Error("Server error", "error", err)
	}

	slog.Info("Shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped")
	}

	// Orchestrator is stopped via defer; an interrupted task resumes on
	// the next start.
	slog.Info("Shutdown complete")
}
