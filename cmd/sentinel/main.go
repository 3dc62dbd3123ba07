// SentinelShield - Fraud risk scoring and alert lifecycle for trading venues.
// Copyright (c) 2025 Akoredejo
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Akoredejo/SentinelShield/internal/analysis"
	"github.com/Akoredejo/SentinelShield/internal/api"
	"github.com/Akoredejo/SentinelShield/internal/bus"
	"github.com/Akoredejo/SentinelShield/internal/cache"
	"github.com/Akoredejo/SentinelShield/internal/config"
	"github.com/Akoredejo/SentinelShield/internal/domain"
	"github.com/Akoredejo/SentinelShield/internal/engine"
	"github.com/Akoredejo/SentinelShield/internal/metrics"
	"github.com/Akoredejo/SentinelShield/internal/repository"
	"github.com/Akoredejo/SentinelShield/internal/rules"
	"github.com/Akoredejo/SentinelShield/internal/telemetry"
	"github.com/Akoredejo/SentinelShield/internal/velocity"
	"github.com/Akoredejo/SentinelShield/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(newLogger(cfg.Logging))

	slog.Info("starting sentinel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"admins", len(cfg.Engine.AdminIDs),
		"strict_trader_check", cfg.Engine.StrictTraderCheck,
		"enforce_transitions", cfg.Engine.EnforceTransitions,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("sentinel exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("sentinel shutdown complete")
}

func run(ctx context.Context, cfg *domain.Config) error {
	shutdownTracing, err := telemetry.Setup(ctx, cfg.Tracing, Version)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Error("failed to flush traces", "error", err)
		}
	}()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	go metrics.StartDBStatsCollector(ctx, repo.DB(), 15*time.Second)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type, "two_phase", cfg.Cache.EnableTwoPhase)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	eng := engine.New(repo, cfg.Engine,
		engine.WithBus(busImpl),
		engine.WithCache(cacheImpl, cfg.Cache.ProfileTTL),
	)

	ruleEngine, err := rules.NewEngine(cfg.Analysis.MaxWorkers)
	if err != nil {
		return fmt.Errorf("failed to initialize rule engine: %w", err)
	}
	if err := loadDetectionRules(ctx, repo, ruleEngine); err != nil {
		return err
	}
	slog.Info("rule engine initialized", "rules_count", ruleEngine.Count())

	tracker := velocity.NewTracker(cacheImpl, cfg.Analysis.FrequencyWindow, cfg.Analysis.FrequencyScale)
	analyzer := analysis.New(eng, ruleEngine, tracker, cfg.Analysis)

	var asyncWorker *worker.Worker
	if cfg.Analysis.WorkerCount > 0 {
		asyncWorker = worker.NewWorker(busImpl, analyzer, cfg.Analysis.WorkerCount)
		if err := asyncWorker.Start(); err != nil {
			return fmt.Errorf("failed to start analysis workers: %w", err)
		}
	}

	srv := api.NewServer(cfg.Server, api.Deps{
		Engine:   eng,
		Analyzer: analyzer,
		Rules:    ruleEngine,
		Repo:     repo,
		Cache:    cacheImpl,
		Bus:      busImpl,
		Version:  Version,
	})

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	slog.Info("sentinel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	// Stop consuming before the server and backends go away
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop analysis workers", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	return nil
}

// loadDetectionRules loads the enabled rules from storage, seeding the
// built-in rules on first start.
func loadDetectionRules(ctx context.Context, repo domain.Repository, engine *rules.Engine) error {
	stored, err := repo.ListDetectionRules(ctx)
	if err != nil {
		return fmt.Errorf("failed to list detection rules: %w", err)
	}

	if len(stored) == 0 {
		stored = rules.DefaultDetectionRules()
		for _, rule := range stored {
			if err := repo.SaveDetectionRule(ctx, rule); err != nil {
				return fmt.Errorf("failed to seed detection rule %s: %w", rule.ID, err)
			}
		}
		slog.Info("seeded built-in detection rules", "count", len(stored))
	}

	if err := engine.Reload(stored); err != nil {
		return fmt.Errorf("failed to load detection rules: %w", err)
	}
	return nil
}

func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
