// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Pulse — proposal health and email-linking service
//
// Entry point for the scoring service. It:
//  1. Loads configuration from config.yaml
//  2. Connects to PostgreSQL and Redis
//  3. Starts the intake consumer draining the email queue
//  4. Runs the periodic link-resolution sweep over unlinked emails
//  5. Serves the JSON API for scoring, linking, health, and suggestions
//  6. Handles graceful shutdown on SIGTERM/SIGINT
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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/bkstudio/pulse/internal/candidates"
	"github.com/bkstudio/pulse/internal/config"
	"github.com/bkstudio/pulse/internal/dedup"
	"github.com/bkstudio/pulse/internal/health"
	"github.com/bkstudio/pulse/internal/httpapi"
	"github.com/bkstudio/pulse/internal/intake"
	"github.com/bkstudio/pulse/internal/linker"
	"github.com/bkstudio/pulse/internal/normalize"
	"github.com/bkstudio/pulse/internal/queue"
	"github.com/bkstudio/pulse/internal/scoring"
	"github.com/bkstudio/pulse/internal/store"
	"github.com/bkstudio/pulse/internal/validation"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("starting pulse service")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"sweep_interval", cfg.SweepInterval,
		"batch_size", cfg.BatchSize,
		"link_threshold", cfg.Linker.Threshold,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	if err := pgPool.Ping(ctx); err != nil {
		slog.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to PostgreSQL")

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)

	publisher := queue.NewPublisher(rdb, cfg.EventsQueue)
	if err := publisher.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	// --- Store (Postgres) ---
	st, err := store.New(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise store", "error", err)
		os.Exit(1)
	}

	// --- Engine components ---
	scorer := scoring.New(cfg.Weights)
	resume := dedup.NewFilter(rdb)

	resolver := linker.NewResolver(linker.ResolverConfig{
		Scorer:    scorer,
		Store:     st,
		Publisher: publisher,
		Resume:    resume,
		Linker:    cfg.Linker,
	})

	prefilter := candidates.New(st)

	runner := linker.NewRunner(linker.RunnerConfig{
		Source:     st,
		Candidates: prefilter,
		Resolver:   resolver,
		Filter:     resume,
		BatchSize:  cfg.BatchSize,
	})

	calculator := health.New(cfg.Health, nil)
	engine := validation.New(cfg.Validation, st, nil).WithPublisher(publisher)
	normalizer := normalize.New(cfg.StatusAliases, cfg.FieldAliases)

	// --- Intake consumer: drains the email queue into the store ---
	consumer := intake.NewConsumer(rdb, cfg.IntakeQueue, st)
	consumer.Start(ctx)

	// --- Periodic link-resolution sweep ---
	runner.StartPeriodic(ctx, cfg.SweepInterval)

	// --- HTTP API ---
	api := httpapi.New(httpapi.ServerConfig{
		Store:      st,
		Resolver:   resolver,
		Runner:     runner,
		Prefilter:  prefilter,
		Calculator: calculator,
		Engine:     engine,
		Normalizer: normalizer,
		Health:     cfg.Health,
		Ready: func(ctx context.Context) error {
			if err := pgPool.Ping(ctx); err != nil {
				return fmt.Errorf("postgres unhealthy: %w", err)
			}
			if err := publisher.Ping(ctx); err != nil {
				return fmt.Errorf("redis unhealthy: %w", err)
			}
			return nil
		},
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      api.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// --- Graceful Shutdown ---
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		sig := <-sigCh

		slog.Info("received shutdown signal", "signal", sig)
		cancel() // Stop the sweep and consumer goroutines

		consumer.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}

		rdb.Close()
		pgPool.Close()
	}()

	slog.Info("pulse service listening", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("pulse service stopped")
}
