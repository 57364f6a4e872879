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

// Pulse — operator command
//
// Standalone CLI for running the engine against the live stores without
// going through the service API. Intended for operators seeding a new
// deployment or spot-checking a proposal.
//
// Usage:
//
//	go run ./cmd/pulsectl/ resolve [--batch 100]
//	go run ./cmd/pulsectl/ health BK-069
//	go run ./cmd/pulsectl/ suggest BK-069
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/bkstudio/pulse/internal/candidates"
	"github.com/bkstudio/pulse/internal/config"
	"github.com/bkstudio/pulse/internal/dedup"
	"github.com/bkstudio/pulse/internal/health"
	"github.com/bkstudio/pulse/internal/linker"
	"github.com/bkstudio/pulse/internal/models"
	"github.com/bkstudio/pulse/internal/scoring"
	"github.com/bkstudio/pulse/internal/store"
	"github.com/bkstudio/pulse/internal/validation"
)

var batchFlag int

var rootCmd = &cobra.Command{
	Use:           "pulsectl",
	Short:         "Operator tool for the pulse proposal-health service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Run one link-resolution batch over unlinked emails",
	Args:  cobra.NoArgs,
	RunE:  runResolve,
}

var healthCmd = &cobra.Command{
	Use:   "health <project-code>",
	Short: "Compute and print the health report for a proposal",
	Args:  cobra.ExactArgs(1),
	RunE:  runHealth,
}

var suggestCmd = &cobra.Command{
	Use:   "suggest <project-code>",
	Short: "Scan linked emails for status evidence and record suggestions",
	Args:  cobra.ExactArgs(1),
	RunE:  runSuggest,
}

func init() {
	resolveCmd.Flags().IntVar(&batchFlag, "batch", 0, "batch size override (0 = configured default)")
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(suggestCmd)
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// env holds the connections every subcommand needs.
type env struct {
	cfg   *config.Config
	pool  *pgxpool.Pool
	rdb   *redis.Client
	store *store.Store
}

func (e *env) close() {
	if e.rdb != nil {
		e.rdb.Close()
	}
	if e.pool != nil {
		e.pool.Close()
	}
}

func connect(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("create Postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to PostgreSQL: %w", err)
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opt)

	st, err := store.New(ctx, pool)
	if err != nil {
		rdb.Close()
		pool.Close()
		return nil, fmt.Errorf("initialise store: %w", err)
	}

	return &env{cfg: cfg, pool: pool, rdb: rdb, store: st}, nil
}

func runResolve(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	e, err := connect(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	batchSize := e.cfg.BatchSize
	if batchFlag > 0 {
		batchSize = batchFlag
	}

	resolver := linker.NewResolver(linker.ResolverConfig{
		Scorer: scoring.New(e.cfg.Weights),
		Store:  e.store,
		Resume: dedup.NewFilter(e.rdb),
		Linker: e.cfg.Linker,
	})
	runner := linker.NewRunner(linker.RunnerConfig{
		Source:     e.store,
		Candidates: candidates.New(e.store),
		Resolver:   resolver,
		Filter:     dedup.NewFilter(e.rdb),
		BatchSize:  batchSize,
	})

	result, err := runner.Run(ctx)
	if err != nil {
		return fmt.Errorf("resolution batch: %w", err)
	}

	fmt.Printf("Processed: %d\n", result.Processed)
	fmt.Printf("Linked:    %d\n", result.Linked)
	fmt.Printf("Skipped:   %d\n", result.Skipped)
	fmt.Printf("Elapsed:   %s\n", result.Elapsed.Round(time.Millisecond))
	for _, f := range result.Failures {
		fmt.Printf("Failed:    %s: %v\n", f.EmailID, f.Err)
	}
	return nil
}

func runHealth(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := connect(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	p, err := loadByCode(ctx, e, args[0])
	if err != nil {
		return err
	}

	since := time.Now().UTC().AddDate(0, 0, -e.cfg.Health.ActivityDays)
	recent, err := e.store.CountRecentLinkedEmails(ctx, p.ID, since)
	if err != nil {
		return fmt.Errorf("count recent emails: %w", err)
	}

	report := health.New(e.cfg.Health, nil).Compute(p, health.Activity{RecentEmails: recent})

	fmt.Printf("%s — %s (%s)\n", p.ProjectCode, p.Name, p.Status)
	fmt.Printf("Health: %d/100\n", report.Score)
	for _, f := range report.Factors {
		fmt.Printf("  %-22s %+.1f", f.Name, f.Points)
		if f.Detail != "" {
			fmt.Printf("  (%s)", f.Detail)
		}
		fmt.Println()
	}
	fmt.Printf("Recommendation: %s\n", report.Recommendation)
	return nil
}

func runSuggest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := connect(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	p, err := loadByCode(ctx, e, args[0])
	if err != nil {
		return err
	}

	evidence, err := e.store.ListLinkedEmails(ctx, p.ID, 50)
	if err != nil {
		return fmt.Errorf("list linked emails: %w", err)
	}

	engine := validation.New(e.cfg.Validation, e.store, nil)
	created, err := engine.Generate(ctx, p, evidence)
	if err != nil {
		return fmt.Errorf("generate suggestions: %w", err)
	}

	if len(created) == 0 {
		fmt.Println("No new suggestions.")
	}
	for _, s := range created {
		fmt.Printf("Suggestion %s: %s %q -> %q (confidence %.2f)\n",
			s.ID, s.Field, s.CurrentValue, s.SuggestedValue, s.Confidence)
		fmt.Printf("  Evidence: %s\n", s.Evidence)
	}

	pending, err := e.store.ListSuggestions(ctx, p.ID, models.SuggestionPending)
	if err != nil {
		return fmt.Errorf("list suggestions: %w", err)
	}
	fmt.Printf("Pending suggestions for %s: %d\n", p.ProjectCode, len(pending))
	return nil
}

func loadByCode(ctx context.Context, e *env, code string) (*models.Proposal, error) {
	p, err := e.store.GetProposalByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("load proposal %s: %w", code, err)
	}
	if p == nil {
		return nil, fmt.Errorf("proposal %s not found", code)
	}
	return p, nil
}
