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

package linker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bkstudio/pulse/internal/models"
)

// EmailSource lists unlinked emails for a batch run.
type EmailSource interface {
	ListUnlinkedEmails(ctx context.Context, batchSize int) ([]*models.Email, error)
}

// CandidateFinder produces the candidate proposals for one email.
type CandidateFinder interface {
	For(ctx context.Context, email *models.Email) ([]*models.Proposal, error)
}

// BatchFilter skips emails already resolved by a recent run. May be nil.
// Forget releases an email whose resolution did not complete so the next
// sweep retries it.
type BatchFilter interface {
	IsNew(ctx context.Context, emailID string) (bool, error)
	Forget(ctx context.Context, emailID string) error
}

// RunResult summarises a batch resolution run. Processed counts every email
// the batch examined; Skipped and Failures partition the ones that did not
// link.
type RunResult struct {
	Processed int
	Linked    int
	Skipped   int
	Failures  []EmailFailure
	Elapsed   time.Duration
}

// EmailFailure records one email whose resolution failed.
type EmailFailure struct {
	EmailID string
	Err     error
}

// Runner resolves links for batches of unlinked emails. Each email is its
// own atomic unit of work: a failure or a crash mid-batch loses nothing
// already committed, and re-running picks up wherever the store says
// resolution is still owed.
type Runner struct {
	source     EmailSource
	candidates CandidateFinder
	resolver   *Resolver
	filter     BatchFilter
	batchSize  int
}

// RunnerConfig holds dependencies for the batch runner.
type RunnerConfig struct {
	Source     EmailSource
	Candidates CandidateFinder
	Resolver   *Resolver
	Filter     BatchFilter
	BatchSize  int
}

// NewRunner creates a batch runner.
func NewRunner(cfg RunnerConfig) *Runner {
	size := cfg.BatchSize
	if size <= 0 {
		size = 50
	}
	return &Runner{
		source:     cfg.Source,
		candidates: cfg.Candidates,
		resolver:   cfg.Resolver,
		filter:     cfg.Filter,
		batchSize:  size,
	}
}

// Run processes one batch of unlinked emails. Per-email failures are
// collected in the result, never propagated — one malformed email must not
// abort the run. Only batch-level failures (the unlinked query itself)
// return an error.
func (r *Runner) Run(ctx context.Context) (*RunResult, error) {
	start := time.Now()
	result := &RunResult{}

	emails, err := r.source.ListUnlinkedEmails(ctx, r.batchSize)
	if err != nil {
		return nil, fmt.Errorf("list unlinked emails: %w", err)
	}

	slog.Info("starting link resolution batch", "emails", len(emails))

	for _, email := range emails {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		result.Processed++

		if r.filter != nil {
			isNew, err := r.filter.IsNew(ctx, email.ID)
			if err != nil {
				slog.Warn("resume filter check failed", "email_id", email.ID, "error", err)
			} else if !isNew {
				result.Skipped++
				continue
			}
		}

		cands, err := r.candidates.For(ctx, email)
		if err != nil {
			result.Failures = append(result.Failures, EmailFailure{EmailID: email.ID, Err: err})
			slog.Warn("candidate lookup failed", "email_id", email.ID, "error", err)
			r.release(ctx, email.ID)
			continue
		}

		links, err := r.resolver.Resolve(ctx, email, cands)
		if err != nil {
			if errors.Is(err, ErrInsufficientData) {
				result.Skipped++
				slog.Info("email skipped", "email_id", email.ID, "reason", "insufficient data")
				continue
			}
			result.Failures = append(result.Failures, EmailFailure{EmailID: email.ID, Err: err})
			slog.Warn("resolution failed", "email_id", email.ID, "error", err)
			r.release(ctx, email.ID)
			continue
		}

		result.Linked += len(links)
	}

	result.Elapsed = time.Since(start)

	slog.Info("link resolution batch complete",
		"processed", result.Processed,
		"linked", result.Linked,
		"skipped", result.Skipped,
		"failures", len(result.Failures),
		"elapsed", result.Elapsed,
	)

	return result, nil
}

// release drops an email from the resume filter after a failed resolution
// attempt so the next sweep retries it instead of waiting out the TTL.
func (r *Runner) release(ctx context.Context, emailID string) {
	if r.filter == nil {
		return
	}
	if err := r.filter.Forget(ctx, emailID); err != nil {
		slog.Warn("resume filter forget failed", "email_id", emailID, "error", err)
	}
}

// StartPeriodic runs batches on the given interval until ctx is cancelled,
// mirroring how ingestion sweeps are scheduled elsewhere in the studio
// stack. Errors are logged, not fatal — the next tick retries.
func (r *Runner) StartPeriodic(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				slog.Info("periodic link resolution stopped")
				return
			case <-ticker.C:
				if _, err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					slog.Error("periodic link resolution failed", "error", err)
				}
			}
		}
	}()
}
