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

// Package validation cross-checks stored proposal status against linked
// email evidence and emits correction suggestions for human review. The
// engine only ever proposes; writing a new status back to a proposal takes
// an explicit approve-then-apply, enforced by the suggestion state machine.
package validation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bkstudio/pulse/internal/config"
	"github.com/bkstudio/pulse/internal/models"
	"github.com/bkstudio/pulse/internal/queue"
)

// ErrInvalidTransition is returned when a suggestion is moved outside the
// pending → approved → applied / pending → denied state machine.
var ErrInvalidTransition = errors.New("invalid suggestion transition")

// snippetRadius is how many characters of context surround a matched phrase
// in the evidence snippet.
const snippetRadius = 60

// Store is the persistence surface the engine needs.
type Store interface {
	CreateSuggestion(ctx context.Context, s *models.ValidationSuggestion) error
	GetSuggestion(ctx context.Context, id string) (*models.ValidationSuggestion, error)
	UpdateSuggestionStatus(ctx context.Context, id string, status models.SuggestionStatus) error
	HasOpenSuggestion(ctx context.Context, proposalID, field, suggestedValue string) (bool, error)
	UpdateProposalStatus(ctx context.Context, proposalID string, status models.Status) error
}

// Publisher emits suggestion events for the reporting consumer. May be nil.
type Publisher interface {
	Publish(ctx context.Context, kind string, payload interface{}) error
}

// Engine generates and reviews validation suggestions.
type Engine struct {
	cfg       config.Validation
	store     Store
	publisher Publisher
	now       func() time.Time
}

// New creates an Engine. A nil clock means time.Now.
func New(cfg config.Validation, store Store, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{cfg: cfg, store: store, now: now}
}

// WithPublisher sets the event publisher and returns the engine.
func (e *Engine) WithPublisher(p Publisher) *Engine {
	e.publisher = p
	return e
}

// Generate scans linked-email evidence for phrases implying a status that
// diverges from the stored one, and records a pending suggestion per
// divergence at or above the confidence floor. Evidence that agrees with the
// stored status, or that duplicates an open suggestion, produces nothing.
func (e *Engine) Generate(ctx context.Context, p *models.Proposal, evidence []*models.Email) ([]*models.ValidationSuggestion, error) {
	var out []*models.ValidationSuggestion

	for _, email := range evidence {
		content := email.Subject + " " + email.Snippet
		lowered := strings.ToLower(content)

		for _, rule := range e.cfg.Rules {
			if rule.Confidence < e.cfg.ConfidenceFloor {
				continue
			}
			idx := strings.Index(lowered, strings.ToLower(rule.Phrase))
			if idx < 0 {
				continue
			}
			if models.Status(rule.Status) == p.Status {
				continue
			}

			open, err := e.store.HasOpenSuggestion(ctx, p.ID, "status", rule.Status)
			if err != nil {
				return out, fmt.Errorf("check open suggestions: %w", err)
			}
			if open {
				continue
			}

			s := &models.ValidationSuggestion{
				ID:             uuid.New().String(),
				ProposalID:     p.ID,
				Field:          "status",
				CurrentValue:   string(p.Status),
				SuggestedValue: rule.Status,
				Confidence:     rule.Confidence,
				Evidence:       snippet(content, idx, len(rule.Phrase)),
				Status:         models.SuggestionPending,
				CreatedAt:      e.now().UTC(),
				UpdatedAt:      e.now().UTC(),
			}
			if err := e.store.CreateSuggestion(ctx, s); err != nil {
				return out, fmt.Errorf("create suggestion: %w", err)
			}

			slog.Info("validation suggestion created",
				"suggestion_id", s.ID,
				"proposal_id", p.ID,
				"current", s.CurrentValue,
				"suggested", s.SuggestedValue,
				"confidence", s.Confidence,
				"email_id", email.ID,
			)
			e.publish(ctx, queue.EventSuggestionCreated, s)
			out = append(out, s)
		}
	}

	return out, nil
}

// Approve moves a pending suggestion to approved. It does not touch the
// proposal; Apply does the write-back.
func (e *Engine) Approve(ctx context.Context, id string) error {
	return e.transition(ctx, id, models.SuggestionPending, models.SuggestionApproved, nil)
}

// Deny moves a pending suggestion to denied. Denied is terminal.
func (e *Engine) Deny(ctx context.Context, id string) error {
	return e.transition(ctx, id, models.SuggestionPending, models.SuggestionDenied, nil)
}

// Apply moves an approved suggestion to applied and writes the suggested
// status back to the proposal. Applying anything but an approved suggestion
// fails with ErrInvalidTransition.
func (e *Engine) Apply(ctx context.Context, id string) error {
	var applied *models.ValidationSuggestion
	err := e.transition(ctx, id, models.SuggestionApproved, models.SuggestionApplied,
		func(ctx context.Context, s *models.ValidationSuggestion) error {
			if s.Field != "status" {
				return fmt.Errorf("apply for field %q not supported", s.Field)
			}
			status, ok := models.CanonicalStatus(s.SuggestedValue)
			if !ok {
				return fmt.Errorf("suggestion %s: unknown status %q", s.ID, s.SuggestedValue)
			}
			if err := e.store.UpdateProposalStatus(ctx, s.ProposalID, status); err != nil {
				return err
			}
			applied = s
			return nil
		})
	if err != nil {
		return err
	}
	e.publish(ctx, queue.EventSuggestionApplied, applied)
	return nil
}

// transition enforces the state machine: the suggestion must currently be in
// from, and the optional effect runs before the status write.
func (e *Engine) transition(ctx context.Context, id string, from, to models.SuggestionStatus, effect func(context.Context, *models.ValidationSuggestion) error) error {
	s, err := e.store.GetSuggestion(ctx, id)
	if err != nil {
		return fmt.Errorf("load suggestion %s: %w", id, err)
	}
	if s == nil {
		return fmt.Errorf("suggestion %s not found", id)
	}
	if s.Status != from {
		return fmt.Errorf("%w: %s → %s (suggestion %s is %s)", ErrInvalidTransition, from, to, id, s.Status)
	}

	if effect != nil {
		if err := effect(ctx, s); err != nil {
			return err
		}
	}

	if err := e.store.UpdateSuggestionStatus(ctx, id, to); err != nil {
		return fmt.Errorf("update suggestion %s: %w", id, err)
	}

	slog.Info("suggestion transitioned", "suggestion_id", id, "from", from, "to", to)
	return nil
}

func (e *Engine) publish(ctx context.Context, kind string, payload interface{}) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.Publish(ctx, kind, payload); err != nil {
		slog.Warn("event publish failed", "kind", kind, "error", err)
	}
}

// snippet cuts a readable window around the matched phrase from the original
// (non-lowercased) content.
func snippet(content string, idx, phraseLen int) string {
	start := idx - snippetRadius
	if start < 0 {
		start = 0
	}
	end := idx + phraseLen + snippetRadius
	if end > len(content) {
		end = len(content)
	}

	out := strings.TrimSpace(content[start:end])
	if start > 0 {
		out = "…" + out
	}
	if end < len(content) {
		out += "…"
	}
	return out
}
