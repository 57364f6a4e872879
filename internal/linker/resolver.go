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

// Package linker applies the confidence scorer across candidate proposals
// per email and records the resulting links. Resolution is idempotent:
// re-running over unchanged data updates confidence at most, never
// duplicates rows, and never touches proposal status.
package linker

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
	"github.com/bkstudio/pulse/internal/scoring"
)

// ErrInsufficientData is returned for emails with no subject and no body.
// Such emails are skipped, not scored as zero-confidence links — more data
// will not appear without new ingestion, so there is nothing to retry.
var ErrInsufficientData = errors.New("insufficient email data to score")

// Store is the persistence surface the resolver needs.
type Store interface {
	UpsertAutoLink(ctx context.Context, l *models.EmailProposalLink) error
	CreateManualLink(ctx context.Context, l *models.EmailProposalLink) error
	GetLink(ctx context.Context, id string) (*models.EmailProposalLink, error)
	MarkLinkType(ctx context.Context, id string, lt models.LinkType) error
	DeleteLink(ctx context.Context, id string) error
	RecordLinkAudit(ctx context.Context, l *models.EmailProposalLink, action string) error
	HasApprovedSenderLink(ctx context.Context, sender, proposalID string) (bool, error)
	IsKnownClientDomain(ctx context.Context, proposalID, domain string) (bool, error)
	TouchLastContact(ctx context.Context, proposalID string, at time.Time) error
}

// Publisher emits link events for the reporting consumer. May be nil.
type Publisher interface {
	Publish(ctx context.Context, kind string, payload interface{}) error
}

// ResumeFilter forgets an email so a later batch re-scores it. May be nil.
type ResumeFilter interface {
	Forget(ctx context.Context, emailID string) error
}

// Resolver selects the best-matching proposals for an email and writes
// link records.
type Resolver struct {
	scorer    *scoring.Scorer
	store     Store
	publisher Publisher
	resume    ResumeFilter
	threshold float64
	tieBand   float64
}

// ResolverConfig holds dependencies for the resolver.
type ResolverConfig struct {
	Scorer    *scoring.Scorer
	Store     Store
	Publisher Publisher
	Resume    ResumeFilter
	Linker    config.Linker
}

// NewResolver creates a Resolver.
func NewResolver(cfg ResolverConfig) *Resolver {
	return &Resolver{
		scorer:    cfg.Scorer,
		store:     cfg.Store,
		publisher: cfg.Publisher,
		resume:    cfg.Resume,
		threshold: cfg.Linker.Threshold,
		tieBand:   cfg.Linker.TieBand,
	}
}

// scored pairs a candidate with its confidence and signals.
type scored struct {
	proposal *models.Proposal
	score    float64
	signals  []scoring.Signal
}

// Resolve scores every candidate for the email and links the winners.
//
// Candidates at or above the threshold survive. A single survivor gets one
// auto link. Several survivors within the tie-band of the top score all get
// links flagged for review — a legitimately multi-discipline email. No
// survivor, no link. Proposal status is never mutated here.
func (r *Resolver) Resolve(ctx context.Context, email *models.Email, cands []*models.Proposal) ([]*models.EmailProposalLink, error) {
	if strings.TrimSpace(email.Subject) == "" && strings.TrimSpace(email.Snippet) == "" {
		return nil, fmt.Errorf("%w: email %s has no subject or body", ErrInsufficientData, email.ID)
	}

	var winners []scored
	var top float64

	for _, p := range cands {
		sctx, err := r.signalContext(ctx, email, p)
		if err != nil {
			return nil, fmt.Errorf("signal context for proposal %s: %w", p.ID, err)
		}

		score, signals := r.scorer.Score(email, p, sctx)
		slog.Debug("candidate scored",
			"email_id", email.ID,
			"proposal", p.ProjectCode,
			"score", score,
		)

		if score < r.threshold {
			continue
		}
		winners = append(winners, scored{proposal: p, score: score, signals: signals})
		if score > top {
			top = score
		}
	}

	// Keep only candidates within the tie-band of the top score.
	kept := winners[:0]
	for _, w := range winners {
		if top-w.score <= r.tieBand {
			kept = append(kept, w)
		}
	}

	if len(kept) == 0 {
		return nil, nil
	}

	needsReview := len(kept) > 1
	links := make([]*models.EmailProposalLink, 0, len(kept))

	for _, w := range kept {
		link := &models.EmailProposalLink{
			ID:          uuid.New().String(),
			EmailID:     email.ID,
			ProposalID:  w.proposal.ID,
			Confidence:  w.score,
			LinkType:    models.LinkAuto,
			NeedsReview: needsReview,
		}

		if err := r.store.UpsertAutoLink(ctx, link); err != nil {
			return links, fmt.Errorf("upsert link email=%s proposal=%s: %w", email.ID, w.proposal.ID, err)
		}
		if err := r.store.RecordLinkAudit(ctx, link, "created"); err != nil {
			slog.Warn("link audit write failed", "link_id", link.ID, "error", err)
		}
		if err := r.store.TouchLastContact(ctx, w.proposal.ID, email.ReceivedAt); err != nil {
			slog.Warn("touch last contact failed", "proposal_id", w.proposal.ID, "error", err)
		}
		r.publish(ctx, queue.EventLinkCreated, link)

		slog.Info("link created",
			"email_id", email.ID,
			"proposal", w.proposal.ProjectCode,
			"confidence", w.score,
			"needs_review", needsReview,
		)
		links = append(links, link)
	}

	return links, nil
}

// signalContext assembles the historical signals for one candidate.
func (r *Resolver) signalContext(ctx context.Context, email *models.Email, p *models.Proposal) (scoring.SignalContext, error) {
	var sctx scoring.SignalContext

	known, err := r.store.IsKnownClientDomain(ctx, p.ID, email.SenderDomain())
	if err != nil {
		return sctx, err
	}
	sctx.KnownClientDomain = known

	prior, err := r.store.HasApprovedSenderLink(ctx, email.Sender, p.ID)
	if err != nil {
		return sctx, err
	}
	sctx.PriorApprovedLink = prior

	return sctx, nil
}

// Preview scores a single (email, proposal) pair without writing a link.
// Signal lookups that fail degrade to absent signals rather than erroring —
// a preview should always produce a number.
func (r *Resolver) Preview(ctx context.Context, email *models.Email, p *models.Proposal) (float64, []scoring.Signal) {
	sctx, err := r.signalContext(ctx, email, p)
	if err != nil {
		slog.Warn("signal context lookup failed, scoring without history",
			"email_id", email.ID, "proposal", p.ProjectCode, "error", err)
		sctx = scoring.SignalContext{}
	}
	return r.scorer.Score(email, p, sctx)
}

// Approve promotes an auto link after human review. Approvals feed the
// prior-approved scoring signal for future emails from the same sender.
func (r *Resolver) Approve(ctx context.Context, linkID string) error {
	link, err := r.store.GetLink(ctx, linkID)
	if err != nil {
		return fmt.Errorf("load link %s: %w", linkID, err)
	}
	if link == nil {
		return fmt.Errorf("link %s not found", linkID)
	}

	if err := r.store.MarkLinkType(ctx, linkID, models.LinkApproved); err != nil {
		return fmt.Errorf("approve link %s: %w", linkID, err)
	}
	if err := r.store.RecordLinkAudit(ctx, link, "approved"); err != nil {
		slog.Warn("link audit write failed", "link_id", linkID, "error", err)
	}
	r.publish(ctx, queue.EventLinkApproved, link)
	return nil
}

// Reject deletes a link on human denial. The denial stays in the audit
// history, and the email is released back to the unlinked pool for future
// re-resolution.
func (r *Resolver) Reject(ctx context.Context, linkID string) error {
	link, err := r.store.GetLink(ctx, linkID)
	if err != nil {
		return fmt.Errorf("load link %s: %w", linkID, err)
	}
	if link == nil {
		return fmt.Errorf("link %s not found", linkID)
	}

	if err := r.store.DeleteLink(ctx, linkID); err != nil {
		return fmt.Errorf("delete link %s: %w", linkID, err)
	}
	if err := r.store.RecordLinkAudit(ctx, link, "denied"); err != nil {
		slog.Warn("link audit write failed", "link_id", linkID, "error", err)
	}
	if r.resume != nil {
		if err := r.resume.Forget(ctx, link.EmailID); err != nil {
			slog.Warn("resume filter forget failed", "email_id", link.EmailID, "error", err)
		}
	}
	r.publish(ctx, queue.EventLinkRejected, link)
	return nil
}

// Reassign moves a link to a different proposal as a manual link with full
// confidence. The original auto link is deleted and both steps audited.
func (r *Resolver) Reassign(ctx context.Context, linkID, newProposalID string) error {
	link, err := r.store.GetLink(ctx, linkID)
	if err != nil {
		return fmt.Errorf("load link %s: %w", linkID, err)
	}
	if link == nil {
		return fmt.Errorf("link %s not found", linkID)
	}

	if err := r.store.DeleteLink(ctx, linkID); err != nil {
		return fmt.Errorf("delete link %s: %w", linkID, err)
	}
	if err := r.store.RecordLinkAudit(ctx, link, "reassigned_from"); err != nil {
		slog.Warn("link audit write failed", "link_id", linkID, "error", err)
	}

	manual := &models.EmailProposalLink{
		ID:         uuid.New().String(),
		EmailID:    link.EmailID,
		ProposalID: newProposalID,
		Confidence: 1.0,
		LinkType:   models.LinkManual,
	}
	if err := r.store.CreateManualLink(ctx, manual); err != nil {
		return fmt.Errorf("create manual link: %w", err)
	}
	if err := r.store.RecordLinkAudit(ctx, manual, "reassigned_to"); err != nil {
		slog.Warn("link audit write failed", "link_id", manual.ID, "error", err)
	}
	r.publish(ctx, queue.EventLinkCreated, manual)
	return nil
}

func (r *Resolver) publish(ctx context.Context, kind string, payload interface{}) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.Publish(ctx, kind, payload); err != nil {
		slog.Warn("event publish failed", "kind", kind, "error", err)
	}
}
