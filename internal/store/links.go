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

package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bkstudio/pulse/internal/models"
)

const linkColumns = `id, email_id, proposal_id, confidence, link_type, needs_review, created_at, updated_at`

// UpsertAutoLink inserts an auto link or, when the (email, proposal) pair
// already exists, refreshes confidence and the review flag. Human-made links
// are never downgraded: an existing manual or approved row keeps its type
// and only sees a confidence update. Safe to call from concurrent batch
// runs — the unique constraint makes the race a harmless conflict.
//
// On conflict the original row ID wins; it is written back into l so callers
// always hold the persisted ID.
func (s *Store) UpsertAutoLink(ctx context.Context, l *models.EmailProposalLink) error {
	return s.pool.QueryRow(ctx, `
		INSERT INTO email_proposal_links (id, email_id, proposal_id, confidence, link_type, needs_review)
		VALUES ($1, $2, $3, $4, 'auto', $5)
		ON CONFLICT (email_id, proposal_id) DO UPDATE SET
			confidence   = EXCLUDED.confidence,
			needs_review = CASE WHEN email_proposal_links.link_type = 'auto'
			               THEN EXCLUDED.needs_review
			               ELSE email_proposal_links.needs_review END,
			updated_at   = NOW()
		RETURNING id
	`, l.ID, l.EmailID, l.ProposalID, l.Confidence, l.NeedsReview).Scan(&l.ID)
}

// CreateManualLink strictly inserts a human-made link. An existing row for
// the same pair is a success-no-op when it is already manual or approved,
// and ErrDuplicateLink otherwise so the caller can surface the conflict.
func (s *Store) CreateManualLink(ctx context.Context, l *models.EmailProposalLink) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO email_proposal_links (id, email_id, proposal_id, confidence, link_type, needs_review)
		VALUES ($1, $2, $3, $4, 'manual', FALSE)
	`, l.ID, l.EmailID, l.ProposalID, l.Confidence)
	if err == nil {
		return nil
	}
	if !isUniqueViolation(err) {
		return err
	}

	existing, lookErr := s.GetLinkByPair(ctx, l.EmailID, l.ProposalID)
	if lookErr != nil {
		return lookErr
	}
	if existing != nil && existing.LinkType != models.LinkAuto {
		return nil
	}
	return ErrDuplicateLink
}

// GetLink retrieves a link by ID.
func (s *Store) GetLink(ctx context.Context, id string) (*models.EmailProposalLink, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+linkColumns+` FROM email_proposal_links WHERE id = $1`, id)
	return scanLink(row)
}

// GetLinkByPair retrieves the link for an (email, proposal) pair.
func (s *Store) GetLinkByPair(ctx context.Context, emailID, proposalID string) (*models.EmailProposalLink, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+linkColumns+` FROM email_proposal_links WHERE email_id = $1 AND proposal_id = $2
	`, emailID, proposalID)
	return scanLink(row)
}

// ListLinksForEmail returns all links for an email.
func (s *Store) ListLinksForEmail(ctx context.Context, emailID string) ([]*models.EmailProposalLink, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+linkColumns+` FROM email_proposal_links WHERE email_id = $1 ORDER BY confidence DESC
	`, emailID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectLinks(rows)
}

// MarkLinkType sets a link's type, used for the auto → approved promotion.
func (s *Store) MarkLinkType(ctx context.Context, id string, lt models.LinkType) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE email_proposal_links
		SET link_type = $1, needs_review = FALSE, updated_at = NOW()
		WHERE id = $2
	`, string(lt), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteLink removes a link (human rejection).
func (s *Store) DeleteLink(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM email_proposal_links WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordLinkAudit appends an action (created, approved, denied, reassigned)
// to the audit history. Denials stay on record after the link row is gone;
// they are the raw material for future reweighting.
func (s *Store) RecordLinkAudit(ctx context.Context, l *models.EmailProposalLink, action string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO link_audit (link_id, email_id, proposal_id, action, confidence)
		VALUES ($1, $2, $3, $4, $5)
	`, l.ID, l.EmailID, l.ProposalID, action, l.Confidence)
	return err
}

// HasApprovedSenderLink reports whether a human has previously approved (or
// manually created) a link from this sender to this proposal. Backs the
// prior-approval scoring signal.
func (s *Store) HasApprovedSenderLink(ctx context.Context, sender, proposalID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM email_proposal_links l
			JOIN emails e ON e.id = l.email_id
			WHERE l.proposal_id = $1
			  AND e.sender = $2
			  AND l.link_type IN ('approved', 'manual')
		)
	`, proposalID, sender).Scan(&exists)
	return exists, err
}

// IsKnownClientDomain reports whether the sender domain is established for
// the proposal's client, either declared on the proposal or learned from a
// previously approved link.
func (s *Store) IsKnownClientDomain(ctx context.Context, proposalID, domain string) (bool, error) {
	if domain == "" {
		return false, nil
	}
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM proposals WHERE id = $1 AND $2 = ANY(client_domains)
		) OR EXISTS (
			SELECT 1
			FROM email_proposal_links l
			JOIN emails e ON e.id = l.email_id
			WHERE l.proposal_id = $1
			  AND l.link_type IN ('approved', 'manual')
			  AND lower(split_part(e.sender, '@', 2)) = $2
		)
	`, proposalID, domain).Scan(&exists)
	return exists, err
}

// CountRecentLinkedEmails counts emails linked to a proposal received after
// the cutoff. Feeds the health calculator's activity bonus.
func (s *Store) CountRecentLinkedEmails(ctx context.Context, proposalID string, since time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM email_proposal_links l
		JOIN emails e ON e.id = l.email_id
		WHERE l.proposal_id = $1 AND e.received_at >= $2
	`, proposalID, since).Scan(&n)
	return n, err
}

func scanLink(row pgx.Row) (*models.EmailProposalLink, error) {
	var l models.EmailProposalLink
	var lt string
	err := row.Scan(&l.ID, &l.EmailID, &l.ProposalID, &l.Confidence, &lt, &l.NeedsReview, &l.CreatedAt, &l.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	l.LinkType = models.LinkType(lt)
	return &l, nil
}

func collectLinks(rows pgx.Rows) ([]*models.EmailProposalLink, error) {
	var out []*models.EmailProposalLink
	for rows.Next() {
		var l models.EmailProposalLink
		var lt string
		if err := rows.Scan(&l.ID, &l.EmailID, &l.ProposalID, &l.Confidence, &lt, &l.NeedsReview, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, err
		}
		l.LinkType = models.LinkType(lt)
		out = append(out, &l)
	}
	return out, rows.Err()
}
