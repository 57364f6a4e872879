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

	"github.com/jackc/pgx/v5"

	"github.com/bkstudio/pulse/internal/models"
)

// CreateEmail stores an ingested email. Emails are immutable; re-ingesting
// the same ID is a no-op.
func (s *Store) CreateEmail(ctx context.Context, e *models.Email) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO emails (id, sender, subject, snippet, received_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, e.ID, e.Sender, e.Subject, e.Snippet, e.ReceivedAt)
	return err
}

// GetEmail retrieves an email by ID. Missing rows return nil, nil.
func (s *Store) GetEmail(ctx context.Context, id string) (*models.Email, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, sender, subject, snippet, received_at FROM emails WHERE id = $1
	`, id)
	var e models.Email
	err := row.Scan(&e.ID, &e.Sender, &e.Subject, &e.Snippet, &e.ReceivedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListUnlinkedEmails returns up to batchSize emails with no links, oldest
// first. Batch resolution is resumable by definition: once an email gains a
// link it drops out of this query.
func (s *Store) ListUnlinkedEmails(ctx context.Context, batchSize int) ([]*models.Email, error) {
	if batchSize <= 0 {
		batchSize = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT e.id, e.sender, e.subject, e.snippet, e.received_at
		FROM emails e
		LEFT JOIN email_proposal_links l ON l.email_id = e.id
		WHERE l.id IS NULL
		ORDER BY e.received_at
		LIMIT $1
	`, batchSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Email
	for rows.Next() {
		var e models.Email
		if err := rows.Scan(&e.ID, &e.Sender, &e.Subject, &e.Snippet, &e.ReceivedAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// ListLinkedEmails returns the emails linked to a proposal, newest first.
// Feeds both the health calculator and the validation engine's evidence set.
func (s *Store) ListLinkedEmails(ctx context.Context, proposalID string, limit int) ([]*models.Email, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT e.id, e.sender, e.subject, e.snippet, e.received_at
		FROM emails e
		JOIN email_proposal_links l ON l.email_id = e.id
		WHERE l.proposal_id = $1
		ORDER BY e.received_at DESC
		LIMIT $2
	`, proposalID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Email
	for rows.Next() {
		var e models.Email
		if err := rows.Scan(&e.ID, &e.Sender, &e.Subject, &e.Snippet, &e.ReceivedAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
