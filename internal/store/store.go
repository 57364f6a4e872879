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

// Package store provides the Postgres persistence layer for proposals,
// emails, links, link audit history, and validation suggestions. The
// one-auto-link-per-(email, proposal) invariant is enforced here with a
// unique constraint, not by callers.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrDuplicateLink is returned when a strict link insert hits an existing
// (email, proposal) row with different content. Identical content is a
// success-no-op and does not produce this error.
var ErrDuplicateLink = errors.New("duplicate email-proposal link")

// ErrNotFound is returned by lookups for missing rows where the caller
// asked for a specific record.
var ErrNotFound = errors.New("record not found")

// Store provides CRUD operations over the pulse schema.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store backed by the given Postgres pool and ensures the
// schema exists.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure pulse schema: %w", err)
	}
	slog.Info("pulse store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS proposals (
			id              TEXT PRIMARY KEY,
			project_code    TEXT NOT NULL UNIQUE,
			name            TEXT NOT NULL,
			client          TEXT NOT NULL DEFAULT '',
			client_domains  TEXT[] NOT NULL DEFAULT '{}',
			status          TEXT NOT NULL DEFAULT 'proposal',
			last_contact_at TIMESTAMPTZ,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_proposals_status ON proposals(status);

		CREATE TABLE IF NOT EXISTS emails (
			id          TEXT PRIMARY KEY,
			sender      TEXT NOT NULL,
			subject     TEXT NOT NULL DEFAULT '',
			snippet     TEXT NOT NULL DEFAULT '',
			received_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_emails_received ON emails(received_at);

		CREATE TABLE IF NOT EXISTS email_proposal_links (
			id           TEXT PRIMARY KEY,
			email_id     TEXT NOT NULL REFERENCES emails(id),
			proposal_id  TEXT NOT NULL REFERENCES proposals(id),
			confidence   DOUBLE PRECISION NOT NULL,
			link_type    TEXT NOT NULL DEFAULT 'auto',
			needs_review BOOLEAN NOT NULL DEFAULT FALSE,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE(email_id, proposal_id)
		);
		CREATE INDEX IF NOT EXISTS idx_links_proposal ON email_proposal_links(proposal_id);
		CREATE INDEX IF NOT EXISTS idx_links_email ON email_proposal_links(email_id);

		CREATE TABLE IF NOT EXISTS link_audit (
			id          BIGSERIAL PRIMARY KEY,
			link_id     TEXT NOT NULL,
			email_id    TEXT NOT NULL,
			proposal_id TEXT NOT NULL,
			action      TEXT NOT NULL,
			confidence  DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_audit_proposal ON link_audit(proposal_id);

		CREATE TABLE IF NOT EXISTS validation_suggestions (
			id              TEXT PRIMARY KEY,
			proposal_id     TEXT NOT NULL REFERENCES proposals(id),
			field           TEXT NOT NULL,
			current_value   TEXT NOT NULL DEFAULT '',
			suggested_value TEXT NOT NULL,
			confidence      DOUBLE PRECISION NOT NULL,
			evidence        TEXT NOT NULL DEFAULT '',
			status          TEXT NOT NULL DEFAULT 'pending',
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_suggestions_proposal ON validation_suggestions(proposal_id, status);
	`)
	return err
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// isUniqueViolation reports whether err is a Postgres unique constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
