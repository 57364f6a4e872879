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

const proposalColumns = `id, project_code, name, client, client_domains, status, last_contact_at, created_at`

// UpsertProposal inserts or updates a proposal keyed on project_code.
// Status is only written on insert; status changes go through
// UpdateProposalStatus so the suggestion state machine stays the single
// write path for evidence-driven changes.
func (s *Store) UpsertProposal(ctx context.Context, p *models.Proposal) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO proposals (id, project_code, name, client, client_domains, status, last_contact_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, NOW()))
		ON CONFLICT (project_code) DO UPDATE SET
			name           = EXCLUDED.name,
			client         = EXCLUDED.client,
			client_domains = EXCLUDED.client_domains,
			last_contact_at = COALESCE(EXCLUDED.last_contact_at, proposals.last_contact_at)
	`, p.ID, p.ProjectCode, p.Name, p.Client, p.ClientDomains, string(p.Status), p.LastContactAt, nilIfZero(p.CreatedAt))
	return err
}

// GetProposal retrieves a proposal by ID. Missing rows return nil, nil.
func (s *Store) GetProposal(ctx context.Context, id string) (*models.Proposal, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE id = $1`, id)
	return scanProposal(row)
}

// GetProposalByCode retrieves a proposal by its project code.
func (s *Store) GetProposalByCode(ctx context.Context, code string) (*models.Proposal, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE project_code = $1`, code)
	return scanProposal(row)
}

// ListCandidates returns proposals matching any of the given project codes
// or whose client domain list contains the sender domain. This is the
// prefilter feeding the link resolver; scoring decides from there.
func (s *Store) ListCandidates(ctx context.Context, codes []string, senderDomain string) ([]*models.Proposal, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+proposalColumns+`
		FROM proposals
		WHERE project_code = ANY($1)
		   OR ($2 <> '' AND $2 = ANY(client_domains))
		ORDER BY created_at DESC
	`, codes, senderDomain)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectProposals(rows)
}

// ListProposals returns all proposals, most recent first.
func (s *Store) ListProposals(ctx context.Context) ([]*models.Proposal, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+proposalColumns+` FROM proposals ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectProposals(rows)
}

// UpdateProposalStatus sets a proposal's status.
func (s *Store) UpdateProposalStatus(ctx context.Context, id string, status models.Status) error {
	tag, err := s.pool.Exec(ctx, `UPDATE proposals SET status = $1 WHERE id = $2`, string(status), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchLastContact advances last_contact_at to the given time if it is
// newer than the stored value.
func (s *Store) TouchLastContact(ctx context.Context, id string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE proposals
		SET last_contact_at = GREATEST(COALESCE(last_contact_at, 'epoch'::timestamptz), $1)
		WHERE id = $2
	`, at, id)
	return err
}

func scanProposal(row pgx.Row) (*models.Proposal, error) {
	var p models.Proposal
	var status string
	err := row.Scan(&p.ID, &p.ProjectCode, &p.Name, &p.Client, &p.ClientDomains, &status, &p.LastContactAt, &p.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.Status = models.Status(status)
	return &p, nil
}

func collectProposals(rows pgx.Rows) ([]*models.Proposal, error) {
	var out []*models.Proposal
	for rows.Next() {
		var p models.Proposal
		var status string
		if err := rows.Scan(&p.ID, &p.ProjectCode, &p.Name, &p.Client, &p.ClientDomains, &status, &p.LastContactAt, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Status = models.Status(status)
		out = append(out, &p)
	}
	return out, rows.Err()
}

// nilIfZero lets the schema default (NOW()) apply for zero timestamps.
func nilIfZero(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
