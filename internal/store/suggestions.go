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

const suggestionColumns = `id, proposal_id, field, current_value, suggested_value, confidence, evidence, status, created_at, updated_at`

// CreateSuggestion stores a new validation suggestion.
func (s *Store) CreateSuggestion(ctx context.Context, v *models.ValidationSuggestion) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO validation_suggestions
			(id, proposal_id, field, current_value, suggested_value, confidence, evidence, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, v.ID, v.ProposalID, v.Field, v.CurrentValue, v.SuggestedValue, v.Confidence, v.Evidence, string(v.Status))
	return err
}

// GetSuggestion retrieves a suggestion by ID. Missing rows return nil, nil.
func (s *Store) GetSuggestion(ctx context.Context, id string) (*models.ValidationSuggestion, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+suggestionColumns+` FROM validation_suggestions WHERE id = $1`, id)
	return scanSuggestion(row)
}

// ListSuggestions returns a proposal's suggestions, optionally filtered by
// status, newest first.
func (s *Store) ListSuggestions(ctx context.Context, proposalID string, status models.SuggestionStatus) ([]*models.ValidationSuggestion, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+suggestionColumns+`
		FROM validation_suggestions
		WHERE proposal_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
	`, proposalID, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.ValidationSuggestion
	for rows.Next() {
		v, err := scanSuggestionValues(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// UpdateSuggestionStatus sets a suggestion's review status.
func (s *Store) UpdateSuggestionStatus(ctx context.Context, id string, status models.SuggestionStatus) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE validation_suggestions SET status = $1, updated_at = NOW() WHERE id = $2
	`, string(status), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// HasOpenSuggestion reports whether an undecided (pending or approved)
// suggestion already proposes the same value for the same field, so repeated
// evidence sweeps do not stack duplicates.
func (s *Store) HasOpenSuggestion(ctx context.Context, proposalID, field, suggestedValue string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM validation_suggestions
			WHERE proposal_id = $1 AND field = $2 AND suggested_value = $3
			  AND status IN ('pending', 'approved')
		)
	`, proposalID, field, suggestedValue).Scan(&exists)
	return exists, err
}

func scanSuggestion(row pgx.Row) (*models.ValidationSuggestion, error) {
	v, err := scanSuggestionValues(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return v, err
}

func scanSuggestionValues(row pgx.Row) (*models.ValidationSuggestion, error) {
	var v models.ValidationSuggestion
	var status string
	err := row.Scan(&v.ID, &v.ProposalID, &v.Field, &v.CurrentValue, &v.SuggestedValue,
		&v.Confidence, &v.Evidence, &status, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	v.Status = models.SuggestionStatus(status)
	return &v, nil
}
