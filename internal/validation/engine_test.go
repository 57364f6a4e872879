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

package validation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bkstudio/pulse/internal/config"
	"github.com/bkstudio/pulse/internal/models"
)

// memStore implements Store in memory for tests.
type memStore struct {
	suggestions map[string]*models.ValidationSuggestion
	statuses    map[string]models.Status
}

func newMemStore() *memStore {
	return &memStore{
		suggestions: make(map[string]*models.ValidationSuggestion),
		statuses:    make(map[string]models.Status),
	}
}

func (m *memStore) CreateSuggestion(_ context.Context, s *models.ValidationSuggestion) error {
	cp := *s
	m.suggestions[s.ID] = &cp
	return nil
}

func (m *memStore) GetSuggestion(_ context.Context, id string) (*models.ValidationSuggestion, error) {
	s, ok := m.suggestions[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) UpdateSuggestionStatus(_ context.Context, id string, status models.SuggestionStatus) error {
	s, ok := m.suggestions[id]
	if !ok {
		return errors.New("not found")
	}
	s.Status = status
	return nil
}

func (m *memStore) HasOpenSuggestion(_ context.Context, proposalID, field, suggestedValue string) (bool, error) {
	for _, s := range m.suggestions {
		if s.ProposalID == proposalID && s.Field == field && s.SuggestedValue == suggestedValue &&
			(s.Status == models.SuggestionPending || s.Status == models.SuggestionApproved) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) UpdateProposalStatus(_ context.Context, proposalID string, status models.Status) error {
	m.statuses[proposalID] = status
	return nil
}

func newEngine(store Store) *Engine {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	return New(config.Default().Validation, store, func() time.Time { return now })
}

func activeProposal() *models.Proposal {
	return &models.Proposal{
		ID:          "p1",
		ProjectCode: "BK-069",
		Name:        "Harbourside Pavilion",
		Status:      models.StatusActive,
	}
}

// TestGenerate_DivergentEvidence verifies a suggestion is created when email
// evidence implies a different status above the confidence floor.
func TestGenerate_DivergentEvidence(t *testing.T) {
	store := newMemStore()
	e := newEngine(store)

	emails := []*models.Email{{
		ID:      "e1",
		Sender:  "pm@harbourside.com",
		Subject: "BK-069 next steps",
		Snippet: "Unfortunately the board has decided we are not proceeding with the pavilion this year.",
	}}

	out, err := e.Generate(context.Background(), activeProposal(), emails)
	require.NoError(t, err)
	require.Len(t, out, 1)

	s := out[0]
	assert.Equal(t, "status", s.Field)
	assert.Equal(t, "active", s.CurrentValue)
	assert.Equal(t, "lost", s.SuggestedValue)
	assert.GreaterOrEqual(t, s.Confidence, 0.8)
	assert.Equal(t, models.SuggestionPending, s.Status)
	assert.Contains(t, s.Evidence, "not proceeding")
}

// TestGenerate_AgreementProducesNothing verifies evidence agreeing with the
// stored status yields no suggestion.
func TestGenerate_AgreementProducesNothing(t *testing.T) {
	store := newMemStore()
	e := newEngine(store)

	p := activeProposal()
	p.Status = models.StatusLost

	emails := []*models.Email{{
		ID:      "e1",
		Snippet: "As discussed, the client is not proceeding.",
	}}

	out, err := e.Generate(context.Background(), p, emails)
	require.NoError(t, err)
	assert.Empty(t, out)
}

// TestGenerate_NoDuplicateOpenSuggestions verifies a second run with the
// same evidence does not stack a second pending suggestion.
func TestGenerate_NoDuplicateOpenSuggestions(t *testing.T) {
	store := newMemStore()
	e := newEngine(store)

	emails := []*models.Email{{
		ID:      "e1",
		Snippet: "They have signed contract documents this morning.",
	}}

	first, err := e.Generate(context.Background(), activeProposal(), emails)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := e.Generate(context.Background(), activeProposal(), emails)
	require.NoError(t, err)
	assert.Empty(t, second)
}

// TestStateMachine_ApproveThenApply walks the happy path and verifies the
// write-back only happens at apply time.
func TestStateMachine_ApproveThenApply(t *testing.T) {
	store := newMemStore()
	e := newEngine(store)

	out, err := e.Generate(context.Background(), activeProposal(), []*models.Email{{
		ID:      "e1",
		Snippet: "Great news — the signed contract is attached.",
	}})
	require.NoError(t, err)
	require.Len(t, out, 1)
	id := out[0].ID

	// No write-back before apply
	assert.Empty(t, store.statuses)

	require.NoError(t, e.Approve(context.Background(), id))
	assert.Empty(t, store.statuses)

	require.NoError(t, e.Apply(context.Background(), id))
	assert.Equal(t, models.StatusWon, store.statuses["p1"])

	s, _ := store.GetSuggestion(context.Background(), id)
	assert.Equal(t, models.SuggestionApplied, s.Status)
}

// TestStateMachine_InvalidTransitions verifies every forbidden move fails
// with ErrInvalidTransition.
func TestStateMachine_InvalidTransitions(t *testing.T) {
	store := newMemStore()
	e := newEngine(store)

	seed := func(status models.SuggestionStatus) string {
		id := "s-" + string(status)
		store.suggestions[id] = &models.ValidationSuggestion{
			ID: id, ProposalID: "p1", Field: "status",
			CurrentValue: "active", SuggestedValue: "won",
			Status: status,
		}
		return id
	}

	ctx := context.Background()

	// Apply before approve
	pending := seed(models.SuggestionPending)
	assert.ErrorIs(t, e.Apply(ctx, pending), ErrInvalidTransition)

	// Anything after denied
	denied := seed(models.SuggestionDenied)
	assert.ErrorIs(t, e.Apply(ctx, denied), ErrInvalidTransition)
	assert.ErrorIs(t, e.Approve(ctx, denied), ErrInvalidTransition)

	// Re-applying an applied suggestion
	applied := seed(models.SuggestionApplied)
	assert.ErrorIs(t, e.Apply(ctx, applied), ErrInvalidTransition)

	// Denying an approved suggestion
	approved := seed(models.SuggestionApproved)
	assert.ErrorIs(t, e.Deny(ctx, approved), ErrInvalidTransition)

	// No write-back happened anywhere
	assert.Empty(t, store.statuses)
}

// TestApply_WriteBackFailureLeavesStatus verifies a failed write-back does
// not advance the suggestion to applied.
func TestApply_WriteBackFailureLeavesStatus(t *testing.T) {
	store := newMemStore()
	e := newEngine(failingStore{store})

	store.suggestions["s1"] = &models.ValidationSuggestion{
		ID: "s1", ProposalID: "p1", Field: "status",
		CurrentValue: "active", SuggestedValue: "won",
		Status: models.SuggestionApproved,
	}

	err := e.Apply(context.Background(), "s1")
	require.Error(t, err)
	assert.Equal(t, models.SuggestionApproved, store.suggestions["s1"].Status)
}

// TestApply_RejectsUnknownStatus verifies a suggestion carrying a
// non-canonical status never reaches the proposal row.
func TestApply_RejectsUnknownStatus(t *testing.T) {
	store := newMemStore()
	e := newEngine(store)

	store.suggestions["s1"] = &models.ValidationSuggestion{
		ID: "s1", ProposalID: "p1", Field: "status",
		CurrentValue: "active", SuggestedValue: "quantum",
		Status: models.SuggestionApproved,
	}

	err := e.Apply(context.Background(), "s1")
	require.Error(t, err)
	assert.Empty(t, store.statuses)
	assert.Equal(t, models.SuggestionApproved, store.suggestions["s1"].Status)
}

// failingStore wraps memStore and fails proposal write-backs.
type failingStore struct {
	*memStore
}

func (f failingStore) UpdateProposalStatus(context.Context, string, models.Status) error {
	return errors.New("proposal store unavailable")
}
