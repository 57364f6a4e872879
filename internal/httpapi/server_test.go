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

package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bkstudio/pulse/internal/candidates"
	"github.com/bkstudio/pulse/internal/config"
	"github.com/bkstudio/pulse/internal/health"
	"github.com/bkstudio/pulse/internal/linker"
	"github.com/bkstudio/pulse/internal/models"
	"github.com/bkstudio/pulse/internal/normalize"
	"github.com/bkstudio/pulse/internal/scoring"
	"github.com/bkstudio/pulse/internal/validation"
)

// apiStore is an in-memory backend implementing every store-facing interface
// the API's components need.
type apiStore struct {
	proposals   map[string]*models.Proposal
	emails      map[string]*models.Email
	links       map[string]*models.EmailProposalLink
	suggestions map[string]*models.ValidationSuggestion
}

func newAPIStore() *apiStore {
	return &apiStore{
		proposals:   make(map[string]*models.Proposal),
		emails:      make(map[string]*models.Email),
		links:       make(map[string]*models.EmailProposalLink),
		suggestions: make(map[string]*models.ValidationSuggestion),
	}
}

func (s *apiStore) CreateEmail(_ context.Context, e *models.Email) error {
	if _, ok := s.emails[e.ID]; !ok {
		s.emails[e.ID] = e
	}
	return nil
}

func (s *apiStore) GetEmail(_ context.Context, id string) (*models.Email, error) {
	return s.emails[id], nil
}

func (s *apiStore) GetProposal(_ context.Context, id string) (*models.Proposal, error) {
	return s.proposals[id], nil
}

func (s *apiStore) GetProposalByCode(_ context.Context, code string) (*models.Proposal, error) {
	for _, p := range s.proposals {
		if p.ProjectCode == code {
			return p, nil
		}
	}
	return nil, nil
}

func (s *apiStore) ListProposals(_ context.Context) ([]*models.Proposal, error) {
	var out []*models.Proposal
	for _, p := range s.proposals {
		out = append(out, p)
	}
	return out, nil
}

func (s *apiStore) ListLinkedEmails(_ context.Context, proposalID string, _ int) ([]*models.Email, error) {
	var out []*models.Email
	for _, l := range s.links {
		if l.ProposalID == proposalID {
			if e := s.emails[l.EmailID]; e != nil {
				out = append(out, e)
			}
		}
	}
	return out, nil
}

func (s *apiStore) CountRecentLinkedEmails(_ context.Context, proposalID string, since time.Time) (int, error) {
	n := 0
	for _, l := range s.links {
		if l.ProposalID == proposalID {
			if e := s.emails[l.EmailID]; e != nil && e.ReceivedAt.After(since) {
				n++
			}
		}
	}
	return n, nil
}

func (s *apiStore) ListSuggestions(_ context.Context, proposalID string, status models.SuggestionStatus) ([]*models.ValidationSuggestion, error) {
	var out []*models.ValidationSuggestion
	for _, v := range s.suggestions {
		if v.ProposalID == proposalID && (status == "" || v.Status == status) {
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *apiStore) ListCandidates(_ context.Context, codes []string, senderDomain string) ([]*models.Proposal, error) {
	var out []*models.Proposal
	for _, p := range s.proposals {
		match := false
		for _, c := range codes {
			if p.ProjectCode == c {
				match = true
			}
		}
		for _, d := range p.ClientDomains {
			if d == senderDomain {
				match = true
			}
		}
		if match {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *apiStore) ListUnlinkedEmails(_ context.Context, batchSize int) ([]*models.Email, error) {
	var out []*models.Email
	for _, e := range s.emails {
		linked := false
		for _, l := range s.links {
			if l.EmailID == e.ID {
				linked = true
			}
		}
		if !linked && len(out) < batchSize {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *apiStore) UpsertAutoLink(_ context.Context, l *models.EmailProposalLink) error {
	for _, existing := range s.links {
		if existing.EmailID == l.EmailID && existing.ProposalID == l.ProposalID {
			existing.Confidence = l.Confidence
			if existing.LinkType == models.LinkAuto {
				existing.NeedsReview = l.NeedsReview
			}
			l.ID = existing.ID
			return nil
		}
	}
	s.links[l.ID] = l
	return nil
}

func (s *apiStore) CreateManualLink(_ context.Context, l *models.EmailProposalLink) error {
	s.links[l.ID] = l
	return nil
}

func (s *apiStore) GetLink(_ context.Context, id string) (*models.EmailProposalLink, error) {
	return s.links[id], nil
}

func (s *apiStore) MarkLinkType(_ context.Context, id string, lt models.LinkType) error {
	if l := s.links[id]; l != nil {
		l.LinkType = lt
		l.NeedsReview = false
	}
	return nil
}

func (s *apiStore) DeleteLink(_ context.Context, id string) error {
	delete(s.links, id)
	return nil
}

func (s *apiStore) RecordLinkAudit(_ context.Context, _ *models.EmailProposalLink, _ string) error {
	return nil
}

func (s *apiStore) HasApprovedSenderLink(_ context.Context, sender, proposalID string) (bool, error) {
	for _, l := range s.links {
		if l.ProposalID != proposalID || l.LinkType == models.LinkAuto {
			continue
		}
		if e := s.emails[l.EmailID]; e != nil && e.Sender == sender {
			return true, nil
		}
	}
	return false, nil
}

func (s *apiStore) IsKnownClientDomain(_ context.Context, proposalID, domain string) (bool, error) {
	p := s.proposals[proposalID]
	if p == nil {
		return false, nil
	}
	for _, d := range p.ClientDomains {
		if d == domain {
			return true, nil
		}
	}
	return false, nil
}

func (s *apiStore) TouchLastContact(_ context.Context, proposalID string, at time.Time) error {
	if p := s.proposals[proposalID]; p != nil {
		if p.LastContactAt == nil || at.After(*p.LastContactAt) {
			p.LastContactAt = &at
		}
	}
	return nil
}

func (s *apiStore) CreateSuggestion(_ context.Context, v *models.ValidationSuggestion) error {
	s.suggestions[v.ID] = v
	return nil
}

func (s *apiStore) GetSuggestion(_ context.Context, id string) (*models.ValidationSuggestion, error) {
	return s.suggestions[id], nil
}

func (s *apiStore) UpdateSuggestionStatus(_ context.Context, id string, status models.SuggestionStatus) error {
	if v := s.suggestions[id]; v != nil {
		v.Status = status
	}
	return nil
}

func (s *apiStore) HasOpenSuggestion(_ context.Context, proposalID, field, suggestedValue string) (bool, error) {
	for _, v := range s.suggestions {
		if v.ProposalID == proposalID && v.Field == field && v.SuggestedValue == suggestedValue &&
			(v.Status == models.SuggestionPending || v.Status == models.SuggestionApproved) {
			return true, nil
		}
	}
	return false, nil
}

func (s *apiStore) UpdateProposalStatus(_ context.Context, proposalID string, status models.Status) error {
	if p := s.proposals[proposalID]; p != nil {
		p.Status = status
	}
	return nil
}

// newTestServer assembles a Server over the in-memory store with default
// configuration.
func newTestServer(t *testing.T, st *apiStore) *Server {
	t.Helper()
	cfg := config.Default()

	scorer := scoring.New(cfg.Weights)
	resolver := linker.NewResolver(linker.ResolverConfig{
		Scorer: scorer,
		Store:  st,
		Linker: cfg.Linker,
	})
	prefilter := candidates.New(st)
	runner := linker.NewRunner(linker.RunnerConfig{
		Source:     st,
		Candidates: prefilter,
		Resolver:   resolver,
		BatchSize:  cfg.BatchSize,
	})

	return New(ServerConfig{
		Store:      st,
		Resolver:   resolver,
		Runner:     runner,
		Prefilter:  prefilter,
		Calculator: health.New(cfg.Health, nil),
		Engine:     validation.New(cfg.Validation, st, nil),
		Normalizer: normalize.New(cfg.StatusAliases, cfg.FieldAliases),
		Health:     cfg.Health,
	})
}

func seedProposal(st *apiStore) *models.Proposal {
	now := time.Now().UTC()
	p := &models.Proposal{
		ID:            "prop-1",
		ProjectCode:   "BK-069",
		Name:          "Harbor Point rebrand",
		Client:        "Harbor Point Group",
		ClientDomains: []string{"harborpoint.com"},
		Status:        models.StatusActive,
		LastContactAt: &now,
		CreatedAt:     now.AddDate(0, -2, 0),
	}
	st.proposals[p.ID] = p
	return p
}

func doJSON(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)
	return rec
}

func TestHandleNormalize(t *testing.T) {
	srv := newTestServer(t, newAPIStore())

	rec := doJSON(t, srv, http.MethodPost, "/api/normalize", `{"status":"In Progress"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "active", resp["status"])

	rec = doJSON(t, srv, http.MethodPost, "/api/normalize", `{"status":"quantum"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleIntakeEmail(t *testing.T) {
	st := newAPIStore()
	seedProposal(st)
	srv := newTestServer(t, st)

	body := `{"sender":"anna@harborpoint.com","subject":"BK-069 Harbor Point rebrand feedback","received_at":"2026-06-10T09:00:00Z"}`
	rec := doJSON(t, srv, http.MethodPost, "/api/emails", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		EmailID string                      `json:"email_id"`
		Links   []*models.EmailProposalLink `json:"links"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.EmailID)
	require.Len(t, resp.Links, 1)
	assert.Equal(t, "prop-1", resp.Links[0].ProposalID)

	// No sender is a hard parse error.
	rec = doJSON(t, srv, http.MethodPost, "/api/emails", `{"subject":"hi"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Sparse emails are stored but not linked.
	rec = doJSON(t, srv, http.MethodPost, "/api/emails", `{"sender":"x@nowhere.example"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestHandleResolve_LinksHighConfidenceEmail(t *testing.T) {
	st := newAPIStore()
	seedProposal(st)
	st.emails["em-1"] = &models.Email{
		ID:         "em-1",
		Sender:     "anna@harborpoint.com",
		Subject:    "BK-069 Harbor Point rebrand kickoff",
		Snippet:    "Excited to get started.",
		ReceivedAt: time.Now().UTC(),
	}
	srv := newTestServer(t, st)

	rec := doJSON(t, srv, http.MethodPost, "/api/resolve", `{"email_id":"em-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Links []*models.EmailProposalLink `json:"links"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Links, 1)
	assert.Equal(t, "prop-1", resp.Links[0].ProposalID)
	assert.GreaterOrEqual(t, resp.Links[0].Confidence, 0.8)
	assert.False(t, resp.Links[0].NeedsReview)
}

func TestHandleResolve_BlankEmailUnprocessable(t *testing.T) {
	st := newAPIStore()
	seedProposal(st)
	st.emails["em-blank"] = &models.Email{
		ID:         "em-blank",
		Sender:     "anna@harborpoint.com",
		ReceivedAt: time.Now().UTC(),
	}
	srv := newTestServer(t, st)

	rec := doJSON(t, srv, http.MethodPost, "/api/resolve", `{"email_id":"em-blank"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHandleResolve_UnknownEmail(t *testing.T) {
	srv := newTestServer(t, newAPIStore())

	rec := doJSON(t, srv, http.MethodPost, "/api/resolve", `{"email_id":"nope"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleResolveBatch(t *testing.T) {
	st := newAPIStore()
	seedProposal(st)
	st.emails["em-1"] = &models.Email{
		ID:         "em-1",
		Sender:     "anna@harborpoint.com",
		Subject:    "BK-069 Harbor Point rebrand kickoff",
		ReceivedAt: time.Now().UTC(),
	}
	st.emails["em-2"] = &models.Email{
		ID:         "em-2",
		Sender:     "spam@unrelated.example",
		ReceivedAt: time.Now().UTC(),
	}
	srv := newTestServer(t, st)

	rec := doJSON(t, srv, http.MethodPost, "/api/resolve/batch", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Processed int `json:"processed"`
		Linked    int `json:"linked"`
		Skipped   int `json:"skipped"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Processed)
	assert.Equal(t, 1, resp.Linked)
	assert.Equal(t, 1, resp.Skipped) // blank email is skipped, not failed
}

func TestHandleProposalHealth_ByCode(t *testing.T) {
	st := newAPIStore()
	seedProposal(st)
	srv := newTestServer(t, st)

	rec := doJSON(t, srv, http.MethodGet, "/api/proposals/BK-069/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var report models.HealthReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "prop-1", report.ProposalID)
	assert.Equal(t, 75, report.Score) // active baseline, fresh contact, no activity bonus
	assert.NotEmpty(t, report.Recommendation)
}

func TestHandleProposalHealth_NotFound(t *testing.T) {
	srv := newTestServer(t, newAPIStore())

	rec := doJSON(t, srv, http.MethodGet, "/api/proposals/ZZ-999/health", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSuggestionLifecycleOverHTTP(t *testing.T) {
	st := newAPIStore()
	p := seedProposal(st)
	st.emails["em-1"] = &models.Email{
		ID:         "em-1",
		Sender:     "anna@harborpoint.com",
		Subject:    "BK-069 signed contract attached",
		Snippet:    "Please find the signed contract attached.",
		ReceivedAt: time.Now().UTC(),
	}
	st.links["link-1"] = &models.EmailProposalLink{
		ID:         "link-1",
		EmailID:    "em-1",
		ProposalID: p.ID,
		Confidence: 0.9,
		LinkType:   models.LinkApproved,
	}
	srv := newTestServer(t, st)

	rec := doJSON(t, srv, http.MethodPost, "/api/proposals/prop-1/suggestions", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var gen struct {
		Suggestions []*models.ValidationSuggestion `json:"suggestions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &gen))
	require.Len(t, gen.Suggestions, 1)
	sg := gen.Suggestions[0]
	assert.Equal(t, "status", sg.Field)
	assert.Equal(t, "won", sg.SuggestedValue)

	// Apply before approval must fail the transition check.
	rec = doJSON(t, srv, http.MethodPost, "/api/suggestions/"+sg.ID+"/apply", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/suggestions/"+sg.ID+"/approve", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/suggestions/"+sg.ID+"/apply", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.StatusWon, st.proposals[p.ID].Status)

	// Denied suggestions are terminal.
	rec = doJSON(t, srv, http.MethodPost, "/api/suggestions/"+sg.ID+"/deny", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestLinkReviewOverHTTP(t *testing.T) {
	st := newAPIStore()
	p := seedProposal(st)
	st.emails["em-1"] = &models.Email{
		ID:         "em-1",
		Sender:     "anna@harborpoint.com",
		Subject:    "BK-069 kickoff",
		ReceivedAt: time.Now().UTC(),
	}
	st.links["link-1"] = &models.EmailProposalLink{
		ID:          "link-1",
		EmailID:     "em-1",
		ProposalID:  p.ID,
		Confidence:  0.75,
		LinkType:    models.LinkAuto,
		NeedsReview: true,
	}
	srv := newTestServer(t, st)

	rec := doJSON(t, srv, http.MethodPost, "/api/links/link-1/approve", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.LinkApproved, st.links["link-1"].LinkType)
	assert.False(t, st.links["link-1"].NeedsReview)

	rec = doJSON(t, srv, http.MethodPost, "/api/links/link-1/deny", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, st.links["link-1"])

	rec = doJSON(t, srv, http.MethodPost, "/api/links/missing/deny", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandleScorePreview(t *testing.T) {
	st := newAPIStore()
	seedProposal(st)
	st.emails["em-1"] = &models.Email{
		ID:         "em-1",
		Sender:     "anna@harborpoint.com",
		Subject:    "BK-069 Harbor Point rebrand kickoff",
		ReceivedAt: time.Now().UTC(),
	}
	srv := newTestServer(t, st)

	rec := doJSON(t, srv, http.MethodPost, "/api/score", `{"email_id":"em-1","proposal_id":"prop-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Score   float64          `json:"score"`
		Signals []scoring.Signal `json:"signals"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.GreaterOrEqual(t, resp.Score, 0.8)
	assert.NotEmpty(t, resp.Signals)
}
