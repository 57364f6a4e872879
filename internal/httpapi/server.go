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

// Package httpapi exposes the linking, health, and suggestion operations
// over JSON HTTP. No auth, no sessions — the service sits behind the studio
// proxy.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bkstudio/pulse/internal/candidates"
	"github.com/bkstudio/pulse/internal/config"
	"github.com/bkstudio/pulse/internal/health"
	"github.com/bkstudio/pulse/internal/intake"
	"github.com/bkstudio/pulse/internal/linker"
	"github.com/bkstudio/pulse/internal/models"
	"github.com/bkstudio/pulse/internal/normalize"
	"github.com/bkstudio/pulse/internal/store"
	"github.com/bkstudio/pulse/internal/validation"
)

// Backend is the store surface the API needs.
type Backend interface {
	CreateEmail(ctx context.Context, e *models.Email) error
	GetEmail(ctx context.Context, id string) (*models.Email, error)
	GetProposal(ctx context.Context, id string) (*models.Proposal, error)
	GetProposalByCode(ctx context.Context, code string) (*models.Proposal, error)
	ListProposals(ctx context.Context) ([]*models.Proposal, error)
	ListLinkedEmails(ctx context.Context, proposalID string, limit int) ([]*models.Email, error)
	CountRecentLinkedEmails(ctx context.Context, proposalID string, since time.Time) (int, error)
	ListSuggestions(ctx context.Context, proposalID string, status models.SuggestionStatus) ([]*models.ValidationSuggestion, error)
}

// Server wires the engine components behind a chi router.
type Server struct {
	store      Backend
	resolver   *linker.Resolver
	runner     *linker.Runner
	prefilter  *candidates.Prefilter
	calculator *health.Calculator
	engine     *validation.Engine
	normalizer *normalize.Normalizer
	activity   time.Duration
	ready      func(ctx context.Context) error
}

// ServerConfig holds the Server's dependencies.
type ServerConfig struct {
	Store      Backend
	Resolver   *linker.Resolver
	Runner     *linker.Runner
	Prefilter  *candidates.Prefilter
	Calculator *health.Calculator
	Engine     *validation.Engine
	Normalizer *normalize.Normalizer
	Health     config.Health

	// Ready checks backing connections for the health endpoint. Optional.
	Ready func(ctx context.Context) error
}

// New creates a Server.
func New(cfg ServerConfig) *Server {
	return &Server{
		store:      cfg.Store,
		resolver:   cfg.Resolver,
		runner:     cfg.Runner,
		prefilter:  cfg.Prefilter,
		calculator: cfg.Calculator,
		engine:     cfg.Engine,
		normalizer: cfg.Normalizer,
		activity:   time.Duration(cfg.Health.ActivityDays) * 24 * time.Hour,
		ready:      cfg.Ready,
	}
}

// Routes returns the chi router for the API.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealthz)

	r.Route("/api", func(r chi.Router) {
		r.Post("/emails", s.handleIntakeEmail)
		r.Post("/normalize", s.handleNormalize)
		r.Post("/score", s.handleScore)
		r.Post("/resolve", s.handleResolve)
		r.Post("/resolve/batch", s.handleResolveBatch)

		r.Post("/links/{id}/approve", s.handleLinkApprove)
		r.Post("/links/{id}/deny", s.handleLinkDeny)
		r.Post("/links/{id}/reassign", s.handleLinkReassign)

		r.Get("/proposals", s.handleListProposals)
		r.Get("/proposals/{id}/health", s.handleProposalHealth)
		r.Get("/proposals/{id}/suggestions", s.handleListSuggestions)
		r.Post("/proposals/{id}/suggestions", s.handleGenerateSuggestions)

		r.Post("/suggestions/{id}/approve", s.handleSuggestionApprove)
		r.Post("/suggestions/{id}/deny", s.handleSuggestionDeny)
		r.Post("/suggestions/{id}/apply", s.handleSuggestionApply)
	})

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// handleIntakeEmail accepts a pushed email, stores it, and resolves links
// immediately. Emails too sparse to score are stored and left for manual
// review rather than rejected.
func (s *Server) handleIntakeEmail(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	email, err := intake.ParseEmail(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.store.CreateEmail(r.Context(), email); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	cands, err := s.prefilter.For(r.Context(), email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	links, err := s.resolver.Resolve(r.Context(), email, cands)
	if errors.Is(err, linker.ErrInsufficientData) {
		writeJSON(w, http.StatusAccepted, map[string]interface{}{"email_id": email.ID, "links": []int{}})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if links == nil {
		links = []*models.EmailProposalLink{}
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"email_id": email.ID, "links": links})
}

// handleNormalize maps a raw status string to its canonical form. Useful
// for dashboard imports that carry free-form spreadsheet values.
func (s *Server) handleNormalize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	canonical, err := s.normalizer.Status(req.Status)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(canonical)})
}

// handleScore previews the confidence for an (email, proposal) pair without
// writing anything.
func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EmailID    string `json:"email_id"`
		ProposalID string `json:"proposal_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	email, err := s.store.GetEmail(r.Context(), req.EmailID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	proposal, perr := s.store.GetProposal(r.Context(), req.ProposalID)
	if perr != nil {
		writeError(w, http.StatusInternalServerError, perr)
		return
	}
	if email == nil || proposal == nil {
		writeError(w, http.StatusNotFound, errors.New("email or proposal not found"))
		return
	}

	score, signals := s.resolver.Preview(r.Context(), email, proposal)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"score":   score,
		"signals": signals,
	})
}

// handleResolve runs link resolution for a single email.
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EmailID string `json:"email_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	email, err := s.store.GetEmail(r.Context(), req.EmailID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if email == nil {
		writeError(w, http.StatusNotFound, errors.New("email not found"))
		return
	}

	cands, err := s.prefilter.For(r.Context(), email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	links, err := s.resolver.Resolve(r.Context(), email, cands)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"links": links})
}

func (s *Server) handleResolveBatch(w http.ResponseWriter, r *http.Request) {
	result, err := s.runner.Run(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	failures := make([]map[string]string, 0, len(result.Failures))
	for _, f := range result.Failures {
		failures = append(failures, map[string]string{"email_id": f.EmailID, "error": f.Err.Error()})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"processed": result.Processed,
		"linked":    result.Linked,
		"skipped":   result.Skipped,
		"failures":  failures,
	})
}

func (s *Server) handleLinkApprove(w http.ResponseWriter, r *http.Request) {
	if err := s.resolver.Approve(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "approved"})
}

func (s *Server) handleLinkDeny(w http.ResponseWriter, r *http.Request) {
	if err := s.resolver.Reject(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "denied"})
}

func (s *Server) handleLinkReassign(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProposalID string `json:"proposal_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ProposalID == "" {
		writeError(w, http.StatusBadRequest, errors.New("proposal_id is required"))
		return
	}

	if err := s.resolver.Reassign(r.Context(), chi.URLParam(r, "id"), req.ProposalID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reassigned"})
}

func (s *Server) handleListProposals(w http.ResponseWriter, r *http.Request) {
	proposals, err := s.store.ListProposals(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"proposals": proposals})
}

// handleProposalHealth computes the proposal's health report on demand.
// The {id} segment accepts either the proposal ID or its project code.
func (s *Server) handleProposalHealth(w http.ResponseWriter, r *http.Request) {
	p, err := s.loadProposal(r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, errors.New("proposal not found"))
		return
	}

	recent, err := s.store.CountRecentLinkedEmails(r.Context(), p.ID, time.Now().UTC().Add(-s.activity))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	report := s.calculator.Compute(p, health.Activity{RecentEmails: recent})
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleListSuggestions(w http.ResponseWriter, r *http.Request) {
	p, err := s.loadProposal(r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, errors.New("proposal not found"))
		return
	}

	status := models.SuggestionStatus(r.URL.Query().Get("status"))
	suggestions, err := s.store.ListSuggestions(r.Context(), p.ID, status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"suggestions": suggestions})
}

// handleGenerateSuggestions sweeps the proposal's linked emails for status
// evidence and records divergences as pending suggestions.
func (s *Server) handleGenerateSuggestions(w http.ResponseWriter, r *http.Request) {
	p, err := s.loadProposal(r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, errors.New("proposal not found"))
		return
	}

	evidence, err := s.store.ListLinkedEmails(r.Context(), p.ID, 50)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	out, err := s.engine.Generate(r.Context(), p, evidence)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"suggestions": out})
}

func (s *Server) handleSuggestionApprove(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Approve(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "approved"})
}

func (s *Server) handleSuggestionDeny(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Deny(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "denied"})
}

func (s *Server) handleSuggestionApply(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Apply(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "applied"})
}

// loadProposal resolves the {id} URL segment as a proposal ID first, then
// as a project code.
func (s *Server) loadProposal(r *http.Request) (*models.Proposal, error) {
	id := chi.URLParam(r, "id")
	p, err := s.store.GetProposal(r.Context(), id)
	if err != nil || p != nil {
		return p, err
	}
	return s.store.GetProposalByCode(r.Context(), id)
}

// writeDomainError maps the error taxonomy onto HTTP statuses. Unmapped
// errors are internal.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, linker.ErrInsufficientData):
		writeError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, validation.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, store.ErrDuplicateLink):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, normalize.ErrUnrecognizedStatus):
		writeError(w, http.StatusBadRequest, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
