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

// Package scoring computes the confidence that an email belongs to a
// proposal. Scoring is a pure function of the email, the proposal, and a
// SignalContext the caller assembles from stored linkage history — no clock
// reads, no randomness, so the same inputs always produce the same score.
package scoring

import (
	"regexp"
	"strings"

	"github.com/bkstudio/pulse/internal/config"
	"github.com/bkstudio/pulse/internal/models"
)

// SignalContext carries the historical signals the scorer cannot derive from
// the email and proposal alone. The caller (normally the link resolver)
// populates it from the store.
type SignalContext struct {
	// KnownClientDomain is true when the sender's domain has previously been
	// associated with the proposal's client.
	KnownClientDomain bool

	// PriorApprovedLink is true when a human has approved a link from this
	// sender to this proposal before.
	PriorApprovedLink bool
}

// Signal is one scored matching signal, kept for provenance.
type Signal struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
	Detail string  `json:"detail,omitempty"`
}

// Scorer scores (email, proposal) pairs using configured weights.
type Scorer struct {
	weights config.Weights
}

// New creates a Scorer with the given weights.
func New(weights config.Weights) *Scorer {
	return &Scorer{weights: weights}
}

// tokenRe splits free text into word tokens. Project codes like "BK-069"
// survive as single tokens.
var tokenRe = regexp.MustCompile(`[A-Za-z0-9][A-Za-z0-9-]*`)

// stopwords are excluded from subject/name overlap so "the", "re", "fwd"
// never count as matches.
var stopwords = map[string]bool{
	"re": true, "fwd": true, "fw": true, "the": true, "a": true, "an": true,
	"and": true, "of": true, "for": true, "to": true, "on": true, "in": true,
	"new": true, "project": true, "proposal": true,
}

// Score computes the confidence in [0, 1] that email belongs to proposal,
// along with the signal breakdown that produced it.
//
// Near-empty content (fewer than the configured minimum tokens across subject
// and body) caps the result at the sparse ceiling regardless of weak matches,
// so boilerplate one-liners cannot produce false positives.
func (s *Scorer) Score(email *models.Email, proposal *models.Proposal, sctx SignalContext) (float64, []Signal) {
	content := strings.ToLower(email.Subject + " " + email.Snippet)
	tokens := tokenize(content)

	var score float64
	var signals []Signal

	if code := strings.ToLower(proposal.ProjectCode); code != "" && containsToken(tokens, code) {
		score += s.weights.ProjectCode
		signals = append(signals, Signal{
			Name:   "project_code",
			Weight: s.weights.ProjectCode,
			Detail: proposal.ProjectCode,
		})
	}

	if sctx.KnownClientDomain {
		score += s.weights.ClientDomain
		signals = append(signals, Signal{
			Name:   "client_domain",
			Weight: s.weights.ClientDomain,
			Detail: email.SenderDomain(),
		})
	}

	if w, matched := s.subjectOverlap(email.Subject, proposal.Name); w > 0 {
		score += w
		signals = append(signals, Signal{
			Name:   "subject_overlap",
			Weight: w,
			Detail: strings.Join(matched, " "),
		})
	}

	if sctx.PriorApprovedLink {
		score += s.weights.PriorApproved
		signals = append(signals, Signal{
			Name:   "prior_approved",
			Weight: s.weights.PriorApproved,
		})
	}

	// Sparse content ceiling
	if len(tokens) < s.weights.MinTokens && score > s.weights.SparseCeiling {
		score = s.weights.SparseCeiling
		signals = append(signals, Signal{
			Name:   "sparse_content",
			Weight: 0,
			Detail: "score capped: near-empty subject and body",
		})
	}

	if score > 1.0 {
		score = 1.0
	}
	if score < 0 {
		score = 0
	}

	return score, signals
}

// subjectOverlap scores keyword overlap between the email subject and the
// proposal name. The weight scales with the fraction of name tokens matched,
// so a two-word hit against a long proposal name counts for less than the
// same hit against a short one.
func (s *Scorer) subjectOverlap(subject, name string) (float64, []string) {
	nameTokens := tokenize(strings.ToLower(name))
	if len(nameTokens) == 0 {
		return 0, nil
	}

	subjTokens := make(map[string]bool)
	for _, tok := range tokenize(strings.ToLower(subject)) {
		subjTokens[tok] = true
	}

	var matched []string
	for _, tok := range nameTokens {
		if subjTokens[tok] {
			matched = append(matched, tok)
		}
	}
	if len(matched) == 0 {
		return 0, nil
	}

	ratio := float64(len(matched)) / float64(len(nameTokens))
	return s.weights.SubjectOverlap * ratio, matched
}

// tokenize extracts lowercase word tokens, dropping stopwords.
func tokenize(text string) []string {
	raw := tokenRe.FindAllString(text, -1)
	tokens := make([]string, 0, len(raw))
	for _, tok := range raw {
		tok = strings.ToLower(tok)
		if stopwords[tok] {
			continue
		}
		tokens = append(tokens, tok)
	}
	return tokens
}

func containsToken(tokens []string, want string) bool {
	for _, tok := range tokens {
		if tok == want {
			return true
		}
	}
	return false
}
