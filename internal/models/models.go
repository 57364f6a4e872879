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

// Package models defines the data structures shared across the pulse service.
package models

import (
	"strings"
	"time"
)

// Status is a canonical proposal status. Raw strings from imports and the
// API boundary pass through the normalize package before becoming one of
// these values.
type Status string

const (
	StatusProposal  Status = "proposal"
	StatusActive    Status = "active"
	StatusWon       Status = "won"
	StatusLost      Status = "lost"
	StatusOnHold    Status = "on_hold"
	StatusCancelled Status = "cancelled"
)

// CanonicalStatus reports whether raw is one of the canonical status values.
func CanonicalStatus(raw string) (Status, bool) {
	switch s := Status(raw); s {
	case StatusProposal, StatusActive, StatusWon, StatusLost, StatusOnHold, StatusCancelled:
		return s, true
	}
	return "", false
}

// Proposal represents a tracked engagement opportunity.
type Proposal struct {
	ID            string     `json:"id"`
	ProjectCode   string     `json:"project_code"` // unique business key, e.g. "BK-069"
	Name          string     `json:"name"`
	Client        string     `json:"client"`
	ClientDomains []string   `json:"client_domains,omitempty"`
	Status        Status     `json:"status"`
	LastContactAt *time.Time `json:"last_contact_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Email is an ingested message. Immutable once stored; the scoring engine
// only ever reads it.
type Email struct {
	ID         string    `json:"id"`
	Sender     string    `json:"sender"`
	Subject    string    `json:"subject"`
	Snippet    string    `json:"snippet"`
	ReceivedAt time.Time `json:"received_at"`
}

// SenderDomain returns the domain part of the sender address, lowercased,
// or "" if the address has no @.
func (e *Email) SenderDomain() string {
	at := strings.LastIndex(e.Sender, "@")
	if at < 0 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(e.Sender[at+1:]))
}

// LinkType records how an email-proposal link came to exist.
type LinkType string

const (
	LinkAuto     LinkType = "auto"     // created by the resolver
	LinkManual   LinkType = "manual"   // created by a human
	LinkApproved LinkType = "approved" // auto link confirmed by a human
)

// EmailProposalLink associates an email with a proposal. At most one link
// exists per (email, proposal) pair; the storage layer enforces this.
type EmailProposalLink struct {
	ID          string    `json:"id"`
	EmailID     string    `json:"email_id"`
	ProposalID  string    `json:"proposal_id"`
	Confidence  float64   `json:"confidence"` // 0.0 - 1.0
	LinkType    LinkType  `json:"link_type"`
	NeedsReview bool      `json:"needs_review"` // set when tie-band resolution linked multiple proposals
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// HealthReport is the derived health of a proposal. Never persisted — it is
// a pure function of the proposal and its linked-email activity, recomputed
// on read.
type HealthReport struct {
	ProposalID     string         `json:"proposal_id"`
	Score          int            `json:"score"` // 0 - 100
	Factors        []HealthFactor `json:"factors"`
	Recommendation string         `json:"recommendation"`
	ComputedAt     time.Time      `json:"computed_at"`
}

// HealthFactor is one contribution to a health score, signed.
type HealthFactor struct {
	Name   string  `json:"name"`
	Points float64 `json:"points"`
	Detail string  `json:"detail,omitempty"`
}

// SuggestionStatus is the review state of a validation suggestion.
type SuggestionStatus string

const (
	SuggestionPending  SuggestionStatus = "pending"
	SuggestionApproved SuggestionStatus = "approved"
	SuggestionDenied   SuggestionStatus = "denied"
	SuggestionApplied  SuggestionStatus = "applied"
)

// ValidationSuggestion proposes a correction to stored proposal data based on
// email evidence. It only ever takes effect through an explicit human
// approve-then-apply; denied suggestions are terminal.
type ValidationSuggestion struct {
	ID             string           `json:"id"`
	ProposalID     string           `json:"proposal_id"`
	Field          string           `json:"field"`
	CurrentValue   string           `json:"current_value"`
	SuggestedValue string           `json:"suggested_value"`
	Confidence     float64          `json:"confidence"`
	Evidence       string           `json:"evidence"` // snippet from the supporting email
	Status         SuggestionStatus `json:"status"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}
