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

// Package candidates narrows the proposal set the resolver scores for an
// email: proposals whose project code appears in the email, plus proposals
// whose client domains include the sender's domain. The scorer decides from
// there; this prefilter only keeps batch runs from scoring every proposal
// against every email.
package candidates

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/bkstudio/pulse/internal/models"
)

// codeRe matches project codes of the studio's form: two to four letters, a
// dash, and two to four digits (e.g. "BK-069").
var codeRe = regexp.MustCompile(`\b[A-Za-z]{2,4}-[0-9]{2,4}\b`)

// Lister is the store query the prefilter needs.
type Lister interface {
	ListCandidates(ctx context.Context, codes []string, senderDomain string) ([]*models.Proposal, error)
}

// Prefilter finds candidate proposals for an email.
type Prefilter struct {
	store Lister
}

// New creates a Prefilter over the given store.
func New(store Lister) *Prefilter {
	return &Prefilter{store: store}
}

// For returns the candidate proposals for an email, deduplicated, in the
// store's order.
func (p *Prefilter) For(ctx context.Context, email *models.Email) ([]*models.Proposal, error) {
	codes := ExtractCodes(email.Subject + " " + email.Snippet)

	out, err := p.store.ListCandidates(ctx, codes, email.SenderDomain())
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	return out, nil
}

// ExtractCodes returns the distinct project-code tokens found in text,
// uppercased to match stored codes.
func ExtractCodes(text string) []string {
	seen := make(map[string]bool)
	var codes []string
	for _, m := range codeRe.FindAllString(text, -1) {
		code := strings.ToUpper(m)
		if !seen[code] {
			seen[code] = true
			codes = append(codes, code)
		}
	}
	return codes
}
