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

// Package normalize maps raw status strings and field names, as they arrive
// from imports and the API boundary, onto the canonical vocabulary. The alias
// tables are configuration data; this package only holds the matching rules.
package normalize

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bkstudio/pulse/internal/models"
)

// ErrUnrecognizedStatus is returned when a raw status matches neither a
// canonical value nor an alias. Callers must handle it — typically by leaving
// the stored status unchanged and flagging the record for review. Unknown
// values are never coerced to a default.
var ErrUnrecognizedStatus = errors.New("unrecognized status")

// canonical is the closed set of statuses the rest of the system works with.
var canonical = map[string]models.Status{
	"proposal":  models.StatusProposal,
	"active":    models.StatusActive,
	"won":       models.StatusWon,
	"lost":      models.StatusLost,
	"on_hold":   models.StatusOnHold,
	"cancelled": models.StatusCancelled,
}

// canonicalFields is the set of field keys the suggestion engine and stores
// accept.
var canonicalFields = map[string]bool{
	"project_name": true,
	"project_code": true,
	"client":       true,
	"status":       true,
}

// Normalizer resolves raw statuses and field names against alias tables.
type Normalizer struct {
	statusAliases map[string]string
	fieldAliases  map[string]string
}

// New creates a Normalizer from alias tables. Keys are matched after
// lowercasing and whitespace trimming.
func New(statusAliases, fieldAliases map[string]string) *Normalizer {
	n := &Normalizer{
		statusAliases: make(map[string]string, len(statusAliases)),
		fieldAliases:  make(map[string]string, len(fieldAliases)),
	}
	for k, v := range statusAliases {
		n.statusAliases[clean(k)] = clean(v)
	}
	for k, v := range fieldAliases {
		n.fieldAliases[clean(k)] = clean(v)
	}
	return n
}

// Status maps a raw status string to its canonical value. Matching is
// case-insensitive and tolerant of surrounding whitespace and "-"/"_"
// variants for on_hold. Unknown values return ErrUnrecognizedStatus.
func (n *Normalizer) Status(raw string) (models.Status, error) {
	key := clean(raw)
	if key == "" {
		return "", fmt.Errorf("%w: empty status", ErrUnrecognizedStatus)
	}

	if s, ok := canonical[key]; ok {
		return s, nil
	}
	if alias, ok := n.statusAliases[key]; ok {
		if s, ok := canonical[alias]; ok {
			return s, nil
		}
		// Alias table points at a non-canonical value; treat as unknown
		// rather than inventing a status.
		return "", fmt.Errorf("%w: alias %q maps to unknown status %q", ErrUnrecognizedStatus, raw, alias)
	}

	return "", fmt.Errorf("%w: %q", ErrUnrecognizedStatus, raw)
}

// Field maps a raw field name to its canonical key. Unknown fields return
// ErrUnrecognizedStatus wrapped with the field name.
func (n *Normalizer) Field(raw string) (string, error) {
	key := clean(raw)
	if canonicalFields[key] {
		return key, nil
	}
	if alias, ok := n.fieldAliases[key]; ok && canonicalFields[alias] {
		return alias, nil
	}
	return "", fmt.Errorf("%w: field %q", ErrUnrecognizedStatus, raw)
}

// clean lowercases, trims, and folds hyphens to underscores so "On-Hold",
// "on hold" aliases, and "on_hold" all resolve consistently.
func clean(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.ReplaceAll(s, "-", "_")
}
