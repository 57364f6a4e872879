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

package normalize

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bkstudio/pulse/internal/config"
	"github.com/bkstudio/pulse/internal/models"
)

func defaultNormalizer() *Normalizer {
	cfg := config.Default()
	return New(cfg.StatusAliases, cfg.FieldAliases)
}

// TestStatus_Canonical verifies canonical values pass through untouched.
func TestStatus_Canonical(t *testing.T) {
	n := defaultNormalizer()

	for raw, want := range map[string]models.Status{
		"proposal":  models.StatusProposal,
		"active":    models.StatusActive,
		"won":       models.StatusWon,
		"lost":      models.StatusLost,
		"on_hold":   models.StatusOnHold,
		"cancelled": models.StatusCancelled,
	} {
		got, err := n.Status(raw)
		require.NoError(t, err, "status %q", raw)
		assert.Equal(t, want, got)
	}
}

// TestStatus_Aliases verifies the default alias table.
func TestStatus_Aliases(t *testing.T) {
	n := defaultNormalizer()

	for raw, want := range map[string]models.Status{
		"signed":    models.StatusWon,
		"dead":      models.StatusLost,
		"Paused":    models.StatusOnHold,
		"on hold":   models.StatusOnHold,
		"SUBMITTED": models.StatusProposal,
		"withdrawn": models.StatusCancelled,
	} {
		got, err := n.Status(raw)
		require.NoError(t, err, "status %q", raw)
		assert.Equal(t, want, got, "status %q", raw)
	}
}

// TestStatus_CaseAndWhitespace verifies matching is insensitive to case,
// surrounding whitespace, and hyphen/underscore variants.
func TestStatus_CaseAndWhitespace(t *testing.T) {
	n := defaultNormalizer()

	got, err := n.Status("  On-Hold  ")
	require.NoError(t, err)
	assert.Equal(t, models.StatusOnHold, got)
}

// TestStatus_Unknown verifies unknown values fail instead of coercing to a
// default. Masking an unknown status as active would hide true pipeline
// state.
func TestStatus_Unknown(t *testing.T) {
	n := defaultNormalizer()

	_, err := n.Status("maybe-next-year")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnrecognizedStatus))

	_, err = n.Status("")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnrecognizedStatus))
}

// TestStatus_BadAliasTarget verifies an alias pointing outside the canonical
// set is treated as unknown, not invented.
func TestStatus_BadAliasTarget(t *testing.T) {
	n := New(map[string]string{"weird": "sideways"}, nil)

	_, err := n.Status("weird")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnrecognizedStatus))
}

// TestField_Aliases verifies field name aliasing.
func TestField_Aliases(t *testing.T) {
	n := defaultNormalizer()

	for raw, want := range map[string]string{
		"project_title": "project_name",
		"project_name":  "project_name",
		"Client_Name":   "client",
		"stage":         "status",
		"status":        "status",
	} {
		got, err := n.Field(raw)
		require.NoError(t, err, "field %q", raw)
		assert.Equal(t, want, got)
	}

	_, err := n.Field("favourite_colour")
	assert.True(t, errors.Is(err, ErrUnrecognizedStatus))
}
