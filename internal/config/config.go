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

// Package config loads configuration from config.yaml and environment
// variables. All tuning data — status aliases, scoring weights, link
// thresholds, health baselines, evidence rules — lives here rather than in
// code so it can be adjusted and audited without a rebuild.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bkstudio/pulse/internal/models"
)

// Weights holds the confidence scorer's signal weights.
type Weights struct {
	ProjectCode    float64 `yaml:"project_code"`
	ClientDomain   float64 `yaml:"client_domain"`
	SubjectOverlap float64 `yaml:"subject_overlap"`
	PriorApproved  float64 `yaml:"prior_approved"`
	SparseCeiling  float64 `yaml:"sparse_ceiling"`
	MinTokens      int     `yaml:"min_tokens"`
}

// Linker holds link-resolution thresholds.
type Linker struct {
	Threshold float64 `yaml:"threshold"`
	TieBand   float64 `yaml:"tie_band"`
}

// Health holds health-score tuning: per-status baselines and the contact
// staleness knee points.
type Health struct {
	Baselines     map[string]int `yaml:"baselines"`
	GraceDays     int            `yaml:"grace_days"`
	SteepDays     int            `yaml:"steep_days"`
	ActivityBonus float64        `yaml:"activity_bonus"`
	ActivityDays  int            `yaml:"activity_days"`
}

// EvidenceRule maps a phrase found in email content to an implied status.
type EvidenceRule struct {
	Phrase     string  `yaml:"phrase"`
	Status     string  `yaml:"status"`
	Confidence float64 `yaml:"confidence"`
}

// Validation holds the suggestion engine's rules and floor.
type Validation struct {
	ConfidenceFloor float64        `yaml:"confidence_floor"`
	Rules           []EvidenceRule `yaml:"rules"`
}

// Config holds all configuration for the pulse service.
type Config struct {
	DatabaseURL string
	RedisURL    string
	IntakeQueue string
	EventsQueue string
	Port        int

	SweepInterval time.Duration
	BatchSize     int

	StatusAliases map[string]string
	FieldAliases  map[string]string
	Weights       Weights
	Linker        Linker
	Health        Health
	Validation    Validation
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL    string `yaml:"url"`
		Queues struct {
			Intake string `yaml:"intake"`
			Events string `yaml:"events"`
		} `yaml:"queues"`
	} `yaml:"redis"`
	Normalize struct {
		StatusAliases map[string]string `yaml:"status_aliases"`
		FieldAliases  map[string]string `yaml:"field_aliases"`
	} `yaml:"normalize"`
	Scoring struct {
		Weights Weights `yaml:"weights"`
	} `yaml:"scoring"`
	Linker     Linker     `yaml:"linker"`
	Health     Health     `yaml:"health"`
	Validation Validation `yaml:"validation"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for non-YAML settings. A missing config file is not
// an error — defaults cover every tunable — but a malformed one is.
func Load() (*Config, error) {
	cfg := Default()

	configPath := envOrDefault("CONFIG_PATH", "config.yaml")
	data, err := os.ReadFile(configPath)
	if err == nil {
		// Expand ${VAR} references in the YAML
		expanded := os.ExpandEnv(string(data))

		var raw rawConfig
		if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
			return nil, fmt.Errorf("parse config YAML %s: %w", configPath, err)
		}
		cfg.merge(&raw)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	cfg.DatabaseURL = firstNonEmpty(os.Getenv("DATABASE_URL"), cfg.DatabaseURL)
	cfg.RedisURL = firstNonEmpty(os.Getenv("REDIS_URL"), cfg.RedisURL)
	cfg.IntakeQueue = firstNonEmpty(os.Getenv("INTAKE_QUEUE"), cfg.IntakeQueue)
	cfg.EventsQueue = firstNonEmpty(os.Getenv("EVENTS_QUEUE"), cfg.EventsQueue)
	cfg.Port = envOrDefaultInt("PORT", cfg.Port)
	cfg.SweepInterval = envOrDefaultDuration("SWEEP_INTERVAL", cfg.SweepInterval)
	cfg.BatchSize = envOrDefaultInt("BATCH_SIZE", cfg.BatchSize)

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("no database URL configured — set DATABASE_URL or database.url in %s", configPath)
	}

	// Evidence rule statuses are written back to proposals verbatim on
	// apply, so a typo here must fail loudly now rather than land in the
	// database later.
	for _, rule := range cfg.Validation.Rules {
		if _, ok := models.CanonicalStatus(rule.Status); !ok {
			return nil, fmt.Errorf("validation rule %q: unknown status %q in %s", rule.Phrase, rule.Status, configPath)
		}
	}

	return cfg, nil
}

// Default returns the built-in configuration. The alias table and evidence
// rules here are the calibrated starting set; config.yaml entries extend or
// override them.
func Default() *Config {
	return &Config{
		RedisURL:      "redis://localhost:6379/0",
		IntakeQueue:   "pulse:intake",
		EventsQueue:   "pulse:events",
		Port:          8080,
		SweepInterval: 5 * time.Minute,
		BatchSize:     50,
		StatusAliases: map[string]string{
			"signed":      "won",
			"awarded":     "won",
			"dead":        "lost",
			"declined":    "lost",
			"in progress": "active",
			"ongoing":     "active",
			"on hold":     "on_hold",
			"paused":      "on_hold",
			"pending":     "proposal",
			"submitted":   "proposal",
			"killed":      "cancelled",
			"withdrawn":   "cancelled",
		},
		FieldAliases: map[string]string{
			"project_title": "project_name",
			"title":         "project_name",
			"client_name":   "client",
			"company":       "client",
			"state":         "status",
			"stage":         "status",
		},
		Weights: Weights{
			ProjectCode:    0.55,
			ClientDomain:   0.25,
			SubjectOverlap: 0.15,
			PriorApproved:  0.30,
			SparseCeiling:  0.20,
			MinTokens:      3,
		},
		Linker: Linker{
			Threshold: 0.70,
			TieBand:   0.05,
		},
		Health: Health{
			Baselines: map[string]int{
				"proposal":  65,
				"active":    75,
				"won":       90,
				"lost":      15,
				"on_hold":   45,
				"cancelled": 10,
			},
			GraceDays:     14,
			SteepDays:     30,
			ActivityBonus: 10,
			ActivityDays:  7,
		},
		Validation: Validation{
			ConfidenceFloor: 0.80,
			Rules: []EvidenceRule{
				{Phrase: "signed contract", Status: "won", Confidence: 0.90},
				{Phrase: "countersigned", Status: "won", Confidence: 0.85},
				{Phrase: "purchase order attached", Status: "won", Confidence: 0.85},
				{Phrase: "not proceeding", Status: "lost", Confidence: 0.90},
				{Phrase: "gone with another", Status: "lost", Confidence: 0.85},
				{Phrase: "decided not to move forward", Status: "lost", Confidence: 0.85},
				{Phrase: "on hold", Status: "on_hold", Confidence: 0.80},
				{Phrase: "pause the project", Status: "on_hold", Confidence: 0.85},
				{Phrase: "revisit next quarter", Status: "on_hold", Confidence: 0.80},
			},
		},
	}
}

// merge overlays non-zero YAML values onto the defaults. Alias maps and
// evidence rules extend the defaults rather than replacing them wholesale.
func (c *Config) merge(raw *rawConfig) {
	c.DatabaseURL = firstNonEmpty(raw.Database.URL, c.DatabaseURL)
	c.RedisURL = firstNonEmpty(raw.Redis.URL, c.RedisURL)
	c.IntakeQueue = firstNonEmpty(raw.Redis.Queues.Intake, c.IntakeQueue)
	c.EventsQueue = firstNonEmpty(raw.Redis.Queues.Events, c.EventsQueue)

	for k, v := range raw.Normalize.StatusAliases {
		c.StatusAliases[strings.ToLower(k)] = v
	}
	for k, v := range raw.Normalize.FieldAliases {
		c.FieldAliases[strings.ToLower(k)] = v
	}

	w := raw.Scoring.Weights
	if w.ProjectCode > 0 {
		c.Weights.ProjectCode = w.ProjectCode
	}
	if w.ClientDomain > 0 {
		c.Weights.ClientDomain = w.ClientDomain
	}
	if w.SubjectOverlap > 0 {
		c.Weights.SubjectOverlap = w.SubjectOverlap
	}
	if w.PriorApproved > 0 {
		c.Weights.PriorApproved = w.PriorApproved
	}
	if w.SparseCeiling > 0 {
		c.Weights.SparseCeiling = w.SparseCeiling
	}
	if w.MinTokens > 0 {
		c.Weights.MinTokens = w.MinTokens
	}

	if raw.Linker.Threshold > 0 {
		c.Linker.Threshold = raw.Linker.Threshold
	}
	if raw.Linker.TieBand > 0 {
		c.Linker.TieBand = raw.Linker.TieBand
	}

	for k, v := range raw.Health.Baselines {
		c.Health.Baselines[strings.ToLower(k)] = v
	}
	if raw.Health.GraceDays > 0 {
		c.Health.GraceDays = raw.Health.GraceDays
	}
	if raw.Health.SteepDays > 0 {
		c.Health.SteepDays = raw.Health.SteepDays
	}
	if raw.Health.ActivityBonus > 0 {
		c.Health.ActivityBonus = raw.Health.ActivityBonus
	}
	if raw.Health.ActivityDays > 0 {
		c.Health.ActivityDays = raw.Health.ActivityDays
	}

	if raw.Validation.ConfidenceFloor > 0 {
		c.Validation.ConfidenceFloor = raw.Validation.ConfidenceFloor
	}
	c.Validation.Rules = append(c.Validation.Rules, raw.Validation.Rules...)
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
