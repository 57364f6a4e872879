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

// Package health derives a 0-100 health score per proposal from status,
// contact staleness, and recent linked-email activity. Scores are computed
// on read and never persisted — they are a pure function of current state.
package health

import (
	"fmt"
	"time"

	"github.com/bkstudio/pulse/internal/config"
	"github.com/bkstudio/pulse/internal/models"
)

// Activity summarises a proposal's recent linked-email activity, assembled
// by the caller from the link store.
type Activity struct {
	// RecentEmails is the count of linked emails received within the
	// configured activity window.
	RecentEmails int
}

// Calculator computes health reports using configured baselines and knees.
type Calculator struct {
	cfg config.Health
	now func() time.Time
}

// New creates a Calculator. The clock is injectable for tests; production
// callers pass nil to use time.Now.
func New(cfg config.Health, now func() time.Time) *Calculator {
	if now == nil {
		now = time.Now
	}
	return &Calculator{cfg: cfg, now: now}
}

// Compute derives the health report for a proposal.
//
// The score starts from a per-status baseline, subtracts a staleness penalty
// that stays gentle inside the grace window and steepens past the steep knee,
// and adds a recent-activity bonus with diminishing returns. The result is
// always clamped to [0, 100].
func (c *Calculator) Compute(p *models.Proposal, act Activity) models.HealthReport {
	now := c.now().UTC()

	baseline, ok := c.cfg.Baselines[string(p.Status)]
	if !ok {
		// Unknown status rows should have been caught at the normalize
		// boundary; score them conservatively rather than refusing.
		baseline = 40
	}

	report := models.HealthReport{
		ProposalID: p.ID,
		ComputedAt: now,
		Factors: []models.HealthFactor{
			{Name: "status_baseline", Points: float64(baseline), Detail: string(p.Status)},
		},
	}

	score := float64(baseline)

	staleDays := c.daysSinceContact(p, now)
	penalty := c.stalenessPenalty(staleDays)
	if penalty > 0 {
		score -= penalty
		report.Factors = append(report.Factors, models.HealthFactor{
			Name:   "contact_staleness",
			Points: -penalty,
			Detail: fmt.Sprintf("no contact in %d days", staleDays),
		})
	}

	bonus := c.activityBonus(act.RecentEmails)
	if bonus > 0 {
		score += bonus
		report.Factors = append(report.Factors, models.HealthFactor{
			Name:   "recent_activity",
			Points: bonus,
			Detail: fmt.Sprintf("%d linked emails in the last %d days", act.RecentEmails, c.cfg.ActivityDays),
		})
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	report.Score = int(score)
	report.Recommendation = c.recommend(report.Score, staleDays, penalty)

	return report
}

// daysSinceContact counts whole days since the last contact. A proposal with
// no contact on record is treated as untouched since creation.
func (c *Calculator) daysSinceContact(p *models.Proposal, now time.Time) int {
	last := p.CreatedAt
	if p.LastContactAt != nil {
		last = *p.LastContactAt
	}
	d := int(now.Sub(last).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}

// stalenessPenalty is piecewise linear with two knees: half a point per day
// inside the grace window, two points per day up to the steep knee, and four
// points per day beyond it. Monotonically non-decreasing in days.
func (c *Calculator) stalenessPenalty(days int) float64 {
	grace := float64(c.cfg.GraceDays)
	steep := float64(c.cfg.SteepDays)
	d := float64(days)

	switch {
	case d <= grace:
		return d * 0.5
	case d <= steep:
		return grace*0.5 + (d-grace)*2.0
	default:
		return grace*0.5 + (steep-grace)*2.0 + (d-steep)*4.0
	}
}

// activityBonus grows with recent email count but flattens quickly: the
// first email moves the score far more than the tenth.
func (c *Calculator) activityBonus(recent int) float64 {
	if recent <= 0 {
		return 0
	}
	n := float64(recent)
	return c.cfg.ActivityBonus * n / (n + 2)
}

// recommend produces the short action text for a score band, naming the
// dominant factor when staleness is what dragged the score down.
func (c *Calculator) recommend(score, staleDays int, penalty float64) string {
	stale := ""
	if penalty > 0 && staleDays > c.cfg.GraceDays {
		stale = fmt.Sprintf(" — no contact in %d days", staleDays)
	}

	switch {
	case score < 40:
		return "Escalate: proposal is at risk" + stale + "."
	case score <= 70:
		return "Follow up with the client" + stale + "."
	default:
		return "On track; keep the current cadence."
	}
}
