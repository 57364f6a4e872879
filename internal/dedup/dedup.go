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

// Package dedup provides a resume filter for batch link resolution using a
// Redis SET with TTL. Overlapping or restarted batch runs skip emails they
// have already resolved without touching Postgres; correctness does not
// depend on it — the unique constraint on links does — it only saves work.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL is how long a resolved email ID is remembered. Resolution
	// is idempotent, so expiry merely costs a redundant re-score.
	DefaultTTL = 24 * time.Hour

	// keyPrefix namespaces resume keys in Redis.
	keyPrefix = "pulse:resolved:"
)

// Filter tracks which email IDs a batch run has already resolved.
type Filter struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewFilter creates a resume filter backed by Redis.
func NewFilter(rdb *redis.Client) *Filter {
	return &Filter{
		rdb: rdb,
		ttl: DefaultTTL,
	}
}

// IsNew returns true if the email ID has NOT been resolved recently.
// If true, the ID is marked as resolved atomically (SETNX).
func (f *Filter) IsNew(ctx context.Context, emailID string) (bool, error) {
	key := fmt.Sprintf("%s%s", keyPrefix, emailID)

	set, err := f.rdb.SetNX(ctx, key, 1, f.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("resume SETNX: %w", err)
	}

	return set, nil
}

// Forget drops an email ID from the filter so the next batch re-scores it,
// used after a human rejection changes the underlying signals.
func (f *Filter) Forget(ctx context.Context, emailID string) error {
	return f.rdb.Del(ctx, keyPrefix+emailID).Err()
}
