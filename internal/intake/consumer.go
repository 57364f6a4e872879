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

// Package intake consumes structured email records from the Redis intake
// queue and persists them for link resolution. Ingestion proper (IMAP,
// Graph, PDF parsing) lives upstream; this is the boundary where its output
// enters the pulse store.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/bkstudio/pulse/internal/models"
)

// popTimeout bounds each BRPOP so shutdown is prompt.
const popTimeout = 5 * time.Second

// EmailWriter persists parsed emails.
type EmailWriter interface {
	CreateEmail(ctx context.Context, e *models.Email) error
}

// rawEmail mirrors the intake queue's JSON contract.
type rawEmail struct {
	ID         string `json:"id"`
	Sender     string `json:"sender"`
	Subject    string `json:"subject"`
	Snippet    string `json:"snippet"`
	Body       string `json:"body"` // accepted as an alias for snippet
	ReceivedAt string `json:"received_at"`
}

// Consumer drains the intake queue into the store.
type Consumer struct {
	rdb       *redis.Client
	queueName string
	store     EmailWriter

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewConsumer creates an intake consumer.
func NewConsumer(rdb *redis.Client, queueName string, store EmailWriter) *Consumer {
	return &Consumer{
		rdb:       rdb,
		queueName: queueName,
		store:     store,
	}
}

// Start launches the consume loop. Malformed messages are logged and
// dropped — the queue must keep draining — while store errors are logged
// and the message abandoned to avoid a poison-message loop.
func (c *Consumer) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)

	go func() {
		defer c.wg.Done()
		slog.Info("intake consumer started", "queue", c.queueName)

		for {
			if ctx.Err() != nil {
				slog.Info("intake consumer stopped")
				return
			}

			res, err := c.rdb.BRPop(ctx, popTimeout, c.queueName).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
					continue
				}
				slog.Warn("intake BRPOP failed", "error", err)
				time.Sleep(time.Second)
				continue
			}
			if len(res) < 2 {
				continue
			}

			email, err := ParseEmail([]byte(res[1]))
			if err != nil {
				slog.Warn("intake message dropped", "error", err)
				continue
			}

			if err := c.store.CreateEmail(ctx, email); err != nil {
				slog.Error("intake store write failed", "email_id", email.ID, "error", err)
				continue
			}

			slog.Info("email ingested", "email_id", email.ID, "sender", email.Sender)
		}
	}()
}

// Stop halts the consume loop and waits for it to exit.
func (c *Consumer) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

// ParseEmail converts an intake queue message into an Email. A missing ID
// is assigned; a missing timestamp defaults to now; a missing sender is a
// hard error since every scoring signal depends on it.
func ParseEmail(data []byte) (*models.Email, error) {
	var raw rawEmail
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode intake message: %w", err)
	}

	if strings.TrimSpace(raw.Sender) == "" {
		return nil, fmt.Errorf("intake message has no sender")
	}

	email := &models.Email{
		ID:      raw.ID,
		Sender:  strings.TrimSpace(raw.Sender),
		Subject: raw.Subject,
		Snippet: raw.Snippet,
	}
	if email.ID == "" {
		email.ID = uuid.New().String()
	}
	if email.Snippet == "" {
		email.Snippet = raw.Body
	}

	if raw.ReceivedAt != "" {
		ts, err := time.Parse(time.RFC3339, raw.ReceivedAt)
		if err != nil {
			return nil, fmt.Errorf("parse received_at %q: %w", raw.ReceivedAt, err)
		}
		email.ReceivedAt = ts.UTC()
	} else {
		email.ReceivedAt = time.Now().UTC()
	}

	return email, nil
}
