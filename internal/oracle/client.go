// Meridian - AI Scheduling and Credit Metering Backend
// Copyright 2026 Meridian HQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridian-hq/meridian

// Package oracle talks to the external AI scheduling service. The oracle
// ranks candidate meeting times and scores events; it is advisory only and
// every caller must tolerate it being down.
package oracle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/meridian-hq/meridian/internal/logging"
	"github.com/meridian-hq/meridian/internal/metrics"
	"github.com/meridian-hq/meridian/internal/models"
)

// ErrUnavailable is returned for any transport, timeout, rate-limit or
// non-2xx failure. Callers branch on it to enter degraded mode; the
// wrapped cause is for logs only.
var ErrUnavailable = errors.New("oracle unavailable")

// SuggestInput is the context handed to the oracle for ranking. FreeSlots
// is the locally computed candidate set; the oracle reorders and scores
// it, it does not invent times outside it. Events carries the user's
// existing events in the requested range, recurring occurrences expanded,
// so the oracle can weigh calendar density around each candidate.
type SuggestInput struct {
	UserID    string                    `json:"user_id"`
	Spec      models.MeetingSpec        `json:"meeting"`
	Events    []models.CalendarEvent    `json:"existing_events"`
	FreeSlots []models.AvailabilitySlot `json:"free_slots"`
}

// AnalyzeInput is one event plus its locally detected conflicts.
type AnalyzeInput struct {
	UserID    string                  `json:"user_id"`
	Event     models.CalendarEvent    `json:"event"`
	Conflicts []models.ConflictRecord `json:"conflicts"`
}

// Client is the oracle interface the scheduler depends on.
type Client interface {
	Suggest(ctx context.Context, in *SuggestInput) ([]models.Suggestion, error)
	Analyze(ctx context.Context, in *AnalyzeInput) (*models.AIAnalysis, error)
}

// Config holds the HTTP client settings.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// RatePerSecond caps outbound calls; Burst defaults to the rate.
	RatePerSecond float64
	Burst         int
}

// HTTPClient is the plain HTTP implementation of Client.
type HTTPClient struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPClient builds an HTTPClient. Timeout defaults to 10s, rate to
// 10 req/s.
func NewHTTPClient(cfg Config) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RatePerSecond)
		if cfg.Burst < 1 {
			cfg.Burst = 1
		}
	}
	return &HTTPClient{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
	}
}

// Suggest implements Client.
func (c *HTTPClient) Suggest(ctx context.Context, in *SuggestInput) ([]models.Suggestion, error) {
	var out struct {
		Suggestions []models.Suggestion `json:"suggestions"`
	}
	if err := c.post(ctx, "suggest", "/v1/schedule/suggest", in, &out); err != nil {
		return nil, err
	}
	return out.Suggestions, nil
}

// Analyze implements Client.
func (c *HTTPClient) Analyze(ctx context.Context, in *AnalyzeInput) (*models.AIAnalysis, error) {
	var out struct {
		Analysis models.AIAnalysis `json:"analysis"`
	}
	if err := c.post(ctx, "analyze", "/v1/schedule/analyze", in, &out); err != nil {
		return nil, err
	}
	return &out.Analysis, nil
}

func (c *HTTPClient) post(ctx context.Context, operation, path string, in, out interface{}) error {
	start := time.Now()
	err := c.doPost(ctx, path, in, out)
	metrics.OracleRequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.OracleRequests.WithLabelValues(operation, "error").Inc()
		logging.Ctx(ctx).Warn().Err(err).
			Str("operation", operation).
			Msg("Oracle request failed")
		return err
	}
	metrics.OracleRequests.WithLabelValues(operation, "ok").Inc()
	return nil
}

func (c *HTTPClient) doPost(ctx context.Context, path string, in, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limiter: %v", ErrUnavailable, err)
	}

	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode oracle request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build oracle request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused.
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	return nil
}
