// Meridian - AI Scheduling and Credit Metering Backend
// Copyright 2026 Meridian HQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridian-hq/meridian

package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/meridian-hq/meridian/internal/logging"
	"github.com/meridian-hq/meridian/internal/metrics"
	"github.com/meridian-hq/meridian/internal/models"
)

// BreakerConfig tunes the circuit breaker around the oracle.
type BreakerConfig struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

// DefaultBreakerConfig trips after 5 consecutive failures and probes again
// after 30 seconds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:             "oracle",
		MaxRequests:      1,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
	}
}

// ResilientClient wraps a Client with a circuit breaker. While the breaker
// is open every call fails fast with ErrUnavailable, so a dead oracle
// costs callers nothing but the fallback path.
type ResilientClient struct {
	inner Client
	cb    *gobreaker.CircuitBreaker[interface{}]
}

// NewResilientClient wraps inner with breaker cfg.
func NewResilientClient(inner Client, cfg BreakerConfig) *ResilientClient {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger := logging.Logger()
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Oracle circuit breaker state change")
		},
	}
	return &ResilientClient{
		inner: inner,
		cb:    gobreaker.NewCircuitBreaker[interface{}](settings),
	}
}

// State returns the breaker state for health reporting.
func (r *ResilientClient) State() string {
	return r.cb.State().String()
}

// Suggest implements Client.
func (r *ResilientClient) Suggest(ctx context.Context, in *SuggestInput) ([]models.Suggestion, error) {
	result, err := r.execute("suggest", func() (interface{}, error) {
		return r.inner.Suggest(ctx, in)
	})
	if err != nil {
		return nil, err
	}
	return result.([]models.Suggestion), nil
}

// Analyze implements Client.
func (r *ResilientClient) Analyze(ctx context.Context, in *AnalyzeInput) (*models.AIAnalysis, error) {
	result, err := r.execute("analyze", func() (interface{}, error) {
		return r.inner.Analyze(ctx, in)
	})
	if err != nil {
		return nil, err
	}
	return result.(*models.AIAnalysis), nil
}

func (r *ResilientClient) execute(operation string, fn func() (interface{}, error)) (interface{}, error) {
	result, err := r.cb.Execute(fn)
	if err == nil {
		return result, nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		metrics.OracleRequests.WithLabelValues(operation, "open").Inc()
		return nil, fmt.Errorf("%w: circuit open", ErrUnavailable)
	}
	return nil, err
}
