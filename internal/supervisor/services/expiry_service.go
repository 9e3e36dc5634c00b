// Meridian - AI Scheduling and Credit Metering Backend
// Copyright 2026 Meridian HQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridian-hq/meridian

package services

import (
	"context"
	"time"

	"github.com/meridian-hq/meridian/internal/credit"
	"github.com/meridian-hq/meridian/internal/logging"
)

// CreditExpiryService runs the credit expiry batch on an interval. One
// run per tick; failed runs are logged and retried next tick rather than
// crashing the service.
type CreditExpiryService struct {
	ledger   *credit.Ledger
	interval time.Duration
}

// NewCreditExpiryService builds the job. interval defaults to 24h.
func NewCreditExpiryService(ledger *credit.Ledger, interval time.Duration) *CreditExpiryService {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &CreditExpiryService{ledger: ledger, interval: interval}
}

// Serve implements suture.Service.
func (s *CreditExpiryService) Serve(ctx context.Context) error {
	logging.Info().Dur("interval", s.interval).Msg("Credit expiry job started")

	s.run(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.run(ctx)
		}
	}
}

func (s *CreditExpiryService) run(ctx context.Context) {
	expired, err := s.ledger.ExpireStaleCredits(ctx, time.Now().UTC())
	if err != nil {
		if ctx.Err() == nil {
			logging.Error().Err(err).Msg("Credit expiry run failed")
		}
		return
	}
	if expired > 0 {
		logging.Info().Int("users", expired).Msg("Credit expiry run complete")
	}
}

// String implements fmt.Stringer for supervisor logs.
func (s *CreditExpiryService) String() string { return "credit-expiry" }
