// Meridian - AI Scheduling and Credit Metering Backend
// Copyright 2026 Meridian HQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridian-hq/meridian

package api

import (
	"net/http"
	"time"

	"github.com/meridian-hq/meridian/internal/middleware"
)

// CreditBalance handles GET /api/v1/credits/balance.
func (h *Handler) CreditBalance(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	userID := middleware.GetUserID(r.Context())

	if _, err := h.ledger.EnsureAccount(r.Context(), userID, ""); err != nil {
		respondDomainError(w, r, err)
		return
	}

	summary, err := h.ledger.BalanceSummary(r.Context(), userID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, summary, start)
}

// CreditUsage handles GET /api/v1/credits/usage?days=30.
func (h *Handler) CreditUsage(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	userID := middleware.GetUserID(r.Context())

	days := getIntParam(r, "days", 30)
	if days < 1 || days > 365 {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "days must be between 1 and 365", nil)
		return
	}

	if _, err := h.ledger.EnsureAccount(r.Context(), userID, ""); err != nil {
		respondDomainError(w, r, err)
		return
	}

	analytics, err := h.ledger.UsageAnalytics(r.Context(), userID, days)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, analytics, start)
}
