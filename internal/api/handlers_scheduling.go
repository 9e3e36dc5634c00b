// Meridian - AI Scheduling and Credit Metering Backend
// Copyright 2026 Meridian HQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridian-hq/meridian

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-hq/meridian/internal/availability"
	"github.com/meridian-hq/meridian/internal/middleware"
	"github.com/meridian-hq/meridian/internal/models"
)

// Availability handles POST /api/v1/availability: free/busy slots per
// day for the requested window. No credit charge.
func (h *Handler) Availability(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	userID := middleware.GetUserID(r.Context())

	var req models.AvailabilityRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	opts := availability.Options{
		SlotDuration: time.Duration(req.DurationMinutes) * time.Minute,
		Buffer:       time.Duration(req.BufferMinutes) * time.Minute,
	}
	days, err := h.engine.ComputeAvailability(r.Context(), userID, req.Start, req.End, opts)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, map[string]interface{}{
		"days": days,
	}, start)
}

// SuggestTimes handles POST /api/v1/schedule/suggest. Costs one
// smart_scheduling action; the charge stands even when the oracle is down
// and the fallback answers.
func (h *Handler) SuggestTimes(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	userID := middleware.GetUserID(r.Context())

	var req models.SuggestRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if _, err := h.ledger.EnsureAccount(r.Context(), userID, ""); err != nil {
		respondDomainError(w, r, err)
		return
	}

	spec := &models.MeetingSpec{
		Title:           req.Title,
		DurationMinutes: req.DurationMinutes,
		AttendeeEmails:  req.AttendeeEmails,
		RangeStart:      req.RangeStart,
		RangeEnd:        req.RangeEnd,
		PreferredTimes:  req.PreferredTimes,
	}
	suggestions, degraded, err := h.orchestrator.SuggestTimes(r.Context(), userID, spec)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	data := map[string]interface{}{
		"suggestions": suggestions,
		"count":       len(suggestions),
	}
	if degraded {
		respondDegraded(w, http.StatusOK, data, start)
		return
	}
	respondSuccess(w, http.StatusOK, data, start)
}

// AnalyzeEvent handles POST /api/v1/events/{eventID}/analyze. Costs one
// calendar_analysis action.
func (h *Handler) AnalyzeEvent(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	userID := middleware.GetUserID(r.Context())
	eventID := chi.URLParam(r, "eventID")

	if _, err := h.ledger.EnsureAccount(r.Context(), userID, ""); err != nil {
		respondDomainError(w, r, err)
		return
	}

	analysis, err := h.orchestrator.AnalyzeEvent(r.Context(), userID, eventID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	if analysis.Degraded {
		respondDegraded(w, http.StatusOK, analysis, start)
		return
	}
	respondSuccess(w, http.StatusOK, analysis, start)
}

// ListConflicts handles GET /api/v1/conflicts?start=...&end=... with the
// local detector. Free of charge.
func (h *Handler) ListConflicts(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	userID := middleware.GetUserID(r.Context())

	now := time.Now().UTC()
	rangeStart, ok := getTimeParam(r, "start", now)
	if !ok {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "start must be RFC3339", nil)
		return
	}
	rangeEnd, ok := getTimeParam(r, "end", now.AddDate(0, 0, 7))
	if !ok {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "end must be RFC3339", nil)
		return
	}

	conflicts, err := h.orchestrator.DetectConflicts(r.Context(), userID, rangeStart, rangeEnd)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, map[string]interface{}{
		"conflicts": conflicts,
		"count":     len(conflicts),
	}, start)
}

// ResolveConflict handles POST /api/v1/events/{eventID}/resolve. The plan
// only proposes; nothing on the calendar changes until the caller applies
// it through an update or delete.
func (h *Handler) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	userID := middleware.GetUserID(r.Context())
	eventID := chi.URLParam(r, "eventID")

	var req models.ResolveConflictRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	plan, err := h.orchestrator.ResolveConflict(r.Context(), userID, eventID, req.Strategy)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, plan, start)
}
