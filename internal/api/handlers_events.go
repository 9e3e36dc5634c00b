// Meridian - AI Scheduling and Credit Metering Backend
// Copyright 2026 Meridian HQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridian-hq/meridian

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/meridian-hq/meridian/internal/availability"
	"github.com/meridian-hq/meridian/internal/logging"
	"github.com/meridian-hq/meridian/internal/middleware"
	"github.com/meridian-hq/meridian/internal/models"
)

// CreateEvent handles POST /api/v1/events.
func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	userID := middleware.GetUserID(r.Context())

	var req models.EventCreateRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if !req.AllDay && !req.Start.Before(req.End) {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "start must precede end", nil)
		return
	}

	if _, err := h.ledger.EnsureAccount(r.Context(), userID, ""); err != nil {
		respondDomainError(w, r, err)
		return
	}

	event := &models.CalendarEvent{
		ID:          uuid.NewString(),
		UserID:      userID,
		Provider:    models.ProviderLocal,
		Title:       req.Title,
		Description: req.Description,
		Start:       req.Start.UTC(),
		End:         req.End.UTC(),
		AllDay:      req.AllDay,
		Timezone:    req.Timezone,
		Status:      models.StatusConfirmed,
		Location:    req.Location,
	}
	for _, email := range req.AttendeeEmails {
		event.Attendees = append(event.Attendees, models.Attendee{
			Email:  email,
			Status: "needsAction",
		})
	}
	if req.RRule != "" {
		event.Recurrence = &models.Recurrence{RRule: req.RRule}
	}

	if err := h.store.CreateEvent(r.Context(), event); err != nil {
		respondDomainError(w, r, err)
		return
	}

	logging.Ctx(r.Context()).Info().
		Str("event_id", event.ID).
		Str("title", event.Title).
		Msg("Event created")
	respondSuccess(w, http.StatusCreated, event, start)
}

// ListEvents handles GET /api/v1/events?start=...&end=...
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	userID := middleware.GetUserID(r.Context())

	now := time.Now().UTC()
	rangeStart, ok := getTimeParam(r, "start", now.AddDate(0, 0, -7))
	if !ok {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "start must be RFC3339", nil)
		return
	}
	rangeEnd, ok := getTimeParam(r, "end", now.AddDate(0, 0, 30))
	if !ok {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "end must be RFC3339", nil)
		return
	}
	if !rangeStart.Before(rangeEnd) {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "start must precede end", nil)
		return
	}

	events, err := h.store.FindInRange(r.Context(), userID, rangeStart, rangeEnd)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	events = availability.ExpandRecurrences(events, rangeStart, rangeEnd)
	respondSuccess(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	}, start)
}

// GetEvent handles GET /api/v1/events/{eventID}.
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	userID := middleware.GetUserID(r.Context())
	eventID := chi.URLParam(r, "eventID")

	event, err := h.store.GetEvent(r.Context(), userID, eventID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, event, start)
}

// UpdateEvent handles PATCH /api/v1/events/{eventID}. Nil fields stay
// untouched; status changes follow the tentative/confirmed/cancelled
// transition rules.
func (h *Handler) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	userID := middleware.GetUserID(r.Context())
	eventID := chi.URLParam(r, "eventID")

	var req models.EventUpdateRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	event, err := h.store.UpdateEvent(r.Context(), userID, eventID, &req)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, event, start)
}

// DeleteEvent handles DELETE /api/v1/events/{eventID}.
func (h *Handler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	userID := middleware.GetUserID(r.Context())
	eventID := chi.URLParam(r, "eventID")

	if err := h.store.DeleteEvent(r.Context(), userID, eventID); err != nil {
		respondDomainError(w, r, err)
		return
	}

	logging.Ctx(r.Context()).Info().
		Str("event_id", eventID).
		Msg("Event deleted")
	respondSuccess(w, http.StatusOK, map[string]string{"deleted": eventID}, start)
}

// TriggerSync handles POST /api/v1/sync: a manual pull of the user's
// connected calendars.
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	userID := middleware.GetUserID(r.Context())

	if h.syncManager == nil {
		respondError(w, http.StatusServiceUnavailable, "SYNC_DISABLED", "No calendar providers are configured", nil)
		return
	}

	created, merged, err := h.syncManager.SyncUser(r.Context(), userID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, map[string]int{
		"created": created,
		"merged":  merged,
	}, start)
}
