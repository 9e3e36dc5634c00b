// Meridian - AI Scheduling and Credit Metering Backend
// Copyright 2026 Meridian HQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridian-hq/meridian

package models

import "time"

// EventCreateRequest is the payload for creating a calendar event.
type EventCreateRequest struct {
	Title          string    `json:"title" validate:"required,min=1,max=500"`
	Description    string    `json:"description" validate:"max=5000"`
	Start          time.Time `json:"start" validate:"required"`
	End            time.Time `json:"end" validate:"required"`
	AllDay         bool      `json:"all_day"`
	Timezone       string    `json:"timezone" validate:"max=64"`
	AttendeeEmails []string  `json:"attendee_emails" validate:"max=100,dive,email"`
	Location       *Location `json:"location"`
	RRule          string    `json:"rrule" validate:"max=500"`
}

// EventUpdateRequest is a partial update; nil fields are left untouched.
type EventUpdateRequest struct {
	Title          *string      `json:"title" validate:"omitempty,min=1,max=500"`
	Description    *string      `json:"description" validate:"omitempty,max=5000"`
	Start          *time.Time   `json:"start"`
	End            *time.Time   `json:"end"`
	AttendeeEmails []string     `json:"attendee_emails" validate:"omitempty,max=100,dive,email"`
	Location       *Location    `json:"location"`
	Status         *EventStatus `json:"status" validate:"omitempty,oneof=tentative confirmed cancelled"`
}

// AvailabilityRequest asks for free/busy slots in a window.
type AvailabilityRequest struct {
	Start           time.Time `json:"start" validate:"required"`
	End             time.Time `json:"end" validate:"required"`
	DurationMinutes int       `json:"duration_minutes" validate:"required,gt=0,lte=1440"`
	BufferMinutes   int       `json:"buffer_minutes" validate:"gte=0,lte=240"`
}

// SuggestRequest asks the orchestrator for ranked meeting times.
type SuggestRequest struct {
	Title           string    `json:"title" validate:"required,min=1,max=500"`
	DurationMinutes int       `json:"duration_minutes" validate:"required,gt=0,lte=1440"`
	AttendeeEmails  []string  `json:"attendee_emails" validate:"max=100,dive,email"`
	RangeStart      time.Time `json:"range_start" validate:"required"`
	RangeEnd        time.Time `json:"range_end" validate:"required"`
	PreferredTimes  []string  `json:"preferred_times" validate:"max=10"`
}

// ResolveConflictRequest selects a resolution strategy for an event.
type ResolveConflictRequest struct {
	Strategy              ResolutionStrategy `json:"strategy" validate:"required"`
	PreferredAlternatives []time.Time        `json:"preferred_alternatives" validate:"max=10"`
}
