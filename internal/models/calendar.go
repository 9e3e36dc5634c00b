// Meridian - AI Scheduling and Credit Metering Backend
// Copyright 2026 Meridian HQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridian-hq/meridian

package models

import (
	"fmt"
	"time"
)

// Provider identifies the upstream calendar system an event originated from.
type Provider string

// Known calendar providers.
const (
	ProviderGoogle    Provider = "google"
	ProviderMicrosoft Provider = "microsoft"
	// ProviderLocal marks events created directly through the Meridian API
	// rather than synced from an external calendar.
	ProviderLocal Provider = "local"
)

// EventStatus is the lifecycle state of a calendar event.
//
// Transitions are monotonic towards cancelled: tentative -> confirmed ->
// cancelled. A cancelled event never leaves that state, and confirmed events
// cannot be demoted back to tentative.
type EventStatus string

const (
	StatusTentative EventStatus = "tentative"
	StatusConfirmed EventStatus = "confirmed"
	StatusCancelled EventStatus = "cancelled"
)

// CanTransitionTo reports whether s may move to next.
func (s EventStatus) CanTransitionTo(next EventStatus) bool {
	if s == next {
		return true
	}
	switch s {
	case StatusTentative:
		return next == StatusConfirmed || next == StatusCancelled
	case StatusConfirmed:
		return next == StatusCancelled
	case StatusCancelled:
		return false
	}
	return false
}

// Attendee is a single meeting participant. Order is preserved as received
// from the provider.
type Attendee struct {
	Email       string `json:"email"`
	Name        string `json:"name,omitempty"`
	Status      string `json:"status"` // needsAction, accepted, declined, tentative
	IsOrganizer bool   `json:"is_organizer"`
	IsRequired  bool   `json:"is_required"`
}

// Location describes where an event takes place.
type Location struct {
	Name       string `json:"name"`
	Address    string `json:"address,omitempty"`
	IsVirtual  bool   `json:"is_virtual"`
	MeetingURL string `json:"meeting_url,omitempty"`
}

// Recurrence carries an RFC 5545 RRULE string plus the recurrence window.
// The availability engine expands it into concrete occurrences on demand.
type Recurrence struct {
	RRule string     `json:"rrule"`
	Until *time.Time `json:"until,omitempty"`
}

// AIAnalysis is the last scheduling quality assessment computed for an event.
// Conflict counts come from the deterministic detector; scores come from the
// oracle and are informational.
type AIAnalysis struct {
	OptimalScore       float64   `json:"optimal_score"` // [0,1]
	ProductivityImpact string    `json:"productivity_impact,omitempty"`
	PrepMinutes        int       `json:"prep_minutes,omitempty"`
	BufferMinutes      int       `json:"buffer_minutes,omitempty"`
	QualitativeTags    []string  `json:"qualitative_tags,omitempty"`
	ConflictCount      int       `json:"conflict_count"`
	AnalyzedAt         time.Time `json:"analyzed_at"`
}

// CalendarEvent is the stored representation of a calendar entry.
//
// (UserID, Provider, ProviderEventID) is unique per user: sync upserts on
// that key and never duplicates rows. Start must precede End unless AllDay
// is set.
type CalendarEvent struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`

	// Provenance
	Provider           Provider `json:"provider"`
	ProviderEventID    string   `json:"provider_event_id"`
	ProviderCalendarID string   `json:"provider_calendar_id"`

	Title       string `json:"title"`
	Description string `json:"description,omitempty"`

	// Time span. Start/End are stored in UTC; Timezone is the wall-clock
	// zone the event was created in.
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	AllDay   bool      `json:"all_day"`
	Timezone string    `json:"timezone,omitempty"`

	Status     EventStatus `json:"status"`
	Attendees  []Attendee  `json:"attendees,omitempty"`
	Location   *Location   `json:"location,omitempty"`
	Recurrence *Recurrence `json:"recurrence,omitempty"`

	AIAnalysis *AIAnalysis `json:"ai_analysis,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Duration returns the event length. All-day events report 24h.
func (e *CalendarEvent) Duration() time.Duration {
	if e.AllDay {
		return 24 * time.Hour
	}
	return e.End.Sub(e.Start)
}

// Validate checks the structural invariants of the event.
func (e *CalendarEvent) Validate() error {
	if e.UserID == "" {
		return fmt.Errorf("calendar event: missing user_id")
	}
	if e.Title == "" {
		return fmt.Errorf("calendar event: missing title")
	}
	if !e.AllDay && !e.Start.Before(e.End) {
		return fmt.Errorf("calendar event: start %s is not before end %s", e.Start, e.End)
	}
	switch e.Status {
	case StatusTentative, StatusConfirmed, StatusCancelled:
	default:
		return fmt.Errorf("calendar event: unknown status %q", e.Status)
	}
	return nil
}

// Overlaps reports whether two events' [Start, End) intervals intersect.
// Touching endpoints do not overlap.
func (e *CalendarEvent) Overlaps(other *CalendarEvent) bool {
	return e.Start.Before(other.End) && e.End.After(other.Start)
}

// CanonicalEvent is the provider-agnostic shape produced by a calendar
// source adapter. It is converted into a CalendarEvent at the sync boundary.
type CanonicalEvent struct {
	ProviderEventID    string     `json:"provider_event_id"`
	ProviderCalendarID string     `json:"provider_calendar_id"`
	Title              string     `json:"title"`
	Description        string     `json:"description,omitempty"`
	Start              time.Time  `json:"start"`
	End                time.Time  `json:"end"`
	AllDay             bool       `json:"all_day"`
	Timezone           string     `json:"timezone,omitempty"`
	Status             string     `json:"status,omitempty"`
	Attendees          []Attendee `json:"attendees,omitempty"`
	Location           *Location  `json:"location,omitempty"`
	RRule              string     `json:"rrule,omitempty"`
}
