// Meridian - AI Scheduling and Credit Metering Backend
// Copyright 2026 Meridian HQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridian-hq/meridian

package models

import "time"

// AvailabilitySlot is a derived free/busy slot. Slots are never persisted;
// they are recomputed from current events on every request.
type AvailabilitySlot struct {
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	IsBusy bool      `json:"is_busy"`

	// BlockingEventID/Title identify the first event whose buffered window
	// intersects this slot. Empty for free slots.
	BlockingEventID    string `json:"blocking_event_id,omitempty"`
	BlockingEventTitle string `json:"blocking_event_title,omitempty"`
}

// DayAvailability groups the slots generated for one calendar day.
type DayAvailability struct {
	Date  string             `json:"date"` // YYYY-MM-DD
	Slots []AvailabilitySlot `json:"slots"`
}

// ConflictKind classifies a pairwise event conflict.
type ConflictKind string

const (
	// ConflictHard marks a time overlap between two events.
	ConflictHard ConflictKind = "hard"
	// ConflictSoft marks a positive gap below the buffer threshold.
	ConflictSoft ConflictKind = "soft"
	// ConflictTravel is reserved for location-aware gap checks backed by an
	// external distance service. Never produced by the local detector.
	ConflictTravel ConflictKind = "travel"
)

// ConflictRecord describes one pairwise conflict between two events,
// ordered so EventAID starts no later than EventBID.
type ConflictRecord struct {
	Kind           ConflictKind `json:"kind"`
	EventAID       string       `json:"event_a_id"`
	EventBID       string       `json:"event_b_id"`
	OverlapMinutes int          `json:"overlap_minutes"`
	GapMinutes     int          `json:"gap_minutes,omitempty"`
	Resolution     string       `json:"suggested_resolution"`
}

// MeetingSpec describes the meeting a caller wants scheduled.
type MeetingSpec struct {
	Title           string    `json:"title"`
	DurationMinutes int       `json:"duration_minutes"`
	AttendeeEmails  []string  `json:"attendee_emails,omitempty"`
	RangeStart      time.Time `json:"range_start"`
	RangeEnd        time.Time `json:"range_end"`
	PreferredTimes  []string  `json:"preferred_times,omitempty"`
}

// Suggestion is one ranked scheduling proposal. Score is in [0,1],
// best first.
type Suggestion struct {
	Start           time.Time `json:"start"`
	DurationMinutes int       `json:"duration_minutes"`
	Score           float64   `json:"optimal_score"`
	Reasons         []string  `json:"reasons,omitempty"`
	// Fallback is set when the suggestion came from the availability engine
	// because the oracle was unavailable.
	Fallback bool `json:"fallback,omitempty"`
}

// Analysis is the result of analyzing a single event. Conflicts is always
// the locally computed list; oracle opinion never overrides it.
type Analysis struct {
	EventID   string           `json:"event_id"`
	Scores    AIAnalysis       `json:"scores"`
	Conflicts []ConflictRecord `json:"conflicts"`
	// Degraded is set when the oracle was unavailable and Scores carries
	// only locally derivable fields.
	Degraded bool `json:"degraded,omitempty"`
}

// ResolutionStrategy selects how a conflict should be resolved.
type ResolutionStrategy string

const (
	ResolveReschedule ResolutionStrategy = "reschedule"
	ResolveShorten    ResolutionStrategy = "shorten"
	ResolveCancel     ResolutionStrategy = "cancel"
)

// ResolutionPlan is a proposed fix for a conflicted event. Plans only
// propose; applying one (including cancellation) is a separate explicit
// call.
type ResolutionPlan struct {
	Strategy ResolutionStrategy `json:"strategy"`
	EventID  string             `json:"event_id"`
	Message  string             `json:"message"`

	// Reschedule: up to 3 alternative start times.
	Alternatives []time.Time `json:"alternatives,omitempty"`
	CurrentStart *time.Time  `json:"current_start,omitempty"`

	// Shorten: proposed new duration.
	CurrentDurationMinutes   int `json:"current_duration_minutes,omitempty"`
	SuggestedDurationMinutes int `json:"suggested_duration_minutes,omitempty"`

	// Cancel: requires a separate confirmed delete call.
	RequiresConfirmation bool `json:"requires_confirmation,omitempty"`
}
