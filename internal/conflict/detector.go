// Meridian - AI Scheduling and Credit Metering Backend
// Copyright 2026 Meridian HQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridian-hq/meridian

// Package conflict implements the deterministic calendar conflict
// detector.
//
// Two classifications are produced, mutually exclusive per event pair:
//
//   - hard: the events' [start, end) intervals overlap
//   - soft: no overlap, but the gap between adjacent events is positive
//     and below the buffer threshold
//
// A zero or negative gap is by definition a hard conflict and is never
// also reported as soft. The travel kind exists in the model but requires
// an external distance service; this detector never emits it.
package conflict

import (
	"fmt"
	"sort"
	"time"

	"github.com/meridian-hq/meridian/internal/models"
)

// DefaultBufferThreshold is the minimum acceptable gap between adjacent
// events.
const DefaultBufferThreshold = 15 * time.Minute

// FindConflicts scans events pairwise for hard overlaps and adjacent pairs
// for soft buffer violations. The input does not need to be sorted.
//
// Output order is deterministic for a given event set: hard conflicts in
// start order of the earlier event (ties by event ID), then soft
// conflicts in the same order. Calendars are bounded to a scheduling
// window, so the O(n^2) hard scan is fine inline.
func FindConflicts(events []models.CalendarEvent, bufferThreshold time.Duration) []models.ConflictRecord {
	if bufferThreshold <= 0 {
		bufferThreshold = DefaultBufferThreshold
	}

	sorted := make([]models.CalendarEvent, 0, len(events))
	for _, e := range events {
		if e.Status == models.StatusCancelled {
			continue
		}
		sorted = append(sorted, e)
	}
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].Start.Equal(sorted[j].Start) {
			return sorted[i].Start.Before(sorted[j].Start)
		}
		return sorted[i].ID < sorted[j].ID
	})

	var conflicts []models.ConflictRecord

	// Hard overlaps: every pair. Sorting lets the inner loop stop once
	// event j starts at or after event i's end.
	for i := 0; i < len(sorted); i++ {
		a := &sorted[i]
		for j := i + 1; j < len(sorted); j++ {
			b := &sorted[j]
			if !b.Start.Before(a.End) {
				break
			}
			if !a.Overlaps(b) {
				continue
			}
			conflicts = append(conflicts, models.ConflictRecord{
				Kind:           models.ConflictHard,
				EventAID:       a.ID,
				EventBID:       b.ID,
				OverlapMinutes: overlapMinutes(a, b),
				Resolution:     fmt.Sprintf("Reschedule %q to avoid overlap with %q", b.Title, a.Title),
			})
		}
	}

	// Soft conflicts: adjacent pairs with a positive gap under threshold.
	for i := 0; i+1 < len(sorted); i++ {
		prev, next := &sorted[i], &sorted[i+1]
		gap := next.Start.Sub(prev.End)
		if gap > 0 && gap < bufferThreshold {
			conflicts = append(conflicts, models.ConflictRecord{
				Kind:       models.ConflictSoft,
				EventAID:   prev.ID,
				EventBID:   next.ID,
				GapMinutes: int(gap / time.Minute),
				Resolution: fmt.Sprintf("Add buffer time between %q and %q", prev.Title, next.Title),
			})
		}
	}

	return conflicts
}

// InvolvedIn returns the subset of conflicts touching eventID.
func InvolvedIn(conflicts []models.ConflictRecord, eventID string) []models.ConflictRecord {
	var out []models.ConflictRecord
	for _, c := range conflicts {
		if c.EventAID == eventID || c.EventBID == eventID {
			out = append(out, c)
		}
	}
	return out
}

// overlapMinutes computes min(endA, endB) - max(startA, startB) in whole
// minutes. Callers guarantee the events overlap.
func overlapMinutes(a, b *models.CalendarEvent) int {
	start := a.Start
	if b.Start.After(start) {
		start = b.Start
	}
	end := a.End
	if b.End.Before(end) {
		end = b.End
	}
	return int(end.Sub(start) / time.Minute)
}
