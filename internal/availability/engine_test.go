// Meridian - AI Scheduling and Credit Metering Backend
// Copyright 2026 Meridian HQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridian-hq/meridian

package availability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/meridian-hq/meridian/internal/models"
)

var day = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC) // a Monday

func at(h, m int) time.Time {
	return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

func event(id string, start, end time.Time) models.CalendarEvent {
	return models.CalendarEvent{
		ID:     id,
		UserID: "user-1",
		Title:  id,
		Start:  start,
		End:    end,
		Status: models.StatusConfirmed,
	}
}

// staticEvents is an EventSource over a fixed slice.
type staticEvents []models.CalendarEvent

func (s staticEvents) FindInRange(ctx context.Context, userID string, start, end time.Time) ([]models.CalendarEvent, error) {
	var out []models.CalendarEvent
	for _, ev := range s {
		recurring := ev.Recurrence != nil && ev.Recurrence.RRule != ""
		if recurring || (ev.Start.Before(end) && ev.End.After(start)) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func defaultOpts() Options {
	return Options{
		SlotDuration: DefaultSlotDuration,
		Buffer:       DefaultBuffer,
	}
}

// slotAt finds the slot starting at the given time.
func slotAt(t *testing.T, slots []models.AvailabilitySlot, start time.Time) models.AvailabilitySlot {
	t.Helper()
	for _, s := range slots {
		if s.Start.Equal(start) {
			return s
		}
	}
	t.Fatalf("no slot starting at %v", start)
	return models.AvailabilitySlot{}
}

func TestSlotsForDayBufferedBusyWindow(t *testing.T) {
	t.Parallel()

	// One event 13:00-14:00 with a 15 minute buffer: every slot whose
	// buffered window intersects [13:00, 14:00) is busy, so slots starting
	// in [12:30, 14:15) with a 30 minute duration.
	events := []models.CalendarEvent{event("lunch", at(13, 0), at(14, 0))}
	slots := SlotsForDay(events, day, defaultOpts())

	if len(slots) == 0 {
		t.Fatal("no slots generated")
	}
	// 09:00 through 17:30 starts at 15 minute steps.
	if len(slots) != 35 {
		t.Fatalf("got %d slots, want 35", len(slots))
	}

	tests := []struct {
		h, m int
		busy bool
	}{
		{9, 0, false},
		{12, 0, false},
		{12, 15, false}, // buffered [12:00, 13:00) touches but does not intersect
		{12, 30, true},  // buffered [12:15, 13:15) overlaps the event
		{13, 0, true},
		{13, 45, true},
		{14, 0, true}, // buffered [13:45, 14:45) still overlaps
		{14, 15, false},
		{17, 30, false},
	}
	for _, tt := range tests {
		slot := slotAt(t, slots, at(tt.h, tt.m))
		if slot.IsBusy != tt.busy {
			t.Errorf("slot %02d:%02d busy = %v, want %v", tt.h, tt.m, slot.IsBusy, tt.busy)
		}
		if tt.busy && slot.BlockingEventID != "lunch" {
			t.Errorf("slot %02d:%02d blocked by %q, want lunch", tt.h, tt.m, slot.BlockingEventID)
		}
		if !tt.busy && slot.BlockingEventID != "" {
			t.Errorf("free slot %02d:%02d has blocking event %q", tt.h, tt.m, slot.BlockingEventID)
		}
	}
}

func TestSlotsForDayAllDayEventBlocksEverything(t *testing.T) {
	t.Parallel()

	offsite := event("offsite", day, day.AddDate(0, 0, 1))
	offsite.AllDay = true
	slots := SlotsForDay([]models.CalendarEvent{offsite}, day, defaultOpts())

	if len(slots) == 0 {
		t.Fatal("no slots generated")
	}
	for _, slot := range slots {
		if !slot.IsBusy {
			t.Fatalf("slot %v free despite all-day event", slot.Start)
		}
		if slot.BlockingEventID != "offsite" {
			t.Fatalf("slot %v blocked by %q, want offsite", slot.Start, slot.BlockingEventID)
		}
	}
}

func TestSlotsForDayCancelledEventsIgnored(t *testing.T) {
	t.Parallel()

	cancelled := event("gone", at(10, 0), at(11, 0))
	cancelled.Status = models.StatusCancelled
	slots := SlotsForDay([]models.CalendarEvent{cancelled}, day, defaultOpts())
	for _, slot := range slots {
		if slot.IsBusy {
			t.Fatalf("slot %v busy because of a cancelled event", slot.Start)
		}
	}
}

func TestSlotsForDayDeterministic(t *testing.T) {
	t.Parallel()

	events := []models.CalendarEvent{
		event("a", at(9, 30), at(10, 0)),
		event("b", at(15, 0), at(16, 0)),
	}
	first := SlotsForDay(events, day, defaultOpts())
	second := SlotsForDay(events, day, defaultOpts())
	if len(first) != len(second) {
		t.Fatalf("slot counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("slot %d differs between identical runs", i)
		}
	}
}

func TestComputeAvailabilityWindow(t *testing.T) {
	t.Parallel()

	engine := NewEngine(staticEvents{event("m", at(10, 0), at(11, 0))})
	days, err := engine.ComputeAvailability(context.Background(), "user-1", day, day.AddDate(0, 0, 2), defaultOpts())
	if err != nil {
		t.Fatalf("ComputeAvailability: %v", err)
	}
	if len(days) != 3 {
		t.Fatalf("got %d days, want 3", len(days))
	}
	if days[0].Date != "2026-03-02" || days[2].Date != "2026-03-04" {
		t.Errorf("day range = %s .. %s", days[0].Date, days[2].Date)
	}

	// The meeting only blocks slots on its own day.
	if slot := slotAt(t, days[0].Slots, at(10, 0)); !slot.IsBusy {
		t.Error("10:00 on day one should be busy")
	}
	if slot := slotAt(t, days[1].Slots, at(10, 0).AddDate(0, 0, 1)); slot.IsBusy {
		t.Error("10:00 on day two should be free")
	}
}

func TestComputeAvailabilityRejectsInvalidWindow(t *testing.T) {
	t.Parallel()

	engine := NewEngine(staticEvents{})
	ctx := context.Background()

	_, err := engine.ComputeAvailability(ctx, "user-1", day.AddDate(0, 0, 1), day, defaultOpts())
	if !errors.Is(err, ErrInvalidWindow) {
		t.Errorf("inverted window returned %v, want ErrInvalidWindow", err)
	}
	_, err = engine.ComputeAvailability(ctx, "user-1", day, day, defaultOpts())
	if !errors.Is(err, ErrInvalidWindow) {
		t.Errorf("empty window returned %v, want ErrInvalidWindow", err)
	}
	_, err = engine.ComputeAvailability(ctx, "user-1", day, day.AddDate(0, 0, 1), Options{SlotDuration: 0})
	if !errors.Is(err, ErrInvalidWindow) {
		t.Errorf("zero slot duration returned %v, want ErrInvalidWindow", err)
	}
}

func TestFreeSlots(t *testing.T) {
	t.Parallel()

	days := []models.DayAvailability{
		{Date: "2026-03-02", Slots: []models.AvailabilitySlot{
			{Start: at(9, 0), IsBusy: false},
			{Start: at(9, 15), IsBusy: true},
			{Start: at(9, 30), IsBusy: false},
		}},
		{Date: "2026-03-03", Slots: []models.AvailabilitySlot{
			{Start: at(9, 0).AddDate(0, 0, 1), IsBusy: false},
		}},
	}

	all := FreeSlots(days, 0)
	if len(all) != 3 {
		t.Fatalf("FreeSlots(0) returned %d slots, want all 3", len(all))
	}
	if !all[0].Start.Equal(at(9, 0)) || !all[2].Start.Equal(at(9, 0).AddDate(0, 0, 1)) {
		t.Error("FreeSlots did not preserve order across days")
	}

	capped := FreeSlots(days, 2)
	if len(capped) != 2 {
		t.Fatalf("FreeSlots(2) returned %d slots, want 2", len(capped))
	}
	if got := FreeSlots(days, -1); len(got) != 3 {
		t.Errorf("FreeSlots(-1) returned %d slots, want all 3", len(got))
	}
}

func TestExpandRecurrences(t *testing.T) {
	t.Parallel()

	weekly := event("standup", at(9, 0), at(9, 30))
	weekly.Recurrence = &models.Recurrence{RRule: "FREQ=WEEKLY;BYDAY=MO"}

	expanded := ExpandRecurrences([]models.CalendarEvent{weekly}, day, day.AddDate(0, 0, 27))
	if len(expanded) != 4 {
		t.Fatalf("expanded to %d occurrences, want 4 Mondays", len(expanded))
	}
	for i, occ := range expanded {
		wantStart := at(9, 0).AddDate(0, 0, 7*i)
		if !occ.Start.Equal(wantStart) {
			t.Errorf("occurrence %d start = %v, want %v", i, occ.Start, wantStart)
		}
		if occ.End.Sub(occ.Start) != 30*time.Minute {
			t.Errorf("occurrence %d duration = %v, want 30m", i, occ.End.Sub(occ.Start))
		}
	}
}

func TestExpandRecurrencesHonorsUntil(t *testing.T) {
	t.Parallel()

	until := day.AddDate(0, 0, 8)
	weekly := event("standup", at(9, 0), at(9, 30))
	weekly.Recurrence = &models.Recurrence{RRule: "FREQ=WEEKLY;BYDAY=MO", Until: &until}

	expanded := ExpandRecurrences([]models.CalendarEvent{weekly}, day, day.AddDate(0, 0, 28))
	if len(expanded) != 2 {
		t.Fatalf("expanded to %d occurrences, want 2 before until", len(expanded))
	}
}

func TestExpandRecurrencesPassThrough(t *testing.T) {
	t.Parallel()

	plain := event("single", at(10, 0), at(11, 0))
	broken := event("broken", at(12, 0), at(13, 0))
	broken.Recurrence = &models.Recurrence{RRule: "NOT-AN-RRULE"}

	expanded := ExpandRecurrences([]models.CalendarEvent{plain, broken}, day, day.AddDate(0, 0, 7))
	if len(expanded) != 2 {
		t.Fatalf("got %d events, want 2", len(expanded))
	}
	if expanded[0].ID != "single" || expanded[1].ID != "broken" {
		t.Errorf("pass-through changed events: %s, %s", expanded[0].ID, expanded[1].ID)
	}
}

func TestComputeAvailabilityExpandsRecurrences(t *testing.T) {
	t.Parallel()

	weekly := event("standup", at(9, 0), at(9, 30))
	weekly.Recurrence = &models.Recurrence{RRule: "FREQ=WEEKLY;BYDAY=MO"}
	engine := NewEngine(staticEvents{weekly})

	nextMonday := day.AddDate(0, 0, 7)
	days, err := engine.ComputeAvailability(context.Background(), "user-1", nextMonday, nextMonday.Add(time.Hour), defaultOpts())
	if err != nil {
		t.Fatalf("ComputeAvailability: %v", err)
	}
	if len(days) != 1 {
		t.Fatalf("got %d days, want 1", len(days))
	}
	slot := slotAt(t, days[0].Slots, nextMonday.Add(9*time.Hour))
	if !slot.IsBusy {
		t.Error("recurring standup did not block next Monday 09:00")
	}
	if slot.BlockingEventID != "standup" {
		t.Errorf("blocked by %q, want standup", slot.BlockingEventID)
	}
}
