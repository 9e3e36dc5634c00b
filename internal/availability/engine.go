// Meridian - AI Scheduling and Credit Metering Backend
// Copyright 2026 Meridian HQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridian-hq/meridian

// Package availability implements the free/busy slot engine.
//
// Slots are derived values: given the same events and options the engine
// produces the identical slot sequence, and nothing is persisted. A slot
// is busy when, after expanding it symmetrically by the buffer, it
// intersects any non-cancelled event's [start, end) interval (half-open;
// touching endpoints are free).
package availability

import (
	"context"
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/meridian-hq/meridian/internal/models"
)

// Slot generation defaults, matching the product's working-hours model.
const (
	DefaultStep         = 15 * time.Minute
	DefaultWorkdayStart = 9 * time.Hour  // 09:00
	DefaultWorkdayEnd   = 18 * time.Hour // 18:00
	DefaultSlotDuration = 30 * time.Minute
	DefaultBuffer       = 15 * time.Minute
)

// Options controls slot generation.
type Options struct {
	// SlotDuration is the length of each generated slot. Required, > 0.
	SlotDuration time.Duration

	// Buffer expands each slot symmetrically before the busy test.
	Buffer time.Duration

	// WorkdayStart/WorkdayEnd are offsets from local midnight. Slots are
	// generated from WorkdayStart to WorkdayEnd - SlotDuration.
	WorkdayStart time.Duration
	WorkdayEnd   time.Duration

	// Step is the slot start granularity. Default 15 minutes.
	Step time.Duration
}

func (o *Options) applyDefaults() {
	if o.WorkdayStart == 0 && o.WorkdayEnd == 0 {
		o.WorkdayStart = DefaultWorkdayStart
		o.WorkdayEnd = DefaultWorkdayEnd
	}
	if o.Step <= 0 {
		o.Step = DefaultStep
	}
}

// EventSource is the slice of the event store the engine reads.
type EventSource interface {
	FindInRange(ctx context.Context, userID string, start, end time.Time) ([]models.CalendarEvent, error)
}

// Engine computes per-day availability from current events.
type Engine struct {
	events EventSource
}

// NewEngine creates an availability engine reading from events.
func NewEngine(events EventSource) *Engine {
	return &Engine{events: events}
}

// ComputeAvailability generates the slot lists for every calendar day in
// [windowStart, windowEnd]. Recurring events are expanded into concrete
// occurrences inside the window before the busy test.
func (e *Engine) ComputeAvailability(ctx context.Context, userID string, windowStart, windowEnd time.Time, opts Options) ([]models.DayAvailability, error) {
	if opts.SlotDuration <= 0 {
		return nil, fmt.Errorf("%w: slot duration must be positive", ErrInvalidWindow)
	}
	if !windowStart.Before(windowEnd) {
		return nil, fmt.Errorf("%w: start %s is not before end %s", ErrInvalidWindow, windowStart, windowEnd)
	}
	opts.applyDefaults()

	// Fetch with a one-day margin so buffered slots near the window edges
	// still see their blocking events.
	events, err := e.events.FindInRange(ctx, userID, windowStart.Add(-24*time.Hour), windowEnd.Add(24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	events = ExpandRecurrences(events, windowStart.Add(-24*time.Hour), windowEnd.Add(24*time.Hour))

	var days []models.DayAvailability
	loc := windowStart.Location()
	for day := truncateToDay(windowStart); !day.After(windowEnd); day = day.AddDate(0, 0, 1) {
		days = append(days, models.DayAvailability{
			Date:  day.In(loc).Format("2006-01-02"),
			Slots: SlotsForDay(events, day, opts),
		})
	}
	return days, nil
}

// SlotsForDay generates the slot list for one calendar day. Pure: the
// same events and options always yield the same slots, so availability can
// be regenerated or resumed without hidden state.
func SlotsForDay(events []models.CalendarEvent, day time.Time, opts Options) []models.AvailabilitySlot {
	opts.applyDefaults()
	day = truncateToDay(day)

	dayStart := day.Add(opts.WorkdayStart)
	dayEnd := day.Add(opts.WorkdayEnd)

	// An all-day event covering this day marks every slot busy.
	allDayBlock := findAllDayEvent(events, day)

	var slots []models.AvailabilitySlot
	for start := dayStart; !start.Add(opts.SlotDuration).After(dayEnd); start = start.Add(opts.Step) {
		slot := models.AvailabilitySlot{
			Start: start,
			End:   start.Add(opts.SlotDuration),
		}

		if allDayBlock != nil {
			slot.IsBusy = true
			slot.BlockingEventID = allDayBlock.ID
			slot.BlockingEventTitle = allDayBlock.Title
			slots = append(slots, slot)
			continue
		}

		bufferedStart := slot.Start.Add(-opts.Buffer)
		bufferedEnd := slot.End.Add(opts.Buffer)
		for i := range events {
			ev := &events[i]
			if ev.AllDay || ev.Status == models.StatusCancelled {
				continue
			}
			// Half-open intersection: touching endpoints are free.
			if bufferedStart.Before(ev.End) && bufferedEnd.After(ev.Start) {
				slot.IsBusy = true
				slot.BlockingEventID = ev.ID
				slot.BlockingEventTitle = ev.Title
				break
			}
		}
		slots = append(slots, slot)
	}
	return slots
}

// FreeSlots collects up to n free slots from the generated days, in
// order. n <= 0 returns them all.
func FreeSlots(days []models.DayAvailability, n int) []models.AvailabilitySlot {
	var free []models.AvailabilitySlot
	for _, day := range days {
		for _, slot := range day.Slots {
			if slot.IsBusy {
				continue
			}
			free = append(free, slot)
			if n > 0 && len(free) >= n {
				return free
			}
		}
	}
	return free
}

// ExpandRecurrences replaces recurring events with their concrete
// occurrences inside [start, end]. Events without a recurrence rule pass
// through unchanged; an unparseable rule degrades to the base occurrence.
func ExpandRecurrences(events []models.CalendarEvent, start, end time.Time) []models.CalendarEvent {
	out := make([]models.CalendarEvent, 0, len(events))
	for _, ev := range events {
		if ev.Recurrence == nil || ev.Recurrence.RRule == "" {
			out = append(out, ev)
			continue
		}

		rule, err := rrule.StrToRRule(ev.Recurrence.RRule)
		if err != nil {
			out = append(out, ev)
			continue
		}
		rule.DTStart(ev.Start)

		duration := ev.End.Sub(ev.Start)
		until := end
		if ev.Recurrence.Until != nil && ev.Recurrence.Until.Before(until) {
			until = *ev.Recurrence.Until
		}
		for _, occ := range rule.Between(start.Add(-duration), until, true) {
			inst := ev
			inst.Start = occ
			inst.End = occ.Add(duration)
			out = append(out, inst)
		}
	}
	return out
}

// findAllDayEvent returns the first non-cancelled all-day event covering
// day, or nil.
func findAllDayEvent(events []models.CalendarEvent, day time.Time) *models.CalendarEvent {
	next := day.AddDate(0, 0, 1)
	for i := range events {
		ev := &events[i]
		if !ev.AllDay || ev.Status == models.StatusCancelled {
			continue
		}
		if ev.Start.Before(next) && ev.End.After(day) {
			return ev
		}
	}
	return nil
}

func truncateToDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
