// Meridian - AI Scheduling and Credit Metering Backend
// Copyright 2026 Meridian HQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridian-hq/meridian

// Package scheduler coordinates the credit ledger, the availability
// engine, the conflict detector and the oracle into the user-facing
// scheduling operations. The ordering rule throughout: debit first, call
// the oracle second, degrade locally when the oracle fails. A paid request
// always produces a usable answer.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/meridian-hq/meridian/internal/availability"
	"github.com/meridian-hq/meridian/internal/conflict"
	"github.com/meridian-hq/meridian/internal/credit"
	"github.com/meridian-hq/meridian/internal/database"
	"github.com/meridian-hq/meridian/internal/logging"
	"github.com/meridian-hq/meridian/internal/metrics"
	"github.com/meridian-hq/meridian/internal/models"
	"github.com/meridian-hq/meridian/internal/oracle"
)

// ErrInvalidRequest marks caller mistakes (bad window, unknown strategy).
var ErrInvalidRequest = errors.New("invalid request")

const (
	// maxSuggestions caps how many proposals one request returns.
	maxSuggestions = 5
	// rescheduleSearchDays bounds the alternative search for reschedule
	// plans.
	rescheduleSearchDays = 7
	// maxAlternatives caps reschedule alternatives.
	maxAlternatives = 3
	// shortenStep is how much a shorten plan trims, with shortenFloor the
	// minimum resulting duration.
	shortenStep  = 15 * time.Minute
	shortenFloor = 15 * time.Minute
)

// Options tunes the orchestrator.
type Options struct {
	BufferThreshold time.Duration
	Availability    availability.Options
}

// Orchestrator wires the scheduling pipeline together.
type Orchestrator struct {
	store  *database.Store
	ledger *credit.Ledger
	engine *availability.Engine
	oracle oracle.Client
	opts   Options
}

// New builds an Orchestrator. oracleClient may be nil; every oracle-backed
// operation then serves its local fallback.
func New(store *database.Store, ledger *credit.Ledger, engine *availability.Engine, oracleClient oracle.Client, opts Options) *Orchestrator {
	if opts.BufferThreshold <= 0 {
		opts.BufferThreshold = conflict.DefaultBufferThreshold
	}
	return &Orchestrator{
		store:  store,
		ledger: ledger,
		engine: engine,
		oracle: oracleClient,
		opts:   opts,
	}
}

// SuggestTimes proposes up to five ranked start times for the meeting.
// The caller is debited one smart_scheduling action before any work
// happens; an insufficient balance surfaces as
// database.ErrInsufficientCredits with nothing charged and nothing
// computed. When the oracle is down the free slots themselves are
// returned, marked as fallback. The debit stands either way.
func (o *Orchestrator) SuggestTimes(ctx context.Context, userID string, spec *models.MeetingSpec) ([]models.Suggestion, bool, error) {
	if spec.DurationMinutes <= 0 {
		return nil, false, fmt.Errorf("%w: duration must be positive", ErrInvalidRequest)
	}
	if !spec.RangeStart.Before(spec.RangeEnd) {
		return nil, false, fmt.Errorf("%w: range start must precede range end", ErrInvalidRequest)
	}

	if _, err := o.ledger.Debit(ctx, userID, models.ActionSmartScheduling, ""); err != nil {
		return nil, false, err
	}

	days, err := o.engine.ComputeAvailability(ctx, userID, spec.RangeStart, spec.RangeEnd, o.availabilityOptions(spec.DurationMinutes))
	if err != nil {
		return nil, false, fmt.Errorf("compute availability: %w", err)
	}
	free := availability.FreeSlots(days, 0)
	if len(free) == 0 {
		return []models.Suggestion{}, false, nil
	}

	if o.oracle != nil {
		events, err := o.store.FindInRange(ctx, userID, spec.RangeStart, spec.RangeEnd)
		if err != nil {
			return nil, false, fmt.Errorf("load events: %w", err)
		}
		suggestions, err := o.oracle.Suggest(ctx, &oracle.SuggestInput{
			UserID:    userID,
			Spec:      *spec,
			Events:    availability.ExpandRecurrences(events, spec.RangeStart, spec.RangeEnd),
			FreeSlots: free,
		})
		if err == nil {
			return clampSuggestions(suggestions, spec.DurationMinutes), false, nil
		}
		metrics.OracleFailuresAfterDebit.Inc()
		logging.Ctx(ctx).Warn().Err(err).
			Str("user_id", userID).
			Msg("Oracle suggest failed, falling back to free slots")
	}

	metrics.OracleFallbacks.WithLabelValues("suggest").Inc()
	return fallbackSuggestions(free, spec.DurationMinutes), true, nil
}

// AnalyzeEvent scores one event and reports its conflicts. Debits one
// calendar_analysis action up front. Conflicts come from the local
// detector regardless of what the oracle says; only the scores degrade
// when the oracle is down. The resulting scores are written back onto the
// event record.
func (o *Orchestrator) AnalyzeEvent(ctx context.Context, userID, eventID string) (*models.Analysis, error) {
	event, err := o.store.GetEvent(ctx, userID, eventID)
	if err != nil {
		return nil, err
	}

	if _, err := o.ledger.Debit(ctx, userID, models.ActionCalendarAnalysis, eventID); err != nil {
		return nil, err
	}

	conflicts, err := o.conflictsAround(ctx, userID, event)
	if err != nil {
		return nil, err
	}
	involved := conflict.InvolvedIn(conflicts, event.ID)

	analysis := &models.Analysis{
		EventID:   event.ID,
		Conflicts: involved,
	}

	var scores *models.AIAnalysis
	if o.oracle != nil {
		scores, err = o.oracle.Analyze(ctx, &oracle.AnalyzeInput{
			UserID:    userID,
			Event:     *event,
			Conflicts: involved,
		})
		if err != nil {
			metrics.OracleFailuresAfterDebit.Inc()
			logging.Ctx(ctx).Warn().Err(err).
				Str("user_id", userID).
				Str("event_id", eventID).
				Msg("Oracle analyze failed, serving local analysis")
			scores = nil
		}
	}
	if scores == nil {
		metrics.OracleFallbacks.WithLabelValues("analyze").Inc()
		scores = localScores(involved)
		analysis.Degraded = true
	}
	scores.ConflictCount = len(involved)
	scores.AnalyzedAt = time.Now().UTC()
	analysis.Scores = *scores

	if err := o.store.SetEventAnalysis(ctx, userID, event.ID, scores); err != nil {
		// The caller still gets the analysis; only the cache write failed.
		logging.Ctx(ctx).Warn().Err(err).
			Str("event_id", event.ID).
			Msg("Failed to store event analysis")
	}
	return analysis, nil
}

// DetectConflicts runs the local detector over the user's events in the
// window. Free of charge; no oracle involved.
func (o *Orchestrator) DetectConflicts(ctx context.Context, userID string, start, end time.Time) ([]models.ConflictRecord, error) {
	if !start.Before(end) {
		return nil, fmt.Errorf("%w: start must precede end", ErrInvalidRequest)
	}
	events, err := o.store.FindInRange(ctx, userID, start, end)
	if err != nil {
		return nil, err
	}
	events = availability.ExpandRecurrences(events, start, end)
	return conflict.FindConflicts(events, o.opts.BufferThreshold), nil
}

// ResolveConflict proposes a fix for a conflicted event using the given
// strategy. Plans never mutate the calendar; applying one is a separate
// update or delete call. An unknown strategy is an invalid request.
func (o *Orchestrator) ResolveConflict(ctx context.Context, userID, eventID string, strategy models.ResolutionStrategy) (*models.ResolutionPlan, error) {
	event, err := o.store.GetEvent(ctx, userID, eventID)
	if err != nil {
		return nil, err
	}

	switch strategy {
	case models.ResolveReschedule:
		return o.planReschedule(ctx, userID, event)
	case models.ResolveShorten:
		return planShorten(event)
	case models.ResolveCancel:
		return &models.ResolutionPlan{
			Strategy:             models.ResolveCancel,
			EventID:              event.ID,
			Message:              fmt.Sprintf("Cancel %q to clear the conflict. Cancellation requires confirmation.", event.Title),
			RequiresConfirmation: true,
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown resolution strategy %q", ErrInvalidRequest, strategy)
	}
}

// planReschedule searches the next rescheduleSearchDays for free slots
// long enough to hold the event and proposes up to maxAlternatives starts.
func (o *Orchestrator) planReschedule(ctx context.Context, userID string, event *models.CalendarEvent) (*models.ResolutionPlan, error) {
	duration := event.Duration()
	if duration <= 0 {
		duration = 30 * time.Minute
	}
	durationMinutes := int(duration / time.Minute)

	searchStart := event.End
	if now := time.Now().UTC(); searchStart.Before(now) {
		searchStart = now
	}
	searchEnd := searchStart.AddDate(0, 0, rescheduleSearchDays)

	days, err := o.engine.ComputeAvailability(ctx, userID, searchStart, searchEnd, o.availabilityOptions(durationMinutes))
	if err != nil {
		return nil, fmt.Errorf("search for alternatives: %w", err)
	}

	var alternatives []time.Time
	for _, slot := range availability.FreeSlots(days, 0) {
		if slot.Start.Before(searchStart) {
			continue
		}
		alternatives = append(alternatives, slot.Start)
		if len(alternatives) == maxAlternatives {
			break
		}
	}

	start := event.Start
	plan := &models.ResolutionPlan{
		Strategy:     models.ResolveReschedule,
		EventID:      event.ID,
		CurrentStart: &start,
		Alternatives: alternatives,
	}
	if len(alternatives) == 0 {
		plan.Message = fmt.Sprintf("No free slot found for %q within %d days.", event.Title, rescheduleSearchDays)
	} else {
		plan.Message = fmt.Sprintf("Found %d alternative times for %q.", len(alternatives), event.Title)
	}
	return plan, nil
}

// planShorten proposes trimming shortenStep off the event, never below
// shortenFloor. An event already at or below the floor cannot be
// shortened.
func planShorten(event *models.CalendarEvent) (*models.ResolutionPlan, error) {
	duration := event.Duration()
	if duration <= shortenFloor {
		return nil, fmt.Errorf("%w: event %q is already %d minutes or shorter",
			ErrInvalidRequest, event.Title, int(shortenFloor/time.Minute))
	}
	proposed := duration - shortenStep
	if proposed < shortenFloor {
		proposed = shortenFloor
	}
	return &models.ResolutionPlan{
		Strategy:                 models.ResolveShorten,
		EventID:                  event.ID,
		CurrentDurationMinutes:   int(duration / time.Minute),
		SuggestedDurationMinutes: int(proposed / time.Minute),
		Message: fmt.Sprintf("Shorten %q from %d to %d minutes to free up buffer time.",
			event.Title, int(duration/time.Minute), int(proposed/time.Minute)),
	}, nil
}

// conflictsAround fetches the day around the event, expands recurrences
// and runs the detector.
func (o *Orchestrator) conflictsAround(ctx context.Context, userID string, event *models.CalendarEvent) ([]models.ConflictRecord, error) {
	windowStart := event.Start.Add(-24 * time.Hour)
	windowEnd := event.End.Add(24 * time.Hour)
	events, err := o.store.FindInRange(ctx, userID, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}
	events = availability.ExpandRecurrences(events, windowStart, windowEnd)
	return conflict.FindConflicts(events, o.opts.BufferThreshold), nil
}

func (o *Orchestrator) availabilityOptions(durationMinutes int) availability.Options {
	opts := o.opts.Availability
	opts.SlotDuration = time.Duration(durationMinutes) * time.Minute
	return opts
}

// localScores derives what can be known without the oracle: conflict-free
// events score high, conflicted ones low.
func localScores(conflicts []models.ConflictRecord) *models.AIAnalysis {
	score := 0.8
	tags := []string{"local_heuristic"}
	for _, c := range conflicts {
		switch c.Kind {
		case models.ConflictHard:
			score -= 0.3
		case models.ConflictSoft:
			score -= 0.1
		}
	}
	if score < 0.1 {
		score = 0.1
	}
	if len(conflicts) > 0 {
		tags = append(tags, "has_conflicts")
	}
	return &models.AIAnalysis{
		OptimalScore:    score,
		QualitativeTags: tags,
	}
}

// fallbackSuggestions turns the first free slots into unranked proposals.
func fallbackSuggestions(free []models.AvailabilitySlot, durationMinutes int) []models.Suggestion {
	suggestions := make([]models.Suggestion, 0, maxSuggestions)
	for _, slot := range free {
		suggestions = append(suggestions, models.Suggestion{
			Start:           slot.Start,
			DurationMinutes: durationMinutes,
			Score:           0.5,
			Reasons:         []string{"free slot"},
			Fallback:        true,
		})
		if len(suggestions) == maxSuggestions {
			break
		}
	}
	return suggestions
}

// clampSuggestions normalizes oracle output: best first, at most
// maxSuggestions, scores clamped to [0,1], durations defaulted.
func clampSuggestions(suggestions []models.Suggestion, durationMinutes int) []models.Suggestion {
	for i := range suggestions {
		if suggestions[i].DurationMinutes <= 0 {
			suggestions[i].DurationMinutes = durationMinutes
		}
		if suggestions[i].Score < 0 {
			suggestions[i].Score = 0
		}
		if suggestions[i].Score > 1 {
			suggestions[i].Score = 1
		}
	}
	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].Score > suggestions[j].Score
	})
	if len(suggestions) > maxSuggestions {
		suggestions = suggestions[:maxSuggestions]
	}
	return suggestions
}
