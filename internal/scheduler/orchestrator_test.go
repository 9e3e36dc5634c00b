// Meridian - AI Scheduling and Credit Metering Backend
// Copyright 2026 Meridian HQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridian-hq/meridian

package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/meridian-hq/meridian/internal/availability"
	"github.com/meridian-hq/meridian/internal/credit"
	"github.com/meridian-hq/meridian/internal/database"
	"github.com/meridian-hq/meridian/internal/metrics"
	"github.com/meridian-hq/meridian/internal/models"
	"github.com/meridian-hq/meridian/internal/oracle"
)

var day = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func at(h, m int) time.Time {
	return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

// fakeOracle scripts Suggest/Analyze responses and records calls.
type fakeOracle struct {
	suggestions []models.Suggestion
	analysis    *models.AIAnalysis
	err         error

	suggestCalls int
	analyzeCalls int
	lastSuggest  *oracle.SuggestInput
}

func (f *fakeOracle) Suggest(ctx context.Context, in *oracle.SuggestInput) ([]models.Suggestion, error) {
	f.suggestCalls++
	f.lastSuggest = in
	if f.err != nil {
		return nil, f.err
	}
	return f.suggestions, nil
}

func (f *fakeOracle) Analyze(ctx context.Context, in *oracle.AnalyzeInput) (*models.AIAnalysis, error) {
	f.analyzeCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.analysis, nil
}

type fixture struct {
	store  *database.Store
	ledger *credit.Ledger
	orch   *Orchestrator
	oracle *fakeOracle
}

func newFixture(t *testing.T, oracleClient oracle.Client) *fixture {
	t.Helper()

	store, err := database.Open(database.Config{Path: ""})
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})

	ledger := credit.NewLedger(store, nil)
	engine := availability.NewEngine(store)
	orch := New(store, ledger, engine, oracleClient, Options{})

	f := &fixture{store: store, ledger: ledger, orch: orch}
	if fo, ok := oracleClient.(*fakeOracle); ok {
		f.oracle = fo
	}
	if _, err := ledger.EnsureAccount(context.Background(), "user-1", "one@example.com"); err != nil {
		t.Fatalf("EnsureAccount: %v", err)
	}
	return f
}

func (f *fixture) addEvent(t *testing.T, id, title string, start, end time.Time) *models.CalendarEvent {
	t.Helper()
	event := &models.CalendarEvent{
		ID:       id,
		UserID:   "user-1",
		Provider: models.ProviderLocal,
		Title:    title,
		Start:    start,
		End:      end,
	}
	if err := f.store.CreateEvent(context.Background(), event); err != nil {
		t.Fatalf("CreateEvent(%s): %v", title, err)
	}
	return event
}

func (f *fixture) remaining(t *testing.T) models.Credits {
	t.Helper()
	user, err := f.store.GetUser(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	return user.Credits.RemainingCredits
}

func weekSpec(durationMinutes int) *models.MeetingSpec {
	return &models.MeetingSpec{
		Title:           "Planning",
		DurationMinutes: durationMinutes,
		RangeStart:      at(0, 0),
		RangeEnd:        day.AddDate(0, 0, 2),
	}
}

func TestSuggestTimesUsesOracle(t *testing.T) {
	t.Parallel()

	fo := &fakeOracle{suggestions: []models.Suggestion{
		{Start: at(9, 0), Score: 0.4},
		{Start: at(14, 0), Score: 0.9},
		{Start: at(10, 0), Score: 1.7},  // clamped to 1
		{Start: at(11, 0), Score: -0.2}, // clamped to 0
	}}
	f := newFixture(t, fo)

	suggestions, degraded, err := f.orch.SuggestTimes(context.Background(), "user-1", weekSpec(30))
	if err != nil {
		t.Fatalf("SuggestTimes: %v", err)
	}
	if degraded {
		t.Error("degraded = true with a healthy oracle")
	}
	if fo.suggestCalls != 1 {
		t.Errorf("oracle called %d times, want 1", fo.suggestCalls)
	}
	if len(suggestions) != 4 {
		t.Fatalf("got %d suggestions, want 4", len(suggestions))
	}
	// Best first, scores clamped, durations defaulted.
	if suggestions[0].Score != 1 || !suggestions[0].Start.Equal(at(10, 0)) {
		t.Errorf("top suggestion = %+v, want 10:00 at score 1", suggestions[0])
	}
	if fo.lastSuggest == nil || fo.lastSuggest.UserID != "user-1" {
		t.Fatalf("oracle input = %+v", fo.lastSuggest)
	}
	if len(fo.lastSuggest.FreeSlots) == 0 {
		t.Error("oracle input carried no free slots")
	}
	if suggestions[len(suggestions)-1].Score != 0 {
		t.Errorf("last score = %v, want clamped 0", suggestions[len(suggestions)-1].Score)
	}
	for i, s := range suggestions {
		if s.DurationMinutes != 30 {
			t.Errorf("suggestion %d duration = %d, want defaulted 30", i, s.DurationMinutes)
		}
		if s.Fallback {
			t.Errorf("suggestion %d marked fallback", i)
		}
	}

	// One smart_scheduling debit.
	if got, want := f.remaining(t), credit.SignupGrant-10; got != want {
		t.Errorf("remaining = %s, want %s", got, want)
	}
}

func TestSuggestTimesCapsOracleOutput(t *testing.T) {
	t.Parallel()

	var many []models.Suggestion
	for i := 0; i < 9; i++ {
		many = append(many, models.Suggestion{Start: at(9+i, 0), Score: 0.5})
	}
	f := newFixture(t, &fakeOracle{suggestions: many})

	suggestions, _, err := f.orch.SuggestTimes(context.Background(), "user-1", weekSpec(30))
	if err != nil {
		t.Fatalf("SuggestTimes: %v", err)
	}
	if len(suggestions) != 5 {
		t.Errorf("got %d suggestions, want capped 5", len(suggestions))
	}
}

func TestSuggestTimesFallsBackWhenOracleFails(t *testing.T) {
	t.Parallel()

	fo := &fakeOracle{err: oracle.ErrUnavailable}
	f := newFixture(t, fo)

	suggestions, degraded, err := f.orch.SuggestTimes(context.Background(), "user-1", weekSpec(30))
	if err != nil {
		t.Fatalf("SuggestTimes: %v", err)
	}
	if !degraded {
		t.Error("degraded = false after oracle failure")
	}
	if len(suggestions) == 0 || len(suggestions) > 5 {
		t.Fatalf("got %d fallback suggestions, want 1..5", len(suggestions))
	}
	for i, s := range suggestions {
		if !s.Fallback {
			t.Errorf("suggestion %d not marked fallback", i)
		}
		if s.Score != 0.5 {
			t.Errorf("suggestion %d score = %v, want 0.5", i, s.Score)
		}
	}

	// The debit stands even though the oracle failed.
	if got, want := f.remaining(t), credit.SignupGrant-10; got != want {
		t.Errorf("remaining = %s, want %s (debit must stand)", got, want)
	}
}

func TestSuggestTimesNilOracle(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	suggestions, degraded, err := f.orch.SuggestTimes(context.Background(), "user-1", weekSpec(30))
	if err != nil {
		t.Fatalf("SuggestTimes: %v", err)
	}
	if !degraded {
		t.Error("degraded = false without an oracle")
	}
	if len(suggestions) == 0 {
		t.Error("no fallback suggestions without an oracle")
	}
}

func TestSuggestTimesInsufficientCreditsSkipsOracle(t *testing.T) {
	t.Parallel()

	fo := &fakeOracle{}
	f := newFixture(t, fo)

	// Burn the balance down to under one action.
	for {
		if _, err := f.ledger.Debit(context.Background(), "user-1", models.ActionDraftGeneration, ""); err != nil {
			break
		}
	}
	before := f.remaining(t)

	_, _, err := f.orch.SuggestTimes(context.Background(), "user-1", weekSpec(30))
	if !errors.Is(err, database.ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
	if fo.suggestCalls != 0 {
		t.Errorf("oracle called %d times despite failed debit", fo.suggestCalls)
	}
	if got := f.remaining(t); got != before {
		t.Errorf("remaining changed from %s to %s on failed debit", before, got)
	}
}

func TestSuggestTimesValidation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeOracle{})
	ctx := context.Background()

	spec := weekSpec(0)
	if _, _, err := f.orch.SuggestTimes(ctx, "user-1", spec); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("zero duration = %v, want ErrInvalidRequest", err)
	}

	spec = weekSpec(30)
	spec.RangeStart, spec.RangeEnd = spec.RangeEnd, spec.RangeStart
	if _, _, err := f.orch.SuggestTimes(ctx, "user-1", spec); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("inverted range = %v, want ErrInvalidRequest", err)
	}

	// Validation failures are free.
	if got := f.remaining(t); got != credit.SignupGrant {
		t.Errorf("remaining = %s after invalid requests, want %s", got, credit.SignupGrant)
	}
}

func TestAnalyzeEventWithOracle(t *testing.T) {
	t.Parallel()

	fo := &fakeOracle{analysis: &models.AIAnalysis{
		OptimalScore:       0.9,
		ProductivityImpact: "low",
	}}
	f := newFixture(t, fo)
	ctx := context.Background()

	event := f.addEvent(t, "evt-1", "Focus block", at(10, 0), at(11, 0))
	f.addEvent(t, "evt-2", "Overlap", at(10, 30), at(11, 30))

	analysis, err := f.orch.AnalyzeEvent(ctx, "user-1", event.ID)
	if err != nil {
		t.Fatalf("AnalyzeEvent: %v", err)
	}
	if analysis.Degraded {
		t.Error("degraded = true with a healthy oracle")
	}
	if analysis.Scores.OptimalScore != 0.9 {
		t.Errorf("score = %v, want the oracle's 0.9", analysis.Scores.OptimalScore)
	}
	// Conflicts are authoritative locally even when the oracle answers.
	if len(analysis.Conflicts) != 1 || analysis.Conflicts[0].Kind != models.ConflictHard {
		t.Fatalf("conflicts = %+v, want one hard conflict", analysis.Conflicts)
	}
	if analysis.Scores.ConflictCount != 1 {
		t.Errorf("conflict count = %d, want 1", analysis.Scores.ConflictCount)
	}
	if analysis.Scores.AnalyzedAt.IsZero() {
		t.Error("AnalyzedAt not set")
	}

	// Scores are written back onto the event.
	stored, err := f.store.GetEvent(ctx, "user-1", event.ID)
	if err != nil {
		t.Fatalf("GetEvent: %v", err)
	}
	if stored.AIAnalysis == nil || stored.AIAnalysis.OptimalScore != 0.9 {
		t.Errorf("stored analysis = %+v, want score 0.9", stored.AIAnalysis)
	}

	// One calendar_analysis debit.
	if got, want := f.remaining(t), credit.SignupGrant-10; got != want {
		t.Errorf("remaining = %s, want %s", got, want)
	}
}

func TestAnalyzeEventDegradesLocally(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeOracle{err: oracle.ErrUnavailable})
	ctx := context.Background()

	event := f.addEvent(t, "evt-1", "Focus block", at(10, 0), at(11, 0))
	f.addEvent(t, "evt-2", "Overlap", at(10, 30), at(11, 30))
	f.addEvent(t, "evt-3", "Tight follow-up", at(11, 35), at(12, 0))

	analysis, err := f.orch.AnalyzeEvent(ctx, "user-1", event.ID)
	if err != nil {
		t.Fatalf("AnalyzeEvent: %v", err)
	}
	if !analysis.Degraded {
		t.Error("degraded = false after oracle failure")
	}
	// evt-1 is in one hard conflict: 0.8 - 0.3.
	if got := analysis.Scores.OptimalScore; got < 0.49 || got > 0.51 {
		t.Errorf("local score = %v, want 0.5", got)
	}
	if len(analysis.Conflicts) != 1 {
		t.Errorf("conflicts touching evt-1 = %d, want 1", len(analysis.Conflicts))
	}
}

func TestAnalyzeEventNotFound(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeOracle{})
	_, err := f.orch.AnalyzeEvent(context.Background(), "user-1", "missing")
	if !errors.Is(err, database.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	// No charge for an event that does not exist.
	if got := f.remaining(t); got != credit.SignupGrant {
		t.Errorf("remaining = %s, want %s", got, credit.SignupGrant)
	}
}

func TestDetectConflictsIsFree(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	ctx := context.Background()
	f.addEvent(t, "a", "One", at(10, 0), at(11, 0))
	f.addEvent(t, "b", "Two", at(10, 30), at(11, 30))

	conflicts, err := f.orch.DetectConflicts(ctx, "user-1", at(0, 0), day.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("DetectConflicts: %v", err)
	}
	if len(conflicts) != 1 || conflicts[0].Kind != models.ConflictHard {
		t.Fatalf("conflicts = %+v, want one hard", conflicts)
	}
	if got := f.remaining(t); got != credit.SignupGrant {
		t.Errorf("DetectConflicts charged credits: remaining %s", got)
	}

	if _, err := f.orch.DetectConflicts(ctx, "user-1", at(10, 0), at(10, 0)); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("empty window = %v, want ErrInvalidRequest", err)
	}
}

func TestSuggestTimesForwardsExistingEvents(t *testing.T) {
	t.Parallel()

	fo := &fakeOracle{suggestions: []models.Suggestion{{Start: at(9, 0), Score: 0.5}}}
	f := newFixture(t, fo)
	ctx := context.Background()

	f.addEvent(t, "busy", "Existing meeting", at(10, 0), at(11, 0))

	// Weekly series whose base predates the range; only its occurrence
	// falls inside.
	base := day.AddDate(0, 0, -28).Add(9 * time.Hour)
	weekly := &models.CalendarEvent{
		ID:         "series",
		UserID:     "user-1",
		Provider:   models.ProviderLocal,
		Title:      "Weekly standup",
		Start:      base,
		End:        base.Add(30 * time.Minute),
		Recurrence: &models.Recurrence{RRule: "FREQ=WEEKLY;BYDAY=MO"},
	}
	if err := f.store.CreateEvent(ctx, weekly); err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}

	if _, _, err := f.orch.SuggestTimes(ctx, "user-1", weekSpec(30)); err != nil {
		t.Fatalf("SuggestTimes: %v", err)
	}
	in := fo.lastSuggest
	if in == nil {
		t.Fatal("oracle was not called")
	}
	var sawBusy, sawOccurrence bool
	for _, ev := range in.Events {
		if ev.ID == "busy" {
			sawBusy = true
		}
		if ev.ID == "series" && ev.Start.Equal(at(9, 0)) {
			sawOccurrence = true
		}
	}
	if !sawBusy {
		t.Error("existing one-off event missing from oracle input")
	}
	if !sawOccurrence {
		t.Error("expanded recurring occurrence missing from oracle input")
	}
}

func TestOracleFailureCounterTracksOracleCallsOnly(t *testing.T) {
	// Not parallel: reads a process-global counter.
	fo := &fakeOracle{err: oracle.ErrUnavailable}
	f := newFixture(t, fo)
	ctx := context.Background()

	before := testutil.ToFloat64(metrics.OracleFailuresAfterDebit)

	// Validation failures return before the debit and the oracle.
	if _, _, err := f.orch.SuggestTimes(ctx, "user-1", weekSpec(0)); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("zero duration = %v, want ErrInvalidRequest", err)
	}
	if got := testutil.ToFloat64(metrics.OracleFailuresAfterDebit); got != before {
		t.Fatalf("counter moved on a validation failure: %v -> %v", before, got)
	}

	// A failed oracle call after a successful debit is counted once.
	_, degraded, err := f.orch.SuggestTimes(ctx, "user-1", weekSpec(30))
	if err != nil {
		t.Fatalf("SuggestTimes: %v", err)
	}
	if !degraded {
		t.Fatal("degraded = false with a failing oracle")
	}
	if got := testutil.ToFloat64(metrics.OracleFailuresAfterDebit); got != before+1 {
		t.Fatalf("counter = %v, want %v", got, before+1)
	}
}

func TestDetectConflictsSeesRecurringOccurrence(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	ctx := context.Background()

	// Weekly series whose base lies four weeks before the scanned window.
	weekly := &models.CalendarEvent{
		ID:         "series",
		UserID:     "user-1",
		Provider:   models.ProviderLocal,
		Title:      "Weekly standup",
		Start:      at(9, 0),
		End:        at(9, 30),
		Recurrence: &models.Recurrence{RRule: "FREQ=WEEKLY;BYDAY=MO"},
	}
	if err := f.store.CreateEvent(ctx, weekly); err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}

	nextMonday := day.AddDate(0, 0, 28)
	f.addEvent(t, "clash", "One-off", nextMonday.Add(9*time.Hour), nextMonday.Add(10*time.Hour))

	conflicts, err := f.orch.DetectConflicts(ctx, "user-1", nextMonday, nextMonday.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("DetectConflicts: %v", err)
	}
	if len(conflicts) != 1 || conflicts[0].Kind != models.ConflictHard {
		t.Fatalf("conflicts = %+v, want one hard conflict with the expanded occurrence", conflicts)
	}
}

func TestResolveConflictReschedule(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	// Future event so the search window starts at its end.
	start := time.Now().UTC().AddDate(0, 0, 1).Truncate(time.Hour)
	event := f.addEvent(t, "evt-1", "Clash", start, start.Add(time.Hour))

	plan, err := f.orch.ResolveConflict(context.Background(), "user-1", event.ID, models.ResolveReschedule)
	if err != nil {
		t.Fatalf("ResolveConflict: %v", err)
	}
	if plan.Strategy != models.ResolveReschedule {
		t.Errorf("strategy = %s, want reschedule", plan.Strategy)
	}
	if len(plan.Alternatives) == 0 || len(plan.Alternatives) > 3 {
		t.Fatalf("got %d alternatives, want 1..3", len(plan.Alternatives))
	}
	for i, alt := range plan.Alternatives {
		if alt.Before(event.End) {
			t.Errorf("alternative %d (%v) is before the event ends", i, alt)
		}
	}
	if plan.CurrentStart == nil || !plan.CurrentStart.Equal(event.Start) {
		t.Errorf("current start = %v, want %v", plan.CurrentStart, event.Start)
	}
}

func TestResolveConflictShorten(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	ctx := context.Background()

	long := f.addEvent(t, "evt-1", "Long", at(10, 0), at(11, 0))
	plan, err := f.orch.ResolveConflict(ctx, "user-1", long.ID, models.ResolveShorten)
	if err != nil {
		t.Fatalf("ResolveConflict(shorten): %v", err)
	}
	if plan.CurrentDurationMinutes != 60 || plan.SuggestedDurationMinutes != 45 {
		t.Errorf("shorten 60 -> %d, want 45", plan.SuggestedDurationMinutes)
	}

	// 20 minutes trims to the floor, not below it.
	short := f.addEvent(t, "evt-2", "Short", at(12, 0), at(12, 20))
	plan, err = f.orch.ResolveConflict(ctx, "user-1", short.ID, models.ResolveShorten)
	if err != nil {
		t.Fatalf("ResolveConflict(shorten short): %v", err)
	}
	if plan.SuggestedDurationMinutes != 15 {
		t.Errorf("shorten 20 -> %d, want floor 15", plan.SuggestedDurationMinutes)
	}

	// At the floor already: nothing left to trim.
	minimal := f.addEvent(t, "evt-3", "Minimal", at(13, 0), at(13, 15))
	if _, err := f.orch.ResolveConflict(ctx, "user-1", minimal.ID, models.ResolveShorten); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("shorten 15-minute event = %v, want ErrInvalidRequest", err)
	}
}

func TestResolveConflictCancel(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	ctx := context.Background()
	event := f.addEvent(t, "evt-1", "Doomed", at(10, 0), at(11, 0))

	plan, err := f.orch.ResolveConflict(ctx, "user-1", event.ID, models.ResolveCancel)
	if err != nil {
		t.Fatalf("ResolveConflict(cancel): %v", err)
	}
	if !plan.RequiresConfirmation {
		t.Error("cancel plan does not require confirmation")
	}

	// Proposing never mutates the calendar.
	stored, err := f.store.GetEvent(ctx, "user-1", event.ID)
	if err != nil {
		t.Fatalf("GetEvent: %v", err)
	}
	if stored.Status != models.StatusConfirmed {
		t.Errorf("event status = %s after cancel plan, want confirmed", stored.Status)
	}
}

func TestResolveConflictUnknownStrategy(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	event := f.addEvent(t, "evt-1", "Whatever", at(10, 0), at(11, 0))

	if _, err := f.orch.ResolveConflict(context.Background(), "user-1", event.ID, "negotiate"); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("unknown strategy = %v, want ErrInvalidRequest", err)
	}
	if _, err := f.orch.ResolveConflict(context.Background(), "user-1", "missing", models.ResolveCancel); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("missing event = %v, want ErrNotFound", err)
	}
}
