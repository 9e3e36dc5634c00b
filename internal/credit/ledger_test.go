// Meridian - AI Scheduling and Credit Metering Backend
// Copyright 2026 Meridian HQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridian-hq/meridian

package credit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/meridian-hq/meridian/internal/database"
	"github.com/meridian-hq/meridian/internal/models"
	"github.com/meridian-hq/meridian/internal/notify"
)

// recordingNotifier captures notifications for assertions.
type recordingNotifier struct {
	mu    sync.Mutex
	calls []recordedNotification
}

type recordedNotification struct {
	UserID  string
	Kind    string
	Payload map[string]interface{}
}

func (r *recordingNotifier) Notify(ctx context.Context, userID, kind string, payload map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, recordedNotification{UserID: userID, Kind: kind, Payload: payload})
}

func (r *recordingNotifier) byKind(kind string) []recordedNotification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recordedNotification
	for _, c := range r.calls {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

func newTestLedger(t *testing.T) (*Ledger, *database.Store, *recordingNotifier) {
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
	notifier := &recordingNotifier{}
	return NewLedger(store, notifier), store, notifier
}

func TestCostTable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		action models.ActionType
		want   models.Credits
	}{
		{models.ActionEmailProcessing, 10},
		{models.ActionDraftGeneration, 20},
		{models.ActionCalendarAnalysis, 10},
		{models.ActionUrgentNotification, 5},
		{models.ActionSmartScheduling, 10},
		{models.ActionAIAnalysis, 10},
		{models.ActionAutoReply, 20},
		{models.ActionMeetingScheduling, 10},
	}
	for _, tt := range tests {
		got, err := Cost(tt.action)
		if err != nil {
			t.Errorf("Cost(%s): %v", tt.action, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Cost(%s) = %s, want %s", tt.action, got, tt.want)
		}
	}

	if _, err := Cost("made_up_action"); !errors.Is(err, ErrUnknownAction) {
		t.Errorf("Cost(made_up_action) = %v, want ErrUnknownAction", err)
	}
}

func TestEnsureAccountGrantsSignupBonusOnce(t *testing.T) {
	t.Parallel()

	ledger, _, _ := newTestLedger(t)
	ctx := context.Background()

	user, err := ledger.EnsureAccount(ctx, "user-1", "one@example.com")
	if err != nil {
		t.Fatalf("EnsureAccount: %v", err)
	}
	if user.Credits.RemainingCredits != SignupGrant {
		t.Errorf("remaining = %s, want %s", user.Credits.RemainingCredits, SignupGrant)
	}

	user, err = ledger.EnsureAccount(ctx, "user-1", "one@example.com")
	if err != nil {
		t.Fatalf("second EnsureAccount: %v", err)
	}
	if user.Credits.TotalCredits != SignupGrant {
		t.Errorf("total = %s after repeat, want %s", user.Credits.TotalCredits, SignupGrant)
	}
}

func TestDebitChargesCost(t *testing.T) {
	t.Parallel()

	ledger, store, _ := newTestLedger(t)
	ctx := context.Background()
	if _, err := ledger.EnsureAccount(ctx, "user-1", "one@example.com"); err != nil {
		t.Fatalf("EnsureAccount: %v", err)
	}

	entry, err := ledger.Debit(ctx, "user-1", models.ActionUrgentNotification, "evt-1")
	if err != nil {
		t.Fatalf("Debit: %v", err)
	}
	if entry.Amount != -5 {
		t.Errorf("entry amount = %s, want -0.5", entry.Amount)
	}
	if entry.RelatedResourceID != "evt-1" {
		t.Errorf("related resource = %q, want evt-1", entry.RelatedResourceID)
	}

	user, err := store.GetUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	want := SignupGrant - 5
	if user.Credits.RemainingCredits != want {
		t.Errorf("remaining = %s, want %s", user.Credits.RemainingCredits, want)
	}
	if err := ledger.VerifyBalance(ctx, "user-1"); err != nil {
		t.Errorf("VerifyBalance: %v", err)
	}
}

func TestDebitInsufficient(t *testing.T) {
	t.Parallel()

	ledger, store, _ := newTestLedger(t)
	ctx := context.Background()
	if _, _, err := store.EnsureUser(ctx, "user-1", "one@example.com", 10); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}

	// draft_generation costs 2 credits; the user has 1.
	_, err := ledger.Debit(ctx, "user-1", models.ActionDraftGeneration, "")
	if !errors.Is(err, database.ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
	if err := ledger.VerifyBalance(ctx, "user-1"); err != nil {
		t.Errorf("VerifyBalance after failed debit: %v", err)
	}
}

func TestDebitUnknownAction(t *testing.T) {
	t.Parallel()

	ledger, _, _ := newTestLedger(t)
	ctx := context.Background()
	if _, err := ledger.EnsureAccount(ctx, "user-1", "one@example.com"); err != nil {
		t.Fatalf("EnsureAccount: %v", err)
	}

	if _, err := ledger.Debit(ctx, "user-1", "teleportation", ""); !errors.Is(err, ErrUnknownAction) {
		t.Errorf("Debit(teleportation) = %v, want ErrUnknownAction", err)
	}
}

func TestDebitFiresLowCreditWarning(t *testing.T) {
	t.Parallel()

	ledger, _, notifier := newTestLedger(t)
	ctx := context.Background()

	// The signup grant equals the threshold, so the very first debit drops
	// the user below it.
	if _, err := ledger.EnsureAccount(ctx, "user-1", "one@example.com"); err != nil {
		t.Fatalf("EnsureAccount: %v", err)
	}
	if _, err := ledger.Debit(ctx, "user-1", models.ActionEmailProcessing, ""); err != nil {
		t.Fatalf("Debit: %v", err)
	}

	warnings := notifier.byKind(notify.KindCreditLow)
	if len(warnings) != 1 {
		t.Fatalf("low-credit warnings = %d, want 1", len(warnings))
	}
	if warnings[0].UserID != "user-1" {
		t.Errorf("warning user = %q, want user-1", warnings[0].UserID)
	}
	remaining, ok := warnings[0].Payload["remaining_credits"].(float64)
	if !ok || remaining != (SignupGrant - 10).Float64() {
		t.Errorf("warning payload remaining_credits = %v, want %v", warnings[0].Payload["remaining_credits"], (SignupGrant - 10).Float64())
	}
}

func TestDebitAboveThresholdStaysQuiet(t *testing.T) {
	t.Parallel()

	ledger, store, notifier := newTestLedger(t)
	ctx := context.Background()
	if _, _, err := store.EnsureUser(ctx, "user-1", "one@example.com", 2000); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}

	if _, err := ledger.Debit(ctx, "user-1", models.ActionEmailProcessing, ""); err != nil {
		t.Fatalf("Debit: %v", err)
	}
	if got := notifier.byKind(notify.KindCreditLow); len(got) != 0 {
		t.Errorf("unexpected low-credit warning with %d remaining", 2000-10)
	}
}

func TestCreditTypesAndIdempotency(t *testing.T) {
	t.Parallel()

	ledger, store, _ := newTestLedger(t)
	ctx := context.Background()
	if _, err := ledger.EnsureAccount(ctx, "user-1", "one@example.com"); err != nil {
		t.Fatalf("EnsureAccount: %v", err)
	}

	if _, err := ledger.Credit(ctx, "user-1", 1000, models.TransactionPurchase, "Starter pack", "pi_1"); err != nil {
		t.Fatalf("Credit(purchase): %v", err)
	}
	if _, err := ledger.Credit(ctx, "user-1", 1000, models.TransactionPurchase, "Starter pack", "pi_1"); !errors.Is(err, database.ErrDuplicateTransaction) {
		t.Fatalf("replayed purchase = %v, want ErrDuplicateTransaction", err)
	}

	// Usage and expiry are ledger-internal types; Credit must refuse them.
	for _, txnType := range []models.TransactionType{models.TransactionUsage, models.TransactionExpiry, "mystery"} {
		if _, err := ledger.Credit(ctx, "user-1", 100, txnType, "", ""); err == nil {
			t.Errorf("Credit(%s) succeeded, want error", txnType)
		}
	}
	if _, err := ledger.Credit(ctx, "user-1", 0, models.TransactionBonus, "", ""); err == nil {
		t.Error("Credit(0) succeeded, want error")
	}

	user, err := store.GetUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if user.Credits.ExpiryDate == nil {
		t.Error("purchase did not set an expiry date")
	}
	want := SignupGrant + 1000
	if user.Credits.RemainingCredits != want {
		t.Errorf("remaining = %s, want %s", user.Credits.RemainingCredits, want)
	}
	if err := ledger.VerifyBalance(ctx, "user-1"); err != nil {
		t.Errorf("VerifyBalance: %v", err)
	}
}

func TestExpireStaleCredits(t *testing.T) {
	t.Parallel()

	ledger, store, notifier := newTestLedger(t)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Hour)
	err := store.PutUser(ctx, &models.User{
		ID:    "stale",
		Email: "stale@example.com",
		Credits: models.CreditBalance{
			TotalCredits:     300,
			RemainingCredits: 300,
			ExpiryDate:       &past,
		},
	})
	if err != nil {
		t.Fatalf("PutUser(stale): %v", err)
	}
	if _, err := ledger.EnsureAccount(ctx, "fresh", "fresh@example.com"); err != nil {
		t.Fatalf("EnsureAccount(fresh): %v", err)
	}

	expired, err := ledger.ExpireStaleCredits(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("ExpireStaleCredits: %v", err)
	}
	if expired != 1 {
		t.Fatalf("expired %d users, want 1", expired)
	}

	stale, err := store.GetUser(ctx, "stale")
	if err != nil {
		t.Fatalf("GetUser(stale): %v", err)
	}
	if stale.Credits.RemainingCredits != 0 {
		t.Errorf("stale remaining = %s, want 0", stale.Credits.RemainingCredits)
	}
	fresh, err := store.GetUser(ctx, "fresh")
	if err != nil {
		t.Fatalf("GetUser(fresh): %v", err)
	}
	if fresh.Credits.RemainingCredits != SignupGrant {
		t.Errorf("fresh remaining = %s, want %s", fresh.Credits.RemainingCredits, SignupGrant)
	}

	notices := notifier.byKind(notify.KindCreditExpired)
	if len(notices) != 1 || notices[0].UserID != "stale" {
		t.Errorf("expiry notifications = %+v, want one for stale", notices)
	}

	// A second sweep finds nothing.
	expired, err = ledger.ExpireStaleCredits(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("second ExpireStaleCredits: %v", err)
	}
	if expired != 0 {
		t.Errorf("second sweep expired %d users, want 0", expired)
	}
}

func TestBalanceSummary(t *testing.T) {
	t.Parallel()

	ledger, _, _ := newTestLedger(t)
	ctx := context.Background()
	if _, err := ledger.EnsureAccount(ctx, "user-1", "one@example.com"); err != nil {
		t.Fatalf("EnsureAccount: %v", err)
	}

	actions := []models.ActionType{
		models.ActionDraftGeneration,
		models.ActionEmailProcessing,
		models.ActionEmailProcessing,
	}
	for _, action := range actions {
		if _, err := ledger.Debit(ctx, "user-1", action, ""); err != nil {
			t.Fatalf("Debit(%s): %v", action, err)
		}
		time.Sleep(time.Millisecond)
	}

	summary, err := ledger.BalanceSummary(ctx, "user-1")
	if err != nil {
		t.Fatalf("BalanceSummary: %v", err)
	}
	if len(summary.RecentUsage) != 3 {
		t.Fatalf("recent usage has %d entries, want 3", len(summary.RecentUsage))
	}
	// Newest first.
	if summary.RecentUsage[0].ActionType != models.ActionEmailProcessing ||
		summary.RecentUsage[2].ActionType != models.ActionDraftGeneration {
		t.Errorf("recent usage order: %s ... %s, want newest first",
			summary.RecentUsage[0].ActionType, summary.RecentUsage[2].ActionType)
	}

	if len(summary.UsageByAction) != 2 {
		t.Fatalf("usage by action has %d rows, want 2", len(summary.UsageByAction))
	}
	// draft_generation 2.0 and email_processing 2x1.0 tie on credits;
	// the tie breaks on action name.
	if summary.UsageByAction[0].ActionType != models.ActionDraftGeneration {
		t.Errorf("first action = %s, want draft_generation", summary.UsageByAction[0].ActionType)
	}
	if summary.UsageByAction[1].UsageCount != 2 {
		t.Errorf("email_processing count = %d, want 2", summary.UsageByAction[1].UsageCount)
	}
	if !summary.LowCreditWarning {
		t.Error("LowCreditWarning = false with remaining below threshold")
	}
}

func TestUsageAnalytics(t *testing.T) {
	t.Parallel()

	ledger, _, _ := newTestLedger(t)
	ctx := context.Background()
	if _, err := ledger.EnsureAccount(ctx, "user-1", "one@example.com"); err != nil {
		t.Fatalf("EnsureAccount: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := ledger.Debit(ctx, "user-1", models.ActionCalendarAnalysis, ""); err != nil {
			t.Fatalf("Debit %d: %v", i, err)
		}
	}
	if _, err := ledger.Debit(ctx, "user-1", models.ActionDraftGeneration, ""); err != nil {
		t.Fatalf("Debit(draft): %v", err)
	}

	report, err := ledger.UsageAnalytics(ctx, "user-1", 0)
	if err != nil {
		t.Fatalf("UsageAnalytics: %v", err)
	}
	if report.PeriodDays != 30 {
		t.Errorf("period = %d, want default 30", report.PeriodDays)
	}
	if report.TotalCreditsUsed != 50 {
		t.Errorf("total used = %s, want 5", report.TotalCreditsUsed)
	}
	if len(report.DailyUsageTrend) != 1 {
		t.Fatalf("trend has %d days, want 1", len(report.DailyUsageTrend))
	}
	if report.DailyUsageTrend[0].ActionCount != 4 {
		t.Errorf("today's action count = %d, want 4", report.DailyUsageTrend[0].ActionCount)
	}
	// calendar_analysis used 3 credits total, draft_generation 2.
	if report.MostUsedAction != models.ActionCalendarAnalysis {
		t.Errorf("most used = %s, want calendar_analysis", report.MostUsedAction)
	}
	wantAvg := 5.0 / 30
	if report.AvgDailyUsage != wantAvg {
		t.Errorf("avg daily = %v, want %v", report.AvgDailyUsage, wantAvg)
	}
	if report.PredictedMonthlyUsage != wantAvg*30 {
		t.Errorf("predicted monthly = %v, want %v", report.PredictedMonthlyUsage, wantAvg*30)
	}
}

func TestVerifyBalanceDetectsDrift(t *testing.T) {
	t.Parallel()

	ledger, store, _ := newTestLedger(t)
	ctx := context.Background()
	if _, err := ledger.EnsureAccount(ctx, "user-1", "one@example.com"); err != nil {
		t.Fatalf("EnsureAccount: %v", err)
	}
	if err := ledger.VerifyBalance(ctx, "user-1"); err != nil {
		t.Fatalf("VerifyBalance on clean ledger: %v", err)
	}

	// Corrupt the cached balance behind the ledger's back.
	user, err := store.GetUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	user.Credits.RemainingCredits += 100
	user.Credits.TotalCredits += 100
	if err := store.PutUser(ctx, user); err != nil {
		t.Fatalf("PutUser: %v", err)
	}

	if err := ledger.VerifyBalance(ctx, "user-1"); err == nil {
		t.Error("VerifyBalance did not detect drift")
	}
}
