// Meridian - AI Scheduling and Credit Metering Backend
// Copyright 2026 Meridian HQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridian-hq/meridian

// Package credit implements the credit ledger: the metering layer every
// billable AI action passes through before it runs. Balances live in the
// store as a cached view over an append-only transaction log; this package
// owns the cost table and the only code paths that move credits.
package credit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-hq/meridian/internal/database"
	"github.com/meridian-hq/meridian/internal/logging"
	"github.com/meridian-hq/meridian/internal/metrics"
	"github.com/meridian-hq/meridian/internal/models"
	"github.com/meridian-hq/meridian/internal/notify"
)

// Amounts are fixed point, tenths of a credit.
const (
	// SignupGrant is the bonus applied when an account is first seen.
	SignupGrant models.Credits = 500

	// LowCreditThreshold triggers the low-balance notification when a
	// debit leaves the user at or below it.
	LowCreditThreshold models.Credits = 500

	// PurchaseValidity is how long purchased credits stay usable.
	PurchaseValidity = 12 * 30 * 24 * time.Hour
)

// costs is the per-action price list. Changing a price here changes it
// everywhere; no other package may hardcode a cost.
var costs = map[models.ActionType]models.Credits{
	models.ActionEmailProcessing:    10,
	models.ActionDraftGeneration:    20,
	models.ActionCalendarAnalysis:   10,
	models.ActionUrgentNotification: 5,
	models.ActionSmartScheduling:    10,
	models.ActionAIAnalysis:         10,
	models.ActionAutoReply:          20,
	models.ActionMeetingScheduling:  10,
}

// ErrUnknownAction is returned for an action type missing from the cost
// table. Unknown actions are never free.
var ErrUnknownAction = errors.New("unknown action type")

// Cost returns the fixed-point price of an action.
func Cost(action models.ActionType) (models.Credits, error) {
	c, ok := costs[action]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	return c, nil
}

// Ledger is the credit accounting service.
type Ledger struct {
	store    *database.Store
	notifier notify.Notifier
}

// NewLedger builds a Ledger. notifier may be nil, in which case alerts
// are discarded.
func NewLedger(store *database.Store, notifier notify.Notifier) *Ledger {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &Ledger{store: store, notifier: notifier}
}

// EnsureAccount creates the user's credit account on first contact,
// applying the signup grant. Existing accounts are returned unchanged.
func (l *Ledger) EnsureAccount(ctx context.Context, userID, email string) (*models.User, error) {
	user, created, err := l.store.EnsureUser(ctx, userID, email, SignupGrant)
	if err != nil {
		return nil, fmt.Errorf("ensure account: %w", err)
	}
	if created {
		metrics.CreditsGranted.WithLabelValues(string(models.TransactionBonus)).Add(SignupGrant.Float64())
		logging.Ctx(ctx).Info().
			Str("user_id", userID).
			Str("credits", SignupGrant.String()).
			Msg("Signup credit grant applied")
	}
	return user, nil
}

// HasSufficient reports whether the user can afford the action right now.
// The answer is advisory; Debit re-checks atomically.
func (l *Ledger) HasSufficient(ctx context.Context, userID string, action models.ActionType) (bool, error) {
	cost, err := Cost(action)
	if err != nil {
		return false, err
	}
	user, err := l.store.GetUser(ctx, userID)
	if err != nil {
		return false, err
	}
	return user.Credits.RemainingCredits >= cost, nil
}

// Debit charges the user for an action, writing the balance update and
// the usage entry in one atomic transaction. Returns
// database.ErrInsufficientCredits without side effects when the balance
// cannot cover the cost.
//
// relatedResourceID links the charge to the thing it paid for (an event
// ID, a suggestion request) and may be empty.
func (l *Ledger) Debit(ctx context.Context, userID string, action models.ActionType, relatedResourceID string) (*models.CreditTransaction, error) {
	cost, err := Cost(action)
	if err != nil {
		metrics.CreditDebits.WithLabelValues(string(action), "error").Inc()
		return nil, err
	}

	entry := &models.CreditTransaction{
		ID:                uuid.NewString(),
		Description:       fmt.Sprintf("Used %s credits for %s", cost, action),
		ActionType:        action,
		RelatedResourceID: relatedResourceID,
	}
	if err := l.store.DebitCredits(ctx, userID, cost, entry); err != nil {
		if errors.Is(err, database.ErrInsufficientCredits) {
			metrics.CreditDebits.WithLabelValues(string(action), "insufficient").Inc()
			return nil, err
		}
		metrics.CreditDebits.WithLabelValues(string(action), "error").Inc()
		return nil, fmt.Errorf("debit %s for %s: %w", cost, action, err)
	}
	metrics.CreditDebits.WithLabelValues(string(action), "ok").Inc()

	l.maybeWarnLowCredits(ctx, userID)
	return entry, nil
}

// maybeWarnLowCredits fires the low-balance notification when the user
// has dropped to the threshold. Read failures are logged, never surfaced;
// the debit already succeeded.
func (l *Ledger) maybeWarnLowCredits(ctx context.Context, userID string) {
	user, err := l.store.GetUser(ctx, userID)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).
			Str("user_id", userID).
			Msg("Could not check balance for low-credit warning")
		return
	}
	if user.Credits.RemainingCredits > LowCreditThreshold {
		return
	}
	l.notifier.Notify(ctx, userID, notify.KindCreditLow, map[string]interface{}{
		"remaining_credits": user.Credits.RemainingCredits.Float64(),
		"threshold":         LowCreditThreshold.Float64(),
	})
}

// Credit grants credits to the user. idempotencyKey deduplicates retried
// grants (payment webhooks replay); a replay returns the
// database.ErrDuplicateTransaction sentinel and writes nothing.
//
// Purchases and subscription renewals extend the balance's expiry date by
// PurchaseValidity from now.
func (l *Ledger) Credit(ctx context.Context, userID string, amount models.Credits, txnType models.TransactionType, description, idempotencyKey string) (*models.CreditTransaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("credit amount must be positive, got %s", amount)
	}
	switch txnType {
	case models.TransactionPurchase, models.TransactionRefund, models.TransactionBonus, models.TransactionSubscription:
	default:
		return nil, fmt.Errorf("transaction type %q cannot grant credits", txnType)
	}

	var expiry *time.Time
	if txnType == models.TransactionPurchase || txnType == models.TransactionSubscription {
		e := time.Now().UTC().Add(PurchaseValidity)
		expiry = &e
	}

	entry := &models.CreditTransaction{
		ID:              uuid.NewString(),
		Type:            txnType,
		Description:     description,
		PaymentIntentID: idempotencyKey,
	}
	if err := l.store.AddCredits(ctx, userID, amount, entry, idempotencyKey, expiry); err != nil {
		if errors.Is(err, database.ErrDuplicateTransaction) {
			return nil, err
		}
		return nil, fmt.Errorf("credit %s (%s): %w", amount, txnType, err)
	}
	metrics.CreditsGranted.WithLabelValues(string(txnType)).Add(amount.Float64())
	logging.Ctx(ctx).Info().
		Str("user_id", userID).
		Str("credits", amount.String()).
		Str("transaction_type", string(txnType)).
		Msg("Credits granted")
	return entry, nil
}

// ExpireStaleCredits zeroes the balance of every user whose expiry date
// has passed, one user per transaction so a failure mid-batch leaves the
// rest untouched. Returns the number of users whose credits were removed.
func (l *Ledger) ExpireStaleCredits(ctx context.Context, now time.Time) (int, error) {
	userIDs, err := l.store.UsersPastCreditExpiry(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("scan for expired credits: %w", err)
	}

	expired := 0
	for _, userID := range userIDs {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		amount, err := l.store.ZeroCredits(ctx, userID)
		if err != nil {
			logging.Ctx(ctx).Error().Err(err).
				Str("user_id", userID).
				Msg("Failed to expire credits")
			continue
		}
		metrics.CreditExpiryUsers.Inc()
		if amount == 0 {
			continue
		}
		expired++
		metrics.CreditsExpired.Add(amount.Float64())
		logging.Ctx(ctx).Info().
			Str("user_id", userID).
			Str("credits", amount.String()).
			Msg("Expired credits removed")
		l.notifier.Notify(ctx, userID, notify.KindCreditExpired, map[string]interface{}{
			"expired_credits": amount.Float64(),
		})
	}
	return expired, nil
}

// BalanceSummary returns the cached balance together with recent usage
// and the per-action breakdown.
func (l *Ledger) BalanceSummary(ctx context.Context, userID string) (*models.BalanceSummary, error) {
	user, err := l.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	recent, err := l.store.ListTransactions(ctx, userID, models.TransactionUsage, 10)
	if err != nil {
		return nil, fmt.Errorf("recent usage: %w", err)
	}
	all, err := l.store.ListTransactions(ctx, userID, models.TransactionUsage, 0)
	if err != nil {
		return nil, fmt.Errorf("usage history: %w", err)
	}

	// Recent usage reads newest first.
	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}

	return &models.BalanceSummary{
		Balance:          user.Credits,
		RecentUsage:      recent,
		UsageByAction:    usageByAction(all),
		LowCreditWarning: user.Credits.RemainingCredits <= LowCreditThreshold,
	}, nil
}

// UsageAnalytics rebuilds the usage report for the trailing window from
// the transaction log. periodDays <= 0 defaults to 30.
func (l *Ledger) UsageAnalytics(ctx context.Context, userID string, periodDays int) (*models.UsageAnalytics, error) {
	if periodDays <= 0 {
		periodDays = 30
	}
	all, err := l.store.ListTransactions(ctx, userID, models.TransactionUsage, 0)
	if err != nil {
		return nil, fmt.Errorf("usage history: %w", err)
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -periodDays)
	var window []models.CreditTransaction
	for _, txn := range all {
		if !txn.CreatedAt.Before(cutoff) {
			window = append(window, txn)
		}
	}

	var total models.Credits
	daily := make(map[string]*models.DailyUsage)
	for _, txn := range window {
		used := -txn.Amount
		total += used
		day := txn.CreatedAt.UTC().Format("2006-01-02")
		d, ok := daily[day]
		if !ok {
			d = &models.DailyUsage{Date: day}
			daily[day] = d
		}
		d.CreditsUsed += used
		d.ActionCount++
	}

	trend := make([]models.DailyUsage, 0, len(daily))
	for _, d := range daily {
		trend = append(trend, *d)
	}
	sort.Slice(trend, func(i, j int) bool { return trend[i].Date < trend[j].Date })

	byAction := usageByAction(window)
	var mostUsed models.ActionType
	if len(byAction) > 0 {
		mostUsed = byAction[0].ActionType
	}

	avgDaily := total.Float64() / float64(periodDays)
	return &models.UsageAnalytics{
		PeriodDays:            periodDays,
		TotalCreditsUsed:      total,
		AvgDailyUsage:         avgDaily,
		PredictedMonthlyUsage: avgDaily * 30,
		DailyUsageTrend:       trend,
		UsageByAction:         byAction,
		MostUsedAction:        mostUsed,
	}, nil
}

// VerifyBalance replays the user's ledger from zero and checks the result
// against the cached balance. Used by tests and the consistency endpoint.
func (l *Ledger) VerifyBalance(ctx context.Context, userID string) error {
	user, err := l.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	replayed, err := l.store.ReplayBalance(ctx, userID)
	if err != nil {
		return fmt.Errorf("replay ledger: %w", err)
	}
	if replayed.TotalCredits != user.Credits.TotalCredits ||
		replayed.UsedCredits != user.Credits.UsedCredits ||
		replayed.RemainingCredits != user.Credits.RemainingCredits {
		return fmt.Errorf("balance drift for %s: cached total=%s used=%s remaining=%s, replayed total=%s used=%s remaining=%s",
			userID,
			user.Credits.TotalCredits, user.Credits.UsedCredits, user.Credits.RemainingCredits,
			replayed.TotalCredits, replayed.UsedCredits, replayed.RemainingCredits)
	}
	return user.Credits.CheckInvariant()
}

// usageByAction aggregates usage entries per action, most expensive
// first. Ties break on action name so output is stable.
func usageByAction(txns []models.CreditTransaction) []models.ActionUsage {
	agg := make(map[models.ActionType]*models.ActionUsage)
	for _, txn := range txns {
		if txn.Type != models.TransactionUsage || txn.ActionType == "" {
			continue
		}
		a, ok := agg[txn.ActionType]
		if !ok {
			a = &models.ActionUsage{ActionType: txn.ActionType}
			agg[txn.ActionType] = a
		}
		a.TotalCredits += -txn.Amount
		a.UsageCount++
	}
	out := make([]models.ActionUsage, 0, len(agg))
	for _, a := range agg {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalCredits != out[j].TotalCredits {
			return out[i].TotalCredits > out[j].TotalCredits
		}
		return out[i].ActionType < out[j].ActionType
	})
	return out
}
