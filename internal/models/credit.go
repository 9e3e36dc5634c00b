// Meridian - AI Scheduling and Credit Metering Backend
// Copyright 2026 Meridian HQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridian-hq/meridian

package models

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

// Credits is a fixed-point credit amount in tenths of a credit.
// 10 Credits == 1.0 user-visible credit. Integer arithmetic keeps the
// ledger exact for half-credit action costs.
type Credits int64

// CreditsFromFloat converts a user-visible credit amount to fixed point,
// rounding to the nearest tenth.
func CreditsFromFloat(v float64) Credits {
	return Credits(math.Round(v * 10))
}

// Float64 returns the user-visible credit amount.
func (c Credits) Float64() float64 { return float64(c) / 10 }

// String formats the amount the way users see it: "2", "0.5", "-1.5".
func (c Credits) String() string {
	if c%10 == 0 {
		return strconv.FormatInt(int64(c)/10, 10)
	}
	return strconv.FormatFloat(c.Float64(), 'f', 1, 64)
}

// MarshalJSON emits the user-visible amount as a JSON number.
func (c Credits) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatFloat(c.Float64(), 'f', -1, 64)), nil
}

// UnmarshalJSON accepts a JSON number in user-visible credits.
func (c *Credits) UnmarshalJSON(data []byte) error {
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("credits: %w", err)
	}
	*c = CreditsFromFloat(v)
	return nil
}

// ActionType names a billable feature.
type ActionType string

// Billable actions. Costs live in the credit package's cost table.
const (
	ActionEmailProcessing    ActionType = "email_processing"
	ActionDraftGeneration    ActionType = "draft_generation"
	ActionCalendarAnalysis   ActionType = "calendar_analysis"
	ActionUrgentNotification ActionType = "urgent_notification"
	ActionSmartScheduling    ActionType = "smart_scheduling"
	ActionAIAnalysis         ActionType = "ai_analysis"
	ActionAutoReply          ActionType = "auto_reply"
	ActionMeetingScheduling  ActionType = "meeting_scheduling"
)

// TransactionType classifies a ledger entry.
type TransactionType string

const (
	TransactionPurchase     TransactionType = "purchase"
	TransactionUsage        TransactionType = "usage"
	TransactionRefund       TransactionType = "refund"
	TransactionBonus        TransactionType = "bonus"
	TransactionExpiry       TransactionType = "expiry"
	TransactionSubscription TransactionType = "subscription"
)

// CreditBalance is the cached per-user balance embedded in the user record.
// The transaction log is the source of truth; replaying it from zero must
// reproduce these fields exactly. Only the credit ledger writes them.
type CreditBalance struct {
	TotalCredits     Credits    `json:"total_credits"`
	UsedCredits      Credits    `json:"used_credits"`
	RemainingCredits Credits    `json:"remaining_credits"`
	LastPurchaseDate *time.Time `json:"last_purchase_date,omitempty"`
	ExpiryDate       *time.Time `json:"expiry_date,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// CheckInvariant verifies remaining = total - used and remaining >= 0.
func (b *CreditBalance) CheckInvariant() error {
	if b.RemainingCredits != b.TotalCredits-b.UsedCredits {
		return fmt.Errorf("credit balance: remaining %s != total %s - used %s",
			b.RemainingCredits, b.TotalCredits, b.UsedCredits)
	}
	if b.RemainingCredits < 0 {
		return fmt.Errorf("credit balance: negative remaining %s", b.RemainingCredits)
	}
	return nil
}

// CreditTransaction is an immutable, append-only ledger entry. Amount is
// negative for usage and expiry, positive otherwise.
type CreditTransaction struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`

	Type        TransactionType `json:"transaction_type"`
	Amount      Credits         `json:"credits_amount"`
	Description string          `json:"description"`

	// Usage tracking
	ActionType        ActionType `json:"action_type,omitempty"`
	RelatedResourceID string     `json:"related_resource_id,omitempty"`

	// Link to the originating payment, also used as idempotency key for
	// purchase-path credits.
	PaymentIntentID string `json:"payment_intent_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// BalanceSummary is the balance view returned by the credits API: cached
// balance plus recent activity derived from the ledger.
type BalanceSummary struct {
	Balance          CreditBalance       `json:"balance"`
	RecentUsage      []CreditTransaction `json:"recent_usage"`
	UsageByAction    []ActionUsage       `json:"usage_by_action"`
	LowCreditWarning bool                `json:"low_credit_warning"`
}

// ActionUsage aggregates ledger usage for one action type.
type ActionUsage struct {
	ActionType   ActionType `json:"action_type"`
	TotalCredits Credits    `json:"total_credits"`
	UsageCount   int        `json:"usage_count"`
}

// DailyUsage is one day of the usage trend.
type DailyUsage struct {
	Date        string  `json:"date"` // YYYY-MM-DD
	CreditsUsed Credits `json:"credits_used"`
	ActionCount int     `json:"action_count"`
}

// UsageAnalytics is the usage report over a trailing window, rebuilt from
// the transaction log.
type UsageAnalytics struct {
	PeriodDays            int           `json:"period_days"`
	TotalCreditsUsed      Credits       `json:"total_credits_used"`
	AvgDailyUsage         float64       `json:"avg_daily_usage"`
	PredictedMonthlyUsage float64       `json:"predicted_monthly_usage"`
	DailyUsageTrend       []DailyUsage  `json:"daily_usage_trend"`
	UsageByAction         []ActionUsage `json:"usage_by_action"`
	MostUsedAction        ActionType    `json:"most_used_action,omitempty"`
}
