// Meridian - AI Scheduling and Credit Metering Backend
// Copyright 2026 Meridian HQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridian-hq/meridian

// Package notify defines the notification sink the scheduling core hands
// alerts to. Delivery mechanics (SMS, WhatsApp, email) live outside this
// system; from the ledger's perspective every notification is
// fire-and-forget and must never block or roll back a money operation.
package notify

import (
	"context"
	"time"
)

// Notification kinds emitted by the core.
const (
	KindCreditLow     = "credit_low"
	KindCreditExpired = "credit_expired"
)

// Notification is a single delivery request.
type Notification struct {
	ID        string                 `json:"id"`
	UserID    string                 `json:"user_id"`
	Kind      string                 `json:"kind"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// Notifier is the sink interface. Implementations must be safe for
// concurrent use and should swallow delivery failures after logging them;
// callers never check delivery state.
type Notifier interface {
	Notify(ctx context.Context, userID, kind string, payload map[string]interface{})
}

// Noop discards all notifications. Used in tests and when no sink is
// configured.
type Noop struct{}

// Notify implements Notifier.
func (Noop) Notify(ctx context.Context, userID, kind string, payload map[string]interface{}) {}
