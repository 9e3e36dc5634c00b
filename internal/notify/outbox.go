// Meridian - AI Scheduling and Credit Metering Backend
// Copyright 2026 Meridian HQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridian-hq/meridian

package notify

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/meridian-hq/meridian/internal/database"
	"github.com/meridian-hq/meridian/internal/logging"
)

// Outbox persists notifications to the local store when no broker is
// configured. Entries accumulate until drained by an operator tool.
type Outbox struct {
	store *database.Store
}

// NewOutbox returns a store-backed Notifier.
func NewOutbox(store *database.Store) *Outbox {
	return &Outbox{store: store}
}

// Notify serializes the notification into the outbox. Failures are
// logged and swallowed so credit operations never block on delivery.
func (o *Outbox) Notify(ctx context.Context, userID, kind string, payload map[string]interface{}) {
	n := Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Kind:      kind,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	body, err := json.Marshal(n)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).
			Str("kind", kind).
			Msg("Failed to marshal notification")
		return
	}
	if err := o.store.AppendOutbox(ctx, n.ID, n.CreatedAt, body); err != nil {
		logging.Ctx(ctx).Error().Err(err).
			Str("kind", kind).
			Str("user_id", userID).
			Msg("Failed to persist notification to outbox")
		return
	}
	logging.Ctx(ctx).Debug().
		Str("kind", kind).
		Str("user_id", userID).
		Msg("Notification queued in outbox")
}
