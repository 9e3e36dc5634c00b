// Meridian - AI Scheduling and Credit Metering Backend
// Copyright 2026 Meridian HQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridian-hq/meridian

package notify

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/meridian-hq/meridian/internal/logging"
	"github.com/meridian-hq/meridian/internal/metrics"
)

// TopicPrefix is prepended to the notification kind to form the Watermill
// topic, e.g. "notify.credit_low".
const TopicPrefix = "notify."

// Publisher fans notification requests out over a Watermill publisher
// (NATS JetStream in production). Failures are logged and counted, never
// surfaced to the caller.
type Publisher struct {
	pub message.Publisher
}

// NewPublisher wraps a Watermill publisher as a Notifier.
func NewPublisher(pub message.Publisher) *Publisher {
	return &Publisher{pub: pub}
}

// Notify implements Notifier.
func (p *Publisher) Notify(ctx context.Context, userID, kind string, payload map[string]interface{}) {
	n := Notification{
		ID:        uuid.New().String(),
		UserID:    userID,
		Kind:      kind,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}

	data, err := json.Marshal(&n)
	if err != nil {
		metrics.NotificationsPublished.WithLabelValues(kind, "error").Inc()
		logging.Ctx(ctx).Error().Err(err).Str("kind", kind).Msg("marshal notification")
		return
	}

	msg := message.NewMessage(n.ID, data)
	msg.Metadata.Set("user_id", userID)
	msg.Metadata.Set("kind", kind)

	if err := p.pub.Publish(TopicPrefix+kind, msg); err != nil {
		metrics.NotificationsPublished.WithLabelValues(kind, "error").Inc()
		logging.Ctx(ctx).Error().Err(err).
			Str("kind", kind).
			Str("user_id", userID).
			Msg("publish notification")
		return
	}
	metrics.NotificationsPublished.WithLabelValues(kind, "ok").Inc()
}
