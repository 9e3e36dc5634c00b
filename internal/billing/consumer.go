// Meridian - AI Scheduling and Credit Metering Backend
// Copyright 2026 Meridian HQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridian-hq/meridian

// Package billing consumes payment events and turns them into credit
// grants. The payment processor publishes to the credits.purchased
// JetStream subject after a successful charge; this consumer is the only
// purchase path into the ledger. Grants are idempotent on the payment
// intent ID, so redelivery cannot double-credit.
package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/goccy/go-json"

	"github.com/meridian-hq/meridian/internal/credit"
	"github.com/meridian-hq/meridian/internal/database"
	"github.com/meridian-hq/meridian/internal/logging"
	"github.com/meridian-hq/meridian/internal/metrics"
	"github.com/meridian-hq/meridian/internal/models"
)

// PurchaseTopic is the JetStream subject carrying completed purchases.
const PurchaseTopic = "credits.purchased"

// PurchaseEvent is the wire form of a completed payment.
type PurchaseEvent struct {
	PaymentIntentID string  `json:"payment_intent_id"`
	UserID          string  `json:"user_id"`
	Email           string  `json:"email,omitempty"`
	Credits         float64 `json:"credits"`
	// Type is "purchase" or "subscription"; anything else is rejected.
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

func (e *PurchaseEvent) validate() error {
	if e.PaymentIntentID == "" {
		return errors.New("missing payment_intent_id")
	}
	if e.UserID == "" {
		return errors.New("missing user_id")
	}
	if e.Credits <= 0 {
		return fmt.Errorf("credits must be positive, got %v", e.Credits)
	}
	switch e.Type {
	case string(models.TransactionPurchase), string(models.TransactionSubscription):
		return nil
	default:
		return fmt.Errorf("unknown purchase type %q", e.Type)
	}
}

// ConsumerConfig tunes the consumer's router.
type ConsumerConfig struct {
	CloseTimeout         time.Duration
	RetryMaxRetries      int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	RetryMultiplier      float64
}

// DefaultConsumerConfig returns production defaults.
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		CloseTimeout:         30 * time.Second,
		RetryMaxRetries:      5,
		RetryInitialInterval: time.Second,
		RetryMaxInterval:     time.Minute,
		RetryMultiplier:      2.0,
	}
}

// Consumer runs a Watermill router with one handler on PurchaseTopic. It
// implements suture.Service.
type Consumer struct {
	ledger     *credit.Ledger
	subscriber message.Subscriber
	cfg        ConsumerConfig
	wmLogger   watermill.LoggerAdapter
}

// NewConsumer builds a Consumer over an already-connected subscriber.
func NewConsumer(ledger *credit.Ledger, subscriber message.Subscriber, cfg ConsumerConfig) *Consumer {
	return &Consumer{
		ledger:     ledger,
		subscriber: subscriber,
		cfg:        cfg,
		wmLogger:   watermill.NewStdLogger(false, false),
	}
}

// String implements fmt.Stringer for supervisor logs.
func (c *Consumer) String() string { return "billing-consumer" }

// Serve implements suture.Service: builds the router, runs it until the
// context is cancelled.
func (c *Consumer) Serve(ctx context.Context) error {
	router, err := message.NewRouter(message.RouterConfig{
		CloseTimeout: c.cfg.CloseTimeout,
	}, c.wmLogger)
	if err != nil {
		return fmt.Errorf("create billing router: %w", err)
	}

	retry := middleware.Retry{
		MaxRetries:      c.cfg.RetryMaxRetries,
		InitialInterval: c.cfg.RetryInitialInterval,
		MaxInterval:     c.cfg.RetryMaxInterval,
		Multiplier:      c.cfg.RetryMultiplier,
		Logger:          c.wmLogger,
	}
	router.AddMiddleware(
		middleware.Recoverer,
		middleware.CorrelationID,
		retry.Middleware,
	)

	router.AddNoPublisherHandler(
		"credit-purchases",
		PurchaseTopic,
		c.subscriber,
		c.handle,
	)

	logging.Info().Str("topic", PurchaseTopic).Msg("Billing consumer started")
	if err := router.Run(ctx); err != nil {
		return fmt.Errorf("billing router: %w", err)
	}
	return ctx.Err()
}

// handle processes one purchase event. Malformed and duplicate events are
// acked and counted; only transient grant failures are returned so the
// retry middleware redelivers them.
func (c *Consumer) handle(msg *message.Message) error {
	ctx := msg.Context()

	var event PurchaseEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		metrics.BillingEventsConsumed.WithLabelValues("invalid").Inc()
		logging.Ctx(ctx).Error().Err(err).
			Str("message_uuid", msg.UUID).
			Msg("Unparseable purchase event dropped")
		return nil
	}
	if err := event.validate(); err != nil {
		metrics.BillingEventsConsumed.WithLabelValues("invalid").Inc()
		logging.Ctx(ctx).Error().Err(err).
			Str("message_uuid", msg.UUID).
			Str("payment_intent_id", event.PaymentIntentID).
			Msg("Invalid purchase event dropped")
		return nil
	}

	// First contact via payment is possible; the signup grant applies too.
	if _, err := c.ledger.EnsureAccount(ctx, event.UserID, event.Email); err != nil {
		metrics.BillingEventsConsumed.WithLabelValues("error").Inc()
		return fmt.Errorf("ensure account %s: %w", event.UserID, err)
	}

	description := event.Description
	if description == "" {
		description = fmt.Sprintf("Purchased %v credits", event.Credits)
	}

	_, err := c.ledger.Credit(ctx,
		event.UserID,
		models.CreditsFromFloat(event.Credits),
		models.TransactionType(event.Type),
		description,
		event.PaymentIntentID,
	)
	switch {
	case err == nil:
		metrics.BillingEventsConsumed.WithLabelValues("ok").Inc()
		logging.Ctx(ctx).Info().
			Str("user_id", event.UserID).
			Str("payment_intent_id", event.PaymentIntentID).
			Float64("credits", event.Credits).
			Msg("Purchase credited")
		return nil
	case errors.Is(err, database.ErrDuplicateTransaction):
		metrics.BillingEventsConsumed.WithLabelValues("duplicate").Inc()
		logging.Ctx(ctx).Debug().
			Str("payment_intent_id", event.PaymentIntentID).
			Msg("Duplicate purchase event acked")
		return nil
	default:
		metrics.BillingEventsConsumed.WithLabelValues("error").Inc()
		return fmt.Errorf("credit purchase %s: %w", event.PaymentIntentID, err)
	}
}
