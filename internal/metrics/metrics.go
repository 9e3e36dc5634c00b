// Meridian - AI Scheduling and Credit Metering Backend
// Copyright 2026 Meridian HQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridian-hq/meridian

// Package metrics defines the Prometheus instrumentation for Meridian:
// ledger activity, oracle health, sync throughput and API latency.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Credit ledger metrics
	CreditDebits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credit_debits_total",
			Help: "Total number of credit debit attempts",
		},
		[]string{"action_type", "outcome"}, // outcome: ok, insufficient, error
	)

	CreditsGranted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credits_granted_total",
			Help: "Total credits granted, in credits",
		},
		[]string{"transaction_type"},
	)

	CreditsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "credits_expired_total",
			Help: "Total credits removed by the expiry batch job, in credits",
		},
	)

	CreditExpiryUsers = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "credit_expiry_users_total",
			Help: "Total number of users processed by the expiry batch job",
		},
	)

	// Store metrics
	StoreTxnConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "store_txn_conflicts_total",
			Help: "Total number of Badger transaction conflicts retried",
		},
	)

	// Oracle metrics
	OracleRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oracle_requests_total",
			Help: "Total number of oracle calls",
		},
		[]string{"operation", "outcome"}, // outcome: ok, error, timeout, open
	)

	OracleRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "oracle_request_duration_seconds",
			Help:    "Oracle call duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"operation"},
	)

	OracleFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oracle_fallbacks_total",
			Help: "Total number of scheduling requests served by the local fallback",
		},
		[]string{"operation"},
	)

	// Paid oracle work that failed after the debit succeeded. No automatic
	// refund is issued; this counter is the audit trail.
	OracleFailuresAfterDebit = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "oracle_failures_after_debit_total",
			Help: "Oracle failures occurring after a successful credit debit",
		},
	)

	// Calendar sync metrics
	SyncEventsUpserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_events_upserted_total",
			Help: "Total number of events upserted from calendar sync",
		},
		[]string{"provider", "result"}, // result: created, merged
	)

	SyncErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_errors_total",
			Help: "Total number of calendar sync errors",
		},
		[]string{"provider"},
	)

	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sync_duration_seconds",
			Help:    "Duration of sync runs in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
		},
	)

	// Billing / notification pipeline metrics
	BillingEventsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_events_consumed_total",
			Help: "Total credits_purchased events consumed",
		},
		[]string{"outcome"}, // ok, duplicate, invalid, error
	)

	NotificationsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_published_total",
			Help: "Total notification requests handed to the sink",
		},
		[]string{"kind", "outcome"},
	)

	// API metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Current number of active API requests",
		},
	)
)
