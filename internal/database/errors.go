// Meridian - AI Scheduling and Credit Metering Backend
// Copyright 2026 Meridian HQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridian-hq/meridian

package database

import "errors"

// Sentinel errors for expected business outcomes. Callers branch on these
// with errors.Is; anything else is a storage fault.
var (
	// ErrNotFound indicates the requested user or event does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrInsufficientCredits indicates a debit would drive the balance
	// negative. No writes are performed when it is returned.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrDuplicateTransaction indicates a credit with an idempotency key
	// that was already applied. The original grant stands; no new writes.
	ErrDuplicateTransaction = errors.New("duplicate credit transaction")

	// ErrInvalidTransition indicates an event status update that violates
	// the tentative -> confirmed -> cancelled lifecycle.
	ErrInvalidTransition = errors.New("invalid event status transition")
)
