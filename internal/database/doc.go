// Meridian - AI Scheduling and Credit Metering Backend
// Copyright 2026 Meridian HQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridian-hq/meridian

// Package database implements the document store on BadgerDB.
//
// Key layout:
//
//	user:<userID>                                    -> models.User
//	event:<userID>:<eventID>                         -> models.CalendarEvent
//	eventidx:<userID>:<provider>:<providerEventID>   -> eventID
//	txn:<userID>:<createdAtNano>:<txnID>             -> models.CreditTransaction
//	idem:<idempotencyKey>                            -> txnID
//	outbox:<createdAtNano>:<id>                      -> outbox notification
//
// The eventidx key is the uniqueness constraint behind sync upserts: index
// lookup and event write happen in the same Badger transaction, so two
// racing syncs of the same provider event cannot both insert.
//
// Credit mutations (DebitCredits, AddCredits, ZeroCredits) read the cached
// balance, apply the conditional update and append the ledger entry inside
// a single serializable Update transaction. Badger's SSI detects racing
// writers with ErrConflict, which these operations retry; a stale
// sufficiency check can therefore never produce a double spend.
package database
