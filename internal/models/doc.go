// Meridian - AI Scheduling and Credit Metering Backend
// Copyright 2026 Meridian HQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridian-hq/meridian

// Package models defines the typed domain records shared across Meridian:
// calendar events, credit balances and transactions, derived scheduling
// values (availability slots, conflicts, suggestions) and the HTTP response
// envelope.
//
// External data (provider payloads, oracle responses) is validated and
// coerced into these types at the boundary where it enters the system;
// internal code never operates on schemaless maps.
package models
