// Meridian - AI Scheduling and Credit Metering Backend
// Copyright 2026 Meridian HQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridian-hq/meridian

// Package calsource pulls events from external calendar providers into
// the local store. Adapters normalize provider payloads into
// models.CanonicalEvent; the sync manager owns scheduling, retries and
// upsert bookkeeping. Token custody stays with the auth layer, adapters
// receive ready-to-use clients.
package calsource

import (
	"context"
	"time"

	"github.com/meridian-hq/meridian/internal/models"
)

// Adapter is one calendar provider connection.
type Adapter interface {
	// Provider identifies the backing service.
	Provider() models.Provider

	// FetchEvents returns the user's events intersecting [start, end) in
	// canonical form. Implementations handle provider paging internally.
	FetchEvents(ctx context.Context, userID string, start, end time.Time) ([]models.CanonicalEvent, error)

	// CreateRemoteEvent mirrors a locally created event out to the
	// provider, returning the provider's event ID.
	CreateRemoteEvent(ctx context.Context, userID string, event *models.CalendarEvent) (string, error)

	// UpdateRemoteEvent pushes local changes for an already-mirrored event.
	UpdateRemoteEvent(ctx context.Context, userID string, event *models.CalendarEvent) error

	// DeleteRemoteEvent removes the mirrored event. Deleting an event the
	// provider no longer has is not an error.
	DeleteRemoteEvent(ctx context.Context, userID, providerEventID string) error
}
