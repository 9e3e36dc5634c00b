// Meridian - AI Scheduling and Credit Metering Backend
// Copyright 2026 Meridian HQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridian-hq/meridian

package services

import (
	"context"

	"github.com/meridian-hq/meridian/internal/database"
)

// StoreGCService runs Badger's value-log garbage collection loop under
// supervision.
type StoreGCService struct {
	store *database.Store
}

// NewStoreGCService wraps the store's GC loop.
func NewStoreGCService(store *database.Store) *StoreGCService {
	return &StoreGCService{store: store}
}

// Serve implements suture.Service.
func (s *StoreGCService) Serve(ctx context.Context) error {
	return s.store.RunGC(ctx)
}

// String implements fmt.Stringer for supervisor logs.
func (s *StoreGCService) String() string { return "store-gc" }
