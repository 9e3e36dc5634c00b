// Meridian - AI Scheduling and Credit Metering Backend
// Copyright 2026 Meridian HQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridian-hq/meridian

package calsource

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/meridian-hq/meridian/internal/database"
	"github.com/meridian-hq/meridian/internal/logging"
	"github.com/meridian-hq/meridian/internal/metrics"
	"github.com/meridian-hq/meridian/internal/models"
)

// Sync window defaults: pull a month back and three ahead so conflict
// detection and availability always see current data.
const (
	DefaultInterval   = 15 * time.Minute
	DefaultPastWindow = 30 * 24 * time.Hour
	DefaultNextWindow = 90 * 24 * time.Hour
)

// ManagerConfig tunes the sync manager.
type ManagerConfig struct {
	Interval   time.Duration
	PastWindow time.Duration
	NextWindow time.Duration
}

func (c *ManagerConfig) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.PastWindow <= 0 {
		c.PastWindow = DefaultPastWindow
	}
	if c.NextWindow <= 0 {
		c.NextWindow = DefaultNextWindow
	}
}

// Manager periodically pulls every connected user's calendars into the
// store. It implements suture.Service; the supervisor restarts it if a
// run panics or the loop errors out.
type Manager struct {
	store    *database.Store
	adapters map[models.Provider]Adapter
	cfg      ManagerConfig

	syncMu sync.Mutex // one sync run at a time

	mu       sync.Mutex
	lastSync time.Time
}

// NewManager builds a Manager over the given adapters.
func NewManager(store *database.Store, adapters []Adapter, cfg ManagerConfig) *Manager {
	cfg.applyDefaults()
	byProvider := make(map[models.Provider]Adapter, len(adapters))
	for _, a := range adapters {
		byProvider[a.Provider()] = a
	}
	return &Manager{
		store:    store,
		adapters: byProvider,
		cfg:      cfg,
	}
}

// String implements fmt.Stringer for supervisor logs.
func (m *Manager) String() string { return "calendar-sync" }

// LastSyncTime returns when the last full sync run finished, zero if none
// has.
func (m *Manager) LastSyncTime() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSync
}

// Serve implements suture.Service: an immediate sync, then one per
// interval until shutdown.
func (m *Manager) Serve(ctx context.Context) error {
	if len(m.adapters) == 0 {
		logging.Info().Msg("Calendar sync started with no adapters, idling")
		<-ctx.Done()
		return ctx.Err()
	}

	logging.Info().
		Dur("interval", m.cfg.Interval).
		Int("adapters", len(m.adapters)).
		Msg("Calendar sync started")

	if err := m.SyncAll(ctx); err != nil && ctx.Err() == nil {
		logging.Warn().Err(err).Msg("Initial calendar sync failed")
	}

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.SyncAll(ctx); err != nil && ctx.Err() == nil {
				logging.Warn().Err(err).Msg("Calendar sync run failed")
			}
		}
	}
}

// SyncAll syncs every user with at least one connected provider. Per-user
// failures are logged and skipped; the run continues.
func (m *Manager) SyncAll(ctx context.Context) error {
	m.syncMu.Lock()
	defer m.syncMu.Unlock()

	start := time.Now()
	users, err := m.store.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users for sync: %w", err)
	}

	synced := 0
	for i := range users {
		if err := ctx.Err(); err != nil {
			return err
		}
		user := &users[i]
		if !user.Connections.GoogleConnected && !user.Connections.MicrosoftConnected {
			continue
		}
		if err := m.syncUser(ctx, user); err != nil {
			logging.Warn().Err(err).
				Str("user_id", user.ID).
				Msg("User calendar sync failed")
			continue
		}
		synced++
	}

	elapsed := time.Since(start)
	metrics.SyncDuration.Observe(elapsed.Seconds())
	m.mu.Lock()
	m.lastSync = time.Now().UTC()
	m.mu.Unlock()

	logging.Debug().
		Int("users", synced).
		Dur("elapsed", elapsed).
		Msg("Calendar sync run complete")
	return nil
}

// SyncUser syncs one user on demand (the manual sync endpoint). Returns
// the number of events created and merged.
func (m *Manager) SyncUser(ctx context.Context, userID string) (created, merged int, err error) {
	m.syncMu.Lock()
	defer m.syncMu.Unlock()

	user, err := m.store.GetUser(ctx, userID)
	if err != nil {
		return 0, 0, err
	}
	return m.syncProviders(ctx, user)
}

func (m *Manager) syncUser(ctx context.Context, user *models.User) error {
	_, _, err := m.syncProviders(ctx, user)
	return err
}

func (m *Manager) syncProviders(ctx context.Context, user *models.User) (created, merged int, err error) {
	start := time.Now().UTC().Add(-m.cfg.PastWindow)
	end := time.Now().UTC().Add(m.cfg.NextWindow)

	var firstErr error
	for provider, adapter := range m.adapters {
		if !providerConnected(user, provider) {
			continue
		}
		c, g, perr := m.syncProvider(ctx, adapter, user.ID, start, end)
		created += c
		merged += g
		if perr != nil {
			metrics.SyncErrors.WithLabelValues(string(provider)).Inc()
			if firstErr == nil {
				firstErr = fmt.Errorf("sync %s: %w", provider, perr)
			}
		}
	}
	return created, merged, firstErr
}

func (m *Manager) syncProvider(ctx context.Context, adapter Adapter, userID string, start, end time.Time) (created, merged int, err error) {
	provider := adapter.Provider()
	canonical, err := adapter.FetchEvents(ctx, userID, start, end)
	if err != nil {
		return 0, 0, fmt.Errorf("fetch events: %w", err)
	}

	for i := range canonical {
		if err := ctx.Err(); err != nil {
			return created, merged, err
		}
		_, isNew, err := m.store.UpsertFromSync(ctx, userID, provider, &canonical[i])
		if err != nil {
			logging.Warn().Err(err).
				Str("user_id", userID).
				Str("provider", string(provider)).
				Str("provider_event_id", canonical[i].ProviderEventID).
				Msg("Event upsert failed")
			continue
		}
		if isNew {
			created++
			metrics.SyncEventsUpserted.WithLabelValues(string(provider), "created").Inc()
		} else {
			merged++
			metrics.SyncEventsUpserted.WithLabelValues(string(provider), "merged").Inc()
		}
	}

	logging.Debug().
		Str("user_id", userID).
		Str("provider", string(provider)).
		Int("created", created).
		Int("merged", merged).
		Msg("Provider sync complete")
	return created, merged, nil
}

func providerConnected(user *models.User, provider models.Provider) bool {
	switch provider {
	case models.ProviderGoogle:
		return user.Connections.GoogleConnected
	case models.ProviderMicrosoft:
		return user.Connections.MicrosoftConnected
	default:
		return false
	}
}
