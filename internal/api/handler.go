// Meridian - AI Scheduling and Credit Metering Backend
// Copyright 2026 Meridian HQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridian-hq/meridian

// Package api exposes the scheduling core over HTTP: event CRUD,
// availability, suggestions, analysis, conflict resolution and the
// credits surface. Every response uses the APIResponse envelope.
package api

import (
	"net/http"
	"time"

	"github.com/meridian-hq/meridian/internal/availability"
	"github.com/meridian-hq/meridian/internal/calsource"
	"github.com/meridian-hq/meridian/internal/credit"
	"github.com/meridian-hq/meridian/internal/database"
	"github.com/meridian-hq/meridian/internal/oracle"
	"github.com/meridian-hq/meridian/internal/scheduler"
)

// Handler holds the dependencies of all HTTP handlers.
type Handler struct {
	store        *database.Store
	ledger       *credit.Ledger
	orchestrator *scheduler.Orchestrator
	engine       *availability.Engine
	syncManager  *calsource.Manager  // nil when no providers are configured
	oracleState  func() string       // breaker state for health, nil without oracle
	version      string
	startTime    time.Time
}

// HandlerConfig wires a Handler.
type HandlerConfig struct {
	Store        *database.Store
	Ledger       *credit.Ledger
	Orchestrator *scheduler.Orchestrator
	Engine       *availability.Engine
	SyncManager  *calsource.Manager
	Oracle       *oracle.ResilientClient
	Version      string
}

// NewHandler creates a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	h := &Handler{
		store:        cfg.Store,
		ledger:       cfg.Ledger,
		orchestrator: cfg.Orchestrator,
		engine:       cfg.Engine,
		syncManager:  cfg.SyncManager,
		version:      cfg.Version,
		startTime:    time.Now().UTC(),
	}
	if cfg.Oracle != nil {
		h.oracleState = cfg.Oracle.State
	}
	return h
}

// Health reports service status. Degraded means the oracle breaker is
// open; the core keeps serving through local fallbacks.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	status := "healthy"
	oracleState := "disabled"
	if h.oracleState != nil {
		oracleState = h.oracleState()
		if oracleState == "open" {
			status = "degraded"
		}
	}

	data := map[string]interface{}{
		"status":         status,
		"version":        h.version,
		"uptime_seconds": int64(time.Since(h.startTime).Seconds()),
		"oracle":         oracleState,
	}
	if h.syncManager != nil {
		if last := h.syncManager.LastSyncTime(); !last.IsZero() {
			data["last_sync"] = last
		}
	}
	respondSuccess(w, http.StatusOK, data, start)
}

// HealthLive is the liveness probe: the process is up.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondSuccess(w, http.StatusOK, map[string]string{"status": "alive"}, time.Now())
}

// HealthReady is the readiness probe: the store answers reads.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if _, err := h.store.ListUsers(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "STORE_ERROR", "Store is not ready", nil)
		return
	}
	respondSuccess(w, http.StatusOK, map[string]string{"status": "ready"}, start)
}
