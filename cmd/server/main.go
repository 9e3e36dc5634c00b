// Meridian - AI Scheduling and Credit Metering Backend
// Copyright 2026 Meridian HQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridian-hq/meridian

// Package main is the entry point for the Meridian server.
//
// Meridian is the scheduling and credit metering core of an AI email and
// calendar assistant. It exposes event CRUD, availability, AI-assisted
// scheduling suggestions, conflict detection/resolution and the credits
// surface over HTTP, meters every AI action against a per-user credit
// ledger, consumes payment events from NATS JetStream and pulls external
// calendars through pluggable source adapters.
//
// Startup order:
//
//  1. Configuration: Koanf v2 layered defaults -> YAML -> env
//  2. Logging: zerolog, JSON by default
//  3. Store: Badger KV holding users, events and the transaction log
//  4. Notifier: NATS publisher, or the store outbox when NATS is off
//  5. Domain services: ledger, availability engine, oracle client,
//     orchestrator, sync manager
//  6. Supervision tree: store GC and credit expiry on the data layer,
//     sync and billing on the messaging layer, HTTP on the api layer
//
// The process shuts down gracefully on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/meridian-hq/meridian/internal/api"
	"github.com/meridian-hq/meridian/internal/availability"
	"github.com/meridian-hq/meridian/internal/billing"
	"github.com/meridian-hq/meridian/internal/calsource"
	"github.com/meridian-hq/meridian/internal/config"
	"github.com/meridian-hq/meridian/internal/credit"
	"github.com/meridian-hq/meridian/internal/database"
	"github.com/meridian-hq/meridian/internal/logging"
	"github.com/meridian-hq/meridian/internal/middleware"
	"github.com/meridian-hq/meridian/internal/notify"
	"github.com/meridian-hq/meridian/internal/oracle"
	"github.com/meridian-hq/meridian/internal/scheduler"
	"github.com/meridian-hq/meridian/internal/supervisor"
	"github.com/meridian-hq/meridian/internal/supervisor/services"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().
		Str("version", version).
		Str("environment", cfg.Server.Environment).
		Str("db_path", cfg.Database.Path).
		Bool("nats", cfg.NATS.Enabled).
		Bool("oracle", cfg.Oracle.Enabled).
		Msg("Starting Meridian")

	store, err := database.Open(database.Config{
		Path:       cfg.Database.Path,
		GCInterval: cfg.Database.GCInterval,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open store")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing store")
		}
	}()

	// Notification sink: NATS fan-out when the broker is configured,
	// store-backed outbox otherwise.
	natsCfg := billing.DefaultNATSConfig()
	natsCfg.URL = cfg.NATS.URL
	natsCfg.QueueGroup = cfg.NATS.QueueGroup
	natsCfg.DurableName = cfg.NATS.DurableName
	natsCfg.ReconnectWait = cfg.NATS.ReconnectWait

	var notifier notify.Notifier
	if cfg.NATS.Enabled {
		pub, err := billing.NewNATSPublisher(natsCfg, nil)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to connect NATS publisher")
		}
		defer func() {
			if err := pub.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing NATS publisher")
			}
		}()
		notifier = notify.NewPublisher(pub)
	} else {
		logging.Info().Msg("NATS disabled, notifications go to the store outbox")
		notifier = notify.NewOutbox(store)
	}

	ledger := credit.NewLedger(store, notifier)
	engine := availability.NewEngine(store)

	var (
		oracleClient    oracle.Client
		resilientOracle *oracle.ResilientClient
	)
	if cfg.Oracle.Enabled {
		httpClient := oracle.NewHTTPClient(oracle.Config{
			BaseURL:       cfg.Oracle.BaseURL,
			APIKey:        cfg.Oracle.APIKey,
			Timeout:       cfg.Oracle.Timeout,
			RatePerSecond: cfg.Oracle.RatePerSecond,
		})
		breakerCfg := oracle.DefaultBreakerConfig()
		breakerCfg.FailureThreshold = cfg.Oracle.FailureThreshold
		breakerCfg.Timeout = cfg.Oracle.BreakerTimeout
		resilientOracle = oracle.NewResilientClient(httpClient, breakerCfg)
		oracleClient = resilientOracle
	} else {
		logging.Info().Msg("Oracle disabled, scheduling runs on local fallbacks")
	}

	orchestrator := scheduler.New(store, ledger, engine, oracleClient, scheduler.Options{
		BufferThreshold: time.Duration(cfg.Scheduling.BufferMinutes) * time.Minute,
		Availability: availability.Options{
			Buffer:       time.Duration(cfg.Scheduling.BufferMinutes) * time.Minute,
			WorkdayStart: time.Duration(cfg.Scheduling.WorkdayStartHour) * time.Hour,
			WorkdayEnd:   time.Duration(cfg.Scheduling.WorkdayEndHour) * time.Hour,
			Step:         time.Duration(cfg.Scheduling.SlotStepMinutes) * time.Minute,
		},
	})

	// Calendar source adapters are provider deployments' concern; token
	// custody lives with the auth layer. Registered adapters plug in here.
	var syncManager *calsource.Manager
	if cfg.Sync.Enabled {
		syncManager = calsource.NewManager(store, calsource.Adapters(), calsource.ManagerConfig{
			Interval:   cfg.Sync.Interval,
			PastWindow: time.Duration(cfg.Sync.PastWindowDays) * 24 * time.Hour,
			NextWindow: time.Duration(cfg.Sync.NextWindowDays) * 24 * time.Hour,
		})
	}

	// Supervision tree: data, messaging and api layers.
	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.AddDataService(services.NewStoreGCService(store))
	tree.AddDataService(services.NewCreditExpiryService(ledger, cfg.Credits.ExpiryInterval))

	if syncManager != nil {
		tree.AddMessagingService(syncManager)
	}
	if cfg.NATS.Enabled {
		sub, err := billing.NewNATSSubscriber(natsCfg, nil)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to connect NATS subscriber")
		}
		defer func() {
			if err := sub.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing NATS subscriber")
			}
		}()
		tree.AddMessagingService(billing.NewConsumer(ledger, sub, billing.DefaultConsumerConfig()))
	}

	handler := api.NewHandler(api.HandlerConfig{
		Store:        store,
		Ledger:       ledger,
		Orchestrator: orchestrator,
		Engine:       engine,
		SyncManager:  syncManager,
		Oracle:       resilientOracle,
		Version:      version,
	})
	auth := middleware.NewAuthenticator([]byte(cfg.Security.JWTSecret), cfg.Security.JWTIssuer)
	router := api.NewRouter(handler, auth, api.RouterConfig{
		CORSAllowedOrigins: cfg.Security.CORSOrigins,
		RateLimitRequests:  cfg.Security.RateLimitReqs,
		RateLimitWindow:    cfg.Security.RateLimitWindow,
		RateLimitDisabled:  cfg.Security.RateLimitDisabled,
	})
	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().Str("addr", cfg.Server.Addr()).Msg("Meridian listening")
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree exited")
		os.Exit(1)
	}
	logging.Info().Msg("Meridian stopped")
}
