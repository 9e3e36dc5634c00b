// Meridian - AI Scheduling and Credit Metering Backend
// Copyright 2026 Meridian HQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridian-hq/meridian

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meridian-hq/meridian/internal/middleware"
)

// RouterConfig holds the HTTP surface settings.
type RouterConfig struct {
	CORSAllowedOrigins []string
	RateLimitRequests  int
	RateLimitWindow    time.Duration
	RateLimitDisabled  bool
}

// DefaultRouterConfig returns secure defaults. CORS origins stay empty
// until configured.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		CORSAllowedOrigins: []string{},
		RateLimitRequests:  100,
		RateLimitWindow:    time.Minute,
	}
}

// NewRouter assembles the full route tree. auth guards every data
// endpoint; health and metrics stay open.
func NewRouter(handler *Handler, auth *middleware.Authenticator, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID"},
		MaxAge:         86400,
	}))

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/api/v1/health", func(r chi.Router) {
		r.Use(httprate.LimitByIP(1000, time.Minute))
		r.Get("/", handler.Health)
		r.Get("/live", handler.HealthLive)
		r.Get("/ready", handler.HealthReady)
	})

	r.Route("/api/v1", func(r chi.Router) {
		if !cfg.RateLimitDisabled {
			r.Use(httprate.LimitByIP(cfg.RateLimitRequests, cfg.RateLimitWindow))
		}
		r.Use(middleware.PrometheusMetrics)
		r.Use(auth.Middleware)

		r.Route("/events", func(r chi.Router) {
			r.Post("/", handler.CreateEvent)
			r.Get("/", handler.ListEvents)
			r.Get("/{eventID}", handler.GetEvent)
			r.Patch("/{eventID}", handler.UpdateEvent)
			r.Delete("/{eventID}", handler.DeleteEvent)
			r.Post("/{eventID}/analyze", handler.AnalyzeEvent)
			r.Post("/{eventID}/resolve", handler.ResolveConflict)
		})

		r.Get("/conflicts", handler.ListConflicts)
		r.Post("/availability", handler.Availability)
		r.Post("/schedule/suggest", handler.SuggestTimes)
		r.Post("/sync", handler.TriggerSync)

		r.Route("/credits", func(r chi.Router) {
			r.Get("/balance", handler.CreditBalance)
			r.Get("/usage", handler.CreditUsage)
		})
	})

	return r
}
