// Meridian - AI Scheduling and Credit Metering Backend
// Copyright 2026 Meridian HQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridian-hq/meridian

// Package config loads the server configuration with Koanf v2 in three
// layers: built-in defaults, an optional YAML file, then environment
// variables. ENV > file > defaults.
package config

import (
	"fmt"
	"time"
)

// Config is the full server configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Database   DatabaseConfig   `koanf:"database"`
	Oracle     OracleConfig     `koanf:"oracle"`
	Scheduling SchedulingConfig `koanf:"scheduling"`
	Credits    CreditsConfig    `koanf:"credits"`
	Sync       SyncConfig       `koanf:"sync"`
	NATS       NATSConfig       `koanf:"nats"`
	Security   SecurityConfig   `koanf:"security"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	Environment     string        `koanf:"environment"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds the Badger store settings. An empty Path runs
// in-memory (tests and local experiments).
type DatabaseConfig struct {
	Path       string        `koanf:"path"`
	GCInterval time.Duration `koanf:"gc_interval"`
}

// OracleConfig holds the AI scheduling service client settings.
type OracleConfig struct {
	Enabled          bool          `koanf:"enabled"`
	BaseURL          string        `koanf:"base_url"`
	APIKey           string        `koanf:"api_key"`
	Timeout          time.Duration `koanf:"timeout"`
	RatePerSecond    float64       `koanf:"rate_per_second"`
	FailureThreshold uint32        `koanf:"failure_threshold"`
	BreakerTimeout   time.Duration `koanf:"breaker_timeout"`
}

// SchedulingConfig holds availability and conflict tuning.
type SchedulingConfig struct {
	BufferMinutes    int `koanf:"buffer_minutes"`
	WorkdayStartHour int `koanf:"workday_start_hour"`
	WorkdayEndHour   int `koanf:"workday_end_hour"`
	SlotStepMinutes  int `koanf:"slot_step_minutes"`
}

// CreditsConfig holds the expiry job settings.
type CreditsConfig struct {
	ExpiryInterval time.Duration `koanf:"expiry_interval"`
}

// SyncConfig holds the calendar sync settings.
type SyncConfig struct {
	Enabled        bool          `koanf:"enabled"`
	Interval       time.Duration `koanf:"interval"`
	PastWindowDays int           `koanf:"past_window_days"`
	NextWindowDays int           `koanf:"next_window_days"`
}

// NATSConfig holds the JetStream connection for billing events and
// notifications. Disabled means the billing consumer is not started and
// notifications fall back to the store outbox.
type NATSConfig struct {
	Enabled       bool          `koanf:"enabled"`
	URL           string        `koanf:"url"`
	QueueGroup    string        `koanf:"queue_group"`
	DurableName   string        `koanf:"durable_name"`
	ReconnectWait time.Duration `koanf:"reconnect_wait"`
}

// SecurityConfig holds the HTTP boundary settings.
type SecurityConfig struct {
	JWTSecret         string        `koanf:"jwt_secret"`
	JWTIssuer         string        `koanf:"jwt_issuer"`
	CORSOrigins       []string      `koanf:"cors_origins"`
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
}

// LoggingConfig holds zerolog settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Validate checks cross-field constraints after loading.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Security.JWTSecret == "" {
		return fmt.Errorf("security.jwt_secret is required")
	}
	if len(c.Security.JWTSecret) < 32 {
		return fmt.Errorf("security.jwt_secret must be at least 32 characters")
	}
	if c.Oracle.Enabled && c.Oracle.BaseURL == "" {
		return fmt.Errorf("oracle.base_url is required when the oracle is enabled")
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required when NATS is enabled")
	}
	if c.Scheduling.WorkdayStartHour < 0 || c.Scheduling.WorkdayStartHour > 23 {
		return fmt.Errorf("scheduling.workday_start_hour %d out of range", c.Scheduling.WorkdayStartHour)
	}
	if c.Scheduling.WorkdayEndHour < 1 || c.Scheduling.WorkdayEndHour > 24 {
		return fmt.Errorf("scheduling.workday_end_hour %d out of range", c.Scheduling.WorkdayEndHour)
	}
	if c.Scheduling.WorkdayStartHour >= c.Scheduling.WorkdayEndHour {
		return fmt.Errorf("scheduling.workday_start_hour must precede workday_end_hour")
	}
	if c.Scheduling.BufferMinutes < 0 {
		return fmt.Errorf("scheduling.buffer_minutes must not be negative")
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format %q must be json or console", c.Logging.Format)
	}
	return nil
}
