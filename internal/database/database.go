// Meridian - AI Scheduling and Credit Metering Backend
// Copyright 2026 Meridian HQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridian-hq/meridian

package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/meridian-hq/meridian/internal/logging"
	"github.com/meridian-hq/meridian/internal/metrics"
)

// Key prefixes for BadgerDB storage.
const (
	userKeyPrefix     = "user:"
	eventKeyPrefix    = "event:"
	eventIdxKeyPrefix = "eventidx:"
	txnKeyPrefix      = "txn:"
	idemKeyPrefix     = "idem:"
	outboxKeyPrefix   = "outbox:"
)

// maxTxnRetries bounds the retry loop for serializable transaction
// conflicts. Contention on a single user's balance is short-lived, so a
// handful of attempts is plenty.
const maxTxnRetries = 10

// Config holds store configuration.
type Config struct {
	// Path is the Badger data directory. Empty means in-memory (tests).
	Path string

	// GCInterval is how often the value-log garbage collector runs.
	// Default: 10m
	GCInterval time.Duration
}

// Store is the document store handle. One Store is opened at process start
// and passed explicitly to every component that needs it; there is no
// package-level connection state.
type Store struct {
	db  *badger.DB
	cfg Config
}

// Open opens (or creates) the store at cfg.Path.
func Open(cfg Config) (*Store, error) {
	if cfg.GCInterval <= 0 {
		cfg.GCInterval = 10 * time.Minute
	}

	opts := badger.DefaultOptions(cfg.Path)
	opts.Logger = nil // badger's own logger is noisy; we log around it
	if cfg.Path == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", cfg.Path, err)
	}

	return &Store{db: db, cfg: cfg}, nil
}

// Close flushes and closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the raw Badger handle for components that manage their own
// keyspace (outbox readers, tests).
func (s *Store) DB() *badger.DB {
	return s.db
}

// RunGC runs the value-log garbage collector until ctx is cancelled.
// Intended to run as a supervised service.
func (s *Store) RunGC(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			// ErrNoRewrite just means there was nothing to collect.
			if err := s.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				logging.Warn().Err(err).Msg("badger value log GC failed")
			}
		}
	}
}

// update runs fn in a serializable read-write transaction, retrying on
// ErrConflict. Badger's SSI turns racing writers over the same keys into
// conflicts; retrying re-reads current state so conditional updates stay
// linearizable.
func (s *Store) update(fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxTxnRetries; attempt++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		metrics.StoreTxnConflicts.Inc()
	}
	return fmt.Errorf("transaction conflict persisted after %d attempts: %w", maxTxnRetries, err)
}

// getJSON reads and unmarshals the value at key into out. Returns
// ErrNotFound when the key is absent.
func getJSON(txn *badger.Txn, key []byte, out interface{}) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	return item.Value(func(val []byte) error {
		return unmarshalJSON(val, out)
	})
}

// setJSON marshals v and writes it at key.
func setJSON(txn *badger.Txn, key []byte, v interface{}) error {
	data, err := marshalJSON(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := txn.Set(key, data); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}
