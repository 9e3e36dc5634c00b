// Meridian - AI Scheduling and Credit Metering Backend
// Copyright 2026 Meridian HQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridian-hq/meridian

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/meridian-hq/meridian/internal/models"
)

func userKey(userID string) []byte {
	return []byte(userKeyPrefix + userID)
}

// GetUser retrieves a user by ID.
func (s *Store) GetUser(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, userKey(userID), &user)
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// PutUser writes a user record. The credit ledger is the only caller that
// may change balance fields; everyone else must go through it.
func (s *Store) PutUser(ctx context.Context, user *models.User) error {
	user.UpdatedAt = time.Now().UTC()
	return s.update(func(txn *badger.Txn) error {
		return setJSON(txn, userKey(user.ID), user)
	})
}

// DeleteUser removes a user and all owned records (events, ledger). Used
// by account deletion.
func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	prefixes := [][]byte{
		userKey(userID),
		[]byte(eventKeyPrefix + userID + ":"),
		[]byte(eventIdxKeyPrefix + userID + ":"),
		[]byte(txnKeyPrefix + userID + ":"),
	}
	return s.update(func(txn *badger.Txn) error {
		for _, prefix := range prefixes {
			if err := deletePrefix(txn, prefix); err != nil {
				return err
			}
		}
		return nil
	})
}

// deletePrefix removes every key under prefix (single keys included).
func deletePrefix(txn *badger.Txn, prefix []byte) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	for _, key := range keys {
		if err := txn.Delete(key); err != nil {
			return fmt.Errorf("delete %s: %w", key, err)
		}
	}
	return nil
}

// ListUsers returns every user record. The user population here is small
// (one record per account, no pagination yet); callers that need a subset
// filter in memory.
func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(userKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var user models.User
			err := it.Item().Value(func(val []byte) error {
				return unmarshalJSON(val, &user)
			})
			if err != nil {
				return fmt.Errorf("decode user: %w", err)
			}
			users = append(users, user)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return users, nil
}

// UsersPastCreditExpiry returns the IDs of users whose credits expired
// before now and who still have a positive remaining balance. Used by the
// expiry batch job.
func (s *Store) UsersPastCreditExpiry(ctx context.Context, now time.Time) ([]string, error) {
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(userKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var user models.User
			err := it.Item().Value(func(val []byte) error {
				return unmarshalJSON(val, &user)
			})
			if err != nil {
				continue
			}
			c := user.Credits
			if c.ExpiryDate != nil && c.ExpiryDate.Before(now) && c.RemainingCredits > 0 {
				ids = append(ids, user.ID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan users for expiry: %w", err)
	}
	return ids, nil
}
