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
	"github.com/google/uuid"

	"github.com/meridian-hq/meridian/internal/models"
)

// Ledger accounting rules, applied identically by the live balance cache
// and by ReplayBalance:
//
//	usage:                     used  += |amount|
//	expiry:                    total -= |amount|
//	purchase/refund/bonus/...: total += amount
//	remaining = total - used, always
//
// Every transaction amount therefore sums to the remaining balance when
// the log is replayed from zero.

func txnKey(userID string, createdAt time.Time, txnID string) []byte {
	return []byte(fmt.Sprintf("%s%s:%019d:%s", txnKeyPrefix, userID, createdAt.UnixNano(), txnID))
}

func idemKey(key string) []byte {
	return []byte(idemKeyPrefix + key)
}

// appendTransaction finalizes and writes a ledger entry inside txn.
func appendTransaction(txn *badger.Txn, entry *models.CreditTransaction) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	return setJSON(txn, txnKey(entry.UserID, entry.CreatedAt, entry.ID), entry)
}

// EnsureUser returns the user, creating the record with a signup grant
// when absent. Creation writes the user and the bonus ledger entry in one
// transaction so log replay always reproduces the starting balance.
func (s *Store) EnsureUser(ctx context.Context, userID, email string, grant models.Credits) (*models.User, bool, error) {
	var (
		user    models.User
		created bool
	)
	err := s.update(func(txn *badger.Txn) error {
		created = false
		err := getJSON(txn, userKey(userID), &user)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}

		created = true
		now := time.Now().UTC()
		user = models.User{
			ID:        userID,
			Email:     email,
			CreatedAt: now,
			UpdatedAt: now,
			Credits: models.CreditBalance{
				TotalCredits:     grant,
				UsedCredits:      0,
				RemainingCredits: grant,
				UpdatedAt:        now,
			},
		}
		if err := setJSON(txn, userKey(userID), &user); err != nil {
			return err
		}
		if grant <= 0 {
			return nil
		}
		return appendTransaction(txn, &models.CreditTransaction{
			UserID:      userID,
			Type:        models.TransactionBonus,
			Amount:      grant,
			Description: "Signup credit grant",
			CreatedAt:   now,
		})
	})
	if err != nil {
		return nil, false, err
	}
	return &user, created, nil
}

// DebitCredits atomically checks the balance, decrements it and appends
// the usage entry. amount must be positive; entry.Amount is forced to the
// matching negative value.
//
// Returns ErrInsufficientCredits without writing anything when the balance
// cannot cover the amount. Two concurrent debits for the same user conflict
// at commit; the loser retries against the decremented balance, so at most
// one of them can spend the last credit.
func (s *Store) DebitCredits(ctx context.Context, userID string, amount models.Credits, entry *models.CreditTransaction) error {
	if amount <= 0 {
		return fmt.Errorf("debit amount must be positive, got %s", amount)
	}
	entry.UserID = userID
	entry.Type = models.TransactionUsage
	entry.Amount = -amount

	return s.update(func(txn *badger.Txn) error {
		var user models.User
		if err := getJSON(txn, userKey(userID), &user); err != nil {
			return err
		}
		if user.Credits.RemainingCredits < amount {
			return ErrInsufficientCredits
		}

		now := time.Now().UTC()
		user.Credits.UsedCredits += amount
		user.Credits.RemainingCredits -= amount
		user.Credits.UpdatedAt = now
		user.UpdatedAt = now
		if err := setJSON(txn, userKey(userID), &user); err != nil {
			return err
		}

		entry.CreatedAt = now
		return appendTransaction(txn, entry)
	})
}

// AddCredits atomically increments the balance and appends the entry.
// amount must be positive. When idempotencyKey is non-empty and was seen
// before, nothing is written and ErrDuplicateTransaction is returned, so
// webhook retries cannot double-grant.
//
// expiry, when non-nil, replaces the balance's expiry date (purchases
// extend credit lifetime).
func (s *Store) AddCredits(ctx context.Context, userID string, amount models.Credits, entry *models.CreditTransaction, idempotencyKey string, expiry *time.Time) error {
	if amount <= 0 {
		return fmt.Errorf("credit amount must be positive, got %s", amount)
	}
	entry.UserID = userID
	entry.Amount = amount

	return s.update(func(txn *badger.Txn) error {
		if idempotencyKey != "" {
			_, err := txn.Get(idemKey(idempotencyKey))
			if err == nil {
				return ErrDuplicateTransaction
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("idempotency lookup: %w", err)
			}
		}

		var user models.User
		if err := getJSON(txn, userKey(userID), &user); err != nil {
			return err
		}

		now := time.Now().UTC()
		user.Credits.TotalCredits += amount
		user.Credits.RemainingCredits += amount
		user.Credits.UpdatedAt = now
		user.UpdatedAt = now
		if entry.Type == models.TransactionPurchase || entry.Type == models.TransactionSubscription {
			user.Credits.LastPurchaseDate = &now
		}
		if expiry != nil {
			user.Credits.ExpiryDate = expiry
		}
		if err := setJSON(txn, userKey(userID), &user); err != nil {
			return err
		}

		entry.CreatedAt = now
		if err := appendTransaction(txn, entry); err != nil {
			return err
		}
		if idempotencyKey != "" {
			if err := txn.Set(idemKey(idempotencyKey), []byte(entry.ID)); err != nil {
				return fmt.Errorf("record idempotency key: %w", err)
			}
		}
		return nil
	})
}

// ZeroCredits removes the user's remaining balance, logging an expiry
// entry for the removed amount. Returns the amount removed (zero when
// there was nothing to expire).
func (s *Store) ZeroCredits(ctx context.Context, userID string) (models.Credits, error) {
	var expired models.Credits
	err := s.update(func(txn *badger.Txn) error {
		expired = 0
		var user models.User
		if err := getJSON(txn, userKey(userID), &user); err != nil {
			return err
		}
		if user.Credits.RemainingCredits <= 0 {
			return nil
		}

		expired = user.Credits.RemainingCredits
		now := time.Now().UTC()
		user.Credits.TotalCredits -= expired
		user.Credits.RemainingCredits = 0
		user.Credits.UpdatedAt = now
		user.UpdatedAt = now
		if err := setJSON(txn, userKey(userID), &user); err != nil {
			return err
		}

		return appendTransaction(txn, &models.CreditTransaction{
			UserID:      userID,
			Type:        models.TransactionExpiry,
			Amount:      -expired,
			Description: fmt.Sprintf("Credits expired - %s credits removed", expired),
			CreatedAt:   now,
		})
	})
	if err != nil {
		return 0, err
	}
	return expired, nil
}

// ListTransactions returns the user's ledger entries in chronological
// order, optionally filtered by type. limit <= 0 means no limit; with a
// limit the newest entries are returned.
func (s *Store) ListTransactions(ctx context.Context, userID string, typeFilter models.TransactionType, limit int) ([]models.CreditTransaction, error) {
	var entries []models.CreditTransaction
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(txnKeyPrefix + userID + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var entry models.CreditTransaction
			err := it.Item().Value(func(val []byte) error {
				return unmarshalJSON(val, &entry)
			})
			if err != nil {
				return fmt.Errorf("decode transaction: %w", err)
			}
			if typeFilter != "" && entry.Type != typeFilter {
				continue
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}

// ReplayBalance rebuilds the balance from the transaction log alone. The
// cached balance on the user record must match; tests and the analytics
// path use this to verify ledger conservation.
func (s *Store) ReplayBalance(ctx context.Context, userID string) (*models.CreditBalance, error) {
	entries, err := s.ListTransactions(ctx, userID, "", 0)
	if err != nil {
		return nil, err
	}

	var balance models.CreditBalance
	for _, entry := range entries {
		switch entry.Type {
		case models.TransactionUsage:
			balance.UsedCredits += -entry.Amount
		case models.TransactionExpiry:
			balance.TotalCredits += entry.Amount
		default:
			balance.TotalCredits += entry.Amount
		}
	}
	balance.RemainingCredits = balance.TotalCredits - balance.UsedCredits
	return &balance, nil
}
