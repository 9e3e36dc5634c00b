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
)

// The outbox holds notification requests when no message broker is
// configured, so alerts survive restarts until an operator drains them.

func outboxKey(createdAt time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%019d:%s", outboxKeyPrefix, createdAt.UnixNano(), id))
}

// AppendOutbox stores a serialized notification in the outbox.
func (s *Store) AppendOutbox(ctx context.Context, id string, createdAt time.Time, payload []byte) error {
	return s.update(func(txn *badger.Txn) error {
		if err := txn.Set(outboxKey(createdAt, id), payload); err != nil {
			return fmt.Errorf("append outbox: %w", err)
		}
		return nil
	})
}

// DrainOutbox returns up to limit pending notifications in insertion
// order and deletes them. limit <= 0 drains everything.
func (s *Store) DrainOutbox(ctx context.Context, limit int) ([][]byte, error) {
	var payloads [][]byte
	err := s.update(func(txn *badger.Txn) error {
		payloads = payloads[:0]
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(outboxKeyPrefix)
		var keys [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(payloads) >= limit {
				break
			}
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("read outbox entry: %w", err)
			}
			payloads = append(payloads, val)
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return fmt.Errorf("drain outbox: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return payloads, nil
}
