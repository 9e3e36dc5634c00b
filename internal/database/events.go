// Meridian - AI Scheduling and Credit Metering Backend
// Copyright 2026 Meridian HQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridian-hq/meridian

package database

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/meridian-hq/meridian/internal/models"
)

func eventKey(userID, eventID string) []byte {
	return []byte(eventKeyPrefix + userID + ":" + eventID)
}

func eventIdxKey(userID string, provider models.Provider, providerEventID string) []byte {
	return []byte(eventIdxKeyPrefix + userID + ":" + string(provider) + ":" + providerEventID)
}

// CreateEvent stores a new calendar event, assigning an ID and timestamps.
func (s *Store) CreateEvent(ctx context.Context, event *models.CalendarEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Status == "" {
		event.Status = models.StatusConfirmed
	}
	now := time.Now().UTC()
	event.CreatedAt = now
	event.UpdatedAt = now

	if err := event.Validate(); err != nil {
		return err
	}

	return s.update(func(txn *badger.Txn) error {
		if err := setJSON(txn, eventKey(event.UserID, event.ID), event); err != nil {
			return err
		}
		if event.ProviderEventID != "" {
			idx := eventIdxKey(event.UserID, event.Provider, event.ProviderEventID)
			if err := txn.Set(idx, []byte(event.ID)); err != nil {
				return fmt.Errorf("set event index: %w", err)
			}
		}
		return nil
	})
}

// GetEvent retrieves one event owned by userID.
func (s *Store) GetEvent(ctx context.Context, userID, eventID string) (*models.CalendarEvent, error) {
	var event models.CalendarEvent
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, eventKey(userID, eventID), &event)
	})
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// UpdateEvent applies a partial update. Status changes are checked against
// the event lifecycle: cancellation is terminal and confirmed events cannot
// revert to tentative.
func (s *Store) UpdateEvent(ctx context.Context, userID, eventID string, req *models.EventUpdateRequest) (*models.CalendarEvent, error) {
	var updated models.CalendarEvent
	err := s.update(func(txn *badger.Txn) error {
		key := eventKey(userID, eventID)
		if err := getJSON(txn, key, &updated); err != nil {
			return err
		}

		if req.Title != nil {
			updated.Title = *req.Title
		}
		if req.Description != nil {
			updated.Description = *req.Description
		}
		if req.Start != nil {
			updated.Start = *req.Start
		}
		if req.End != nil {
			updated.End = *req.End
		}
		if req.Location != nil {
			updated.Location = req.Location
		}
		if req.AttendeeEmails != nil {
			attendees := make([]models.Attendee, 0, len(req.AttendeeEmails))
			for _, email := range req.AttendeeEmails {
				attendees = append(attendees, models.Attendee{
					Email:      email,
					Status:     "needsAction",
					IsRequired: true,
				})
			}
			updated.Attendees = attendees
		}
		if req.Status != nil {
			if !updated.Status.CanTransitionTo(*req.Status) {
				return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, updated.Status, *req.Status)
			}
			updated.Status = *req.Status
		}
		updated.UpdatedAt = time.Now().UTC()

		if err := updated.Validate(); err != nil {
			return err
		}
		return setJSON(txn, key, &updated)
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// SetEventAnalysis stores the last computed scheduling assessment on an
// event without touching any other field.
func (s *Store) SetEventAnalysis(ctx context.Context, userID, eventID string, analysis *models.AIAnalysis) error {
	return s.update(func(txn *badger.Txn) error {
		key := eventKey(userID, eventID)
		var event models.CalendarEvent
		if err := getJSON(txn, key, &event); err != nil {
			return err
		}
		event.AIAnalysis = analysis
		event.UpdatedAt = time.Now().UTC()
		return setJSON(txn, key, &event)
	})
}

// DeleteEvent removes an event and its provider index entry.
func (s *Store) DeleteEvent(ctx context.Context, userID, eventID string) error {
	return s.update(func(txn *badger.Txn) error {
		key := eventKey(userID, eventID)
		var event models.CalendarEvent
		if err := getJSON(txn, key, &event); err != nil {
			return err
		}
		if err := txn.Delete(key); err != nil {
			return fmt.Errorf("delete event: %w", err)
		}
		if event.ProviderEventID != "" {
			idx := eventIdxKey(userID, event.Provider, event.ProviderEventID)
			if err := txn.Delete(idx); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("delete event index: %w", err)
			}
		}
		return nil
	})
}

// FindInRange returns the user's non-cancelled events whose [Start, End)
// interval intersects [start, end), sorted by start time (ties broken by
// event ID for deterministic downstream conflict scans).
//
// Events carrying a recurrence rule are returned regardless of their base
// interval: occurrences may fall inside the window even when the base does
// not. Callers expand them with availability.ExpandRecurrences.
func (s *Store) FindInRange(ctx context.Context, userID string, start, end time.Time) ([]models.CalendarEvent, error) {
	var events []models.CalendarEvent
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(eventKeyPrefix + userID + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var event models.CalendarEvent
			err := it.Item().Value(func(val []byte) error {
				return unmarshalJSON(val, &event)
			})
			if err != nil {
				return fmt.Errorf("decode event: %w", err)
			}
			if event.Status == models.StatusCancelled {
				continue
			}
			recurring := event.Recurrence != nil && event.Recurrence.RRule != ""
			if recurring || (event.Start.Before(end) && event.End.After(start)) {
				events = append(events, event)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(events, func(i, j int) bool {
		if !events[i].Start.Equal(events[j].Start) {
			return events[i].Start.Before(events[j].Start)
		}
		return events[i].ID < events[j].ID
	})
	return events, nil
}

// UpsertFromSync inserts or merges a canonical event from a calendar
// source adapter, keyed on (userID, provider, providerEventID).
//
// Index lookup and writes share one serializable transaction, so retried
// or concurrent syncs of the same provider event converge on a single
// stored row: the merge path keeps the original local ID and creation
// timestamp and last-write-wins on everything else.
//
// Returns the stored event and whether a new row was created.
func (s *Store) UpsertFromSync(ctx context.Context, userID string, provider models.Provider, canonical *models.CanonicalEvent) (*models.CalendarEvent, bool, error) {
	if canonical.ProviderEventID == "" {
		return nil, false, fmt.Errorf("upsert from sync: missing provider event id")
	}

	var (
		stored  models.CalendarEvent
		created bool
	)
	err := s.update(func(txn *badger.Txn) error {
		created = false
		idx := eventIdxKey(userID, provider, canonical.ProviderEventID)

		item, err := txn.Get(idx)
		switch {
		case err == nil:
			// Existing row: merge, preserving identity and creation time.
			var eventID string
			if verr := item.Value(func(val []byte) error {
				eventID = string(val)
				return nil
			}); verr != nil {
				return fmt.Errorf("read event index: %w", verr)
			}

			key := eventKey(userID, eventID)
			if gerr := getJSON(txn, key, &stored); gerr != nil {
				if !errors.Is(gerr, ErrNotFound) {
					return gerr
				}
				// Dangling index entry; fall through to re-create under
				// the same local ID.
				stored = models.CalendarEvent{ID: eventID, CreatedAt: time.Now().UTC()}
			}
			applyCanonical(&stored, userID, provider, canonical)
			return setJSON(txn, key, &stored)

		case errors.Is(err, badger.ErrKeyNotFound):
			created = true
			stored = models.CalendarEvent{
				ID:        uuid.New().String(),
				CreatedAt: time.Now().UTC(),
			}
			applyCanonical(&stored, userID, provider, canonical)
			if serr := setJSON(txn, eventKey(userID, stored.ID), &stored); serr != nil {
				return serr
			}
			if serr := txn.Set(idx, []byte(stored.ID)); serr != nil {
				return fmt.Errorf("set event index: %w", serr)
			}
			return nil

		default:
			return fmt.Errorf("lookup event index: %w", err)
		}
	})
	if err != nil {
		return nil, false, err
	}
	return &stored, created, nil
}

// applyCanonical copies the canonical fields onto the stored event
// (last-write-wins, no field-level merging).
func applyCanonical(event *models.CalendarEvent, userID string, provider models.Provider, c *models.CanonicalEvent) {
	event.UserID = userID
	event.Provider = provider
	event.ProviderEventID = c.ProviderEventID
	event.ProviderCalendarID = c.ProviderCalendarID
	event.Title = c.Title
	event.Description = c.Description
	event.Start = c.Start
	event.End = c.End
	event.AllDay = c.AllDay
	event.Timezone = c.Timezone
	event.Attendees = c.Attendees
	event.Location = c.Location
	if c.RRule != "" {
		event.Recurrence = &models.Recurrence{RRule: c.RRule}
	}
	switch models.EventStatus(c.Status) {
	case models.StatusTentative, models.StatusConfirmed, models.StatusCancelled:
		event.Status = models.EventStatus(c.Status)
	default:
		if event.Status == "" {
			event.Status = models.StatusConfirmed
		}
	}
	event.UpdatedAt = time.Now().UTC()
}
