// Meridian - AI Scheduling and Credit Metering Backend
// Copyright 2026 Meridian HQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridian-hq/meridian

package calsource

import "sync"

// Provider adapters register themselves at init time, the way database
// drivers do. The server wires every registered adapter into the sync
// manager when sync is enabled.
var (
	registryMu sync.Mutex
	registry   []Adapter
)

// Register adds an adapter to the registry. A second adapter for the
// same provider replaces the first.
func Register(a Adapter) {
	registryMu.Lock()
	defer registryMu.Unlock()
	for i, existing := range registry {
		if existing.Provider() == a.Provider() {
			registry[i] = a
			return
		}
	}
	registry = append(registry, a)
}

// Adapters returns the registered adapters.
func Adapters() []Adapter {
	registryMu.Lock()
	defer registryMu.Unlock()
	out := make([]Adapter, len(registry))
	copy(out, registry)
	return out
}
