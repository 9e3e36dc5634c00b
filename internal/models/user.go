// Meridian - AI Scheduling and Credit Metering Backend
// Copyright 2026 Meridian HQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridian-hq/meridian

package models

import "time"

// Connections records which calendar providers a user has linked.
// Token custody and refresh belong to the auth layer; the scheduling core
// only needs to know which adapters to sync.
type Connections struct {
	GoogleConnected    bool `json:"google_connected"`
	MicrosoftConnected bool `json:"microsoft_connected"`
}

// User is the user aggregate as seen by the scheduling core: identity,
// provider connections and the embedded credit balance cache.
type User struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name,omitempty"`
	Timezone string `json:"timezone,omitempty"`

	Connections Connections   `json:"connections"`
	Credits     CreditBalance `json:"credits"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
