// Meridian - AI Scheduling and Credit Metering Backend
// Copyright 2026 Meridian HQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridian-hq/meridian

package database

import "github.com/goccy/go-json"

// Serialization is isolated here so the store has a single place that
// decides the on-disk codec.

func marshalJSON(v interface{}) ([]byte, error)    { return json.Marshal(v) }
func unmarshalJSON(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
