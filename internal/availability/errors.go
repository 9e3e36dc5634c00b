// Meridian - AI Scheduling and Credit Metering Backend
// Copyright 2026 Meridian HQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridian-hq/meridian

package availability

import "errors"

// ErrInvalidWindow indicates a zero/negative slot duration or an empty
// time window. Rejected before any store access.
var ErrInvalidWindow = errors.New("invalid availability window")
