// SPDX-License-Identifier: GPL-3.0-or-later
package queue

import "time"

const (
	// RetryBackoff seeds the delay schedule for connection dials and for
	// failed work items.
	RetryBackoff = 8 * time.Second
	// MaxBackoff caps the schedule regardless of consecutive failures.
	MaxBackoff = 600 * time.Second

	// ConnectRetries bounds connection acquisition attempts, separately
	// from the per-worker item retry budget.
	ConnectRetries = 4
	// ItemRetries bounds transient operation failures per worker.
	ItemRetries = 4
)

// NextDelay doubles the previous delay, capped at MaxBackoff.
func NextDelay(previous time.Duration) time.Duration {
	next := previous * 2
	if next > MaxBackoff {
		return MaxBackoff
	}
	return next
}
