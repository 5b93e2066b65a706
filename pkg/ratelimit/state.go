// Package ratelimit implements the catalog's rate-limit cool-down.
// When the export endpoint answers with error code 138 the process waits out
// a fixed interval before the same chunk is requested again.
package ratelimit

import (
	"time"
)

// MinRetryTime is the shortest cool-down the catalog tolerates after code 138.
const MinRetryTime = 300 * time.Second

// State summarizes the cool-downs taken so far.
type State struct {
	// Cooldowns is the number of completed waits.
	Cooldowns int `json:"cooldowns"`

	// TotalWait is the accumulated time spent waiting.
	TotalWait time.Duration `json:"total_wait"`

	// LastCooldown is when the most recent wait started.
	LastCooldown time.Time `json:"last_cooldown"`
}

// Throttled reports whether at least one cool-down has happened.
func (s State) Throttled() bool {
	return s.Cooldowns > 0
}

// Since returns the time elapsed since the last cool-down started.
// Returns 0 if there has been none.
func (s State) Since(now time.Time) time.Duration {
	if s.LastCooldown.IsZero() {
		return 0
	}
	return now.Sub(s.LastCooldown)
}
