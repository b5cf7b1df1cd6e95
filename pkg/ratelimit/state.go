// Package ratelimit tracks Jira Cloud rate-limit signals and gates outgoing
// requests until an advertised reset has passed.
//
// Jira answers throttled requests with 429 and a Retry-After header, and
// reports its budget with X-RateLimit-Remaining / X-RateLimit-Reset. The
// tracker records those signals in a Store (in-process or Redis, so several
// dashboard replicas share one view) and Wait blocks callers while the
// budget is exhausted.
package ratelimit

import (
	"time"
)

// Redis keys for rate limit state storage.
const (
	RedisKeyRemaining  = "jira:rate_limit:remaining"
	RedisKeyResetAt    = "jira:rate_limit:reset_at"
	RedisKeyLastUpdate = "jira:rate_limit:last_update"
)

// Header names sent by Jira Cloud.
const (
	HeaderRetryAfter = "Retry-After"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
)

// DefaultResetWindow is assumed when Jira reports an exhausted budget
// without saying when it resets.
const DefaultResetWindow = 60 * time.Second

// State represents the last known Jira rate limit state.
type State struct {
	// Remaining is the request budget left in the current window.
	// -1 means unknown (no header seen yet).
	Remaining int `json:"remaining"`

	// ResetAt is when the budget is restored.
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when this state was recorded.
	LastUpdate time.Time `json:"last_update"`
}

// Unknown returns the state used before any rate-limit header was seen.
func Unknown() State {
	return State{Remaining: -1}
}

// IsStale returns true if the state is older than maxAge.
func (s State) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// Exhausted reports whether requests must wait for ResetAt.
func (s State) Exhausted() bool {
	return s.Remaining == 0 && s.TimeUntilReset() > 0
}

// TimeUntilReset returns the duration until the budget resets.
// Returns 0 if the reset time has already passed.
func (s State) TimeUntilReset() time.Duration {
	d := time.Until(s.ResetAt)
	if d < 0 {
		return 0
	}
	return d
}
