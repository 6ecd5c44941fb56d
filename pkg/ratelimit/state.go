// Package ratelimit implements upstream call spacing and rate-limit backoff.
// A Spacer enforces a minimum interval between consecutive upstream calls of
// one fetcher; a Backoff decides how long to pause after a 429 and keeps a
// small State for logging and metrics.
package ratelimit

import (
	"time"
)

// Defaults for the OpenAlex polite pool (10 req/s).
const (
	// DefaultMinSpacing is the minimum gap between two upstream calls.
	DefaultMinSpacing = 100 * time.Millisecond

	// DefaultRateLimitBackoff is the pause after a 429 response.
	// It must stay longer than DefaultMinSpacing.
	DefaultRateLimitBackoff = 2 * time.Second

	// DefaultMaxBackoff caps Retry-After hints from upstream.
	DefaultMaxBackoff = 10 * time.Second
)

// State is the rate-limit history of one fetcher.
type State struct {
	// ConsecutiveLimits counts 429s since the last successful call.
	ConsecutiveLimits int `json:"consecutive_limits"`

	// TotalLimits counts every 429 seen by this fetcher.
	TotalLimits int `json:"total_limits"`

	// LastBackoff is the most recent pause applied.
	LastBackoff time.Duration `json:"last_backoff"`

	// LastLimitedAt is when the most recent 429 arrived.
	LastLimitedAt time.Time `json:"last_limited_at"`
}

// IsLimited reports whether the last upstream answer was a 429.
func (s *State) IsLimited() bool {
	return s.ConsecutiveLimits > 0
}

// RecordLimit registers a 429 and the backoff applied for it.
func (s *State) RecordLimit(at time.Time, backoff time.Duration) {
	s.ConsecutiveLimits++
	s.TotalLimits++
	s.LastBackoff = backoff
	s.LastLimitedAt = at
}

// RecordSuccess resets the consecutive counter.
func (s *State) RecordSuccess() {
	s.ConsecutiveLimits = 0
}
