package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Backoff computes and applies the pause after a rate-limit response.
type Backoff struct {
	base  time.Duration
	max   time.Duration
	state State
	now   func() time.Time
}

// NewBackoff creates a backoff policy. Zero values fall back to defaults.
func NewBackoff(base, max time.Duration) *Backoff {
	if base <= 0 {
		base = DefaultRateLimitBackoff
	}
	if max <= 0 {
		max = DefaultMaxBackoff
	}
	if max < base {
		max = base
	}
	return &Backoff{base: base, max: max, now: time.Now}
}

// Delay returns the pause for a 429 carrying the given Retry-After hint.
// The hint only ever lengthens the pause and is capped at max.
func (b *Backoff) Delay(retryAfter time.Duration) time.Duration {
	d := b.base
	if retryAfter > d {
		d = retryAfter
	}
	if d > b.max {
		d = b.max
	}
	return d
}

// Apply records the 429 and sleeps for the computed delay.
func (b *Backoff) Apply(ctx context.Context, retryAfter time.Duration) (time.Duration, error) {
	d := b.Delay(retryAfter)
	b.state.RecordLimit(b.now(), d)

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return d, fmt.Errorf("rate limit backoff interrupted: %w", ctx.Err())
	case <-timer.C:
		return d, nil
	}
}

// Reset marks a successful call.
func (b *Backoff) Reset() {
	b.state.RecordSuccess()
}

// State returns a copy of the current history.
func (b *Backoff) State() State {
	return b.state
}

// ParseRetryAfter reads a Retry-After header expressed in seconds or as an
// HTTP date. Unparseable or absent values yield 0.
func ParseRetryAfter(h http.Header, now time.Time) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
