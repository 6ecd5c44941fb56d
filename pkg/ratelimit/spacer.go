package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Spacer enforces a minimum interval between calls. The first call of a
// Spacer never waits; every later call waits until interval has passed since
// the previous one was admitted.
type Spacer struct {
	limiter  *rate.Limiter
	interval time.Duration
}

// NewSpacer creates a spacer. A non-positive interval disables spacing.
func NewSpacer(interval time.Duration) *Spacer {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Spacer{
		limiter:  rate.NewLimiter(limit, 1),
		interval: interval,
	}
}

// Wait blocks until the next call is allowed or ctx is done.
func (s *Spacer) Wait(ctx context.Context) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for upstream slot: %w", err)
	}
	return nil
}

// Interval returns the configured spacing.
func (s *Spacer) Interval() time.Duration {
	return s.interval
}
