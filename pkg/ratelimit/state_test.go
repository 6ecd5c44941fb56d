package ratelimit

import (
	"testing"
	"time"
)

func TestState_RecordLimit(t *testing.T) {
	var s State
	at := time.Date(2025, 10, 18, 9, 0, 0, 0, time.UTC)

	s.RecordLimit(at, 2*time.Second)
	s.RecordLimit(at.Add(time.Second), 3*time.Second)

	if s.ConsecutiveLimits != 2 {
		t.Errorf("ConsecutiveLimits = %d, want 2", s.ConsecutiveLimits)
	}
	if s.TotalLimits != 2 {
		t.Errorf("TotalLimits = %d, want 2", s.TotalLimits)
	}
	if s.LastBackoff != 3*time.Second {
		t.Errorf("LastBackoff = %v, want 3s", s.LastBackoff)
	}
	if !s.IsLimited() {
		t.Error("IsLimited() = false, want true")
	}
}

func TestState_RecordSuccess(t *testing.T) {
	s := State{ConsecutiveLimits: 3, TotalLimits: 3}

	s.RecordSuccess()

	if s.IsLimited() {
		t.Error("IsLimited() should be false after success")
	}
	if s.TotalLimits != 3 {
		t.Errorf("TotalLimits = %d, want 3 (history kept)", s.TotalLimits)
	}
}

func TestDefaultsOrdering(t *testing.T) {
	if DefaultRateLimitBackoff <= DefaultMinSpacing {
		t.Errorf("DefaultRateLimitBackoff (%v) must be longer than DefaultMinSpacing (%v)",
			DefaultRateLimitBackoff, DefaultMinSpacing)
	}
	if DefaultMaxBackoff < DefaultRateLimitBackoff {
		t.Errorf("DefaultMaxBackoff (%v) must be >= DefaultRateLimitBackoff (%v)",
			DefaultMaxBackoff, DefaultRateLimitBackoff)
	}
}
