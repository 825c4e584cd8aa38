package ratelimit

import (
	"errors"
	"testing"
	"time"
)

func TestLimiter_Unlimited(t *testing.T) {
	l := NewLimiter(Config{})
	for range 1000 {
		if err := l.Allow("k"); err != nil {
			t.Fatalf("unlimited limiter refused: %v", err)
		}
	}
	if got := l.Remaining("k"); got != -1 {
		t.Errorf("Remaining = %d, want -1", got)
	}
}

func TestLimiter_BurstAndRefill(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewLimiter(Config{RequestsPerMinute: 60, BurstSize: 2})
	l.now = func() time.Time { return now }

	for i := range 2 {
		if err := l.Allow("a"); err != nil {
			t.Fatalf("request %d refused: %v", i, err)
		}
	}
	if err := l.Allow("a"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	// Keys are independent.
	if err := l.Allow("b"); err != nil {
		t.Fatalf("key b refused: %v", err)
	}

	now = now.Add(time.Second)
	if err := l.Allow("a"); err != nil {
		t.Fatalf("refilled token refused: %v", err)
	}

	now = now.Add(time.Hour)
	if got := l.Remaining("a"); got != 2 {
		t.Errorf("Remaining after long idle = %d, want burst 2", got)
	}
}

func TestLimiter_PrunesIdleKeys(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewLimiter(Config{RequestsPerMinute: 60, BurstSize: 2})
	l.now = func() time.Time { return now }

	for _, k := range []string{"a", "b", "c"} {
		if err := l.Allow(k); err != nil {
			t.Fatal(err)
		}
	}
	if got := l.Len(); got != 3 {
		t.Fatalf("Len = %d, want 3", got)
	}

	// Drain "busy" so its bucket is not full at the next sweep.
	now = now.Add(2 * time.Minute)
	_ = l.Allow("busy")
	_ = l.Allow("busy")
	if got := l.Len(); got != 1 {
		t.Errorf("Len after idle sweep = %d, want 1", got)
	}

	now = now.Add(pruneInterval)
	_ = l.Allow("d")
	if got := l.Len(); got != 1 {
		t.Errorf("Len after second sweep = %d, want 1 (only d)", got)
	}
}
