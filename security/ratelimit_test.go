package security

import (
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter(1, 3, 100, discardLogger())
	defer rl.Stop()

	for i := 0; i < 3; i++ {
		if !rl.Allow("203.0.113.5") {
			t.Fatalf("request %d within burst was denied", i+1)
		}
	}
	if rl.Allow("203.0.113.5") {
		t.Error("request beyond burst was allowed")
	}

	// Other identifiers have independent buckets.
	if !rl.Allow("198.51.100.7") {
		t.Error("fresh identifier was denied")
	}
}

func TestRateLimiterLRUEviction(t *testing.T) {
	rl := NewRateLimiter(1, 1, 3, discardLogger())
	defer rl.Stop()

	for i := 0; i < 5; i++ {
		rl.Allow(fmt.Sprintf("ip-%d", i))
	}

	if got := rl.Len(); got != 3 {
		t.Errorf("Len() = %d, want 3 (LRU bound)", got)
	}

	// An evicted identifier gets a fresh bucket and is allowed again.
	if !rl.Allow("ip-0") {
		t.Error("evicted identifier was denied on return")
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(1, 1, 100, discardLogger())
	defer rl.Stop()

	rl.Allow("203.0.113.5")
	rl.Allow("198.51.100.7")
	if got := rl.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}

	rl.Cleanup(0)
	if got := rl.Len(); got != 0 {
		t.Errorf("Len() after cleanup = %d, want 0", got)
	}

	// Entries touched after the cutoff survive.
	rl.Allow("203.0.113.5")
	rl.Cleanup(time.Hour)
	if got := rl.Len(); got != 1 {
		t.Errorf("Len() = %d, want 1", got)
	}
}

func TestRateLimiterStopIdempotent(t *testing.T) {
	rl := NewRateLimiter(1, 1, 10, discardLogger())
	rl.Stop()
	rl.Stop()
}
