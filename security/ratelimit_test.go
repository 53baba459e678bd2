package security

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestNewRateLimiter_Defaults(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Name: "login", Limit: rate.Every(time.Second)}, nil)
	defer rl.Stop()

	if rl.logger == nil {
		t.Error("logger should not be nil")
	}
	if rl.cfg.MaxEntries != DefaultMaxEntries {
		t.Errorf("MaxEntries = %d, want %d", rl.cfg.MaxEntries, DefaultMaxEntries)
	}
	if rl.cfg.Burst != 1 {
		t.Errorf("Burst = %d, want 1", rl.cfg.Burst)
	}
	if rl.Name() != "login" {
		t.Errorf("Name() = %q, want %q", rl.Name(), "login")
	}
}

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Limit: rate.Every(time.Hour), Burst: 5}, nil)
	defer rl.Stop()

	for i := 0; i < 5; i++ {
		if !rl.Allow("203.0.113.7") {
			t.Errorf("Allow() request %d should be allowed", i+1)
		}
	}

	if rl.Allow("203.0.113.7") {
		t.Error("Allow() should return false once the burst is spent")
	}
}

func TestRateLimiter_Allow_SeparateKeys(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Limit: rate.Every(time.Hour), Burst: 2}, nil)
	defer rl.Stop()

	for i := 0; i < 2; i++ {
		rl.Allow("a")
	}
	if rl.Allow("a") {
		t.Error("Allow(a) should be limited")
	}
	if !rl.Allow("b") {
		t.Error("Allow(b) should be allowed, keys are independent")
	}
}

func TestRateLimiter_Allow_Refill(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Limit: rate.Limit(20), Burst: 1}, nil)
	defer rl.Stop()

	if !rl.Allow("k") {
		t.Fatal("first request should be allowed")
	}
	if rl.Allow("k") {
		t.Fatal("second immediate request should be limited")
	}

	time.Sleep(100 * time.Millisecond)

	if !rl.Allow("k") {
		t.Error("request after refill should be allowed")
	}
}

func TestRateLimiter_LRUEviction(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Limit: rate.Every(time.Hour), Burst: 1, MaxEntries: 3}, nil)
	defer rl.Stop()

	for i := 0; i < 5; i++ {
		rl.Allow(fmt.Sprintf("key-%d", i))
	}

	stats := rl.Stats()
	if stats.CurrentEntries != 3 {
		t.Errorf("CurrentEntries = %d, want 3", stats.CurrentEntries)
	}
	if stats.TotalEvictions != 2 {
		t.Errorf("TotalEvictions = %d, want 2", stats.TotalEvictions)
	}

	// key-0 was evicted, so it starts with a fresh bucket
	if !rl.Allow("key-0") {
		t.Error("evicted key should get a fresh bucket")
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Limit: rate.Every(time.Hour), Burst: 1}, nil)
	defer rl.Stop()

	rl.Allow("old")
	time.Sleep(20 * time.Millisecond)
	rl.Allow("fresh")

	removed := rl.Cleanup(10 * time.Millisecond)
	if removed != 1 {
		t.Errorf("Cleanup() removed %d, want 1", removed)
	}

	stats := rl.Stats()
	if stats.CurrentEntries != 1 {
		t.Errorf("CurrentEntries = %d, want 1", stats.CurrentEntries)
	}
	if stats.TotalCleanups != 1 {
		t.Errorf("TotalCleanups = %d, want 1", stats.TotalCleanups)
	}
}

func TestRateLimiter_ConcurrentAccess(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Limit: rate.Limit(1000), Burst: 1000, MaxEntries: 50}, nil)
	defer rl.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				rl.Allow(fmt.Sprintf("key-%d-%d", n, j%10))
			}
		}(i)
	}
	wg.Wait()

	if got := rl.Stats().CurrentEntries; got > 50 {
		t.Errorf("CurrentEntries = %d, exceeds MaxEntries 50", got)
	}
}

func TestRateLimiter_StopTwice(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Limit: rate.Limit(1)}, nil)
	rl.Stop()
	rl.Stop()
}
