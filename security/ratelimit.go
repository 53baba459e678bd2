package security

import (
	"container/list"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultMaxEntries bounds how many distinct keys a limiter tracks.
	DefaultMaxEntries = 10000

	// DefaultIdleTimeout is how long an unused key is kept before cleanup.
	DefaultIdleTimeout = 30 * time.Minute

	// DefaultCleanupInterval is how often idle keys are swept.
	DefaultCleanupInterval = 5 * time.Minute
)

// RateLimiterConfig configures a RateLimiter.
type RateLimiterConfig struct {
	// Name identifies the limiter in logs and metrics (e.g. "login", "registration").
	Name string

	// Limit is the sustained event rate per key.
	Limit rate.Limit

	// Burst is the number of events a key may spend at once.
	Burst int

	// MaxEntries caps tracked keys; least recently used keys are evicted beyond it.
	// Zero uses DefaultMaxEntries.
	MaxEntries int

	// IdleTimeout and CleanupInterval control background sweeping.
	IdleTimeout     time.Duration
	CleanupInterval time.Duration
}

type limiterEntry struct {
	key        string
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter applies a token bucket per key (client IP for login and
// registration) with LRU eviction so memory stays bounded under spray attacks.
type RateLimiter struct {
	cfg    RateLimiterConfig
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List

	evictions int64
	cleanups  int64

	stopOnce sync.Once
	stop     chan struct{}
}

// NewRateLimiter creates a limiter and starts its cleanup goroutine.
// Call Stop to release it.
func NewRateLimiter(cfg RateLimiterConfig, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	rl := &RateLimiter{
		cfg:     cfg,
		logger:  logger,
		entries: make(map[string]*list.Element),
		lru:     list.New(),
		stop:    make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Allow reports whether an event for key may happen now.
func (rl *RateLimiter) Allow(key string) bool {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if elem, ok := rl.entries[key]; ok {
		rl.lru.MoveToFront(elem)
		entry := elem.Value.(*limiterEntry)
		entry.lastAccess = now
		return entry.limiter.AllowN(now, 1)
	}

	if len(rl.entries) >= rl.cfg.MaxEntries {
		rl.evictOldest()
	}

	entry := &limiterEntry{
		key:        key,
		limiter:    rate.NewLimiter(rl.cfg.Limit, rl.cfg.Burst),
		lastAccess: now,
	}
	rl.entries[key] = rl.lru.PushFront(entry)

	return entry.limiter.AllowN(now, 1)
}

// evictOldest must be called with mu held.
func (rl *RateLimiter) evictOldest() {
	elem := rl.lru.Back()
	if elem == nil {
		return
	}
	entry := elem.Value.(*limiterEntry)
	delete(rl.entries, entry.key)
	rl.lru.Remove(elem)
	rl.evictions++

	rl.logger.Debug("Rate limiter evicted key",
		"limiter", rl.cfg.Name,
		"total_evictions", rl.evictions)
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.Cleanup(rl.cfg.IdleTimeout)
		case <-rl.stop:
			return
		}
	}
}

// Cleanup drops keys idle for longer than maxIdle.
func (rl *RateLimiter) Cleanup(maxIdle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-maxIdle)
	removed := 0

	// The back of the list holds the least recently used keys.
	for elem := rl.lru.Back(); elem != nil; {
		entry := elem.Value.(*limiterEntry)
		if entry.lastAccess.After(cutoff) {
			break
		}
		prev := elem.Prev()
		delete(rl.entries, entry.key)
		rl.lru.Remove(elem)
		removed++
		elem = prev
	}

	if removed > 0 {
		rl.cleanups++
		rl.logger.Debug("Rate limiter cleanup completed",
			"limiter", rl.cfg.Name,
			"removed", removed,
			"remaining", len(rl.entries))
	}
	return removed
}

// Stop terminates the cleanup goroutine. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// Stats is a snapshot of limiter state for monitoring.
type Stats struct {
	CurrentEntries int
	MaxEntries     int
	TotalEvictions int64
	TotalCleanups  int64
}

// Stats returns a snapshot of limiter state.
func (rl *RateLimiter) Stats() Stats {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	return Stats{
		CurrentEntries: len(rl.entries),
		MaxEntries:     rl.cfg.MaxEntries,
		TotalEvictions: rl.evictions,
		TotalCleanups:  rl.cleanups,
	}
}

// Name returns the configured limiter name.
func (rl *RateLimiter) Name() string {
	return rl.cfg.Name
}
