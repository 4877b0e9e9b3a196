package ratelimit

import (
	"context"
	"sync"
	"time"
)

type bucket struct {
	windowStart time.Time
	count       int
}

type MemoryConfig struct {
	Max     int
	Window  time.Duration
	MaxKeys int // hard ceiling on tracked keys; the map is cleared when reached
}

// MemoryLimiter is a fixed-window limiter held in process memory.
type MemoryLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	max       int
	window    time.Duration
	maxKeys   int
	lastSweep time.Time
	now       func() time.Time
}

func NewMemoryLimiter(cfg MemoryConfig) *MemoryLimiter {
	if cfg.Max <= 0 {
		cfg.Max = 30
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = 10000
	}
	return &MemoryLimiter{
		buckets: make(map[string]*bucket),
		max:     cfg.Max,
		window:  cfg.Window,
		maxKeys: cfg.MaxKeys,
		now:     time.Now,
	}
}

func (l *MemoryLimiter) Limit() int            { return l.max }
func (l *MemoryLimiter) Window() time.Duration { return l.window }

func (l *MemoryLimiter) Check(_ context.Context, key string) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	b, ok := l.buckets[key]
	if !ok || now.Sub(b.windowStart) >= l.window {
		if !ok && len(l.buckets) >= l.maxKeys {
			// Under key churn we prefer forgetting counts over unbounded growth.
			l.buckets = make(map[string]*bucket)
		}
		b = &bucket{windowStart: now}
		l.buckets[key] = b
	}

	resetAfter := l.window - now.Sub(b.windowStart)

	if b.count >= l.max {
		return Decision{
			Allowed:    false,
			Limit:      l.max,
			Remaining:  0,
			ResetAfter: resetAfter,
			RetryAfter: resetAfter,
		}, nil
	}

	b.count++
	return Decision{
		Allowed:    true,
		Limit:      l.max,
		Remaining:  remaining(l.max, b.count),
		ResetAfter: resetAfter,
	}, nil
}

// size returns the number of tracked keys.
func (l *MemoryLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// sweep drops expired buckets, at most once per window. Caller holds mu.
func (l *MemoryLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.window {
		return
	}
	l.lastSweep = now
	for k, b := range l.buckets {
		if now.Sub(b.windowStart) >= l.window {
			delete(l.buckets, k)
		}
	}
}
