// Package ratelimit implements fixed-window request counting keyed by client.
//
// The in-memory Limiter is a coarse single-process abuse guard. RedisLimiter keeps
// the same semantics in a shared store for deployments with more than one instance.
package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of a single Check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAfter time.Duration // time until the current window closes
	RetryAfter time.Duration // zero when allowed
}

// Limiter counts requests per key within fixed windows.
type Limiter interface {
	Check(ctx context.Context, key string) (Decision, error)
	Limit() int
	Window() time.Duration
}

func remaining(limit, count int) int {
	if r := limit - count; r > 0 {
		return r
	}
	return 0
}
