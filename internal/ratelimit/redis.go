package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisKeyPrefix namespaces limiter counters. Callers append "<scope>:<addr>".
const RedisKeyPrefix = "dictation:ratelimit:"

// fixedWindowScript increments the window counter, starting the window on the
// first hit, and returns {count, pttl}.
var fixedWindowScript = redis.NewScript(`
local c = redis.call('INCR', KEYS[1])
if c == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {c, ttl}
`)

// RedisLimiter is a fixed-window limiter whose counters live in Redis, so every
// instance behind a load balancer shares the same windows.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	max    int
	window time.Duration
}

func NewRedisLimiter(client *redis.Client, prefix string, max int, window time.Duration) *RedisLimiter {
	if max <= 0 {
		max = 30
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RedisLimiter{client: client, prefix: prefix, max: max, window: window}
}

func (l *RedisLimiter) Limit() int            { return l.max }
func (l *RedisLimiter) Window() time.Duration { return l.window }

func (l *RedisLimiter) Check(ctx context.Context, key string) (Decision, error) {
	res, err := fixedWindowScript.Run(ctx, l.client, []string{l.prefix + key}, l.window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit check %s: %w", key, err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("rate limit check %s: unexpected reply %v", key, res)
	}

	count := int(res[0])
	resetAfter := time.Duration(res[1]) * time.Millisecond

	if count > l.max {
		return Decision{
			Allowed:    false,
			Limit:      l.max,
			Remaining:  0,
			ResetAfter: resetAfter,
			RetryAfter: resetAfter,
		}, nil
	}
	return Decision{
		Allowed:    true,
		Limit:      l.max,
		Remaining:  remaining(l.max, count),
		ResetAfter: resetAfter,
	}, nil
}
