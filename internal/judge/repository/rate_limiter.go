package repository

import (
	"context"
	"fmt"
	"time"

	"judgehub/internal/common/cache"
	appErr "judgehub/pkg/errors"
)

// fixedWindowScript counts hits in KEYS[1] and starts the window on the first hit.
var fixedWindowScript = cache.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 or redis.call("PTTL", KEYS[1]) < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// RedisRateLimiter enforces fixed-window limits shared by every dispatcher replica.
type RedisRateLimiter struct {
	cache   cache.ScriptOps
	timeout time.Duration
}

// NewRedisRateLimiter creates a limiter. timeout bounds each Redis round trip.
func NewRedisRateLimiter(cacheClient cache.ScriptOps, timeout time.Duration) *RedisRateLimiter {
	if timeout <= 0 {
		timeout = time.Second
	}
	return &RedisRateLimiter{cache: cacheClient, timeout: timeout}
}

// Allow counts one hit on key and fails with TooManyRequests past max per window.
func (l *RedisRateLimiter) Allow(ctx context.Context, key string, max int, window time.Duration) error {
	if l.cache == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("rate limit cache is unavailable")
	}
	if max <= 0 || window <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	reply, err := l.cache.Eval(ctx, fixedWindowScript, []string{"judge:rate:" + key}, window.Milliseconds())
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "rate limit check failed")
	}
	count, ok := reply.(int64)
	if !ok {
		return appErr.Newf(appErr.CacheError, "unexpected rate limit reply %T", reply)
	}
	if count > int64(max) {
		return appErr.New(appErr.TooManyRequests).WithMessage(fmt.Sprintf("rate limit exceeded for %s", key))
	}
	return nil
}
