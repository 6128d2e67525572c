package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// holdWindowScript keeps one sorted-set member per accepted hit, scored by
// its time in milliseconds. Rejected hits are not stored, so a throttled
// client is let back in as soon as its oldest hit leaves the window.
//
// KEYS[1] window key
// ARGV    now_ms, window_ms, limit, member
// Returns {allowed, hits_in_window, retry_after_ms}.
const holdWindowScript = `
local key    = KEYS[1]
local now    = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit  = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

local hits = redis.call('ZCARD', key)
if hits >= limit then
  local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  local wait = window
  if oldest[2] then
    wait = tonumber(oldest[2]) + window - now
  end
  if wait < 0 then wait = 0 end
  return {0, hits, wait}
end

redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return {1, hits + 1, 0}
`

// SlidingWindowLimiter throttles hold placement per client over a rolling
// window.
type SlidingWindowLimiter struct {
	rdb    redis.Scripter
	scope  string
	limit  int
	window time.Duration
	now    func() time.Time
	script *redis.Script
}

// NewSlidingWindowLimiter allows limit hits per window for each id. A
// non-positive limit disables throttling.
func NewSlidingWindowLimiter(
	rdb redis.Scripter,
	scope string,
	limit int,
	window time.Duration,
) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		rdb:    rdb,
		scope:  scope,
		limit:  limit,
		window: window,
		now:    time.Now,
		script: redis.NewScript(holdWindowScript),
	}
}

// Allow records a hit for id if it fits in the window.
//
// Returns:
//   - allowed: whether the hit was accepted.
//   - hits: accepted hits currently in the window.
//   - retryAfter: how long until a hit would be accepted again; zero when allowed.
func (l *SlidingWindowLimiter) Allow(ctx context.Context, id string) (allowed bool, hits int64, retryAfter time.Duration, err error) {
	const op = "redis.SlidingWindowLimiter.Allow"

	if l.limit <= 0 {
		return true, 0, 0, nil
	}

	res, err := l.script.Run(ctx, l.rdb,
		[]string{KeyRateLimit(l.scope, id)},
		l.now().UnixMilli(), l.window.Milliseconds(), l.limit, uuid.NewString(),
	).Slice()
	if err != nil {
		return false, 0, 0, fmt.Errorf("%s:%w", op, err)
	}

	allowed, hits, retryAfter, err = parseWindowReply(res)
	if err != nil {
		return false, 0, 0, fmt.Errorf("%s:%w", op, err)
	}

	return allowed, hits, retryAfter, nil
}

func parseWindowReply(res []any) (bool, int64, time.Duration, error) {
	if len(res) != 3 {
		return false, 0, 0, fmt.Errorf("unexpected window reply %v", res)
	}

	vals := make([]int64, len(res))
	for i, v := range res {
		n, ok := v.(int64)
		if !ok {
			return false, 0, 0, fmt.Errorf("unexpected window reply element %T", v)
		}
		vals[i] = n
	}

	return vals[0] == 1, vals[1], time.Duration(vals[2]) * time.Millisecond, nil
}
