package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type limiterFixture struct {
	mr      *miniredis.Miniredis
	now     time.Time
	limiter *SlidingWindowLimiter
}

func newLimiterFixture(t *testing.T, limit int) *limiterFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	f := &limiterFixture{
		mr:      mr,
		now:     time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC),
		limiter: NewSlidingWindowLimiter(rdb, "holds", limit, time.Minute),
	}
	f.limiter.now = func() time.Time { return f.now }

	return f
}

func TestSlidingWindowLimiter_Window(t *testing.T) {
	f := newLimiterFixture(t, 3)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		ok, hits, retry, err := f.limiter.Allow(ctx, "ip:10.0.0.1")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, int64(i), hits)
		assert.Zero(t, retry)
	}

	ok, hits, retry, err := f.limiter.Allow(ctx, "ip:10.0.0.1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(3), hits)
	assert.Equal(t, time.Minute, retry)

	f.now = f.now.Add(30 * time.Second)
	ok, hits, retry, err = f.limiter.Allow(ctx, "ip:10.0.0.1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(3), hits, "rejected hits are not counted")
	assert.Equal(t, 30*time.Second, retry)

	f.now = f.now.Add(30 * time.Second)
	ok, hits, _, err = f.limiter.Allow(ctx, "ip:10.0.0.1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(1), hits)

	assert.True(t, f.mr.Exists(KeyRateLimit("holds", "ip:10.0.0.1")))
}

func TestSlidingWindowLimiter_PerClient(t *testing.T) {
	f := newLimiterFixture(t, 1)
	ctx := context.Background()

	ok, _, _, err := f.limiter.Allow(ctx, "ip:10.0.0.1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _, _, err = f.limiter.Allow(ctx, "ip:10.0.0.1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, _, _, err = f.limiter.Allow(ctx, "ip:10.0.0.2")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSlidingWindowLimiter_Disabled(t *testing.T) {
	f := newLimiterFixture(t, 0)

	for i := 0; i < 5; i++ {
		ok, _, _, err := f.limiter.Allow(context.Background(), "ip:10.0.0.1")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.False(t, f.mr.Exists(KeyRateLimit("holds", "ip:10.0.0.1")))
}

func TestSlidingWindowLimiter_RedisDown(t *testing.T) {
	f := newLimiterFixture(t, 3)
	f.mr.Close()

	ok, _, _, err := f.limiter.Allow(context.Background(), "ip:10.0.0.1")
	require.Error(t, err)
	assert.False(t, ok)
}

func TestParseWindowReply(t *testing.T) {
	ok, hits, retry, err := parseWindowReply([]any{int64(0), int64(10), int64(1500)})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(10), hits)
	assert.Equal(t, 1500*time.Millisecond, retry)

	_, _, _, err = parseWindowReply([]any{int64(1)})
	assert.Error(t, err)

	_, _, _, err = parseWindowReply([]any{"1", int64(1), int64(0)})
	assert.Error(t, err)
}
