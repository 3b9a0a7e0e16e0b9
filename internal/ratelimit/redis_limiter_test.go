package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLimiter(t *testing.T, limit int, window time.Duration) (*RedisIssueLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	l := NewRedisIssueLimiter(client, limit, window)
	require.NotNil(t, l)
	return l, mr
}

func TestAllowWithinWindow(t *testing.T) {
	ctx := context.Background()
	l, mr := newLimiter(t, 3, time.Minute)

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, ok, "attempt %d", i+1)
	}

	ok, err := l.Allow(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, ok)

	// accounts are counted separately
	ok, err = l.Allow(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, time.Minute, mr.TTL(keyPrefix+"alice"))
}

func TestEveryCounterCarriesTTL(t *testing.T) {
	ctx := context.Background()
	l, mr := newLimiter(t, 2, time.Minute)

	for i := 0; i < 5; i++ {
		_, err := l.Allow(ctx, "alice")
		require.NoError(t, err)
		assert.Positive(t, mr.TTL(keyPrefix+"alice"), "call %d", i+1)
	}
}

func TestAllowRepairsCounterWithoutTTL(t *testing.T) {
	ctx := context.Background()
	l, mr := newLimiter(t, 2, time.Minute)

	// a counter left over without an expiry, already past the limit
	require.NoError(t, mr.Set(keyPrefix+"alice", "7"))
	require.Zero(t, mr.TTL(keyPrefix+"alice"))

	ok, err := l.Allow(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, time.Minute, mr.TTL(keyPrefix+"alice"))

	mr.FastForward(time.Minute + time.Second)

	ok, err = l.Allow(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok, "account must be able to issue again once the window ends")
}

func TestAllowResetsAfterWindow(t *testing.T) {
	ctx := context.Background()
	l, mr := newLimiter(t, 1, time.Minute)

	ok, _ := l.Allow(ctx, "alice")
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, "alice")
	assert.False(t, ok)

	mr.FastForward(time.Minute + time.Second)

	ok, err := l.Allow(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAllowReportsRedisErrors(t *testing.T) {
	// nothing listens on port 1
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	_, err := NewRedisIssueLimiter(client, 1, time.Minute).Allow(context.Background(), "alice")
	assert.Error(t, err)
}

func TestNilLimiterAllows(t *testing.T) {
	assert.Nil(t, NewRedisIssueLimiter(nil, 1, time.Minute))
	assert.Nil(t, NewRedisIssueLimiter(redis.NewClient(&redis.Options{}), 0, time.Minute))

	var l *RedisIssueLimiter
	ok, err := l.Allow(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, ok)
}
