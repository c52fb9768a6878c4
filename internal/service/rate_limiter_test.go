package service

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testRedis returns a client on DB 15, skipping the test when no local Redis
// is reachable.
func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skip("Redis not available for testing")
	}

	client.FlushDB(context.Background())
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRateLimiter_Basic(t *testing.T) {
	limiter := NewRateLimiter(testRedis(t))
	ctx := context.Background()

	t.Run("allows requests within limit", func(t *testing.T) {
		key := "test:user1"
		limit := 3
		window := 10 * time.Second

		for i := 0; i < limit; i++ {
			allowed, _ := limiter.CheckLimit(ctx, key, limit, window)
			assert.True(t, allowed, "Request %d should be allowed", i+1)
		}

		allowed, resetAt := limiter.CheckLimit(ctx, key, limit, window)
		assert.False(t, allowed, "Request should be rate limited")
		assert.True(t, resetAt.After(time.Now()), "Reset time should be in future")
	})

	t.Run("sliding window behavior", func(t *testing.T) {
		key := "test:user2"
		limit := 2
		window := 2 * time.Second

		allowed, _ := limiter.CheckLimit(ctx, key, limit, window)
		assert.True(t, allowed)
		allowed, _ = limiter.CheckLimit(ctx, key, limit, window)
		assert.True(t, allowed)

		allowed, _ = limiter.CheckLimit(ctx, key, limit, window)
		assert.False(t, allowed)

		// Wait for window to pass
		time.Sleep(2100 * time.Millisecond)

		allowed, _ = limiter.CheckLimit(ctx, key, limit, window)
		assert.True(t, allowed)
	})

	t.Run("different keys are independent", func(t *testing.T) {
		limit := 1
		window := 10 * time.Second

		allowed, _ := limiter.CheckLimit(ctx, "test:independent1", limit, window)
		assert.True(t, allowed)
		allowed, _ = limiter.CheckLimit(ctx, "test:independent1", limit, window)
		assert.False(t, allowed)

		allowed, _ = limiter.CheckLimit(ctx, "test:independent2", limit, window)
		assert.True(t, allowed)
	})
}

func TestRateLimiter_AllowPairing(t *testing.T) {
	limiter := NewRateLimiter(testRedis(t))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		allowed, _ := limiter.AllowPairing(ctx, 42, 5)
		assert.True(t, allowed, "Attempt %d should be allowed", i+1)
	}

	allowed, resetAt := limiter.AllowPairing(ctx, 42, 5)
	assert.False(t, allowed, "Should be rate limited after 5 attempts")
	assert.True(t, resetAt.After(time.Now()))

	allowed, _ = limiter.AllowPairing(ctx, 43, 5)
	assert.True(t, allowed, "Other users are not affected")
}

func TestRateLimiter_RejectedHitsNotCounted(t *testing.T) {
	client := testRedis(t)
	limiter := NewRateLimiter(client)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		limiter.AllowPairing(ctx, 77, 2)
	}

	n, err := client.ZCard(ctx, "motorbot:ratelimit:pairing:77").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestRateLimiter_FailsClosed(t *testing.T) {
	invalidClient := redis.NewClient(&redis.Options{
		Addr: "localhost:9999", // Invalid port
	})
	defer invalidClient.Close()

	limiter := NewRateLimiter(invalidClient)

	allowed, resetAt := limiter.CheckLimit(context.Background(), "test:key", 1, time.Minute)
	require.False(t, allowed, "Should deny requests when Redis is unreachable")
	require.True(t, resetAt.After(time.Now()), "Should return valid reset time")
}
