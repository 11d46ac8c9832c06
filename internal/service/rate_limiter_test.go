package service

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRedisClient(t *testing.T) *redis.Client {
	t.Helper()

	// Uses DB 15 so test keys never collide with live data.
	opts, err := redis.ParseURL("redis://localhost:6379/15")
	if err != nil {
		t.Skip("Redis not available for testing")
	}

	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		t.Skip("Redis not available for testing")
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestCallRateLimiter(t *testing.T) {
	client := testRedisClient(t)
	ctx := context.Background()
	client.FlushDB(ctx)

	t.Run("allows calls within limit", func(t *testing.T) {
		limiter := NewCallRateLimiter(client, 3)

		for i := 0; i < 3; i++ {
			allowed, _ := limiter.Allow(ctx, "caller-1")
			assert.True(t, allowed, "call %d should be allowed", i+1)
		}

		allowed, resetAt := limiter.Allow(ctx, "caller-1")
		assert.False(t, allowed, "call over the limit should be denied")
		assert.True(t, resetAt.After(time.Now()))
	})

	t.Run("callers are limited independently", func(t *testing.T) {
		limiter := NewCallRateLimiter(client, 1)

		allowed, _ := limiter.Allow(ctx, "caller-2")
		assert.True(t, allowed)
		allowed, _ = limiter.Allow(ctx, "caller-2")
		assert.False(t, allowed)

		allowed, _ = limiter.Allow(ctx, "caller-3")
		assert.True(t, allowed)
	})
}

func TestCallRateLimiterFailsOpen(t *testing.T) {
	unreachable := redis.NewClient(&redis.Options{
		Addr: "localhost:9999",
	})
	defer unreachable.Close()

	limiter := NewCallRateLimiter(unreachable, 1)

	// Redis being down must never block call initiation.
	allowed, resetAt := limiter.Allow(context.Background(), "caller-1")
	require.True(t, allowed)
	require.True(t, resetAt.After(time.Now()))
}
