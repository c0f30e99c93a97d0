package httpx

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against a real server when REDIS_TEST_ADDR is set.
func TestRedisRateLimiterWindow(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	key := projectLimiterKey(uuid.NewString())
	t.Cleanup(func() {
		client.Del(ctx, redisRateLimitPrefix+key)
		client.Close()
	})
	rl := NewRedisRateLimiter(client, discard())

	first := rl.Allow(key, 2, time.Minute)
	assert.True(t, first.allowed)
	assert.Equal(t, 1, first.count)
	assert.WithinDuration(t, time.Now().Add(time.Minute), first.windowEnd, 2*time.Second)

	assert.True(t, rl.Allow(key, 2, time.Minute).allowed)
	third := rl.Allow(key, 2, time.Minute)
	assert.False(t, third.allowed)
	assert.Equal(t, 3, third.count)

	ttl, err := client.PTTL(ctx, redisRateLimitPrefix+key).Result()
	require.NoError(t, err)
	assert.Positive(t, ttl)
}

func TestRedisRateLimiterFailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	rl := NewRedisRateLimiter(client, discard())

	decision := rl.Allow("project:any", 1, time.Minute)
	assert.True(t, decision.allowed)
	assert.True(t, rl.Allow("project:any", 0, time.Minute).allowed)
}
