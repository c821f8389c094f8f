package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *RedisCache {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Redis not available")
	}
	t.Cleanup(func() { _ = client.Close() })
	return NewFromClient(client, "arena-test:"+time.Now().Format("150405.000000")+":")
}

func TestRedisCache_RoundTrip(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	type balance struct {
		Wallet  string          `json:"wallet"`
		Balance decimal.Decimal `json:"balance"`
	}
	require.NoError(t, c.Set(ctx, "balance:w1", balance{Wallet: "w1", Balance: decimal.RequireFromString("12.5")}, time.Minute))

	var got balance
	require.NoError(t, c.Get(ctx, "balance:w1", &got))
	assert.Equal(t, "w1", got.Wallet)
	assert.True(t, got.Balance.Equal(decimal.RequireFromString("12.5")))

	require.NoError(t, c.Delete(ctx, "balance:w1"))
	assert.ErrorIs(t, c.Get(ctx, "balance:w1", &got), ErrMiss)
}

func TestRedisCache_Expiry(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "short", "v", 50*time.Millisecond))
	time.Sleep(150 * time.Millisecond)

	var v string
	assert.ErrorIs(t, c.Get(ctx, "short", &v), ErrMiss)
}
