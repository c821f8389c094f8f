package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTokenBlacklist implements TokenBlacklist using Redis.
type RedisTokenBlacklist struct {
	client *redis.Client
}

// NewRedisTokenBlacklist creates a new RedisTokenBlacklist.
func NewRedisTokenBlacklist(client *redis.Client) *RedisTokenBlacklist {
	return &RedisTokenBlacklist{client: client}
}

// Blacklist revokes an operator token until it would have expired anyway.
func (b *RedisTokenBlacklist) Blacklist(ctx context.Context, token string, expiration time.Duration) error {
	return b.client.Set(ctx, "arena:revoked:"+token, "revoked", expiration).Err()
}

// IsBlacklisted checks if a token is in the blacklist.
func (b *RedisTokenBlacklist) IsBlacklisted(ctx context.Context, token string) (bool, error) {
	exists, err := b.client.Exists(ctx, "arena:revoked:"+token).Result()
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}

// MemoryTokenBlacklist keeps revocations in process for single-instance runs
// without Redis. Expired entries are dropped on lookup.
type MemoryTokenBlacklist struct {
	mu      sync.Mutex
	revoked map[string]time.Time
	now     func() time.Time
}

func NewMemoryTokenBlacklist() *MemoryTokenBlacklist {
	return &MemoryTokenBlacklist{revoked: make(map[string]time.Time), now: time.Now}
}

func (b *MemoryTokenBlacklist) Blacklist(ctx context.Context, token string, expiration time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.revoked[token] = b.now().Add(expiration)
	return nil
}

func (b *MemoryTokenBlacklist) IsBlacklisted(ctx context.Context, token string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	until, ok := b.revoked[token]
	if !ok {
		return false, nil
	}
	if !b.now().Before(until) {
		delete(b.revoked, token)
		return false, nil
	}
	return true, nil
}
