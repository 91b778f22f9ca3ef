package pricing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// RateCache は為替レートのTTL付きキャッシュ。
type RateCache interface {
	// Get はキャッシュ済みのレートを返す。存在しない場合はokがfalseになる。
	Get(ctx context.Context, from, to string) (rate decimal.Decimal, ok bool, err error)
	// Set はレートをttlの間キャッシュする。
	Set(ctx context.Context, from, to string, rate decimal.Decimal, ttl time.Duration) error
}

type cachedRate struct {
	rate      decimal.Decimal
	expiresAt time.Time
}

// MemoryCache はプロセス内のRateCache実装。REDIS_URL未設定時に使用する。
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]cachedRate
	now     func() time.Time
}

// NewMemoryCache はMemoryCacheを生成する。
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]cachedRate),
		now:     time.Now,
	}
}

// Get はキャッシュ済みのレートを返す。期限切れのエントリは存在しないものとして扱う。
func (c *MemoryCache) Get(_ context.Context, from, to string) (decimal.Decimal, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[rateKey(from, to)]
	c.mu.RUnlock()

	if !ok || !c.now().Before(entry.expiresAt) {
		return decimal.Zero, false, nil
	}
	return entry.rate, true, nil
}

// Set はレートをttlの間キャッシュする。
func (c *MemoryCache) Set(_ context.Context, from, to string, rate decimal.Decimal, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[rateKey(from, to)] = cachedRate{
		rate:      rate,
		expiresAt: c.now().Add(ttl),
	}
	return nil
}

// RedisCache はRedisを使用したRateCache実装。複数インスタンス間でレートを共有する。
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache はRedisCacheを生成する。
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Get はキャッシュ済みのレートを返す。
func (c *RedisCache) Get(ctx context.Context, from, to string) (decimal.Decimal, bool, error) {
	raw, err := c.client.Get(ctx, rateKey(from, to)).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("get cached rate: %w", err)
	}

	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("parse cached rate %q: %w", raw, err)
	}
	return rate, true, nil
}

// Set はレートを10進文字列としてttlの間キャッシュする。
func (c *RedisCache) Set(ctx context.Context, from, to string, rate decimal.Decimal, ttl time.Duration) error {
	if err := c.client.Set(ctx, rateKey(from, to), rate.String(), ttl).Err(); err != nil {
		return fmt.Errorf("set cached rate: %w", err)
	}
	return nil
}

func rateKey(from, to string) string {
	return "pricing:rate:" + from + ":" + to
}

// compile-time interface check
var (
	_ RateCache = (*MemoryCache)(nil)
	_ RateCache = (*RedisCache)(nil)
)
