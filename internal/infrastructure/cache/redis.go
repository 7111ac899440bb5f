package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"flirtmarket/internal/config"
)

func NewRedis(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Addr(), err)
	}
	return client, nil
}

// BalanceCache is a read-through cache of confirmed balances. Writers
// invalidate after commit; readers fall back to MySQL on a miss.
type BalanceCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewBalanceCache(client *redis.Client, ttl time.Duration) *BalanceCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &BalanceCache{client: client, ttl: ttl}
}

func balanceKey(userID int64) string {
	return fmt.Sprintf("zyra:balance:%d", userID)
}

// Get reports ok=false on a miss.
func (c *BalanceCache) Get(ctx context.Context, userID int64) (int64, bool, error) {
	raw, err := c.client.Get(ctx, balanceKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, nil
	}
	return v, true, nil
}

func (c *BalanceCache) Set(ctx context.Context, userID, balance int64) error {
	return c.client.Set(ctx, balanceKey(userID), balance, c.ttl).Err()
}

func (c *BalanceCache) Invalidate(ctx context.Context, userID int64) error {
	return c.client.Del(ctx, balanceKey(userID)).Err()
}
