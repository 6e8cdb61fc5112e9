package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// RedisCache 汇率缓存，key 形如 fx:VND:USD
type RedisCache struct {
	rdb *redis.Client
}

func NewRedisCache(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb}
}

func cacheKey(base, quote string) string {
	return fmt.Sprintf("fx:%s:%s", base, quote)
}

func (c *RedisCache) Get(ctx context.Context, base, quote string) (decimal.Decimal, bool, error) {
	val, err := c.rdb.Get(ctx, cacheKey(base, quote)).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	rate, err := decimal.NewFromString(val)
	if err != nil {
		return decimal.Zero, false, err
	}
	return rate, true, nil
}

func (c *RedisCache) Set(ctx context.Context, base, quote string, rate decimal.Decimal, ttl time.Duration) error {
	return c.rdb.Set(ctx, cacheKey(base, quote), rate.String(), ttl).Err()
}
