// Package redis implements core.Cache over a Redis server, for
// deployments where lockout counters and the hot user cache must be
// shared across instances.
package redis

import (
	"context"
	"time"

	"github.com/mfreitas/gatehouse/core"
	"github.com/redis/go-redis/v9"
)

type Cache struct {
	client *redis.Client
}

var _ core.Cache = (*Cache)(nil)

func New(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, core.ErrCacheMiss
		}
		return nil, err
	}
	return val, nil
}

func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// Increment relies on INCR being atomic server-side; the TTL refresh rides
// in the same pipeline.
func (c *Cache) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// Decrement floors at zero. A missing key reads as zero without being
// created.
func (c *Cache) Decrement(ctx context.Context, key string) (int64, error) {
	exists, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if exists == 0 {
		return 0, nil
	}

	n, err := c.client.Decr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		if err := c.client.Set(ctx, key, 0, redis.KeepTTL).Err(); err != nil {
			return 0, err
		}
		return 0, nil
	}
	return n, nil
}
