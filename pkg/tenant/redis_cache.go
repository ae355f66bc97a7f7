package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is a shared tenant-scoped cache. Keys are laid out as
// <prefix>:<tenant id>:<key>, and Invalidate removes everything under the
// prefix with SCAN + DEL.
type RedisCache struct {
	client redis.UniversalClient
	holder *Holder
	prefix string
	ttl    time.Duration
}

func NewRedisCache(client redis.UniversalClient, holder *Holder, prefix string, ttl time.Duration) *RedisCache {
	if prefix == "" {
		prefix = "tenantcache"
	}
	return &RedisCache{client: client, holder: holder, prefix: prefix, ttl: ttl}
}

func (c *RedisCache) key(ctx *Context, key string) (string, error) {
	id, ok := ctx.CurrentID()
	if !ok {
		return "", ErrNoTenant
	}
	return fmt.Sprintf("%s:%s:%s", c.prefix, id, key), nil
}

// Get decodes the JSON value for key under the active tenant into dst.
func (c *RedisCache) Get(ctx context.Context, key string, dst any) (bool, error) {
	k, err := c.key(c.holder.Snapshot(), key)
	if err != nil {
		return false, err
	}
	data, err := c.client.Get(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(data, dst)
}

// Set stores value under the active tenant if gen is still current.
func (c *RedisCache) Set(ctx context.Context, gen uint64, key string, value any) error {
	snap := c.holder.Snapshot()
	if !c.holder.IsCurrent(gen) {
		return ErrStaleGeneration
	}
	k, err := c.key(snap, key)
	if err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, k, data, c.ttl).Err()
}

// Invalidate deletes every key under the prefix.
func (c *RedisCache) Invalidate(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.prefix+":*", 500).Iterator()
	batch := make([]string, 0, 500)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := c.client.Del(ctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		return c.client.Del(ctx, batch...).Err()
	}
	return nil
}
