// Package cache provides an optional, redis-backed memo for values that are
// expensive to recompute but never change, such as a contract's creation
// block.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// CreationBlockCache is satisfied by *RedisCreationBlockCache and by
// NoopCreationBlockCache, so CreationLocator can be built with or without a
// redis deployment behind it.
type CreationBlockCache interface {
	Get(ctx context.Context, address string) (uint64, bool, error)
	Set(ctx context.Context, address string, height uint64) error
}

// NoopCreationBlockCache never remembers anything; every lookup misses.
type NoopCreationBlockCache struct{}

func (NoopCreationBlockCache) Get(context.Context, string) (uint64, bool, error) { return 0, false, nil }
func (NoopCreationBlockCache) Set(context.Context, string, uint64) error         { return nil }

// RedisCreationBlockCache stores one creation-block height per contract
// address so CreationLocator's binary search runs at most once per contract
// across process restarts.
type RedisCreationBlockCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCreationBlockCache(rdb *redis.Client, ttl time.Duration) *RedisCreationBlockCache {
	return &RedisCreationBlockCache{rdb: rdb, ttl: ttl}
}

func (c *RedisCreationBlockCache) key(address string) string {
	return fmt.Sprintf("chainsweep:creation_block:%s", address)
}

func (c *RedisCreationBlockCache) Get(ctx context.Context, address string) (uint64, bool, error) {
	val, err := c.rdb.Get(ctx, c.key(address)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	height, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return height, true, nil
}

func (c *RedisCreationBlockCache) Set(ctx context.Context, address string, height uint64) error {
	return c.rdb.Set(ctx, c.key(address), strconv.FormatUint(height, 10), c.ttl).Err()
}
