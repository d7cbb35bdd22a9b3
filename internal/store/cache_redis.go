package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"example.com/cribbage-sync/internal/stats"
)

// AggregateCache — кэш посчитанной статистики игрока.
type AggregateCache interface {
	Get(ctx context.Context, playerName string) (stats.Aggregate, bool, error)
	Put(ctx context.Context, agg stats.Aggregate) error
	Invalidate(ctx context.Context, playerName string) error
}

type RedisAggregateCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisAggregateCache(rdb *redis.Client, ttl time.Duration) *RedisAggregateCache {
	return &RedisAggregateCache{rdb: rdb, ttl: ttl}
}

func (c *RedisAggregateCache) key(playerName string) string {
	return fmt.Sprintf("stats:%s:aggregate", playerName)
}

func (c *RedisAggregateCache) Get(ctx context.Context, playerName string) (stats.Aggregate, bool, error) {
	val, err := c.rdb.Get(ctx, c.key(playerName)).Bytes()
	if err == redis.Nil {
		return stats.Aggregate{}, false, nil
	}
	if err != nil {
		return stats.Aggregate{}, false, err
	}

	var agg stats.Aggregate
	if err := json.Unmarshal(val, &agg); err != nil {
		return stats.Aggregate{}, false, err
	}
	return agg, true, nil
}

func (c *RedisAggregateCache) Put(ctx context.Context, agg stats.Aggregate) error {
	b, err := json.Marshal(agg)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.key(agg.PlayerName), b, c.ttl).Err()
}

func (c *RedisAggregateCache) Invalidate(ctx context.Context, playerName string) error {
	return c.rdb.Del(ctx, c.key(playerName)).Err()
}
