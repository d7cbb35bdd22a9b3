package kv

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps keys without TTL under a namespace, so several local
// profiles can share one Redis.
type RedisStore struct {
	rdb *redis.Client
	ns  string
}

func NewRedisStore(rdb *redis.Client, namespace string) *RedisStore {
	return &RedisStore{rdb: rdb, ns: namespace}
}

func OpenRedis(ctx context.Context, addr string, db int, namespace string) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("kv: redis ping (%s db=%d): %w", addr, db, err)
	}
	return NewRedisStore(rdb, namespace), nil
}

func (s *RedisStore) key(k string) string {
	if s.ns == "" {
		return "cribbage:" + k
	}
	return fmt.Sprintf("cribbage:%s:%s", s.ns, k)
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.rdb.Get(ctx, s.key(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, val []byte) error {
	return s.rdb.Set(ctx, s.key(key), val, 0).Err()
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
