// Package kv is the process-local durable key-value storage used for the
// statistics blob, the player name and the sound flag.
package kv

import (
	"context"
	"fmt"
	"sync"
)

// Store — абстракция "положить/достать blob по ключу".
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte) error
	Close() error
}

type MemoryStore struct {
	mu sync.Mutex
	m  map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{m: make(map[string][]byte)}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, val []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = append([]byte(nil), val...)
	return nil
}

func (s *MemoryStore) Close() error { return nil }

// Options selects a backend for Open.
type Options struct {
	Backend    string // sqlite|redis|memory
	SQLitePath string
	RedisAddr  string
	RedisDB    int
	Namespace  string
}

func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case "", "sqlite":
		return OpenSQLite(ctx, opts.SQLitePath)
	case "redis":
		return OpenRedis(ctx, opts.RedisAddr, opts.RedisDB, opts.Namespace)
	case "memory":
		return NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("kv: unknown backend %q", opts.Backend)
}
