package db

import (
	"context"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// Store is the storage facade every backend implements.
type Store interface {
	Pinger
	KVStore
	KeyStore
	Close()
}

// Pinger checks database connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// KVStore provides simple key-value operations.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	IncrBy(ctx context.Context, key string, val int64) error
	Expire(ctx context.Context, key string, ttl time.Duration, nx bool) error
}

// KeyStore provides key lifecycle and enumeration.
// Scan patterns use glob syntax with * and ?, as Redis SCAN MATCH does.
type KeyStore interface {
	Del(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Scan(ctx context.Context, pattern string) ([]string, error)
}

// ReadyWaiter is implemented by networked backends that need a readiness probe on startup.
type ReadyWaiter interface {
	WaitForReady(ctx context.Context, timeout time.Duration) error
}

// MatchKey reports whether key matches a SCAN-style glob pattern.
// Keys never contain path separators, so doublestar's * spans the whole key.
func MatchKey(pattern, key string) bool {
	ok, err := doublestar.Match(pattern, key)
	return err == nil && ok
}
