// Package cache stores JSON values with a TTL.  The Redis backend is used
// when a server is reachable; Memory is the in-process fallback.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Cache is a JSON value store with per-entry TTL.
type Cache interface {
	// Get decodes the value stored under key into dst, or returns ErrMiss.
	Get(ctx context.Context, key string, dst any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Version returns the write generation of key, 0 if never invalidated.
	Version(ctx context.Context, key string) (int64, error)
	// Invalidate bumps the generation of key and drops its value.
	Invalidate(ctx context.Context, key string) error
	// SetIfVersion stores value only while the generation of key is still
	// version.  It reports whether the value was stored.
	SetIfVersion(ctx context.Context, key string, version int64, value any, ttl time.Duration) (bool, error)
	Ping(ctx context.Context) error
	// Backend names the implementation for health output.
	Backend() string
}

// MappingKey is the cache key of a sentence's active mapping.
func MappingKey(sentenceID string) string { return "mapping:sentence:" + sentenceID }
