// Package cache provides the shared key/value cache used for resolved
// credentials, Action JWT consumption markers and login attempt counters.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss indicates that the key was not found in the cache.
var ErrCacheMiss = errors.New("cache miss")

// Cache is the key/value contract. Keys are relative; implementations
// apply their own prefix.
type Cache interface {
	// Get retrieves a value. Returns ErrCacheMiss if the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value. A non-positive ttl is rejected.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetNX stores value only if key is absent and reports whether it did.
	// Concurrent callers for the same key observe exactly one true.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Incr increments a counter and returns the new value. The counter
	// expires ttl after its first increment.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// TTL returns the remaining lifetime of key, or ErrCacheMiss.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Delete removes keys. Absent keys are not an error.
	Delete(ctx context.Context, keys ...string) error

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases the connection pool.
	Close() error
}

// ErrInvalidTTL is returned by Set and SetNX for non-positive TTLs.
var ErrInvalidTTL = errors.New("cache ttl must be positive")
