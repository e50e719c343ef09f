// Package cache defines the key-value cache contract the user cache is
// built on, with in-memory and Redis adapters. Values are stored as
// strings to keep the port generic; callers own serialization.
package cache

import (
	"context"
	"time"
)

// Cache is the minimal cache contract. Implementations must be safe for
// concurrent use; misses are reported as ErrMiss, transport failures as
// any other error.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) (int64, error)
	Close() error
}

// ErrMiss signals a cache miss in a typed way, so callers can
// differentiate misses from transport errors.
var ErrMiss = errMiss{}

type errMiss struct{}

func (errMiss) Error() string { return "cache: miss" }
