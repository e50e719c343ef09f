// Package kv provides the client-local durable key-value store the sync
// engine keeps its read cursors in. The store is an injected dependency
// so tests swap it for an in-memory map.
package kv

import (
	"context"
	"errors"
)

// ErrNotFound signals a missing key in a typed way.
var ErrNotFound = errors.New("kv: key not found")

// Store is a minimal durable string-to-string store. Implementations
// must be safe for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}
