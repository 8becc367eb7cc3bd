// Package cache provides best-effort response caching for the gateway.
//
// A cache hit bypasses the upstream quota entirely, so the stores here sit on
// the hottest path of the gateway. They are deliberately narrow: Get, Set
// with a TTL, Delete. Entries can disappear before their TTL expires (memory
// pressure, eviction, Redis restart), so callers must treat presence as an
// optimization, never as a consistency guarantee.
package cache

import (
	"context"
	"time"
)

// Entry is a cached value with its staleness metadata.
type Entry struct {
	Value    []byte
	StoredAt time.Time
	TTL      time.Duration
}

// Store defines the interface for cache backends.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get retrieves the entry for key, or (nil, nil) on a miss.
	// Expired entries count as misses.
	Get(ctx context.Context, key string) (*Entry, error)

	// Set stores value under key for ttl. A ttl of zero or less stores
	// the value without expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes the entry for key. Deleting a missing key is not an
	// error.
	Delete(ctx context.Context, key string) error

	// Close releases any resources held by the store.
	Close() error
}
