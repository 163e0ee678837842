// Package cache provides the in-process cache used for hot assessment sessions
// and cached LLM interpretations.
package cache

import (
	"context"
	"time"
)

// CacheService defines the cache service interface.
// Consumers: store (session snapshots), extract (LLM interpretations).
type CacheService interface {
	// Get retrieves a value from cache.
	// Returns: a private copy of the value, whether it exists
	Get(ctx context.Context, key string) ([]byte, bool)

	// Set stores a copy of value in cache.
	// ttl: expiration time, zero uses the default
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Invalidate invalidates cache entries.
	// pattern: exact key or trailing wildcard (session:*)
	Invalidate(ctx context.Context, pattern string) error
}
