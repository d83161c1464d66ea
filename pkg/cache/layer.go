package cache

import (
	"context"
	"time"
)

// Layer is a shared cache tier (Redis, or a wrapper around it) that sits
// behind the in-process bounded caches. Values cross the tier as encoded
// bytes so any replica can decode them.
type Layer interface {
	// Get returns the stored bytes, or ErrKeyNotFound on a miss.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key for ttl.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// DeleteMatching removes every key containing substr and reports how
	// many were removed.
	DeleteMatching(ctx context.Context, substr string) (int, error)

	// Name identifies the tier in logs and metrics.
	Name() string

	// Close releases any resources held by the tier.
	Close() error
}
