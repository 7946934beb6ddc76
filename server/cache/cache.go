package cache

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"time"
)

// ErrCacheMiss is returned by Get for absent or expired keys.
var ErrCacheMiss = errors.New("cache: miss")

// Cache is a TTL key-value store. The engine uses it to memoize embedding
// vectors, which are deterministic per patch, so repeated windowed searches
// over similar regions skip collaborator round-trips.
type Cache interface {
	Get(ctx context.Context, key string) (any, error)

	Set(ctx context.Context, key string, value any) error

	SetWithTTL(ctx context.Context, key string, value any, ttl time.Duration) error

	Delete(ctx context.Context, key string) error

	Len() int

	Close() error
}

// GenerateKey hashes the given components into a stable cache key.
func GenerateKey(components ...[]byte) string {
	h := md5.New()
	for _, component := range components {
		h.Write(component)
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
