package cache

import (
	"context"
	"time"
)

// Wrap returns the cached value for key, or calls produce, caches its result for ttl
// and returns it. Producer errors are returned and nothing is cached.
//
// Concurrent misses on the same key are not de-duplicated: each caller runs produce.
// Only use Wrap with idempotent producers.
func Wrap[T any](ctx context.Context, c *Tiered, key string, ttl time.Duration, produce func(context.Context) (T, error)) (T, error) {
	var cached T
	if c.Get(ctx, key, &cached) {
		return cached, nil
	}
	v, err := produce(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	if err := c.Set(ctx, key, v, ttl); err != nil {
		c.logger.Warn("cache: encode failed", "key", key, "err", err)
	}
	return v, nil
}
