// Package cache provides a two-tier cache: a shared remote tier (Redis) with an
// in-process fallback. The cache is an optimization only; remote failures are logged
// and absorbed, never returned.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"reflect"
	"time"

	"session-lifecycle/backend/internal/metrics"
)

const (
	// DefaultTTL applies when Set is called with a non-positive ttl.
	DefaultTTL = time.Hour
	// DefaultRemoteTimeout bounds each remote tier call.
	DefaultRemoteTimeout = 150 * time.Millisecond

	dialTimeout = 5 * time.Second
)

// RemoteTier is the shared cache tier. Implementations return raw bytes; a miss is
// (nil, false, nil).
type RemoteTier interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	DeletePattern(ctx context.Context, pattern string) (int, error)
}

// Tiered writes through to both tiers and reads remote first, then local.
type Tiered struct {
	remote     RemoteTier
	local      *MemoryTier
	timeout    time.Duration
	defaultTTL time.Duration
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// Option configures a Tiered cache.
type Option func(*Tiered)

// WithLogger sets the logger used for remote tier warnings.
func WithLogger(l *slog.Logger) Option {
	return func(c *Tiered) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRemoteTimeout bounds each remote call. Non-positive values keep the default.
func WithRemoteTimeout(d time.Duration) Option {
	return func(c *Tiered) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithDefaultTTL sets the ttl used when Set receives a non-positive ttl.
func WithDefaultTTL(d time.Duration) Option {
	return func(c *Tiered) {
		if d > 0 {
			c.defaultTTL = d
		}
	}
}

// WithMetrics records hits, misses and remote failures.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Tiered) { c.metrics = m }
}

// WithLocal uses an existing local tier, e.g. one shared with a sweeper.
func WithLocal(l *MemoryTier) Option {
	return func(c *Tiered) {
		if l != nil {
			c.local = l
		}
	}
}

// NewTiered returns a cache over remote (nil disables the remote tier) and a fresh local tier.
func NewTiered(remote RemoteTier, opts ...Option) *Tiered {
	c := &Tiered{
		remote:     remote,
		local:      NewMemoryTier(),
		timeout:    DefaultRemoteTimeout,
		defaultTTL: DefaultTTL,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Dial builds a Tiered over Redis at addr. An empty addr keeps the cache in-process. When
// the address is unusable the cache runs local-only; when Redis is unreachable at startup
// it is still wired so the tier recovers once Redis comes back.
func Dial(ctx context.Context, addr, password string, db int, logger *slog.Logger, opts ...Option) *Tiered {
	if logger == nil {
		logger = slog.Default()
	}
	opts = append([]Option{WithLogger(logger)}, opts...)
	if addr == "" {
		return NewTiered(nil, opts...)
	}
	pingCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	client, err := NewRedisClient(pingCtx, addr, password, db)
	if client == nil {
		logger.Warn("cache: redis disabled", "err", err)
		return NewTiered(nil, opts...)
	}
	if err != nil {
		logger.Warn("cache: redis unreachable at startup; lookups degrade to the store", "err", err)
	}
	return NewTiered(NewRedisTier(client), opts...)
}

// Local returns the in-process tier.
func (c *Tiered) Local() *MemoryTier { return c.local }

// Get decodes the cached JSON value for key into dst and reports whether it was found.
func (c *Tiered) Get(ctx context.Context, key string, dst any) bool {
	if c.remote != nil {
		rctx, cancel := context.WithTimeout(ctx, c.timeout)
		b, ok, err := c.remote.Get(rctx, key)
		cancel()
		switch {
		case err != nil:
			c.remoteFailed("get", key, err)
		case ok:
			if err := decodeInto(b, dst); err == nil {
				c.metrics.CacheHit("remote")
				return true
			}
			c.logger.Warn("cache: undecodable remote value", "key", key)
		}
	}
	if b, ok := c.local.Get(key); ok {
		if err := decodeInto(b, dst); err == nil {
			c.metrics.CacheHit("local")
			return true
		}
		c.local.Delete(key)
	}
	c.metrics.CacheMiss()
	return false
}

// Set JSON-encodes value and stores it in both tiers. The only error is an encoding failure.
func (c *Tiered) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	ttl = wholeSeconds(ttl)
	if c.remote != nil {
		rctx, cancel := context.WithTimeout(ctx, c.timeout)
		if err := c.remote.Set(rctx, key, b, ttl); err != nil {
			c.remoteFailed("set", key, err)
		}
		cancel()
	}
	c.local.Set(key, b, ttl)
	return nil
}

// Delete removes key from both tiers.
func (c *Tiered) Delete(ctx context.Context, key string) {
	if c.remote != nil {
		rctx, cancel := context.WithTimeout(ctx, c.timeout)
		if err := c.remote.Delete(rctx, key); err != nil {
			c.remoteFailed("delete", key, err)
		}
		cancel()
	}
	c.local.Delete(key)
}

// DeletePattern removes every key matching a glob pattern from both tiers.
func (c *Tiered) DeletePattern(ctx context.Context, pattern string) {
	if c.remote != nil {
		rctx, cancel := context.WithTimeout(ctx, c.timeout)
		if _, err := c.remote.DeletePattern(rctx, pattern); err != nil {
			c.remoteFailed("delete_pattern", pattern, err)
		}
		cancel()
	}
	if _, err := c.local.DeletePattern(pattern); err != nil {
		c.logger.Warn("cache: invalid pattern", "pattern", pattern, "err", err)
	}
}

// Clear drops the local tier. The remote tier is left untouched.
func (c *Tiered) Clear() {
	c.local.Clear()
}

func (c *Tiered) remoteFailed(op, key string, err error) {
	c.metrics.CacheRemoteError(op)
	c.logger.Warn("cache: remote tier unavailable", "op", op, "key", key, "err", err)
}

// decodeInto unmarshals b into a fresh value of dst's element type and copies it to dst only
// on success, so a failed decode never leaves dst partly filled.
func decodeInto(b []byte, dst any) error {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return errors.New("cache: destination must be a non-nil pointer")
	}
	fresh := reflect.New(rv.Elem().Type())
	if err := json.Unmarshal(b, fresh.Interface()); err != nil {
		return err
	}
	rv.Elem().Set(fresh.Elem())
	return nil
}

// wholeSeconds rounds ttl up to whole seconds, at least one.
func wholeSeconds(ttl time.Duration) time.Duration {
	secs := math.Ceil(ttl.Seconds())
	if secs < 1 {
		secs = 1
	}
	return time.Duration(secs) * time.Second
}
