package cache

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrClosed is returned by operations on a cache that has been closed.
var ErrClosed = errors.New("cache: closed")

// NoExpiry stores a value until it is expired explicitly.
const NoExpiry time.Duration = -1

type Cache interface {
	// GetContext retrieves a value from the cache. The context controls
	// cancellation and timeout for I/O-backed implementations.
	GetContext(ctx context.Context, key string) (bool, any, error)

	// SetContext stores a value in the cache with a TTL. If expires is zero,
	// the cache's configured default TTL is used; NoExpiry keeps it forever.
	SetContext(ctx context.Context, key string, val any, expires time.Duration) error

	// ExpireContext removes a key from the cache.
	ExpireContext(ctx context.Context, key string) (bool, error)

	// KeysContext lists the live keys that start with prefix.
	KeysContext(ctx context.Context, prefix string) ([]string, error)

	// ExpirePrefixContext removes every key that starts with prefix and
	// returns how many were removed.
	ExpirePrefixContext(ctx context.Context, prefix string) (int, error)

	// CloseContext shuts down the cache.
	CloseContext(ctx context.Context) error
}

// GetContext retrieves a typed value from the cache using the provided context.
// For in-memory caches, it performs a direct type assertion.
// For serialized caches (like SQLite), it deserializes from []byte using msgpack.
func GetContext[T any](ctx context.Context, c Cache, key string) (bool, T, error) {
	var zero T
	found, val, err := c.GetContext(ctx, key)
	if !found || err != nil {
		return false, zero, err
	}
	if typed, ok := val.(T); ok {
		return true, typed, nil
	}
	if data, ok := val.([]byte); ok {
		var result T
		if err := msgpack.Unmarshal(data, &result); err != nil {
			return false, zero, errors.Wrapf(err, "cache: unmarshal %q", key)
		}
		return true, result, nil
	}
	return false, zero, errors.Newf("cache: cannot convert value of type %T to %T", val, zero)
}

// DefaultExpires is the TTL used when SetContext is called with zero.
const DefaultExpires = 5 * time.Minute

// DefaultQueryTimeout is the per-operation timeout for cache backends that
// perform I/O (SQLite, Redis).
const DefaultQueryTimeout = 5 * time.Second

// config holds the resolved configuration for a cache implementation.
type config struct {
	defaultExpires time.Duration
	queryTimeout   time.Duration
	expiryCheck    time.Duration
	prefix         string
}

// Option configures a Cache implementation.
type Option func(*config)

func applyOptions(opts []Option) config {
	cfg := config{
		defaultExpires: DefaultExpires,
		queryTimeout:   DefaultQueryTimeout,
		expiryCheck:    time.Minute,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.expiryCheck <= 0 {
		cfg.expiryCheck = time.Minute
	}
	return cfg
}

// WithExpires sets the default TTL for cached values.
func WithExpires(d time.Duration) Option {
	return func(c *config) { c.defaultExpires = d }
}

// WithQueryTimeout sets the per-operation timeout for I/O-backed caches.
func WithQueryTimeout(d time.Duration) Option {
	return func(c *config) { c.queryTimeout = d }
}

// WithExpiryCheck sets the interval for background expired entry cleanup.
// Applies to InMemory and SQLite backends.
func WithExpiryCheck(d time.Duration) Option {
	return func(c *config) { c.expiryCheck = d }
}

// WithPrefix sets the key prefix for namespacing cache keys.
// Applies to the Redis backend.
func WithPrefix(p string) Option {
	return func(c *config) { c.prefix = p }
}

// expiresAt resolves a TTL into an absolute deadline. The zero time means never.
func (c config) expiresAt(now time.Time, expires time.Duration) time.Time {
	switch {
	case expires < 0:
		return time.Time{}
	case expires == 0:
		return now.Add(c.defaultExpires)
	default:
		return now.Add(expires)
	}
}
