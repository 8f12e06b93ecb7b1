package cache

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

type redisCache struct {
	client *redis.Client
	cfg    config
}

var _ Cache = (*redisCache)(nil)

// NewRedis returns a new Cache backed by Redis.
// The caller owns the redis.Client; CloseContext leaves it open.
func NewRedis(client *redis.Client, opts ...Option) Cache {
	return &redisCache{
		client: client,
		cfg:    applyOptions(opts),
	}
}

func (c *redisCache) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, c.cfg.queryTimeout)
}

func (c *redisCache) prefixKey(key string) string {
	if c.cfg.prefix == "" {
		return key
	}
	return c.cfg.prefix + ":" + key
}

func (c *redisCache) unprefixKey(key string) string {
	if c.cfg.prefix == "" {
		return key
	}
	return strings.TrimPrefix(key, c.cfg.prefix+":")
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func (c *redisCache) GetContext(ctx context.Context, key string) (bool, any, error) {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	data, err := c.client.Get(qctx, c.prefixKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, errors.Wrapf(err, "cache: get %q", key)
	}
	return true, data, nil
}

func (c *redisCache) SetContext(ctx context.Context, key string, val any, expires time.Duration) error {
	data, err := msgpack.Marshal(val)
	if err != nil {
		return errors.Wrapf(err, "cache: marshal %q", key)
	}
	var ttl time.Duration
	switch {
	case expires < 0:
		ttl = 0 // no expiry
	case expires == 0:
		ttl = c.cfg.defaultExpires
	default:
		ttl = expires
	}
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	return errors.Wrapf(c.client.Set(qctx, c.prefixKey(key), data, ttl).Err(), "cache: set %q", key)
}

func (c *redisCache) ExpireContext(ctx context.Context, key string) (bool, error) {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	result, err := c.client.Del(qctx, c.prefixKey(key)).Result()
	if err != nil {
		return false, errors.Wrapf(err, "cache: expire %q", key)
	}
	return result > 0, nil
}

func (c *redisCache) scan(ctx context.Context, prefix string) ([]string, error) {
	match := globEscaper.Replace(c.prefixKey(prefix)) + "*"
	var keys []string
	iter := c.client.Scan(ctx, 0, match, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

func (c *redisCache) KeysContext(ctx context.Context, prefix string) ([]string, error) {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	raw, err := c.scan(qctx, prefix)
	if err != nil {
		return nil, errors.Wrap(err, "cache: list keys")
	}
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		keys = append(keys, c.unprefixKey(k))
	}
	return keys, nil
}

func (c *redisCache) ExpirePrefixContext(ctx context.Context, prefix string) (int, error) {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	raw, err := c.scan(qctx, prefix)
	if err != nil {
		return 0, errors.Wrap(err, "cache: list keys")
	}
	if len(raw) == 0 {
		return 0, nil
	}
	n, err := c.client.Del(qctx, raw...).Result()
	if err != nil {
		return 0, errors.Wrap(err, "cache: expire prefix")
	}
	return int(n), nil
}

// CloseContext is a no-op, the caller closes the client.
func (c *redisCache) CloseContext(_ context.Context) error {
	return nil
}
