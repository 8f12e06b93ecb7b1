package cache

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const shardCount = 16

type value struct {
	object  any
	expires time.Time
}

func (v *value) expired(now time.Time) bool {
	return !v.expires.IsZero() && v.expires.Before(now)
}

type shard struct {
	mutex sync.Mutex
	items map[string]*value
}

type inMemoryCache struct {
	ctx       context.Context
	cancel    context.CancelFunc
	shards    [shardCount]*shard
	waitGroup sync.WaitGroup
	once      sync.Once
	cfg       config
}

var _ Cache = (*inMemoryCache)(nil)

func (c *inMemoryCache) shardFor(key string) *shard {
	return c.shards[xxhash.Sum64String(key)%shardCount]
}

func (c *inMemoryCache) GetContext(_ context.Context, key string) (bool, any, error) {
	if c.ctx.Err() != nil {
		return false, nil, ErrClosed
	}
	s := c.shardFor(key)
	s.mutex.Lock()
	defer s.mutex.Unlock()
	val, ok := s.items[key]
	if !ok {
		return false, nil, nil
	}
	if val.expired(time.Now()) {
		delete(s.items, key)
		return false, nil, nil
	}
	return true, val.object, nil
}

func (c *inMemoryCache) SetContext(_ context.Context, key string, val any, expires time.Duration) error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	s := c.shardFor(key)
	s.mutex.Lock()
	s.items[key] = &value{object: val, expires: c.cfg.expiresAt(time.Now(), expires)}
	s.mutex.Unlock()
	return nil
}

func (c *inMemoryCache) ExpireContext(_ context.Context, key string) (bool, error) {
	s := c.shardFor(key)
	s.mutex.Lock()
	_, ok := s.items[key]
	delete(s.items, key)
	s.mutex.Unlock()
	return ok, nil
}

func (c *inMemoryCache) KeysContext(_ context.Context, prefix string) ([]string, error) {
	now := time.Now()
	var keys []string
	for _, s := range c.shards {
		s.mutex.Lock()
		for key, val := range s.items {
			if strings.HasPrefix(key, prefix) && !val.expired(now) {
				keys = append(keys, key)
			}
		}
		s.mutex.Unlock()
	}
	slices.Sort(keys)
	return keys, nil
}

func (c *inMemoryCache) ExpirePrefixContext(_ context.Context, prefix string) (int, error) {
	var n int
	for _, s := range c.shards {
		s.mutex.Lock()
		for key := range s.items {
			if strings.HasPrefix(key, prefix) {
				delete(s.items, key)
				n++
			}
		}
		s.mutex.Unlock()
	}
	return n, nil
}

func (c *inMemoryCache) CloseContext(_ context.Context) error {
	c.once.Do(func() {
		c.cancel()
		c.waitGroup.Wait()
	})
	return nil
}

func (c *inMemoryCache) sweep(now time.Time) {
	for _, s := range c.shards {
		s.mutex.Lock()
		for key, val := range s.items {
			if val.expired(now) {
				delete(s.items, key)
			}
		}
		s.mutex.Unlock()
	}
}

func (c *inMemoryCache) run() {
	defer c.waitGroup.Done()
	ticker := time.NewTicker(c.cfg.expiryCheck)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case now := <-ticker.C:
			c.sweep(now)
		}
	}
}

// NewInMemory returns a new in-memory Cache implementation.
func NewInMemory(parent context.Context, opts ...Option) Cache {
	ctx, cancel := context.WithCancel(parent)
	c := &inMemoryCache{
		ctx:    ctx,
		cancel: cancel,
		cfg:    applyOptions(opts),
	}
	for i := range c.shards {
		c.shards[i] = &shard{items: make(map[string]*value)}
	}
	c.waitGroup.Add(1)
	go c.run()
	return c
}
