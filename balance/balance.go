package balance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vanylaplus/go-launcher/cache"
	"github.com/vanylaplus/go-launcher/eventing"
	"github.com/vanylaplus/go-launcher/logger"
	"github.com/vanylaplus/go-launcher/resilience"
	"golang.org/x/sync/singleflight"
)

const keyPrefix = "balance:"

// ErrClosed is reported in a Reading served after Close.
var ErrClosed = errors.New("balance: manager closed")

// Config tunes a Manager. Zero fields take the values from DefaultConfig.
type Config struct {
	PollingInterval time.Duration
	CacheExpiry     time.Duration
	// MaxRetries is the per-key retry budget. Negative disables retries.
	MaxRetries     int
	RetryBaseDelay time.Duration
	RequestTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		PollingInterval: 30 * time.Second,
		CacheExpiry:     60 * time.Second,
		MaxRetries:      3,
		RetryBaseDelay:  2 * time.Second,
		RequestTimeout:  5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.PollingInterval <= 0 {
		c.PollingInterval = def.PollingInterval
	}
	if c.CacheExpiry <= 0 {
		c.CacheExpiry = def.CacheExpiry
	}
	switch {
	case c.MaxRetries == 0:
		c.MaxRetries = def.MaxRetries
	case c.MaxRetries < 0:
		c.MaxRetries = 0
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = def.RetryBaseDelay
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	return c
}

// Entry is the last balance fetched successfully for a player.
type Entry struct {
	Key       string    `msgpack:"key"`
	Balance   int64     `msgpack:"balance"`
	FetchedAt time.Time `msgpack:"fetched_at"`
}

// Origin says where a Reading's balance came from.
type Origin int

const (
	// OriginCache is a cached value younger than CacheExpiry.
	OriginCache Origin = iota
	// OriginRemote is a value fetched by this call.
	OriginRemote
	// OriginFallback is the last cached value, or 0, served after a failed fetch.
	OriginFallback
)

func (o Origin) String() string {
	switch o {
	case OriginCache:
		return "cache"
	case OriginRemote:
		return "remote"
	case OriginFallback:
		return "fallback"
	}
	return "unknown"
}

// Reading is the outcome of a Lookup. It always carries a usable balance;
// Err is set when the remote fetch failed and Balance is a fallback.
type Reading struct {
	Key       string
	Balance   int64
	Origin    Origin
	FetchedAt time.Time
	Err       error

	// notified is the subscription the fetch already queued Balance for.
	notified *subscription
}

// Fresh reports whether the balance is cached-and-fresh or just fetched.
func (r Reading) Fresh() bool {
	return r.Origin != OriginFallback
}

type Option func(*Manager)

func WithConfig(cfg Config) Option {
	return func(m *Manager) { m.config = cfg }
}

func WithLogger(log logger.Logger) Option {
	return func(m *Manager) { m.logger = log }
}

// WithStore keeps entries in store instead of a private in-memory cache. The
// caller keeps ownership of store.
func WithStore(store cache.Cache) Option {
	return func(m *Manager) { m.store = store }
}

// WithEvents broadcasts updates on client instead of a private in-process bus.
// The caller keeps ownership of client.
func WithEvents(client eventing.Client) Option {
	return func(m *Manager) { m.events = client }
}

// Manager caches player balances fetched from a Source. Its methods never
// return errors: a failed fetch degrades to the last cached value or 0.
type Manager struct {
	ctx    context.Context
	cancel context.CancelFunc
	source Source
	config Config
	logger logger.Logger

	store     cache.Cache
	ownStore  bool
	events    eventing.Client
	ownEvents bool

	group singleflight.Group
	sleep func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	attempts map[string]int
	subs     map[string]*subscription
	wg       sync.WaitGroup
	closed   bool
}

// New returns a Manager that fetches from source. It runs until Close or
// until ctx is done.
func New(ctx context.Context, source Source, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(ctx)
	m := &Manager{
		ctx:      ctx,
		cancel:   cancel,
		source:   source,
		sleep:    resilience.Sleep,
		attempts: make(map[string]int),
		subs:     make(map[string]*subscription),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.config = m.config.withDefaults()
	if m.logger == nil {
		m.logger = logger.Discard
	}
	m.logger = m.logger.WithPrefix("[balance]")
	if m.store == nil {
		m.store = cache.NewInMemory(context.Background())
		m.ownStore = true
	}
	if m.events == nil {
		m.events = eventing.NewLocalClient(ctx, m.logger)
		m.ownEvents = true
	}
	return m
}

// Config returns the effective configuration.
func (m *Manager) Config() Config {
	return m.config
}

// GetBalance returns the balance for key. A cached value younger than
// CacheExpiry is returned without a remote call unless forceRefresh is set.
func (m *Manager) GetBalance(ctx context.Context, key string, forceRefresh bool) int64 {
	return m.Lookup(ctx, key, forceRefresh).Balance
}

// Refresh is GetBalance with forceRefresh set.
func (m *Manager) Refresh(ctx context.Context, key string) int64 {
	return m.GetBalance(ctx, key, true)
}

// Lookup is GetBalance reporting where the value came from. Concurrent
// lookups for the same key share one fetch. A caller whose ctx ends before
// the fetch completes gets the fallback; the fetch itself keeps going and
// still updates the cache.
func (m *Manager) Lookup(ctx context.Context, key string, forceRefresh bool) Reading {
	if !forceRefresh {
		if e, ok := m.Cached(ctx, key); ok && time.Since(e.FetchedAt) < m.config.CacheExpiry {
			return Reading{Key: key, Balance: e.Balance, Origin: OriginCache, FetchedAt: e.FetchedAt}
		}
	}

	ch := m.group.DoChan(key, func() (interface{}, error) {
		return m.fetch(key)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return m.fallback(ctx, key, res.Err)
		}
		return res.Val.(Reading)
	case <-ctx.Done():
		return m.fallback(ctx, key, ctx.Err())
	}
}

// fetch runs once per single-flight call. On success it queues the balance
// for the key's subscription itself, so the subscription is notified even
// when every caller has stopped waiting.
func (m *Manager) fetch(key string) (Reading, error) {
	if m.ctx.Err() != nil {
		return Reading{}, ErrClosed
	}
	m.mu.Lock()
	spent := m.attempts[key]
	m.mu.Unlock()

	cfg := resilience.LinearRetryConfig(m.config.MaxRetries, m.config.RetryBaseDelay)
	cfg.FirstRetry = spent
	cfg.Sleep = m.sleep
	cfg.RetryableErrors = func(err error) bool {
		return m.ctx.Err() == nil && !errors.Is(err, resilience.ErrCircuitBreakerOpen)
	}
	cfg.OnRetry = func(retry int, delay time.Duration, err error) {
		m.mu.Lock()
		m.attempts[key] = retry
		m.mu.Unlock()
		m.logger.Warn("fetch for %s failed (retry %d/%d in %s): %s", key, retry, m.config.MaxRetries, delay, err)
	}

	var balance int64
	err := resilience.Retry(m.ctx, cfg, func() error {
		reqCtx, cancel := context.WithTimeout(m.ctx, m.config.RequestTimeout)
		defer cancel()
		b, err := m.fetchOnce(reqCtx, key)
		if err != nil {
			return err
		}
		balance = b
		return nil
	})
	if err != nil {
		m.logger.Error("fetch for %s gave up: %s", key, err)
		return Reading{}, err
	}
	if balance < 0 {
		balance = 0
	}

	entry := Entry{Key: key, Balance: balance, FetchedAt: time.Now()}
	if err := m.store.SetContext(m.ctx, keyPrefix+key, entry, cache.NoExpiry); err != nil && m.ctx.Err() == nil {
		m.logger.Warn("failed to store balance for %s: %s", key, err)
	}
	m.mu.Lock()
	delete(m.attempts, key)
	sub := m.subs[key]
	m.mu.Unlock()

	if sub != nil {
		sub.push(balance)
	}

	m.logger.Debug("balance for %s is %d", key, balance)
	m.publish(entry)
	return Reading{Key: key, Balance: balance, Origin: OriginRemote, FetchedAt: entry.FetchedAt, notified: sub}, nil
}

// fetchOnce asks the source once. A panicking source counts as a failed
// attempt.
func (m *Manager) fetchOnce(ctx context.Context, key string) (balance int64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("balance source panicked: %v", r)
		}
	}()
	return m.source.FetchBalance(ctx, key)
}

func (m *Manager) fallback(ctx context.Context, key string, err error) Reading {
	r := Reading{Key: key, Origin: OriginFallback, Err: err}
	if e, ok := m.Cached(context.WithoutCancel(ctx), key); ok {
		r.Balance = e.Balance
		r.FetchedAt = e.FetchedAt
	}
	return r
}

// Cached returns the stored entry for key regardless of its age.
func (m *Manager) Cached(ctx context.Context, key string) (Entry, bool) {
	ok, e, err := cache.GetContext[Entry](ctx, m.store, keyPrefix+key)
	if err != nil {
		m.logger.Warn("failed to read cached balance for %s: %s", key, err)
		return Entry{}, false
	}
	return e, ok
}

// Attempts returns the failed fetches counted against key since its last success.
func (m *Manager) Attempts(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts[key]
}

// ClearCache drops every cached balance and retry counter. Subscriptions keep running.
func (m *Manager) ClearCache(ctx context.Context) {
	n, err := m.store.ExpirePrefixContext(ctx, keyPrefix)
	if err != nil {
		m.logger.Warn("failed to clear balance cache: %s", err)
	}
	m.mu.Lock()
	m.attempts = make(map[string]int)
	m.mu.Unlock()
	m.logger.Debug("cleared %d cached balances", n)
}

// Close stops every subscription, abandons in-flight fetches and releases
// the store and event client if the Manager created them.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.StopAll()
	m.cancel()
	m.wg.Wait()

	var errs error
	if m.ownEvents {
		errs = errors.CombineErrors(errs, m.events.Close())
	}
	if m.ownStore {
		errs = errors.CombineErrors(errs, m.store.CloseContext(context.Background()))
	}
	return errs
}

func (m *Manager) String() string {
	return fmt.Sprintf("balance.Manager{interval=%s expiry=%s retries=%d}", m.config.PollingInterval, m.config.CacheExpiry, m.config.MaxRetries)
}
