// Package ledger keeps the launcher's local token balances per player.
package ledger

import (
	"context"
	"math"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/vanylaplus/go-launcher/cache"
	"github.com/vanylaplus/go-launcher/eventing"
	"github.com/vanylaplus/go-launcher/logger"
	"github.com/vmihailenco/msgpack/v5"
)

const keyPrefix = "tokens:"

// UpdateSubject carries an Update for every write.
const UpdateSubject = "tokens.updated"

// Update is published after a player's balance is written.
type Update struct {
	Key     string `msgpack:"key"`
	Balance int64  `msgpack:"balance"`
}

type Option func(*Ledger)

func WithLogger(log logger.Logger) Option {
	return func(l *Ledger) { l.logger = log }
}

// WithEvents publishes an Update on client after every write.
func WithEvents(client eventing.Client) Option {
	return func(l *Ledger) { l.events = client }
}

// Ledger stores non-negative token balances. An empty player key is treated
// as no player: reads return 0 and writes are ignored.
type Ledger struct {
	store  cache.Cache
	events eventing.Client
	logger logger.Logger
	mu     sync.Mutex
}

func New(store cache.Cache, opts ...Option) *Ledger {
	l := &Ledger{store: store, logger: logger.Discard}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.WithPrefix("[ledger]")
	return l
}

func (l *Ledger) Balance(ctx context.Context, key string) (int64, error) {
	if key == "" {
		return 0, nil
	}
	return l.read(ctx, key)
}

func (l *Ledger) read(ctx context.Context, key string) (int64, error) {
	ok, n, err := cache.GetContext[int64](ctx, l.store, keyPrefix+key)
	if err != nil {
		return 0, errors.Wrapf(err, "read tokens for %s", key)
	}
	if !ok {
		return 0, nil
	}
	return n, nil
}

// Set stores amount, clamped to zero, and returns the stored value.
func (l *Ledger) Set(ctx context.Context, key string, amount int64) (int64, error) {
	if key == "" {
		return 0, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.write(ctx, key, amount)
}

func (l *Ledger) write(ctx context.Context, key string, amount int64) (int64, error) {
	amount = max(amount, 0)
	if err := l.store.SetContext(ctx, keyPrefix+key, amount, cache.NoExpiry); err != nil {
		return 0, errors.Wrapf(err, "write tokens for %s", key)
	}
	l.logger.Debug("tokens for %s set to %d", key, amount)
	l.publish(ctx, Update{Key: key, Balance: amount})
	return amount, nil
}

// Add credits amount and returns the new balance. A negative amount debits,
// never below zero.
func (l *Ledger) Add(ctx context.Context, key string, amount int64) (int64, error) {
	return l.update(ctx, key, func(current int64) int64 {
		if amount > 0 && current > math.MaxInt64-amount {
			return math.MaxInt64
		}
		return current + amount
	})
}

// Remove debits amount and returns the new balance, which never drops below zero.
func (l *Ledger) Remove(ctx context.Context, key string, amount int64) (int64, error) {
	return l.update(ctx, key, func(current int64) int64 {
		if amount < 0 && current > math.MaxInt64+amount {
			return math.MaxInt64
		}
		return current - amount
	})
}

func (l *Ledger) update(ctx context.Context, key string, fn func(int64) int64) (int64, error) {
	if key == "" {
		return 0, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	current, err := l.read(ctx, key)
	if err != nil {
		return 0, err
	}
	return l.write(ctx, key, fn(current))
}

// Reset sets the balance for key to zero.
func (l *Ledger) Reset(ctx context.Context, key string) (int64, error) {
	return l.Set(ctx, key, 0)
}

// ClearAll deletes every stored balance and returns how many were removed.
func (l *Ledger) ClearAll(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n, err := l.store.ExpirePrefixContext(ctx, keyPrefix)
	if err != nil {
		return 0, errors.Wrap(err, "clear tokens")
	}
	l.logger.Info("cleared %d token balances", n)
	return n, nil
}

// All returns every stored balance keyed by player.
func (l *Ledger) All(ctx context.Context) (map[string]int64, error) {
	keys, err := l.store.KeysContext(ctx, keyPrefix)
	if err != nil {
		return nil, errors.Wrap(err, "list tokens")
	}
	result := make(map[string]int64, len(keys))
	for _, k := range keys {
		player := strings.TrimPrefix(k, keyPrefix)
		n, err := l.read(ctx, player)
		if err != nil {
			return nil, err
		}
		result[player] = n
	}
	return result, nil
}

func (l *Ledger) publish(ctx context.Context, u Update) {
	if l.events == nil {
		return
	}
	buf, err := msgpack.Marshal(u)
	if err != nil {
		l.logger.Error("failed to encode update for %s: %s", u.Key, err)
		return
	}
	if err := l.events.Publish(ctx, UpdateSubject, buf); err != nil {
		l.logger.Warn("failed to publish update for %s: %s", u.Key, err)
	}
}

// OnUpdate calls cb with every Update published on the ledger's event client.
func (l *Ledger) OnUpdate(ctx context.Context, cb func(Update)) (eventing.Subscriber, error) {
	if l.events == nil {
		return nil, errors.New("ledger: no event client configured")
	}
	sub, err := l.events.Subscribe(ctx, UpdateSubject, func(ctx context.Context, msg eventing.Message) {
		var u Update
		if err := msgpack.Unmarshal(msg.Data(), &u); err != nil {
			l.logger.Warn("dropping malformed update: %s", err)
			return
		}
		cb(u)
	})
	if err != nil {
		return nil, errors.Wrap(err, "subscribe to token updates")
	}
	return sub, nil
}
