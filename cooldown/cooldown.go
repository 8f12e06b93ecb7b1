// Package cooldown gates the daily fortune wheel: a player may spin once per
// cooldown window, plus once more for each respin reward.
package cooldown

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vanylaplus/go-launcher/cache"
	"github.com/vanylaplus/go-launcher/logger"
)

const (
	spinPrefix   = "wheel:spin:"
	respinPrefix = "wheel:respin:"
)

// DefaultCooldown is the time between two regular spins.
const DefaultCooldown = 24 * time.Hour

// Unavailable is the Remaining text for a missing player.
const Unavailable = "unavailable"

type Option func(*Gate)

func WithCooldown(d time.Duration) Option {
	return func(g *Gate) { g.cooldown = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

func WithLogger(log logger.Logger) Option {
	return func(g *Gate) { g.logger = log }
}

type Gate struct {
	store    cache.Cache
	cooldown time.Duration
	now      func() time.Time
	logger   logger.Logger
}

func New(store cache.Cache, opts ...Option) *Gate {
	g := &Gate{store: store, cooldown: DefaultCooldown, now: time.Now, logger: logger.Discard}
	for _, opt := range opts {
		opt(g)
	}
	if g.cooldown <= 0 {
		g.cooldown = DefaultCooldown
	}
	g.logger = g.logger.WithPrefix("[wheel]")
	return g
}

// Cooldown returns the configured window.
func (g *Gate) Cooldown() time.Duration {
	return g.cooldown
}

// LastSpin returns when key last spun, or the zero time.
func (g *Gate) LastSpin(ctx context.Context, key string) (time.Time, error) {
	if key == "" {
		return time.Time{}, nil
	}
	ok, ms, err := cache.GetContext[int64](ctx, g.store, spinPrefix+key)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "read last spin for %s", key)
	}
	if !ok || ms == 0 {
		return time.Time{}, nil
	}
	return time.UnixMilli(ms), nil
}

// RecordSpin starts a new cooldown window for key.
func (g *Gate) RecordSpin(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	now := g.now()
	if err := g.store.SetContext(ctx, spinPrefix+key, now.UnixMilli(), cache.NoExpiry); err != nil {
		return errors.Wrapf(err, "record spin for %s", key)
	}
	g.logger.Debug("spin recorded for %s at %s", key, now.Format(time.RFC3339))
	return nil
}

// CanSpin reports whether the cooldown for key has elapsed. A player that
// never spun may spin; an empty key may not.
func (g *Gate) CanSpin(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, nil
	}
	last, err := g.LastSpin(ctx, key)
	if err != nil {
		return false, err
	}
	return g.elapsed(last), nil
}

func (g *Gate) elapsed(last time.Time) bool {
	return last.IsZero() || g.now().Sub(last) >= g.cooldown
}

// Remaining breaks down the time left before key may spin again.
type Remaining struct {
	CanSpin bool
	Hours   int
	Minutes int
	Seconds int
	Text    string
}

func (g *Gate) Remaining(ctx context.Context, key string) (Remaining, error) {
	if key == "" {
		return Remaining{Text: Unavailable}, nil
	}
	last, err := g.LastSpin(ctx, key)
	if err != nil {
		return Remaining{}, err
	}
	return g.remaining(last), nil
}

func (g *Gate) remaining(last time.Time) Remaining {
	if g.elapsed(last) {
		return Remaining{CanSpin: true}
	}
	left := last.Add(g.cooldown).Sub(g.now())
	if left <= 0 {
		return Remaining{CanSpin: true}
	}
	h, m, s := split(left)
	return Remaining{Hours: h, Minutes: m, Seconds: s, Text: DurationText(left)}
}

func split(d time.Duration) (hours, minutes, seconds int) {
	return int(d / time.Hour), int(d % time.Hour / time.Minute), int(d % time.Minute / time.Second)
}

// DurationText renders d as "12h 5m 3s", truncated to whole seconds.
func DurationText(d time.Duration) string {
	h, m, s := split(d)
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}

// GrantRespin gives key one spin that ignores the cooldown.
func (g *Gate) GrantRespin(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	if err := g.store.SetContext(ctx, respinPrefix+key, true, cache.NoExpiry); err != nil {
		return errors.Wrapf(err, "grant respin to %s", key)
	}
	g.logger.Debug("respin granted to %s", key)
	return nil
}

func (g *Gate) HasRespin(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, nil
	}
	ok, v, err := cache.GetContext[bool](ctx, g.store, respinPrefix+key)
	if err != nil {
		return false, errors.Wrapf(err, "read respin for %s", key)
	}
	return ok && v, nil
}

// Allowed reports whether key may spin now, either because it holds a respin
// or because its cooldown has elapsed.
func (g *Gate) Allowed(ctx context.Context, key string) (bool, error) {
	respin, err := g.HasRespin(ctx, key)
	if err != nil || respin {
		return respin, err
	}
	return g.CanSpin(ctx, key)
}

// Complete settles a finished spin. A respin reward grants another free
// spin and leaves the cooldown alone; any other outcome starts the cooldown
// and consumes a held respin.
func (g *Gate) Complete(ctx context.Context, key string, respin bool) error {
	if key == "" {
		return nil
	}
	if respin {
		return g.GrantRespin(ctx, key)
	}
	if err := g.RecordSpin(ctx, key); err != nil {
		return err
	}
	if _, err := g.store.ExpireContext(ctx, respinPrefix+key); err != nil {
		return errors.Wrapf(err, "clear respin for %s", key)
	}
	return nil
}

// Reset clears the cooldown for key.
func (g *Gate) Reset(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	if _, err := g.store.ExpireContext(ctx, spinPrefix+key); err != nil {
		return errors.Wrapf(err, "reset cooldown for %s", key)
	}
	g.logger.Info("cooldown reset for %s", key)
	return nil
}

// ClearAll removes every cooldown and respin and returns how many entries
// were removed.
func (g *Gate) ClearAll(ctx context.Context) (int, error) {
	var total int
	for _, prefix := range []string{spinPrefix, respinPrefix} {
		n, err := g.store.ExpirePrefixContext(ctx, prefix)
		if err != nil {
			return total, errors.Wrap(err, "clear cooldowns")
		}
		total += n
	}
	g.logger.Info("cleared %d wheel entries", total)
	return total, nil
}

// Status is one player's entry in All.
type Status struct {
	LastSpin time.Time
	Respin   bool
	Remaining
}

// All returns the status of every player with a recorded spin.
func (g *Gate) All(ctx context.Context) (map[string]Status, error) {
	keys, err := g.store.KeysContext(ctx, spinPrefix)
	if err != nil {
		return nil, errors.Wrap(err, "list cooldowns")
	}
	result := make(map[string]Status, len(keys))
	for _, k := range keys {
		player := strings.TrimPrefix(k, spinPrefix)
		last, err := g.LastSpin(ctx, player)
		if err != nil {
			return nil, err
		}
		respin, err := g.HasRespin(ctx, player)
		if err != nil {
			return nil, err
		}
		result[player] = Status{LastSpin: last, Respin: respin, Remaining: g.remaining(last)}
	}
	return result, nil
}
