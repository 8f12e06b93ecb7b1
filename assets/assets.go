// Package assets prefetches launcher UI assets (images and stylesheets) into
// a cache.Cache so that views open without waiting on the network. Concurrent
// requests for the same asset share one download.
package assets

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vanylaplus/go-launcher/api"
	"github.com/vanylaplus/go-launcher/cache"
	"github.com/vanylaplus/go-launcher/logger"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const keyPrefix = "asset:"

// DefaultConcurrency is how many downloads PreloadAll runs at once.
const DefaultConcurrency = 4

// ErrUnknownView is returned by PreloadView for a view with no asset list.
var ErrUnknownView = errors.New("assets: unknown view")

// Asset is a downloaded file as stored in the cache.
type Asset struct {
	Path      string    `msgpack:"path"`
	Data      []byte    `msgpack:"data"`
	FetchedAt time.Time `msgpack:"fetched_at"`
}

// Stats reports how many assets are cached and how many downloads are in flight.
type Stats struct {
	Loaded  int
	Pending int
}

type Option func(*Prefetcher)

func WithLogger(log logger.Logger) Option {
	return func(p *Prefetcher) { p.logger = log }
}

// WithConcurrency bounds the downloads PreloadAll runs at once.
func WithConcurrency(n int) Option {
	return func(p *Prefetcher) { p.concurrency = n }
}

// WithTimeout bounds a single download. A download outlives the caller that
// started it so callers that joined it still get the result.
func WithTimeout(d time.Duration) Option {
	return func(p *Prefetcher) { p.timeout = d }
}

// Prefetcher downloads assets relative to the client's base url and keeps
// them in store under asset:<path>.
type Prefetcher struct {
	client      *api.Client
	store       cache.Cache
	logger      logger.Logger
	concurrency int
	timeout     time.Duration

	group   singleflight.Group
	mu      sync.Mutex
	pending map[string]struct{}
}

func New(client *api.Client, store cache.Cache, opts ...Option) *Prefetcher {
	p := &Prefetcher{
		client:      client,
		store:       store,
		concurrency: DefaultConcurrency,
		timeout:     api.DefaultTimeout,
		pending:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logger.Discard
	}
	p.logger = p.logger.WithPrefix("[assets]")
	if p.concurrency <= 0 {
		p.concurrency = DefaultConcurrency
	}
	return p
}

// Preload returns the asset at path, downloading it unless it is cached. An
// empty path is ignored.
func (p *Prefetcher) Preload(ctx context.Context, path string) (Asset, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return Asset{}, nil
	}
	if a, ok := p.Cached(ctx, path); ok {
		return a, nil
	}
	ch := p.group.DoChan(path, func() (interface{}, error) {
		return p.download(context.WithoutCancel(ctx), path)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return Asset{}, res.Err
		}
		return res.Val.(Asset), nil
	case <-ctx.Done():
		return Asset{}, ctx.Err()
	}
}

func (p *Prefetcher) download(ctx context.Context, path string) (Asset, error) {
	p.mu.Lock()
	p.pending[path] = struct{}{}
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.pending, path)
		p.mu.Unlock()
	}()

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	body, err := p.client.Get(ctx, strings.Split(path, "/")...)
	if err != nil {
		return Asset{}, errors.Wrapf(err, "failed to preload %s", path)
	}
	a := Asset{Path: path, Data: body, FetchedAt: time.Now()}
	if err := p.store.SetContext(ctx, keyPrefix+path, a, cache.NoExpiry); err != nil {
		p.logger.Warn("failed to store %s: %s", path, err)
	}
	p.logger.Debug("preloaded %s (%d bytes)", path, len(body))
	return a, nil
}

// PreloadAll preloads every path. A failed download does not stop the
// others; the failures are joined, one per line.
func (p *Prefetcher) PreloadAll(ctx context.Context, paths []string) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(p.concurrency)
	for _, path := range unique(paths) {
		g.Go(func() error {
			if _, err := p.Preload(ctx, path); err != nil {
				p.logger.Debug("%s", err)
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// PreloadView preloads the images and stylesheets of the named view.
func (p *Prefetcher) PreloadView(ctx context.Context, name string) error {
	v, ok := Views[name]
	if !ok {
		return errors.Wrapf(ErrUnknownView, "%q", name)
	}
	return p.PreloadAll(ctx, v.Paths())
}

// PreloadCritical preloads every view the launcher opens on startup plus the
// images shared between pages.
func (p *Prefetcher) PreloadCritical(ctx context.Context) error {
	paths := append([]string(nil), CommonImages...)
	for _, name := range CriticalViews {
		paths = append(paths, Views[name].Paths()...)
	}
	p.logger.Info("preloading %d critical assets", len(unique(paths)))
	return p.PreloadAll(ctx, paths)
}

// Cached returns the stored asset at path.
func (p *Prefetcher) Cached(ctx context.Context, path string) (Asset, bool) {
	ok, a, err := cache.GetContext[Asset](ctx, p.store, keyPrefix+strings.Trim(path, "/"))
	if err != nil {
		p.logger.Warn("failed to read cached asset %s: %s", path, err)
		return Asset{}, false
	}
	return a, ok
}

// Stats counts cached assets and downloads in flight.
func (p *Prefetcher) Stats(ctx context.Context) (Stats, error) {
	keys, err := p.store.KeysContext(ctx, keyPrefix)
	if err != nil {
		return Stats{}, errors.Wrap(err, "list cached assets")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Loaded: len(keys), Pending: len(p.pending)}, nil
}

// ClearCache drops every cached asset and returns how many were removed.
// Downloads in flight still complete and are cached.
func (p *Prefetcher) ClearCache(ctx context.Context) (int, error) {
	n, err := p.store.ExpirePrefixContext(ctx, keyPrefix)
	if err != nil {
		return 0, errors.Wrap(err, "clear asset cache")
	}
	p.logger.Debug("cleared %d cached assets", n)
	return n, nil
}

func unique(paths []string) []string {
	seen := make(map[string]struct{}, len(paths))
	out := make([]string, 0, len(paths))
	for _, path := range paths {
		path = strings.Trim(path, "/")
		if path == "" {
			continue
		}
		if _, ok := seen[path]; ok {
			continue
		}
		seen[path] = struct{}{}
		out = append(out, path)
	}
	return out
}

// ViewNames returns the known views in alphabetical order.
func ViewNames() []string {
	names := make([]string, 0, len(Views))
	for name := range Views {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
