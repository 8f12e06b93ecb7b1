package balance

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vanylaplus/go-launcher/cache"
	"github.com/vanylaplus/go-launcher/logger"
)

var errUnavailable = errors.New("backend unavailable")

// fakeSource answers with respond, counting every call.
type fakeSource struct {
	mu      sync.Mutex
	calls   int
	respond func(call int, key string) (int64, error)
}

func (f *fakeSource) FetchBalance(ctx context.Context, key string) (int64, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	return f.respond(call, key)
}

func (f *fakeSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func always(balance int64, err error) *fakeSource {
	return &fakeSource{respond: func(int, string) (int64, error) { return balance, err }}
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *sleepRecorder) Delays() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func newTestManager(t *testing.T, src Source, opts ...Option) (*Manager, *sleepRecorder, *logger.TestLogger) {
	t.Helper()
	log := logger.NewTestLogger()
	opts = append([]Option{WithLogger(log)}, opts...)
	m := New(context.Background(), src, opts...)
	rec := &sleepRecorder{}
	m.sleep = rec.sleep
	t.Cleanup(func() { m.Close() })
	return m, rec, log
}

func seed(t *testing.T, store cache.Cache, key string, balance int64, age time.Duration) {
	t.Helper()
	entry := Entry{Key: key, Balance: balance, FetchedAt: time.Now().Add(-age)}
	require.NoError(t, store.SetContext(context.Background(), keyPrefix+key, entry, cache.NoExpiry))
}

func TestDefaultConfig(t *testing.T) {
	m, _, _ := newTestManager(t, always(0, nil))
	assert.Equal(t, DefaultConfig(), m.Config())

	cfg := Config{MaxRetries: -1, PollingInterval: time.Second}.withDefaults()
	assert.Equal(t, 0, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.PollingInterval)
	assert.Equal(t, 60*time.Second, cfg.CacheExpiry)
	assert.Equal(t, 2*time.Second, cfg.RetryBaseDelay)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
}

func TestNeverFetchedKeyFallsBackToZero(t *testing.T) {
	src := always(0, errUnavailable)
	m, rec, log := newTestManager(t, src, WithConfig(Config{MaxRetries: 3, RetryBaseDelay: 2 * time.Second}))

	r := m.Lookup(context.Background(), "p1", false)
	assert.Equal(t, int64(0), r.Balance)
	assert.Equal(t, OriginFallback, r.Origin)
	assert.False(t, r.Fresh())
	assert.ErrorIs(t, r.Err, errUnavailable)

	assert.Equal(t, 4, src.Calls())
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 6 * time.Second}, rec.Delays())
	assert.Equal(t, 3, m.Attempts("p1"))
	assert.Equal(t, 3, log.Count("WARNING", "fetch for p1 failed"))
	assert.Equal(t, 1, log.Count("ERROR", "fetch for p1 gave up"))
}

func TestFreshCacheSkipsRemote(t *testing.T) {
	store := cache.NewInMemory(context.Background())
	defer store.CloseContext(context.Background())
	src := always(7, nil)
	m, _, _ := newTestManager(t, src, WithStore(store))

	seed(t, store, "p1", 42, 5*time.Second)
	r := m.Lookup(context.Background(), "p1", false)
	assert.Equal(t, int64(42), r.Balance)
	assert.Equal(t, OriginCache, r.Origin)
	assert.True(t, r.Fresh())
	assert.Equal(t, 0, src.Calls())
}

func TestSecondReadWithinExpiryIsCached(t *testing.T) {
	src := always(13, nil)
	m, _, _ := newTestManager(t, src)

	assert.Equal(t, int64(13), m.GetBalance(context.Background(), "p1", false))
	assert.Equal(t, int64(13), m.GetBalance(context.Background(), "p1", false))
	assert.Equal(t, 1, src.Calls())
}

func TestStaleCacheRefetches(t *testing.T) {
	store := cache.NewInMemory(context.Background())
	defer store.CloseContext(context.Background())
	src := always(99, nil)
	m, _, _ := newTestManager(t, src, WithStore(store))

	seed(t, store, "p1", 42, 61*time.Second)
	assert.Equal(t, int64(99), m.GetBalance(context.Background(), "p1", false))
	assert.Equal(t, 1, src.Calls())

	e, ok := m.Cached(context.Background(), "p1")
	require.True(t, ok)
	assert.Equal(t, int64(99), e.Balance)
	assert.WithinDuration(t, time.Now(), e.FetchedAt, time.Second)
}

func TestForceRefreshAlwaysCallsRemote(t *testing.T) {
	store := cache.NewInMemory(context.Background())
	defer store.CloseContext(context.Background())
	src := always(5, nil)
	m, _, _ := newTestManager(t, src, WithStore(store))

	seed(t, store, "p1", 42, 0)
	assert.Equal(t, int64(5), m.GetBalance(context.Background(), "p1", true))
	assert.Equal(t, int64(5), m.Refresh(context.Background(), "p1"))
	assert.Equal(t, 2, src.Calls())
}

func TestFailureFallsBackToCachedValue(t *testing.T) {
	store := cache.NewInMemory(context.Background())
	defer store.CloseContext(context.Background())
	src := always(0, errUnavailable)
	m, _, _ := newTestManager(t, src, WithStore(store))

	seed(t, store, "p1", 42, 2*time.Minute)
	r := m.Lookup(context.Background(), "p1", false)
	assert.Equal(t, int64(42), r.Balance)
	assert.Equal(t, OriginFallback, r.Origin)
	assert.Error(t, r.Err)
	assert.False(t, r.FetchedAt.IsZero())
}

func TestRetryCountResetsOnSuccess(t *testing.T) {
	src := &fakeSource{respond: func(call int, _ string) (int64, error) {
		if call <= 2 {
			return 0, errUnavailable
		}
		return 250, nil
	}}
	m, rec, _ := newTestManager(t, src)

	r := m.Lookup(context.Background(), "p1", true)
	assert.Equal(t, int64(250), r.Balance)
	assert.Equal(t, OriginRemote, r.Origin)
	assert.NoError(t, r.Err)
	assert.Equal(t, 3, src.Calls())
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, rec.Delays())
	assert.Equal(t, 0, m.Attempts("p1"))
}

func TestRetryBudgetPersistsAcrossCalls(t *testing.T) {
	var fail sync.Mutex
	failing := true
	src := &fakeSource{respond: func(int, string) (int64, error) {
		fail.Lock()
		defer fail.Unlock()
		if failing {
			return 0, errUnavailable
		}
		return 8, nil
	}}
	m, rec, _ := newTestManager(t, src)
	ctx := context.Background()

	assert.Equal(t, int64(0), m.Refresh(ctx, "p1"))
	assert.Equal(t, 4, src.Calls())

	// budget spent: one attempt, no backoff
	assert.Equal(t, int64(0), m.Refresh(ctx, "p1"))
	assert.Equal(t, 5, src.Calls())
	assert.Len(t, rec.Delays(), 3)
	assert.Equal(t, 3, m.Attempts("p1"))

	fail.Lock()
	failing = false
	fail.Unlock()
	assert.Equal(t, int64(8), m.Refresh(ctx, "p1"))
	assert.Equal(t, 0, m.Attempts("p1"))

	// other keys have their own budget
	assert.Equal(t, 0, m.Attempts("p2"))
}

func TestNoRetriesWhenDisabled(t *testing.T) {
	src := always(0, errUnavailable)
	m, rec, _ := newTestManager(t, src, WithConfig(Config{MaxRetries: -1}))

	assert.Equal(t, int64(0), m.Refresh(context.Background(), "p1"))
	assert.Equal(t, 1, src.Calls())
	assert.Empty(t, rec.Delays())
}

func TestNegativeBalanceClampsToZero(t *testing.T) {
	m, _, _ := newTestManager(t, always(-20, nil))
	assert.Equal(t, int64(0), m.Refresh(context.Background(), "p1"))
}

func TestConcurrentFetchesAreCoalesced(t *testing.T) {
	release := make(chan struct{})
	src := &fakeSource{respond: func(int, string) (int64, error) {
		<-release
		return 77, nil
	}}
	m, _, _ := newTestManager(t, src)

	const callers = 8
	results := make([]int64, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = m.GetBalance(context.Background(), "p1", i%2 == 0)
		}(i)
	}
	require.Eventually(t, func() bool { return src.Calls() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, 1, src.Calls())
	for _, r := range results {
		assert.Equal(t, int64(77), r)
	}
}

func TestCallerCancellationGetsFallback(t *testing.T) {
	release := make(chan struct{})
	src := &fakeSource{respond: func(int, string) (int64, error) {
		<-release
		return 31, nil
	}}
	m, _, _ := newTestManager(t, src)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	r := m.Lookup(ctx, "p1", true)
	assert.Equal(t, OriginFallback, r.Origin)
	assert.Equal(t, int64(0), r.Balance)
	assert.ErrorIs(t, r.Err, context.DeadlineExceeded)

	// the fetch itself completes and fills the cache
	close(release)
	assert.Eventually(t, func() bool {
		e, ok := m.Cached(context.Background(), "p1")
		return ok && e.Balance == 31
	}, time.Second, 5*time.Millisecond)
}

func TestPanickingSourceCountsAsFailure(t *testing.T) {
	src := &fakeSource{respond: func(call int, _ string) (int64, error) {
		if call == 1 {
			panic("decoder bug")
		}
		return 8, nil
	}}
	m, rec, log := newTestManager(t, src)

	r := m.Lookup(context.Background(), "p1", true)
	assert.Equal(t, OriginRemote, r.Origin)
	assert.Equal(t, int64(8), r.Balance)
	assert.Equal(t, 2, src.Calls())
	assert.Equal(t, []time.Duration{2 * time.Second}, rec.Delays())
	assert.Equal(t, 1, log.Count("WARNING", "balance source panicked: decoder bug"))
}

func TestPanickingSourceFallsBack(t *testing.T) {
	src := &fakeSource{respond: func(int, string) (int64, error) { panic("boom") }}
	m, _, _ := newTestManager(t, src, WithConfig(Config{MaxRetries: -1}))

	for i := 0; i < 2; i++ {
		r := m.Lookup(context.Background(), "p1", true)
		assert.Equal(t, OriginFallback, r.Origin)
		assert.Equal(t, int64(0), r.Balance)
		assert.ErrorContains(t, r.Err, "panicked")
	}
	assert.Equal(t, 2, src.Calls())
}

func TestClearCache(t *testing.T) {
	src := always(0, errUnavailable)
	store := cache.NewInMemory(context.Background())
	defer store.CloseContext(context.Background())
	m, _, _ := newTestManager(t, src, WithStore(store))
	ctx := context.Background()

	require.NoError(t, store.SetContext(ctx, "tokens:p1", int64(5), cache.NoExpiry))
	seed(t, store, "p1", 42, 0)
	m.Refresh(ctx, "p1")
	require.Equal(t, 3, m.Attempts("p1"))

	m.StartPolling("p2", func(int64) {})
	m.ClearCache(ctx)

	_, ok := m.Cached(ctx, "p1")
	assert.False(t, ok)
	assert.Equal(t, 0, m.Attempts("p1"))
	assert.True(t, m.Polling("p2"))

	found, _, err := store.GetContext(ctx, "tokens:p1")
	require.NoError(t, err)
	assert.True(t, found, "other namespaces are untouched")
}

func TestCloseIsIdempotent(t *testing.T) {
	m := New(context.Background(), always(1, nil), WithLogger(logger.NewTestLogger()))
	m.StartPolling("p1", func(int64) {})
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.False(t, m.Polling("p1"))

	r := m.Lookup(context.Background(), "p1", true)
	assert.Equal(t, OriginFallback, r.Origin)
	assert.ErrorIs(t, r.Err, ErrClosed)
}

func TestOriginString(t *testing.T) {
	assert.Equal(t, "cache", OriginCache.String())
	assert.Equal(t, "remote", OriginRemote.String())
	assert.Equal(t, "fallback", OriginFallback.String())
	assert.Equal(t, "unknown", Origin(9).String())
}
