package balance

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vanylaplus/go-launcher/cache"
	"github.com/vanylaplus/go-launcher/eventing"
	"github.com/vanylaplus/go-launcher/logger"
)

type updateLog struct {
	mu      sync.Mutex
	updates []Update
}

func (l *updateLog) add(u Update) {
	l.mu.Lock()
	l.updates = append(l.updates, u)
	l.mu.Unlock()
}

func (l *updateLog) All() []Update {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Update(nil), l.updates...)
}

func TestOnUpdateReceivesEverySuccess(t *testing.T) {
	src := counter()
	m, _, _ := newTestManager(t, src)
	ctx := context.Background()

	var got updateLog
	sub, err := m.OnUpdate(ctx, got.add)
	require.NoError(t, err)
	defer sub.Close()

	m.Refresh(ctx, "p1")
	m.Refresh(ctx, "p2")
	m.GetBalance(ctx, "p1", false)

	require.Eventually(t, func() bool { return len(got.All()) == 2 }, time.Second, time.Millisecond)
	updates := got.All()
	assert.Equal(t, "p1", updates[0].Key)
	assert.Equal(t, int64(10), updates[0].Balance)
	assert.Equal(t, "p2", updates[1].Key)
	assert.Equal(t, int64(20), updates[1].Balance)
	assert.False(t, updates[0].FetchedAt.IsZero())
}

func TestFailedFetchIsNotBroadcast(t *testing.T) {
	m, _, _ := newTestManager(t, always(0, errUnavailable))

	var got updateLog
	sub, err := m.OnUpdate(context.Background(), got.add)
	require.NoError(t, err)
	defer sub.Close()

	m.Refresh(context.Background(), "p1")
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, got.All())
}

func TestUpdatesCrossManagersOverRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	ctx := context.Background()

	store := cache.NewRedis(rdb, cache.WithPrefix("launcher"))
	events, err := eventing.NewRedisClient(ctx, logger.NewTestLogger(), rdb)
	require.NoError(t, err)
	defer events.Close()

	writer, _, _ := newTestManager(t, always(64, nil), WithStore(store), WithEvents(events))
	reader, _, _ := newTestManager(t, always(0, errUnavailable), WithStore(store), WithEvents(events))

	var got updateLog
	sub, err := reader.OnUpdate(ctx, got.add)
	require.NoError(t, err)
	defer sub.Close()

	writer.Refresh(ctx, "p1")
	require.Eventually(t, func() bool { return len(got.All()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(64), got.All()[0].Balance)

	// the shared store serves the reader without touching its source
	r := reader.Lookup(ctx, "p1", false)
	assert.Equal(t, OriginCache, r.Origin)
	assert.Equal(t, int64(64), r.Balance)
}

func TestStalledUpdateListenerDoesNotBlockFetches(t *testing.T) {
	src := counter()
	m, _, log := newTestManager(t, src)

	release := make(chan struct{})
	defer close(release)
	sub, err := m.OnUpdate(context.Background(), func(Update) { <-release })
	require.NoError(t, err)
	defer sub.Close()

	const refreshes = 100
	for i := 1; i <= refreshes; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		r := m.Lookup(ctx, "p1", true)
		cancel()
		require.Equal(t, OriginRemote, r.Origin, "refresh %d: %v", i, r.Err)
		require.Equal(t, int64(i*10), r.Balance)
	}
	assert.Equal(t, refreshes, src.Calls())
	assert.Positive(t, log.Count("WARNING", "dropped message"))
}
