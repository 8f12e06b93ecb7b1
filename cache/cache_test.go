package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Name  string    `msgpack:"name"`
	Count int64     `msgpack:"count"`
	At    time.Time `msgpack:"at"`
}

// exerciseCache runs the behaviour every backend must share.
func exerciseCache(t *testing.T, c Cache) {
	t.Helper()
	ctx := context.Background()

	found, val, err := c.GetContext(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, val)

	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	require.NoError(t, c.SetContext(ctx, "rec:a", record{"a", 42, at}, NoExpiry))
	require.NoError(t, c.SetContext(ctx, "rec:b", record{"b", 7, at}, time.Minute))
	require.NoError(t, c.SetContext(ctx, "other:c", int64(3), NoExpiry))

	ok, rec, err := GetContext[record](ctx, c, "rec:a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "a", rec.Name)
	assert.Equal(t, int64(42), rec.Count)
	assert.True(t, at.Equal(rec.At))

	ok, n, err := GetContext[int64](ctx, c, "other:c")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(3), n)

	keys, err := c.KeysContext(ctx, "rec:")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"rec:a", "rec:b"}, keys)

	removed, err := c.ExpireContext(ctx, "rec:a")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = c.ExpireContext(ctx, "rec:a")
	require.NoError(t, err)
	assert.False(t, removed)

	require.NoError(t, c.SetContext(ctx, "rec:a", record{Name: "again"}, NoExpiry))
	cleared, err := c.ExpirePrefixContext(ctx, "rec:")
	require.NoError(t, err)
	assert.Equal(t, 2, cleared)

	keys, err = c.KeysContext(ctx, "rec:")
	require.NoError(t, err)
	assert.Empty(t, keys)

	ok, _, err = GetContext[int64](ctx, c, "other:c")
	require.NoError(t, err)
	assert.True(t, ok, "other prefixes survive")
}

func TestGetContextTypeMismatch(t *testing.T) {
	ctx := context.Background()
	c := NewInMemory(ctx)
	defer c.CloseContext(ctx)

	require.NoError(t, c.SetContext(ctx, "k", "a string", NoExpiry))
	ok, _, err := GetContext[int64](ctx, c, "k")
	assert.False(t, ok)
	assert.ErrorContains(t, err, "cannot convert")
}
