package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteCache(t *testing.T) {
	ctx := context.Background()
	c, err := NewSQLite(ctx, ":memory:")
	require.NoError(t, err)
	defer c.CloseContext(ctx)
	exerciseCache(t, c)
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	c, err := NewSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, c.SetContext(ctx, "tokens:p1", int64(250), NoExpiry))
	require.NoError(t, c.CloseContext(ctx))

	c, err = NewSQLite(ctx, path)
	require.NoError(t, err)
	defer c.CloseContext(ctx)
	ok, n, err := GetContext[int64](ctx, c, "tokens:p1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(250), n)
}

func TestSQLiteExpiry(t *testing.T) {
	ctx := context.Background()
	c, err := NewSQLite(ctx, "")
	require.NoError(t, err)
	defer c.CloseContext(ctx)

	require.NoError(t, c.SetContext(ctx, "short", "v", 10*time.Millisecond))
	time.Sleep(15 * time.Millisecond)
	found, _, err := c.GetContext(ctx, "short")
	require.NoError(t, err)
	assert.False(t, found)

	keys, err := c.KeysContext(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestSQLiteClosed(t *testing.T) {
	ctx := context.Background()
	c, err := NewSQLite(ctx, "")
	require.NoError(t, err)
	require.NoError(t, c.CloseContext(ctx))
	assert.ErrorIs(t, c.SetContext(ctx, "k", 1, NoExpiry), ErrClosed)
}
