package cache

import (
	"context"
	"database/sql"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"github.com/vmihailenco/msgpack/v5"
	_ "modernc.org/sqlite"
)

type sqliteCache struct {
	db        *sql.DB
	ctx       context.Context
	cancel    context.CancelFunc
	waitGroup sync.WaitGroup
	once      sync.Once
	cfg       config
}

var _ Cache = (*sqliteCache)(nil)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS cache (
	key TEXT PRIMARY KEY,
	value BLOB NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_expires_at ON cache(expires_at);`

// NewSQLite returns a new Cache backed by SQLite.
// If dbPath is empty or ":memory:", an in-memory database is used.
// Rows with expires_at = 0 never expire.
func NewSQLite(ctx context.Context, dbPath string, opts ...Option) (Cache, error) {
	if dbPath == "" {
		dbPath = ":memory:"
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrapf(err, "cache: open sqlite %s", dbPath)
	}
	// a single connection keeps ":memory:" databases shared and serialises writers
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "cache: enable wal")
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "cache: create schema")
	}

	childCtx, cancel := context.WithCancel(ctx)
	c := &sqliteCache{
		db:     db,
		ctx:    childCtx,
		cancel: cancel,
		cfg:    applyOptions(opts),
	}
	c.waitGroup.Add(1)
	go c.run()
	return c, nil
}

func (c *sqliteCache) queryCtx(parent context.Context) (context.Context, context.CancelFunc, error) {
	if c.ctx.Err() != nil {
		return nil, nil, ErrClosed
	}
	ctx, cancel := context.WithTimeout(parent, c.cfg.queryTimeout)
	return ctx, cancel, nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func (c *sqliteCache) GetContext(ctx context.Context, key string) (bool, any, error) {
	qctx, cancel, err := c.queryCtx(ctx)
	if err != nil {
		return false, nil, err
	}
	defer cancel()

	var data []byte
	var expiresAt int64
	err = c.db.QueryRowContext(qctx, `SELECT value, expires_at FROM cache WHERE key = ?`, key).Scan(&data, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, errors.Wrapf(err, "cache: get %q", key)
	}
	if expiresAt != 0 && expiresAt < time.Now().UnixNano() {
		_, _ = c.db.ExecContext(qctx, `DELETE FROM cache WHERE key = ?`, key)
		return false, nil, nil
	}
	return true, data, nil
}

func (c *sqliteCache) SetContext(ctx context.Context, key string, val any, expires time.Duration) error {
	data, err := msgpack.Marshal(val)
	if err != nil {
		return errors.Wrapf(err, "cache: marshal %q", key)
	}
	qctx, cancel, err := c.queryCtx(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	expiresAt := unixNano(c.cfg.expiresAt(time.Now(), expires))
	_, err = c.db.ExecContext(qctx,
		`INSERT INTO cache (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, data, expiresAt,
	)
	return errors.Wrapf(err, "cache: set %q", key)
}

func (c *sqliteCache) ExpireContext(ctx context.Context, key string) (bool, error) {
	qctx, cancel, err := c.queryCtx(ctx)
	if err != nil {
		return false, err
	}
	defer cancel()
	result, err := c.db.ExecContext(qctx, `DELETE FROM cache WHERE key = ?`, key)
	if err != nil {
		return false, errors.Wrapf(err, "cache: expire %q", key)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (c *sqliteCache) KeysContext(ctx context.Context, prefix string) ([]string, error) {
	qctx, cancel, err := c.queryCtx(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	rows, err := c.db.QueryContext(qctx,
		`SELECT key FROM cache WHERE substr(key, 1, ?) = ? AND (expires_at = 0 OR expires_at >= ?) ORDER BY key`,
		utf8.RuneCountInString(prefix), prefix, time.Now().UnixNano(),
	)
	if err != nil {
		return nil, errors.Wrap(err, "cache: list keys")
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (c *sqliteCache) ExpirePrefixContext(ctx context.Context, prefix string) (int, error) {
	qctx, cancel, err := c.queryCtx(ctx)
	if err != nil {
		return 0, err
	}
	defer cancel()
	result, err := c.db.ExecContext(qctx, `DELETE FROM cache WHERE substr(key, 1, ?) = ?`, utf8.RuneCountInString(prefix), prefix)
	if err != nil {
		return 0, errors.Wrap(err, "cache: expire prefix")
	}
	rows, err := result.RowsAffected()
	return int(rows), err
}

func (c *sqliteCache) CloseContext(_ context.Context) error {
	var dbErr error
	c.once.Do(func() {
		c.cancel()
		c.waitGroup.Wait()
		dbErr = c.db.Close()
	})
	return dbErr
}

func (c *sqliteCache) run() {
	defer c.waitGroup.Done()
	ticker := time.NewTicker(c.cfg.expiryCheck)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case now := <-ticker.C:
			_, _ = c.db.ExecContext(c.ctx, `DELETE FROM cache WHERE expires_at != 0 AND expires_at < ?`, now.UnixNano())
		}
	}
}
