package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"github.com/pressly/goose/v3"
	"golang.org/x/sync/singleflight"

	"github.com/darasa-app/darasa/internal/common"
	"github.com/darasa-app/darasa/internal/logging"
)

// gooseMu serializes goose runs: SetBaseFS and SetDialect are global.
var gooseMu sync.Mutex

func runMigrations(ctx context.Context, db *sql.DB, migrations fs.FS) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	return goose.UpContext(ctx, db, ".")
}

// Conn is an explicit pool-of-one around a single sqlite database: the
// first caller opens it (running migrations), concurrent callers await
// the same in-flight open, and every later caller reuses the handle.
// Open partitions hold a reference; Close refuses to tear the handle
// down while references remain, Reset tears it down unconditionally.
//
// If the database cannot be opened or migrated the Conn flips to
// degraded mode: acquire returns ErrStoreUnavailable from then on and
// the owning Store serves an in-memory fallback instead.
type Conn struct {
	dsn        string
	migrations fs.FS
	log        logging.Logger

	sf singleflight.Group

	mu       sync.Mutex
	db       *sql.DB
	refs     int
	degraded bool
}

// NewConn prepares a connection for the database at dsn. Nothing is
// opened until the first acquire.
func NewConn(dsn string, migrations fs.FS, log logging.Logger) *Conn {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Conn{dsn: dsn, migrations: migrations, log: log}
}

// acquire returns the open database handle, opening and migrating it on
// first use. Concurrent first acquires share one open via singleflight,
// so a schema upgrade in progress is never raced by a second open.
func (c *Conn) acquire(ctx context.Context) (*sql.DB, error) {
	c.mu.Lock()
	if c.db != nil {
		db := c.db
		c.mu.Unlock()
		return db, nil
	}
	if c.degraded {
		c.mu.Unlock()
		return nil, common.ErrStoreUnavailable
	}
	c.mu.Unlock()

	_, err, _ := c.sf.Do("open", func() (any, error) {
		db, err := sql.Open("sqlite", c.dsn)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", c.dsn, err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ping %s: %w", c.dsn, err)
		}
		if c.migrations != nil {
			if err := runMigrations(ctx, db, c.migrations); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("migrate %s: %w", c.dsn, err)
			}
		}
		c.mu.Lock()
		c.db = db
		c.mu.Unlock()
		return db, nil
	})
	if err != nil {
		c.mu.Lock()
		first := !c.degraded
		c.degraded = true
		c.mu.Unlock()
		if first {
			c.log.Warn(ctx, "local store unavailable, degrading to in-memory cache",
				"dsn", c.dsn, "error", err)
		}
		return nil, fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
	}

	c.mu.Lock()
	db := c.db
	c.mu.Unlock()
	return db, nil
}

// DB returns the open database handle for repositories that need richer
// SQL than the partition API (the results table). It shares the same
// memoized open as partition operations.
func (c *Conn) DB(ctx context.Context) (*sql.DB, error) {
	return c.acquire(ctx)
}

func (c *Conn) retain() {
	c.mu.Lock()
	c.refs++
	c.mu.Unlock()
}

func (c *Conn) release() {
	c.mu.Lock()
	if c.refs > 0 {
		c.refs--
	}
	c.mu.Unlock()
}

// Degrade flips the connection to degraded after an operation on an
// already-open handle failed (disk full, I/O error, schema tampering).
// The handle is closed; every later acquire returns ErrStoreUnavailable
// and the owning Store serves memory only. It reports whether the
// failure was absorbed; context cancellation is the caller's own error
// and never degrades the connection.
func (c *Conn) Degrade(ctx context.Context, err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	c.mu.Lock()
	first := !c.degraded
	c.degraded = true
	_ = c.closeLocked()
	c.mu.Unlock()

	if first {
		c.log.Warn(ctx, "local store failed mid-session, degrading to in-memory cache",
			"dsn", c.dsn, "error", err)
	}
	return true
}

// Degraded reports whether the connection has fallen back to memory-only.
func (c *Conn) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded
}

// Close releases the database handle. It fails while partitions still
// hold references; use Reset to force.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refs > 0 {
		return fmt.Errorf("conn has %d open partitions", c.refs)
	}
	return c.closeLocked()
}

// Reset closes the handle unconditionally and clears the degraded flag,
// so the next acquire attempts a fresh open. Intended for tests and for
// recovery after the underlying storage becomes writable again.
func (c *Conn) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refs = 0
	c.degraded = false
	return c.closeLocked()
}

func (c *Conn) closeLocked() error {
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}
