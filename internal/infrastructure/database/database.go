package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	dirPermissions  = 0750
	filePermissions = 0600

	// openTimeout bounds the connectivity check during Open.
	openTimeout = 5 * time.Second

	// walCheckpointPages spaces automatic WAL checkpoints further apart
	// than the SQLite default, so a checkpoint does not land in the
	// middle of a recorder batch commit.
	walCheckpointPages = 4000

	// cacheKiB is the page cache size. The history store's range reads
	// walk time-ordered indexes, which reward a cache larger than the
	// SQLite default 2 MiB.
	cacheKiB = 8192
)

// DB is the handle to the history store file. It embeds sql.DB and adds
// the lifecycle pieces the recorder needs: a remembered path for
// corruption recovery, a health check, and wrapped statement helpers
// with uniform error context.
type DB struct {
	*sql.DB
	path string
}

// Config mirrors the database section of config.yaml.
type Config struct {
	// Path to the SQLite file. Parent directories are created on Open.
	Path string

	// WALMode turns on write-ahead logging. The recorder wants this:
	// history reads keep working while a batch commit is in flight.
	WALMode bool

	// BusyTimeout is how long a statement waits on a locked database,
	// in seconds.
	BusyTimeout int
}

// dsn renders the go-sqlite3 connection string for this configuration.
//
// The history store is written by exactly one goroutine in batched
// transactions and read by API queries, so the pragmas lean towards
// that shape: immediate transactions (the writer never needs to
// upgrade a lock mid-batch), a larger page cache, and in WAL mode a
// relaxed sync level plus wider checkpoint spacing.
func (c Config) dsn() string {
	s := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on&_txlock=immediate&_cache_size=-%d",
		c.Path, c.BusyTimeout*1000, cacheKiB)
	if c.WALMode {
		s += fmt.Sprintf("&_journal_mode=WAL&_synchronous=NORMAL&_wal_autocheckpoint=%d", walCheckpointPages)
	}
	return s
}

// Open opens (creating if absent) the history store at cfg.Path and
// verifies it answers before returning. The file is chmodded to
// owner-only; state history is personal data.
func Open(cfg Config) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), dirPermissions); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite3", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One connection total. SQLite allows a single writer, and funnelling
	// readers through the same connection keeps them on the same WAL
	// snapshot as the recorder's commits.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	db := &DB{DB: sqlDB, path: cfg.Path}

	ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		sqlDB.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}

	// The file may not exist until the first write; ignore failure then.
	_ = os.Chmod(cfg.Path, filePermissions) //nolint:errcheck // First run creates the file later

	return db, nil
}

// Close releases the underlying connection. Safe on a DB whose handle
// was already cleared.
func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// Path returns the filesystem path the store was opened at. Corruption
// recovery uses it to move a broken file aside.
func (db *DB) Path() string {
	return db.path
}

// HealthCheck confirms the store answers a trivial read.
func (db *DB) HealthCheck(ctx context.Context) error {
	var v int
	if err := db.QueryRowContext(ctx, "PRAGMA schema_version").Scan(&v); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// Stats exposes the connection pool counters for diagnostics.
func (db *DB) Stats() sql.DBStats {
	return db.DB.Stats()
}

// ExecContext runs a statement that returns no rows, wrapping any
// failure with context.
func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := db.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}
	return res, nil
}

// QueryRowContext runs a single-row query. Errors surface on Scan, per
// database/sql convention.
func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return db.DB.QueryRowContext(ctx, query, args...)
}

// BeginTx starts a transaction. With _txlock=immediate the write lock
// is taken here rather than at the first write inside the transaction.
func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	tx, err := db.DB.BeginTx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	return tx, nil
}
