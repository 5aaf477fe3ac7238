package database

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func openStore(t *testing.T, wal bool) *DB {
	t.Helper()
	db, err := Open(Config{
		Path:        filepath.Join(t.TempDir(), "history.db"),
		WALMode:     wal,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	return db
}

func TestOpen_CreatesFileAndParents(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "data", "store", "history.db")

	db, err := Open(Config{Path: dbPath, WALMode: true, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close() //nolint:errcheck // Test cleanup

	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("store file missing after Open: %v", err)
	}
	if db.Path() != dbPath {
		t.Errorf("Path() = %q, want %q", db.Path(), dbPath)
	}
}

// The dsn carries the pragmas the recorder relies on; verify the ones
// SQLite lets us read back.
func TestOpen_AppliesPragmas(t *testing.T) {
	db := openStore(t, true)
	ctx := context.Background()

	var mode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("reading journal_mode: %v", err)
	}
	if !strings.EqualFold(mode, "wal") {
		t.Errorf("journal_mode = %q, want wal", mode)
	}

	var fk int
	if err := db.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatalf("reading foreign_keys: %v", err)
	}
	if fk != 1 {
		t.Error("foreign_keys not enabled")
	}
}

func TestOpen_WithoutWAL(t *testing.T) {
	db := openStore(t, false)

	var mode string
	if err := db.QueryRowContext(context.Background(), "PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("reading journal_mode: %v", err)
	}
	if strings.EqualFold(mode, "wal") {
		t.Error("journal_mode = wal with WALMode disabled")
	}
}

func TestOpen_SingleConnectionPool(t *testing.T) {
	db := openStore(t, true)

	if got := db.Stats().MaxOpenConnections; got != 1 {
		t.Errorf("MaxOpenConnections = %d, want 1", got)
	}
}

func TestHealthCheck(t *testing.T) {
	db := openStore(t, true)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestClose_Idempotent(t *testing.T) {
	db, err := Open(Config{
		Path:        filepath.Join(t.TempDir(), "history.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if err := db.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	db.DB = nil
	if err := db.Close(); err != nil {
		t.Errorf("Close() after handle cleared error = %v", err)
	}
}

// The wrappers add error context; exercise the batch-write shape the
// recorder uses (create, insert in a tx, read back).
func TestTransactionCommitAndRollback(t *testing.T) {
	db := openStore(t, true)
	ctx := context.Background()

	if _, err := db.ExecContext(ctx,
		"CREATE TABLE samples (id INTEGER PRIMARY KEY, v TEXT NOT NULL)",
	); err != nil {
		t.Fatalf("creating table: %v", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("BeginTx() error = %v", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO samples (v) VALUES (?)", "kept"); err != nil {
		t.Fatalf("insert in tx: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	tx, err = db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("BeginTx() error = %v", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO samples (v) VALUES (?)", "dropped"); err != nil {
		t.Fatalf("insert in tx: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}

	var kept, dropped int
	if err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM samples WHERE v = 'kept'").Scan(&kept); err != nil {
		t.Fatalf("counting kept: %v", err)
	}
	if err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM samples WHERE v = 'dropped'").Scan(&dropped); err != nil {
		t.Fatalf("counting dropped: %v", err)
	}
	if kept != 1 || dropped != 0 {
		t.Errorf("kept = %d, dropped = %d; want 1, 0", kept, dropped)
	}
}

func TestExecContext_WrapsErrors(t *testing.T) {
	db := openStore(t, true)

	_, err := db.ExecContext(context.Background(), "INSERT INTO no_such_table DEFAULT VALUES")
	if err == nil {
		t.Fatal("ExecContext() on missing table should error")
	}
	if !strings.Contains(err.Error(), "executing query") {
		t.Errorf("error = %v, want executing query context", err)
	}
}

func TestOpen_OwnerOnlyPermissions(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	db, err := Open(Config{Path: dbPath, WALMode: true, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close() //nolint:errcheck // Test cleanup

	info, err := os.Stat(dbPath)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm&0077 != 0 {
		t.Errorf("store file mode = %o, want owner-only", perm)
	}
}
