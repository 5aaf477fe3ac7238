package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"
)

// ErrCorruptDatabase indicates the on-disk store failed its integrity
// probe and was moved aside.
var ErrCorruptDatabase = errors.New("database: corrupt database")

// IntegrityProbe inspects a freshly opened database and reports whether it
// is usable. The recorder supplies a probe combining a structural sanity
// check with its clean-shutdown marker.
type IntegrityProbe func(ctx context.Context, db *DB) error

// SanityCheck verifies the store is structurally readable by selecting
// from each named table. A brand-new database (no tables yet) passes,
// since schema creation happens later in startup.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Open database to probe
//   - tables: Table names to probe; missing tables are skipped
//
// Returns:
//   - error: Wrapping the first read failure on an existing table
func SanityCheck(ctx context.Context, db *DB, tables ...string) error {
	for _, table := range tables {
		var name string
		err := db.QueryRowContext(ctx,
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			// sqlite_master itself unreadable: the file is damaged.
			return fmt.Errorf("reading schema for %s: %w", table, err)
		}

		// Limit 1 keeps the probe cheap; a damaged page still surfaces as
		// a read error.
		rows, err := db.DB.QueryContext(ctx, "SELECT * FROM "+table+" LIMIT 1") //nolint:gosec // Table names come from the recorder's fixed schema
		if err != nil {
			return fmt.Errorf("probing table %s: %w", table, err)
		}
		for rows.Next() {
		}
		if err := rows.Err(); err != nil {
			rows.Close() //nolint:errcheck // Best effort cleanup on error path
			return fmt.Errorf("reading table %s: %w", table, err)
		}
		if err := rows.Close(); err != nil {
			return fmt.Errorf("closing probe of %s: %w", table, err)
		}
	}
	return nil
}

// MoveAway renames a damaged database file (and its WAL/SHM sidecars) to
// "<path>.corrupt.<timestamp>", preserving the data for post-mortem
// inspection. The store is never silently deleted.
//
// Parameters:
//   - path: Database file path
//
// Returns:
//   - string: The path the file was moved to
//   - error: If the rename fails
func MoveAway(path string) (string, error) {
	target := fmt.Sprintf("%s.corrupt.%s", path, time.Now().UTC().Format("2006-01-02T15.04.05"))

	if err := os.Rename(path, target); err != nil {
		return "", fmt.Errorf("moving corrupt database aside: %w", err)
	}

	// Sidecars must move with the main file or SQLite will try to replay
	// a WAL that belongs to the damaged store.
	for _, suffix := range []string{"-wal", "-shm"} {
		src := path + suffix
		if _, err := os.Stat(src); err == nil {
			_ = os.Rename(src, target+suffix) //nolint:errcheck // Best effort; main file already preserved
		}
	}

	return target, nil
}

// OpenWithRecovery opens the database and runs the supplied integrity
// probe. A failing probe moves the damaged file aside via MoveAway and
// opens a fresh empty store at the same path, so startup can continue
// with history lost but live state tracking intact.
//
// Parameters:
//   - cfg: Database configuration
//   - probe: Integrity probe; nil skips probing
//
// Returns:
//   - *DB: Usable database (fresh one after recovery)
//   - string: Path the corrupt file was moved to, empty when no recovery happened
//   - error: If opening fails outright
func OpenWithRecovery(cfg Config, probe IntegrityProbe) (*DB, string, error) {
	db, err := Open(cfg)
	if err != nil {
		// A file so damaged the connection cannot even be verified gets
		// the same treatment as a failed probe. Anything else (missing
		// directory permissions and the like) propagates.
		if _, statErr := os.Stat(cfg.Path); statErr != nil {
			return nil, "", err
		}
		movedTo, moveErr := MoveAway(cfg.Path)
		if moveErr != nil {
			return nil, "", fmt.Errorf("%w: %v (open: %v)", ErrCorruptDatabase, moveErr, err)
		}
		fresh, err := Open(cfg)
		if err != nil {
			return nil, movedTo, fmt.Errorf("recreating database after recovery: %w", err)
		}
		return fresh, movedTo, nil
	}
	if probe == nil {
		return db, "", nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
	defer cancel()

	probeErr := probe(ctx, db)
	if probeErr == nil {
		return db, "", nil
	}

	if err := db.Close(); err != nil {
		return nil, "", fmt.Errorf("closing corrupt database: %w", err)
	}

	movedTo, err := MoveAway(cfg.Path)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v (probe: %v)", ErrCorruptDatabase, err, probeErr)
	}

	fresh, err := Open(cfg)
	if err != nil {
		return nil, movedTo, fmt.Errorf("recreating database after recovery: %w", err)
	}

	return fresh, movedTo, nil
}
