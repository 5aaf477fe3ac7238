package recorder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hearthlab/hearth-core/internal/infrastructure/database"
)

// restartGraceWindow is how long after an end-of-run marker a restart may
// happen before the store is considered to have been shut down long ago.
// A missing or old end marker on its own is not proof of damage; it only
// fails the integrity probe in combination with the sanity check.
const restartGraceWindow = 48 * time.Hour

// timeFormat is the canonical timestamp encoding for recorder rows. The
// fractional part is fixed-width so lexicographic order on the stored
// strings matches time order; a trimming format like RFC3339Nano would
// sort "10:00:00Z" after "10:00:00.5Z" and corrupt window queries.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// startRun opens a new recorder_runs row and marks any previous unclosed
// runs as closed incorrectly.
//
// Returns:
//   - int64: The new run's row ID
//   - error: If bookkeeping writes fail
func startRun(ctx context.Context, db *database.DB) (int64, error) {
	if _, err := db.ExecContext(ctx,
		`UPDATE recorder_runs SET closed_incorrectly = 1 WHERE "end" IS NULL`,
	); err != nil {
		return 0, fmt.Errorf("marking unclosed runs: %w", err)
	}

	res, err := db.ExecContext(ctx,
		"INSERT INTO recorder_runs (start) VALUES (?)",
		time.Now().UTC().Format(timeFormat),
	)
	if err != nil {
		return 0, fmt.Errorf("starting recorder run: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading run id: %w", err)
	}
	return id, nil
}

// endRun stamps the end-of-run marker for a clean shutdown. The marker is
// what lastRunWasRecentlyClean checks at next startup.
func endRun(ctx context.Context, db *database.DB, runID int64) error {
	_, err := db.ExecContext(ctx,
		`UPDATE recorder_runs SET "end" = ? WHERE run_id = ?`,
		time.Now().UTC().Format(timeFormat), runID,
	)
	if err != nil {
		return fmt.Errorf("ending recorder run: %w", err)
	}
	return nil
}

// lastRunWasRecentlyClean reports whether the most recent recorder run
// has an end-of-run marker within the restart grace window. A store with
// no runs at all counts as clean (first boot).
func lastRunWasRecentlyClean(ctx context.Context, db *database.DB) (bool, error) {
	var end sql.NullString
	err := db.QueryRowContext(ctx,
		`SELECT "end" FROM recorder_runs ORDER BY run_id DESC LIMIT 1`,
	).Scan(&end)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading last run: %w", err)
	}

	if !end.Valid {
		return false, nil
	}

	endTime, err := time.Parse(timeFormat, end.String)
	if err != nil {
		return false, fmt.Errorf("parsing run end %q: %w", end.String, err)
	}
	return time.Since(endTime) <= restartGraceWindow, nil
}
