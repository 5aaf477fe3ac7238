package recorder

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

// retryPolicy is the single place transient database failures are
// handled. Every recorder write path goes through execWithRetry rather
// than retrying ad hoc at each call site.
type retryPolicy struct {
	attempts int
	backoff  time.Duration
}

// execWithRetry runs op, retrying transient failures with a fixed backoff
// between attempts. Non-transient errors return immediately. When the
// attempts are exhausted the last error is returned; callers log it and
// abandon the write rather than crashing the host.
//
// Parameters:
//   - ctx: Cancelling the context stops further attempts
//   - op: The write to attempt
//
// Returns:
//   - error: nil on success, ctx.Err() on cancellation, else the last failure
func (p retryPolicy) execWithRetry(ctx context.Context, op func() error) error {
	var lastErr error
	for attempt := 0; attempt <= p.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.backoff):
			}
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

// isRetryable classifies an error as a transient database condition worth
// retrying: lock contention (SQLITE_BUSY, SQLITE_LOCKED) or a closed or
// stale connection.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}

	if errors.Is(err, sql.ErrConnDone) {
		return true
	}

	// database/sql wraps some driver failures in plain strings.
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "connection is already closed")
}
