package recorder

import "errors"

// Sentinel errors for the recorder subsystem.
// Use errors.Is() to check error types.
var (
	// ErrSchemaMigration indicates a migration step failed irrecoverably.
	// The recorder refuses to start; live state tracking continues.
	ErrSchemaMigration = errors.New("recorder: schema migration failed")

	// ErrStopped indicates an operation was attempted after Close.
	ErrStopped = errors.New("recorder: stopped")

	// ErrStatisticNotFound indicates no metadata row exists for the
	// requested statistic ID.
	ErrStatisticNotFound = errors.New("recorder: statistic not found")
)
