package recorder

import (
	"context"
	"database/sql"
	"fmt"
)

// schemaVersion is the current recorder schema revision. Bump it when
// appending a migration step.
const schemaVersion = 3

// entityIDIndex is the physical artifact used to recognise a store that
// was created fresh at the current schema but lost its version row.
const entityIDIndex = "ix_events_entity_id_time_fired"

// Core tables. Created in full for a brand-new store; legacy stores reach
// the same shape through the migration steps below.
const (
	createSchemaChangesTable = `
CREATE TABLE IF NOT EXISTS schema_changes (
	change_id INTEGER PRIMARY KEY AUTOINCREMENT,
	schema_version INTEGER NOT NULL,
	changed TEXT NOT NULL DEFAULT (datetime('now'))
)`

	createEventsTable = `
CREATE TABLE IF NOT EXISTS events (
	event_id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	time_fired TEXT NOT NULL,
	entity_id TEXT,
	state TEXT,
	attributes_id INTEGER REFERENCES state_attributes(attributes_id),
	context_id TEXT,
	context_user_id TEXT,
	context_parent_id TEXT
)`

	createStateAttributesTable = `
CREATE TABLE IF NOT EXISTS state_attributes (
	attributes_id INTEGER PRIMARY KEY AUTOINCREMENT,
	hash TEXT NOT NULL UNIQUE,
	shared_attrs TEXT NOT NULL
)`

	createRecorderRunsTable = `
CREATE TABLE IF NOT EXISTS recorder_runs (
	run_id INTEGER PRIMARY KEY AUTOINCREMENT,
	start TEXT NOT NULL,
	"end" TEXT,
	closed_incorrectly INTEGER NOT NULL DEFAULT 0
)`

	createEntityIDIndex = `
CREATE INDEX IF NOT EXISTS ix_events_entity_id_time_fired
	ON events (entity_id, time_fired)`

	// The v1-era event log predates the context_user_id and
	// context_parent_id columns; the v3 step adds them. Stores migrating
	// from v1 must go through the real delta, not a re-creation of the
	// current shape.
	createEventsTableV1 = `
CREATE TABLE IF NOT EXISTS events (
	event_id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	time_fired TEXT NOT NULL,
	entity_id TEXT,
	state TEXT,
	attributes_id INTEGER REFERENCES state_attributes(attributes_id),
	context_id TEXT
)`

	createStatisticsMetaTable = `
CREATE TABLE IF NOT EXISTS statistics_meta (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	statistic_id TEXT NOT NULL UNIQUE,
	unit TEXT,
	has_mean INTEGER NOT NULL DEFAULT 0,
	has_sum INTEGER NOT NULL DEFAULT 0
)`

	createStatisticsTable = `
CREATE TABLE IF NOT EXISTS statistics (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	metadata_id INTEGER NOT NULL REFERENCES statistics_meta(id),
	start TEXT NOT NULL,
	mean REAL,
	min REAL,
	max REAL
)`

	createStatisticsStartIndex = `
CREATE INDEX IF NOT EXISTS ix_statistics_metadata_id_start
	ON statistics (metadata_id, start)`
)

// migrationStep applies the delta from version-1 to version inside tx.
type migrationStep func(ctx context.Context, tx *sql.Tx) error

// migrationSteps maps a target version to its step. Steps run strictly in
// increasing order; each is committed together with its schema_changes row
// so a crash resumes at the right step.
var migrationSteps = map[int]migrationStep{
	1: migrateToV1,
	2: migrateToV2,
	3: migrateToV3,
}

// migrateToV1 creates the original event log tables, in their v1 shape.
func migrateToV1(ctx context.Context, tx *sql.Tx) error {
	for _, stmt := range []string{
		createStateAttributesTable,
		createEventsTableV1,
		createRecorderRunsTable,
		createEntityIDIndex,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating v1 schema: %w", err)
		}
	}
	return nil
}

// migrateToV2 adds long-term statistics storage.
func migrateToV2(ctx context.Context, tx *sql.Tx) error {
	for _, stmt := range []string{
		createStatisticsMetaTable,
		createStatisticsTable,
		createStatisticsStartIndex,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating v2 schema: %w", err)
		}
	}
	return nil
}

// migrateToV3 adds causal context columns to the event log. Columns are
// nullable so the step is additive and cheap on large stores.
func migrateToV3(ctx context.Context, tx *sql.Tx) error {
	for _, column := range []string{"context_user_id", "context_parent_id"} {
		_, err := tx.ExecContext(ctx,
			fmt.Sprintf("ALTER TABLE events ADD COLUMN %s TEXT", column)) //nolint:gosec // Column names are compile-time constants
		if err != nil {
			return fmt.Errorf("adding events.%s: %w", column, err)
		}
	}
	return nil
}

// createFullSchema builds the complete current schema for a brand-new
// store in one transaction.
func createFullSchema(ctx context.Context, tx *sql.Tx) error {
	for _, stmt := range []string{
		createSchemaChangesTable,
		createStateAttributesTable,
		createEventsTable,
		createRecorderRunsTable,
		createEntityIDIndex,
		createStatisticsMetaTable,
		createStatisticsTable,
		createStatisticsStartIndex,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
	}
	return nil
}
