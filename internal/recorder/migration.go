package recorder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hearthlab/hearth-core/internal/infrastructure/database"
)

// setupSchema brings the store to the current schema version.
//
// Resolution order:
//  1. A schema_changes row exists: apply the missing steps sequentially.
//  2. No version row but the store is empty: create the full current
//     schema and stamp it.
//  3. No version row but event tables exist: inspect physical artifacts.
//     The entity-id index is created by full schema creation, so its
//     presence means a store created fresh at the current version whose
//     version row went missing (stamp current); its absence means a
//     pre-versioning legacy store (treat as version 0 and migrate from
//     the start).
//
// Each step commits together with its schema_changes row, so a crash
// between steps resumes exactly where it left off.
func setupSchema(ctx context.Context, db *database.DB, logger Logger) error {
	if _, err := db.ExecContext(ctx, createSchemaChangesTable); err != nil {
		return fmt.Errorf("%w: creating schema_changes: %v", ErrSchemaMigration, err)
	}

	version, err := inspectSchemaVersion(ctx, db)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaMigration, err)
	}

	if version < 0 {
		// Brand-new store: build everything at once.
		if err := applyInTx(ctx, db, schemaVersion, createFullSchema); err != nil {
			return fmt.Errorf("%w: %v", ErrSchemaMigration, err)
		}
		logger.Info("created recorder schema", "version", schemaVersion)
		return nil
	}

	if version == schemaVersion {
		return nil
	}
	if version > schemaVersion {
		return fmt.Errorf("%w: store version %d is newer than supported %d",
			ErrSchemaMigration, version, schemaVersion)
	}

	logger.Info("migrating recorder schema",
		"from_version", version,
		"to_version", schemaVersion,
	)

	for v := version + 1; v <= schemaVersion; v++ {
		step, ok := migrationSteps[v]
		if !ok {
			return fmt.Errorf("%w: no step for version %d", ErrSchemaMigration, v)
		}
		if err := applyInTx(ctx, db, v, step); err != nil {
			return fmt.Errorf("%w: step %d: %v", ErrSchemaMigration, v, err)
		}
		logger.Info("applied recorder migration", "version", v)
	}

	return nil
}

// inspectSchemaVersion determines the store's current version.
//
// Returns:
//   - int: Current version; 0 means legacy pre-versioning store, -1 means
//     brand-new empty store
//   - error: If inspection queries fail
func inspectSchemaVersion(ctx context.Context, db *database.DB) (int, error) {
	var version int
	err := db.QueryRowContext(ctx,
		"SELECT schema_version FROM schema_changes ORDER BY change_id DESC LIMIT 1",
	).Scan(&version)
	if err == nil {
		return version, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}

	// No version row. Decide between brand-new, lost-version, and legacy
	// from the physical artifacts.
	if exists, err := tableExists(ctx, db, "events"); err != nil {
		return 0, err
	} else if !exists {
		return -1, nil
	}

	var name string
	err = db.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='index' AND name=?", entityIDIndex,
	).Scan(&name)
	switch {
	case err == nil:
		// Index present: store was created at the current schema but the
		// version row went missing. Stamp and carry on.
		if err := stampVersion(ctx, db, schemaVersion); err != nil {
			return 0, err
		}
		return schemaVersion, nil
	case errors.Is(err, sql.ErrNoRows):
		return 0, nil
	default:
		return 0, fmt.Errorf("inspecting schema artifacts: %w", err)
	}
}

// applyInTx runs one migration step and stamps its version in a single
// transaction.
func applyInTx(ctx context.Context, db *database.DB, version int, step migrationStep) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit

	if err := step(ctx, tx); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_changes (schema_version) VALUES (?)", version,
	); err != nil {
		return fmt.Errorf("stamping version %d: %w", version, err)
	}

	return tx.Commit()
}

// stampVersion records a version outside the step machinery, used when
// artifact inspection concludes the store is already current.
func stampVersion(ctx context.Context, db *database.DB, version int) error {
	_, err := db.ExecContext(ctx,
		"INSERT INTO schema_changes (schema_version) VALUES (?)", version)
	if err != nil {
		return fmt.Errorf("stamping version %d: %w", version, err)
	}
	return nil
}

// tableExists checks sqlite_master for a table.
func tableExists(ctx context.Context, db *database.DB, table string) (bool, error) {
	var name string
	err := db.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
	).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking table %s: %w", table, err)
	}
	return true, nil
}
