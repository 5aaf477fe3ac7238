// Package database provides SQLite connectivity for the Hearth recorder.
//
// This package manages:
//   - Database connection with WAL mode for concurrent access
//   - Connection pooling and lifecycle management (single writer)
//   - Startup integrity probing and corrupt-file recovery
//
// Corruption Recovery:
//
// The recorder supplies an IntegrityProbe combining a structural sanity
// check with its clean-shutdown marker. When the probe fails at startup
// the damaged file is renamed to "<path>.corrupt.<timestamp>" (WAL/SHM
// sidecars included) and a fresh store is created at the same path. The
// old data is preserved for inspection, never deleted.
//
// Security Considerations:
//   - All queries use parameterised statements (no SQL injection)
//   - Database file permissions are set to 0600 (owner read/write only)
//
// Usage:
//
//	db, movedTo, err := database.OpenWithRecovery(cfg, probe)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//	if movedTo != "" {
//	    log.Warn("recovered from corrupt database", "moved_to", movedTo)
//	}
//
// Schema management lives with the recorder, which applies its versioned
// migration steps after the connection is established.
package database
