// Package recorder persists bus events as durable, queryable history.
//
// The recorder subscribes to state_changed and other recordable event
// types, buffers them in memory, and flushes batches to SQLite from a
// single dedicated worker. Attribute payloads are content-addressed and
// deduplicated, since many state rows share identical attributes.
//
// # Schema lifecycle
//
// The store carries a schema version in the schema_changes table.
// Migration steps apply strictly in increasing order, each committed
// together with its version stamp so an interrupted migration resumes at
// the right step. A store with no version row is classified from its
// physical artifacts: a known index marks a current store whose version
// row was lost, its absence marks a legacy store that migrates from the
// beginning.
//
// # Failure semantics
//
// The recorder degrades, never crashes the host:
//
//   - A corrupt store is detected at startup (sanity check plus the
//     recorder_runs clean-shutdown marker), renamed aside with a
//     .corrupt.<timestamp> suffix and recreated fresh.
//   - Transient write failures (SQLITE_BUSY, SQLITE_LOCKED, stale
//     connections) retry with a fixed backoff; exhaustion abandons the
//     batch with a warning.
//   - An irrecoverable migration failure stops the recorder from
//     starting; live state and automations keep working without history.
//
// # Statistics
//
// Hourly mean/min/max rollups are compiled per numeric entity into the
// statistics table, with series metadata (unit, capability flags) kept in
// statistics_meta behind an id cache.
package recorder
