// Package state implements the authoritative in-memory store of current
// entity states.
//
// Integrations report data into the core through exactly one call,
// Store.Set, and everything downstream (recorder, trigger matching,
// telemetry export, API clients) observes the resulting state_changed
// events on the bus rather than reaching into the store.
//
// # Semantics
//
//   - States are immutable snapshots. Writes build a fresh State; reads
//     return deep copies.
//   - last_changed moves only when the primary value changes;
//     last_updated moves on every write. An attribute-only update
//     therefore bumps last_updated while last_changed stays put.
//   - Removal publishes a state_changed event with a nil new state.
//   - For a single entity, subscribers see state_changed events in the
//     order the writes were issued. No cross-entity ordering is promised.
//
// Entity IDs follow "<domain>.<object_id>" and are case-insensitive; the
// store normalises them to lowercase.
package state
