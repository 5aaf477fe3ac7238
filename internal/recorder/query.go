package recorder

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Query tuning. Windows wider than streamWindowThreshold are read in
// chunks so the cursor never holds an unbounded result set.
const (
	streamWindowThreshold = 24 * time.Hour
	streamChunkSize       = 500
)

// HistoryEntry is one recorded state change read back from the store.
type HistoryEntry struct {
	EventID    int64          `json:"event_id"`
	EntityID   string         `json:"entity_id"`
	Value      string         `json:"state"`
	Attributes map[string]any `json:"attributes,omitempty"`
	TimeFired  time.Time      `json:"time_fired"`
	ContextID  string         `json:"context_id,omitempty"`
}

// StatesBetween returns all recorded states for an entity in
// [start, end), in recording order (which matches per-entity write
// order).
//
// Narrow windows are read in a single query. Windows wider than the
// streaming threshold are read through the chunked path to bound peak
// memory in the database layer; callers expecting very large result sets
// should prefer StreamStatesBetween and consume chunks incrementally.
func (r *Recorder) StatesBetween(ctx context.Context, entityID string, start, end time.Time) ([]HistoryEntry, error) {
	if end.Sub(start) <= streamWindowThreshold {
		return r.readStatesChunk(ctx, entityID, start, end, 0, 0)
	}

	var out []HistoryEntry
	err := r.StreamStatesBetween(ctx, entityID, start, end, func(chunk []HistoryEntry) error {
		out = append(out, chunk...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// StreamStatesBetween reads recorded states for an entity in [start, end)
// and hands them to fn in fixed-size chunks, in recording order.
// Returning an error from fn stops the stream.
//
// Chunks are fetched with keyset pagination, and the cursor for one chunk
// is fully closed before fn runs, so fn may safely issue its own queries
// against the store.
func (r *Recorder) StreamStatesBetween(ctx context.Context, entityID string, start, end time.Time, fn func([]HistoryEntry) error) error {
	var afterID int64
	for {
		chunk, err := r.readStatesChunk(ctx, entityID, start, end, afterID, streamChunkSize)
		if err != nil {
			return err
		}
		if len(chunk) == 0 {
			return nil
		}
		if err := fn(chunk); err != nil {
			return err
		}
		if len(chunk) < streamChunkSize {
			return nil
		}
		afterID = chunk[len(chunk)-1].EventID
	}
}

// readStatesChunk runs one window query. limit 0 means no limit; afterID
// restricts to rows with a larger event_id for pagination.
func (r *Recorder) readStatesChunk(ctx context.Context, entityID string, start, end time.Time, afterID int64, limit int) ([]HistoryEntry, error) {
	query := `
		SELECT e.event_id, e.entity_id, e.state, a.shared_attrs, e.time_fired, e.context_id
		FROM events e
		LEFT JOIN state_attributes a ON a.attributes_id = e.attributes_id
		WHERE e.event_type = 'state_changed'
		  AND e.entity_id = ? AND e.state IS NOT NULL
		  AND e.time_fired >= ? AND e.time_fired < ?
		  AND e.event_id > ?
		ORDER BY e.event_id`
	args := []any{entityID, start.UTC().Format(timeFormat), end.UTC().Format(timeFormat), afterID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying state history: %w", err)
	}

	var out []HistoryEntry
	for rows.Next() {
		var entry HistoryEntry
		var attrs, contextID sql.NullString
		var fired string
		if err := rows.Scan(&entry.EventID, &entry.EntityID, &entry.Value, &attrs, &fired, &contextID); err != nil {
			rows.Close() //nolint:errcheck // Best effort cleanup on error path
			return nil, fmt.Errorf("scanning state history: %w", err)
		}

		entry.TimeFired, err = time.Parse(timeFormat, fired)
		if err != nil {
			rows.Close() //nolint:errcheck // Best effort cleanup on error path
			return nil, fmt.Errorf("parsing time_fired %q: %w", fired, err)
		}
		entry.ContextID = contextID.String
		if attrs.Valid && attrs.String != "" {
			if err := json.Unmarshal([]byte(attrs.String), &entry.Attributes); err != nil {
				rows.Close() //nolint:errcheck // Best effort cleanup on error path
				return nil, fmt.Errorf("unmarshalling attributes: %w", err)
			}
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		rows.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("iterating state history: %w", err)
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("closing state history cursor: %w", err)
	}
	return out, nil
}
