package recorder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/hearthlab/hearth-core/internal/infrastructure/database"
)

// StatisticMeta describes one long-term statistic series: which entity it
// rolls up, its unit, and which aggregations it supports. The row id is
// stable once assigned and is what statistics rows reference.
type StatisticMeta struct {
	ID          int64
	StatisticID string
	Unit        string
	HasMean     bool
	HasSum      bool
}

// StatisticRow is one hourly rollup.
type StatisticRow struct {
	MetadataID int64
	Start      time.Time
	Mean       float64
	Min        float64
	Max        float64
}

// StatisticsMetaManager mediates access to statistics_meta with an
// in-memory statistic_id → row id cache. The cache is updated on insert
// and update and invalidated on delete, so repeated rollups never pay the
// lookup twice.
//
// Thread Safety: all methods are safe for concurrent use.
type StatisticsMetaManager struct {
	db *database.DB

	mu    sync.Mutex
	cache map[string]int64
}

// NewStatisticsMetaManager creates a metadata manager over db.
func NewStatisticsMetaManager(db *database.DB) *StatisticsMetaManager {
	return &StatisticsMetaManager{
		db:    db,
		cache: make(map[string]int64),
	}
}

// GetOrCreate resolves the row id for a statistic, creating the metadata
// row on first sight.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - meta: Desired metadata; ID is ignored on input
//
// Returns:
//   - int64: Stable metadata row id
//   - error: If lookup or insert fails
func (m *StatisticsMetaManager) GetOrCreate(ctx context.Context, meta StatisticMeta) (int64, error) {
	m.mu.Lock()
	id, ok := m.cache[meta.StatisticID]
	m.mu.Unlock()
	if ok {
		return id, nil
	}

	err := m.db.QueryRowContext(ctx,
		"SELECT id FROM statistics_meta WHERE statistic_id = ?", meta.StatisticID,
	).Scan(&id)
	switch {
	case err == nil:
	case errors.Is(err, sql.ErrNoRows):
		res, err := m.db.ExecContext(ctx,
			"INSERT INTO statistics_meta (statistic_id, unit, has_mean, has_sum) VALUES (?, ?, ?, ?)",
			meta.StatisticID, meta.Unit, meta.HasMean, meta.HasSum,
		)
		if err != nil {
			return 0, fmt.Errorf("inserting statistics metadata: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("reading metadata id: %w", err)
		}
	default:
		return 0, fmt.Errorf("looking up statistics metadata: %w", err)
	}

	m.mu.Lock()
	m.cache[meta.StatisticID] = id
	m.mu.Unlock()
	return id, nil
}

// Get returns the metadata for a statistic ID.
//
// Returns:
//   - error: ErrStatisticNotFound when no row exists
func (m *StatisticsMetaManager) Get(ctx context.Context, statisticID string) (*StatisticMeta, error) {
	meta := &StatisticMeta{}
	err := m.db.QueryRowContext(ctx,
		"SELECT id, statistic_id, unit, has_mean, has_sum FROM statistics_meta WHERE statistic_id = ?",
		statisticID,
	).Scan(&meta.ID, &meta.StatisticID, &meta.Unit, &meta.HasMean, &meta.HasSum)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrStatisticNotFound, statisticID)
	}
	if err != nil {
		return nil, fmt.Errorf("reading statistics metadata: %w", err)
	}

	m.mu.Lock()
	m.cache[meta.StatisticID] = meta.ID
	m.mu.Unlock()
	return meta, nil
}

// Update rewrites a statistic's unit and capability flags, keeping the
// cache current.
func (m *StatisticsMetaManager) Update(ctx context.Context, meta StatisticMeta) error {
	res, err := m.db.ExecContext(ctx,
		"UPDATE statistics_meta SET unit = ?, has_mean = ?, has_sum = ? WHERE statistic_id = ?",
		meta.Unit, meta.HasMean, meta.HasSum, meta.StatisticID,
	)
	if err != nil {
		return fmt.Errorf("updating statistics metadata: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrStatisticNotFound, meta.StatisticID)
	}

	var id int64
	if err := m.db.QueryRowContext(ctx,
		"SELECT id FROM statistics_meta WHERE statistic_id = ?", meta.StatisticID,
	).Scan(&id); err != nil {
		return fmt.Errorf("refreshing metadata cache: %w", err)
	}
	m.mu.Lock()
	m.cache[meta.StatisticID] = id
	m.mu.Unlock()
	return nil
}

// Delete removes a statistic's metadata row and evicts it from the cache.
// The caller is responsible for purging its statistics rows first.
func (m *StatisticsMetaManager) Delete(ctx context.Context, statisticID string) error {
	if _, err := m.db.ExecContext(ctx,
		"DELETE FROM statistics_meta WHERE statistic_id = ?", statisticID,
	); err != nil {
		return fmt.Errorf("deleting statistics metadata: %w", err)
	}

	m.mu.Lock()
	delete(m.cache, statisticID)
	m.mu.Unlock()
	return nil
}

// statisticsLoop periodically compiles rollups for the most recently
// completed hour.
func (r *Recorder) statisticsLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.StatisticsInterval)
	defer ticker.Stop()

	var lastCompiled time.Time
	for {
		select {
		case <-ticker.C:
			hour := r.now().UTC().Truncate(time.Hour).Add(-time.Hour)
			if !hour.After(lastCompiled) {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := r.CompileStatistics(ctx, hour); err != nil {
				r.logger.Warn("statistics compilation failed",
					"hour", hour,
					"error", err,
				)
			} else {
				lastCompiled = hour
			}
			cancel()
		case <-r.done:
			return
		}
	}
}

// CompileStatistics aggregates hourly mean/min/max per entity for every
// numeric state recorded in the hour starting at start. Non-numeric
// states are skipped. Recompiling an hour is idempotent: existing rows
// for the hour are replaced.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - start: Beginning of the hour to compile (truncated to the hour)
//
// Returns:
//   - error: If reading events or writing rollups fails
func (r *Recorder) CompileStatistics(ctx context.Context, start time.Time) error {
	start = start.UTC().Truncate(time.Hour)
	end := start.Add(time.Hour)

	rows, err := r.db.DB.QueryContext(ctx, `
		SELECT entity_id, state FROM events
		WHERE event_type = 'state_changed'
		  AND entity_id IS NOT NULL AND state IS NOT NULL
		  AND time_fired >= ? AND time_fired < ?`,
		start.Format(timeFormat), end.Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("reading events for statistics: %w", err)
	}

	type agg struct {
		sum, min, max float64
		count         int
	}
	aggs := make(map[string]*agg)
	for rows.Next() {
		var entityID, stateValue string
		if err := rows.Scan(&entityID, &stateValue); err != nil {
			rows.Close() //nolint:errcheck // Best effort cleanup on error path
			return fmt.Errorf("scanning event: %w", err)
		}
		v, err := strconv.ParseFloat(stateValue, 64)
		if err != nil {
			continue
		}
		a, ok := aggs[entityID]
		if !ok {
			a = &agg{min: v, max: v}
			aggs[entityID] = a
		}
		a.sum += v
		a.count++
		if v < a.min {
			a.min = v
		}
		if v > a.max {
			a.max = v
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close() //nolint:errcheck // Best effort cleanup on error path
		return fmt.Errorf("iterating events: %w", err)
	}
	// The cursor must release the single pooled connection before any
	// write below can begin.
	if err := rows.Close(); err != nil {
		return fmt.Errorf("closing event cursor: %w", err)
	}
	if len(aggs) == 0 {
		return nil
	}

	entities := make([]string, 0, len(aggs))
	for entityID := range aggs {
		entities = append(entities, entityID)
	}
	sort.Strings(entities)

	// Metadata ids must be resolved before the transaction starts: the
	// pool holds a single connection, so a manager query issued while the
	// transaction owns it would wait forever.
	metaIDs := make(map[string]int64, len(entities))
	for _, entityID := range entities {
		metaID, err := r.meta.GetOrCreate(ctx, StatisticMeta{
			StatisticID: entityID,
			HasMean:     true,
		})
		if err != nil {
			return err
		}
		metaIDs[entityID] = metaID
	}

	return r.policy.execWithRetry(ctx, func() error {
		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback() //nolint:errcheck // No-op after commit

		for _, entityID := range entities {
			a := aggs[entityID]
			metaID := metaIDs[entityID]

			if _, err := tx.ExecContext(ctx,
				"DELETE FROM statistics WHERE metadata_id = ? AND start = ?",
				metaID, start.Format(timeFormat),
			); err != nil {
				return fmt.Errorf("replacing rollup: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO statistics (metadata_id, start, mean, min, max) VALUES (?, ?, ?, ?, ?)",
				metaID, start.Format(timeFormat), a.sum/float64(a.count), a.min, a.max,
			); err != nil {
				return fmt.Errorf("inserting rollup: %w", err)
			}
		}

		return tx.Commit()
	})
}

// Statistics returns the stored rollups for a statistic ID ordered by
// period start.
func (r *Recorder) Statistics(ctx context.Context, statisticID string) ([]StatisticRow, error) {
	meta, err := r.meta.Get(ctx, statisticID)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.DB.QueryContext(ctx,
		"SELECT metadata_id, start, mean, min, max FROM statistics WHERE metadata_id = ? ORDER BY start",
		meta.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("reading statistics: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only cursor

	var out []StatisticRow
	for rows.Next() {
		var row StatisticRow
		var startStr string
		if err := rows.Scan(&row.MetadataID, &startStr, &row.Mean, &row.Min, &row.Max); err != nil {
			return nil, fmt.Errorf("scanning statistic: %w", err)
		}
		row.Start, err = time.Parse(timeFormat, startStr)
		if err != nil {
			return nil, fmt.Errorf("parsing statistic start: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating statistics: %w", err)
	}
	return out, nil
}
