package recorder

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/hearthlab/hearth-core/internal/bus"
	"github.com/hearthlab/hearth-core/internal/infrastructure/database"
	"github.com/hearthlab/hearth-core/internal/state"
)

// Logger defines the logging interface used by the Recorder.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// queueSize is the ingestion buffer between bus delivery and the flush
// worker. Events beyond this are dropped with a warning; history is a
// best-effort record, never a reason to stall live state.
const queueSize = 4096

// recordedEventTypes are the bus events the recorder persists.
var recordedEventTypes = []bus.EventType{
	bus.EventStateChanged,
	bus.EventDeviceEvent,
	bus.EventAutomationTriggered,
}

// Config holds recorder tuning. Zero values are replaced with defaults in
// New.
type Config struct {
	BatchSize          int
	FlushInterval      time.Duration
	CommitRetries      int
	RetryBackoff       time.Duration
	StatisticsInterval time.Duration
}

// Recorder persists bus events to the SQLite history store.
//
// Ingestion is asynchronous: bus handlers enqueue onto an internal buffer
// and a single dedicated worker owns all database writes, which keeps the
// store free of transaction contention. The worker flushes a batch when
// it reaches the configured size or when the flush timer fires, whichever
// comes first. Shutdown drains the buffer (bounded by its capacity)
// before the final flush.
//
// All failure paths degrade gracefully: a recorder that cannot start or
// write leaves live state tracking and automations untouched.
type Recorder struct {
	db     *database.DB
	bus    *bus.Bus
	cfg    Config
	policy retryPolicy
	attrs  *attributesCache
	meta   *StatisticsMetaManager

	runID int64
	subs  []*bus.Subscription
	queue chan bus.Event
	done  chan struct{}
	wg    sync.WaitGroup

	mu      sync.Mutex
	started bool
	closed  bool

	logger Logger
	now    func() time.Time
}

// New creates a recorder writing to db and listening on b.
func New(db *database.DB, b *bus.Bus, cfg Config) *Recorder {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 250 * time.Millisecond
	}
	if cfg.StatisticsInterval <= 0 {
		cfg.StatisticsInterval = 5 * time.Minute
	}

	r := &Recorder{
		db:     db,
		bus:    b,
		cfg:    cfg,
		policy: retryPolicy{attempts: cfg.CommitRetries, backoff: cfg.RetryBackoff},
		attrs:  newAttributesCache(),
		queue:  make(chan bus.Event, queueSize),
		done:   make(chan struct{}),
		logger: noopLogger{},
		now:    time.Now,
	}
	r.meta = NewStatisticsMetaManager(db)
	return r
}

// SetLogger sets the logger for the recorder.
func (r *Recorder) SetLogger(logger Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// IntegrityProbe returns the startup probe for database.OpenWithRecovery.
//
// A store whose previous run ended cleanly and recently passes without
// further inspection. Otherwise the structural sanity check decides: an
// unclean shutdown alone is normal (power loss happens), but an unclean
// shutdown of a store that can no longer be read means the file is
// damaged and must be moved aside.
func IntegrityProbe() database.IntegrityProbe {
	return func(ctx context.Context, db *database.DB) error {
		clean, err := cleanShutdownCheck(ctx, db)
		if err == nil && clean {
			return nil
		}
		if sanityErr := database.SanityCheck(ctx, db,
			"events", "state_attributes", "recorder_runs", "schema_changes",
		); sanityErr != nil {
			return sanityErr
		}
		return err
	}
}

// cleanShutdownCheck wraps lastRunWasRecentlyClean, treating a store
// without a recorder_runs table as clean (nothing recorded yet).
func cleanShutdownCheck(ctx context.Context, db *database.DB) (bool, error) {
	exists, err := tableExists(ctx, db, "recorder_runs")
	if err != nil || !exists {
		return err == nil, err
	}
	return lastRunWasRecentlyClean(ctx, db)
}

// Start migrates the schema, opens a recorder run, subscribes to the bus
// and launches the flush worker.
//
// Returns:
//   - error: ErrSchemaMigration (wrapped) when the store cannot be
//     brought to the current schema; the caller logs it and continues
//     without history
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}
	if r.closed {
		return ErrStopped
	}

	if err := setupSchema(ctx, r.db, r.logger); err != nil {
		return err
	}

	runID, err := startRun(ctx, r.db)
	if err != nil {
		return fmt.Errorf("opening recorder run: %w", err)
	}
	r.runID = runID

	for _, eventType := range recordedEventTypes {
		r.subs = append(r.subs, r.bus.Subscribe(eventType, r.enqueue))
	}

	r.wg.Add(1)
	go r.worker()

	if r.cfg.StatisticsInterval > 0 {
		r.wg.Add(1)
		go r.statisticsLoop()
	}

	r.started = true
	r.logger.Info("recorder started",
		"run_id", runID,
		"batch_size", r.cfg.BatchSize,
		"flush_interval", r.cfg.FlushInterval,
	)
	return nil
}

// enqueue is the bus handler. It never blocks bus delivery; when the
// buffer is full the event is dropped and a warning logged.
func (r *Recorder) enqueue(evt bus.Event) {
	select {
	case r.queue <- evt:
	default:
		r.logger.Warn("recorder buffer full, event dropped", "event_type", evt.Type)
	}
}

// worker owns all history writes. It accumulates events and flushes on
// batch size or timer, and performs the bounded shutdown drain.
func (r *Recorder) worker() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]bus.Event, 0, r.cfg.BatchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		r.flush(batch)
		batch = batch[:0]
	}

	for {
		select {
		case evt := <-r.queue:
			batch = append(batch, evt)
			if len(batch) >= r.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-r.done:
			// Bounded drain: take what is already buffered, then stop.
			for drained := 0; drained < queueSize; drained++ {
				select {
				case evt := <-r.queue:
					batch = append(batch, evt)
					if len(batch) >= r.cfg.BatchSize {
						flush()
					}
					continue
				default:
				}
				break
			}
			flush()
			return
		}
	}
}

// flush writes one batch in a single transaction, going through the retry
// policy. Exhausted retries abandon the batch with a warning.
func (r *Recorder) flush(batch []bus.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := r.policy.execWithRetry(ctx, func() error {
		return r.writeBatch(ctx, batch)
	})
	if err != nil {
		r.logger.Warn("recorder flush abandoned",
			"events", len(batch),
			"error", err,
		)
		return
	}
	r.logger.Debug("recorder flushed", "events", len(batch))
}

// writeBatch inserts a batch of events in one transaction.
func (r *Recorder) writeBatch(ctx context.Context, batch []bus.Event) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events
			(event_type, time_fired, entity_id, state, attributes_id,
			 context_id, context_user_id, context_parent_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close() //nolint:errcheck // Statement closed with the tx

	pendingAttrs := make(map[string]int64)
	for _, evt := range batch {
		var entityID, stateValue sql.NullString
		var attributesID sql.NullInt64

		if data, ok := evt.StateChanged(); ok {
			entityID = sql.NullString{String: data.EntityID, Valid: true}
			if st, ok := data.NewState.(*state.State); ok && st != nil {
				stateValue = sql.NullString{String: st.Value, Valid: true}
				id, err := r.attrs.getOrCreate(ctx, tx, st.Attributes, pendingAttrs)
				if err != nil {
					return err
				}
				attributesID = sql.NullInt64{Int64: id, Valid: true}
			}
		} else if id, ok := evt.Data["entity_id"].(string); ok {
			entityID = sql.NullString{String: id, Valid: true}
		}

		if _, err := stmt.ExecContext(ctx,
			string(evt.Type),
			evt.TimeFired.UTC().Format(timeFormat),
			entityID,
			stateValue,
			attributesID,
			evt.Context.ID,
			nullIfEmpty(evt.Context.UserID),
			nullIfEmpty(evt.Context.ParentID),
		); err != nil {
			return fmt.Errorf("inserting event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	r.attrs.promote(pendingAttrs)
	return nil
}

// Close stops ingestion, drains the buffer, stamps the end-of-run marker
// and returns. Safe to call once; further calls are no-ops.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	started := r.started
	subs := r.subs
	r.mu.Unlock()

	for _, sub := range subs {
		sub.Cancel()
	}

	if !started {
		return nil
	}

	close(r.done)
	r.wg.Wait()

	if err := endRun(ctx, r.db, r.runID); err != nil {
		return err
	}
	r.logger.Info("recorder stopped", "run_id", r.runID)
	return nil
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
