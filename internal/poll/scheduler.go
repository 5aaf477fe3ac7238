package poll

import (
	"context"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Scheduler.
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

// maxRefreshTime bounds a single refresh so a hung device cannot
// accumulate goroutines.
const maxRefreshTime = 60 * time.Second

// RefreshFunc polls a physical or cloud device and reports the result into
// the state store. It must honour ctx cancellation.
type RefreshFunc func(ctx context.Context) error

// entityJob tracks the throttle state for one entity.
type entityJob struct {
	lastRun  time.Time
	inFlight bool
}

// Scheduler enforces the polling policy for device refreshes: at most one
// concurrent refresh per entity, and no two refreshes closer together than
// the caller's minimum interval. It is a debouncer, not a queue; rejected
// requests are dropped.
//
// The interval is measured from invocation start, so a slow refresh does
// not push the next eligible run further out. Failed refreshes count
// against the interval too, which keeps a flapping device from being
// hammered.
//
// Thread Safety: all methods are safe for concurrent use.
type Scheduler struct {
	mu   sync.Mutex
	jobs map[string]*entityJob

	wg     sync.WaitGroup
	logger Logger
	now    func() time.Time
}

// NewScheduler creates a refresh scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{
		jobs:   make(map[string]*entityJob),
		logger: noopLogger{},
		now:    time.Now,
	}
}

// SetLogger sets the logger for the scheduler.
func (s *Scheduler) SetLogger(logger Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// RequestRefresh asks to run a device refresh for an entity.
//
// The request is dropped without invoking refreshFn when a refresh for
// this entity is already in flight, or when less than minInterval has
// passed since the last accepted request. Otherwise lastRun is recorded
// immediately and refreshFn runs on its own goroutine with a bounded
// timeout; errors and panics are logged and never propagate to the
// caller. The entity keeps its last-known state on failure.
//
// Parameters:
//   - ctx: Parent context for the refresh; cancellation stops the run
//   - entityID: Entity whose device is being polled
//   - minInterval: Minimum spacing between accepted refreshes
//   - refreshFn: The integration's poll routine
//
// Returns:
//   - bool: true when the refresh was accepted and started
func (s *Scheduler) RequestRefresh(ctx context.Context, entityID string, minInterval time.Duration, refreshFn RefreshFunc) bool {
	s.mu.Lock()

	job, ok := s.jobs[entityID]
	if !ok {
		job = &entityJob{}
		s.jobs[entityID] = job
	}

	now := s.now()
	if job.inFlight {
		s.mu.Unlock()
		s.logger.Debug("refresh dropped, already in flight", "entity_id", entityID)
		return false
	}
	if !job.lastRun.IsZero() && now.Sub(job.lastRun) < minInterval {
		s.mu.Unlock()
		s.logger.Debug("refresh dropped, inside minimum interval",
			"entity_id", entityID,
			"min_interval", minInterval,
			"since_last", now.Sub(job.lastRun),
		)
		return false
	}

	// Interval is measured from invocation start, not completion.
	job.lastRun = now
	job.inFlight = true
	logger := s.logger
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				logger.Error("refresh panic recovered",
					"entity_id", entityID,
					"panic", r,
				)
			}
			s.mu.Lock()
			job.inFlight = false
			s.mu.Unlock()
		}()

		runCtx, cancel := context.WithTimeout(ctx, maxRefreshTime)
		defer cancel()

		if err := refreshFn(runCtx); err != nil {
			logger.Warn("device refresh failed",
				"entity_id", entityID,
				"error", err,
			)
		}
	}()

	return true
}

// InFlight reports whether a refresh is currently running for the entity.
// Intended for monitoring and tests.
func (s *Scheduler) InFlight(entityID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[entityID]
	return ok && job.inFlight
}

// Wait blocks until every accepted refresh has finished. Used during
// shutdown so in-flight device I/O can complete.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
