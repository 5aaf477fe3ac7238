package state

import (
	"sync"
	"time"

	"github.com/hearthlab/hearth-core/internal/bus"
)

// Logger defines the logging interface used by the Store.
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

// Store holds the latest State for every known entity and mediates all
// reads and writes. Every mutation publishes a state_changed event on the
// bus.
//
// Mutation is serialised by a write lock, and the event is published while
// the lock is held. Combined with the bus's non-blocking FIFO queues this
// yields the ordering guarantee integrations rely on: for one entity,
// subscribers observe state_changed events in write order.
//
// Thread Safety: all methods are safe for concurrent use. Reads return
// deep copies, so callers can never mutate a stored snapshot.
type Store struct {
	mu     sync.RWMutex
	states map[string]*State
	order  []string

	bus    *bus.Bus
	logger Logger
	now    func() time.Time
}

// NewStore creates a state store publishing change events on b.
func NewStore(b *bus.Bus) *Store {
	return &Store{
		states: make(map[string]*State),
		bus:    b,
		logger: noopLogger{},
		now:    time.Now,
	}
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// Set records a new state for an entity and publishes a state_changed
// event carrying the old and new snapshots.
//
// Timestamp rules:
//   - New entity: LastChanged = LastUpdated = now.
//   - Same value as before: LastChanged kept, LastUpdated = now.
//   - Different value: LastChanged = LastUpdated = now.
//
// The stored snapshot is always a fresh State; the previous one is never
// mutated in place. Attributes are deep-copied on the way in.
//
// Parameters:
//   - entityID: "<domain>.<object_id>", case-insensitive
//   - value: Primary state value ("on", "23.4")
//   - attributes: Secondary descriptive data (may be nil)
//   - eventCtx: Causal context; a fresh one is generated when zero
//
// Returns:
//   - *State: Deep copy of the stored snapshot
//   - error: ErrInvalidEntityID if the ID is malformed
func (s *Store) Set(entityID, value string, attributes map[string]any, eventCtx bus.Context) (*State, error) {
	if err := ValidateEntityID(entityID); err != nil {
		return nil, err
	}
	entityID = NormalizeEntityID(entityID)

	if eventCtx.ID == "" {
		eventCtx = bus.NewContext()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	old := s.states[entityID]

	next := &State{
		EntityID:    entityID,
		Value:       value,
		Attributes:  deepCopyMap(attributes),
		LastChanged: now,
		LastUpdated: now,
		Context:     eventCtx,
	}
	if old != nil && old.Value == value {
		next.LastChanged = old.LastChanged
	}

	if old == nil {
		s.order = append(s.order, entityID)
	}
	s.states[entityID] = next

	s.logger.Debug("state set",
		"entity_id", entityID,
		"value", value,
	)

	s.publishChange(entityID, old, next, eventCtx)

	return next.DeepCopy(), nil
}

// Get returns the current snapshot for an entity, or nil when the entity
// is unknown. The returned State is a deep copy.
func (s *Store) Get(entityID string) *State {
	entityID = NormalizeEntityID(entityID)

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.states[entityID].DeepCopy()
}

// Remove deletes an entity's state and publishes a state_changed event
// with a nil new state, which is how the recorder and automations detect
// entity removal. Removing an unknown entity is a no-op.
//
// Returns:
//   - bool: true when an entity was actually removed
func (s *Store) Remove(entityID string, eventCtx bus.Context) bool {
	entityID = NormalizeEntityID(entityID)

	if eventCtx.ID == "" {
		eventCtx = bus.NewContext()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.states[entityID]
	if !ok {
		return false
	}

	delete(s.states, entityID)
	for i, id := range s.order {
		if id == entityID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}

	s.logger.Debug("state removed", "entity_id", entityID)

	s.publishChange(entityID, old, nil, eventCtx)

	return true
}

// All returns a snapshot of every current entity state in insertion
// order. The order is stable between mutations for a given store.
func (s *Store) All() []*State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*State, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.states[id].DeepCopy())
	}
	return out
}

// EntityCount returns the number of known entities.
func (s *Store) EntityCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states)
}

// publishChange emits a state_changed event. Called with the write lock
// held so events for one entity are enqueued in write order.
func (s *Store) publishChange(entityID string, old, next *State, eventCtx bus.Context) {
	if s.bus == nil {
		return
	}

	var oldAny, newAny any
	if cp := old.DeepCopy(); cp != nil {
		oldAny = cp
	}
	if cp := next.DeepCopy(); cp != nil {
		newAny = cp
	}

	s.bus.Publish(bus.EventStateChanged, map[string]any{
		"entity_id": entityID,
		"old_state": oldAny,
		"new_state": newAny,
	}, eventCtx)
}
