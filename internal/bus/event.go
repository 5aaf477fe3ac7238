package bus

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies a class of events on the bus.
//
// Well-known core types are declared below. Integrations may publish their
// own types; the bus treats the type as an opaque routing key.
type EventType string

// Core event types.
const (
	// EventStateChanged is fired by the state store on every entity write or
	// removal. Data keys: "entity_id", "old_state", "new_state" (either state
	// may be nil).
	EventStateChanged EventType = "state_changed"

	// EventDeviceEvent carries a raw hardware event from an integration
	// (e.g. a button press) before trigger matching. Data keys are
	// device-model specific; "device_id" is always present.
	EventDeviceEvent EventType = "device_event"

	// EventAutomationTriggered is re-dispatched by the trigger matcher when a
	// raw device event matches a declarative trigger definition.
	EventAutomationTriggered EventType = "automation_triggered"

	// EventCoreStarted is fired once after all subsystems are wired.
	EventCoreStarted EventType = "core_started"

	// EventCoreStopping is fired when shutdown begins, before subsystems are
	// torn down.
	EventCoreStopping EventType = "core_stopping"
)

// Context carries the causal chain of an event so consumers can answer
// "who or what caused this". A state write triggered by an automation carries
// the automation's context ID as ParentID.
type Context struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id,omitempty"`
	ParentID string `json:"parent_id,omitempty"`
}

// NewContext creates a fresh context with a random ID and no parent.
func NewContext() Context {
	return Context{ID: uuid.NewString()}
}

// ChildContext creates a context caused by parent. The new context gets its
// own ID and inherits the parent's user.
func ChildContext(parent Context) Context {
	return Context{
		ID:       uuid.NewString(),
		UserID:   parent.UserID,
		ParentID: parent.ID,
	}
}

// Event is a typed notification broadcast via the bus.
//
// Data is an open string-keyed map for forward compatibility with
// integrations not known at compile time; well-known payloads have typed
// accessors (see StateChangedData).
type Event struct {
	Type      EventType      `json:"event_type"`
	Data      map[string]any `json:"data"`
	TimeFired time.Time      `json:"time_fired"`
	Context   Context        `json:"context"`
}

// StateChangedData is the typed view of an EventStateChanged payload.
// OldState and NewState are whatever the state store published; they are
// declared as any here to keep this package free of a dependency on the
// state package (the store depends on the bus, not the other way round).
type StateChangedData struct {
	EntityID string
	OldState any
	NewState any
}

// StateChanged extracts the typed state_changed payload from an event.
// Returns false if the event is not a state_changed event.
func (e Event) StateChanged() (StateChangedData, bool) {
	if e.Type != EventStateChanged {
		return StateChangedData{}, false
	}

	d := StateChangedData{}
	if id, ok := e.Data["entity_id"].(string); ok {
		d.EntityID = id
	}
	d.OldState = e.Data["old_state"]
	d.NewState = e.Data["new_state"]
	return d, true
}
