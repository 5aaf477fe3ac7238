package trigger

import (
	"fmt"
	"sync"

	"github.com/hearthlab/hearth-core/internal/bus"
)

// Logger defines the logging interface used by the Matcher.
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

// Action runs when an attached trigger matches a device event.
type Action func(evt bus.Event)

// Matcher validates declarative device triggers and attaches them to the
// raw device_event stream. On a match it invokes the automation's action
// and re-publishes an automation_triggered event carrying the causal
// chain of the raw event.
//
// Thread Safety: all methods are safe for concurrent use.
type Matcher struct {
	bus   *bus.Bus
	index DeviceIndex

	mu     sync.RWMutex
	models map[string]ModelTriggers

	logger Logger
}

// NewMatcher creates a trigger matcher over the built-in model table.
func NewMatcher(b *bus.Bus, index DeviceIndex) *Matcher {
	models := make(map[string]ModelTriggers, len(builtinModels))
	for model, triggers := range builtinModels {
		models[model] = triggers
	}
	return &Matcher{
		bus:    b,
		index:  index,
		models: models,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the matcher.
func (m *Matcher) SetLogger(logger Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger = logger
}

// RegisterModel adds or replaces the trigger table for a hardware model.
// Integrations call this at startup for models they bring along.
func (m *Matcher) RegisterModel(model string, triggers ModelTriggers) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.models[model] = triggers
}

// SupportedTriggers lists the (type, subtype) pairs a device offers, for
// configuration UIs. Returns ErrInvalidTriggerConfig for unknown devices
// or models.
func (m *Matcher) SupportedTriggers(deviceID string) ([]Pair, error) {
	triggers, err := m.modelTriggersFor(deviceID)
	if err != nil {
		return nil, err
	}
	pairs := make([]Pair, 0, len(triggers))
	for pair := range triggers {
		pairs = append(pairs, pair)
	}
	return pairs, nil
}

// Validate confirms a trigger configuration is satisfiable: the device
// exists, its model is in the table, and the model defines the requested
// (type, subtype) pair.
//
// Returns:
//   - error: ErrInvalidTriggerConfig (wrapped with the reason) on failure
func (m *Matcher) Validate(cfg Config) error {
	_, err := m.resolve(cfg)
	return err
}

// resolve validates cfg and returns the raw fields to match against.
func (m *Matcher) resolve(cfg Config) (RawFields, error) {
	if cfg.DeviceID == "" {
		return nil, fmt.Errorf("%w: device_id is required", ErrInvalidTriggerConfig)
	}

	triggers, err := m.modelTriggersFor(cfg.DeviceID)
	if err != nil {
		return nil, err
	}

	fields, ok := triggers[Pair{cfg.Type, cfg.Subtype}]
	if !ok {
		return nil, fmt.Errorf("%w: device %s does not support (%s, %s)",
			ErrInvalidTriggerConfig, cfg.DeviceID, cfg.Type, cfg.Subtype)
	}
	return fields, nil
}

func (m *Matcher) modelTriggersFor(deviceID string) (ModelTriggers, error) {
	model, ok := m.index.Model(deviceID)
	if !ok {
		return nil, fmt.Errorf("%w: unknown device %s", ErrInvalidTriggerConfig, deviceID)
	}

	m.mu.RLock()
	triggers, ok := m.models[model]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no trigger table for model %s", ErrInvalidTriggerConfig, model)
	}
	return triggers, nil
}

// Attach validates cfg and subscribes action to matching device events.
//
// The returned detach function fully unsubscribes and is idempotent.
// Raw fields are resolved once at attach time; later model table changes
// do not affect an attached trigger.
//
// Parameters:
//   - cfg: Declarative trigger reference
//   - action: Invoked with the raw device event on every match
//
// Returns:
//   - func(): Detach function
//   - error: ErrInvalidTriggerConfig when validation fails
func (m *Matcher) Attach(cfg Config, action Action) (func(), error) {
	fields, err := m.resolve(cfg)
	if err != nil {
		return nil, err
	}

	sub := m.bus.Subscribe(bus.EventDeviceEvent, func(evt bus.Event) {
		if !matches(cfg.DeviceID, fields, evt) {
			return
		}

		m.logger.Debug("device trigger matched",
			"device_id", cfg.DeviceID,
			"type", cfg.Type,
			"subtype", cfg.Subtype,
		)

		action(evt)

		m.bus.Publish(bus.EventAutomationTriggered, map[string]any{
			"device_id": cfg.DeviceID,
			"type":      string(cfg.Type),
			"subtype":   string(cfg.Subtype),
		}, bus.ChildContext(evt.Context))
	})

	// Subscription.Cancel is already idempotent.
	return sub.Cancel, nil
}

// matches reports whether a device event belongs to the device and
// carries every resolved raw field.
func matches(deviceID string, fields RawFields, evt bus.Event) bool {
	if id, _ := evt.Data["device_id"].(string); id != deviceID {
		return false
	}
	for key, want := range fields {
		got, ok := evt.Data[key]
		if !ok || !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

// valuesEqual compares event fields loosely across numeric types, since
// JSON decoding yields float64 where tables may hold ints.
func valuesEqual(got, want any) bool {
	if got == want {
		return true
	}
	gf, gok := asFloat(got)
	wf, wok := asFloat(want)
	return gok && wok && gf == wf
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
