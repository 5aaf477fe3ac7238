package ingress

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hearthlab/hearth-core/internal/bus"
	"github.com/hearthlab/hearth-core/internal/infrastructure/mqtt"
	"github.com/hearthlab/hearth-core/internal/poll"
	"github.com/hearthlab/hearth-core/internal/state"
)

// defaultRefreshInterval spaces accepted refresh requests per entity
// when the configuration does not say otherwise.
const defaultRefreshInterval = 30 * time.Second

// Logger defines the logging interface used by the Bridge.
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

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error

	// Unsubscribe removes a subscription.
	Unsubscribe(topic string) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// statePayload is the JSON body integrations publish on state topics.
type statePayload struct {
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// announcePayload is the JSON body devices publish when announcing.
type announcePayload struct {
	Model string `json:"model"`
	Name  string `json:"name,omitempty"`
}

// Bridge translates between the MQTT topic hierarchy and the core.
// It handles:
//   - Entity state updates arriving on state topics
//   - Raw device events arriving on event topics
//   - Device announcements feeding the device index
//   - Throttled refresh requests forwarded to integrations as commands
//   - Republishing the state_changed stream for external consumers
//
// Thread Safety: all methods are safe for concurrent use.
type Bridge struct {
	mqtt            MQTTClient
	store           *state.Store
	bus             *bus.Bus
	devices         *DeviceIndex
	sched           *poll.Scheduler
	refreshInterval time.Duration
	qos             byte

	mu      sync.Mutex
	started bool
	egress  *bus.Subscription

	logger Logger
}

// New creates a bridge between the MQTT client and the core. Call
// Start to begin translating messages. refreshInterval is the minimum
// spacing between accepted refresh requests per entity; zero applies
// the default.
func New(client MQTTClient, store *state.Store, b *bus.Bus, qos byte, refreshInterval time.Duration) *Bridge {
	if refreshInterval <= 0 {
		refreshInterval = defaultRefreshInterval
	}
	return &Bridge{
		mqtt:            client,
		store:           store,
		bus:             b,
		devices:         NewDeviceIndex(),
		sched:           poll.NewScheduler(),
		refreshInterval: refreshInterval,
		qos:             qos,
		logger:          noopLogger{},
	}
}

// SetLogger sets the logger for the bridge.
func (br *Bridge) SetLogger(logger Logger) {
	br.mu.Lock()
	defer br.mu.Unlock()
	br.logger = logger
	br.sched.SetLogger(logger)
}

// Devices returns the device index maintained from announcements and
// events. The index satisfies trigger.DeviceIndex.
func (br *Bridge) Devices() *DeviceIndex {
	return br.devices
}

// Start subscribes to the ingress topics and begins republishing the
// state_changed stream. Start is not idempotent; call it once.
//
// Returns:
//   - error: subscription failure (the bridge is left unstarted)
func (br *Bridge) Start() error {
	br.mu.Lock()
	defer br.mu.Unlock()

	if br.started {
		return fmt.Errorf("ingress: bridge already started")
	}

	subs := []struct {
		topic   string
		handler mqtt.MessageHandler
	}{
		{mqtt.Topics{}.AllEntityStates(), br.handleState},
		{mqtt.Topics{}.AllDeviceEvents(), br.handleDeviceEvent},
		{mqtt.Topics{}.AllDeviceAnnouncements(), br.handleAnnounce},
		{mqtt.Topics{}.AllEntityRefreshRequests(), br.handleRefresh},
	}
	for _, s := range subs {
		if err := br.mqtt.Subscribe(s.topic, br.qos, s.handler); err != nil {
			return fmt.Errorf("ingress: subscribe %s: %w", s.topic, err)
		}
	}

	br.egress = br.bus.Subscribe(bus.EventStateChanged, br.republishState)
	br.started = true

	br.logger.Info("ingress bridge started")
	return nil
}

// Close stops republishing and drops the MQTT subscriptions. Safe to
// call on a bridge that never started.
func (br *Bridge) Close() error {
	br.mu.Lock()
	defer br.mu.Unlock()

	if !br.started {
		return nil
	}
	br.started = false

	br.egress.Cancel()

	// Unsubscribes are best effort; a lost broker connection means the
	// subscriptions are gone anyway.
	for _, topic := range []string{
		mqtt.Topics{}.AllEntityStates(),
		mqtt.Topics{}.AllDeviceEvents(),
		mqtt.Topics{}.AllDeviceAnnouncements(),
		mqtt.Topics{}.AllEntityRefreshRequests(),
	} {
		if err := br.mqtt.Unsubscribe(topic); err != nil {
			br.logger.Debug("unsubscribe failed", "topic", topic, "error", err)
		}
	}

	// Let accepted refresh commands finish publishing.
	br.sched.Wait()

	br.logger.Info("ingress bridge stopped")
	return nil
}

// handleState applies an entity state update from an integration.
//
// Topic: hearth/state/{domain}/{object_id}
// Payload: {"state": "on", "attributes": {...}}
func (br *Bridge) handleState(topic string, payload []byte) error {
	domain, objectID, err := splitSuffix(topic)
	if err != nil {
		return err
	}
	entityID := domain + "." + objectID

	var body statePayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return fmt.Errorf("ingress: state payload for %s: %w", entityID, err)
	}

	if _, err := br.store.Set(entityID, body.State, body.Attributes, bus.NewContext()); err != nil {
		return fmt.Errorf("ingress: %w", err)
	}

	br.logger.Debug("state ingested", "entity_id", entityID, "value", body.State)
	return nil
}

// handleDeviceEvent republishes a raw device event on the bus.
//
// Topic: hearth/event/{model}/{device_id}
// Payload: flat JSON object of vendor fields, e.g. {"action": "on_press"}
func (br *Bridge) handleDeviceEvent(topic string, payload []byte) error {
	model, deviceID, err := splitSuffix(topic)
	if err != nil {
		return err
	}

	fields := make(map[string]any)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &fields); err != nil {
			return fmt.Errorf("ingress: event payload for %s: %w", deviceID, err)
		}
	}
	fields["device_id"] = deviceID
	fields["model"] = model

	// An event implies the model; keep the index warm even for devices
	// that never announced.
	br.devices.Set(deviceID, model)

	br.bus.Publish(bus.EventDeviceEvent, fields, bus.NewContext())

	br.logger.Debug("device event ingested", "device_id", deviceID, "model", model)
	return nil
}

// handleAnnounce records a device announcement in the device index.
//
// Topic: hearth/announce/{device_id}
// Payload: {"model": "hue-dimmer-rwl021", "name": "..."}
func (br *Bridge) handleAnnounce(topic string, payload []byte) error {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || parts[len(parts)-1] == "" {
		return fmt.Errorf("ingress: malformed announce topic %q", topic)
	}
	deviceID := parts[len(parts)-1]

	var body announcePayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return fmt.Errorf("ingress: announce payload for %s: %w", deviceID, err)
	}
	if body.Model == "" {
		return fmt.Errorf("ingress: announce for %s missing model", deviceID)
	}

	br.devices.Set(deviceID, body.Model)

	br.logger.Info("device announced", "device_id", deviceID, "model", body.Model)
	return nil
}

// handleRefresh forwards a refresh request to the owning integration as
// a poll command, going through the per-entity throttle. A throttled
// request is dropped silently; there is no queue.
//
// Topic: hearth/refresh/{domain}/{object_id}
func (br *Bridge) handleRefresh(topic string, _ []byte) error {
	domain, objectID, err := splitSuffix(topic)
	if err != nil {
		return err
	}
	entityID := domain + "." + objectID

	accepted := br.sched.RequestRefresh(context.Background(), entityID, br.refreshInterval,
		func(ctx context.Context) error {
			return br.mqtt.Publish(mqtt.Topics{}.RefreshCommand(domain, objectID), nil, br.qos, false)
		})
	if accepted {
		br.logger.Debug("refresh accepted", "entity_id", entityID)
	}
	return nil
}

// republishState mirrors a state_changed event onto the egress topic.
func (br *Bridge) republishState(evt bus.Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		br.logger.Error("marshal state event", "error", err)
		return
	}

	if err := br.mqtt.Publish(mqtt.Topics{}.StateEvents(), payload, br.qos, false); err != nil {
		br.logger.Warn("republish state event", "error", err)
	}
}

// splitSuffix returns the last two segments of a four-part ingress
// topic such as hearth/state/{domain}/{object_id}.
func splitSuffix(topic string) (string, string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[2] == "" || parts[3] == "" {
		return "", "", fmt.Errorf("ingress: malformed topic %q", topic)
	}
	return parts[2], parts[3], nil
}
