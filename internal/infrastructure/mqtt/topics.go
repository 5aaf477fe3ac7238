package mqtt

import "fmt"

// Topic prefixes for the Hearth MQTT hierarchy.
//
// Ingress topics carry data from integrations into the core:
//
//	hearth/state/{domain}/{object_id}     entity state updates (JSON)
//	hearth/event/{model}/{device_id}      raw device events (JSON)
//	hearth/announce/{device_id}           device announcements (JSON)
//	hearth/refresh/{domain}/{object_id}   throttled poll requests
//
// Egress topics carry core events out to integrations and consumers:
//
//	hearth/events/state                          state_changed stream
//	hearth/command/refresh/{domain}/{object_id}  accepted poll commands
const (
	// TopicPrefix is the base for all Hearth topics.
	TopicPrefix = "hearth"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "hearth/system"
)

// Topics provides builders for Hearth MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
type Topics struct{}

// EntityState returns the ingress topic for one entity's state updates.
//
// Example: hearth/state/light/kitchen
func (Topics) EntityState(domain, objectID string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, domain, objectID)
}

// AllEntityStates returns a pattern matching every entity state update.
//
// Pattern: hearth/state/+/+
func (Topics) AllEntityStates() string {
	return fmt.Sprintf("%s/state/+/+", TopicPrefix)
}

// DeviceEvent returns the ingress topic for one device's raw events.
//
// Example: hearth/event/hue-dimmer-rwl021/remote-1
func (Topics) DeviceEvent(model, deviceID string) string {
	return fmt.Sprintf("%s/event/%s/%s", TopicPrefix, model, deviceID)
}

// AllDeviceEvents returns a pattern matching every raw device event.
//
// Pattern: hearth/event/+/+
func (Topics) AllDeviceEvents() string {
	return fmt.Sprintf("%s/event/+/+", TopicPrefix)
}

// DeviceAnnounce returns the topic a device announces itself on.
//
// Example: hearth/announce/remote-1
func (Topics) DeviceAnnounce(deviceID string) string {
	return fmt.Sprintf("%s/announce/%s", TopicPrefix, deviceID)
}

// AllDeviceAnnouncements returns a pattern matching every announcement.
//
// Pattern: hearth/announce/+
func (Topics) AllDeviceAnnouncements() string {
	return fmt.Sprintf("%s/announce/+", TopicPrefix)
}

// EntityRefresh returns the ingress topic requesting a throttled device
// poll for one entity.
//
// Example: hearth/refresh/climate/living_room
func (Topics) EntityRefresh(domain, objectID string) string {
	return fmt.Sprintf("%s/refresh/%s/%s", TopicPrefix, domain, objectID)
}

// AllEntityRefreshRequests returns a pattern matching every refresh
// request.
//
// Pattern: hearth/refresh/+/+
func (Topics) AllEntityRefreshRequests() string {
	return fmt.Sprintf("%s/refresh/+/+", TopicPrefix)
}

// RefreshCommand returns the egress topic telling the owning integration
// to poll its device now. Published only for refresh requests that pass
// the throttle.
//
// Example: hearth/command/refresh/climate/living_room
func (Topics) RefreshCommand(domain, objectID string) string {
	return fmt.Sprintf("%s/command/refresh/%s/%s", TopicPrefix, domain, objectID)
}

// StateEvents returns the egress topic carrying the state_changed stream.
//
// Example: hearth/events/state
func (Topics) StateEvents() string {
	return fmt.Sprintf("%s/events/state", TopicPrefix)
}

// SystemStatus returns the system status topic, also used for the LWT.
//
// Example: hearth/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllTopics returns a pattern matching all Hearth topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: hearth/#
func (Topics) AllTopics() string {
	return "hearth/#"
}
