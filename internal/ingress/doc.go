// Package ingress connects the Hearth core to device integrations over
// MQTT.
//
// The bridge subscribes to the three ingress topic families and
// translates each message into a core operation:
//
//	hearth/state/{domain}/{object_id}  → state store write
//	hearth/event/{model}/{device_id}   → device_event on the bus
//	hearth/announce/{device_id}        → device index update
//
// In the other direction it republishes every state_changed event as
// JSON on hearth/events/state so external consumers can follow the
// state stream without touching the core API.
//
// The device index built from announcements satisfies the trigger
// package's DeviceIndex, closing the loop from raw MQTT events to
// declarative device triggers.
package ingress
