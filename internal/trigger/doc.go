// Package trigger maps vendor-specific raw device events onto a small
// portable trigger vocabulary that automations can reference.
//
// A wall remote reports something like {"action": "on_press"}; an
// automation should not care which vendor's remote it is. The per-model
// tables here translate (type, subtype) pairs such as
// (button_short_press, button_1) into the raw fields to match, and the
// Matcher attaches automation actions to the device_event stream.
//
// Validation is strict and synchronous: an unknown device, an unknown
// model, or an unsupported pair fails with ErrInvalidTriggerConfig at
// configuration time. There is no silent fallback.
package trigger
