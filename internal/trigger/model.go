package trigger

import "errors"

// ErrInvalidTriggerConfig indicates a trigger configuration referencing an
// unknown device, model, or unsupported (type, subtype) pair. Validation
// fails fast at configuration time; there is no best-effort matching.
var ErrInvalidTriggerConfig = errors.New("trigger: invalid trigger config")

// Type is the portable trigger vocabulary automations reference instead
// of vendor event codes.
type Type string

// Subtype narrows a trigger type to a specific control on the device.
type Subtype string

// Common trigger types.
const (
	TypeButtonShortPress  Type = "button_short_press"
	TypeButtonLongPress   Type = "button_long_press"
	TypeButtonDoublePress Type = "button_double_press"
	TypeRotationLeft      Type = "rotation_left"
	TypeRotationRight     Type = "rotation_right"
)

// Common subtypes.
const (
	SubtypeButton1 Subtype = "button_1"
	SubtypeButton2 Subtype = "button_2"
	SubtypeButton3 Subtype = "button_3"
	SubtypeButton4 Subtype = "button_4"
	SubtypeDial    Subtype = "dial"
)

// Pair keys a model's trigger table.
type Pair struct {
	Type    Type
	Subtype Subtype
}

// RawFields are the vendor event fields that identify one trigger for one
// model, e.g. {"action": "on_press"} or {"event": 1002}. A device event
// matches when every raw field equals the corresponding event field.
type RawFields map[string]any

// ModelTriggers is the declarative table for one hardware model.
type ModelTriggers map[Pair]RawFields

// builtinModels covers the remote controls supported out of the box.
// Integrations register further models at startup via RegisterModel.
var builtinModels = map[string]ModelTriggers{
	"hue-dimmer-rwl021": {
		{TypeButtonShortPress, SubtypeButton1}: {"action": "on_press"},
		{TypeButtonLongPress, SubtypeButton1}:  {"action": "on_hold"},
		{TypeButtonShortPress, SubtypeButton2}: {"action": "up_press"},
		{TypeButtonShortPress, SubtypeButton3}: {"action": "down_press"},
		{TypeButtonShortPress, SubtypeButton4}: {"action": "off_press"},
		{TypeButtonLongPress, SubtypeButton4}:  {"action": "off_hold"},
	},
	"aqara-wxkg11lm": {
		{TypeButtonShortPress, SubtypeButton1}:  {"action": "single"},
		{TypeButtonDoublePress, SubtypeButton1}: {"action": "double"},
		{TypeButtonLongPress, SubtypeButton1}:   {"action": "hold"},
	},
	"ikea-symfonisk-gen2": {
		{TypeButtonShortPress, SubtypeButton1}: {"action": "toggle"},
		{TypeRotationLeft, SubtypeDial}:        {"action": "volume_down"},
		{TypeRotationRight, SubtypeDial}:       {"action": "volume_up"},
	},
}

// Config is one declarative device trigger an automation references.
type Config struct {
	DeviceID string  `json:"device_id" yaml:"device_id"`
	Type     Type    `json:"type" yaml:"type"`
	Subtype  Subtype `json:"subtype" yaml:"subtype"`
}

// DeviceIndex resolves a device ID to its hardware model. The MQTT
// ingress layer maintains the index from device announcements.
type DeviceIndex interface {
	// Model returns the hardware model for a device, or false when the
	// device is unknown.
	Model(deviceID string) (string, bool)
}
