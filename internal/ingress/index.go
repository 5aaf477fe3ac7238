package ingress

import "sync"

// DeviceIndex maps device IDs to hardware models, built from device
// announcements and raw events as they arrive.
//
// Thread Safety: all methods are safe for concurrent use.
type DeviceIndex struct {
	mu     sync.RWMutex
	models map[string]string
}

// NewDeviceIndex creates an empty device index.
func NewDeviceIndex() *DeviceIndex {
	return &DeviceIndex{models: make(map[string]string)}
}

// Model returns the hardware model for a device, or false when the
// device has never announced itself.
func (d *DeviceIndex) Model(deviceID string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	model, ok := d.models[deviceID]
	return model, ok
}

// Set records or replaces the model for a device.
func (d *DeviceIndex) Set(deviceID, model string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.models[deviceID] = model
}

// Len returns the number of known devices.
func (d *DeviceIndex) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.models)
}
