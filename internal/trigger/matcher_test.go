package trigger

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hearthlab/hearth-core/internal/bus"
)

// mapIndex is a DeviceIndex backed by a plain map.
type mapIndex map[string]string

func (m mapIndex) Model(deviceID string) (string, bool) {
	model, ok := m[deviceID]
	return model, ok
}

func testIndex() mapIndex {
	return mapIndex{
		"remote-1": "hue-dimmer-rwl021",
		"button-1": "aqara-wxkg11lm",
		"weird-1":  "unknown-model-x",
	}
}

func TestMatcher_Validate(t *testing.T) {
	b := bus.New()
	defer b.Close()
	m := NewMatcher(b, testIndex())

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"supported pair", Config{"remote-1", TypeButtonShortPress, SubtypeButton1}, false},
		{"long press", Config{"remote-1", TypeButtonLongPress, SubtypeButton4}, false},
		{"unsupported pair", Config{"remote-1", TypeRotationLeft, SubtypeDial}, true},
		{"unsupported subtype", Config{"button-1", TypeButtonShortPress, SubtypeButton2}, true},
		{"unknown device", Config{"ghost", TypeButtonShortPress, SubtypeButton1}, true},
		{"unknown model", Config{"weird-1", TypeButtonShortPress, SubtypeButton1}, true},
		{"missing device id", Config{"", TypeButtonShortPress, SubtypeButton1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.Validate(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidTriggerConfig) {
				t.Errorf("error %v should wrap ErrInvalidTriggerConfig", err)
			}
		})
	}
}

func TestMatcher_AttachInvalidConfig(t *testing.T) {
	b := bus.New()
	defer b.Close()
	m := NewMatcher(b, testIndex())

	_, err := m.Attach(Config{"ghost", TypeButtonShortPress, SubtypeButton1}, func(bus.Event) {})
	if !errors.Is(err, ErrInvalidTriggerConfig) {
		t.Errorf("Attach() error = %v, want ErrInvalidTriggerConfig", err)
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestMatcher_AttachMatchesAndRedispatches(t *testing.T) {
	b := bus.New()
	defer b.Close()
	m := NewMatcher(b, testIndex())

	var fired atomic.Int32
	detach, err := m.Attach(Config{"remote-1", TypeButtonShortPress, SubtypeButton1}, func(bus.Event) {
		fired.Add(1)
	})
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	defer detach()

	var redispatched atomic.Int32
	var lastParent atomic.Value
	b.Subscribe(bus.EventAutomationTriggered, func(evt bus.Event) {
		redispatched.Add(1)
		lastParent.Store(evt.Context.ParentID)
	})

	rawCtx := bus.NewContext()
	b.Publish(bus.EventDeviceEvent, map[string]any{
		"device_id": "remote-1",
		"action":    "on_press",
	}, rawCtx)

	waitFor(t, time.Second, func() bool { return fired.Load() == 1 && redispatched.Load() == 1 })

	if parent, _ := lastParent.Load().(string); parent != rawCtx.ID {
		t.Errorf("automation_triggered ParentID = %q, want %q", parent, rawCtx.ID)
	}
}

func TestMatcher_AttachFiltering(t *testing.T) {
	b := bus.New()
	defer b.Close()
	m := NewMatcher(b, testIndex())

	var fired atomic.Int32
	detach, err := m.Attach(Config{"remote-1", TypeButtonShortPress, SubtypeButton1}, func(bus.Event) {
		fired.Add(1)
	})
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	defer detach()

	// Wrong action, wrong device, missing field: none may match.
	b.Publish(bus.EventDeviceEvent, map[string]any{"device_id": "remote-1", "action": "on_hold"}, bus.Context{})
	b.Publish(bus.EventDeviceEvent, map[string]any{"device_id": "button-1", "action": "on_press"}, bus.Context{})
	b.Publish(bus.EventDeviceEvent, map[string]any{"device_id": "remote-1"}, bus.Context{})
	// And one that does.
	b.Publish(bus.EventDeviceEvent, map[string]any{"device_id": "remote-1", "action": "on_press"}, bus.Context{})

	waitFor(t, time.Second, func() bool { return fired.Load() == 1 })
	time.Sleep(10 * time.Millisecond)
	if fired.Load() != 1 {
		t.Errorf("action fired %d times, want 1", fired.Load())
	}
}

func TestMatcher_NumericFieldMatching(t *testing.T) {
	b := bus.New()
	defer b.Close()
	m := NewMatcher(b, testIndex())
	m.RegisterModel("coded-remote", ModelTriggers{
		{TypeButtonShortPress, SubtypeButton1}: {"event": 1002},
	})
	idx := testIndex()
	idx["coded-1"] = "coded-remote"
	m.index = idx

	var fired atomic.Int32
	detach, err := m.Attach(Config{"coded-1", TypeButtonShortPress, SubtypeButton1}, func(bus.Event) {
		fired.Add(1)
	})
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	defer detach()

	// JSON decoding delivers numbers as float64; the table holds an int.
	b.Publish(bus.EventDeviceEvent, map[string]any{"device_id": "coded-1", "event": float64(1002)}, bus.Context{})

	waitFor(t, time.Second, func() bool { return fired.Load() == 1 })
}

func TestMatcher_DetachIdempotent(t *testing.T) {
	b := bus.New()
	defer b.Close()
	m := NewMatcher(b, testIndex())

	var fired atomic.Int32
	detach, err := m.Attach(Config{"remote-1", TypeButtonShortPress, SubtypeButton1}, func(bus.Event) {
		fired.Add(1)
	})
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}

	detach()
	detach() // Second detach must be a no-op.

	b.Publish(bus.EventDeviceEvent, map[string]any{"device_id": "remote-1", "action": "on_press"}, bus.Context{})
	time.Sleep(10 * time.Millisecond)
	if fired.Load() != 0 {
		t.Errorf("detached trigger fired %d times", fired.Load())
	}
}

func TestMatcher_SupportedTriggers(t *testing.T) {
	b := bus.New()
	defer b.Close()
	m := NewMatcher(b, testIndex())

	pairs, err := m.SupportedTriggers("button-1")
	if err != nil {
		t.Fatalf("SupportedTriggers() error = %v", err)
	}
	if len(pairs) != 3 {
		t.Errorf("SupportedTriggers() returned %d pairs, want 3", len(pairs))
	}

	if _, err := m.SupportedTriggers("ghost"); !errors.Is(err, ErrInvalidTriggerConfig) {
		t.Errorf("SupportedTriggers(ghost) error = %v, want ErrInvalidTriggerConfig", err)
	}
}
