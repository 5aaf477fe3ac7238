package state

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hearthlab/hearth-core/internal/bus"
)

func TestValidateEntityID(t *testing.T) {
	tests := []struct {
		name     string
		entityID string
		wantErr  bool
	}{
		{"simple", "light.kitchen", false},
		{"underscores", "binary_sensor.front_door_motion", false},
		{"digits", "sensor.temp_2", false},
		{"uppercase normalised", "Light.Kitchen", false},
		{"missing object id", "light.", true},
		{"missing domain", ".kitchen", true},
		{"no dot", "lightkitchen", true},
		{"two dots", "light.kitchen.main", true},
		{"spaces", "light.kitchen table", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEntityID(tt.entityID)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateEntityID(%q) error = %v, wantErr %v", tt.entityID, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidEntityID) {
				t.Errorf("error %v should wrap ErrInvalidEntityID", err)
			}
		})
	}
}

func TestSplitEntityID(t *testing.T) {
	domain, objectID := SplitEntityID("light.kitchen")
	if domain != "light" || objectID != "kitchen" {
		t.Errorf("SplitEntityID() = (%q, %q), want (light, kitchen)", domain, objectID)
	}
}

func TestStore_SetNewEntity(t *testing.T) {
	s := NewStore(nil)

	st, err := s.Set("light.kitchen", "on", map[string]any{"brightness": 200}, bus.Context{})
	if err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if st.Value != "on" {
		t.Errorf("Value = %q, want on", st.Value)
	}
	if !st.LastChanged.Equal(st.LastUpdated) {
		t.Errorf("new entity LastChanged %v != LastUpdated %v", st.LastChanged, st.LastUpdated)
	}
	if st.Context.ID == "" {
		t.Error("Set() should assign a context when given a zero one")
	}

	got := s.Get("light.kitchen")
	if got == nil {
		t.Fatal("Get() = nil after Set")
	}
	if got.Value != "on" {
		t.Errorf("Get().Value = %q, want on", got.Value)
	}
}

func TestStore_SetNormalizesID(t *testing.T) {
	s := NewStore(nil)

	if _, err := s.Set("Light.Kitchen", "on", nil, bus.Context{}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if got := s.Get("light.kitchen"); got == nil {
		t.Error("Get with lowercase ID should find state written with mixed case")
	}
	if got := s.Get("LIGHT.KITCHEN"); got == nil {
		t.Error("Get should be case-insensitive")
	}
}

func TestStore_SetInvalidID(t *testing.T) {
	s := NewStore(nil)

	_, err := s.Set("not-an-entity", "on", nil, bus.Context{})
	if !errors.Is(err, ErrInvalidEntityID) {
		t.Errorf("Set() error = %v, want ErrInvalidEntityID", err)
	}
	if s.EntityCount() != 0 {
		t.Error("invalid Set should not store anything")
	}
}

// An attribute-only update keeps last_changed but bumps last_updated.
func TestStore_SetSameValueKeepsLastChanged(t *testing.T) {
	s := NewStore(nil)

	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	first, err := s.Set("light.kitchen", "on", map[string]any{"brightness": 100}, bus.Context{})
	if err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	clock = clock.Add(5 * time.Second)
	second, err := s.Set("light.kitchen", "on", map[string]any{"brightness": 255}, bus.Context{})
	if err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if !second.LastChanged.Equal(first.LastChanged) {
		t.Errorf("LastChanged = %v, want unchanged %v", second.LastChanged, first.LastChanged)
	}
	if !second.LastUpdated.After(first.LastUpdated) {
		t.Errorf("LastUpdated = %v, should advance past %v", second.LastUpdated, first.LastUpdated)
	}
	if second.Attributes["brightness"] != 255 {
		t.Errorf("Attributes[brightness] = %v, want 255", second.Attributes["brightness"])
	}

	clock = clock.Add(5 * time.Second)
	third, err := s.Set("light.kitchen", "off", nil, bus.Context{})
	if err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if !third.LastChanged.Equal(third.LastUpdated) {
		t.Error("value change should move LastChanged to now")
	}
	if !third.LastChanged.After(second.LastChanged) {
		t.Error("value change should advance LastChanged")
	}
}

func TestStore_GetReturnsCopy(t *testing.T) {
	s := NewStore(nil)

	if _, err := s.Set("light.kitchen", "on", map[string]any{"color": map[string]any{"r": 255}}, bus.Context{}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got := s.Get("light.kitchen")
	got.Attributes["color"].(map[string]any)["r"] = 0
	got.Value = "tampered"

	again := s.Get("light.kitchen")
	if again.Value != "on" {
		t.Errorf("stored Value mutated through returned copy: %q", again.Value)
	}
	if r := again.Attributes["color"].(map[string]any)["r"]; r != 255 {
		t.Errorf("stored nested attribute mutated through returned copy: %v", r)
	}
}

func TestStore_SetCopiesCallerAttributes(t *testing.T) {
	s := NewStore(nil)

	attrs := map[string]any{"brightness": 100}
	if _, err := s.Set("light.kitchen", "on", attrs, bus.Context{}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	attrs["brightness"] = 0

	if got := s.Get("light.kitchen"); got.Attributes["brightness"] != 100 {
		t.Errorf("stored attributes aliased the caller's map: %v", got.Attributes["brightness"])
	}
}

func TestStore_GetUnknown(t *testing.T) {
	s := NewStore(nil)
	if got := s.Get("sensor.missing"); got != nil {
		t.Errorf("Get() for unknown entity = %v, want nil", got)
	}
}

func TestStore_Remove(t *testing.T) {
	s := NewStore(nil)

	if _, err := s.Set("light.kitchen", "on", nil, bus.Context{}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if !s.Remove("light.kitchen", bus.Context{}) {
		t.Error("Remove() = false for existing entity")
	}
	if got := s.Get("light.kitchen"); got != nil {
		t.Errorf("Get() after Remove = %v, want nil", got)
	}
	if s.Remove("light.kitchen", bus.Context{}) {
		t.Error("Remove() = true for already-removed entity")
	}
}

func TestStore_AllInsertionOrder(t *testing.T) {
	s := NewStore(nil)

	ids := []string{"light.kitchen", "sensor.temp", "switch.fan", "light.hall"}
	for _, id := range ids {
		if _, err := s.Set(id, "x", nil, bus.Context{}); err != nil {
			t.Fatalf("Set(%s) error = %v", id, err)
		}
	}

	// Updating an existing entity must not change its position.
	if _, err := s.Set("sensor.temp", "y", nil, bus.Context{}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	all := s.All()
	if len(all) != len(ids) {
		t.Fatalf("All() returned %d states, want %d", len(all), len(ids))
	}
	for i, st := range all {
		if st.EntityID != ids[i] {
			t.Errorf("All()[%d] = %q, want %q", i, st.EntityID, ids[i])
		}
	}
}

func TestStore_PublishesStateChanged(t *testing.T) {
	b := bus.New()
	defer b.Close()
	s := NewStore(b)

	type change struct {
		entityID string
		old, new *State
	}

	var mu sync.Mutex
	var changes []change
	b.Subscribe(bus.EventStateChanged, func(evt bus.Event) {
		data, ok := evt.StateChanged()
		if !ok {
			t.Error("event is not a state_changed event")
			return
		}
		c := change{entityID: data.EntityID}
		if st, ok := data.OldState.(*State); ok {
			c.old = st
		}
		if st, ok := data.NewState.(*State); ok {
			c.new = st
		}
		mu.Lock()
		changes = append(changes, c)
		mu.Unlock()
	})

	if _, err := s.Set("light.kitchen", "on", nil, bus.Context{}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if _, err := s.Set("light.kitchen", "off", nil, bus.Context{}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	s.Remove("light.kitchen", bus.Context{})

	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		n := len(changes)
		mu.Unlock()
		if n == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("received %d state_changed events, want 3", n)
		}
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()

	if changes[0].old != nil || changes[0].new == nil || changes[0].new.Value != "on" {
		t.Errorf("first change = %+v, want nil -> on", changes[0])
	}
	if changes[1].old == nil || changes[1].old.Value != "on" || changes[1].new.Value != "off" {
		t.Errorf("second change = %+v, want on -> off", changes[1])
	}
	if changes[2].old == nil || changes[2].new != nil {
		t.Errorf("removal change = %+v, want off -> nil", changes[2])
	}
}

// Writes to a single entity must reach subscribers in write order even
// when issued from many goroutines.
func TestStore_PerEntityEventOrder(t *testing.T) {
	b := bus.New()
	defer b.Close()
	s := NewStore(b)

	var mu sync.Mutex
	var seen []int
	b.Subscribe(bus.EventStateChanged, func(evt bus.Event) {
		data, _ := evt.StateChanged()
		st := data.NewState.(*State)
		mu.Lock()
		seen = append(seen, st.Attributes["seq"].(int))
		mu.Unlock()
	})

	const n, workers = 25, 4
	var next int
	var writeMu sync.Mutex
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < n; i++ {
				// Serialise seq assignment with the write so write order
				// and seq order agree.
				writeMu.Lock()
				seq := next
				next++
				_, err := s.Set("counter.test", "tick", map[string]any{"seq": seq}, bus.Context{})
				writeMu.Unlock()
				if err != nil {
					t.Errorf("Set() error = %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	total := n * workers
	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		m := len(seen)
		mu.Unlock()
		if m == total {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("received %d events, want %d", m, total)
		}
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	for i, seq := range seen {
		if seq != i {
			t.Fatalf("event %d carried seq %d: delivery out of write order", i, seq)
		}
	}
}

func TestStore_ReadYourWrites(t *testing.T) {
	s := NewStore(nil)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			id := "sensor.g" + string(rune('0'+g))
			for i := 0; i < 100; i++ {
				val := string(rune('a' + i%26))
				if _, err := s.Set(id, val, nil, bus.Context{}); err != nil {
					t.Errorf("Set() error = %v", err)
					return
				}
				got := s.Get(id)
				if got == nil || got.Value != val {
					t.Errorf("Get(%s) after Set = %v, want %q", id, got, val)
					return
				}
			}
		}(g)
	}
	wg.Wait()
}
