package bus

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// waitFor polls until cond returns true or the timeout expires.
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

func TestPublish_FanOut(t *testing.T) {
	b := New()
	defer b.Close()

	var count atomic.Int32
	for i := 0; i < 3; i++ {
		b.Subscribe("x", func(Event) {
			count.Add(1)
		})
	}

	b.Publish("x", nil, Context{})

	waitFor(t, time.Second, func() bool { return count.Load() == 3 })
}

func TestPublish_SubscriberPanicIsolated(t *testing.T) {
	b := New()
	defer b.Close()

	var second, third atomic.Bool
	b.Subscribe("x", func(Event) {
		panic("boom")
	})
	b.Subscribe("x", func(Event) {
		second.Store(true)
	})
	b.Subscribe("x", func(Event) {
		third.Store(true)
	})

	b.Publish("x", nil, Context{})

	waitFor(t, time.Second, func() bool { return second.Load() && third.Load() })
}

func TestPublish_TypeFiltering(t *testing.T) {
	b := New()
	defer b.Close()

	var got atomic.Int32
	b.Subscribe("wanted", func(Event) { got.Add(1) })

	b.Publish("other", nil, Context{})
	b.Publish("wanted", nil, Context{})

	waitFor(t, time.Second, func() bool { return got.Load() == 1 })

	// Give the unwanted event a chance to misdeliver.
	time.Sleep(10 * time.Millisecond)
	if got.Load() != 1 {
		t.Errorf("handler invoked %d times, want 1", got.Load())
	}
}

func TestPublish_PerSubscriptionOrder(t *testing.T) {
	b := New()
	defer b.Close()

	var mu sync.Mutex
	var seen []int
	b.Subscribe("seq", func(evt Event) {
		mu.Lock()
		seen = append(seen, evt.Data["n"].(int))
		mu.Unlock()
	})

	const n = 100
	for i := 0; i < n; i++ {
		b.Publish("seq", map[string]any{"n": i}, Context{})
	}

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == n
	})

	mu.Lock()
	defer mu.Unlock()
	for i, v := range seen {
		if v != i {
			t.Fatalf("event %d delivered out of order: got %d", i, v)
		}
	}
}

func TestSubscription_CancelIdempotent(t *testing.T) {
	b := New()
	defer b.Close()

	var count atomic.Int32
	sub := b.Subscribe("x", func(Event) { count.Add(1) })

	if got := b.SubscriberCount("x"); got != 1 {
		t.Fatalf("SubscriberCount = %d, want 1", got)
	}

	sub.Cancel()
	sub.Cancel() // Second cancel must be a no-op.

	if got := b.SubscriberCount("x"); got != 0 {
		t.Fatalf("SubscriberCount after cancel = %d, want 0", got)
	}

	b.Publish("x", nil, Context{})
	time.Sleep(10 * time.Millisecond)
	if count.Load() != 0 {
		t.Errorf("cancelled subscription received %d events", count.Load())
	}
}

func TestClose_DrainsQueuedEvents(t *testing.T) {
	b := New()

	var count atomic.Int32
	b.Subscribe("x", func(Event) {
		time.Sleep(time.Millisecond)
		count.Add(1)
	})

	const n = 20
	for i := 0; i < n; i++ {
		b.Publish("x", nil, Context{})
	}

	b.Close()

	if count.Load() != n {
		t.Errorf("handled %d events before Close returned, want %d", count.Load(), n)
	}
}

func TestPublishAfterClose_NoOp(t *testing.T) {
	b := New()

	var count atomic.Int32
	b.Subscribe("x", func(Event) { count.Add(1) })
	b.Close()

	b.Publish("x", nil, Context{})
	time.Sleep(10 * time.Millisecond)
	if count.Load() != 0 {
		t.Errorf("event delivered after Close")
	}
}

func TestContext_Chain(t *testing.T) {
	parent := NewContext()
	parent.UserID = "user-1"

	child := ChildContext(parent)

	if child.ID == "" || child.ID == parent.ID {
		t.Errorf("child ID %q should be fresh", child.ID)
	}
	if child.ParentID != parent.ID {
		t.Errorf("ParentID = %q, want %q", child.ParentID, parent.ID)
	}
	if child.UserID != "user-1" {
		t.Errorf("UserID = %q, want user-1", child.UserID)
	}
}

func TestEvent_StateChangedAccessor(t *testing.T) {
	evt := Event{
		Type: EventStateChanged,
		Data: map[string]any{
			"entity_id": "light.kitchen",
			"old_state": nil,
			"new_state": "on",
		},
	}

	data, ok := evt.StateChanged()
	if !ok {
		t.Fatal("StateChanged() ok = false, want true")
	}
	if data.EntityID != "light.kitchen" {
		t.Errorf("EntityID = %q, want light.kitchen", data.EntityID)
	}
	if data.NewState != "on" {
		t.Errorf("NewState = %v, want on", data.NewState)
	}

	if _, ok := (Event{Type: EventDeviceEvent}).StateChanged(); ok {
		t.Error("StateChanged() on non-state event should return false")
	}
}
