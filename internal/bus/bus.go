package bus

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Logger defines the logging interface used by the Bus.
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

// subscriptionQueueSize is the per-subscription delivery buffer. Events beyond
// this are dropped with a warning rather than blocking the publisher.
const subscriptionQueueSize = 256

// Handler is the callback signature for subscribed event handlers.
//
// Handlers run on the subscription's own delivery goroutine, so a slow
// handler delays only its own subscription. Panics are recovered and logged.
type Handler func(Event)

// Subscription is the removal token returned by Subscribe.
type Subscription struct {
	id        string
	eventType EventType
	handler   Handler

	queue chan Event
	once  sync.Once
	bus   *Bus
}

// Cancel removes the subscription from the bus and stops its delivery
// goroutine once the already-queued events have been handled.
// Cancel is idempotent; calling it twice is a no-op.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.bus.remove(s)
		close(s.queue)
	})
}

// Bus is the process-wide publish/subscribe broker.
//
// Publish never blocks on subscribers: each subscription owns a buffered
// queue drained by a dedicated goroutine, which gives per-subscription FIFO
// delivery in publish order and isolates slow or faulty handlers.
//
// Thread Safety: all methods are safe for concurrent use.
type Bus struct {
	mu     sync.RWMutex
	subs   map[EventType][]*Subscription
	closed bool

	wg     sync.WaitGroup
	logger Logger
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		subs:   make(map[EventType][]*Subscription),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the bus.
func (b *Bus) SetLogger(logger Logger) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logger = logger
}

// Subscribe registers a handler for an event type.
//
// Multiple handlers per type are allowed; they are notified in registration
// order. The returned Subscription cancels the registration.
//
// Parameters:
//   - eventType: Event type to receive
//   - handler: Callback invoked for each matching event
//
// Returns:
//   - *Subscription: Token for removal via Cancel()
func (b *Bus) Subscribe(eventType EventType, handler Handler) *Subscription {
	sub := &Subscription{
		id:        uuid.NewString(),
		eventType: eventType,
		handler:   handler,
		queue:     make(chan Event, subscriptionQueueSize),
		bus:       b,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.queue)
		return sub
	}
	b.subs[eventType] = append(b.subs[eventType], sub)
	b.mu.Unlock()

	b.wg.Add(1)
	go b.deliver(sub)

	return sub
}

// Publish broadcasts an event to all current subscribers of its type.
//
// The publisher is never blocked: delivery is enqueued onto each
// subscription's buffer. If a subscriber's buffer is full the event is
// dropped for that subscriber and a warning is logged.
//
// Parameters:
//   - eventType: Event type to publish
//   - data: Event payload (may be nil)
//   - eventCtx: Causal context; a fresh one is generated when zero
func (b *Bus) Publish(eventType EventType, data map[string]any, eventCtx Context) {
	if eventCtx.ID == "" {
		eventCtx = NewContext()
	}

	evt := Event{
		Type:      eventType,
		Data:      data,
		TimeFired: time.Now().UTC(),
		Context:   eventCtx,
	}

	// Enqueue under the read lock so Cancel/Close (which need the write lock
	// before closing a queue) cannot close a channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs[eventType] {
		select {
		case sub.queue <- evt:
		default:
			b.logger.Warn("event dropped for slow subscriber",
				"event_type", eventType,
				"subscription", sub.id,
			)
		}
	}
}

// Close cancels all subscriptions and waits for queued events to drain.
// After Close, Publish is a no-op and Subscribe returns inert tokens.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	var all []*Subscription
	for _, subs := range b.subs {
		all = append(all, subs...)
	}
	b.subs = make(map[EventType][]*Subscription)
	b.mu.Unlock()

	for _, sub := range all {
		sub.once.Do(func() {
			close(sub.queue)
		})
	}

	b.wg.Wait()
}

// deliver drains a subscription's queue, invoking the handler for each event
// with panic recovery. Runs until the queue is closed by Cancel or Close.
func (b *Bus) deliver(sub *Subscription) {
	defer b.wg.Done()
	for evt := range sub.queue {
		b.invoke(sub, evt)
	}
}

// invoke calls a single handler, recovering and logging any panic so one
// faulty subscriber cannot take down the bus or starve its peers.
func (b *Bus) invoke(sub *Subscription, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.mu.RLock()
			logger := b.logger
			b.mu.RUnlock()
			logger.Error("event handler panic recovered",
				"event_type", evt.Type,
				"subscription", sub.id,
				"panic", r,
			)
		}
	}()

	sub.handler(evt)
}

// remove deletes a subscription from the registry. Called by Cancel.
func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[sub.eventType]
	for i, s := range subs {
		if s.id == sub.id {
			b.subs[sub.eventType] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[sub.eventType]) == 0 {
		delete(b.subs, sub.eventType)
	}
}

// SubscriberCount returns the number of active subscriptions for an event
// type. Intended for monitoring and tests.
func (b *Bus) SubscriberCount(eventType EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[eventType])
}
