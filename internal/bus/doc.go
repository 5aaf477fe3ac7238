// Package bus implements the process-wide publish/subscribe event broker
// that decouples producers and consumers of domain events.
//
// Every other core subsystem hangs off this bus: the state store publishes
// state_changed events, the recorder and telemetry exporters subscribe to
// them, and the trigger matcher listens for raw device events.
//
// # Delivery model
//
//   - Publish never blocks the publisher. Each subscription owns a buffered
//     queue drained by its own goroutine.
//   - Delivery to a given subscription is FIFO in publish order.
//   - No ordering guarantee is made across different subscriptions or types.
//   - A handler panic is recovered, logged, and swallowed; other subscribers
//     still receive the event.
//   - If a subscription's buffer overflows, events are dropped for that
//     subscriber (with a warning) rather than stalling the bus.
//
// # Usage
//
//	b := bus.New()
//	sub := b.Subscribe(bus.EventStateChanged, func(evt bus.Event) {
//	    // react to the event
//	})
//	defer sub.Cancel()
//
//	b.Publish(bus.EventStateChanged, map[string]any{"entity_id": "light.kitchen"}, bus.NewContext())
package bus
