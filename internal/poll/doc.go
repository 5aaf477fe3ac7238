// Package poll implements the per-entity polling throttle that governs how
// often an integration may refresh a physical or cloud device.
//
// Many devices and rate-limited cloud APIs cannot tolerate overlapping
// requests or high polling frequency. Rather than every integration
// reimplementing ad hoc locking, the core centralises the policy here:
// RequestRefresh is the only sanctioned way to poll a device.
//
// The scheduler is deliberately a debouncer, not a queue. A request that
// arrives while a refresh is in flight, or before the minimum interval has
// elapsed, is dropped; the in-flight run is trusted to make progress.
package poll
