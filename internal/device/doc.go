// Package device maintains the last-known state of every wall-pad
// device and distributes state changes to subscribers.
//
// The registry is fed by a single consumer loop reading decoded
// DeviceEvents from the bus pipelines, so state transitions are applied
// in one total order without lock contention on the decode path.
// Snapshots may be taken concurrently. Last-known state persists to
// SQLite so restarts do not blank out entities while waiting for the
// wall-pad's next status broadcast, and every transition is recorded in
// a bounded state history for diagnostics.
package device
