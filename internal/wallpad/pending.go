package wallpad

import (
	"sync"
	"time"
)

// defaultCommandTimeout is how long a command may wait for its
// acknowledgement before it is reported as timed out.
const defaultCommandTimeout = 2 * time.Second

// pendingKey identifies an in-flight command. One command per
// address/action pair may be outstanding; a newer identical request
// supersedes the older one.
type pendingKey struct {
	addr   DeviceAddress
	action Action
}

type pendingEntry struct {
	cmd      Command
	result   chan error
	deadline time.Time
}

// PendingStats counts command outcomes.
type PendingStats struct {
	Acked      uint64
	TimedOut   uint64
	Superseded uint64
}

// PendingTable tracks commands awaiting acknowledgement.
//
// The wall-pad acknowledges a command by echoing its type byte with bit
// 0x80 set. There is no automatic retransmission: a missed ack is
// reported to the caller as ErrCommandTimeout and retrying is the
// caller's decision.
type PendingTable struct {
	mu      sync.Mutex
	entries map[pendingKey]*pendingEntry
	timeout time.Duration
	stats   PendingStats
}

// NewPendingTable creates a table. timeout <= 0 selects the default.
func NewPendingTable(timeout time.Duration) *PendingTable {
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	return &PendingTable{
		entries: make(map[pendingKey]*pendingEntry),
		timeout: timeout,
	}
}

// Track registers a sent command and returns the channel its outcome
// will be delivered on: nil on ack, ErrCommandTimeout on expiry or
// ErrCommandSuperseded if a newer identical request replaces it. The
// channel is buffered; the caller need not be listening.
//
// Commands with ExpectAck false complete immediately.
func (t *PendingTable) Track(cmd Command) <-chan error {
	result := make(chan error, 1)

	if !cmd.ExpectAck {
		result <- nil
		return result
	}

	key := pendingKey{addr: cmd.Request.Address, action: cmd.Request.Action}

	t.mu.Lock()
	defer t.mu.Unlock()

	if old, ok := t.entries[key]; ok {
		old.result <- ErrCommandSuperseded
		t.stats.Superseded++
	}
	t.entries[key] = &pendingEntry{
		cmd:      cmd,
		result:   result,
		deadline: time.Now().Add(t.timeout),
	}
	return result
}

// Resolve completes every pending command whose target address and
// expected ack type match a decoded frame. Returns how many commands
// were acknowledged.
func (t *PendingTable) Resolve(addr DeviceAddress, packetType byte) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	var n int
	for key, entry := range t.entries {
		if key.addr == addr && entry.cmd.AckType == packetType {
			entry.result <- nil
			delete(t.entries, key)
			t.stats.Acked++
			n++
		}
	}
	return n
}

// Expire sweeps entries whose deadline has passed, delivering
// ErrCommandTimeout, and returns the timed-out requests for logging.
func (t *PendingTable) Expire(now time.Time) []Request {
	t.mu.Lock()
	defer t.mu.Unlock()

	var expired []Request
	for key, entry := range t.entries {
		if now.After(entry.deadline) {
			entry.result <- ErrCommandTimeout
			delete(t.entries, key)
			t.stats.TimedOut++
			expired = append(expired, entry.cmd.Request)
		}
	}
	return expired
}

// Cancel removes a still-pending command without delivering a result.
// Reports whether an entry was removed.
func (t *PendingTable) Cancel(addr DeviceAddress, action Action) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := pendingKey{addr: addr, action: action}
	if _, ok := t.entries[key]; !ok {
		return false
	}
	delete(t.entries, key)
	return true
}

// Close fails every outstanding command with err. Used on pipeline
// shutdown.
func (t *PendingTable) Close(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key, entry := range t.entries {
		entry.result <- err
		delete(t.entries, key)
	}
}

// Len returns the number of in-flight commands.
func (t *PendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Stats returns a snapshot of the outcome counters.
func (t *PendingTable) Stats() PendingStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}
