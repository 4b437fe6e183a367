package device

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lunDreame/ha-bestin/internal/wallpad"
)

// Registry holds the last-known state of every device seen on the
// buses.
//
// Apply order: Run is the only writer, consuming decoded events from a
// single channel, so subscribers observe transitions in one consistent
// total order. Snapshots take a read lock only.
type Registry struct {
	repo    Repository
	history StateHistory
	log     Logger

	mu     sync.RWMutex
	states map[wallpad.DeviceAddress]DeviceState

	subMu   sync.Mutex
	subs    map[int]chan StateChange
	nextSub int
	closed  bool

	applied uint64
	dropped uint64
}

// NewRegistry creates a registry. repo and history are optional; nil
// disables persistence and history recording.
func NewRegistry(repo Repository, history StateHistory) *Registry {
	return &Registry{
		repo:    repo,
		history: history,
		log:     noopLogger{},
		states:  make(map[wallpad.DeviceAddress]DeviceState),
		subs:    make(map[int]chan StateChange),
	}
}

// SetLogger sets the registry logger.
func (r *Registry) SetLogger(log Logger) {
	if log != nil {
		r.log = log
	}
}

// Load seeds the in-memory state from the repository. Call once before
// Run so restored state is visible before live traffic arrives.
func (r *Registry) Load(ctx context.Context) error {
	if r.repo == nil {
		return nil
	}

	states, err := r.repo.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("loading device states: %w", err)
	}

	r.mu.Lock()
	for _, s := range states {
		r.states[s.Address] = s.DeepCopy()
	}
	r.mu.Unlock()

	r.log.Info("device states restored", "count", len(states))
	return nil
}

// Run consumes decoded events until the channel closes or ctx is
// cancelled. Only StateReport events mutate state; acks and
// unrecognized frames pass through untouched.
func (r *Registry) Run(ctx context.Context, events <-chan wallpad.DeviceEvent) error {
	defer r.closeSubscribers()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Kind != wallpad.EventStateReport {
				continue
			}
			r.apply(ctx, ev)
		}
	}
}

// apply merges one state report, last-write-wins per field, and
// notifies subscribers when anything changed.
func (r *Registry) apply(ctx context.Context, ev wallpad.DeviceEvent) {
	r.mu.Lock()

	prev, existed := r.states[ev.Address]
	next := DeviceState{
		Address:   ev.Address,
		Fields:    make(wallpad.Fields, len(prev.Fields)+len(ev.Fields)),
		UpdatedAt: time.Now().UTC(),
	}
	for k, v := range prev.Fields {
		next.Fields[k] = v
	}

	var changed []string
	for k, v := range ev.Fields {
		if old, ok := next.Fields[k]; !ok || old != v {
			changed = append(changed, k)
		}
		next.Fields[k] = v
	}

	r.states[ev.Address] = next
	r.applied++
	r.mu.Unlock()

	if len(changed) == 0 && existed {
		return
	}
	sort.Strings(changed)

	change := StateChange{State: next.DeepCopy(), Changed: changed, New: !existed}
	r.log.Debug("state changed",
		"device", ev.Address.ID(),
		"changed", changed,
		"new", !existed)

	if r.repo != nil {
		if err := r.repo.SaveState(ctx, next); err != nil {
			r.log.Warn("persisting device state", "device", ev.Address.ID(), "error", err)
		}
	}
	if r.history != nil {
		if err := r.history.Record(ctx, next, changed); err != nil {
			r.log.Warn("recording state history", "device", ev.Address.ID(), "error", err)
		}
	}

	r.notify(change)
}

// Snapshot returns the last-known state for an address.
func (r *Registry) Snapshot(addr wallpad.DeviceAddress) (DeviceState, error) {
	r.mu.RLock()
	state, ok := r.states[addr]
	r.mu.RUnlock()

	if !ok {
		return DeviceState{}, fmt.Errorf("%w: %s", ErrStateNotFound, addr.ID())
	}
	return state.DeepCopy(), nil
}

// All returns every known device state, in no particular order.
func (r *Registry) All() []DeviceState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]DeviceState, 0, len(r.states))
	for _, s := range r.states {
		out = append(out, s.DeepCopy())
	}
	return out
}

// Applied returns how many state reports have been merged.
func (r *Registry) Applied() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.applied
}

// Subscribe registers a state-change listener. The channel receives
// every change until cancel is called or the registry stops; a slow
// subscriber loses changes rather than stalling the apply loop.
func (r *Registry) Subscribe(buffer int) (<-chan StateChange, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan StateChange, buffer)

	r.subMu.Lock()
	if r.closed {
		r.subMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := r.nextSub
	r.nextSub++
	r.subs[id] = ch
	r.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			r.subMu.Lock()
			if _, ok := r.subs[id]; ok {
				delete(r.subs, id)
				close(ch)
			}
			r.subMu.Unlock()
		})
	}
	return ch, cancel
}

func (r *Registry) notify(change StateChange) {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	for _, ch := range r.subs {
		select {
		case ch <- change:
		default:
			r.mu.Lock()
			r.dropped++
			r.mu.Unlock()
		}
	}
}

func (r *Registry) closeSubscribers() {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	r.closed = true
	for id, ch := range r.subs {
		delete(r.subs, id)
		close(ch)
	}
}
