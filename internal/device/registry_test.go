package device

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lunDreame/ha-bestin/internal/wallpad"
)

func outletReport(power float64, on bool) wallpad.DeviceEvent {
	return wallpad.DeviceEvent{
		Address: wallpad.DeviceAddress{Class: wallpad.ClassOutlet, Room: 1, Index: 0},
		Kind:    wallpad.EventStateReport,
		Fields:  wallpad.Fields{"state": on, "power_usage": power},
	}
}

func runRegistry(t *testing.T, r *Registry) chan<- wallpad.DeviceEvent {
	t.Helper()

	events := make(chan wallpad.DeviceEvent)
	done := make(chan struct{})
	go func() {
		r.Run(context.Background(), events)
		close(done)
	}()
	t.Cleanup(func() {
		close(events)
		<-done
	})
	return events
}

func TestRegistryLastWriteWins(t *testing.T) {
	r := NewRegistry(nil, nil)
	changes, cancel := r.Subscribe(8)
	defer cancel()

	events := runRegistry(t, r)
	addr := wallpad.DeviceAddress{Class: wallpad.ClassOutlet, Room: 1, Index: 0}

	events <- outletReport(123, true)
	waitChange(t, changes)

	state, err := r.Snapshot(addr)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if got := state.Fields["power_usage"]; got != 123.0 {
		t.Errorf("power_usage = %v, want 123", got)
	}

	events <- outletReport(0, true)
	waitChange(t, changes)

	state, err = r.Snapshot(addr)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if got := state.Fields["power_usage"]; got != 0.0 {
		t.Errorf("power_usage after second report = %v, want 0", got)
	}
	if got := state.Fields["state"]; got != true {
		t.Errorf("state = %v, want true", got)
	}
}

func TestRegistryChangeNotification(t *testing.T) {
	r := NewRegistry(nil, nil)
	changes, cancel := r.Subscribe(8)
	defer cancel()

	events := runRegistry(t, r)

	events <- outletReport(50, true)
	first := waitChange(t, changes)
	if !first.New {
		t.Error("first change New = false, want true")
	}
	if len(first.Changed) != 2 {
		t.Errorf("first change Changed = %v, want two fields", first.Changed)
	}

	// Identical report: no notification.
	events <- outletReport(50, true)

	// A differing report arrives afterwards; if the identical one had
	// notified, we would see it first.
	events <- outletReport(60, true)
	second := waitChange(t, changes)
	if second.New {
		t.Error("second change New = true, want false")
	}
	if len(second.Changed) != 1 || second.Changed[0] != "power_usage" {
		t.Errorf("second change Changed = %v, want [power_usage]", second.Changed)
	}
	if got := second.State.Fields["power_usage"]; got != 60.0 {
		t.Errorf("second change power = %v, want 60", got)
	}
}

func TestRegistryIgnoresNonStateEvents(t *testing.T) {
	r := NewRegistry(nil, nil)
	events := runRegistry(t, r)

	addr := wallpad.DeviceAddress{Class: wallpad.ClassLight, Room: 1, Index: 0}
	events <- wallpad.DeviceEvent{
		Address: addr,
		Kind:    wallpad.EventAckResponse,
		Fields:  wallpad.Fields{"state": true},
	}
	events <- wallpad.DeviceEvent{Kind: wallpad.EventUnrecognized}

	// Apply a real report so we know the loop has processed the queue.
	events <- outletReport(1, true)
	waitApplied(t, r, 1)

	if _, err := r.Snapshot(addr); !errors.Is(err, ErrStateNotFound) {
		t.Errorf("Snapshot(acked-only address) error = %v, want ErrStateNotFound", err)
	}
}

func TestRegistrySnapshotUnknown(t *testing.T) {
	r := NewRegistry(nil, nil)
	addr := wallpad.DeviceAddress{Class: wallpad.ClassGasValve}
	if _, err := r.Snapshot(addr); !errors.Is(err, ErrStateNotFound) {
		t.Errorf("Snapshot() error = %v, want ErrStateNotFound", err)
	}
}

func TestRegistrySnapshotIsCopy(t *testing.T) {
	r := NewRegistry(nil, nil)
	events := runRegistry(t, r)

	events <- outletReport(10, true)
	waitApplied(t, r, 1)

	addr := wallpad.DeviceAddress{Class: wallpad.ClassOutlet, Room: 1, Index: 0}
	state, err := r.Snapshot(addr)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	state.Fields["power_usage"] = 999.0

	again, _ := r.Snapshot(addr)
	if got := again.Fields["power_usage"]; got != 10.0 {
		t.Errorf("registry state mutated through snapshot: power = %v", got)
	}
}

func TestRegistryAll(t *testing.T) {
	r := NewRegistry(nil, nil)
	events := runRegistry(t, r)

	events <- outletReport(10, true)
	events <- wallpad.DeviceEvent{
		Address: wallpad.DeviceAddress{Class: wallpad.ClassLight, Room: 2, Index: 1},
		Kind:    wallpad.EventStateReport,
		Fields:  wallpad.Fields{"state": false},
	}
	waitApplied(t, r, 2)

	if got := len(r.All()); got != 2 {
		t.Errorf("All() = %d states, want 2", got)
	}
}

func waitChange(t *testing.T, ch <-chan StateChange) StateChange {
	t.Helper()
	select {
	case change := <-ch:
		return change
	case <-time.After(2 * time.Second):
		t.Fatal("no state change delivered")
		return StateChange{}
	}
}

func waitApplied(t *testing.T, r *Registry, n uint64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r.Applied() >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("registry applied %d events, want %d", r.Applied(), n)
}
