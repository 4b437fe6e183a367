package device

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/lunDreame/ha-bestin/internal/infrastructure/database"
	"github.com/lunDreame/ha-bestin/internal/wallpad"

	_ "github.com/lunDreame/ha-bestin/migrations"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

func TestSQLiteRepositoryRoundTrip(t *testing.T) {
	db := openTestDB(t)
	repo := NewSQLiteRepository(db.DB)
	ctx := context.Background()

	addr := wallpad.DeviceAddress{Class: wallpad.ClassThermostat, Room: 2}
	state := DeviceState{
		Address: addr,
		Fields: wallpad.Fields{
			"hvac_mode":          "heat",
			"target_temperature": 21.5,
		},
		UpdatedAt: time.Now().UTC(),
	}

	if err := repo.SaveState(ctx, state); err != nil {
		t.Fatalf("SaveState() error = %v", err)
	}

	// Upsert replaces, not duplicates.
	state.Fields["target_temperature"] = 23.0
	if err := repo.SaveState(ctx, state); err != nil {
		t.Fatalf("SaveState() upsert error = %v", err)
	}

	states, err := repo.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	if len(states) != 1 {
		t.Fatalf("LoadAll() = %d states, want 1", len(states))
	}

	got := states[0]
	if got.Address != addr {
		t.Errorf("address = %v, want %v", got.Address, addr)
	}
	if got.Fields["hvac_mode"] != "heat" {
		t.Errorf("hvac_mode = %v, want heat", got.Fields["hvac_mode"])
	}
	// JSON numbers come back as float64.
	if got.Fields["target_temperature"] != 23.0 {
		t.Errorf("target_temperature = %v, want 23", got.Fields["target_temperature"])
	}

	if err := repo.Delete(ctx, addr); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	states, err = repo.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll() after delete error = %v", err)
	}
	if len(states) != 0 {
		t.Errorf("LoadAll() after delete = %d states, want 0", len(states))
	}
}

func TestRegistryLoadsPersistedState(t *testing.T) {
	db := openTestDB(t)
	repo := NewSQLiteRepository(db.DB)
	ctx := context.Background()

	addr := wallpad.DeviceAddress{Class: wallpad.ClassLight, Room: 1, Index: 2}
	if err := repo.SaveState(ctx, DeviceState{
		Address:   addr,
		Fields:    wallpad.Fields{"state": true},
		UpdatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("SaveState() error = %v", err)
	}

	r := NewRegistry(repo, nil)
	if err := r.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	state, err := r.Snapshot(addr)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if state.Fields["state"] != true {
		t.Errorf("restored state = %v, want true", state.Fields["state"])
	}
}

func TestSQLiteStateHistory(t *testing.T) {
	db := openTestDB(t)
	history := NewSQLiteStateHistory(db.DB)
	ctx := context.Background()

	addr := wallpad.DeviceAddress{Class: wallpad.ClassOutlet, Room: 1, Index: 0}
	for i, power := range []float64{10, 20, 30} {
		err := history.Record(ctx, DeviceState{
			Address: addr,
			Fields:  wallpad.Fields{"power_usage": power},
		}, []string{"power_usage"})
		if err != nil {
			t.Fatalf("Record() #%d error = %v", i, err)
		}
	}

	entries, err := history.History(ctx, addr, 2)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("History() = %d entries, want 2", len(entries))
	}
	if entries[0].Fields["power_usage"] != 30.0 {
		t.Errorf("newest entry power = %v, want 30", entries[0].Fields["power_usage"])
	}
	if len(entries[0].Changed) != 1 || entries[0].Changed[0] != "power_usage" {
		t.Errorf("Changed = %v, want [power_usage]", entries[0].Changed)
	}

	pruned, err := history.Prune(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if pruned != 3 {
		t.Errorf("Prune() = %d rows, want 3", pruned)
	}
}
