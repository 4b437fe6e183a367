package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lunDreame/ha-bestin/internal/wallpad"
)

// Repository persists last-known device state across restarts.
type Repository interface {
	// SaveState upserts the state for one device.
	SaveState(ctx context.Context, state DeviceState) error

	// LoadAll returns every persisted device state.
	LoadAll(ctx context.Context) ([]DeviceState, error)

	// Delete removes a device's persisted state.
	Delete(ctx context.Context, addr wallpad.DeviceAddress) error
}

// SQLiteRepository implements Repository on the device_states table,
// storing decoded fields as JSON.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository over an open database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// SaveState upserts one device's state.
func (r *SQLiteRepository) SaveState(ctx context.Context, state DeviceState) error {
	fieldsJSON, err := json.Marshal(state.Fields)
	if err != nil {
		return fmt.Errorf("marshalling fields: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO device_states (id, class, room, idx, fields, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			fields = excluded.fields,
			updated_at = excluded.updated_at`,
		state.Address.ID(),
		state.Address.Class.String(),
		state.Address.Room,
		state.Address.Index,
		string(fieldsJSON),
		state.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upserting device state: %w", err)
	}
	return nil
}

// LoadAll returns every persisted state. Rows with unparseable
// addresses or fields are skipped rather than failing startup.
func (r *SQLiteRepository) LoadAll(ctx context.Context) ([]DeviceState, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, fields, updated_at FROM device_states")
	if err != nil {
		return nil, fmt.Errorf("querying device states: %w", err)
	}
	defer rows.Close()

	var states []DeviceState
	for rows.Next() {
		var id, fieldsJSON, updatedAt string
		if err := rows.Scan(&id, &fieldsJSON, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning device state: %w", err)
		}

		addr, err := wallpad.ParseAddress(id)
		if err != nil {
			continue
		}

		state := DeviceState{Address: addr, Fields: wallpad.Fields{}}
		if err := json.Unmarshal([]byte(fieldsJSON), &state.Fields); err != nil {
			continue
		}
		if ts, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
			state.UpdatedAt = ts
		}
		states = append(states, state)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device states: %w", err)
	}
	return states, nil
}

// Delete removes one device's persisted state.
func (r *SQLiteRepository) Delete(ctx context.Context, addr wallpad.DeviceAddress) error {
	_, err := r.db.ExecContext(ctx,
		"DELETE FROM device_states WHERE id = ?", addr.ID())
	if err != nil {
		return fmt.Errorf("deleting device state: %w", err)
	}
	return nil
}
