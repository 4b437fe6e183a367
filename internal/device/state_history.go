package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lunDreame/ha-bestin/internal/wallpad"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// StateHistory records device state transitions for diagnostics.
type StateHistory interface {
	// Record appends one transition with the fields that changed.
	Record(ctx context.Context, state DeviceState, changed []string) error

	// History returns recent transitions for a device, newest first.
	History(ctx context.Context, addr wallpad.DeviceAddress, limit int) ([]HistoryEntry, error)

	// Prune deletes entries older than the cutoff, returning how many
	// rows were removed.
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// HistoryEntry is one recorded state transition.
type HistoryEntry struct {
	Address    wallpad.DeviceAddress
	Fields     wallpad.Fields
	Changed    []string
	RecordedAt time.Time
}

// SQLiteStateHistory implements StateHistory on the state_history
// table, storing the full field snapshot as JSON.
type SQLiteStateHistory struct {
	db *sql.DB
}

// NewSQLiteStateHistory creates a history store over an open database.
func NewSQLiteStateHistory(db *sql.DB) *SQLiteStateHistory {
	return &SQLiteStateHistory{db: db}
}

// Record appends one transition.
func (h *SQLiteStateHistory) Record(ctx context.Context, state DeviceState, changed []string) error {
	fieldsJSON, err := json.Marshal(state.Fields)
	if err != nil {
		return fmt.Errorf("marshalling fields: %w", err)
	}

	_, err = h.db.ExecContext(ctx,
		"INSERT INTO state_history (device_id, fields, changed) VALUES (?, ?, ?)",
		state.Address.ID(),
		string(fieldsJSON),
		strings.Join(changed, ","),
	)
	if err != nil {
		return fmt.Errorf("inserting state history: %w", err)
	}
	return nil
}

// History returns recent transitions for a device, newest first.
// limit defaults to 50 and is capped at 200.
func (h *SQLiteStateHistory) History(ctx context.Context, addr wallpad.DeviceAddress, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := h.db.QueryContext(ctx, `
		SELECT fields, changed, recorded_at
		FROM state_history
		WHERE device_id = ?
		ORDER BY recorded_at DESC, id DESC
		LIMIT ?`,
		addr.ID(), limit)
	if err != nil {
		return nil, fmt.Errorf("querying state history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var fieldsJSON, changed string
		var recordedAt time.Time
		if err := rows.Scan(&fieldsJSON, &changed, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning state history: %w", err)
		}

		entry := HistoryEntry{Address: addr, Fields: wallpad.Fields{}, RecordedAt: recordedAt}
		if err := json.Unmarshal([]byte(fieldsJSON), &entry.Fields); err != nil {
			continue
		}
		if changed != "" {
			entry.Changed = strings.Split(changed, ",")
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating state history: %w", err)
	}
	return entries, nil
}

// Prune deletes entries recorded before the cutoff.
func (h *SQLiteStateHistory) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := h.db.ExecContext(ctx,
		"DELETE FROM state_history WHERE recorded_at < ?",
		before.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		return 0, fmt.Errorf("pruning state history: %w", err)
	}
	return res.RowsAffected()
}
