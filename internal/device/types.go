package device

import (
	"time"

	"github.com/lunDreame/ha-bestin/internal/wallpad"
)

// DeviceState is the registry's view of one device: its address, the
// merged decoded fields and when a report last touched it.
type DeviceState struct {
	Address   wallpad.DeviceAddress
	Fields    wallpad.Fields
	UpdatedAt time.Time
}

// DeepCopy returns a copy whose Fields map is independent of the
// original, so registry internals never leak to callers.
func (s DeviceState) DeepCopy() DeviceState {
	fields := make(wallpad.Fields, len(s.Fields))
	for k, v := range s.Fields {
		fields[k] = v
	}
	return DeviceState{Address: s.Address, Fields: fields, UpdatedAt: s.UpdatedAt}
}

// StateChange is delivered to subscribers when a state report changed
// at least one field.
type StateChange struct {
	State DeviceState

	// Changed lists the field names whose values differ from the
	// previous state, sorted.
	Changed []string

	// New marks the first report ever seen for this address.
	New bool
}

// Logger is the logging interface the registry uses, satisfied by the
// infrastructure logging wrapper.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
