package wallpad

import (
	"fmt"
	"strconv"
	"strings"
)

// Bus identifies which physical bus segment a frame arrived on or a
// command should be sent to.
type Bus uint8

// Bus segments.
const (
	// BusControl carries lighting, outlet, thermostat, ventilation,
	// doorlock, gas valve, elevator and batch-switch traffic.
	BusControl Bus = iota

	// BusEnergy carries HEMS meter telemetry (and outlet live power on
	// some installations).
	BusEnergy
)

// String returns the bus name used in logs and config.
func (b Bus) String() string {
	switch b {
	case BusControl:
		return "control"
	case BusEnergy:
		return "energy"
	default:
		return fmt.Sprintf("bus(%d)", uint8(b))
	}
}

// Generation identifies the gateway firmware generation. Field layouts
// and sub-variant behaviour differ between generations, so it must be
// configured explicitly per connection.
type Generation uint8

// Gateway generations.
const (
	Generation10 Generation = 1 // "1.0" gateways
	Generation20 Generation = 2 // "2.0" gateways
)

// String returns the generation label used in config ("1.0", "2.0").
func (g Generation) String() string {
	switch g {
	case Generation10:
		return "1.0"
	case Generation20:
		return "2.0"
	default:
		return fmt.Sprintf("generation(%d)", uint8(g))
	}
}

// ParseGeneration maps a config label to a Generation.
func ParseGeneration(s string) (Generation, error) {
	switch s {
	case "1.0":
		return Generation10, nil
	case "2.0":
		return Generation20, nil
	default:
		return 0, fmt.Errorf("wallpad: unknown generation %q", s)
	}
}

// Variant selects between packet-layout sub-variants within a gateway
// generation. Never auto-detected: overlapping packet shapes make
// detection ambiguous, so the variant comes from configuration.
type Variant uint8

// Gateway sub-variants.
const (
	// VariantDefault is the common 1.0-generation layout.
	VariantDefault Variant = iota

	// VariantAIO is the 2.0-generation all-in-one wall-pad layout
	// (per-room 0x50+room headers).
	VariantAIO

	// VariantDimming is the 2.0-generation dimming-capable layout
	// (per-room 0x30+room headers). Its energy-controller report layout
	// is not fully reverse-engineered; see Decoder.
	VariantDimming
)

// String returns the variant label used in config.
func (v Variant) String() string {
	switch v {
	case VariantDefault:
		return "default"
	case VariantAIO:
		return "aio"
	case VariantDimming:
		return "dimming"
	default:
		return fmt.Sprintf("variant(%d)", uint8(v))
	}
}

// ParseVariant maps a config label to a Variant.
func ParseVariant(s string) (Variant, error) {
	switch s {
	case "default":
		return VariantDefault, nil
	case "aio":
		return VariantAIO, nil
	case "dimming":
		return VariantDimming, nil
	default:
		return 0, fmt.Errorf("wallpad: unknown variant %q", s)
	}
}

// DeviceClass is the tagged device-class enumeration used for
// classification and command dispatch.
type DeviceClass uint8

// Device classes addressable on the wall-pad buses.
const (
	ClassThermostat DeviceClass = iota + 1
	ClassVentilation
	ClassDimmingLight
	ClassLight
	ClassOutlet
	ClassEnergy
	ClassDoorlock
	ClassElevator
	ClassGasValve
	ClassBatchSwitch
	ClassIntercom
)

// classNames maps classes to the stable names used in device IDs,
// MQTT topics and persisted state.
var classNames = map[DeviceClass]string{
	ClassThermostat:   "thermostat",
	ClassVentilation:  "ventilation",
	ClassDimmingLight: "dimminglight",
	ClassLight:        "light",
	ClassOutlet:       "outlet",
	ClassEnergy:       "energy",
	ClassDoorlock:     "doorlock",
	ClassElevator:     "elevator",
	ClassGasValve:     "gasvalve",
	ClassBatchSwitch:  "batchswitch",
	ClassIntercom:     "intercom",
}

// String returns the stable class name.
func (c DeviceClass) String() string {
	if name, ok := classNames[c]; ok {
		return name
	}
	return fmt.Sprintf("class(%d)", uint8(c))
}

// DeviceAddress is the composite key identifying a single device on the
// buses: class, room (or unit) and sub-index within the room. It is
// stable for the lifetime of the integration and indexes the device
// state registry.
type DeviceAddress struct {
	Class DeviceClass
	Room  uint8
	Index uint8
}

// ID returns the canonical string form of the address,
// e.g. "light_1_0" or "energy_0_1".
func (a DeviceAddress) ID() string {
	return fmt.Sprintf("%s_%d_%d", a.Class, a.Room, a.Index)
}

// String implements fmt.Stringer.
func (a DeviceAddress) String() string { return a.ID() }

// ParseAddress parses the canonical "class_room_index" form produced by
// DeviceAddress.ID.
//
// Returns:
//   - DeviceAddress: Parsed address
//   - error: ErrInvalidAddress if the string is malformed
func ParseAddress(id string) (DeviceAddress, error) {
	parts := strings.Split(id, "_")
	if len(parts) != 3 {
		return DeviceAddress{}, fmt.Errorf("%w: %q", ErrInvalidAddress, id)
	}

	var class DeviceClass
	for c, name := range classNames {
		if name == parts[0] {
			class = c
			break
		}
	}
	if class == 0 {
		return DeviceAddress{}, fmt.Errorf("%w: unknown class %q", ErrInvalidAddress, parts[0])
	}

	room, err := strconv.ParseUint(parts[1], 10, 8)
	if err != nil {
		return DeviceAddress{}, fmt.Errorf("%w: room in %q", ErrInvalidAddress, id)
	}
	index, err := strconv.ParseUint(parts[2], 10, 8)
	if err != nil {
		return DeviceAddress{}, fmt.Errorf("%w: index in %q", ErrInvalidAddress, id)
	}

	return DeviceAddress{Class: class, Room: uint8(room), Index: uint8(index)}, nil
}

// EventKind classifies a decoded DeviceEvent.
type EventKind uint8

// Event kinds.
const (
	// EventStateReport carries decoded device state fields.
	EventStateReport EventKind = iota

	// EventAckResponse acknowledges a previously sent command. It
	// resolves a PendingCommand and never mutates registry state.
	EventAckResponse

	// EventUnrecognized marks a valid frame matching no decode-table
	// entry. Forwarded with raw bytes for diagnostics and future
	// reverse-engineering; never mutates registry state.
	EventUnrecognized
)

// String returns the kind name.
func (k EventKind) String() string {
	switch k {
	case EventStateReport:
		return "state_report"
	case EventAckResponse:
		return "ack_response"
	case EventUnrecognized:
		return "unrecognized"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Fields holds the decoded state fields of a DeviceEvent, keyed by the
// stable field names also used for persisted and published state
// ("state", "power_usage", "target_temperature", ...).
type Fields map[string]any

// DeviceEvent is a typed device-state delta produced from one valid
// frame. A single frame reporting several devices (a room status frame
// covers all lights and outlets in the room) yields one event per
// device, each referencing the same raw frame.
type DeviceEvent struct {
	Address DeviceAddress
	Kind    EventKind

	// PacketType is the frame's command/type byte, used to match
	// acknowledgements against pending commands.
	PacketType byte

	// Fields carries the decoded state (nil for Unrecognized).
	Fields Fields

	// Raw is the validated frame this event was decoded from.
	Raw ValidFrame
}

// RawFrame is a delimited candidate frame produced by the Reader. It is
// immutable once captured; the reader hands ownership to the validator.
type RawFrame struct {
	// Bytes is the complete frame including start marker and checksum.
	Bytes []byte

	// Intercom marks frames delimited by the intercom trailer rule
	// (fixed 10 bytes ending in 0x03, XOR checksum).
	Intercom bool
}

// ValidFrame is a RawFrame whose declared length and checksum have been
// verified, tagged with the bus it arrived on.
type ValidFrame struct {
	RawFrame

	// Bus is the transport segment the frame arrived on.
	Bus Bus
}

// Action names a device operation the command encoder can build a frame
// for. Parameters travel alongside in Request.Params.
type Action string

// Supported actions.
const (
	ActionTurnOn        Action = "turn_on"
	ActionTurnOff       Action = "turn_off"
	ActionSetBrightness Action = "set_brightness" // params: "brightness" 0-100
	ActionSetMode       Action = "set_mode"       // params: "heat" bool
	ActionSetTemp       Action = "set_temperature" // params: "temperature" float64
	ActionSetSpeed      Action = "set_speed"      // params: "speed" off|low|medium|high
	ActionStandbyCutoff Action = "standby_cutoff" // params: "enable" bool
	ActionClose         Action = "close"          // gas valve
	ActionUnlock        Action = "unlock"         // doorlock
	ActionCallUp        Action = "call_up"        // elevator
	ActionCallDown      Action = "call_down"      // elevator
	ActionOpenDoor      Action = "open_door"      // intercom entrance
	ActionQuery         Action = "query"          // request a status report
)

// Request describes an outbound command: target address, action and
// action-specific parameters.
type Request struct {
	Address DeviceAddress
	Action  Action
	Params  map[string]any
}

// FanSpeed is the ventilation speed scale.
type FanSpeed uint8

// Ventilation speeds.
const (
	FanOff FanSpeed = iota
	FanLow
	FanMedium
	FanHigh
)

// String returns the speed name used in state fields and command params.
func (s FanSpeed) String() string {
	switch s {
	case FanOff:
		return "off"
	case FanLow:
		return "low"
	case FanMedium:
		return "medium"
	case FanHigh:
		return "high"
	default:
		return fmt.Sprintf("speed(%d)", uint8(s))
	}
}

// ParseFanSpeed parses a speed name back to a FanSpeed.
func ParseFanSpeed(s string) (FanSpeed, error) {
	switch s {
	case "off":
		return FanOff, nil
	case "low":
		return FanLow, nil
	case "medium":
		return FanMedium, nil
	case "high":
		return FanHigh, nil
	default:
		return FanOff, fmt.Errorf("%w: fan speed %q", ErrInvalidParameters, s)
	}
}

// ElevatorDirection reports elevator movement from status frames.
type ElevatorDirection uint8

// Elevator directions.
const (
	ElevatorIdle ElevatorDirection = iota
	ElevatorDown
	ElevatorUp
	ElevatorArrived
)

// String returns the direction name used in state fields.
func (d ElevatorDirection) String() string {
	switch d {
	case ElevatorIdle:
		return "idle"
	case ElevatorDown:
		return "down"
	case ElevatorUp:
		return "up"
	case ElevatorArrived:
		return "arrived"
	default:
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
}

// EnergyKind identifies a HEMS meter.
type EnergyKind uint8

// HEMS meter kinds, as carried on the energy bus.
const (
	EnergyElectric EnergyKind = 0x01
	EnergyWater    EnergyKind = 0x02
	EnergyHotwater EnergyKind = 0x03
	EnergyGas      EnergyKind = 0x04
	EnergyHeat     EnergyKind = 0x05
)

// String returns the meter name used in device IDs and state fields.
func (k EnergyKind) String() string {
	switch k {
	case EnergyElectric:
		return "electric"
	case EnergyWater:
		return "water"
	case EnergyHotwater:
		return "hotwater"
	case EnergyGas:
		return "gas"
	case EnergyHeat:
		return "heat"
	default:
		return fmt.Sprintf("unknown_%d", uint8(k))
	}
}
