package wallpad

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeGasValveClose(t *testing.T) {
	e := NewEncoder(Generation10, VariantDefault, EncoderConfig{})
	req := Request{Address: DeviceAddress{Class: ClassGasValve}, Action: ActionClose}

	cmd, err := e.Encode(req, 0x05)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	// seed 3 folded over 02 31 02 05 and five zeros gives 0x38.
	want := []byte{0x02, 0x31, 0x02, 0x05, 0x00, 0x00, 0x00, 0x00, 0x00, 0x38}
	if !bytes.Equal(cmd.Frame, want) {
		t.Errorf("frame = % X, want % X", cmd.Frame, want)
	}
	if cmd.AckType != 0x82 {
		t.Errorf("ack type = 0x%02X, want 0x82", cmd.AckType)
	}
	if !cmd.ExpectAck {
		t.Error("ExpectAck = false, want true")
	}
}

func TestEncodeThermostat(t *testing.T) {
	e := NewEncoder(Generation10, VariantDefault, EncoderConfig{})

	tests := []struct {
		name    string
		req     Request
		spin    byte
		check   func(t *testing.T, cmd Command)
		wantErr error
	}{
		{
			name: "set temperature with half degree",
			req: Request{
				Address: DeviceAddress{Class: ClassThermostat, Room: 3},
				Action:  ActionSetTemp,
				Params:  map[string]any{"temperature": 21.5},
			},
			spin: 0x0A,
			check: func(t *testing.T, cmd Command) {
				if cmd.Frame[1] != 0x28 || cmd.Frame[2] != 0x0E || cmd.Frame[3] != 0x12 {
					t.Errorf("preamble = % X", cmd.Frame[:4])
				}
				if cmd.Frame[4] != 0x0A {
					t.Errorf("spin = 0x%02X, want 0x0A", cmd.Frame[4])
				}
				if cmd.Frame[5] != 0x03 {
					t.Errorf("room = 0x%02X, want 0x03", cmd.Frame[5])
				}
				if cmd.Frame[7] != 0x55 {
					t.Errorf("temperature byte = 0x%02X, want 0x55", cmd.Frame[7])
				}
				if cmd.AckType != 0x92 {
					t.Errorf("ack type = 0x%02X, want 0x92", cmd.AckType)
				}
			},
		},
		{
			name: "set heat mode",
			req: Request{
				Address: DeviceAddress{Class: ClassThermostat, Room: 1},
				Action:  ActionSetMode,
				Params:  map[string]any{"heat": true},
			},
			check: func(t *testing.T, cmd Command) {
				if cmd.Frame[6] != 0x01 {
					t.Errorf("mode byte = 0x%02X, want 0x01", cmd.Frame[6])
				}
			},
		},
		{
			name: "query",
			req: Request{
				Address: DeviceAddress{Class: ClassThermostat, Room: 2},
				Action:  ActionQuery,
			},
			check: func(t *testing.T, cmd Command) {
				if cmd.Frame[2] != 0x07 || cmd.Frame[3] != 0x11 {
					t.Errorf("preamble = % X", cmd.Frame[:4])
				}
				if cmd.AckType != 0x91 {
					t.Errorf("ack type = 0x%02X, want 0x91", cmd.AckType)
				}
			},
		},
		{
			name: "missing temperature param",
			req: Request{
				Address: DeviceAddress{Class: ClassThermostat, Room: 1},
				Action:  ActionSetTemp,
			},
			wantErr: ErrInvalidParameters,
		},
		{
			name: "temperature out of range",
			req: Request{
				Address: DeviceAddress{Class: ClassThermostat, Room: 1},
				Action:  ActionSetTemp,
				Params:  map[string]any{"temperature": 60.0},
			},
			wantErr: ErrInvalidParameters,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := e.Encode(tt.req, tt.spin)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Encode() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			if _, err := Validate(RawFrame{Bytes: cmd.Frame}, BusControl); err != nil {
				t.Fatalf("encoded frame fails validation: %v", err)
			}
			tt.check(t, cmd)
		})
	}
}

func TestEncodeLightByVariant(t *testing.T) {
	req := Request{
		Address: DeviceAddress{Class: ClassLight, Room: 2, Index: 1},
		Action:  ActionTurnOn,
	}

	deflt := NewEncoder(Generation10, VariantDefault, EncoderConfig{})
	cmd, err := deflt.Encode(req, 0)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if cmd.Frame[1] != 0x31 || cmd.Frame[5] != 0x02 {
		t.Errorf("default frame header/room = 0x%02X/0x%02X", cmd.Frame[1], cmd.Frame[5])
	}
	if cmd.Frame[6] != 0x82 {
		t.Errorf("default light byte = 0x%02X, want 0x82", cmd.Frame[6])
	}
	if cmd.Frame[11] != 0x04 {
		t.Errorf("default on marker = 0x%02X, want 0x04", cmd.Frame[11])
	}
	if cmd.AckType != 0x81 {
		t.Errorf("default ack type = 0x%02X, want 0x81", cmd.AckType)
	}

	aio := NewEncoder(Generation20, VariantAIO, EncoderConfig{})
	cmd, err = aio.Encode(req, 0)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if cmd.Frame[1] != 0x52 || cmd.Frame[2] != 0x0A || cmd.Frame[3] != 0x12 {
		t.Errorf("aio preamble = % X", cmd.Frame[:4])
	}
	if cmd.Frame[5] != 0x01 || cmd.Frame[6] != 0x02 {
		t.Errorf("aio state/mask = 0x%02X/0x%02X", cmd.Frame[5], cmd.Frame[6])
	}
	if cmd.AckType != 0x92 {
		t.Errorf("aio ack type = 0x%02X, want 0x92", cmd.AckType)
	}
}

func TestEncodeDimmingBrightness(t *testing.T) {
	e := NewEncoder(Generation20, VariantDimming, EncoderConfig{})
	req := Request{
		Address: DeviceAddress{Class: ClassDimmingLight, Room: 3, Index: 1},
		Action:  ActionSetBrightness,
		Params:  map[string]any{"brightness": 70},
	}

	cmd, err := e.Encode(req, 0)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if cmd.Frame[1] != 0x33 || cmd.Frame[3] != 0x21 {
		t.Errorf("preamble = % X", cmd.Frame[:4])
	}
	if cmd.Frame[7] != 0x02 {
		t.Errorf("light number = 0x%02X, want 0x02", cmd.Frame[7])
	}
	if cmd.Frame[8] != 0x01 || cmd.Frame[9] != 70 {
		t.Errorf("state/brightness = 0x%02X/%d, want 0x01/70", cmd.Frame[8], cmd.Frame[9])
	}
	if cmd.AckType != 0xA1 {
		t.Errorf("ack type = 0x%02X, want 0xA1", cmd.AckType)
	}

	// Dimming commands need the dimming variant.
	deflt := NewEncoder(Generation10, VariantDefault, EncoderConfig{})
	if _, err := deflt.Encode(req, 0); !errors.Is(err, ErrUnsupportedVariant) {
		t.Errorf("Encode() on default variant error = %v, want ErrUnsupportedVariant", err)
	}
}

func TestEncodeOutletStandbyCutoff(t *testing.T) {
	e := NewEncoder(Generation20, VariantAIO, EncoderConfig{})
	req := Request{
		Address: DeviceAddress{Class: ClassOutlet, Room: 1, Index: 0},
		Action:  ActionStandbyCutoff,
		Params:  map[string]any{"enable": true},
	}

	cmd, err := e.Encode(req, 0)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if cmd.Frame[1] != 0x51 || cmd.Frame[2] != 0x0C {
		t.Errorf("preamble = % X", cmd.Frame[:4])
	}
	if cmd.Frame[9] != 0x01 || cmd.Frame[10] != 0x10 {
		t.Errorf("outlet/mode = 0x%02X/0x%02X, want 0x01/0x10", cmd.Frame[9], cmd.Frame[10])
	}
}

func TestEncodeVentilatorLayouts(t *testing.T) {
	req := Request{
		Address: DeviceAddress{Class: ClassVentilation},
		Action:  ActionSetSpeed,
		Params:  map[string]any{"speed": "high"},
	}

	wallpad := NewEncoder(Generation10, VariantDefault, EncoderConfig{})
	cmd, err := wallpad.Encode(req, 0x02)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if len(cmd.Frame) != 10 || cmd.Frame[2] != 0x01 {
		t.Errorf("wall-pad frame = % X", cmd.Frame)
	}
	if cmd.Frame[5] != 0x01 || cmd.Frame[6] != 0x03 {
		t.Errorf("state/speed = 0x%02X/0x%02X, want 0x01/0x03", cmd.Frame[5], cmd.Frame[6])
	}
	if cmd.AckType != 0x81 {
		t.Errorf("ack type = 0x%02X, want 0x81", cmd.AckType)
	}

	room := NewEncoder(Generation20, VariantAIO, EncoderConfig{RoomVentilation: true})
	cmd, err = room.Encode(req, 0x02)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if cmd.Frame[1] != 0x61 || cmd.Frame[2] != 0x09 || cmd.Frame[3] != 0x21 {
		t.Errorf("room-vent preamble = % X", cmd.Frame[:4])
	}
	if cmd.Frame[5] != 0x40 || cmd.Frame[7] != 0x03 {
		t.Errorf("state/speed = 0x%02X/0x%02X, want 0x40/0x03", cmd.Frame[5], cmd.Frame[7])
	}
}

func TestEncodeElevatorCall(t *testing.T) {
	e := NewEncoder(Generation10, VariantDefault, EncoderConfig{})
	req := Request{Address: DeviceAddress{Class: ClassElevator}, Action: ActionCallDown}

	cmd, err := e.Encode(req, 0)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if cmd.Frame[1] != 0xC1 || cmd.Frame[5] != 0x10 {
		t.Errorf("frame = % X", cmd.Frame)
	}
	if _, err := Validate(RawFrame{Bytes: cmd.Frame}, BusControl); err != nil {
		t.Errorf("encoded frame fails validation: %v", err)
	}
}

func TestEncodeIntercomOpenDoor(t *testing.T) {
	e := NewEncoder(Generation10, VariantDefault, EncoderConfig{})
	req := Request{
		Address: DeviceAddress{Class: ClassIntercom, Index: 2},
		Action:  ActionOpenDoor,
	}

	cmd, err := e.Encode(req, 0x55)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if cmd.ExpectAck {
		t.Error("ExpectAck = true, want false for intercom")
	}
	if len(cmd.Frame) != 10 || cmd.Frame[9] != 0x03 {
		t.Fatalf("frame = % X", cmd.Frame)
	}
	if cmd.Frame[3] != 0x08 || cmd.Frame[4] != 0x02 {
		t.Errorf("cmd/entrance = 0x%02X/0x%02X, want 0x08/0x02", cmd.Frame[3], cmd.Frame[4])
	}
	if !verifyIntercom(cmd.Frame) {
		t.Error("intercom frame fails its checksum")
	}
}

func TestSupportedActions(t *testing.T) {
	if !Supports(ClassLight, ActionTurnOn) {
		t.Error("Supports(light, turn_on) = false")
	}
	if Supports(ClassGasValve, ActionTurnOn) {
		t.Error("Supports(gasvalve, turn_on) = true")
	}
	if Supports(ClassEnergy, ActionQuery) {
		t.Error("Supports(energy, query) = true, energy is read-only")
	}

	classes := []DeviceClass{
		ClassThermostat, ClassVentilation, ClassDimmingLight, ClassLight,
		ClassOutlet, ClassDoorlock, ClassElevator, ClassGasValve,
		ClassBatchSwitch, ClassIntercom,
	}
	if err := VerifyClasses(classes); err != nil {
		t.Errorf("VerifyClasses() error = %v", err)
	}
	if err := VerifyClasses([]DeviceClass{ClassEnergy}); err == nil {
		t.Error("VerifyClasses(energy) error = nil, want error")
	}
}
