package wallpad

import (
	"errors"
	"testing"
)

// withChecksum stamps the frame checksum into the last byte.
func withChecksum(pkt []byte) []byte {
	pkt[len(pkt)-1] = checksum(pkt[:len(pkt)-1])
	return pkt
}

func TestChecksum(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want byte
	}{
		{
			name: "gas valve close preamble",
			// seed 3: ^0x02+1=0x02, ^0x31+1=0x34, ^0x02+1=0x37, +1=0x38
			data: []byte{0x02, 0x31, 0x02, 0x00},
			want: 0x38,
		},
		{
			name: "full gas valve close frame body",
			// five trailing zero bytes each add one
			data: []byte{0x02, 0x31, 0x02, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
			want: 0x3D,
		},
		{
			name: "empty",
			data: nil,
			want: 0x03,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := checksum(tt.data); got != tt.want {
				t.Errorf("checksum() = 0x%02X, want 0x%02X", got, tt.want)
			}
		})
	}
}

func TestIntercomChecksum(t *testing.T) {
	// Doorbell frame: header 0x00, cmd 0x01, entrance 0x01. The
	// checksum covers bytes 0-7 plus the 0x03 trailer.
	frame := []byte{0x02, 0x00, 0x01, 0x01, 0x01, 0x00, 0x00, 0x00, 0x00, 0x03}
	if !verifyIntercom(frame) {
		t.Fatal("verifyIntercom() = false for valid doorbell frame")
	}

	frame[8] = 0x55
	if verifyIntercom(frame) {
		t.Error("verifyIntercom() = true for corrupted checksum")
	}
}

func TestValidate(t *testing.T) {
	valid := withChecksum([]byte{
		0x02, 0x28, 0x10, 0x91, 0x00, 0x01, 0x01, 0x55,
		0x00, 0xDC, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	})

	tests := []struct {
		name    string
		raw     RawFrame
		wantErr error
	}{
		{
			name: "valid thermostat status",
			raw:  RawFrame{Bytes: valid},
		},
		{
			name:    "corrupted payload byte",
			raw:     RawFrame{Bytes: corrupt(valid, 6)},
			wantErr: ErrChecksumMismatch,
		},
		{
			name:    "corrupted checksum byte",
			raw:     RawFrame{Bytes: corrupt(valid, len(valid)-1)},
			wantErr: ErrChecksumMismatch,
		},
		{
			name:    "truncated frame",
			raw:     RawFrame{Bytes: valid[:12]},
			wantErr: ErrLengthMismatch,
		},
		{
			name:    "too short",
			raw:     RawFrame{Bytes: []byte{0x02, 0x28}},
			wantErr: ErrFrameTooShort,
		},
		{
			name: "valid fixed-layout gas close ack",
			raw: RawFrame{Bytes: withChecksum([]byte{
				0x02, 0x31, 0x82, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00,
			})},
		},
		{
			name: "valid intercom doorbell",
			raw: RawFrame{
				Bytes:    []byte{0x02, 0x00, 0x01, 0x01, 0x01, 0x00, 0x00, 0x00, 0x00, 0x03},
				Intercom: true,
			},
		},
		{
			name: "intercom with bad checksum",
			raw: RawFrame{
				Bytes:    []byte{0x02, 0x00, 0x01, 0x01, 0x01, 0x00, 0x00, 0x00, 0x77, 0x03},
				Intercom: true,
			},
			wantErr: ErrChecksumMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := Validate(tt.raw, BusControl)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Validate() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
			if frame.Bus != BusControl {
				t.Errorf("Validate() bus = %v, want control", frame.Bus)
			}
			if &frame.Bytes[0] != &tt.raw.Bytes[0] {
				t.Error("Validate() should not copy frame bytes")
			}
		})
	}
}

// corrupt returns a copy of pkt with byte i flipped.
func corrupt(pkt []byte, i int) []byte {
	out := make([]byte, len(pkt))
	copy(out, pkt)
	out[i] ^= 0xFF
	return out
}
