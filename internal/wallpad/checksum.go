package wallpad

import "fmt"

// Frame layout constants.
const (
	// StartMarker opens every frame on both buses.
	StartMarker byte = 0x02

	// intercomTrailer closes intercom frames.
	intercomTrailer byte = 0x03

	// intercomFrameLength is the fixed size of intercom frames.
	intercomFrameLength = 10

	// fixedFrameLength is the size of the fixed-layout frames (gas
	// valve, doorlock, wall-pad ventilation, legacy batch switch),
	// which carry a command code where longer frames carry a length.
	fixedFrameLength = 10

	// minFrameLength is the smallest decodable frame: start marker,
	// header, length/command and checksum.
	minFrameLength = 4
)

// checksum computes the wall-pad checksum over data.
//
// The algorithm folds each byte as sum = ((sum ^ b) + 1) & 0xFF with an
// initial seed of 3, and is appended as the final frame byte.
func checksum(data []byte) byte {
	sum := byte(3)
	for _, b := range data {
		sum ^= b
		sum++
	}
	return sum
}

// intercomChecksum computes the plain XOR checksum used by intercom
// (subphone) frames.
func intercomChecksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum ^= b
	}
	return sum
}

// verifyIntercom reports whether pkt is a well-formed intercom frame.
//
// Intercom frames are exactly 10 bytes, open with 0x02 and close with
// 0x03. The checksum at offset 8 covers a header-dependent region:
// doorbell events (header 0x00, cmd 0x01) and wall-pad originated
// frames (header 0x01) fold the trailer in, other frames do not.
func verifyIntercom(pkt []byte) bool {
	if len(pkt) != intercomFrameLength || pkt[0] != StartMarker || pkt[9] != intercomTrailer {
		return false
	}

	header, cmd, expected := pkt[1], pkt[3], pkt[8]

	var data []byte
	switch {
	case header == 0x00 && cmd == 0x01:
		data = append(append([]byte{}, pkt[:8]...), pkt[9])
	case header == 0x01:
		data = append(append([]byte{}, pkt[1:8]...), pkt[9])
	default:
		data = pkt[:8]
	}

	return intercomChecksum(data) == expected
}

// Validate verifies a RawFrame's declared length and checksum and tags
// it with the bus it arrived on.
//
// Validation failures are expected on a noisy RS485 segment: callers
// drop the frame, count it, and continue. Nothing here is fatal.
//
// Parameters:
//   - raw: Candidate frame from the Reader
//   - bus: Bus segment the bytes arrived on
//
// Returns:
//   - ValidFrame: Verified frame ready for classification
//   - error: ErrFrameTooShort, ErrLengthMismatch or ErrChecksumMismatch
func Validate(raw RawFrame, bus Bus) (ValidFrame, error) {
	pkt := raw.Bytes
	if len(pkt) < minFrameLength {
		return ValidFrame{}, fmt.Errorf("%w: %d bytes", ErrFrameTooShort, len(pkt))
	}

	if raw.Intercom {
		if len(pkt) != intercomFrameLength {
			return ValidFrame{}, fmt.Errorf("%w: intercom frame of %d bytes", ErrLengthMismatch, len(pkt))
		}
		if !verifyIntercom(pkt) {
			return ValidFrame{}, fmt.Errorf("%w: intercom frame", ErrChecksumMismatch)
		}
		return ValidFrame{RawFrame: raw, Bus: bus}, nil
	}

	if declared := declaredLength(pkt); declared != len(pkt) {
		return ValidFrame{}, fmt.Errorf("%w: declared %d, captured %d", ErrLengthMismatch, declared, len(pkt))
	}

	if got, want := checksum(pkt[:len(pkt)-1]), pkt[len(pkt)-1]; got != want {
		return ValidFrame{}, fmt.Errorf("%w: computed 0x%02X, frame carries 0x%02X", ErrChecksumMismatch, got, want)
	}

	return ValidFrame{RawFrame: raw, Bus: bus}, nil
}

// declaredLength returns the frame length implied by the header and
// length bytes. Some device classes put a command code where the length
// byte sits and always use 10-byte frames.
func declaredLength(pkt []byte) int {
	if fixedLayout(pkt[1], pkt[2]) {
		return fixedFrameLength
	}
	return int(pkt[2])
}

// fixedLayout reports whether a (header, length byte) pair denotes one
// of the fixed 10-byte layouts. Headers 0x15/0x17 (legacy batch
// switch), length-position values 0x00/0x02/0x15 and the 0x8X command
// codes all mark frames without a real length field.
func fixedLayout(header, lengthByte byte) bool {
	if header == 0x15 || header == 0x17 {
		return true
	}
	switch lengthByte {
	case 0x00, 0x02, 0x15:
		return true
	}
	return lengthByte>>4 == 0x08
}
