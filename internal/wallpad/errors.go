package wallpad

import "errors"

// Domain errors for the wall-pad protocol package.
var (
	// ErrFrameTooShort is returned when a frame is shorter than the
	// minimum decodable size (start, header, length, checksum).
	ErrFrameTooShort = errors.New("wallpad: frame too short")

	// ErrLengthMismatch is returned when a frame's declared length does
	// not match its captured length.
	ErrLengthMismatch = errors.New("wallpad: frame length mismatch")

	// ErrChecksumMismatch is returned when the computed checksum does
	// not match the trailing checksum byte.
	ErrChecksumMismatch = errors.New("wallpad: checksum mismatch")

	// ErrUnsupportedVariant is returned when no command template exists
	// for an address/action under the configured gateway variant.
	ErrUnsupportedVariant = errors.New("wallpad: unsupported device/action for variant")

	// ErrInvalidParameters is returned when a command request carries
	// missing or out-of-range parameters.
	ErrInvalidParameters = errors.New("wallpad: invalid command parameters")

	// ErrInvalidAddress is returned when a device address string cannot
	// be parsed.
	ErrInvalidAddress = errors.New("wallpad: invalid device address")

	// ErrCommandTimeout is returned through the command result channel
	// when no acknowledgement arrives within the deadline.
	ErrCommandTimeout = errors.New("wallpad: command timed out waiting for ack")

	// ErrCommandSuperseded is returned through the command result channel
	// when an identical request replaces a still-pending one.
	ErrCommandSuperseded = errors.New("wallpad: command superseded by newer request")

	// ErrPipelineClosed is returned when a command is issued against a
	// stopped pipeline.
	ErrPipelineClosed = errors.New("wallpad: pipeline closed")
)
