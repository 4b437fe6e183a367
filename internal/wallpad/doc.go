// Package wallpad implements the BESTIN wall-pad serial protocol.
//
// The wall-pad speaks a half-duplex binary protocol over RS485, usually
// reached through a serial-to-Ethernet bridge. Frames start with 0x02,
// carry a device-class header, a length (or a fixed 10-byte layout for
// some classes), payload fields at fixed offsets, and a trailing
// checksum.
//
// The package is organised as a pipeline:
//
//	bytes → Reader → RawFrame → Validate → ValidFrame → Decoder → DeviceEvent
//
// and, for the command path:
//
//	Request → Encoder → frame bytes → bus, with a PendingTable matching
//	acknowledgement frames back to the issuing caller.
//
// Two independent bus segments may be attached (control bus and energy
// bus), each running its own Pipeline. Pipelines share no state; decoded
// events flow into a single channel consumed by the device registry.
//
// Gateway generations 1.0 and 2.0 lay some packets out differently
// (sub-variants "default", "aio", "dimming"). The variant is explicit
// per-connection configuration and is never auto-detected from packet
// shape, since shapes overlap ambiguously across variants.
package wallpad
