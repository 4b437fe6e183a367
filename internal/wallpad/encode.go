package wallpad

import (
	"fmt"
	"math"
)

// Command is an encoded outbound frame plus the acknowledgement the
// wall-pad is expected to return for it. AckType is the request's type
// byte with bit 0x80 set; intercom commands are fire-and-forget and
// carry ExpectAck false.
type Command struct {
	Request   Request
	Frame     []byte
	AckType   byte
	ExpectAck bool
}

// EncoderConfig holds installation-specific encoding knobs that cannot
// be derived from generation or variant alone.
type EncoderConfig struct {
	// RoomVentilation selects the length-framed ventilation command
	// layout used by newer wall-pads over the fixed 10-byte layout.
	RoomVentilation bool

	// BatchSwitchHeader is the header byte of the installed batch
	// switch (0x15, 0x17 or 0xC1). Zero defaults to 0xC1.
	BatchSwitchHeader byte
}

// Encoder builds outbound command frames for one bus connection, bound
// to the configured gateway generation and sub-variant.
type Encoder struct {
	gen     Generation
	variant Variant
	cfg     EncoderConfig
}

// NewEncoder creates an encoder for one bus connection.
func NewEncoder(gen Generation, variant Variant, cfg EncoderConfig) *Encoder {
	if cfg.BatchSwitchHeader == 0 {
		cfg.BatchSwitchHeader = 0xC1
	}
	return &Encoder{gen: gen, variant: variant, cfg: cfg}
}

// makeFrame allocates a length-framed packet with the common preamble
// (start marker, header, length, type, spin). The caller fills the data
// bytes and finalizes.
func makeFrame(header, length, typ, spin byte) []byte {
	pkt := make([]byte, length)
	pkt[0] = StartMarker
	pkt[1] = header
	pkt[2] = length
	pkt[3] = typ
	pkt[4] = spin
	return pkt
}

// fixedFrame allocates a fixed 10-byte packet (command code in the
// length position, spin at byte 3).
func fixedFrame(header, cmd, spin byte) []byte {
	pkt := make([]byte, fixedFrameLength)
	pkt[0] = StartMarker
	pkt[1] = header
	pkt[2] = cmd
	pkt[3] = spin
	return pkt
}

// finalize stamps the checksum into the last byte and returns the frame.
func finalize(pkt []byte) []byte {
	pkt[len(pkt)-1] = checksum(pkt[:len(pkt)-1])
	return pkt
}

// command pairs a finalized frame with its expected acknowledgement.
func command(req Request, pkt []byte, ackType byte) (Command, error) {
	return Command{Request: req, Frame: finalize(pkt), AckType: ackType, ExpectAck: true}, nil
}

// Encode builds the wire frame for a request, stamping the given spin
// code. Returns ErrUnsupportedVariant when the configured variant has
// no frame layout for the request and ErrInvalidParameters when the
// request's params are missing or out of range.
func (e *Encoder) Encode(req Request, spin byte) (Command, error) {
	switch req.Address.Class {
	case ClassThermostat:
		return e.encodeThermostat(req, spin)
	case ClassLight:
		return e.encodeLight(req, spin)
	case ClassDimmingLight:
		return e.encodeDimmingLight(req, spin)
	case ClassOutlet:
		return e.encodeOutlet(req, spin)
	case ClassVentilation:
		return e.encodeVentilator(req, spin)
	case ClassGasValve:
		return e.encodeGasValve(req, spin)
	case ClassDoorlock:
		return e.encodeDoorlock(req, spin)
	case ClassBatchSwitch:
		return e.encodeBatchSwitch(req, spin)
	case ClassElevator:
		return e.encodeElevator(req, spin)
	case ClassIntercom:
		return e.encodeIntercom(req)
	default:
		return Command{}, fmt.Errorf("%w: no encoder for class %s", ErrUnsupportedVariant, req.Address.Class)
	}
}

func (e *Encoder) encodeThermostat(req Request, spin byte) (Command, error) {
	room := req.Address.Room & 0x0F

	switch req.Action {
	case ActionQuery:
		pkt := makeFrame(0x28, 0x07, 0x11, spin)
		pkt[5] = room
		return command(req, pkt, typeStatus)

	case ActionSetMode:
		heat, err := boolParam(req, "heat")
		if err != nil {
			return Command{}, err
		}
		pkt := makeFrame(0x28, 0x0E, 0x12, spin)
		pkt[5] = room
		if heat {
			pkt[6] = 0x01
		} else {
			pkt[6] = 0x02
		}
		return command(req, pkt, typeSetAck2)

	case ActionSetTemp:
		temp, err := floatParam(req, "temperature")
		if err != nil {
			return Command{}, err
		}
		if temp < 5 || temp > 40 {
			return Command{}, fmt.Errorf("%w: temperature %.1f out of range", ErrInvalidParameters, temp)
		}
		pkt := makeFrame(0x28, 0x0E, 0x12, spin)
		pkt[5] = room
		pkt[7] = byte(int(temp))
		if math.Mod(temp, 1) != 0 {
			pkt[7] |= 0x40
		}
		return command(req, pkt, typeSetAck2)

	default:
		return Command{}, e.unsupported(req)
	}
}

func (e *Encoder) encodeLight(req Request, spin byte) (Command, error) {
	room := req.Address.Room
	index := req.Address.Index

	switch req.Action {
	case ActionQuery:
		if e.variant == VariantAIO {
			return command(req, makeFrame(0x50+room, 0x06, 0x11, spin), typeStatus)
		}
		pkt := makeFrame(0x31, 0x07, 0x11, spin)
		pkt[5] = room & 0x0F
		return command(req, pkt, typeStatus)

	case ActionTurnOn, ActionTurnOff:
		on := req.Action == ActionTurnOn

		if e.variant == VariantAIO {
			pkt := makeFrame(0x50+room, 0x0A, 0x12, spin)
			if on {
				pkt[5] = 0x01
			}
			if index == 4 {
				pkt[6] = 0x0A
			} else {
				pkt[6] = 1 << index
			}
			return command(req, pkt, typeSetAck2)
		}

		pkt := makeFrame(0x31, 0x0D, 0x01, spin)
		pkt[5] = room & 0x0F
		pkt[6] = 1 << index
		if on {
			pkt[6] |= 0x80
			pkt[11] = 0x04
		}
		return command(req, pkt, typeSetAck)

	default:
		return Command{}, e.unsupported(req)
	}
}

func (e *Encoder) encodeDimmingLight(req Request, spin byte) (Command, error) {
	if e.variant != VariantDimming {
		return Command{}, e.unsupported(req)
	}
	room := req.Address.Room

	if req.Action == ActionQuery {
		return command(req, makeFrame(0x30+room, 0x06, 0x11, spin), typeStatus)
	}

	pkt := makeFrame(0x30+room, 0x0E, 0x21, spin)
	pkt[5] = 0x01
	pkt[7] = 0x01 + req.Address.Index
	pkt[8] = 0xFF
	pkt[9] = 0xFF
	pkt[10] = 0xFF
	pkt[12] = 0xFF

	switch req.Action {
	case ActionTurnOn:
		pkt[8] = 0x01
	case ActionTurnOff:
		pkt[8] = 0x02
	case ActionSetBrightness:
		brightness, err := intParam(req, "brightness")
		if err != nil {
			return Command{}, err
		}
		if brightness < 0 || brightness > 100 {
			return Command{}, fmt.Errorf("%w: brightness %d out of range", ErrInvalidParameters, brightness)
		}
		pkt[8] = 0x01
		pkt[9] = byte(brightness)
	default:
		return Command{}, e.unsupported(req)
	}

	return command(req, pkt, typeDimAck)
}

func (e *Encoder) encodeOutlet(req Request, spin byte) (Command, error) {
	room := req.Address.Room
	index := req.Address.Index

	if req.Action == ActionQuery {
		switch e.variant {
		case VariantDimming:
			return command(req, makeFrame(0x30+room, 0x06, 0x11, spin), typeStatus)
		case VariantAIO:
			return command(req, makeFrame(0x50+room, 0x06, 0x11, spin), typeStatus)
		default:
			pkt := makeFrame(0x31, 0x07, 0x11, spin)
			pkt[5] = room & 0x0F
			return command(req, pkt, typeStatus)
		}
	}

	var on, cutoff bool
	switch req.Action {
	case ActionTurnOn:
		on = true
	case ActionTurnOff:
	case ActionStandbyCutoff:
		enable, err := boolParam(req, "enable")
		if err != nil {
			return Command{}, err
		}
		on, cutoff = enable, true
	default:
		return Command{}, e.unsupported(req)
	}

	cmd := byte(0x02)
	if on {
		cmd = 0x01
	}

	switch e.variant {
	case VariantDimming:
		pkt := makeFrame(0x30+room, 0x09, 0x22, spin)
		pkt[5] = 0x01
		pkt[6] = (index + 1) & 0x0F
		if cutoff {
			pkt[7] = cmd * 0x10
		} else {
			pkt[7] = cmd
		}
		return command(req, pkt, typeDimOutAck)

	case VariantAIO:
		pkt := makeFrame(0x50+room, 0x0C, 0x12, spin)
		pkt[8] = 0x01
		pkt[9] = (index + 1) & 0x0F
		if cutoff {
			pkt[10] = cmd << 4
		} else {
			pkt[10] = cmd
		}
		return command(req, pkt, typeSetAck2)

	default:
		pkt := makeFrame(0x31, 0x0D, 0x01, spin)
		pkt[5] = room & 0x0F
		if cutoff {
			if on {
				pkt[8] = 0x83
			} else {
				pkt[8] = 0x03
			}
		} else {
			pkt[7] = 1 << index
			if on {
				pkt[7] |= 0x80
				pkt[11] = 0x09 << index
			}
		}
		return command(req, pkt, typeSetAck)
	}
}

func (e *Encoder) encodeVentilator(req Request, spin byte) (Command, error) {
	speed := FanLow
	if req.Action == ActionSetSpeed {
		name, err := stringParam(req, "speed")
		if err != nil {
			return Command{}, err
		}
		if speed, err = ParseFanSpeed(name); err != nil {
			return Command{}, err
		}
	}

	if e.cfg.RoomVentilation {
		switch req.Action {
		case ActionQuery:
			return command(req, makeFrame(0x61, 0x06, 0x11, spin), typeStatus)

		case ActionTurnOn, ActionTurnOff, ActionSetSpeed:
			off := req.Action == ActionTurnOff || speed == FanOff
			pkt := makeFrame(0x61, 0x09, 0x21, spin)
			if off {
				pkt[5] = 0x01
			} else {
				pkt[5] = 0x40
			}
			pkt[7] = 0x01
			switch speed {
			case FanMedium:
				pkt[7] = 0x02
			case FanHigh:
				pkt[7] = 0x03
			}
			return command(req, pkt, typeDimAck)

		default:
			return Command{}, e.unsupported(req)
		}
	}

	switch req.Action {
	case ActionQuery:
		return command(req, fixedFrame(0x61, 0x00, spin), fixedStatus)

	case ActionTurnOn, ActionTurnOff, ActionSetSpeed:
		off := req.Action == ActionTurnOff || speed == FanOff
		pkt := fixedFrame(0x61, 0x01, spin)
		if !off {
			pkt[5] = 0x01
			pkt[6] = byte(speed)
		}
		return command(req, pkt, fixedAck1)

	default:
		return Command{}, e.unsupported(req)
	}
}

func (e *Encoder) encodeGasValve(req Request, spin byte) (Command, error) {
	// The valve only supports remote close; opening needs the physical
	// handle for safety.
	if req.Action != ActionClose {
		return Command{}, e.unsupported(req)
	}
	return command(req, fixedFrame(0x31, 0x02, spin), fixedAck2)
}

func (e *Encoder) encodeDoorlock(req Request, spin byte) (Command, error) {
	if req.Action != ActionUnlock {
		return Command{}, e.unsupported(req)
	}
	pkt := fixedFrame(0x41, 0x02, spin)
	pkt[4] = 0x01
	return command(req, pkt, fixedAck2)
}

func (e *Encoder) encodeBatchSwitch(req Request, spin byte) (Command, error) {
	var on bool
	switch req.Action {
	case ActionTurnOn:
		on = true
	case ActionTurnOff:
	default:
		return Command{}, e.unsupported(req)
	}

	if e.cfg.BatchSwitchHeader != 0xC1 {
		pkt := fixedFrame(e.cfg.BatchSwitchHeader, 0x04, 0x01)
		pkt[4] = spin
		if on {
			pkt[7] = 0x01
		}
		return command(req, pkt, 0x84)
	}

	pkt := makeFrame(0xC1, 0x0C, 0x91, spin)
	pkt[6] = 0x01
	if on {
		pkt[8] = 0x01
	} else {
		pkt[8] = 0x02
	}
	pkt[9] = 0x01
	pkt[10] = 0x02
	return command(req, pkt, typeStatus)
}

func (e *Encoder) encodeElevator(req Request, spin byte) (Command, error) {
	pkt := makeFrame(0xC1, 0x0C, 0x91, spin)
	switch req.Action {
	case ActionCallDown:
		pkt[5] = 0x10
	case ActionCallUp:
		pkt[5] = 0x20
	default:
		return Command{}, e.unsupported(req)
	}
	pkt[6] = 0x01
	pkt[8] = 0x02
	pkt[9] = 0x01
	pkt[10] = 0x02
	return command(req, pkt, typeStatus)
}

// encodeIntercom builds an entrance door-open frame. Intercom traffic
// uses the trailer-delimited layout with the XOR checksum and the
// subphone never acknowledges, so the command completes on send.
func (e *Encoder) encodeIntercom(req Request) (Command, error) {
	if req.Action != ActionOpenDoor {
		return Command{}, e.unsupported(req)
	}
	entrance := req.Address.Index
	if entrance != 0x01 && entrance != 0x02 {
		return Command{}, fmt.Errorf("%w: intercom entrance %d", ErrInvalidParameters, entrance)
	}

	pkt := make([]byte, intercomFrameLength)
	pkt[0] = StartMarker
	pkt[2] = 0x02
	pkt[3] = 0x08
	pkt[4] = entrance
	pkt[8] = intercomChecksum(pkt[:8])
	pkt[9] = intercomTrailer
	return Command{Request: req, Frame: pkt}, nil
}

func (e *Encoder) unsupported(req Request) error {
	return fmt.Errorf("%w: %s %s on variant %s", ErrUnsupportedVariant, req.Address.Class, req.Action, e.variant)
}

// supportedActions lists the actions each device class accepts. The
// engine checks configured classes against this table at startup so a
// missing dispatch entry surfaces as a config error, not a runtime one.
var supportedActions = map[DeviceClass][]Action{
	ClassThermostat:   {ActionQuery, ActionSetMode, ActionSetTemp},
	ClassLight:        {ActionQuery, ActionTurnOn, ActionTurnOff},
	ClassDimmingLight: {ActionQuery, ActionTurnOn, ActionTurnOff, ActionSetBrightness},
	ClassOutlet:       {ActionQuery, ActionTurnOn, ActionTurnOff, ActionStandbyCutoff},
	ClassVentilation:  {ActionQuery, ActionTurnOn, ActionTurnOff, ActionSetSpeed},
	ClassGasValve:     {ActionClose},
	ClassDoorlock:     {ActionUnlock},
	ClassBatchSwitch:  {ActionTurnOn, ActionTurnOff},
	ClassElevator:     {ActionCallUp, ActionCallDown},
	ClassIntercom:     {ActionOpenDoor},
}

// SupportedActions returns the actions the encoder can build frames
// for, per device class. The returned slice must not be modified.
func SupportedActions(class DeviceClass) []Action {
	return supportedActions[class]
}

// Supports reports whether an action has a frame layout for the class.
func Supports(class DeviceClass, action Action) bool {
	for _, a := range supportedActions[class] {
		if a == action {
			return true
		}
	}
	return false
}

func boolParam(req Request, key string) (bool, error) {
	v, ok := req.Params[key]
	if !ok {
		return false, fmt.Errorf("%w: missing %q", ErrInvalidParameters, key)
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %q must be a bool", ErrInvalidParameters, key)
	}
	return b, nil
}

func stringParam(req Request, key string) (string, error) {
	v, ok := req.Params[key]
	if !ok {
		return "", fmt.Errorf("%w: missing %q", ErrInvalidParameters, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %q must be a string", ErrInvalidParameters, key)
	}
	return s, nil
}

func floatParam(req Request, key string) (float64, error) {
	v, ok := req.Params[key]
	if !ok {
		return 0, fmt.Errorf("%w: missing %q", ErrInvalidParameters, key)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("%w: %q must be a number", ErrInvalidParameters, key)
	}
}

func intParam(req Request, key string) (int, error) {
	f, err := floatParam(req, key)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("%w: %q must be an integer", ErrInvalidParameters, key)
	}
	return int(f), nil
}
