package wallpad

import (
	"encoding/binary"
	"strconv"
)

// Packet type bytes. A command's acknowledgement carries the command
// type with bit 0x80 set (0x01→0x81, 0x11→0x91, 0x12→0x92, ...), so
// status reports (responses to 0x11 queries and unsolicited broadcasts)
// arrive as 0x91 and set-command acks as 0x81/0x92/0xA1/0xA2.
const (
	typeStatus      byte = 0x91
	typeSetAck      byte = 0x81
	typeSetAck2     byte = 0x92
	typeDimAck      byte = 0xA1
	typeDimOutAck   byte = 0xA2
	typeEnergyState byte = 0x82
	typeFloorReport byte = 0x13

	fixedStatus byte = 0x80 // fixed-layout status
	fixedAck1   byte = 0x81 // fixed-layout ack of cmd 0x01
	fixedAck2   byte = 0x82 // fixed-layout ack of cmd 0x02
)

// Decoder classifies validated frames and decodes them into typed
// device events. One decoder exists per bus connection, bound to the
// explicitly configured gateway generation and sub-variant.
type Decoder struct {
	bus     Bus
	gen     Generation
	variant Variant
}

// NewDecoder creates a decoder for one bus connection.
func NewDecoder(bus Bus, gen Generation, variant Variant) *Decoder {
	return &Decoder{bus: bus, gen: gen, variant: variant}
}

// Decode maps a valid frame to one or more device events.
//
// A frame reporting several devices (room status frames cover every
// light and outlet in the room) yields one event per device, all
// sharing the same raw frame. Frames matching no dispatch entry for
// the configured variant yield a single Unrecognized event carrying
// the raw bytes; decoding itself never fails post-checksum since all
// field widths are fixed and bounds-guarded.
func (d *Decoder) Decode(f ValidFrame) []DeviceEvent {
	pkt := f.Bytes

	if f.Intercom {
		return d.decodeIntercom(f)
	}

	header := pkt[1]
	if fixedLayout(header, pkt[2]) {
		return d.decodeFixed(f)
	}

	typ := pkt[3]
	switch {
	case header == 0x28:
		return d.decodeThermostat(f, typ)
	case header == 0x61:
		return d.decodeRoomVentilator(f, typ)
	case header == 0x31 && (len(pkt) == 7 || len(pkt) == 30):
		return d.decodeLightOutlet(f, typ)
	case header >= 0x31 && header <= 0x34 || header == 0x3F:
		// Per-room 0x30+room headers: dimming-generation room status.
		if d.variant != VariantDimming {
			return d.unrecognized(f, typ)
		}
		return d.decodeDimmingRoom(f, typ)
	case header >= 0x51 && header <= 0x55:
		// Per-room 0x50+room headers: AIO-generation room status.
		if d.variant != VariantAIO {
			return d.unrecognized(f, typ)
		}
		return d.decodeAIORoom(f, typ)
	case header == 0xA2 || header == 0xC1:
		return d.decodeBatchElevator(f, typ)
	case header == 0xD1:
		// HEMS energy report. The dimming-generation energy
		// controller's layout is not reverse-engineered; surface those
		// frames rather than guessing at offsets.
		if d.variant == VariantDimming {
			return d.unrecognized(f, typ)
		}
		return d.decodeEnergy(f, typ)
	default:
		return d.unrecognized(f, typ)
	}
}

// kindForType classifies long-frame packet types.
func kindForType(typ byte) EventKind {
	switch typ {
	case typeSetAck, typeSetAck2, typeDimAck, typeDimOutAck:
		return EventAckResponse
	default:
		return EventStateReport
	}
}

// event assembles a DeviceEvent.
func event(addr DeviceAddress, kind EventKind, typ byte, fields Fields, raw ValidFrame) DeviceEvent {
	return DeviceEvent{Address: addr, Kind: kind, PacketType: typ, Fields: fields, Raw: raw}
}

// unrecognized wraps a frame no dispatch entry matched.
func (d *Decoder) unrecognized(f ValidFrame, typ byte) []DeviceEvent {
	return []DeviceEvent{event(DeviceAddress{}, EventUnrecognized, typ, nil, f)}
}

// decodeThermostat decodes heating-zone status and set-ack frames.
//
// Layout: room at byte 5 (low nibble), mode bit at byte 6, target
// temperature at byte 7 (bit 0x40 adds half a degree), current
// temperature as big-endian tenths at bytes 8-9.
func (d *Decoder) decodeThermostat(f ValidFrame, typ byte) []DeviceEvent {
	pkt := f.Bytes
	if typ != typeStatus && typ != typeSetAck2 {
		return d.unrecognized(f, typ)
	}
	if len(pkt) < 10 {
		return d.unrecognized(f, typ)
	}

	mode := "off"
	if pkt[6]&0x01 != 0 {
		mode = "heat"
	}
	target := float64(pkt[7]&0x3F)
	if pkt[7]&0x40 != 0 {
		target += 0.5
	}
	current := float64(binary.BigEndian.Uint16(pkt[8:10])) / 10.0

	addr := DeviceAddress{Class: ClassThermostat, Room: pkt[5] & 0x0F}
	fields := Fields{
		"hvac_mode":           mode,
		"target_temperature":  target,
		"current_temperature": current,
	}
	return []DeviceEvent{event(addr, kindForType(typ), typ, fields, f)}
}

// decodeLightOutlet decodes default-variant room status frames
// (header 0x31, lengths 7 and 30): light on/off bitmask, outlet on/off
// bitmask with standby-cutoff flag, cutoff thresholds and live power as
// big-endian fixed-point tenths.
func (d *Decoder) decodeLightOutlet(f ValidFrame, typ byte) []DeviceEvent {
	pkt := f.Bytes
	if typ != typeStatus && typ != typeSetAck {
		return d.unrecognized(f, typ)
	}
	if len(pkt) < 7 {
		return d.unrecognized(f, typ)
	}

	room := pkt[5] & 0x0F
	lightCount, outletCount := 2, 2
	if room == 1 {
		lightCount, outletCount = 4, 3
	}

	kind := kindForType(typ)
	var events []DeviceEvent

	lightPower := be16at(pkt, 12)
	for i := 0; i < lightCount; i++ {
		fields := Fields{"state": pkt[6]&(1<<i) != 0}
		if lightPower > 0 {
			fields["power_usage"] = float64(lightPower) / 10.0
		}
		addr := DeviceAddress{Class: ClassLight, Room: room, Index: uint8(i)}
		events = append(events, event(addr, kind, typ, fields, f))
	}

	// Short frames stop after the light bitmask.
	if len(pkt) < 9 {
		return events
	}

	standby := pkt[7]>>4&1 != 0
	for i := 0; i < outletCount; i++ {
		fields := Fields{
			"state":          pkt[7]&(1<<i) != 0,
			"standby_cutoff": standby,
		}
		if i < 2 {
			if cutoff := be16at(pkt, 8+2*i); cutoff > 0 {
				fields["cutoff_value"] = float64(cutoff) / 10.0
			}
		}
		if power := be16at(pkt, 14+2*i); len(pkt) > 16+2*i {
			fields["power_usage"] = float64(power) / 10.0
		}
		addr := DeviceAddress{Class: ClassOutlet, Room: room, Index: uint8(i)}
		events = append(events, event(addr, kind, typ, fields, f))
	}

	return events
}

// decodeAIORoom decodes AIO-variant room status frames (header
// 0x50+room). The room lives in the header's low nibble; outlets carry
// a packed mode byte (low nibble 0x1 = on, 0x11-0x13 = standby cutoff
// engaged) followed by big-endian live power.
func (d *Decoder) decodeAIORoom(f ValidFrame, typ byte) []DeviceEvent {
	pkt := f.Bytes
	if typ != typeStatus && typ != typeSetAck2 {
		return d.unrecognized(f, typ)
	}
	if len(pkt) < 7 {
		return d.unrecognized(f, typ)
	}

	room := pkt[1] & 0x0F
	kind := kindForType(typ)
	var events []DeviceEvent

	lightCount := int(pkt[5])
	if lightCount > 8 {
		lightCount = 8
	}
	for i := 0; i < lightCount; i++ {
		addr := DeviceAddress{Class: ClassLight, Room: room, Index: uint8(i)}
		events = append(events, event(addr, kind, typ, Fields{"state": pkt[6]&(1<<i) != 0}, f))
	}

	for i := 0; i < 2; i++ {
		base := 9 + 5*i
		if len(pkt) <= base+2 {
			break
		}
		mode := pkt[base]
		fields := Fields{
			"state":          mode&0x0F == 0x01,
			"standby_cutoff": mode == 0x11 || mode == 0x12 || mode == 0x13,
			"power_usage":    float64(be16at(pkt, base+1)) / 10.0,
		}
		addr := DeviceAddress{Class: ClassOutlet, Room: room, Index: uint8(i)}
		events = append(events, event(addr, kind, typ, fields, f))
	}

	return events
}

// decodeDimmingRoom decodes dimming-variant room status frames (header
// 0x30+room): a fixed 17-byte preamble with light and outlet counts at
// bytes 10-11, then 13-byte light records and 14-byte outlet records.
// Records with high nibble 0x8 are not installed.
func (d *Decoder) decodeDimmingRoom(f ValidFrame, typ byte) []DeviceEvent {
	pkt := f.Bytes
	if typ != typeStatus && typ != typeDimAck && typ != typeDimOutAck {
		return d.unrecognized(f, typ)
	}
	if len(pkt) < 17 {
		return d.unrecognized(f, typ)
	}

	room := pkt[1] & 0x0F
	kind := kindForType(typ)
	lightCount := int(pkt[10] & 0x0F)
	outletCount := int(pkt[11] & 0x0F)

	// Some wall-pads reserve an extra light record slot.
	baseCount := lightCount
	if pkt[10]>>4 == 0x04 {
		baseCount++
	}

	var events []DeviceEvent

	idx := 17
	for n := 0; n < lightCount; n++ {
		if len(pkt) <= idx+2 {
			break
		}
		if pkt[idx]>>4 == 0x08 {
			idx += 13
			continue
		}
		num := pkt[idx]&0x0F - 1
		fields := Fields{"state": pkt[idx+1]&0x01 != 0}
		if brightness := pkt[idx+2]; brightness > 0 {
			fields["brightness"] = int(brightness)
		}
		if power := be16at(pkt, idx+9); power > 0 {
			fields["power_usage"] = float64(power) / 10.0
		}
		addr := DeviceAddress{Class: ClassDimmingLight, Room: room, Index: num}
		events = append(events, event(addr, kind, typ, fields, f))
		idx += 13
	}

	idx = 17 + baseCount*13
	for n := 0; n < outletCount; n++ {
		if len(pkt) <= idx+1 {
			break
		}
		if pkt[idx]>>4 == 0x08 {
			idx += 14
			continue
		}
		num := pkt[idx]&0x0F - 1
		fields := Fields{
			"state":          pkt[idx+1]&0x01 != 0,
			"standby_cutoff": pkt[idx+1]&0x10 != 0,
			"cutoff_value":   float64(be16at(pkt, idx+7)) / 10.0,
			"power_usage":    float64(be16at(pkt, idx+9)) / 10.0,
		}
		addr := DeviceAddress{Class: ClassOutlet, Room: room, Index: num}
		events = append(events, event(addr, kind, typ, fields, f))
		idx += 14
	}

	return events
}

// decodeRoomVentilator decodes 2.0-generation ventilation frames with a
// real length field (header 0x61, type 0x91/0xA1). The wall-pad layout
// without a length field is handled by decodeFixed.
func (d *Decoder) decodeRoomVentilator(f ValidFrame, typ byte) []DeviceEvent {
	pkt := f.Bytes
	if typ != typeStatus && typ != typeDimAck {
		return d.unrecognized(f, typ)
	}
	if len(pkt) < 9 {
		return d.unrecognized(f, typ)
	}

	on := pkt[6] != 0
	var speed byte
	if on {
		speed = pkt[8]
	}
	return []DeviceEvent{d.ventilationEvent(f, kindForType(typ), typ, on, speed)}
}

// ventilationEvent builds the single ventilation state event.
func (d *Decoder) ventilationEvent(f ValidFrame, kind EventKind, typ byte, on bool, speed byte) DeviceEvent {
	fanSpeed := FanOff
	if speed <= byte(FanHigh) {
		fanSpeed = FanSpeed(speed)
	}
	fields := Fields{"state": on, "speed": fanSpeed.String()}
	return event(DeviceAddress{Class: ClassVentilation}, kind, typ, fields, f)
}

// decodeFixed decodes the fixed 10-byte layouts: gas valve, doorlock,
// wall-pad ventilation and legacy batch switch. These frames carry a
// command code at byte 2 where longer frames carry a length; status is
// 0x80 and command acknowledgements are 0x81/0x82.
func (d *Decoder) decodeFixed(f ValidFrame) []DeviceEvent {
	pkt := f.Bytes
	typ := pkt[2]

	kind := EventStateReport
	if typ == fixedAck1 || typ == fixedAck2 {
		kind = EventAckResponse
	}

	switch pkt[1] {
	case 0x31, 0x32, 0x33, 0x34, 0x3F:
		if typ != fixedStatus && typ != fixedAck2 {
			return d.unrecognized(f, typ)
		}
		addr := DeviceAddress{Class: ClassGasValve}
		return []DeviceEvent{event(addr, kind, typ, Fields{"state": pkt[5] != 0}, f)}

	case 0x41:
		if typ != fixedStatus && typ != fixedAck2 {
			return d.unrecognized(f, typ)
		}
		addr := DeviceAddress{Class: ClassDoorlock}
		return []DeviceEvent{event(addr, kind, typ, Fields{"state": pkt[5]&0xAE != 0}, f)}

	case 0x61:
		// Only the 0x8X report codes carry state; anything else on
		// this header is our own echoed query or command.
		switch typ {
		case 0x80, 0x81, 0x83, 0x84, 0x87:
		default:
			return d.unrecognized(f, typ)
		}
		on := pkt[5]&0x01 != 0
		var speed byte
		if on {
			speed = pkt[6]
		}
		return []DeviceEvent{d.ventilationEvent(f, kind, typ, on, speed)}

	case 0x15, 0x17, 0xA2, 0xC1:
		switch typ {
		case 0x80, 0x81, 0x84, 0x87:
		default:
			return d.unrecognized(f, typ)
		}
		return d.decodeBatchFixed(f, typ, kind)

	default:
		return d.unrecognized(f, typ)
	}
}

// decodeBatchFixed decodes legacy batch-switch/elevator frames whose
// length position carries a command code.
func (d *Decoder) decodeBatchFixed(f ValidFrame, typ byte, kind EventKind) []DeviceEvent {
	pkt := f.Bytes
	if len(pkt) < 8 {
		return d.unrecognized(f, typ)
	}

	if pkt[7] == 0x40 {
		addr := DeviceAddress{Class: ClassElevator}
		fields := Fields{"state": true, "direction": ElevatorDown.String()}
		return []DeviceEvent{event(addr, kind, typ, fields, f)}
	}

	addr := DeviceAddress{Class: ClassBatchSwitch}
	return []DeviceEvent{event(addr, kind, typ, Fields{"state": pkt[7] == 0x01}, f)}
}

// decodeBatchElevator decodes batch-switch and elevator frames with a
// real length field (headers 0xA2/0xC1).
func (d *Decoder) decodeBatchElevator(f ValidFrame, typ byte) []DeviceEvent {
	pkt := f.Bytes
	length := pkt[2]
	var events []DeviceEvent

	switch {
	case length == 0x0C && typ == typeStatus:
		if len(pkt) < 9 {
			return d.unrecognized(f, typ)
		}
		direction := ElevatorIdle
		switch pkt[5] {
		case 0x10:
			direction = ElevatorDown
		case 0x20:
			direction = ElevatorUp
		}

		elevator := DeviceAddress{Class: ClassElevator}
		events = append(events, event(elevator, EventStateReport, typ, Fields{
			"state":     direction != ElevatorIdle,
			"direction": direction.String(),
		}, f))

		batch := DeviceAddress{Class: ClassBatchSwitch}
		events = append(events, event(batch, EventStateReport, typ, Fields{"state": pkt[8] != 0x02}, f))

	case length == 0x13 && typ == typeFloorReport:
		if len(pkt) < 13 {
			return d.unrecognized(f, typ)
		}
		elevator := DeviceAddress{Class: ClassElevator}
		if pkt[11] == 0x04 {
			events = append(events, event(elevator, EventStateReport, typ, Fields{
				"state":     false,
				"direction": ElevatorArrived.String(),
			}, f))
		}
		if pkt[12] != 0xFF {
			events = append(events, event(elevator, EventStateReport, typ, Fields{
				"floor": floorLabel(pkt[12]),
			}, f))
		}

	default:
		return d.unrecognized(f, typ)
	}

	return events
}

// floorLabel formats an elevator floor byte; bit 0x80 marks basements.
func floorLabel(b byte) string {
	if b&0x80 != 0 {
		return "B" + strconv.Itoa(int(b&0x7F))
	}
	return strconv.Itoa(int(b))
}

// decodeEnergy decodes HEMS meter reports (header 0xD1, type 0x82).
//
// A marker byte 0x80 in the preamble is followed by the meter count and
// then 8-byte meter records: id, 4-byte big-endian cumulative total,
// 2-byte big-endian realtime reading, reserved. Ids with bit 0x80 set
// mark meters that are not installed.
func (d *Decoder) decodeEnergy(f ValidFrame, typ byte) []DeviceEvent {
	pkt := f.Bytes
	if typ != typeEnergyState {
		return d.unrecognized(f, typ)
	}

	start := 0
	for j := 5; j < 10 && j < len(pkt); j++ {
		if pkt[j] == 0x80 {
			start = j + 1
			break
		}
	}
	if start == 0 || start >= len(pkt) {
		return d.unrecognized(f, typ)
	}

	count := int(pkt[start])
	if count > 5 {
		count = 5
	}

	var events []DeviceEvent
	idx := start + 1
	for n := 0; n < count; n++ {
		if idx >= len(pkt) {
			break
		}
		id := pkt[idx]
		if id&0x80 != 0 {
			idx += 2
			continue
		}
		if idx+7 > len(pkt) {
			break
		}

		kind := EnergyKind(id & 0x7F)
		fields := Fields{
			"energy_type": kind.String(),
			"total":       binary.BigEndian.Uint32(pkt[idx+1 : idx+5]),
			"realtime":    binary.BigEndian.Uint16(pkt[idx+5 : idx+7]),
		}
		addr := DeviceAddress{Class: ClassEnergy, Index: uint8(kind)}
		events = append(events, event(addr, EventStateReport, typ, fields, f))
		idx += 8
	}

	if len(events) == 0 {
		return d.unrecognized(f, typ)
	}
	return events
}

// decodeIntercom decodes intercom (subphone) frames. Only doorbell
// events (header 0x00, cmd 0x01) carry device state; the remaining
// call-flow frames are surfaced as Unrecognized telemetry.
func (d *Decoder) decodeIntercom(f ValidFrame) []DeviceEvent {
	pkt := f.Bytes
	header, cmd, entrance := pkt[1], pkt[3], pkt[4]

	if entrance != 0x01 && entrance != 0x02 {
		return d.unrecognized(f, cmd)
	}

	if header == 0x00 && cmd == 0x01 {
		addr := DeviceAddress{Class: ClassIntercom, Index: entrance}
		fields := Fields{"state": true, "event": "doorbell"}
		return []DeviceEvent{event(addr, EventStateReport, cmd, fields, f)}
	}

	return d.unrecognized(f, cmd)
}

// spinCodeOf extracts the rolling spin code the wall-pad stamps into
// frames. Outbound commands echo the last observed code.
func spinCodeOf(f ValidFrame) (byte, bool) {
	pkt := f.Bytes
	if f.Intercom || len(pkt) < 5 {
		return 0, false
	}
	if fixedLayout(pkt[1], pkt[2]) {
		return pkt[3], true
	}
	return pkt[4], true
}

// be16at reads a big-endian uint16 at offset i, returning 0 when the
// frame is too short. Field widths are fixed but frame lengths vary by
// room configuration, so absent fields read as zero.
func be16at(pkt []byte, i int) uint16 {
	if i < 0 || i+2 > len(pkt) {
		return 0
	}
	return binary.BigEndian.Uint16(pkt[i : i+2])
}
