package wallpad

import (
	"bytes"
	"testing"
)

// testFrames returns a representative valid frame sequence: a
// length-framed thermostat status, a fixed-layout gas status, an
// intercom doorbell and a 30-byte room status.
func testFrames() [][]byte {
	thermostat := withChecksum([]byte{
		0x02, 0x28, 0x10, 0x91, 0x1A, 0x01, 0x01, 0x55,
		0x00, 0xDC, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	})
	gas := withChecksum([]byte{
		0x02, 0x31, 0x80, 0x07, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00,
	})
	doorbell := []byte{0x02, 0x00, 0x01, 0x01, 0x01, 0x00, 0x00, 0x00, 0x00, 0x03}

	room := make([]byte, 30)
	room[0], room[1], room[2], room[3] = 0x02, 0x31, 0x1E, 0x91
	room[5] = 0x01
	room[6] = 0x05
	room[7] = 0x13
	withChecksum(room)

	return [][]byte{thermostat, gas, doorbell, room}
}

func collect(r *Reader, stream []byte, chunk int) []RawFrame {
	var frames []RawFrame
	for len(stream) > 0 {
		n := chunk
		if n > len(stream) {
			n = len(stream)
		}
		frames = append(frames, r.Feed(stream[:n])...)
		stream = stream[n:]
	}
	return frames
}

func TestReaderChunkingInvariance(t *testing.T) {
	var stream []byte
	for _, f := range testFrames() {
		stream = append(stream, f...)
	}

	whole := NewReader(0).Feed(stream)
	if len(whole) != 4 {
		t.Fatalf("whole-stream feed yielded %d frames, want 4", len(whole))
	}

	for _, chunk := range []int{1, 2, 3, 7, 16} {
		got := collect(NewReader(0), stream, chunk)
		if len(got) != len(whole) {
			t.Fatalf("chunk=%d yielded %d frames, want %d", chunk, len(got), len(whole))
		}
		for i := range got {
			if !bytes.Equal(got[i].Bytes, whole[i].Bytes) {
				t.Errorf("chunk=%d frame %d = % X, want % X", chunk, i, got[i].Bytes, whole[i].Bytes)
			}
			if got[i].Intercom != whole[i].Intercom {
				t.Errorf("chunk=%d frame %d intercom flag mismatch", chunk, i)
			}
		}
	}
}

func TestReaderResyncWithNoise(t *testing.T) {
	frames := testFrames()
	noise := [][]byte{
		{0xFF, 0x00, 0x7A},
		{0x55},
		{0xA0, 0xA1, 0xA2, 0xA3},
		{0x0E},
		{0x99, 0x31},
	}

	var stream []byte
	for i, f := range frames {
		stream = append(stream, noise[i]...)
		stream = append(stream, f...)
	}
	stream = append(stream, noise[len(frames)]...)

	r := NewReader(0)
	got := collect(r, stream, 5)
	if len(got) != len(frames) {
		t.Fatalf("yielded %d frames, want %d", len(got), len(frames))
	}
	for i := range got {
		if !bytes.Equal(got[i].Bytes, frames[i]) {
			t.Errorf("frame %d = % X, want % X", i, got[i].Bytes, frames[i])
		}
	}
	if r.Desyncs() == 0 {
		t.Error("Desyncs() = 0, want > 0 after noise")
	}
}

func TestReaderOversizeLength(t *testing.T) {
	// A corrupt length byte larger than the cap must not stall the
	// reader; it drops the marker and recovers the following frame.
	gas := withChecksum([]byte{
		0x02, 0x31, 0x80, 0x07, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00,
	})

	var stream []byte
	stream = append(stream, 0x02, 0x99, 0xF0)
	stream = append(stream, gas...)

	got := NewReader(64).Feed(stream)
	if len(got) != 1 {
		t.Fatalf("yielded %d frames, want 1", len(got))
	}
	if !bytes.Equal(got[0].Bytes, gas) {
		t.Errorf("frame = % X, want % X", got[0].Bytes, gas)
	}
}

func TestReaderReclaim(t *testing.T) {
	// A corrupt frame whose declared length swallows a genuine frame's
	// start marker: after Reclaim the inner frame is recovered.
	gas := withChecksum([]byte{
		0x02, 0x31, 0x02, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	})

	var stream []byte
	stream = append(stream, 0x02, 0x99, 0x0C) // declares 12 bytes
	stream = append(stream, gas...)

	r := NewReader(0)
	frames := r.Feed(stream)
	if len(frames) != 1 {
		t.Fatalf("initial feed yielded %d frames, want 1", len(frames))
	}

	if _, err := Validate(frames[0], BusControl); err == nil {
		t.Fatal("expected the swallowing frame to fail validation")
	}

	r.Reclaim(frames[0].Bytes)
	recovered := r.Feed(nil)
	if len(recovered) != 1 {
		t.Fatalf("post-reclaim feed yielded %d frames, want 1", len(recovered))
	}
	if !bytes.Equal(recovered[0].Bytes, gas) {
		t.Errorf("recovered frame = % X, want % X", recovered[0].Bytes, gas)
	}
	if _, err := Validate(recovered[0], BusControl); err != nil {
		t.Errorf("recovered frame failed validation: %v", err)
	}
}

func TestReaderPartialFrameWaits(t *testing.T) {
	thermostat := withChecksum([]byte{
		0x02, 0x28, 0x10, 0x91, 0x1A, 0x01, 0x01, 0x55,
		0x00, 0xDC, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	})

	r := NewReader(0)
	if frames := r.Feed(thermostat[:9]); len(frames) != 0 {
		t.Fatalf("partial feed yielded %d frames, want 0", len(frames))
	}
	if r.Buffered() == 0 {
		t.Fatal("Buffered() = 0, want pending bytes")
	}

	frames := r.Feed(thermostat[9:])
	if len(frames) != 1 {
		t.Fatalf("completion feed yielded %d frames, want 1", len(frames))
	}
	if !bytes.Equal(frames[0].Bytes, thermostat) {
		t.Errorf("frame = % X, want % X", frames[0].Bytes, thermostat)
	}
}
