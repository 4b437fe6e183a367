package wallpad

import "bytes"

// defaultMaxFrameLength bounds how long a declared frame may be before
// the reader treats the length field as corrupt and resynchronizes.
// The longest documented frames (dimming room status, HEMS reports)
// stay well under this.
const defaultMaxFrameLength = 128

// Reader frames a continuous, possibly fragmented byte stream into
// candidate RawFrames.
//
// Bytes may arrive split across arbitrary boundaries and stray noise
// bytes may appear between frames. The reader keeps a rolling buffer,
// scans for the 0x02 start marker, determines the frame length from the
// header (some classes use fixed 10-byte layouts, intercom frames are
// delimited by their 0x03 trailer), and yields complete frames.
//
// Recovery: a length field exceeding the configured maximum discards
// the offending marker and rescans from the next one; a frame that
// later fails validation can be handed back via Reclaim so that a
// genuine start marker hidden inside it is recovered. The reader can
// resynchronize from any byte offset and never requires re-reading the
// transport from the beginning.
//
// Reader is not safe for concurrent use; each bus pipeline owns one.
type Reader struct {
	buf      []byte
	maxFrame int
	desyncs  uint64
}

// NewReader creates a Reader.
//
// maxFrameLength bounds declared frame lengths; values <= 0 select the
// default.
func NewReader(maxFrameLength int) *Reader {
	if maxFrameLength <= 0 {
		maxFrameLength = defaultMaxFrameLength
	}
	return &Reader{maxFrame: maxFrameLength}
}

// Feed appends p to the rolling buffer and returns all complete frames
// now available. Feeding nil drains frames made available by Reclaim.
//
// The same ordered frame sequence is produced regardless of how the
// stream is chunked across Feed calls.
func (r *Reader) Feed(p []byte) []RawFrame {
	r.buf = append(r.buf, p...)

	var frames []RawFrame
	for {
		frame, ok := r.next()
		if !ok {
			break
		}
		frames = append(frames, frame)
	}
	return frames
}

// Reclaim hands a frame that failed validation back to the reader. The
// bytes after its start marker are rescanned, recovering any genuine
// frame start that the bad frame swallowed. Call Feed(nil) afterwards
// to collect recovered frames.
func (r *Reader) Reclaim(frame []byte) {
	if len(frame) < 2 {
		return
	}
	r.desyncs++

	reclaimed := make([]byte, 0, len(frame)-1+len(r.buf))
	reclaimed = append(reclaimed, frame[1:]...)
	reclaimed = append(reclaimed, r.buf...)
	r.buf = reclaimed
}

// Buffered returns the number of bytes currently held while waiting for
// a frame to complete.
func (r *Reader) Buffered() int { return len(r.buf) }

// Desyncs returns how many times the reader discarded bytes to
// resynchronize with the stream.
func (r *Reader) Desyncs() uint64 { return r.desyncs }

// next extracts one complete frame from the buffer, or reports that
// more bytes are needed.
func (r *Reader) next() (RawFrame, bool) {
	for {
		if len(r.buf) == 0 {
			return RawFrame{}, false
		}

		// Resynchronize to the next start marker.
		if r.buf[0] != StartMarker {
			idx := bytes.IndexByte(r.buf, StartMarker)
			if idx < 0 {
				r.buf = r.buf[:0]
				r.desyncs++
				return RawFrame{}, false
			}
			r.buf = r.buf[idx:]
			r.desyncs++
		}

		if len(r.buf) < minFrameLength {
			return RawFrame{}, false
		}

		// Intercom frames carry no length field; they are recognised
		// by the 0x03 trailer plus their XOR checksum.
		if len(r.buf) >= intercomFrameLength && r.buf[9] == intercomTrailer && verifyIntercom(r.buf[:intercomFrameLength]) {
			frame := RawFrame{Bytes: clone(r.buf[:intercomFrameLength]), Intercom: true}
			r.buf = r.buf[intercomFrameLength:]
			return frame, true
		}

		length := declaredLength(r.buf)
		if length > r.maxFrame {
			// Corrupt length field: drop the marker and rescan.
			r.buf = r.buf[1:]
			r.desyncs++
			continue
		}
		if length < minFrameLength {
			// Could be a chunked intercom frame whose trailer has not
			// arrived yet; wait until we can tell.
			if len(r.buf) < intercomFrameLength {
				return RawFrame{}, false
			}
			r.buf = r.buf[1:]
			r.desyncs++
			continue
		}

		if len(r.buf) < length {
			return RawFrame{}, false
		}

		frame := RawFrame{Bytes: clone(r.buf[:length])}
		r.buf = r.buf[length:]
		return frame, true
	}
}

// clone copies b so emitted frames never alias the rolling buffer.
func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
