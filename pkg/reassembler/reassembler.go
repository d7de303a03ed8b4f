// Package reassembler turns an arbitrarily-chunked inbound byte stream
// from a serial device into a sequence of complete MUP1 frames, handling
// partial writes, resync after garbage, and checksum mismatches.
package reassembler

import (
	"github.com/librescoot/velocitydrive-serial/pkg/mup1"
)

// DefaultMaxBytes bounds how large the scratch buffer is allowed to grow
// while no start-of-frame byte has been found, per spec: "scratch never
// exceeds frame_max_bytes + chunk_size; unbounded accumulation with no
// SOF triggers a buffer reset at a configurable cap."
const DefaultMaxBytes = 64*1024 + 256

const sof byte = 0x3E

// Dropped is reported for every frame the reassembler discards: a decode
// failure or checksum mismatch. The reassembler logs and continues;
// discarding one frame never stops subsequent frames from being found.
type Dropped struct {
	Reason string
	Bytes  []byte
}

// Reassembler consumes inbound byte chunks and yields complete,
// validated MUP1 frames. It holds no reference to the serial handle — it
// is pure buffer bookkeeping plus the Frame Codec.
type Reassembler struct {
	buf      []byte
	maxBytes int
	onDrop   func(Dropped)
}

// New creates a Reassembler. onDrop, if non-nil, is called for every
// discarded frame (decode error or checksum mismatch); a nil onDrop
// silently discards.
func New(onDrop func(Dropped)) *Reassembler {
	return &Reassembler{maxBytes: DefaultMaxBytes, onDrop: onDrop}
}

// Feed appends chunk to the scratch buffer and extracts every complete
// frame that can currently be decoded. Frames are returned in arrival
// order; partial trailing data remains buffered for the next Feed call.
func (r *Reassembler) Feed(chunk []byte) []mup1.Frame {
	r.buf = append(r.buf, chunk...)

	var frames []mup1.Frame
	for {
		frame, consumed, ok := r.tryExtract()
		if !ok {
			break
		}
		r.buf = r.buf[consumed:]
		if frame != nil {
			frames = append(frames, *frame)
		}
	}
	return frames
}

// tryExtract attempts to pull one frame out of the front of r.buf. It
// returns ok=false when there is not yet enough data to decide. When a
// frame is found but fails to decode or its checksum is invalid, it is
// reported via onDrop and tryExtract returns a nil frame with ok=true
// (meaning: bytes were consumed, keep looping) so the caller resyncs on
// the next SOF.
func (r *Reassembler) tryExtract() (*mup1.Frame, int, bool) {
	sofIdx := indexByte(r.buf, sof)
	if sofIdx < 0 {
		if len(r.buf) > r.maxBytes {
			r.buf = r.buf[:0]
		}
		return nil, 0, false
	}
	if sofIdx > 0 {
		// Discard garbage preceding the start-of-frame byte.
		r.buf = r.buf[sofIdx:]
		sofIdx = 0
	}

	frameEnd, ok := mup1.FindFrameEnd(r.buf)
	if !ok {
		if len(r.buf) > r.maxBytes {
			r.buf = r.buf[:0]
		}
		return nil, 0, false
	}

	candidate := r.buf[:frameEnd]
	frame, err := mup1.Decode(candidate)
	if err != nil {
		r.report(Dropped{Reason: err.Error(), Bytes: append([]byte(nil), candidate...)})
		return nil, frameEnd, true
	}
	if !frame.ChecksumValid {
		r.report(Dropped{Reason: "checksum mismatch", Bytes: append([]byte(nil), candidate...)})
		return nil, frameEnd, true
	}

	return &frame, frameEnd, true
}

func (r *Reassembler) report(d Dropped) {
	if r.onDrop != nil {
		r.onDrop(d)
	}
}

func indexByte(b []byte, target byte) int {
	return indexByteFrom(b, target, 0)
}

func indexByteFrom(b []byte, target byte, from int) int {
	for i := from; i < len(b); i++ {
		if b[i] == target {
			return i
		}
	}
	return -1
}
