package reassembler

import (
	"bytes"
	"testing"

	"github.com/librescoot/velocitydrive-serial/pkg/mup1"
)

func TestFeedSingleChunkYieldsFrame(t *testing.T) {
	r := New(nil)
	encoded := mup1.Encode(mup1.TypePing, nil)

	frames := r.Feed(encoded)
	if len(frames) != 1 {
		t.Fatalf("Feed: got %d frames, want 1", len(frames))
	}
	if frames[0].Type != mup1.TypePing {
		t.Errorf("Type = %q, want TypePing", frames[0].Type)
	}
}

func TestFeedArbitraryChunking(t *testing.T) {
	// Property: a frame split across arbitrarily many Feed calls, at
	// arbitrary byte boundaries, still yields exactly one frame.
	encoded := mup1.Encode(mup1.TypeCoAP, []byte("hello coap payload"))

	for splitAt := 0; splitAt <= len(encoded); splitAt++ {
		r := New(nil)
		var frames []mup1.Frame
		frames = append(frames, r.Feed(encoded[:splitAt])...)
		frames = append(frames, r.Feed(encoded[splitAt:])...)

		if len(frames) != 1 {
			t.Fatalf("split at %d: got %d frames, want 1", splitAt, len(frames))
		}
		if !bytes.Equal(frames[0].Payload, []byte("hello coap payload")) {
			t.Fatalf("split at %d: payload = %q", splitAt, frames[0].Payload)
		}
	}
}

func TestFeedByteAtATime(t *testing.T) {
	r := New(nil)
	encoded := mup1.Encode(mup1.TypeAnnounce, []byte("board-up"))

	var frames []mup1.Frame
	for _, b := range encoded {
		frames = append(frames, r.Feed([]byte{b})...)
	}

	if len(frames) != 1 {
		t.Fatalf("Feed byte-at-a-time: got %d frames, want 1", len(frames))
	}
	if !bytes.Equal(frames[0].Payload, []byte("board-up")) {
		t.Fatalf("payload = %q", frames[0].Payload)
	}
}

func TestFeedPayloadContainingEscapedEOFByte(t *testing.T) {
	// A CoAP/CBOR payload containing the literal byte 0x3C (escaped by
	// mup1.Encode as 0x5C 0x3C on the wire) must not be mistaken for the
	// frame's real end-of-frame marker.
	payload := []byte{0x01, 0x3C, 0x02, 0x3C, 0x03}
	encoded := mup1.Encode(mup1.TypeCoAP, payload)

	r := New(nil)
	frames := r.Feed(encoded)
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if !bytes.Equal(frames[0].Payload, payload) {
		t.Fatalf("payload = % X, want % X", frames[0].Payload, payload)
	}
}

func TestFeedPayloadWithEscapedEOFFollowedByAnotherFrame(t *testing.T) {
	payload := []byte{0x3C, 0x3C, 0x3C}
	frame1 := mup1.Encode(mup1.TypeCoAP, payload)
	frame2 := mup1.Encode(mup1.TypePing, nil)

	r := New(nil)
	frames := r.Feed(append(append([]byte(nil), frame1...), frame2...))
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if !bytes.Equal(frames[0].Payload, payload) {
		t.Fatalf("frame1 payload = % X, want % X", frames[0].Payload, payload)
	}
	if frames[1].Type != mup1.TypePing {
		t.Fatalf("frame2 type = %q, want TypePing", frames[1].Type)
	}
}

func TestFeedResyncsAfterGarbage(t *testing.T) {
	r := New(nil)
	encoded := mup1.Encode(mup1.TypePing, nil)

	garbage := []byte{0x01, 0x02, 0x03, 0x3C, 0xFF}
	chunk := append(garbage, encoded...)

	frames := r.Feed(chunk)
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
}

func TestFeedDropsChecksumMismatchAndContinues(t *testing.T) {
	good := mup1.Encode(mup1.TypePing, nil)
	bad := append([]byte(nil), good...)
	bad[len(bad)-1] ^= 0xFF

	var dropped []Dropped
	r := New(func(d Dropped) { dropped = append(dropped, d) })

	frames := r.Feed(append(bad, good...))

	if len(dropped) != 1 {
		t.Fatalf("got %d drops, want 1", len(dropped))
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1 (the good frame after the bad one)", len(frames))
	}
}

func TestFeedMultipleFramesInOneChunk(t *testing.T) {
	r := New(nil)
	frame1 := mup1.Encode(mup1.TypePing, nil)
	frame2 := mup1.Encode(mup1.TypeAnnounce, []byte("hi"))

	frames := r.Feed(append(append([]byte(nil), frame1...), frame2...))
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if frames[0].Type != mup1.TypePing || frames[1].Type != mup1.TypeAnnounce {
		t.Fatalf("frame types = %q, %q", frames[0].Type, frames[1].Type)
	}
}

func TestMaxBytesCapPreventsUnboundedGrowth(t *testing.T) {
	r := New(nil)
	r.maxBytes = 16

	garbage := bytes.Repeat([]byte{0x01}, 64)
	r.Feed(garbage)

	if len(r.buf) > r.maxBytes {
		t.Fatalf("buf grew to %d bytes, want <= %d", len(r.buf), r.maxBytes)
	}
}
