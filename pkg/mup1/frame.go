// Package mup1 implements the Microchip UART Protocol #1 framer and
// deframer: a byte-oriented transport with a one-byte start-of-frame
// marker, a single type byte, an escaped payload, one or two end-of-frame
// markers, and a 4-hex-character one's-complement checksum.
//
// Encode and Decode are pure functions with no I/O; the stateful byte
// stream consumer lives in pkg/reassembler.
package mup1

import (
	"errors"
	"fmt"
)

// Frame type bytes, per the Microchip MUP1 specification.
const (
	TypeAnnounce byte = 'A' // 0x41
	TypeCoAP     byte = 'C' // 0x43
	TypePing     byte = 'P' // 0x50
	TypeTrace    byte = 'T' // 0x54
	TypeSystem   byte = 'S' // 0x53
)

const (
	sof byte = 0x3E // '>'
	eof byte = 0x3C // '<'
	esc byte = 0x5C // '\'
)

var validTypes = map[byte]bool{
	TypeAnnounce: true,
	TypeCoAP:     true,
	TypePing:     true,
	TypeTrace:    true,
	TypeSystem:   true,
}

// Sentinel errors returned by Decode. These are frame-layer errors: the
// reassembler is expected to log and discard on any of them rather than
// treat them as fatal.
var (
	ErrFrameTooShort = errors.New("mup1: frame too short")
	ErrBadSof        = errors.New("mup1: bad start-of-frame byte")
)

// escapeTable maps a raw payload byte that must be escaped to the byte
// that follows the escape marker on the wire.
var escapeTable = map[byte]byte{
	0x00: '0',
	0xFF: 'F',
	sof:  sof,
	eof:  eof,
	esc:  esc,
}

// unescapeTable is the inverse of escapeTable.
var unescapeTable = map[byte]byte{
	'0': 0x00,
	'F': 0xFF,
	sof: sof,
	eof: eof,
	esc: esc,
}

// Frame is the parsed result of Decode.
type Frame struct {
	Type          byte
	Payload       []byte
	ChecksumValid bool
}

// IsValidType reports whether b is one of the five MUP1 command bytes.
func IsValidType(b byte) bool {
	return validTypes[b]
}

// Encode produces a complete MUP1 frame for the given type and payload.
// payload may be empty. Encode never fails on a well-formed type; callers
// passing an invalid type byte still get a frame back (the wire format
// does not forbid it), but IsValidType should be checked at the call site
// that originates requests.
func Encode(typ byte, payload []byte) []byte {
	buf := make([]byte, 0, len(payload)*2+8)
	buf = append(buf, sof, typ)

	for _, b := range payload {
		if esc, ok := escapeTable[b]; ok {
			buf = append(buf, '\\', esc)
		} else {
			buf = append(buf, b)
		}
	}

	// Padding keeps the pre-checksum byte count (SOF+type+payload+EOFs)
	// always even, so the checksum always sums whole 16-bit words: if the
	// byte count before any EOF is even, one EOF would make it odd, so a
	// second EOF is appended.
	preEofEven := len(buf)%2 == 0
	buf = append(buf, eof)
	if preEofEven {
		buf = append(buf, eof)
	}

	sum := Checksum(buf)
	return append(buf, checksumHex(sum)...)
}

// FindFrameEnd scans data, which must begin with the SOF byte, for the
// boundary of one complete MUP1 frame: the end-of-frame marker (plus a
// possible padding marker) followed by the 4-byte checksum. It walks
// escape-aware exactly like Decode's own payload loop, so an escaped
// 0x3C byte inside the payload is never mistaken for the terminator.
// ok is false when data does not yet hold a complete frame and the
// caller should wait for more bytes.
func FindFrameEnd(data []byte) (end int, ok bool) {
	if len(data) < 2 || data[0] != sof {
		return 0, false
	}

	i := 2
	eofIdx := -1
	for i < len(data) {
		b := data[i]
		if b == esc {
			if i+1 >= len(data) {
				return 0, false
			}
			i += 2
			continue
		}
		if b == eof {
			eofIdx = i
			break
		}
		i++
	}
	if eofIdx < 0 {
		return 0, false
	}

	checksumStart := eofIdx + 1
	if checksumStart >= len(data) {
		return 0, false
	}
	if data[checksumStart] == eof {
		checksumStart++
	}

	frameEnd := checksumStart + 4
	if len(data) < frameEnd {
		return 0, false
	}
	return frameEnd, true
}

// Decode parses a complete MUP1 frame. It returns ErrFrameTooShort or
// ErrBadSof for malformed input, and an error when no unescaped
// end-of-frame marker follows the type byte; a checksum that does not
// match or is not valid hex is reported via ChecksumValid=false rather
// than an error, per spec: the caller (the
// reassembler) decides whether to tolerate or discard a checksum
// mismatch.
func Decode(data []byte) (Frame, error) {
	if len(data) < 8 {
		return Frame{}, ErrFrameTooShort
	}
	if data[0] != sof {
		return Frame{}, ErrBadSof
	}

	typ := data[1]
	payload := make([]byte, 0, len(data)-8)

	i := 2
	eofIdx := -1
	for i < len(data) {
		b := data[i]
		if b == esc && i+1 < len(data) {
			if unesc, ok := unescapeTable[data[i+1]]; ok {
				payload = append(payload, unesc)
				i += 2
				continue
			}
			// Unknown escape sequence: pass the raw byte through.
			payload = append(payload, b)
			i++
			continue
		}
		if b == eof {
			eofIdx = i
			break
		}
		payload = append(payload, b)
		i++
	}

	if eofIdx < 0 {
		return Frame{}, fmt.Errorf("mup1: no end-of-frame marker found")
	}

	checksumStart := eofIdx + 1
	if checksumStart < len(data) && data[checksumStart] == eof {
		checksumStart++
	}

	if len(data) < checksumStart+4 {
		return Frame{}, ErrFrameTooShort
	}

	expected, err := parseChecksumHex(data[checksumStart : checksumStart+4])
	if err != nil {
		return Frame{Type: typ, Payload: payload, ChecksumValid: false}, nil
	}

	actual := Checksum(data[:checksumStart])
	return Frame{
		Type:          typ,
		Payload:       payload,
		ChecksumValid: actual == expected,
	}, nil
}
