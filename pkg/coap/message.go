// Package coap implements a minimal CoAP (RFC 7252) message builder and
// parser for the option subset CORECONF needs: Uri-Path, Uri-Query, and
// Content-Format. There is no support for Observe, block-wise transfer,
// or token-based correlation — this core correlates purely by message ID.
package coap

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/librescoot/velocitydrive-serial/pkg/cbor"
)

// Method codes, per RFC 7252 plus the CORECONF extensions (FETCH, PATCH,
// iPATCH) defined by RFC 8132.
const (
	GET     uint8 = 1
	POST    uint8 = 2
	PUT     uint8 = 3
	DELETE  uint8 = 4
	FETCH   uint8 = 5
	PATCH   uint8 = 6
	IPATCH  uint8 = 7
)

// Message type. This core only ever sends Confirmable and only needs to
// recognize Acknowledgement on the response path; no retransmission
// timers are implemented (reliability is delegated to the serial link).
const (
	TypeConfirmable    uint8 = 0
	TypeNonConfirmable uint8 = 1
	TypeAcknowledgement uint8 = 2
	TypeReset          uint8 = 3
)

// ContentFormatYANGCBOR is CORECONF's YANG-Data+CBOR content format,
// RFC 9254, sent on every outbound request regardless of method.
const ContentFormatYANGCBOR = 260

const (
	optionUriPath       = 11
	optionContentFormat = 12
	optionUriQuery      = 15
)

var ErrMessageTooShort = errors.New("coap: message too short")

// Build encodes a CoAP message with the given method, URI, payload, and
// message ID, and returns the encoded bytes directly; it has no error
// result. uri is split into path segments (before an optional "?")
// and query items (after it); empty segments/items are discarded. Every
// built message carries Content-Format=260 regardless of method or
// payload presence, per spec.
func Build(method uint8, uri string, payload []byte, messageID uint16) []byte {
	path, query := splitURI(uri)

	buf := make([]byte, 4, 4+len(path)*2+8+len(query)*4+len(payload)+1)
	buf[0] = (1 << 6) | (TypeConfirmable << 4) | 0 // version=1, type=CON, TKL=0
	buf[1] = method
	binary.BigEndian.PutUint16(buf[2:4], messageID)

	lastOption := uint16(0)

	for _, seg := range path {
		buf = appendOption(buf, optionUriPath, lastOption, []byte(seg))
		lastOption = optionUriPath
	}

	// Content-Format is always emitted as the fixed 2-byte value 0x01 0x04
	// (260, YANG-Data+CBOR), per spec — not the shortest-form integer
	// encoding some CoAP stacks use for option values.
	cf := []byte{byte(ContentFormatYANGCBOR >> 8), byte(ContentFormatYANGCBOR & 0xFF)}
	buf = appendOption(buf, optionContentFormat, lastOption, cf)
	lastOption = optionContentFormat

	for _, item := range query {
		buf = appendOption(buf, optionUriQuery, lastOption, []byte(item))
		lastOption = optionUriQuery
	}

	if payload != nil {
		buf = append(buf, 0xFF)
		buf = append(buf, payload...)
	}

	return buf
}

// splitURI returns the non-empty "/" segments before an optional "?" and the non-empty "&" items after it.
func splitURI(uri string) (path, query []string) {
	rawPath, rawQuery, _ := strings.Cut(uri, "?")
	for _, seg := range strings.Split(rawPath, "/") {
		if seg != "" {
			path = append(path, seg)
		}
	}
	for _, item := range strings.Split(rawQuery, "&") {
		if item != "" {
			query = append(query, item)
		}
	}
	return path, query
}

// appendOption writes one option TLV, delta-encoded against
// lastOptionNumber, using the base/13/14 extension forms of RFC 7252
// §3.1.
func appendOption(buf []byte, optionNumber, lastOptionNumber uint16, value []byte) []byte {
	delta := optionNumber - lastOptionNumber
	length := uint16(len(value))

	header := byte(0)
	var extra []byte

	switch {
	case delta < 13:
		header |= byte(delta) << 4
	case delta < 269:
		header |= 13 << 4
		extra = append(extra, byte(delta-13))
	default:
		header |= 14 << 4
		d := delta - 269
		extra = append(extra, byte(d>>8), byte(d))
	}

	switch {
	case length < 13:
		header |= byte(length)
	case length < 269:
		header |= 13
		extra = append(extra, byte(length-13))
	default:
		header |= 14
		l := length - 269
		extra = append(extra, byte(l>>8), byte(l))
	}

	buf = append(buf, header)
	buf = append(buf, extra...)
	buf = append(buf, value...)
	return buf
}

// Parsed is the result of Parse.
type Parsed struct {
	Version   uint8
	Type      uint8
	Code      uint8
	MessageID uint16
	Payload   []byte
	Decoded   cbor.Value
	CodeClass uint8
	CodeName  string
}

// Parse decodes a CoAP message header and extracts the payload. Options
// are intentionally skipped — this core only needs the response code and
// payload, per spec. The raw payload bytes are always returned in
// Payload; Parse also attempts a CBOR decode of those bytes via
// pkg/cbor, exposed as Decoded. If the payload is not valid CBOR (or
// empty), Decoded is cbor.Null() and Payload is the only evidence of
// what came over the wire.
func Parse(data []byte) (Parsed, error) {
	if len(data) < 4 {
		return Parsed{}, ErrMessageTooShort
	}

	version := data[0] >> 6
	typ := (data[0] >> 4) & 0x3
	tkl := data[0] & 0xF
	code := data[1]
	messageID := binary.BigEndian.Uint16(data[2:4])

	offset := 4 + int(tkl)
	if offset > len(data) {
		offset = len(data)
	}

	var payload []byte
	for i := offset; i < len(data); i++ {
		if data[i] == 0xFF {
			payload = data[i+1:]
			break
		}
	}

	decoded := cbor.Null()
	if len(payload) > 0 {
		if v, err := cbor.Decode(payload); err == nil {
			decoded = v
		}
	}

	return Parsed{
		Version:   version,
		Type:      typ,
		Code:      code,
		MessageID: messageID,
		Payload:   payload,
		Decoded:   decoded,
		CodeClass: code >> 5,
		CodeName:  codeName(code),
	}, nil
}

// codeName renders a CoAP code byte as the conventional "C.DD" string,
// e.g. code 69 (0x45) -> "2.05".
func codeName(code uint8) string {
	return fmt.Sprintf("%d.%02d", code>>5, code&0x1F)
}
