package coap

import (
	"bytes"
	"testing"

	"github.com/librescoot/velocitydrive-serial/pkg/cbor"
)

func TestBuildGetWithQuery(t *testing.T) {
	// Scenario S2: GET /c?d=a, message ID 0x1234.
	got := Build(GET, "/c?d=a", nil, 0x1234)

	want := []byte{
		(1 << 6) | (TypeConfirmable << 4), // version 1, type CON, TKL 0
		GET,
		0x12, 0x34,
	}
	// Uri-Path "c": delta=11, length=1
	want = append(want, 0xB1, 'c')
	// Content-Format: delta=1, length=2, value 0x01 0x04
	want = append(want, 0x12, 0x01, 0x04)
	// Uri-Query "d=a": delta=3, length=3
	want = append(want, 0x33, 'd', '=', 'a')

	if !bytes.Equal(got, want) {
		t.Fatalf("Build = % X, want % X", got, want)
	}
}

func TestBuildWithPayloadAppendsMarker(t *testing.T) {
	payload := []byte{0xA1, 0x61, 0x61, 0x01}
	got := Build(PUT, "/c", payload, 1)

	if len(got) < len(payload)+1 {
		t.Fatalf("Build: too short to contain payload marker")
	}
	marker := got[len(got)-len(payload)-1]
	if marker != 0xFF {
		t.Fatalf("Build: payload marker = %02X, want FF", marker)
	}
	if !bytes.Equal(got[len(got)-len(payload):], payload) {
		t.Fatalf("Build: trailing bytes = % X, want payload % X", got[len(got)-len(payload):], payload)
	}
}

func TestParseAckResponse(t *testing.T) {
	// Scenario S3: 2.05 Content ACK, mid 0x1234, CBOR payload after 0xFF.
	data := []byte{0x60, 0x45, 0x12, 0x34, 0xFF, 0xA1, 0x61, 0x61, 0x01}

	parsed, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.Version != 1 {
		t.Errorf("Version = %d, want 1", parsed.Version)
	}
	if parsed.Type != TypeAcknowledgement {
		t.Errorf("Type = %d, want TypeAcknowledgement", parsed.Type)
	}
	if parsed.Code != 0x45 {
		t.Errorf("Code = %02X, want 45", parsed.Code)
	}
	if parsed.CodeClass != 2 {
		t.Errorf("CodeClass = %d, want 2", parsed.CodeClass)
	}
	if parsed.CodeName != "2.05" {
		t.Errorf("CodeName = %s, want 2.05", parsed.CodeName)
	}
	if parsed.MessageID != 0x1234 {
		t.Errorf("MessageID = %04X, want 1234", parsed.MessageID)
	}
	if !bytes.Equal(parsed.Payload, []byte{0xA1, 0x61, 0x61, 0x01}) {
		t.Errorf("Payload = % X", parsed.Payload)
	}
	if parsed.Decoded.Kind != cbor.KindMap {
		t.Fatalf("Decoded.Kind = %v, want KindMap", parsed.Decoded.Kind)
	}
	if v, ok := parsed.Decoded.Lookup("a"); !ok || v.Int != 1 {
		t.Errorf("Decoded[\"a\"] = %v, ok=%v, want 1/true", v, ok)
	}
}

func TestParseNonCBORPayloadFallsBackToRawBytes(t *testing.T) {
	// A payload that is not valid CBOR (here, a bare 0xFF break stop code)
	// must still surface via Payload even though Decoded stays Null.
	data := []byte{0x60, 0x45, 0x00, 0x01, 0xFF, 0xFF, 0xFF}

	parsed, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !bytes.Equal(parsed.Payload, []byte{0xFF, 0xFF}) {
		t.Errorf("Payload = % X, want FF FF", parsed.Payload)
	}
	if parsed.Decoded.Kind != cbor.KindNull {
		t.Errorf("Decoded.Kind = %v, want KindNull", parsed.Decoded.Kind)
	}
}

func TestParseRejectsTooShort(t *testing.T) {
	_, err := Parse([]byte{0x60, 0x45})
	if err != ErrMessageTooShort {
		t.Fatalf("Parse: err = %v, want ErrMessageTooShort", err)
	}
}

func TestParseNoPayloadMarker(t *testing.T) {
	data := []byte{0x60, 0x45, 0x00, 0x01}
	parsed, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.Payload != nil {
		t.Errorf("Payload = % X, want nil", parsed.Payload)
	}
}

func TestAppendOptionExtendedDelta(t *testing.T) {
	// delta 269 requires the 14-extension form with a 2-byte extra value.
	buf := appendOption(nil, 269, 0, []byte{0x01})
	if buf[0]>>4 != 14 {
		t.Fatalf("appendOption: delta nibble = %d, want 14", buf[0]>>4)
	}
}
