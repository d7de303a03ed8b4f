package device

import (
	"testing"

	"github.com/librescoot/velocitydrive-serial/pkg/cbor"
)

func TestParseInterfaceExtractsFields(t *testing.T) {
	v := cbor.Map(map[string]cbor.Value{
		"name":        cbor.Text("eth0"),
		"type":        cbor.Text("ethernetCsmacd"),
		"enabled":     cbor.Bool(true),
		"oper-status": cbor.Text("up"),
	})

	got := parseInterface(v)
	if got.Name != "eth0" || got.Type != "ethernetCsmacd" || !got.Enabled || got.OperStatus != "up" {
		t.Fatalf("parseInterface = %+v", got)
	}
}

func TestParseBridgeExtractsComponents(t *testing.T) {
	v := cbor.Map(map[string]cbor.Value{
		"name":    cbor.Text("br0"),
		"address": cbor.Text("00:11:22:33:44:55"),
		"component": cbor.List(
			cbor.Map(map[string]cbor.Value{"name": cbor.Text("c0")}),
			cbor.Map(map[string]cbor.Value{"name": cbor.Text("c1")}),
		),
	})

	got := parseBridge(v)
	if got.Name != "br0" || got.Address != "00:11:22:33:44:55" {
		t.Fatalf("parseBridge = %+v", got)
	}
	if len(got.Components) != 2 || got.Components[0] != "c0" || got.Components[1] != "c1" {
		t.Fatalf("Components = %v", got.Components)
	}
}

func TestDeviceInfoDocumentLookupAndInfoSnapshot(t *testing.T) {
	// Mirrors the document shape queryDeviceInfo expects from GET /c?d=a,
	// walks it with the same Lookup chain, and checks that Info returns
	// the stored model. queryDeviceInfo itself is not called: it needs an
	// open serial port.
	doc := cbor.Map(map[string]cbor.Value{
		"ietf-system:system-state": cbor.Map(map[string]cbor.Value{
			"platform": cbor.Map(map[string]cbor.Value{
				"os-name":    cbor.Text("VelocityDRIVE-SP"),
				"os-version": cbor.Text("2024.09"),
				"os-machine": cbor.Text("LAN9662"),
			}),
		}),
		"ietf-interfaces:interfaces": cbor.Map(map[string]cbor.Value{
			"interface": cbor.List(cbor.Map(map[string]cbor.Value{
				"name":        cbor.Text("eth0"),
				"enabled":     cbor.Bool(true),
				"oper-status": cbor.Text("up"),
			})),
		}),
	})
	payload, err := cbor.Encode(doc)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	root, err := cbor.Decode(payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	c := New("/dev/fake0", 115200, nil)
	state, ok := root.Lookup("ietf-system:system-state")
	if !ok {
		t.Fatalf("Lookup system-state failed")
	}
	platform, ok := state.Lookup("platform")
	if !ok {
		t.Fatalf("Lookup platform failed")
	}
	name, _ := platform.Lookup("os-name")
	model, _ := name.AsText()
	if model != "VelocityDRIVE-SP" {
		t.Fatalf("model = %q, want VelocityDRIVE-SP", model)
	}

	c.infoMu.Lock()
	c.info.Model = model
	c.infoMu.Unlock()

	if got := c.Info().Model; got != "VelocityDRIVE-SP" {
		t.Fatalf("Info().Model = %q, want VelocityDRIVE-SP", got)
	}
}
