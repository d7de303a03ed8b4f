package device

import (
	"fmt"
	"time"

	"github.com/librescoot/velocitydrive-serial/pkg/cbor"
	"github.com/librescoot/velocitydrive-serial/pkg/coap"
	"github.com/librescoot/velocitydrive-serial/pkg/mup1"
	"github.com/librescoot/velocitydrive-serial/pkg/tracker"
)

// Request sends a CoAP request over this connection and blocks until a
// response arrives, the timeout elapses, or the connection is
// disconnected. A timeout <= 0 uses tracker.DefaultTimeout.
func (c *Connection) Request(method uint8, uri string, payload []byte, timeout time.Duration) ([]byte, error) {
	if c.State() != Open {
		return nil, ErrNotConnected
	}

	resultCh, err := c.tracker.Send(method, uri, timeout, func(messageID uint16) []byte {
		coapMsg := coap.Build(method, uri, payload, messageID)
		return mup1.Encode(mup1.TypeCoAP, coapMsg)
	}, c.writeFrame)
	if err != nil {
		return nil, err
	}

	result := <-resultCh
	return result.Payload, result.Err
}

// Cancel rejects a still-pending request by message ID with
// tracker.ErrCancelled, the pure extension over the timeout-only
// cancellation model. It reports whether messageID was still pending.
func (c *Connection) Cancel(messageID uint16) bool {
	return c.tracker.Cancel(messageID)
}

// queryDeviceInfo sends GET /c?d=a (spec.md §4.5: the discovery query
// CORECONF boards answer with system state, interfaces, and bridges) and
// populates c.info from the decoded CBOR document.
func (c *Connection) queryDeviceInfo() error {
	payload, err := c.Request(coap.GET, "/c?d=a", nil, tracker.DefaultTimeout)
	if err != nil {
		return fmt.Errorf("device: %s: query device info: %w", c.path, err)
	}

	root, err := cbor.Decode(payload)
	if err != nil {
		return fmt.Errorf("device: %s: decode device info: %w", c.path, err)
	}

	info := Info{
		Path:      c.path,
		BaudRate:  c.baud,
		Connected: true,
		LastSeen:  time.Now(),
	}

	if state, ok := root.Lookup("ietf-system:system-state"); ok {
		if platform, ok := state.Lookup("platform"); ok {
			if m, ok := platform.Lookup("os-name"); ok {
				info.Model, _ = m.AsText()
			}
			if v, ok := platform.Lookup("os-version"); ok {
				info.Firmware, _ = v.AsText()
			}
			if s, ok := platform.Lookup("os-machine"); ok {
				info.SerialNumber, _ = s.AsText()
			}
		}
	}

	if ifaces, ok := root.Lookup("ietf-interfaces:interfaces"); ok {
		if list, ok := ifaces.Lookup("interface"); ok {
			if items, ok := list.AsList(); ok {
				for _, item := range items {
					info.Interfaces = append(info.Interfaces, parseInterface(item))
				}
			}
		}
	}

	if bridges, ok := root.Lookup("ieee802-dot1q-bridge:bridges"); ok {
		if list, ok := bridges.Lookup("bridge"); ok {
			if items, ok := list.AsList(); ok {
				for _, item := range items {
					info.Bridges = append(info.Bridges, parseBridge(item))
				}
			}
		}
	}

	c.infoMu.Lock()
	c.info = info
	c.infoMu.Unlock()
	return nil
}

func parseInterface(v cbor.Value) InterfaceInfo {
	out := InterfaceInfo{}
	if name, ok := v.Lookup("name"); ok {
		out.Name, _ = name.AsText()
	}
	if typ, ok := v.Lookup("type"); ok {
		out.Type, _ = typ.AsText()
	}
	if enabled, ok := v.Lookup("enabled"); ok {
		out.Enabled = enabled.Bool
	}
	if status, ok := v.Lookup("oper-status"); ok {
		out.OperStatus, _ = status.AsText()
	}
	return out
}

func parseBridge(v cbor.Value) BridgeInfo {
	out := BridgeInfo{}
	if name, ok := v.Lookup("name"); ok {
		out.Name, _ = name.AsText()
	}
	if addr, ok := v.Lookup("address"); ok {
		out.Address, _ = addr.AsText()
	}
	if comps, ok := v.Lookup("component"); ok {
		if items, ok := comps.AsList(); ok {
			for _, c := range items {
				if n, ok := c.Lookup("name"); ok {
					if s, ok := n.AsText(); ok {
						out.Components = append(out.Components, s)
					}
				}
			}
		}
	}
	return out
}

// Info returns a snapshot of the device info record, as last populated
// by RefreshInfo.
func (c *Connection) Info() Info {
	c.infoMu.Lock()
	defer c.infoMu.Unlock()
	return c.info
}

// RefreshInfo re-queries device info (GET /c?d=a) and updates the cached
// snapshot returned by Info.
func (c *Connection) RefreshInfo() error {
	return c.queryDeviceInfo()
}
