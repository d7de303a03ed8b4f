// Package device implements one Device Connection: the per-serial-
// endpoint unit owning a serial handle, the Frame Codec, the Stream
// Reassembler, the CoAP Codec, and a Request Tracker, per spec.md §4.5.
package device

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/librescoot/velocitydrive-serial/pkg/coap"
	"github.com/librescoot/velocitydrive-serial/pkg/eventlog"
	"github.com/librescoot/velocitydrive-serial/pkg/mup1"
	"github.com/librescoot/velocitydrive-serial/pkg/reassembler"
	"github.com/librescoot/velocitydrive-serial/pkg/tracker"
)

// State is the Device Connection's lifecycle state.
type State int

const (
	Closed State = iota
	Opening
	Open
	Closing
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Opening:
		return "opening"
	case Open:
		return "open"
	case Closing:
		return "closing"
	default:
		return "unknown"
	}
}

var ErrNotConnected = errors.New("device: not connected")

// pingDelay is how long after entering Open the connection waits before
// sending an initial Ping frame to prime the link, per spec.md §4.5.
const pingDelay = 500 * time.Millisecond

// Connection owns all state for one board: a serial handle, the MUP1
// frame codec, a Stream Reassembler, the CoAP codec, and a Request
// Tracker. Operations other than Connect are only valid in State Open.
type Connection struct {
	path    string
	baud    int
	sink    eventlog.Sink

	mu    sync.Mutex
	state State
	port  serial.Port

	reassembler *reassembler.Reassembler
	tracker     *tracker.Tracker

	refreshInterval time.Duration

	info   Info
	infoMu sync.Mutex
}

// Info is the Device Info record, populated by queryDeviceInfo after a
// successful GET /c?d=a and mutated only by the owning Connection.
type Info struct {
	Path         string
	BaudRate     int
	Connected    bool
	Model        string
	Firmware     string
	SerialNumber string
	Interfaces   []InterfaceInfo
	Bridges      []BridgeInfo
	LastSeen     time.Time
}

type InterfaceInfo struct {
	Name       string
	Type       string
	Enabled    bool
	OperStatus string
}

type BridgeInfo struct {
	Name       string
	Address    string
	Components []string
}

// New creates a Connection in state Closed. sink may be nil, in which
// case eventlog.Default is used.
func New(path string, baud int, sink eventlog.Sink) *Connection {
	if sink == nil {
		sink = eventlog.Default
	}
	c := &Connection{
		path:  path,
		baud:  baud,
		sink:  sink,
		state: Closed,
	}
	c.tracker = tracker.New()
	c.reassembler = reassembler.New(func(d reassembler.Dropped) {
		c.sink.FrameDropped(c.path, d.Reason)
	})
	return c
}

// Path returns the serial device path this connection owns.
func (c *Connection) Path() string { return c.path }

// SetRefreshInterval configures a periodic queryDeviceInfo() refresh,
// started when the connection next enters Open. interval <= 0 disables
// it, which is the default.
func (c *Connection) SetRefreshInterval(interval time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshInterval = interval
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect opens the serial port, starts the read goroutine, and sends an
// initial Ping after pingDelay. On failure the connection returns to
// Closed and the error is returned.
func (c *Connection) Connect() error {
	c.mu.Lock()
	if c.state != Closed {
		c.mu.Unlock()
		return fmt.Errorf("device: %s: connect called in state %s", c.path, c.state)
	}
	c.state = Opening
	c.mu.Unlock()

	mode := &serial.Mode{
		BaudRate: c.baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(c.path, mode)
	if err != nil {
		c.mu.Lock()
		c.state = Closed
		c.mu.Unlock()
		return fmt.Errorf("device: %s: open failed: %w", c.path, err)
	}

	c.mu.Lock()
	c.port = port
	c.state = Open
	refreshInterval := c.refreshInterval
	c.mu.Unlock()

	go c.readLoop()

	time.AfterFunc(pingDelay, func() {
		if c.State() == Open {
			_ = c.writeFrame(mup1.Encode(mup1.TypePing, nil))
		}
	})

	if refreshInterval > 0 {
		go c.refreshLoop(refreshInterval)
	}

	c.sink.Connected(c.path)
	return nil
}

// refreshLoop calls queryDeviceInfo on every tick of interval for as
// long as the connection stays Open, per SPEC_FULL.md's optional
// periodic refresh. It exits on its own once the connection leaves
// Open; Disconnect/onLinkError do not need to signal it directly.
func (c *Connection) refreshLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		if c.State() != Open {
			return
		}
		if err := c.RefreshInfo(); err != nil {
			c.sink.FrameDropped(c.path, fmt.Sprintf("periodic refresh failed: %v", err))
		}
	}
}

// Disconnect transitions Open -> Closing -> Closed, rejecting every
// pending waiter and closing the serial handle.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	if c.state != Open {
		c.mu.Unlock()
		return nil
	}
	c.state = Closing
	port := c.port
	c.mu.Unlock()

	err := port.Close()

	c.mu.Lock()
	c.state = Closed
	c.mu.Unlock()

	c.tracker.OnDisconnect()
	c.sink.Disconnected(c.path, err)
	return err
}

// onLinkError is invoked by the read goroutine when the serial handle
// errors or closes unexpectedly (as opposed to an explicit Disconnect
// call). It performs the same Open -> Closed transition and disconnect
// drain.
func (c *Connection) onLinkError(cause error) {
	c.mu.Lock()
	if c.state != Open {
		c.mu.Unlock()
		return
	}
	c.state = Closed
	c.mu.Unlock()

	c.tracker.OnDisconnect()
	c.sink.Disconnected(c.path, cause)
}

// writeFrame writes a fully-encoded MUP1 frame to the serial port. It is
// the only place that writes to the port: the initial Ping and every
// Request go through it. Each frame is passed to port.Write in a single
// call; writeFrame holds no lock during the write, so it does not order
// frames written concurrently from different goroutines.
func (c *Connection) writeFrame(frame []byte) error {
	c.mu.Lock()
	state := c.state
	port := c.port
	c.mu.Unlock()

	if state != Open {
		return ErrNotConnected
	}
	_, err := port.Write(frame)
	return err
}

// readLoop reads from the serial port and feeds bytes to the Stream
// Reassembler, dispatching every complete frame it yields. It exits when
// the port errors or Disconnect closes the handle out from under it.
func (c *Connection) readLoop() {
	buf := make([]byte, 4096)
	for {
		c.mu.Lock()
		port := c.port
		state := c.state
		c.mu.Unlock()
		if state != Open {
			return
		}

		n, err := port.Read(buf)
		if err != nil {
			c.onLinkError(err)
			return
		}
		if n == 0 {
			continue
		}

		frames := c.reassembler.Feed(buf[:n])
		for _, frame := range frames {
			c.dispatch(frame)
		}
	}
}

// dispatch routes a decoded MUP1 frame by type, per spec.md §4.3.
func (c *Connection) dispatch(frame mup1.Frame) {
	switch frame.Type {
	case mup1.TypeCoAP:
		parsed, err := coap.Parse(frame.Payload)
		if err != nil {
			c.sink.FrameDropped(c.path, err.Error())
			return
		}
		if !c.tracker.OnResponse(parsed) {
			c.sink.FrameDropped(c.path, fmt.Sprintf("no pending request for mid=0x%04x", parsed.MessageID))
			return
		}
		c.sink.CoapResponse(c.path, parsed.MessageID, parsed.CodeName)
	case mup1.TypeAnnounce:
		c.sink.Announcement(c.path, frame.Payload)
	case mup1.TypeTrace:
		c.sink.Trace(c.path, frame.Payload)
	case mup1.TypePing, mup1.TypeSystem:
		// Pong/system events have no dedicated handler yet; they are
		// silently acknowledged since they carry no request to correlate.
	}
}
