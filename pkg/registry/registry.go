// Package registry implements the Device Registry: the path-keyed
// collection of Device Connections, with pluggable endpoint discovery and
// an optional history sink for connect/disconnect bookkeeping.
package registry

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/librescoot/velocitydrive-serial/pkg/device"
	"github.com/librescoot/velocitydrive-serial/pkg/eventlog"
)

var ErrDeviceNotFound = errors.New("registry: device not found")

// DefaultBaudRate is the registry baud rate New uses when given baud <= 0;
// Connect falls back to the registry baud rate.
const DefaultBaudRate = 115200

// DefaultScanInterval is the auto-scan polling period used by
// StartAutoScan when called with interval <= 0.
const DefaultScanInterval = 5 * time.Second

// Enumerator lists candidate serial device paths. The default
// implementation globs /dev/ttyACM* and /dev/ttyUSB*, sorted; tests and
// alternate platforms can inject their own.
type Enumerator func() ([]string, error)

// DefaultEnumerator globs the conventional Linux USB/ACM serial device
// paths and returns them sorted.
func DefaultEnumerator() ([]string, error) {
	var paths []string
	for _, pattern := range []string{"/dev/ttyACM*", "/dev/ttyUSB*"} {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("registry: glob %s: %w", pattern, err)
		}
		paths = append(paths, matches...)
	}
	sort.Strings(paths)
	return paths, nil
}

// HistorySink receives connect/disconnect bookkeeping events. A nil sink
// is a valid no-op; AttachHistorySink is optional.
type HistorySink interface {
	RecordConnect(path string, info device.Info)
	RecordDisconnect(path string)
}

// Registry owns every known Device Connection, keyed by serial path.
type Registry struct {
	mu              sync.RWMutex
	connections     map[string]*device.Connection
	reserving       map[string]bool
	enumerate       Enumerator
	baud            int
	sink            eventlog.Sink
	history         HistorySink
	refreshInterval time.Duration

	scanMu   sync.Mutex
	scanStop chan struct{}
}

// New creates an empty Registry. enumerate may be nil, in which case
// DefaultEnumerator is used. sink may be nil, in which case
// eventlog.Default is used.
func New(enumerate Enumerator, baud int, sink eventlog.Sink) *Registry {
	if enumerate == nil {
		enumerate = DefaultEnumerator
	}
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	if sink == nil {
		sink = eventlog.Default
	}
	return &Registry{
		connections: make(map[string]*device.Connection),
		reserving:   make(map[string]bool),
		enumerate:   enumerate,
		baud:        baud,
		sink:        sink,
	}
}

// AttachHistorySink wires an optional history sink. Registry behavior is
// identical with sink == nil (calls are simply skipped).
func (r *Registry) AttachHistorySink(sink HistorySink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = sink
}

// SetRefreshInterval configures the periodic queryDeviceInfo() refresh
// applied to every Device Connection this registry opens from now on.
// interval <= 0 disables it, which is the default; connections already
// open are not affected retroactively.
func (r *Registry) SetRefreshInterval(interval time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshInterval = interval
}

// Scan runs the enumerator, connects every discovered path not already
// known to the registry, and disconnects every known path that is no
// longer listed — entries are added on discovery and removed on the
// first scan that no longer lists their path, same as an explicit
// Disconnect call.
func (r *Registry) Scan() error {
	paths, err := r.enumerate()
	if err != nil {
		return fmt.Errorf("registry: scan: %w", err)
	}

	seen := make(map[string]bool, len(paths))
	for _, path := range paths {
		seen[path] = true
		if r.has(path) {
			continue
		}
		if err := r.Connect(path, r.baud); err != nil {
			r.sink.FrameDropped(path, fmt.Sprintf("scan connect failed: %v", err))
		}
	}

	for _, path := range r.All() {
		if seen[path] {
			continue
		}
		if err := r.Disconnect(path); err != nil {
			r.sink.FrameDropped(path, fmt.Sprintf("scan disconnect failed: %v", err))
		}
	}
	return nil
}

// has reports whether path is already registered or has a connection
// attempt in flight.
func (r *Registry) has(path string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.connections[path]; ok {
		return true
	}
	return r.reserving[path]
}

// Connect opens a new Device Connection for path and registers it. baud
// <= 0 uses the registry's configured default baud rate. The check for
// an existing or in-flight connection and the reservation of path are
// done under the same lock, so concurrent callers (a manual Connect
// racing an auto-scan tick, or two overlapping scans) can never both
// open a port for the same path.
func (r *Registry) Connect(path string, baud int) error {
	if baud <= 0 {
		baud = r.baud
	}

	r.mu.Lock()
	if _, exists := r.connections[path]; exists {
		r.mu.Unlock()
		return fmt.Errorf("registry: %s: already connected", path)
	}
	if r.reserving[path] {
		r.mu.Unlock()
		return fmt.Errorf("registry: %s: connect already in progress", path)
	}
	r.reserving[path] = true
	refreshInterval := r.refreshInterval
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.reserving, path)
		r.mu.Unlock()
	}()

	conn := device.New(path, baud, r.sink)
	conn.SetRefreshInterval(refreshInterval)
	if err := conn.Connect(); err != nil {
		return err
	}

	r.mu.Lock()
	r.connections[path] = conn
	history := r.history
	r.mu.Unlock()

	if history != nil {
		history.RecordConnect(path, conn.Info())
	}
	return nil
}

// Disconnect closes and removes the Device Connection for path. Returns
// ErrDeviceNotFound if path is not registered.
func (r *Registry) Disconnect(path string) error {
	r.mu.Lock()
	conn, ok := r.connections[path]
	if ok {
		delete(r.connections, path)
	}
	history := r.history
	r.mu.Unlock()

	if !ok {
		return ErrDeviceNotFound
	}

	err := conn.Disconnect()
	if history != nil {
		history.RecordDisconnect(path)
	}
	return err
}

// Get returns the Device Connection registered for path, if any.
func (r *Registry) Get(path string) (*device.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.connections[path]
	return conn, ok
}

// All returns every registered Device Connection's path.
func (r *Registry) All() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	paths := make([]string, 0, len(r.connections))
	for path := range r.connections {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Execute looks up path and sends a CoAP request over its connection.
func (r *Registry) Execute(path string, method uint8, uri string, payload []byte, timeout time.Duration) ([]byte, error) {
	conn, ok := r.Get(path)
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return conn.Request(method, uri, payload, timeout)
}

// StartAutoScan runs Scan immediately and then on every tick of
// interval, until StopAutoScan is called. interval <= 0 uses
// DefaultScanInterval. Calling StartAutoScan while a scan loop is
// already running is a no-op.
func (r *Registry) StartAutoScan(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultScanInterval
	}

	r.scanMu.Lock()
	if r.scanStop != nil {
		r.scanMu.Unlock()
		return
	}
	stop := make(chan struct{})
	r.scanStop = stop
	r.scanMu.Unlock()

	go func() {
		if err := r.Scan(); err != nil {
			r.sink.FrameDropped("", fmt.Sprintf("auto-scan failed: %v", err))
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := r.Scan(); err != nil {
					r.sink.FrameDropped("", fmt.Sprintf("auto-scan failed: %v", err))
				}
			}
		}
	}()
}

// StopAutoScan stops a running auto-scan loop, if any.
func (r *Registry) StopAutoScan() {
	r.scanMu.Lock()
	defer r.scanMu.Unlock()
	if r.scanStop == nil {
		return
	}
	close(r.scanStop)
	r.scanStop = nil
}

// Shutdown stops auto-scan and disconnects every registered connection.
func (r *Registry) Shutdown() {
	r.StopAutoScan()

	r.mu.Lock()
	connections := r.connections
	r.connections = make(map[string]*device.Connection)
	history := r.history
	r.mu.Unlock()

	for path, conn := range connections {
		_ = conn.Disconnect()
		if history != nil {
			history.RecordDisconnect(path)
		}
	}
}
