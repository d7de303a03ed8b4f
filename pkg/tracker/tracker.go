// Package tracker implements the per-device request-tracking engine: it
// correlates asynchronous CoAP responses (matched by message ID) back to
// the goroutine that sent the original request, under a per-request
// timeout and an all-at-once disconnect drain.
package tracker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/librescoot/velocitydrive-serial/pkg/coap"
)

// DefaultTimeout is used when Send is called with timeout <= 0.
const DefaultTimeout = 15 * time.Second

var (
	ErrDisconnected = errors.New("tracker: device disconnected")
	ErrCancelled    = errors.New("tracker: request cancelled")
)

// RequestTimeoutError is returned when a request receives no response
// within its timeout.
type RequestTimeoutError struct {
	Method    uint8
	URI       string
	ElapsedMs int64
}

func (e *RequestTimeoutError) Error() string {
	return fmt.Sprintf("tracker: request timed out after %dms: method=%d uri=%s", e.ElapsedMs, e.Method, e.URI)
}

// CoapError is returned when a response's code class is not 2.xx
// (success).
type CoapError struct {
	Code     uint8
	CodeName string
	Payload  []byte
}

func (e *CoapError) Error() string {
	return fmt.Sprintf("tracker: coap error %s (code 0x%02x)", e.CodeName, e.Code)
}

// Result is delivered on a pending request's result channel exactly
// once: either Payload is set and Err is nil, or Err is set.
type Result struct {
	Payload []byte
	Err     error
}

type pendingRequest struct {
	method uint8
	uri    string
	sentAt time.Time
	timer  *time.Timer
	result chan Result
}

// Tracker owns the pending-request map for one Device Connection. It is
// not safe to share across connections; each Device Connection owns
// exactly one Tracker.
type Tracker struct {
	mu      sync.Mutex
	pending map[uint16]*pendingRequest
	midGen  *coap.MessageIDGenerator
}

// New creates a Tracker with its own message-ID generator.
func New() *Tracker {
	return &Tracker{
		pending: make(map[uint16]*pendingRequest),
		midGen:  coap.NewMessageIDGenerator(),
	}
}

// Send allocates a message ID, asks build to encode the CoAP bytes for
// that ID, hands the result to wire for serial transmission, and arms a
// timeout. It returns a channel that receives exactly one Result.
//
// build is called with the allocated message ID so the caller can invoke
// coap.Build and wrap the result in a MUP1 frame before it reaches wire.
// wire performs the actual write (e.g. to the serial port); if it
// returns an error, Send fails synchronously and no pending entry is
// recorded.
func (t *Tracker) Send(method uint8, uri string, timeout time.Duration, build func(messageID uint16) []byte, wire func([]byte) error) (<-chan Result, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	t.mu.Lock()
	messageID := t.allocateLocked()
	req := &pendingRequest{
		method: method,
		uri:    uri,
		sentAt: time.Now(),
		result: make(chan Result, 1),
	}
	req.timer = time.AfterFunc(timeout, func() { t.onTimeout(messageID) })
	t.pending[messageID] = req
	t.mu.Unlock()

	frame := build(messageID)
	if err := wire(frame); err != nil {
		t.mu.Lock()
		delete(t.pending, messageID)
		t.mu.Unlock()
		req.timer.Stop()
		return nil, err
	}

	return req.result, nil
}

// allocateLocked returns a message ID not currently pending, skipping
// forward past the generator's wraparound rule (0 is never issued) and
// past any ID that collides with a still-pending request.
func (t *Tracker) allocateLocked() uint16 {
	for {
		id := t.midGen.Next()
		if _, busy := t.pending[id]; !busy {
			return id
		}
	}
}

// OnResponse looks up the response's message ID among pending requests.
// If found, it cancels the timer, removes the entry, and resolves or
// rejects the waiter depending on the response's code class. If the
// message ID is not pending (e.g. a stray or duplicate response), the
// response is dropped; the caller is expected to log this via its event
// sink.
func (t *Tracker) OnResponse(parsed coap.Parsed) (found bool) {
	t.mu.Lock()
	req, ok := t.pending[parsed.MessageID]
	if ok {
		delete(t.pending, parsed.MessageID)
	}
	t.mu.Unlock()

	if !ok {
		return false
	}

	req.timer.Stop()
	t.settle(req, parsed)
	return true
}

func (t *Tracker) settle(req *pendingRequest, parsed coap.Parsed) {
	if parsed.CodeClass == 2 {
		req.result <- Result{Payload: parsed.Payload}
		return
	}
	req.result <- Result{Err: &CoapError{Code: parsed.Code, CodeName: parsed.CodeName, Payload: parsed.Payload}}
}

// onTimeout rejects a still-pending request with RequestTimeoutError. If
// the request was already resolved (a response arrived right as the
// timer fired), this is a no-op.
func (t *Tracker) onTimeout(messageID uint16) {
	t.mu.Lock()
	req, ok := t.pending[messageID]
	if ok {
		delete(t.pending, messageID)
	}
	t.mu.Unlock()

	if !ok {
		return
	}

	elapsed := time.Since(req.sentAt).Milliseconds()
	req.result <- Result{Err: &RequestTimeoutError{Method: req.method, URI: req.uri, ElapsedMs: elapsed}}
}

// Cancel rejects a specific pending request with ErrCancelled, if it is
// still pending. This is the pure extension spec.md §9 allows beyond the
// timeout-only cancellation model.
func (t *Tracker) Cancel(messageID uint16) bool {
	t.mu.Lock()
	req, ok := t.pending[messageID]
	if ok {
		delete(t.pending, messageID)
	}
	t.mu.Unlock()

	if !ok {
		return false
	}
	req.timer.Stop()
	req.result <- Result{Err: ErrCancelled}
	return true
}

// OnDisconnect rejects every pending waiter with ErrDisconnected and
// clears the map. Safe to call even with no pending requests.
func (t *Tracker) OnDisconnect() {
	t.mu.Lock()
	pending := t.pending
	t.pending = make(map[uint16]*pendingRequest)
	t.mu.Unlock()

	for _, req := range pending {
		req.timer.Stop()
		req.result <- Result{Err: ErrDisconnected}
	}
}

// PendingCount reports how many requests are currently outstanding;
// mainly useful for tests asserting the disconnect-drain invariant.
func (t *Tracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
