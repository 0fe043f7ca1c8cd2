package controller

import (
	"sync"
	"sync/atomic"
	"time"
)

// pending is a request awaiting a correlated reply, with an optional
// deadline timer.
type pending struct {
	cb    ResponseFunc
	timer *time.Timer
}

// RequestTracker assigns monotonically increasing request ids and
// correlates inbound replies (messages carrying the same "requestId") back
// to the caller's ResponseFunc. requestId 0 is reserved for unsolicited
// messages (status broadcasts, heartbeat PING/PONG) and is never assigned.
//
// Zero value is not usable; construct with NewRequestTracker.
type RequestTracker struct {
	seq     atomic.Uint32
	mu      sync.Mutex
	waiting map[int]*pending
}

// NewRequestTracker constructs an empty tracker.
func NewRequestTracker() *RequestTracker {
	return &RequestTracker{waiting: make(map[int]*pending)}
}

// Next allocates the next request id, skipping 0.
func (t *RequestTracker) Next() int {
	id := t.seq.Add(1)
	return int(id)
}

// Await registers cb to be invoked when requestID's reply arrives. If
// timeout is positive and no reply arrives first, cb fires once with
// ok=false after timeout elapses.
func (t *RequestTracker) Await(requestID int, timeout time.Duration, cb ResponseFunc) {
	if requestID == 0 || cb == nil {
		return
	}
	p := &pending{cb: cb}
	if timeout > 0 {
		p.timer = time.AfterFunc(timeout, func() { t.resolve(requestID, false, nil) })
	}
	t.mu.Lock()
	t.waiting[requestID] = p
	t.mu.Unlock()
}

// Resolve delivers payload to requestID's waiting callback, if any. It
// reports whether a waiter was found (false means the message should be
// routed as an ordinary unsolicited message instead).
func (t *RequestTracker) Resolve(requestID int, payload map[string]any) bool {
	if requestID == 0 {
		return false
	}
	return t.resolve(requestID, true, payload)
}

func (t *RequestTracker) resolve(requestID int, ok bool, payload map[string]any) bool {
	t.mu.Lock()
	p, found := t.waiting[requestID]
	if found {
		delete(t.waiting, requestID)
	}
	t.mu.Unlock()
	if !found {
		return false
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	p.cb(ok, payload)
	return true
}

// Abandon resolves every pending request with ok=false, payload nil. Called
// when the virtual channel or connection carrying them is torn down, so no
// caller blocks forever on a reply that can no longer arrive.
func (t *RequestTracker) Abandon() {
	t.mu.Lock()
	waiting := t.waiting
	t.waiting = make(map[int]*pending)
	t.mu.Unlock()

	for _, p := range waiting {
		if p.timer != nil {
			p.timer.Stop()
		}
		p.cb(false, nil)
	}
}

// Len reports the number of requests currently awaiting a reply; mainly
// useful for tests.
func (t *RequestTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.waiting)
}

// Reset zeroes the request id sequence, so the next Next() call returns 1
// again. Called from the per-reconnect prologue: requestId is monotonic
// per connection, not across the lifetime of the engine.
func (t *RequestTracker) Reset() {
	t.seq.Store(0)
}
