// Package heartbeat implements the tp.heartbeat namespace: a periodic
// PING/PONG exchange with the platform that detects a dead socket faster
// than TCP's own timers would.
package heartbeat

import (
	"sync/atomic"
	"time"

	"github.com/relaycast/gocast/controller"
)

const (
	// Namespace is urn:x-cast:com.google.cast.tp.heartbeat.
	Namespace = "urn:x-cast:com.google.cast.tp.heartbeat"

	// PingInterval is how often this side sends PING.
	PingInterval = 10 * time.Second

	// PongGrace is the extra time allowed after a PING before the absence
	// of a PONG is treated as a dead connection.
	PongGrace = 10 * time.Second
)

// Controller sends periodic PINGs on the platform channel and replies PONG
// to the platform's own PINGs. It is target_platform: messages always go to
// receiver-0, never to an app's transport id.
type Controller struct {
	*controller.Base

	lastPing atomic.Int64 // unix nanos of the last PING sent
	lastPong atomic.Int64 // unix nanos of the last PONG received (ours or the platform's)

	stop chan struct{}
}

// New constructs a heartbeat controller. It has no supporting app id: the
// heartbeat namespace is offered unconditionally by the platform.
func New() *Controller {
	return &Controller{
		Base: controller.NewBase(Namespace, "", true),
		stop: make(chan struct{}),
	}
}

// Registered starts the periodic ping loop once wired to an engine.
func (c *Controller) Registered(e controller.Engine) {
	c.Base.Registered(e)
	c.lastPong.Store(time.Now().UnixNano())
	go c.pingLoop()
}

// TearDown stops the ping loop in addition to the base teardown.
func (c *Controller) TearDown() {
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
	c.Base.TearDown()
}

// IsExpired reports whether more than PingInterval+PongGrace has elapsed
// since the last PONG was observed, and a PING was sent at least
// PingInterval ago — the connection engine polls this to decide whether
// the socket should be torn down as dead. The second condition matters
// right after connect: a fresh lastPong timestamp alone shouldn't expire,
// but neither should a PONG be expected before a PING has even gone out.
func (c *Controller) IsExpired() bool {
	lastPong := c.lastPong.Load()
	if lastPong == 0 {
		return false
	}
	lastPing := c.lastPing.Load()
	if lastPing == 0 || time.Since(time.Unix(0, lastPing)) < PingInterval {
		return false
	}
	return time.Since(time.Unix(0, lastPong)) > PingInterval+PongGrace
}

// ReceiveMessage handles inbound PING (replies PONG) and PONG (resets the
// expiry clock) messages. Any other payload on this namespace is ignored.
func (c *Controller) ReceiveMessage(payload map[string]any) bool {
	switch payload["type"] {
	case "PING":
		c.lastPong.Store(time.Now().UnixNano()) // liveness either direction resets the clock
		_, _ = c.Send(map[string]any{"type": "PONG"}, controller.SendOptions{NoAddRequestID: true})
		return true
	case "PONG":
		c.lastPong.Store(time.Now().UnixNano())
		return true
	}
	return false
}

// Ping sends an immediate PING, outside the periodic ticker. The connection
// engine calls this once right after CONNECTING -> CONNECTED so the first
// liveness probe doesn't wait on pingLoop's ticker phase.
func (c *Controller) Ping() {
	c.lastPing.Store(time.Now().UnixNano())
	_, _ = c.Send(map[string]any{"type": "PING"}, controller.SendOptions{NoAddRequestID: true})
}

func (c *Controller) pingLoop() {
	ticker := time.NewTicker(PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.Ping()
		}
	}
}
