// Package receiver implements the com.google.cast.receiver namespace: the
// platform-level controller for app launch/stop and volume, and the source
// of CastStatus updates every other controller derives "is my app running"
// state from.
package receiver

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/relaycast/gocast/controller"
	"github.com/relaycast/gocast/discovery"
)

// Namespace is urn:x-cast:com.google.cast.receiver.
const Namespace = "urn:x-cast:com.google.cast.receiver"

// CastStatusListener is notified on every RECEIVER_STATUS update.
type CastStatusListener func(CastStatus)

// LaunchErrorListener is notified on every LAUNCH_ERROR.
type LaunchErrorListener func(LaunchFailure)

// Controller is the target_platform receiver controller: app launch/stop,
// volume, and the CastStatus that everything else reads app identity from.
type Controller struct {
	*controller.Base

	castType discovery.CastType
	logger   zerolog.Logger

	mu            sync.Mutex
	status        *CastStatus
	appToLaunch   string
	launchCB      func(ok bool)
	listenersMu   sync.RWMutex
	statusFns     []CastStatusListener
	launchErrFns  []LaunchErrorListener
}

// New constructs a receiver controller for a receiver of the given type
// (audio/group receivers omit isActiveInput/isStandBy from their status).
func New(castType discovery.CastType, logger zerolog.Logger) *Controller {
	return &Controller{
		Base:     controller.NewBase(Namespace, "", true),
		castType: castType,
		logger:   logger,
	}
}

// ChannelDisconnected clears the cached status, matching the platform
// channel's implicit CONNECT/CLOSE bracketing: a stale app_id must never
// survive a reconnect.
func (c *Controller) ChannelDisconnected() {
	c.mu.Lock()
	c.status = nil
	c.mu.Unlock()
}

// Status returns the most recently received CastStatus, or nil if none has
// arrived yet (or the channel has since disconnected).
func (c *Controller) Status() *CastStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// AppID is a convenience accessor for Status().AppID, "" if there is no
// current status or no app running.
func (c *Controller) AppID() string {
	s := c.Status()
	if s == nil {
		return ""
	}
	return s.AppID
}

// RegisterStatusListener adds fn to the set called on every status update.
func (c *Controller) RegisterStatusListener(fn CastStatusListener) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.statusFns = append(c.statusFns, fn)
}

// RegisterLaunchErrorListener adds fn to the set called on every LAUNCH_ERROR.
func (c *Controller) RegisterLaunchErrorListener(fn LaunchErrorListener) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.launchErrFns = append(c.launchErrFns, fn)
}

// ReceiveMessage handles RECEIVER_STATUS and LAUNCH_ERROR; anything else on
// this namespace is left unconsumed.
func (c *Controller) ReceiveMessage(payload map[string]any) bool {
	switch payload["type"] {
	case "RECEIVER_STATUS":
		c.handleStatus(payload)
		return true
	case "LAUNCH_ERROR":
		c.handleLaunchError(payload)
		return true
	}
	return false
}

func (c *Controller) handleStatus(payload map[string]any) {
	isAudioLike := c.castType == discovery.CastTypeAudio || c.castType == discovery.CastTypeGroup
	status := parseStatus(payload, isAudioLike)

	c.mu.Lock()
	prevAppID := ""
	if c.status != nil {
		prevAppID = c.status.AppID
	}
	c.status = &status

	var fireLaunch func(ok bool)
	if c.appToLaunch != "" && status.AppID == c.appToLaunch && prevAppID != status.AppID {
		c.appToLaunch = ""
		fireLaunch, c.launchCB = c.launchCB, nil
	}
	c.mu.Unlock()

	c.reportStatus(status)

	if fireLaunch != nil {
		fireLaunch(true)
	}
}

func (c *Controller) handleLaunchError(payload map[string]any) {
	failure := parseLaunchFailure(payload)

	c.mu.Lock()
	failLaunch := c.launchCB
	c.appToLaunch = ""
	c.launchCB = nil
	c.mu.Unlock()
	if failLaunch != nil {
		failLaunch(false)
	}

	c.listenersMu.RLock()
	defer c.listenersMu.RUnlock()
	for _, fn := range c.launchErrFns {
		c.safeCall(func() { fn(failure) })
	}
}

func (c *Controller) reportStatus(status CastStatus) {
	c.listenersMu.RLock()
	defer c.listenersMu.RUnlock()
	for _, fn := range c.statusFns {
		c.safeCall(func() { fn(status) })
	}
}

// safeCall isolates a listener panic so one broken callback never takes
// down message processing for the rest.
func (c *Controller) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Msg("receiver: status listener panicked")
		}
	}()
	fn()
}

// UpdateStatus requests a fresh RECEIVER_STATUS; cb, if non-nil, fires once
// the reply carrying this request's requestId arrives (an unsolicited status
// does not fire it), or with ok=false if the request is abandoned.
func (c *Controller) UpdateStatus(cb func(ok bool)) error {
	opts := controller.SendOptions{}
	if cb != nil {
		opts.Callback = func(ok bool, _ map[string]any) { cb(ok) }
	}
	_, err := c.Send(map[string]any{"type": "GET_STATUS"}, opts)
	return err
}

// LaunchApp launches appID, or confirms it's already running when
// forceLaunch is false. cb fires once RECEIVER_STATUS confirms the app is
// active (true), or with false if the LAUNCH cannot be sent or the receiver
// answers with LAUNCH_ERROR.
func (c *Controller) LaunchApp(appID string, forceLaunch bool, cb func(ok bool)) error {
	c.mu.Lock()
	haveStatus := c.status != nil
	c.mu.Unlock()

	if !forceLaunch && !haveStatus {
		return c.UpdateStatus(func(ok bool) { c.sendLaunch(appID, forceLaunch, cb) })
	}
	c.sendLaunch(appID, forceLaunch, cb)
	return nil
}

func (c *Controller) sendLaunch(appID string, forceLaunch bool, cb func(ok bool)) {
	if !forceLaunch && c.AppID() == appID {
		if cb != nil {
			cb(true)
		}
		return
	}

	c.mu.Lock()
	c.appToLaunch = appID
	c.launchCB = cb
	c.mu.Unlock()

	if _, err := c.Send(map[string]any{"type": "LAUNCH", "appId": appID}, controller.SendOptions{}); err != nil {
		c.mu.Lock()
		c.appToLaunch = ""
		c.launchCB = nil
		c.mu.Unlock()
		if cb != nil {
			cb(false)
		}
	}
}

// StopApp stops the currently running app.
func (c *Controller) StopApp(cb func(ok bool)) error {
	opts := controller.SendOptions{IncSessionID: true}
	if cb != nil {
		opts.Callback = func(ok bool, _ map[string]any) { cb(ok) }
	}
	_, err := c.Send(map[string]any{"type": "STOP"}, opts)
	return err
}

// SetVolume sets the platform volume level, clamped to [0, 1], returning
// the clamped value actually requested.
func (c *Controller) SetVolume(level float64) (float64, error) {
	if level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	_, err := c.Send(map[string]any{"type": "SET_VOLUME", "volume": map[string]any{"level": level}}, controller.SendOptions{})
	return level, err
}

// SetVolumeMuted sets or clears the platform mute flag.
func (c *Controller) SetVolumeMuted(muted bool) error {
	_, err := c.Send(map[string]any{"type": "SET_VOLUME", "volume": map[string]any{"muted": muted}}, controller.SendOptions{})
	return err
}
