// Package gocast is the façade over the connection engine and the three
// built-in controllers: construct a Device from a discovery.CastInfo,
// Connect, and drive it through the convenience methods below.
package gocast

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/relaycast/gocast/connection"
	"github.com/relaycast/gocast/controller/heartbeat"
	"github.com/relaycast/gocast/controller/media"
	"github.com/relaycast/gocast/controller/receiver"
	"github.com/relaycast/gocast/discovery"
)

// idleAppSentinel is the receiver's own "backdrop" app; a running receiver
// with no cast-initiated session reports this as its app_id.
const idleAppSentinel = "E8C28D3C"

// Device binds a CastInfo descriptor to a connection engine and the three
// built-in controllers, exposing the convenience surface real callers use
// instead of the lower-level engine/controller APIs directly.
type Device struct {
	info   discovery.CastInfo
	logger zerolog.Logger

	engine        *connection.Engine
	heartbeatCtrl *heartbeat.Controller
	receiverCtrl  *receiver.Controller
	mediaCtrl     *media.Controller

	cecBypassNames []string

	firstStatusMu sync.Mutex
	firstStatus   chan struct{}
}

// New constructs a Device targeting info. Call Connect (or Start) to begin
// the TLS session.
func New(info discovery.CastInfo, opts ...Option) *Device {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.sourceID == "" {
		cfg.sourceID = "sender-0"
	}

	engineOpts := []connection.Option{
		connection.WithLogger(cfg.logger),
		connection.WithSourceID(cfg.sourceID),
	}
	if cfg.retryWait > 0 {
		engineOpts = append(engineOpts, connection.WithRetryWait(cfg.retryWait))
	}
	if cfg.tries > 0 {
		engineOpts = append(engineOpts, connection.WithTries(cfg.tries))
	}
	if cfg.registry != nil {
		engineOpts = append(engineOpts, connection.WithRegistry(cfg.registry))
	}

	d := &Device{
		info:           info,
		logger:         cfg.logger,
		engine:         connection.New(info, engineOpts...),
		heartbeatCtrl:  heartbeat.New(),
		receiverCtrl:   receiver.New(info.CastType, cfg.logger),
		mediaCtrl:      media.NewWithApp(cfg.mediaAppID, cfg.logger),
		cecBypassNames: cfg.cecBypassNames,
		firstStatus:    make(chan struct{}),
	}

	d.engine.RegisterController(d.heartbeatCtrl)
	d.engine.RegisterController(d.receiverCtrl)
	d.engine.RegisterController(d.mediaCtrl)

	d.receiverCtrl.RegisterStatusListener(func(receiver.CastStatus) { d.markFirstStatus() })

	return d
}

func (d *Device) markFirstStatus() {
	d.firstStatusMu.Lock()
	defer d.firstStatusMu.Unlock()
	select {
	case <-d.firstStatus:
	default:
		close(d.firstStatus)
	}
}

// Info returns the CastInfo this device was constructed from.
func (d *Device) Info() discovery.CastInfo { return d.info }

// Connect begins the TLS session; it blocks until the first attempt
// either connects or exhausts retries (if Device was built WithTries).
func (d *Device) Connect(ctx context.Context) error {
	return d.engine.Connect(ctx)
}

// Start is an alias for Connect with a background context, matching the
// façade's documented start()/connect()/disconnect()/join() surface.
func (d *Device) Start() error {
	return d.Connect(context.Background())
}

// Disconnect tears down the session; idempotent.
func (d *Device) Disconnect() {
	d.engine.Disconnect()
}

// Join blocks until the device reaches the terminal Stopped state.
func (d *Device) Join() {
	for d.engine.State() != connection.Stopped {
		time.Sleep(50 * time.Millisecond)
	}
}

// Wait blocks until the first RECEIVER_STATUS arrives, or timeout elapses
// (0 waits forever). Returns false on timeout.
func (d *Device) Wait(timeout time.Duration) bool {
	if timeout <= 0 {
		<-d.firstStatus
		return true
	}
	select {
	case <-d.firstStatus:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Status returns the latest CastStatus, or nil if none has arrived yet.
func (d *Device) Status() *receiver.CastStatus { return d.receiverCtrl.Status() }

// MediaStatus returns the latest MediaStatus.
func (d *Device) MediaStatus() media.MediaStatus { return d.mediaCtrl.Status() }

// IsIdle reports whether the receiver has no meaningful foreground
// activity: no status yet, the idle backdrop app is running, or (for a
// video cast, unless this receiver's friendly name is CEC-bypassed) the
// CEC signal shows another HDMI input is active.
func (d *Device) IsIdle() bool {
	status := d.receiverCtrl.Status()
	if status == nil {
		return true
	}
	if status.AppID == "" || status.AppID == idleAppSentinel {
		return true
	}
	if d.info.CastType == discovery.CastTypeVideo && !d.cecBypassed() {
		if status.IsActiveInput != nil && !*status.IsActiveInput {
			return true
		}
	}
	return false
}

func (d *Device) cecBypassed() bool {
	for _, name := range d.cecBypassNames {
		if name == d.info.FriendlyName {
			return true
		}
	}
	return false
}

// SetVolume sets the platform volume, clamped to [0, 1].
func (d *Device) SetVolume(level float64) (float64, error) {
	return d.receiverCtrl.SetVolume(level)
}

// SetVolumeMuted sets or clears the platform mute flag.
func (d *Device) SetVolumeMuted(muted bool) error {
	return d.receiverCtrl.SetVolumeMuted(muted)
}

// VolumeUp raises the platform volume by delta (must be > 0), clamped to 1.
func (d *Device) VolumeUp(delta float64) (float64, error) {
	if delta <= 0 {
		return 0, errVolumeDeltaMustBePositive
	}
	return d.SetVolume(d.currentVolume() + delta)
}

// VolumeDown lowers the platform volume by delta (must be > 0), clamped to 0.
func (d *Device) VolumeDown(delta float64) (float64, error) {
	if delta <= 0 {
		return 0, errVolumeDeltaMustBePositive
	}
	return d.SetVolume(d.currentVolume() - delta)
}

func (d *Device) currentVolume() float64 {
	if status := d.receiverCtrl.Status(); status != nil {
		return status.VolumeLevel
	}
	return 0
}

// StartApp launches appID on the receiver (or confirms it's already
// running), invoking cb once RECEIVER_STATUS confirms.
func (d *Device) StartApp(appID string, cb func(ok bool)) error {
	return d.receiverCtrl.LaunchApp(appID, false, cb)
}

// QuitApp stops whatever app is currently running.
func (d *Device) QuitApp(cb func(ok bool)) error {
	return d.receiverCtrl.StopApp(cb)
}

// PlayMedia launches the media receiver app (if needed) and loads req.
func (d *Device) PlayMedia(req media.LoadRequest) error {
	return d.mediaCtrl.PlayMedia(req)
}

// BlockUntilActive waits for a media session to become active.
func (d *Device) BlockUntilActive(timeout time.Duration) bool {
	return d.mediaCtrl.BlockUntilActive(timeout)
}

// RegisterCastStatusListener subscribes to every parsed RECEIVER_STATUS.
func (d *Device) RegisterCastStatusListener(fn receiver.CastStatusListener) {
	d.receiverCtrl.RegisterStatusListener(fn)
}

// RegisterLaunchErrorListener subscribes to LAUNCH_ERROR notifications.
func (d *Device) RegisterLaunchErrorListener(fn receiver.LaunchErrorListener) {
	d.receiverCtrl.RegisterLaunchErrorListener(fn)
}

// RegisterMediaStatusListener subscribes to every parsed MEDIA_STATUS.
func (d *Device) RegisterMediaStatusListener(fn media.StatusListener) {
	d.mediaCtrl.RegisterStatusListener(fn)
}

// OnConnectionStateChange subscribes to engine lifecycle transitions
// (Idle/Connecting/Connected/Lost/Stopped).
func (d *Device) OnConnectionStateChange(fn connection.StateListener) {
	d.engine.OnStateChange(fn)
}

// Media exposes the underlying media controller for operations not
// wrapped above (Play/Pause/Seek/QueueNext/...).
func (d *Device) Media() *media.Controller { return d.mediaCtrl }

// Receiver exposes the underlying receiver controller.
func (d *Device) Receiver() *receiver.Controller { return d.receiverCtrl }
