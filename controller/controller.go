// Package controller defines the pluggable, namespace-scoped message
// handler contract shared by the built-in heartbeat/receiver/media
// controllers (and any adapter layered above the core).
package controller

import (
	"sync"

	"github.com/relaycast/gocast/apperr"
)

// ResponseFunc is invoked when a correlated reply arrives (ok=true,
// payload set), or when the pending request is abandoned by a disconnect
// or timeout (ok=false, payload nil).
type ResponseFunc func(ok bool, payload map[string]any)

// AppState is the engine's current view of the active receiver app, as
// needed by controllers to decide where a message should be routed.
type AppState struct {
	AppID         string
	DestinationID string // "receiver-0" for the platform, else the app's transport id
	SessionID     string
	Namespaces    []string
}

// Offers reports whether the app currently exposes namespace.
func (a AppState) Offers(namespace string) bool {
	for _, ns := range a.Namespaces {
		if ns == namespace {
			return true
		}
	}
	return false
}

// SendOptions customizes one outbound message.
type SendOptions struct {
	// IncSessionID injects the current app SessionID as the payload's
	// "sessionId" field before sending.
	IncSessionID bool
	// NoAddRequestID suppresses request-id assignment and correlation;
	// used for fire-and-forget messages like heartbeat PONG.
	NoAddRequestID bool
	// Callback fires when a correlated response arrives, or with ok=false
	// if the request is abandoned (disconnect, or never correlated).
	Callback ResponseFunc
}

// Engine is the subset of the connection engine a controller needs. It is
// an interface (not connection.Engine concretely) so this package never
// imports connection, avoiding an import cycle through the façade that
// wires both together.
type Engine interface {
	// SendMessage writes namespace/destinationID as a JSON payload,
	// returning the assigned requestId (0 if opts.NoAddRequestID).
	SendMessage(namespace, destinationID string, payload map[string]any, opts SendOptions) (requestID int, err error)

	// CurrentApp returns the engine's current view of the active app.
	CurrentApp() AppState

	// LaunchApp requests appID be launched (or confirms it's already
	// running, when forceLaunch is false), invoking cb once the receiver
	// status confirms the app is active (or with ok=false on failure).
	LaunchApp(appID string, forceLaunch bool, cb func(ok bool)) error
}

// Controller is a namespace-scoped message handler. Implementations
// typically embed Base for the registration/send-routing plumbing and
// implement only ReceiveMessage plus whatever operations they expose.
type Controller interface {
	// Namespace is the routing key this controller handles, e.g.
	// "urn:x-cast:com.google.cast.receiver".
	Namespace() string
	// SupportingAppID is the app this controller can auto-launch when its
	// namespace isn't currently offered; "" means no auto-launch.
	SupportingAppID() string
	// TargetPlatform is true when messages go to "receiver-0" rather than
	// the current app's destination id.
	TargetPlatform() bool

	// Registered is called once the controller is wired to an engine.
	Registered(e Engine)
	// ChannelConnected fires when a virtual channel supporting this
	// namespace has opened.
	ChannelConnected()
	// ChannelDisconnected is the inverse of ChannelConnected.
	ChannelDisconnected()
	// ReceiveMessage handles or ignores an inbound payload already routed
	// to this namespace; true means the controller consumed it.
	ReceiveMessage(payload map[string]any) bool
	// TearDown drops the controller's engine reference.
	TearDown()
}

// Base implements the registration lifecycle and the send-routing/
// auto-launch logic common to every controller (spec §4.3's "send").
// Embed it and implement ReceiveMessage (and ChannelConnected/
// ChannelDisconnected if the controller cares).
type Base struct {
	namespace       string
	supportingAppID string
	targetPlatform  bool

	mu     sync.RWMutex
	engine Engine
}

// NewBase constructs the embeddable controller base.
func NewBase(namespace, supportingAppID string, targetPlatform bool) *Base {
	return &Base{namespace: namespace, supportingAppID: supportingAppID, targetPlatform: targetPlatform}
}

func (b *Base) Namespace() string       { return b.namespace }
func (b *Base) SupportingAppID() string { return b.supportingAppID }
func (b *Base) TargetPlatform() bool    { return b.targetPlatform }

func (b *Base) Registered(e Engine) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.engine = e
}

func (b *Base) TearDown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.engine = nil
}

// ChannelConnected and ChannelDisconnected are no-ops by default; receiver
// and media override them where the state machine cares.
func (b *Base) ChannelConnected()    {}
func (b *Base) ChannelDisconnected() {}

func (b *Base) engineRef() Engine {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.engine
}

// registeredEngine returns the engine and reports whether Registered(e) has
// been called with a non-nil engine and TearDown has not since cleared it.
func (b *Base) registeredEngine() (Engine, bool) {
	e := b.engineRef()
	return e, e != nil
}

// Send routes payload to this controller's destination, auto-launching
// SupportingAppID first if the namespace isn't currently offered by the
// active app. If there is no supporting app and the namespace is
// unavailable, Send fails with ErrUnsupportedNamespace.
func (b *Base) Send(payload map[string]any, opts SendOptions) (int, error) {
	engine, ok := b.registeredEngine()
	if !ok {
		return 0, apperr.ErrControllerNotRegistered
	}

	if b.targetPlatform {
		return engine.SendMessage(b.namespace, platformDestinationID, payload, opts)
	}

	app := engine.CurrentApp()
	if app.Offers(b.namespace) {
		return engine.SendMessage(b.namespace, app.DestinationID, payload, opts)
	}

	if b.supportingAppID == "" {
		return 0, apperr.ErrUnsupportedNamespace
	}

	// Chain the actual send as a callback to the launch, per spec §4.3.
	type result struct {
		id  int
		err error
	}
	done := make(chan result, 1)
	err := engine.LaunchApp(b.supportingAppID, false, func(ok bool) {
		if !ok {
			done <- result{err: apperr.ErrUnsupportedNamespace}
			return
		}
		app := engine.CurrentApp()
		id, err := engine.SendMessage(b.namespace, app.DestinationID, payload, opts)
		done <- result{id: id, err: err}
	})
	if err != nil {
		return 0, err
	}
	r := <-done
	return r.id, r.err
}

// platformDestinationID is the fixed destination id for platform-level
// (target_platform=true) controllers.
const platformDestinationID = "receiver-0"
