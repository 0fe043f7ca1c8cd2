// Package connection implements the TLS connection engine: dialing a
// receiver's service endpoints with per-service backoff, framing messages
// over wire.Codec, routing inbound messages to registered controllers, and
// supervising heartbeat/reconnect.
package connection

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/relaycast/gocast/apperr"
	"github.com/relaycast/gocast/controller"
	"github.com/relaycast/gocast/controller/heartbeat"
	"github.com/relaycast/gocast/controller/receiver"
	"github.com/relaycast/gocast/discovery"
	"github.com/relaycast/gocast/wire"
)

// StateListener is notified on every engine state transition.
type StateListener func(old, new State)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger attaches a logger; the zero value discards all output.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithSourceID overrides the default sender-0 source id.
func WithSourceID(id string) Option {
	return func(e *Engine) { e.sourceID = id }
}

// WithRetryWait overrides the initial per-service backoff interval.
func WithRetryWait(d time.Duration) Option {
	return func(e *Engine) { e.retryWait = d }
}

// WithTries bounds the number of full connect passes before Connect gives
// up and returns ErrConnectionFailed; 0 (the default) retries forever.
func WithTries(n int) Option {
	return func(e *Engine) { e.tries = n }
}

// WithRegistry lets the engine re-resolve an mDNS service's current
// address at connect time, rather than only using the last-seen address
// baked into CastInfo.
func WithRegistry(r *discovery.Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// Engine is the per-device connection engine. Construct with New, register
// controllers (at minimum a *receiver.Controller and a *heartbeat.Controller
// via RegisterController), then call Connect.
//
// Concurrency model: inbound controller dispatch runs on the read goroutine
// started by Connect. State, app/session fields and open-channel
// bookkeeping are guarded by mu, the socket and codec by connMu, and the
// handler table by handlersMu; callers (SendMessage, LaunchApp, Disconnect)
// and the supervisor goroutine take those locks directly.
type Engine struct {
	logger    zerolog.Logger
	sourceID  string
	retryWait time.Duration
	tries     int
	registry  *discovery.Registry

	mu    sync.Mutex
	state State
	info  discovery.CastInfo

	destinationID string
	sessionID     string
	appNamespaces []string
	openCh        *openChannels

	connMu sync.Mutex
	codec  *wire.Codec
	raw    net.Conn

	forceRecon atomic.Bool

	tracker      *controller.RequestTracker
	handlersMu   sync.RWMutex
	handlers     map[string][]controller.Controller
	receiverCtrl *receiver.Controller
	heartbeatCtrl *heartbeat.Controller

	listenersMu sync.RWMutex
	onState     []StateListener

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs an Engine targeting info, not yet connected.
func New(info discovery.CastInfo, opts ...Option) *Engine {
	e := &Engine{
		logger:    zerolog.Nop(),
		sourceID:  "sender-0",
		retryWait: defaultRetryWait,
		info:      info,
		openCh:    newOpenChannels(),
		tracker:   controller.NewRequestTracker(),
		handlers:  make(map[string][]controller.Controller),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterController wires c into the engine's dispatch table. Controllers
// for the receiver and heartbeat namespaces are additionally remembered by
// concrete type, since the engine delegates LaunchApp/IsExpired to them.
func (e *Engine) RegisterController(c controller.Controller) {
	e.handlersMu.Lock()
	e.handlers[c.Namespace()] = append(e.handlers[c.Namespace()], c)
	e.handlersMu.Unlock()

	if rc, ok := c.(*receiver.Controller); ok {
		e.receiverCtrl = rc
		rc.RegisterStatusListener(e.onCastStatus)
	}
	if hc, ok := c.(*heartbeat.Controller); ok {
		e.heartbeatCtrl = hc
	}
	c.Registered(e)
}

// UnregisterController removes c from the dispatch table, for controllers
// with a lifetime shorter than the engine's (quick-play instantiates one
// per call). It is a no-op for a controller that was never registered.
func (e *Engine) UnregisterController(c controller.Controller) {
	e.handlersMu.Lock()
	defer e.handlersMu.Unlock()
	ns := c.Namespace()
	handlers := e.handlers[ns]
	for i, h := range handlers {
		if h == c {
			e.handlers[ns] = append(handlers[:i], handlers[i+1:]...)
			break
		}
	}
}

// OnStateChange registers fn to be called on every state transition.
func (e *Engine) OnStateChange(fn StateListener) {
	e.listenersMu.Lock()
	defer e.listenersMu.Unlock()
	e.onState = append(e.onState, fn)
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	old := e.state
	e.state = s
	e.mu.Unlock()
	if old == s {
		return
	}
	e.listenersMu.RLock()
	defer e.listenersMu.RUnlock()
	for _, fn := range e.onState {
		fn(old, s)
	}
}

// State returns the engine's current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// CurrentApp implements controller.Engine.
func (e *Engine) CurrentApp() controller.AppState {
	e.mu.Lock()
	defer e.mu.Unlock()
	appID := ""
	if e.receiverCtrl != nil {
		appID = e.receiverCtrl.AppID()
	}
	return controller.AppState{
		AppID:         appID,
		DestinationID: e.destinationID,
		SessionID:     e.sessionID,
		Namespaces:    append([]string(nil), e.appNamespaces...),
	}
}

// LaunchApp implements controller.Engine by delegating to the registered
// receiver controller, which owns the platform's LAUNCH/RECEIVER_STATUS
// handshake.
func (e *Engine) LaunchApp(appID string, forceLaunch bool, cb func(ok bool)) error {
	if e.receiverCtrl == nil {
		return apperr.ErrControllerNotRegistered
	}
	return e.receiverCtrl.LaunchApp(appID, forceLaunch, cb)
}

// Connect runs the connect procedure (§4.7): try each service in order,
// honoring per-service backoff, until one succeeds or tries is exhausted.
func (e *Engine) Connect(ctx context.Context) error {
	if e.State() == Stopped {
		return apperr.ErrStopped
	}
	e.setState(Connecting)

	services := e.resolvedServices()
	if len(services) == 0 {
		e.setState(Idle)
		return fmt.Errorf("connection: no services configured: %w", apperr.ErrConnectionFailed)
	}
	table := newBackoffTable(e.retryWait)

	remaining := e.tries // 0 means infinite
	for {
		e.runPrologue()

		succeeded := false
		for _, svc := range services {
			sb := table.get(svc)
			now := time.Now()
			if !sb.ready(now) {
				continue
			}
			host, port, err := e.resolve(svc)
			if err != nil {
				e.logger.Debug().Err(err).Str("service", svc.String()).Msg("connection: resolve failed")
				sb.failed(now)
				continue
			}
			if err := e.dialAndStart(ctx, host, port); err != nil {
				e.logger.Warn().Err(err).Str("service", svc.String()).Msg("connection: dial failed")
				sb.failed(now)
				continue
			}
			sb.succeeded()
			succeeded = true
			break
		}

		if succeeded {
			return nil
		}

		if e.tries > 0 {
			remaining--
			if remaining <= 0 {
				e.setState(Idle)
				return fmt.Errorf("connection: exhausted retries: %w", apperr.ErrConnectionFailed)
			}
		}

		select {
		case <-ctx.Done():
			e.setState(Idle)
			return ctx.Err()
		case <-time.After(e.retryWait):
		}
	}
}

// runPrologue resets per-attempt state, per §4.7's "once per reconnect
// attempt" prologue: abandon pending requests, clear app/session/channel
// state, reset request ids.
func (e *Engine) runPrologue() {
	e.tracker.Abandon()
	e.tracker.Reset()
	e.mu.Lock()
	e.destinationID = ""
	e.sessionID = ""
	e.appNamespaces = nil
	e.openCh.reset()
	e.mu.Unlock()
	e.forceRecon.Store(false)
}

func (e *Engine) resolvedServices() []discovery.Service {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]discovery.Service(nil), e.info.Services...)
}

func (e *Engine) resolve(svc discovery.Service) (string, int, error) {
	if svc.Kind == discovery.ServiceHost {
		return svc.Host, svc.Port, nil
	}
	if e.registry == nil {
		return "", 0, fmt.Errorf("connection: mDNS service %q requires a registry", svc.Name)
	}
	info, ok := e.registry.Get(e.info.UUID)
	if !ok {
		return "", 0, fmt.Errorf("connection: %s not currently visible via mDNS", svc.Name)
	}
	return info.Host, info.Port, nil
}

const dialTimeout = 10 * time.Second

func (e *Engine) dialAndStart(ctx context.Context, host string, port int) error {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	d := tls.Dialer{Config: &tls.Config{InsecureSkipVerify: true}} //nolint:gosec // receivers use self-signed certs; CASTV2 has no PKI
	rawConn, err := d.DialContext(dialCtx, "tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return err
	}

	e.connMu.Lock()
	e.raw = rawConn
	e.codec = wire.NewCodec(rawConn)
	e.connMu.Unlock()

	runCtx, cancelRun := context.WithCancel(context.Background())
	e.cancel = cancelRun

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.readLoop(runCtx)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.supervise(runCtx)
	}()

	e.setState(Connected)

	if e.receiverCtrl != nil {
		_ = e.receiverCtrl.UpdateStatus(nil)
	}
	if e.heartbeatCtrl != nil {
		e.heartbeatCtrl.Ping()
	}
	return nil
}

// Disconnect tears down the connection permanently; the engine cannot be
// reconnected afterward (construct a new Engine instead).
func (e *Engine) Disconnect() {
	if e.cancel != nil {
		e.cancel()
	}
	e.connMu.Lock()
	if e.raw != nil {
		_ = e.raw.Close()
		e.raw = nil
	}
	e.connMu.Unlock()
	e.wg.Wait()
	e.tracker.Abandon()
	e.setState(Stopped)
}

func (e *Engine) readLoop(ctx context.Context) {
	for {
		e.connMu.Lock()
		codec := e.codec
		e.connMu.Unlock()
		if codec == nil {
			return
		}
		msg, err := codec.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			e.logger.Warn().Err(err).Msg("connection: read failed, marking lost")
			e.declareLost(context.Background())
			return
		}
		e.dispatch(msg)
	}
}

func (e *Engine) dispatch(msg *wire.Message) {
	var payload map[string]any
	if err := json.Unmarshal([]byte(msg.PayloadUTF8), &payload); err != nil {
		e.logger.Debug().Err(err).Msg("connection: non-JSON payload, dropping")
		return
	}

	if msg.Namespace == connectionNamespace {
		return // implicit CONNECT/CLOSE acks carry no application meaning
	}

	// Namespace dispatch and request correlation are independent: a
	// RECEIVER_STATUS reply both updates the receiver controller's cached
	// status and resolves whatever GET_STATUS/LAUNCH call is awaiting it.
	e.handlersMu.RLock()
	cs := append([]controller.Controller(nil), e.handlers[msg.Namespace]...)
	e.handlersMu.RUnlock()
	for _, c := range cs {
		e.safeReceive(c, payload)
	}

	if reqID, ok := payload["requestId"].(float64); ok {
		e.tracker.Resolve(int(reqID), payload)
	}
}

// safeReceive isolates a controller panic so one misbehaving handler never
// takes down the dispatch loop, per §4.7's "exceptions from a controller
// must be isolated".
func (e *Engine) safeReceive(c controller.Controller, payload map[string]any) (consumed bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Interface("panic", r).Str("namespace", c.Namespace()).Msg("connection: controller panicked")
		}
	}()
	return c.ReceiveMessage(payload)
}

// SendMessage implements controller.Engine: it opens a virtual channel if
// needed, assigns a request id (unless suppressed), injects sessionId if
// requested, and writes the frame atomically.
func (e *Engine) SendMessage(namespace, destinationID string, payload map[string]any, opts controller.SendOptions) (int, error) {
	if e.State() != Connected || e.forceRecon.Load() {
		return 0, apperr.ErrNotConnected
	}

	if err := e.ensureChannel(destinationID); err != nil {
		return 0, err
	}

	out := make(map[string]any, len(payload)+2)
	for k, v := range payload {
		out[k] = v
	}

	requestID := 0
	if !opts.NoAddRequestID {
		requestID = e.tracker.Next()
		out["requestId"] = requestID
	}
	if opts.IncSessionID {
		e.mu.Lock()
		out["sessionId"] = e.sessionID
		e.mu.Unlock()
	}

	body, err := json.Marshal(out)
	if err != nil {
		return 0, fmt.Errorf("connection: marshal payload: %w", err)
	}

	if opts.Callback != nil && requestID != 0 {
		e.tracker.Await(requestID, 0, opts.Callback)
	}

	e.connMu.Lock()
	codec := e.codec
	e.connMu.Unlock()
	if codec == nil {
		return 0, apperr.ErrNotConnected
	}

	msg := &wire.Message{
		ProtocolVersion: wire.ProtocolVersionCastV2_1_0,
		SourceID:        e.sourceID,
		DestinationID:   destinationID,
		Namespace:       namespace,
		PayloadType:     wire.PayloadString,
		PayloadUTF8:     string(body),
	}
	if err := codec.WriteMessage(msg); err != nil {
		e.forceRecon.Store(true)
		if opts.Callback != nil {
			e.tracker.Resolve(requestID, nil)
		}
		return requestID, fmt.Errorf("connection: write: %w", apperr.ErrNotConnected)
	}
	return requestID, nil
}

// ensureChannel opens an implicit virtual channel (CONNECT on
// tp.connection) to destinationID if one isn't already open.
func (e *Engine) ensureChannel(destinationID string) error {
	e.mu.Lock()
	already := e.openCh.has(destinationID)
	if !already {
		e.openCh.add(destinationID)
	}
	e.mu.Unlock()
	if already {
		return nil
	}

	e.connMu.Lock()
	codec := e.codec
	e.connMu.Unlock()
	if codec == nil {
		return apperr.ErrNotConnected
	}
	msg := &wire.Message{
		ProtocolVersion: wire.ProtocolVersionCastV2_1_0,
		SourceID:        e.sourceID,
		DestinationID:   destinationID,
		Namespace:       connectionNamespace,
		PayloadType:     wire.PayloadString,
		PayloadUTF8:     `{"type":"CONNECT"}`,
	}
	return codec.WriteMessage(msg)
}

// closeChannel sends a best-effort CLOSE for destinationID.
func (e *Engine) closeChannel(destinationID string) {
	e.mu.Lock()
	if !e.openCh.has(destinationID) {
		e.mu.Unlock()
		return
	}
	e.openCh.remove(destinationID)
	e.mu.Unlock()

	e.connMu.Lock()
	codec := e.codec
	e.connMu.Unlock()
	if codec == nil {
		return
	}
	msg := &wire.Message{
		ProtocolVersion: wire.ProtocolVersionCastV2_1_0,
		SourceID:        e.sourceID,
		DestinationID:   destinationID,
		Namespace:       connectionNamespace,
		PayloadType:     wire.PayloadString,
		PayloadUTF8:     `{"type":"CLOSE"}`,
	}
	_ = codec.WriteMessage(msg)
}

// onCastStatus reacts to a new RECEIVER_STATUS: if the running app's
// transport id changed, close the previous app channel, adopt the new one,
// and open channels (firing channel_connected) for every controller whose
// namespace the new app now offers.
func (e *Engine) onCastStatus(status receiver.CastStatus) {
	e.mu.Lock()
	prev := e.destinationID
	changed := status.TransportID != "" && status.TransportID != prev
	if changed {
		e.destinationID = status.TransportID
		e.sessionID = status.SessionID
		e.appNamespaces = append([]string(nil), status.Namespaces...)
	}
	e.mu.Unlock()

	if !changed {
		return
	}
	if prev != "" {
		e.closeChannel(prev)
		e.notifyChannelDisconnected(prev)
	}

	if delay := channelOpenDelayFor(status.AppID); delay > 0 {
		time.Sleep(delay)
	}

	if err := e.ensureChannel(status.TransportID); err != nil {
		e.logger.Warn().Err(err).Msg("connection: failed opening app channel")
		return
	}
	e.notifyChannelConnected(status.TransportID, status.Namespaces)
}

func (e *Engine) notifyChannelConnected(destinationID string, namespaces []string) {
	offers := make(map[string]struct{}, len(namespaces))
	for _, ns := range namespaces {
		offers[ns] = struct{}{}
	}
	e.handlersMu.RLock()
	defer e.handlersMu.RUnlock()
	for ns, cs := range e.handlers {
		if _, ok := offers[ns]; !ok {
			continue
		}
		for _, c := range cs {
			c.ChannelConnected()
		}
	}
}

func (e *Engine) notifyChannelDisconnected(destinationID string) {
	e.handlersMu.RLock()
	defer e.handlersMu.RUnlock()
	for _, cs := range e.handlers {
		for _, c := range cs {
			if !c.TargetPlatform() {
				c.ChannelDisconnected()
			}
		}
	}
}

// declareLost transitions Connected -> Lost, tears down channels, and marks
// the receiver controller disconnected, per §4.7's supervisor behavior. It
// also tears down the dead socket and its run context before reconnecting,
// so the previous generation's readLoop/supervise goroutines and *tls.Conn
// don't outlive it — §3 guarantees exactly one TLS socket per live façade.
//
// This must not wait on e.wg: declareLost can run synchronously from inside
// readLoop itself (on a read error), before that goroutine's own wg.Done
// has fired, and waiting here would deadlock against it.
func (e *Engine) declareLost(ctx context.Context) {
	if e.State() == Stopped {
		return
	}
	e.setState(Lost)

	if e.cancel != nil {
		e.cancel()
	}
	e.connMu.Lock()
	if e.raw != nil {
		_ = e.raw.Close()
		e.raw = nil
	}
	e.codec = nil
	e.connMu.Unlock()

	e.mu.Lock()
	ids := e.openCh.all()
	e.mu.Unlock()
	for _, id := range ids {
		e.closeChannel(id)
	}
	if e.receiverCtrl != nil {
		e.receiverCtrl.ChannelDisconnected()
	}

	go func() {
		if err := e.Connect(ctx); err != nil {
			e.logger.Error().Err(err).Msg("connection: reconnect failed")
		}
	}()
}
