package connection

import (
	"fmt"
	"testing"

	"github.com/google/uuid"

	"github.com/relaycast/gocast/apperr"
	"github.com/relaycast/gocast/controller"
	"github.com/relaycast/gocast/discovery"
	"github.com/relaycast/gocast/wire"
)

// fakeController is a minimal controller.Controller for dispatch tests; it
// records every payload it receives and reports consumed per wantConsume.
type fakeController struct {
	namespace   string
	wantConsume bool
	received    []map[string]any
}

func (f *fakeController) Namespace() string            { return f.namespace }
func (f *fakeController) SupportingAppID() string       { return "" }
func (f *fakeController) TargetPlatform() bool          { return false }
func (f *fakeController) Registered(controller.Engine)  {}
func (f *fakeController) ChannelConnected()             {}
func (f *fakeController) ChannelDisconnected()           {}
func (f *fakeController) TearDown()                     {}
func (f *fakeController) ReceiveMessage(payload map[string]any) bool {
	f.received = append(f.received, payload)
	return f.wantConsume
}

func testInfo() discovery.CastInfo {
	return discovery.CastInfo{
		UUID:     uuid.New(),
		Services: []discovery.Service{{Kind: discovery.ServiceHost, Host: "10.0.0.9", Port: 8009}},
	}
}

func TestEngineRegisterControllerAddsToDispatchTable(t *testing.T) {
	e := New(testInfo())
	fc := &fakeController{namespace: "urn:x-cast:custom", wantConsume: true}
	e.RegisterController(fc)

	e.handlersMu.RLock()
	handlers := e.handlers[fc.namespace]
	e.handlersMu.RUnlock()
	if len(handlers) != 1 || handlers[0] != controller.Controller(fc) {
		t.Fatalf("expected fc registered under its namespace, got %v", handlers)
	}
}

func TestEngineUnregisterControllerRemovesOnlyThatInstance(t *testing.T) {
	e := New(testInfo())
	a := &fakeController{namespace: "urn:x-cast:custom"}
	b := &fakeController{namespace: "urn:x-cast:custom"}
	e.RegisterController(a)
	e.RegisterController(b)

	e.UnregisterController(a)

	e.handlersMu.RLock()
	handlers := e.handlers["urn:x-cast:custom"]
	e.handlersMu.RUnlock()
	if len(handlers) != 1 || handlers[0] != controller.Controller(b) {
		t.Fatalf("expected only b left registered, got %v", handlers)
	}
}

func TestEngineDispatchAlwaysAttemptsRequestCorrelation(t *testing.T) {
	// Regression test: a namespace controller consuming a message must not
	// prevent the same message from also resolving a pending requestId
	// callback (e.g. receiver.UpdateStatus's callback on a RECEIVER_STATUS
	// reply the receiver controller itself also consumes).
	e := New(testInfo())
	fc := &fakeController{namespace: "urn:x-cast:custom", wantConsume: true}
	e.RegisterController(fc)

	reqID := e.tracker.Next()
	resolved := false
	var gotPayload map[string]any
	e.tracker.Await(reqID, 0, func(ok bool, payload map[string]any) {
		resolved = ok
		gotPayload = payload
	})

	msg := &wire.Message{
		Namespace:   "urn:x-cast:custom",
		PayloadType: wire.PayloadString,
		PayloadUTF8: fmt.Sprintf(`{"type":"RECEIVER_STATUS","requestId":%d}`, reqID),
	}
	e.dispatch(msg)

	if len(fc.received) != 1 {
		t.Fatalf("expected the controller to see the message, got %d", len(fc.received))
	}
	if !resolved {
		t.Fatal("expected the pending request to resolve even though the controller consumed the message")
	}
	if gotPayload["type"] != "RECEIVER_STATUS" {
		t.Errorf("unexpected resolved payload: %v", gotPayload)
	}
}

func TestEngineCurrentAppWithNoReceiverController(t *testing.T) {
	e := New(testInfo())
	app := e.CurrentApp()
	if app.AppID != "" {
		t.Errorf("expected empty AppID with no receiver controller registered, got %q", app.AppID)
	}
}

func TestEngineLaunchAppRequiresReceiverController(t *testing.T) {
	e := New(testInfo())
	if err := e.LaunchApp("CC1AD845", false, nil); err != apperr.ErrControllerNotRegistered {
		t.Errorf("expected ErrControllerNotRegistered, got %v", err)
	}
}

func TestEngineSendMessageRequiresConnectedState(t *testing.T) {
	e := New(testInfo())
	_, err := e.SendMessage("urn:x-cast:custom", "receiver-0", map[string]any{"type": "PING"}, controller.SendOptions{})
	if err != apperr.ErrNotConnected {
		t.Errorf("expected ErrNotConnected while Idle, got %v", err)
	}
}

func TestEngineSendMessageRejectsWhenForceReconSet(t *testing.T) {
	e := New(testInfo())
	e.setState(Connected)
	e.forceRecon.Store(true)
	_, err := e.SendMessage("urn:x-cast:custom", "receiver-0", map[string]any{"type": "PING"}, controller.SendOptions{})
	if err != apperr.ErrNotConnected {
		t.Errorf("expected ErrNotConnected once forceRecon is set, got %v", err)
	}
}

func TestEngineSetStateSkipsListenersOnNoopTransition(t *testing.T) {
	e := New(testInfo())
	calls := 0
	e.OnStateChange(func(old, new State) { calls++ })
	e.setState(Idle) // already Idle: no transition
	if calls != 0 {
		t.Errorf("expected no listener call for a no-op transition, got %d", calls)
	}
	e.setState(Connecting)
	if calls != 1 {
		t.Errorf("expected exactly one listener call for a real transition, got %d", calls)
	}
}
