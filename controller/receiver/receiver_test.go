package receiver

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/relaycast/gocast/controller"
	"github.com/relaycast/gocast/discovery"
)

type fakeEngine struct {
	sent    []sentMsg
	current controller.AppState
}

type sentMsg struct {
	namespace, destinationID string
	payload                  map[string]any
}

func (f *fakeEngine) SendMessage(namespace, destinationID string, payload map[string]any, opts controller.SendOptions) (int, error) {
	f.sent = append(f.sent, sentMsg{namespace, destinationID, payload})
	return 1, nil
}
func (f *fakeEngine) CurrentApp() controller.AppState { return f.current }
func (f *fakeEngine) LaunchApp(appID string, forceLaunch bool, cb func(ok bool)) error {
	cb(true)
	return nil
}

func newTestController() (*Controller, *fakeEngine) {
	c := New(discovery.CastTypeVideo, zerolog.Nop())
	e := &fakeEngine{}
	c.Registered(e)
	return c, e
}

func TestReceiveStatusUpdatesCachedStatus(t *testing.T) {
	c, _ := newTestController()
	payload := map[string]any{
		"type": "RECEIVER_STATUS",
		"status": map[string]any{
			"volume": map[string]any{"level": 0.5, "muted": false},
			"applications": []any{
				map[string]any{"appId": "CC1AD845", "sessionId": "s1", "transportId": "t1"},
			},
		},
	}
	if !c.ReceiveMessage(payload) {
		t.Fatal("expected RECEIVER_STATUS to be consumed")
	}
	if got := c.AppID(); got != "CC1AD845" {
		t.Errorf("AppID = %q, want CC1AD845", got)
	}
}

func TestChannelDisconnectedClearsStatus(t *testing.T) {
	c, _ := newTestController()
	c.ReceiveMessage(map[string]any{
		"type":   "RECEIVER_STATUS",
		"status": map[string]any{"applications": []any{map[string]any{"appId": "X"}}},
	})
	if c.AppID() != "X" {
		t.Fatal("setup: expected status populated")
	}
	c.ChannelDisconnected()
	if c.Status() != nil {
		t.Fatal("expected status cleared after ChannelDisconnected")
	}
}

func TestStatusListenerPanicIsolated(t *testing.T) {
	c, _ := newTestController()
	called := false
	c.RegisterStatusListener(func(CastStatus) { panic("boom") })
	c.RegisterStatusListener(func(CastStatus) { called = true })

	c.ReceiveMessage(map[string]any{
		"type":   "RECEIVER_STATUS",
		"status": map[string]any{"applications": []any{}},
	})
	if !called {
		t.Fatal("second listener should still run after the first panics")
	}
}

func TestLaunchAppConfirmsOnMatchingStatus(t *testing.T) {
	c, e := newTestController()
	// Prime status so LaunchApp skips the implicit GET_STATUS round trip.
	c.ReceiveMessage(map[string]any{
		"type":   "RECEIVER_STATUS",
		"status": map[string]any{"applications": []any{}},
	})

	confirmed := false
	if err := c.LaunchApp("CC1AD845", false, func(ok bool) { confirmed = ok }); err != nil {
		t.Fatalf("LaunchApp: %v", err)
	}

	found := false
	for _, m := range e.sent {
		if m.payload["type"] == "LAUNCH" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a LAUNCH message to be sent")
	}

	c.ReceiveMessage(map[string]any{
		"type":   "RECEIVER_STATUS",
		"status": map[string]any{"applications": []any{map[string]any{"appId": "CC1AD845"}}},
	})
	if !confirmed {
		t.Fatal("expected launch callback to fire once status confirms the app")
	}
}

func TestLaunchAppSkipsWhenAlreadyRunning(t *testing.T) {
	c, e := newTestController()
	c.ReceiveMessage(map[string]any{
		"type":   "RECEIVER_STATUS",
		"status": map[string]any{"applications": []any{map[string]any{"appId": "CC1AD845"}}},
	})

	confirmed := false
	if err := c.LaunchApp("CC1AD845", false, func(ok bool) { confirmed = ok }); err != nil {
		t.Fatalf("LaunchApp: %v", err)
	}
	if !confirmed {
		t.Fatal("expected immediate confirmation when app already running")
	}
	for _, m := range e.sent {
		if m.payload["type"] == "LAUNCH" {
			t.Fatal("should not send LAUNCH when already running and force_launch=false")
		}
	}
}

func TestSetVolumeClampsRange(t *testing.T) {
	c, e := newTestController()
	if v, _ := c.SetVolume(-1); v != 0 {
		t.Errorf("SetVolume(-1) = %v, want 0", v)
	}
	if v, _ := c.SetVolume(5); v != 1 {
		t.Errorf("SetVolume(5) = %v, want 1", v)
	}
	if len(e.sent) != 2 {
		t.Fatalf("expected 2 SET_VOLUME sends, got %d", len(e.sent))
	}
}

func TestLaunchErrorListenerFires(t *testing.T) {
	c, _ := newTestController()
	var got LaunchFailure
	c.RegisterLaunchErrorListener(func(f LaunchFailure) { got = f })
	c.ReceiveMessage(map[string]any{"type": "LAUNCH_ERROR", "reason": "NOT_FOUND", "appId": "X"})
	if got.Reason != "NOT_FOUND" || got.AppID != "X" {
		t.Errorf("got %+v", got)
	}
}
