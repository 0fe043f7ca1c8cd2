package media

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/relaycast/gocast/controller"
)

type fakeEngine struct {
	sent    []map[string]any
	current controller.AppState
	launch  func(appID string, force bool, cb func(ok bool)) error
}

func (f *fakeEngine) SendMessage(namespace, destinationID string, payload map[string]any, opts controller.SendOptions) (int, error) {
	f.sent = append(f.sent, payload)
	return 1, nil
}
func (f *fakeEngine) CurrentApp() controller.AppState { return f.current }
func (f *fakeEngine) LaunchApp(appID string, forceLaunch bool, cb func(ok bool)) error {
	if f.launch != nil {
		return f.launch(appID, forceLaunch, cb)
	}
	cb(true)
	return nil
}

func newTestController() (*Controller, *fakeEngine) {
	c := New(zerolog.Nop())
	e := &fakeEngine{current: controller.AppState{
		DestinationID: "app-1",
		Namespaces:    []string{Namespace},
	}}
	c.Registered(e)
	return c, e
}

func statusPayload(entry map[string]any) map[string]any {
	return map[string]any{"type": "MEDIA_STATUS", "status": []any{entry}}
}

func TestReceiveMediaStatusUpdatesSessionID(t *testing.T) {
	c, _ := newTestController()
	c.ReceiveMessage(statusPayload(map[string]any{"mediaSessionId": float64(42), "playerState": "PLAYING"}))

	got := c.Status()
	if !got.HasMediaSessionID || got.MediaSessionID != 42 {
		t.Fatalf("expected mediaSessionId 42, got %+v", got)
	}
	if got.PlayerState != PlayerStatePlaying {
		t.Errorf("expected PLAYING, got %s", got.PlayerState)
	}
}

func TestChannelDisconnectedResetsStatus(t *testing.T) {
	c, _ := newTestController()
	c.ReceiveMessage(statusPayload(map[string]any{"mediaSessionId": float64(1)}))
	c.ChannelDisconnected()
	if c.Status().HasMediaSessionID {
		t.Fatal("expected status reset after ChannelDisconnected")
	}
}

func TestSendCommandFailsWithoutActiveSession(t *testing.T) {
	c, _ := newTestController()
	if err := c.Play(); err == nil {
		t.Fatal("expected error sending PLAY with no active session")
	}
}

func TestPlayPauseStopSendCorrectTypes(t *testing.T) {
	c, e := newTestController()
	c.ReceiveMessage(statusPayload(map[string]any{"mediaSessionId": float64(7)}))

	c.Play()
	c.Pause()
	c.Stop()
	c.Seek(30)

	wantTypes := []string{"PLAY", "PAUSE", "STOP", "SEEK"}
	if len(e.sent) != len(wantTypes) {
		t.Fatalf("got %d messages, want %d", len(e.sent), len(wantTypes))
	}
	for i, wt := range wantTypes {
		if e.sent[i]["type"] != wt {
			t.Errorf("message %d: got %v, want %s", i, e.sent[i]["type"], wt)
		}
		if e.sent[i]["mediaSessionId"] != 7 {
			t.Errorf("message %d: missing mediaSessionId", i)
		}
	}
}

func TestAdjustedCurrentTimeExtrapolatesWhilePlaying(t *testing.T) {
	c, _ := newTestController()
	c.ReceiveMessage(statusPayload(map[string]any{
		"mediaSessionId": float64(1),
		"playerState":    "PLAYING",
		"currentTime":    float64(10),
	}))
	time.Sleep(50 * time.Millisecond)
	if got := c.Status().AdjustedCurrentTime(); got < 10 {
		t.Errorf("expected extrapolated time >= 10, got %v", got)
	}
}

func TestAdjustedCurrentTimeStaysFixedWhenPaused(t *testing.T) {
	c, _ := newTestController()
	c.ReceiveMessage(statusPayload(map[string]any{
		"mediaSessionId": float64(1),
		"playerState":    "PAUSED",
		"currentTime":    float64(10),
	}))
	time.Sleep(20 * time.Millisecond)
	if got := c.Status().AdjustedCurrentTime(); got != 10 {
		t.Errorf("expected fixed time 10 when paused, got %v", got)
	}
}

func TestBlockUntilActiveReturnsOnceSessionAppears(t *testing.T) {
	c, _ := newTestController()
	done := make(chan bool, 1)
	go func() { done <- c.BlockUntilActive(time.Second) }()

	time.Sleep(10 * time.Millisecond)
	c.ReceiveMessage(statusPayload(map[string]any{"mediaSessionId": float64(1)}))

	select {
	case ok := <-done:
		if !ok {
			t.Fatal("expected BlockUntilActive to return true")
		}
	case <-time.After(time.Second):
		t.Fatal("BlockUntilActive never returned")
	}
}

func TestBlockUntilActiveTimesOut(t *testing.T) {
	c, _ := newTestController()
	if c.BlockUntilActive(20 * time.Millisecond) {
		t.Fatal("expected timeout with no session")
	}
}

func TestPlayMediaSendsLoad(t *testing.T) {
	c, e := newTestController()
	err := c.PlayMedia(LoadRequest{
		ContentID:   "http://example.com/video.mp4",
		ContentType: "video/mp4",
		Title:       "Test Video",
		Autoplay:    true,
	})
	if err != nil {
		t.Fatalf("PlayMedia: %v", err)
	}
	found := false
	for _, m := range e.sent {
		if m["type"] == "LOAD" {
			found = true
			media := m["media"].(map[string]any)
			if media["contentId"] != "http://example.com/video.mp4" {
				t.Errorf("unexpected contentId: %v", media["contentId"])
			}
		}
	}
	if !found {
		t.Fatal("expected a LOAD message")
	}
}

func TestPlayMediaEnqueueSendsQueueInsert(t *testing.T) {
	c, e := newTestController()
	if err := c.PlayMedia(LoadRequest{ContentID: "x", ContentType: "video/mp4", Enqueue: true}); err != nil {
		t.Fatalf("PlayMedia: %v", err)
	}
	found := false
	for _, m := range e.sent {
		if m["type"] == "QUEUE_INSERT" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a QUEUE_INSERT message when Enqueue is set")
	}
}

func TestStatusListenerReceivesUpdate(t *testing.T) {
	c, _ := newTestController()
	var got MediaStatus
	c.RegisterStatusListener(func(s MediaStatus) { got = s })
	c.ReceiveMessage(statusPayload(map[string]any{"mediaSessionId": float64(5)}))
	if got.MediaSessionID != 5 {
		t.Errorf("listener did not receive updated status: %+v", got)
	}
}

func TestQuickPlayReadsGenericFieldsAndLoads(t *testing.T) {
	c, e := newTestController()

	done := make(chan error, 1)
	go func() {
		done <- c.QuickPlay(map[string]any{
			"content_id":   "abc123",
			"content_type": "video/mp4",
			"title":        "A Movie",
		}, time.Second)
	}()

	// QuickPlay blocks on BlockUntilActive until a MEDIA_STATUS with a
	// session id arrives, same as a real receiver's LOAD response would.
	c.ReceiveMessage(statusPayload(map[string]any{"mediaSessionId": float64(7), "playerState": "PLAYING"}))

	if err := <-done; err != nil {
		t.Fatalf("QuickPlay: %v", err)
	}

	var loadPayload map[string]any
	for _, m := range e.sent {
		if m["type"] == "LOAD" {
			loadPayload = m
		}
	}
	if loadPayload == nil {
		t.Fatal("expected a LOAD message")
	}
	media, _ := loadPayload["media"].(map[string]any)
	if media["contentId"] != "abc123" || media["contentType"] != "video/mp4" {
		t.Errorf("LOAD did not carry the quick-play content fields: %+v", media)
	}
}

func TestQuickPlayTimesOutIfNoSessionArrives(t *testing.T) {
	c, _ := newTestController()
	err := c.QuickPlay(map[string]any{"content_id": "abc123"}, 20*time.Millisecond)
	if err == nil {
		t.Fatal("expected a timeout error when no MEDIA_STATUS ever arrives")
	}
}
