// Package media implements the com.google.cast.media namespace: loading and
// controlling playback in the default (or a custom) media receiver app.
package media

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/relaycast/gocast/apperr"
	"github.com/relaycast/gocast/controller"
)

// Namespace is urn:x-cast:com.google.cast.media.
const Namespace = "urn:x-cast:com.google.cast.media"

// DefaultMediaReceiverAppID is launched automatically when this namespace
// isn't already offered by the running app.
const DefaultMediaReceiverAppID = "CC1AD845"

// StatusListener is notified on every MediaStatus update, including the
// zero-value reset fired on channel disconnect.
type StatusListener func(MediaStatus)

// LoadRequest describes media to load via play_media.
type LoadRequest struct {
	ContentID     string
	ContentType   string
	StreamType    StreamType
	Title         string
	ThumbnailURL  string
	CurrentTime   float64
	Autoplay      bool
	Metadata      map[string]any
	Subtitles     string
	SubtitlesLang string
	SubtitlesMime string
	SubtitleID    int
	Enqueue       bool
	ExtraFields   map[string]any // merged into the MediaInformation object, e.g. customData, tracks
}

// Controller is the media-namespace controller. It auto-launches
// DefaultMediaReceiverAppID (or whatever appID NewWithApp specifies) when
// the namespace isn't currently offered.
type Controller struct {
	*controller.Base
	logger zerolog.Logger

	mu            sync.Mutex
	status        MediaStatus
	sessionActive chan struct{} // closed once a media session id is known; replaced on reset
	listenerSet   *listenerSet
}

// New constructs a media controller that auto-launches the default media
// receiver.
func New(logger zerolog.Logger) *Controller {
	return NewWithApp(DefaultMediaReceiverAppID, logger)
}

// NewWithApp constructs a media controller that auto-launches appID instead
// of the default media receiver (for custom CAF receivers).
func NewWithApp(appID string, logger zerolog.Logger) *Controller {
	c := &Controller{
		Base:   controller.NewBase(Namespace, appID, false),
		logger: logger,
		status: newMediaStatus(),
	}
	c.resetSessionGate()
	return c
}

func (c *Controller) resetSessionGate() {
	c.mu.Lock()
	c.sessionActive = make(chan struct{})
	c.mu.Unlock()
}

// ChannelConnected requests a fresh status as soon as the virtual channel
// opens, matching the platform behavior a freshly launched app needs.
func (c *Controller) ChannelConnected() {
	_ = c.UpdateStatus(nil)
}

// ChannelDisconnected resets status to its zero value and notifies
// listeners, since a torn-down channel means no session survives it.
func (c *Controller) ChannelDisconnected() {
	c.mu.Lock()
	c.status = newMediaStatus()
	status := c.status
	c.mu.Unlock()
	c.resetSessionGate()
	c.fireStatus(status)
}

// Status returns the current (possibly stale) media status.
func (c *Controller) Status() MediaStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// listenerSet holds the per-controller StatusListener registry.
type listenerSet struct {
	mu  sync.RWMutex
	fns []StatusListener
}

func (c *Controller) listeners() *listenerSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listenerSet == nil {
		c.listenerSet = &listenerSet{}
	}
	return c.listenerSet
}

// RegisterStatusListener adds fn to the set called on every status update.
func (c *Controller) RegisterStatusListener(fn StatusListener) {
	ls := c.listeners()
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.fns = append(ls.fns, fn)
}

func (c *Controller) fireStatus(status MediaStatus) {
	ls := c.listeners()
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	for _, fn := range ls.fns {
		c.safeCall(fn, status)
	}
}

func (c *Controller) safeCall(fn StatusListener, status MediaStatus) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Msg("media: status listener panicked")
		}
	}()
	fn(status)
}

// ReceiveMessage handles MEDIA_STATUS; anything else is left unconsumed.
func (c *Controller) ReceiveMessage(payload map[string]any) bool {
	if payload["type"] != "MEDIA_STATUS" {
		return false
	}
	entries, _ := payload["status"].([]any)
	if len(entries) == 0 {
		return true
	}
	entry, _ := entries[0].(map[string]any)

	c.mu.Lock()
	c.status.update(entry)
	status := c.status
	hadSession := c.status.HasMediaSessionID
	c.mu.Unlock()

	if hadSession {
		c.mu.Lock()
		select {
		case <-c.sessionActive:
		default:
			close(c.sessionActive)
		}
		c.mu.Unlock()
	}

	c.fireStatus(status)
	return true
}

// UpdateStatus requests a fresh MEDIA_STATUS.
func (c *Controller) UpdateStatus(cb func(ok bool)) error {
	opts := controller.SendOptions{}
	if cb != nil {
		opts.Callback = func(ok bool, _ map[string]any) { cb(ok) }
	}
	_, err := c.Send(map[string]any{"type": "GET_STATUS"}, opts)
	return err
}

// sendCommand sends a playback command scoped to the current media session,
// failing with apperr.ErrRequestFailed (wrapped with the command name) if no
// session is active yet.
func (c *Controller) sendCommand(msgType string, extra map[string]any) error {
	c.mu.Lock()
	if !c.status.HasMediaSessionID {
		c.mu.Unlock()
		c.logger.Warn().Str("command", msgType).Msg("media: command requested but no session is active")
		return apperr.WrapOp(msgType, apperr.ErrRequestFailed)
	}
	sessionID := c.status.MediaSessionID
	c.mu.Unlock()

	payload := map[string]any{"type": msgType, "mediaSessionId": sessionID}
	for k, v := range extra {
		payload[k] = v
	}
	_, err := c.Send(payload, controller.SendOptions{IncSessionID: true})
	return err
}

func (c *Controller) Play() error  { return c.sendCommand("PLAY", nil) }
func (c *Controller) Pause() error { return c.sendCommand("PAUSE", nil) }
func (c *Controller) Stop() error  { return c.sendCommand("STOP", nil) }

// Seek moves playback to position (seconds).
func (c *Controller) Seek(position float64) error {
	return c.sendCommand("SEEK", map[string]any{"currentTime": position, "resumeState": "PLAYBACK_START"})
}

// Rewind restarts the current item from the beginning.
func (c *Controller) Rewind() error { return c.Seek(0) }

func (c *Controller) QueueNext() error { return c.sendCommand("QUEUE_UPDATE", map[string]any{"jump": 1}) }
func (c *Controller) QueuePrev() error { return c.sendCommand("QUEUE_UPDATE", map[string]any{"jump": -1}) }

// EnableSubtitle activates trackID as the sole active text track.
func (c *Controller) EnableSubtitle(trackID int) error {
	return c.sendCommand("EDIT_TRACKS_INFO", map[string]any{"activeTrackIds": []int{trackID}})
}

// DisableSubtitle deactivates all text tracks.
func (c *Controller) DisableSubtitle() error {
	return c.sendCommand("EDIT_TRACKS_INFO", map[string]any{"activeTrackIds": []int{}})
}

// SetTextTrackStyle restyles the active text track.
func (c *Controller) SetTextTrackStyle(style TextTrackStyle) error {
	return c.sendCommand("EDIT_TRACKS_INFO", map[string]any{"textTrackStyle": styleToPayload(style)})
}

func styleToPayload(s TextTrackStyle) map[string]any {
	return map[string]any{
		"foregroundColor":     s.ForegroundColor,
		"backgroundColor":     s.BackgroundColor,
		"edgeType":            s.EdgeType,
		"edgeColor":           s.EdgeColor,
		"fontFamily":          s.FontFamily,
		"fontScale":           s.FontScale,
		"fontStyle":           s.FontStyle,
		"windowColor":         s.WindowColor,
		"windowType":          s.WindowType,
		"windowRoundedCornerRadius": s.WindowRoundedCorner,
	}
}

// BlockUntilActive waits for a media session to become active (or timeout
// to elapse, if positive). Returns false on timeout.
func (c *Controller) BlockUntilActive(timeout time.Duration) bool {
	c.mu.Lock()
	ch := c.sessionActive
	c.mu.Unlock()
	if timeout <= 0 {
		<-ch
		return true
	}
	select {
	case <-ch:
		return true
	case <-time.After(timeout):
		return false
	}
}

// QuickPlay is a thin shim over PlayMedia for the quick-play dispatch
// table: it reads the handful of generic keys every media adapter shares
// out of data, loads the result, and waits up to timeout for a media
// session to become active.
func (c *Controller) QuickPlay(data map[string]any, timeout time.Duration) error {
	req := LoadRequest{StreamType: StreamTypeBuffered, Autoplay: true}
	if v, ok := data["content_id"].(string); ok {
		req.ContentID = v
	}
	if v, ok := data["content_type"].(string); ok {
		req.ContentType = v
	}
	if v, ok := data["title"].(string); ok {
		req.Title = v
	}
	if v, ok := data["thumb"].(string); ok {
		req.ThumbnailURL = v
	}
	if v, ok := data["current_time"].(float64); ok {
		req.CurrentTime = v
	}
	if v, ok := data["autoplay"].(bool); ok {
		req.Autoplay = v
	}
	if v, ok := data["metadata"].(map[string]any); ok {
		req.Metadata = v
	}
	if err := c.PlayMedia(req); err != nil {
		return err
	}
	if !c.BlockUntilActive(timeout) {
		return apperr.WrapOp("quick_play", apperr.ErrRequestTimeout)
	}
	return nil
}

// PlayMedia launches the controller's app (if needed, via Base.Send's
// auto-launch chaining) and loads req, waiting up to 10s for the LOAD (or
// QUEUE_INSERT, if req.Enqueue) to actually go out.
func (c *Controller) PlayMedia(req LoadRequest) error {
	done := make(chan error, 1)
	go func() { done <- c.sendLoad(req) }()
	select {
	case err := <-done:
		return err
	case <-time.After(10 * time.Second):
		return apperr.WrapOp("play_media", apperr.ErrRequestTimeout)
	}
}

func (c *Controller) sendLoad(req LoadRequest) error {
	metadata := map[string]any{}
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	if req.Title != "" {
		metadata["title"] = req.Title
	}
	if req.ThumbnailURL != "" {
		metadata["thumb"] = req.ThumbnailURL
		if _, ok := metadata["images"]; !ok {
			metadata["images"] = []any{}
		}
		metadata["images"] = append(metadata["images"].([]any), map[string]any{"url": req.ThumbnailURL})
	}
	if len(metadata) > 0 {
		if _, ok := metadata["metadataType"]; !ok {
			metadata["metadataType"] = int(MetadataGeneric)
		}
	}

	streamType := req.StreamType
	if streamType == "" {
		streamType = StreamTypeBuffered
	}

	mediaInfo := map[string]any{
		"contentId":   req.ContentID,
		"streamType":  string(streamType),
		"contentType": req.ContentType,
		"metadata":    metadata,
	}
	for k, v := range req.ExtraFields {
		mediaInfo[k] = v
	}

	if req.Subtitles != "" {
		lang := req.SubtitlesLang
		if lang == "" {
			lang = "en-US"
		}
		mime := req.SubtitlesMime
		if mime == "" {
			mime = "text/vtt"
		}
		mediaInfo["tracks"] = []any{map[string]any{
			"trackId":          req.SubtitleID,
			"trackContentId":   req.Subtitles,
			"language":         lang,
			"subtype":          "SUBTITLES",
			"type":             "TEXT",
			"trackContentType": mime,
			"name":             lang + " Subtitle",
		}}
	}

	msgType := "LOAD"
	if req.Enqueue {
		msgType = "QUEUE_INSERT"
	}
	payload := map[string]any{
		"type":     msgType,
		"media":    mediaInfo,
		"autoplay": req.Autoplay,
	}
	if req.CurrentTime != 0 {
		payload["currentTime"] = req.CurrentTime
	}
	_, err := c.Send(payload, controller.SendOptions{IncSessionID: true})
	return err
}
