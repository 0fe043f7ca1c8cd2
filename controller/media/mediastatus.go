package media

import (
	"time"

	"github.com/relaycast/gocast/internal/capability"
)

// MediaStatus is the running view of the current media session, updated
// incrementally as MEDIA_STATUS messages only ever carry the fields that
// changed.
type MediaStatus struct {
	CurrentTime          float64
	ContentID            string
	ContentType          string
	Duration             float64
	StreamType           StreamType
	IdleReason           string
	MediaSessionID        int
	HasMediaSessionID     bool
	PlaybackRate         float64
	PlayerState          PlayerState
	SupportedCommands    capability.Set
	VolumeLevel          float64
	VolumeMuted          bool
	CustomData           map[string]any
	Metadata             map[string]any
	Tracks               []Track
	CurrentSubtitleTrack []int

	lastUpdated time.Time
}

// newMediaStatus returns the zero-value status a freshly (re)connected
// media channel starts with.
func newMediaStatus() MediaStatus {
	return MediaStatus{
		StreamType:  StreamTypeUnknown,
		PlaybackRate: 1,
		PlayerState: PlayerStateUnknown,
		VolumeLevel: 1,
	}
}

// AdjustedCurrentTime extrapolates the playback position to now when the
// player is actively PLAYING, since the receiver only pushes CurrentTime on
// state changes, not continuously.
func (s MediaStatus) AdjustedCurrentTime() float64 {
	if s.PlayerState == PlayerStatePlaying && !s.lastUpdated.IsZero() {
		return s.CurrentTime + time.Since(s.lastUpdated).Seconds()
	}
	return s.CurrentTime
}

func (s MediaStatus) MetadataType() MetadataType {
	if v, ok := s.Metadata["metadataType"].(float64); ok {
		return MetadataType(int(v))
	}
	return MetadataGeneric
}

func (s MediaStatus) Title() string        { return stringField(s.Metadata, "title") }
func (s MediaStatus) SeriesTitle() string  { return stringField(s.Metadata, "seriesTitle") }
func (s MediaStatus) Artist() string       { return stringField(s.Metadata, "artist") }
func (s MediaStatus) AlbumName() string    { return stringField(s.Metadata, "albumName") }
func (s MediaStatus) AlbumArtist() string  { return stringField(s.Metadata, "albumArtist") }

func (s MediaStatus) Images() []Image {
	raw, ok := s.Metadata["images"].([]any)
	if !ok {
		return nil
	}
	out := make([]Image, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, Image{
			URL:    stringField(m, "url"),
			Height: intField(m, "height"),
			Width:  intField(m, "width"),
		})
	}
	return out
}

func (s MediaStatus) PlayerIsPlaying() bool {
	return s.PlayerState == PlayerStatePlaying || s.PlayerState == PlayerStateBuffering
}
func (s MediaStatus) PlayerIsPaused() bool { return s.PlayerState == PlayerStatePaused }
func (s MediaStatus) PlayerIsIdle() bool   { return s.PlayerState == PlayerStateIdle }

// update applies one MEDIA_STATUS payload's status[0] entry in place,
// leaving unset fields at their previous value (the protocol only reports
// deltas).
func (s *MediaStatus) update(entry map[string]any) {
	mediaData, _ := entry["media"].(map[string]any)
	volumeData, _ := entry["volume"].(map[string]any)

	if v, ok := entry["currentTime"].(float64); ok {
		s.CurrentTime = v
	}
	if mediaData != nil {
		if v, ok := mediaData["contentId"].(string); ok {
			s.ContentID = v
		}
		if v, ok := mediaData["contentType"].(string); ok {
			s.ContentType = v
		}
		if v, ok := mediaData["duration"].(float64); ok {
			s.Duration = v
		}
		if v, ok := mediaData["streamType"].(string); ok {
			s.StreamType = StreamType(v)
		}
		if v, ok := mediaData["customData"].(map[string]any); ok {
			s.CustomData = v
		}
		if v, ok := mediaData["metadata"].(map[string]any); ok {
			s.Metadata = v
		}
		if raw, ok := mediaData["tracks"].([]any); ok {
			s.Tracks = parseTracks(raw)
		}
	}
	if v, ok := entry["idleReason"].(string); ok {
		s.IdleReason = v
	}
	if v, ok := entry["mediaSessionId"].(float64); ok {
		s.MediaSessionID = int(v)
		s.HasMediaSessionID = true
	}
	if v, ok := entry["playbackRate"].(float64); ok {
		s.PlaybackRate = v
	}
	if v, ok := entry["playerState"].(string); ok {
		s.PlayerState = PlayerState(v)
	}
	if v, ok := entry["supportedMediaCommands"].(float64); ok {
		s.SupportedCommands = capability.Set(int(v))
	}
	if volumeData != nil {
		if v, ok := volumeData["level"].(float64); ok {
			s.VolumeLevel = v
		}
		if v, ok := volumeData["muted"].(bool); ok {
			s.VolumeMuted = v
		}
	}
	if raw, ok := entry["activeTrackIds"].([]any); ok {
		ids := make([]int, 0, len(raw))
		for _, v := range raw {
			if f, ok := v.(float64); ok {
				ids = append(ids, int(f))
			}
		}
		s.CurrentSubtitleTrack = ids
	}
	s.lastUpdated = time.Now()
}

func parseTracks(raw []any) []Track {
	out := make([]Track, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, Track{
			TrackID:          intField(m, "trackId"),
			TrackContentID:   stringField(m, "trackContentId"),
			TrackContentType: stringField(m, "trackContentType"),
			Language:         stringField(m, "language"),
			Subtype:          stringField(m, "subtype"),
			Type:             stringField(m, "type"),
			Name:             stringField(m, "name"),
		})
	}
	return out
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	v, _ := m[key].(string)
	return v
}

func intField(m map[string]any, key string) int {
	if m == nil {
		return 0
	}
	v, _ := m[key].(float64)
	return int(v)
}
