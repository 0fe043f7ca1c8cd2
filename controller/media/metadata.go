package media

// MetadataType classifies the shape of a media item's metadata fields.
type MetadataType int

const (
	MetadataGeneric   MetadataType = 0
	MetadataMovie     MetadataType = 1
	MetadataTVShow    MetadataType = 2
	MetadataMusicTrack MetadataType = 3
	MetadataPhoto     MetadataType = 4
)

// StreamType describes the kind of stream being played.
type StreamType string

const (
	StreamTypeUnknown  StreamType = "UNKNOWN"
	StreamTypeBuffered StreamType = "BUFFERED"
	StreamTypeLive     StreamType = "LIVE"
)

// PlayerState is the receiver-reported playback state.
type PlayerState string

const (
	PlayerStatePlaying   PlayerState = "PLAYING"
	PlayerStateBuffering PlayerState = "BUFFERING"
	PlayerStatePaused    PlayerState = "PAUSED"
	PlayerStateIdle      PlayerState = "IDLE"
	PlayerStateUnknown   PlayerState = "UNKNOWN"
)

// Image is one entry of a media item's metadata.images list.
type Image struct {
	URL    string
	Height int
	Width  int
}

// Track describes one subtitle/audio/video track offered by the current
// media item (media_data.tracks[]).
type Track struct {
	TrackID         int
	TrackContentID  string
	TrackContentType string
	Language        string
	Subtype         string // "SUBTITLES", "CHAPTERS", "DESCRIPTIONS", etc.
	Type            string // "TEXT", "AUDIO", "VIDEO"
	Name            string
}

// TextTrackStyle customizes the rendering of TEXT tracks, mirroring the CAF
// TextTrackStyle message shape.
type TextTrackStyle struct {
	ForegroundColor     string
	BackgroundColor     string
	EdgeType            string
	EdgeColor           string
	FontFamily          string
	FontScale           float64
	FontStyle           string
	WindowColor         string
	WindowType          string
	WindowRoundedCorner float64
}
