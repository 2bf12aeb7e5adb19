package domain

type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
	TrackData  TrackKind = "data"
)

type TrackSource string

const (
	SourceUnknown          TrackSource = "unknown"
	SourceCamera           TrackSource = "camera"
	SourceMicrophone       TrackSource = "microphone"
	SourceScreenShare      TrackSource = "screen_share"
	SourceScreenShareAudio TrackSource = "screen_share_audio"
)

type TrackInfo struct {
	SID      TrackSID    `json:"sid"`
	Name     string      `json:"name,omitempty"`
	Type     TrackKind   `json:"type"`
	Source   TrackSource `json:"source,omitempty"`
	MimeType string      `json:"mime_type,omitempty"`
	Muted    bool        `json:"muted,omitempty"`
	Width    uint32      `json:"width,omitempty"`
	Height   uint32      `json:"height,omitempty"`
}
