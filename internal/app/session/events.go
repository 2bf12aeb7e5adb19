package session

import (
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/rtcengine/internal/domain"
	"github.com/dkeye/rtcengine/internal/protocol"
)

// Event is emitted by a session (and relayed by the engine) to its owner.
type Event interface {
	EventName() string
}

// ConnectedEvent fires once per session, on the first primary connect.
type ConnectedEvent struct{}

type ParticipantUpdateEvent struct {
	Participants []domain.ParticipantInfo
}

type DataEvent struct {
	ParticipantSID  domain.ParticipantSID
	Payload         []byte
	Topic           string
	Kind            protocol.DataPacketKind
	DestinationSIDs []domain.ParticipantSID
}

type MediaTrackEvent struct {
	Track    *webrtc.TrackRemote
	Receiver *webrtc.RTPReceiver
}

type SpeakersChangedEvent struct {
	Speakers []domain.SpeakerInfo
}

type ConnectionQualityEvent struct {
	Updates []domain.ConnectionQualityInfo
}

type RoomUpdateEvent struct {
	Room domain.Room
}

// CloseEvent reports that the session can no longer be used as is.
type CloseEvent struct {
	Source        string
	Reason        domain.DisconnectReason
	CanReconnect  bool
	RetryNow      bool
	FullReconnect bool
}

func (*ConnectedEvent) EventName() string         { return "connected" }
func (*ParticipantUpdateEvent) EventName() string { return "participant_update" }
func (*DataEvent) EventName() string              { return "data" }
func (*MediaTrackEvent) EventName() string        { return "media_track" }
func (*SpeakersChangedEvent) EventName() string   { return "speakers_changed" }
func (*ConnectionQualityEvent) EventName() string { return "connection_quality" }
func (*RoomUpdateEvent) EventName() string        { return "room_update" }
func (*CloseEvent) EventName() string             { return "close" }
