package protocol

import "github.com/dkeye/rtcengine/internal/domain"

type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

type ClientConfiguration struct {
	ForceRelay bool `json:"force_relay,omitempty"`
}

// JoinResponse is the first message of a fresh signaling connection.
type JoinResponse struct {
	Room                domain.Room              `json:"room"`
	Participant         domain.ParticipantInfo   `json:"participant"`
	OtherParticipants   []domain.ParticipantInfo `json:"other_participants,omitempty"`
	ServerVersion       string                   `json:"server_version,omitempty"`
	ICEServers          []ICEServer              `json:"ice_servers,omitempty"`
	SubscriberPrimary   bool                     `json:"subscriber_primary"`
	ClientConfiguration ClientConfiguration      `json:"client_configuration"`
	// PingInterval and PingTimeout are in seconds.
	PingInterval int32 `json:"ping_interval,omitempty"`
	PingTimeout  int32 `json:"ping_timeout,omitempty"`
}

// ReconnectResponse is the first message of a resumed signaling connection.
type ReconnectResponse struct {
	ICEServers          []ICEServer         `json:"ice_servers,omitempty"`
	ClientConfiguration ClientConfiguration `json:"client_configuration"`
}
