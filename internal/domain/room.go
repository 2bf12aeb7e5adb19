package domain

type (
	RoomSID  string
	RoomName string
)

type Room struct {
	SID             RoomSID  `json:"sid"`
	Name            RoomName `json:"name"`
	Metadata        string   `json:"metadata,omitempty"`
	NumParticipants uint32   `json:"num_participants,omitempty"`
}

// DisconnectReason tells why a participant left or was removed.
type DisconnectReason int

const (
	DisconnectUnknown DisconnectReason = iota
	DisconnectClientInitiated
	DisconnectDuplicateIdentity
	DisconnectServerShutdown
	DisconnectParticipantRemoved
	DisconnectRoomDeleted
	DisconnectStateMismatch
	DisconnectJoinFailure
	DisconnectMigration
	DisconnectSignalClose
	DisconnectRoomClosed
)

var disconnectReasonNames = [...]string{
	"unknown",
	"client_initiated",
	"duplicate_identity",
	"server_shutdown",
	"participant_removed",
	"room_deleted",
	"state_mismatch",
	"join_failure",
	"migration",
	"signal_close",
	"room_closed",
}

func (r DisconnectReason) String() string {
	if r < 0 || int(r) >= len(disconnectReasonNames) {
		return "unknown"
	}
	return disconnectReasonNames[r]
}
