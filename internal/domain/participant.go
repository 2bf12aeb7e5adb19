// Package domain contains entity without logic, just meta-data
package domain

type (
	ParticipantSID string
	TrackSID       string
)

type ParticipantState string

const (
	ParticipantJoining      ParticipantState = "joining"
	ParticipantJoined       ParticipantState = "joined"
	ParticipantActive       ParticipantState = "active"
	ParticipantDisconnected ParticipantState = "disconnected"
)

type ParticipantInfo struct {
	SID      ParticipantSID   `json:"sid"`
	Identity string           `json:"identity"`
	Name     string           `json:"name,omitempty"`
	State    ParticipantState `json:"state,omitempty"`
	Metadata string           `json:"metadata,omitempty"`
	Tracks   []TrackInfo      `json:"tracks,omitempty"`
}

// SpeakerInfo is one entry of an active-speakers update.
type SpeakerInfo struct {
	SID    ParticipantSID `json:"sid"`
	Level  float32        `json:"level"`
	Active bool           `json:"active"`
}

type ConnectionQuality string

const (
	QualityPoor      ConnectionQuality = "poor"
	QualityGood      ConnectionQuality = "good"
	QualityExcellent ConnectionQuality = "excellent"
	QualityLost      ConnectionQuality = "lost"
)

type ConnectionQualityInfo struct {
	ParticipantSID ParticipantSID    `json:"participant_sid"`
	Quality        ConnectionQuality `json:"quality"`
	Score          float32           `json:"score,omitempty"`
}
