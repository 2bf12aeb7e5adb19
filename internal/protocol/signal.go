// Package protocol holds the wire shapes exchanged with the signaling server
// and the binary envelope carried over data channels.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/rtcengine/internal/domain"
)

var ErrUnknownMessage = errors.New("unknown signal message")

// SignalTarget names the peer connection a trickle candidate belongs to.
type SignalTarget int

const (
	Publisher SignalTarget = iota
	Subscriber
)

func (t SignalTarget) String() string {
	if t == Subscriber {
		return "subscriber"
	}
	return "publisher"
}

// Request is a message sent to the signaling server.
type Request interface {
	RequestType() string
}

// Response is a message received from the signaling server.
type Response interface {
	ResponseType() string
}

type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Offer travels both ways: publisher offers go up, subscriber offers come down.
type Offer SessionDescription

// Answer travels both ways, mirroring Offer.
type Answer SessionDescription

// Trickle carries one ICE candidate serialized as JSON
// ({"sdpMid", "sdpMLineIndex", "candidate"}).
type Trickle struct {
	CandidateInit string       `json:"candidate_init"`
	Target        SignalTarget `json:"target"`
}

type AddTrackRequest struct {
	CID        string             `json:"cid"`
	Name       string             `json:"name,omitempty"`
	Type       domain.TrackKind   `json:"type"`
	Source     domain.TrackSource `json:"source,omitempty"`
	Width      uint32             `json:"width,omitempty"`
	Height     uint32             `json:"height,omitempty"`
	Muted      bool               `json:"muted,omitempty"`
	DisableDTX bool               `json:"disable_dtx,omitempty"`
}

type MuteTrackRequest struct {
	SID   domain.TrackSID `json:"sid"`
	Muted bool            `json:"muted"`
}

type UpdateSubscription struct {
	TrackSIDs []domain.TrackSID `json:"track_sids"`
	Subscribe bool              `json:"subscribe"`
}

// Leave is sent by the client on close and by the server to evict or migrate it.
type Leave struct {
	CanReconnect bool                    `json:"can_reconnect"`
	Reason       domain.DisconnectReason `json:"reason"`
}

type CandidateProtocol int

const (
	ProtocolUDP CandidateProtocol = iota
	ProtocolTCP
	ProtocolTLS
)

// Simulate asks the server to fake a failure scenario. Exactly one field is set.
type Simulate struct {
	SpeakerUpdate           int32              `json:"speaker_update,omitempty"`
	NodeFailure             bool               `json:"node_failure,omitempty"`
	Migration               bool               `json:"migration,omitempty"`
	ServerLeave             bool               `json:"server_leave,omitempty"`
	SwitchCandidateProtocol *CandidateProtocol `json:"switch_candidate_protocol,omitempty"`
}

type TrackPublished struct {
	CID   string           `json:"cid"`
	Track domain.TrackInfo `json:"track"`
}

type ParticipantUpdate struct {
	Participants []domain.ParticipantInfo `json:"participants"`
}

type SpeakersChanged struct {
	Speakers []domain.SpeakerInfo `json:"speakers"`
}

type ConnectionQualityUpdate struct {
	Updates []domain.ConnectionQualityInfo `json:"updates"`
}

type RoomUpdate struct {
	Room domain.Room `json:"room"`
}

// RefreshToken carries a new access token to use for later reconnects.
type RefreshToken struct {
	Token string `json:"token"`
}

func (*Offer) RequestType() string              { return "offer" }
func (*Answer) RequestType() string             { return "answer" }
func (*Trickle) RequestType() string            { return "trickle" }
func (*AddTrackRequest) RequestType() string    { return "add_track" }
func (*MuteTrackRequest) RequestType() string   { return "mute" }
func (*UpdateSubscription) RequestType() string { return "subscription" }
func (*Leave) RequestType() string              { return "leave" }
func (*Simulate) RequestType() string           { return "simulate" }

func (*JoinResponse) ResponseType() string            { return "join" }
func (*ReconnectResponse) ResponseType() string       { return "reconnect" }
func (*Offer) ResponseType() string                   { return "offer" }
func (*Answer) ResponseType() string                  { return "answer" }
func (*Trickle) ResponseType() string                 { return "trickle" }
func (*Leave) ResponseType() string                   { return "leave" }
func (*TrackPublished) ResponseType() string          { return "track_published" }
func (*ParticipantUpdate) ResponseType() string       { return "update" }
func (*SpeakersChanged) ResponseType() string         { return "speakers_changed" }
func (*ConnectionQualityUpdate) ResponseType() string { return "connection_quality" }
func (*RoomUpdate) ResponseType() string              { return "room_update" }
func (*RefreshToken) ResponseType() string            { return "refresh_token" }

var requestTypes = map[string]func() Request{
	"offer":        func() Request { return &Offer{} },
	"answer":       func() Request { return &Answer{} },
	"trickle":      func() Request { return &Trickle{} },
	"add_track":    func() Request { return &AddTrackRequest{} },
	"mute":         func() Request { return &MuteTrackRequest{} },
	"subscription": func() Request { return &UpdateSubscription{} },
	"leave":        func() Request { return &Leave{} },
	"simulate":     func() Request { return &Simulate{} },
}

var responseTypes = map[string]func() Response{
	"join":               func() Response { return &JoinResponse{} },
	"reconnect":          func() Response { return &ReconnectResponse{} },
	"offer":              func() Response { return &Offer{} },
	"answer":             func() Response { return &Answer{} },
	"trickle":            func() Response { return &Trickle{} },
	"leave":              func() Response { return &Leave{} },
	"track_published":    func() Response { return &TrackPublished{} },
	"update":             func() Response { return &ParticipantUpdate{} },
	"speakers_changed":   func() Response { return &SpeakersChanged{} },
	"connection_quality": func() Response { return &ConnectionQualityUpdate{} },
	"room_update":        func() Response { return &RoomUpdate{} },
	"refresh_token":      func() Response { return &RefreshToken{} },
}

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func encode(typ string, v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", typ, err)
	}
	return json.Marshal(envelope{Type: typ, Payload: payload})
}

func decode[T any](data []byte, types map[string]func() T) (T, error) {
	var zero T
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return zero, fmt.Errorf("bad json: %w", err)
	}
	newMsg, ok := types[env.Type]
	if !ok {
		return zero, fmt.Errorf("%w: %q", ErrUnknownMessage, env.Type)
	}
	msg := newMsg()
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, msg); err != nil {
			return zero, fmt.Errorf("bad %s payload: %w", env.Type, err)
		}
	}
	return msg, nil
}

func EncodeRequest(r Request) ([]byte, error) { return encode(r.RequestType(), r) }

func EncodeResponse(r Response) ([]byte, error) { return encode(r.ResponseType(), r) }

func DecodeRequest(data []byte) (Request, error) { return decode(data, requestTypes) }

func DecodeResponse(data []byte) (Response, error) { return decode(data, responseTypes) }
