package core

import (
	"github.com/pion/webrtc/v4"
)

// PeerConnection is the native peer connection the session drives.
// Callbacks fire on arbitrary goroutines and must not block.
type PeerConnection interface {
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	// RemoteDescription returns the pending remote description if any, else the current one.
	RemoteDescription() *webrtc.SessionDescription
	CurrentRemoteDescription() *webrtc.SessionDescription
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	SignalingState() webrtc.SignalingState
	ICEConnectionState() webrtc.ICEConnectionState
	SetConfiguration(cfg webrtc.Configuration) error

	CreateDataChannel(label string, init *webrtc.DataChannelInit) (DataChannel, error)
	AddTransceiverFromTrack(track webrtc.TrackLocal, init webrtc.RTPTransceiverInit) (RTPTransceiver, error)
	RemoveTrack(sender *webrtc.RTPSender) error

	// OnICECandidate receives nil once gathering is complete.
	OnICECandidate(fn func(*webrtc.ICECandidateInit))
	OnConnectionStateChange(fn func(webrtc.PeerConnectionState))
	OnDataChannel(fn func(DataChannel))
	OnTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	OnNegotiationNeeded(fn func())

	Close() error
}

// DataChannel is satisfied by *webrtc.DataChannel.
type DataChannel interface {
	Label() string
	ReadyState() webrtc.DataChannelState
	Send(data []byte) error
	OnMessage(fn func(msg webrtc.DataChannelMessage))
	OnOpen(fn func())
	Close() error
}

// RTPTransceiver is satisfied by *webrtc.RTPTransceiver.
type RTPTransceiver interface {
	Kind() webrtc.RTPCodecType
	Sender() *webrtc.RTPSender
	SetCodecPreferences(codecs []webrtc.RTPCodecParameters) error
}

// PeerConnectionFactory is the long-lived object that creates peer connections.
// One instance is owned by the engine and passed down to every session.
type PeerConnectionFactory interface {
	NewPeerConnection(cfg webrtc.Configuration) (PeerConnection, error)
	// SenderCapabilities lists the codecs the factory can send for kind.
	SenderCapabilities(kind webrtc.RTPCodecType) []webrtc.RTPCodecParameters
}
