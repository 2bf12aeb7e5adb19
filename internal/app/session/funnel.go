package session

import (
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/rtcengine/internal/core"
	"github.com/dkeye/rtcengine/internal/protocol"
)

// rtcEvent is a native callback turned into a message for the session loop.
type rtcEvent interface {
	isRTCEvent()
}

type iceCandidateEvent struct {
	candidate webrtc.ICECandidateInit
	target    protocol.SignalTarget
}

type connectionChangeEvent struct {
	state   webrtc.PeerConnectionState
	target  protocol.SignalTarget
	primary bool
}

type dataChannelEvent struct {
	channel core.DataChannel
	target  protocol.SignalTarget
}

type offerEvent struct {
	offer webrtc.SessionDescription
}

type dataEvent struct {
	data   []byte
	binary bool
}

type trackEvent struct {
	track    *webrtc.TrackRemote
	receiver *webrtc.RTPReceiver
}

type negotiationNeededEvent struct {
	target protocol.SignalTarget
}

func (iceCandidateEvent) isRTCEvent()      {}
func (connectionChangeEvent) isRTCEvent()  {}
func (dataChannelEvent) isRTCEvent()       {}
func (offerEvent) isRTCEvent()             {}
func (dataEvent) isRTCEvent()              {}
func (trackEvent) isRTCEvent()             {}
func (negotiationNeededEvent) isRTCEvent() {}

// forwardTransportEvents registers callbacks on t that only push to q.
// Once q is closed the pushes are dropped.
func forwardTransportEvents(t *PeerTransport, primary bool, q *core.Queue[rtcEvent]) {
	target := t.Target()
	pc := t.PeerConnection()

	pc.OnICECandidate(func(c *webrtc.ICECandidateInit) {
		if c == nil {
			return
		}
		q.Push(iceCandidateEvent{candidate: *c, target: target})
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		q.Push(connectionChangeEvent{state: state, target: target, primary: primary})
	})
	pc.OnDataChannel(func(dc core.DataChannel) {
		forwardDataEvents(dc, q)
		q.Push(dataChannelEvent{channel: dc, target: target})
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		q.Push(trackEvent{track: track, receiver: receiver})
	})
	pc.OnNegotiationNeeded(func() {
		q.Push(negotiationNeededEvent{target: target})
	})
	if target == protocol.Publisher {
		t.OnOffer(func(offer webrtc.SessionDescription) {
			q.Push(offerEvent{offer: offer})
		})
	}
}

func forwardDataEvents(dc core.DataChannel, q *core.Queue[rtcEvent]) {
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		q.Push(dataEvent{data: msg.Data, binary: !msg.IsString})
	})
}
