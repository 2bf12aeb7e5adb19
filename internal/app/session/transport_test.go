package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/rtcengine/internal/core/coretest"
	"github.com/dkeye/rtcengine/internal/protocol"
)

func candidate(n int) webrtc.ICECandidateInit {
	mid := "0"
	idx := uint16(0)
	return webrtc.ICECandidateInit{
		Candidate:     "candidate:" + string(rune('0'+n)) + " 1 udp 2130706431 10.0.0.1 5000 typ host",
		SDPMid:        &mid,
		SDPMLineIndex: &idx,
	}
}

var remoteAnswer = webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "remote-answer"}

type offerRecorder struct {
	mu     sync.Mutex
	offers []webrtc.SessionDescription
}

func (r *offerRecorder) record(o webrtc.SessionDescription) {
	r.mu.Lock()
	r.offers = append(r.offers, o)
	r.mu.Unlock()
}

func (r *offerRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.offers)
}

func countCalls(log *coretest.CallLog, call string) int {
	n := 0
	for _, c := range log.Calls() {
		if c == call {
			n++
		}
	}
	return n
}

func TestTransportQueuesCandidatesUntilRemoteDescription(t *testing.T) {
	pc := coretest.NewPeerConnection("publisher", &coretest.CallLog{})
	tr := NewPeerTransport(protocol.Publisher, pc)

	require.NoError(t, tr.AddICECandidate(candidate(1)))
	require.NoError(t, tr.AddICECandidate(candidate(2)))
	assert.Empty(t, pc.Candidates())

	require.NoError(t, tr.CreateAndSendOffer(nil))
	require.NoError(t, tr.SetRemoteDescription(remoteAnswer))
	assert.Equal(t, []webrtc.ICECandidateInit{candidate(1), candidate(2)}, pc.Candidates())

	require.NoError(t, tr.AddICECandidate(candidate(3)))
	assert.Len(t, pc.Candidates(), 3)
}

func TestTransportDefersOfferWhileAwaitingAnswer(t *testing.T) {
	pc := coretest.NewPeerConnection("publisher", &coretest.CallLog{})
	tr := NewPeerTransport(protocol.Publisher, pc)
	rec := &offerRecorder{}
	tr.OnOffer(rec.record)

	require.NoError(t, tr.CreateAndSendOffer(nil))
	require.Equal(t, webrtc.SignalingStateHaveLocalOffer, pc.SignalingState())

	require.NoError(t, tr.Negotiate())
	assert.Len(t, pc.OfferOptions(), 1, "offer must wait for the answer")
	assert.Equal(t, 1, rec.count())

	require.NoError(t, tr.SetRemoteDescription(remoteAnswer))
	assert.Len(t, pc.OfferOptions(), 2)
	assert.Equal(t, 2, rec.count())
	assert.Equal(t, webrtc.SignalingStateHaveLocalOffer, pc.SignalingState())
}

func TestTransportICERestart(t *testing.T) {
	pc := coretest.NewPeerConnection("subscriber", &coretest.CallLog{})
	tr := NewPeerTransport(protocol.Subscriber, pc)

	require.NoError(t, tr.CreateAndSendOffer(nil))
	require.NoError(t, tr.SetRemoteDescription(remoteAnswer))

	tr.PrepareICERestart()
	require.NoError(t, tr.AddICECandidate(candidate(1)))
	assert.Empty(t, pc.Candidates(), "candidates for the old credentials must wait")

	require.NoError(t, tr.CreateAndSendOffer(nil))
	opts := pc.OfferOptions()
	require.Len(t, opts, 2)
	require.NotNil(t, opts[1])
	assert.True(t, opts[1].ICERestart)

	require.NoError(t, tr.SetRemoteDescription(remoteAnswer))
	assert.Equal(t, []webrtc.ICECandidateInit{candidate(1)}, pc.Candidates())

	require.NoError(t, tr.CreateAndSendOffer(nil))
	assert.Nil(t, pc.OfferOptions()[2], "restart applies to a single offer")
}

func TestTransportICERestartWithOfferInFlight(t *testing.T) {
	log := &coretest.CallLog{}
	pc := coretest.NewPeerConnection("publisher", log)
	tr := NewPeerTransport(protocol.Publisher, pc)

	require.NoError(t, tr.CreateAndSendOffer(nil))
	require.NoError(t, tr.SetRemoteDescription(remoteAnswer))
	require.NoError(t, tr.CreateAndSendOffer(nil))

	require.NoError(t, tr.CreateAndSendOffer(&webrtc.OfferOptions{ICERestart: true}))

	calls := log.Calls()
	require.GreaterOrEqual(t, len(calls), 3)
	assert.Equal(t, []string{
		"publisher.SetRemoteDescription",
		"publisher.CreateOffer",
		"publisher.SetLocalDescription",
	}, calls[len(calls)-3:])
	assert.True(t, pc.OfferOptions()[2].ICERestart)
}

func TestTransportCreateAnswer(t *testing.T) {
	log := &coretest.CallLog{}
	pc := coretest.NewPeerConnection("subscriber", log)
	tr := NewPeerTransport(protocol.Subscriber, pc)

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "remote-offer"}
	answer, err := tr.CreateAnswer(offer, nil)
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeAnswer, answer.Type)
	assert.Equal(t, "answer-subscriber-1", answer.SDP)
	assert.Equal(t, []string{
		"subscriber.SetRemoteDescription",
		"subscriber.CreateAnswer",
		"subscriber.SetLocalDescription",
	}, log.Calls())
	assert.Equal(t, webrtc.SignalingStateStable, pc.SignalingState())
}

func TestTransportCreateAnswerFailureKeepsRemoteDescription(t *testing.T) {
	pc := coretest.NewPeerConnection("subscriber", &coretest.CallLog{})
	tr := NewPeerTransport(protocol.Subscriber, pc)
	boom := errors.New("boom")
	pc.FailCreateAnswer(boom)

	_, err := tr.CreateAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "remote-offer"}, nil)
	require.ErrorIs(t, err, boom)
	var rtcErr *RTCError
	require.ErrorAs(t, err, &rtcErr)
	assert.Equal(t, "create answer", rtcErr.Op)
	assert.NotNil(t, pc.RemoteDescription())
}

func TestTransportSetRemoteDescriptionError(t *testing.T) {
	pc := coretest.NewPeerConnection("publisher", &coretest.CallLog{})
	tr := NewPeerTransport(protocol.Publisher, pc)
	pc.FailSetRemote(errors.New("bad sdp"))

	err := tr.SetRemoteDescription(remoteAnswer)
	var rtcErr *RTCError
	require.ErrorAs(t, err, &rtcErr)
	assert.Equal(t, "set remote description", rtcErr.Op)
}

func TestTransportNegotiationNeededIsDebounced(t *testing.T) {
	pc := coretest.NewPeerConnection("publisher", &coretest.CallLog{})
	tr := NewPeerTransport(protocol.Publisher, pc)

	for range 5 {
		tr.NegotiationNeeded()
	}
	require.Eventually(t, func() bool { return len(pc.OfferOptions()) == 1 }, time.Second, 10*time.Millisecond)
	time.Sleep(2 * negotiationFrequency)
	assert.Len(t, pc.OfferOptions(), 1)
}

func TestTransportIsConnected(t *testing.T) {
	pc := coretest.NewPeerConnection("publisher", &coretest.CallLog{})
	tr := NewPeerTransport(protocol.Publisher, pc)

	assert.False(t, tr.IsConnected())
	pc.SetICEState(webrtc.ICEConnectionStateChecking)
	assert.False(t, tr.IsConnected())
	pc.SetICEState(webrtc.ICEConnectionStateCompleted)
	assert.True(t, tr.IsConnected())
	pc.SetICEState(webrtc.ICEConnectionStateConnected)
	assert.True(t, tr.IsConnected())
}

func TestTransportCloseIsIdempotent(t *testing.T) {
	log := &coretest.CallLog{}
	pc := coretest.NewPeerConnection("publisher", log)
	tr := NewPeerTransport(protocol.Publisher, pc)

	tr.Close()
	tr.Close()
	assert.Equal(t, 1, countCalls(log, "publisher.Close"))
	assert.True(t, pc.Closed())
}
