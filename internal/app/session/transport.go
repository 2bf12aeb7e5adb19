package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/bep/debounce"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/rtcengine/internal/core"
	"github.com/dkeye/rtcengine/internal/protocol"
)

const negotiationFrequency = 150 * time.Millisecond

// PeerTransport wraps one peer connection and owns its offer/answer
// bookkeeping: remote candidates queued until a remote description exists,
// and offers deferred while a previous one is unanswered.
type PeerTransport struct {
	target protocol.SignalTarget
	pc     core.PeerConnection
	log    zerolog.Logger

	debounced   func(f func())
	negotiating atomic.Bool

	mu                sync.Mutex
	pendingCandidates []webrtc.ICECandidateInit
	restartingICE     bool
	iceRestartPending bool
	renegotiate       bool
	onOffer           func(webrtc.SessionDescription)
	closed            bool
}

func NewPeerTransport(target protocol.SignalTarget, pc core.PeerConnection) *PeerTransport {
	return &PeerTransport{
		target:    target,
		pc:        pc,
		log:       log.With().Str("module", "transport").Str("target", target.String()).Logger(),
		debounced: debounce.New(negotiationFrequency),
	}
}

func (t *PeerTransport) Target() protocol.SignalTarget { return t.target }

func (t *PeerTransport) PeerConnection() core.PeerConnection { return t.pc }

// OnOffer sets the callback receiving every local offer once it is applied.
func (t *PeerTransport) OnOffer(fn func(webrtc.SessionDescription)) {
	t.mu.Lock()
	t.onOffer = fn
	t.mu.Unlock()
}

func (t *PeerTransport) IsConnected() bool {
	switch t.pc.ICEConnectionState() {
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		return true
	}
	return false
}

func (t *PeerTransport) ICEConnectionState() webrtc.ICEConnectionState {
	return t.pc.ICEConnectionState()
}

// AddICECandidate applies a remote candidate, or queues it until the next
// remote description when none is set yet or an ICE restart is in progress.
func (t *PeerTransport) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pc.RemoteDescription() != nil && !t.restartingICE {
		return rtcError("add ice candidate", t.pc.AddICECandidate(candidate))
	}
	t.pendingCandidates = append(t.pendingCandidates, candidate)
	return nil
}

func (t *PeerTransport) SetRemoteDescription(desc webrtc.SessionDescription) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.setRemoteDescriptionLocked(desc)
}

func (t *PeerTransport) setRemoteDescriptionLocked(desc webrtc.SessionDescription) error {
	if err := t.pc.SetRemoteDescription(desc); err != nil {
		return rtcError("set remote description", err)
	}

	pending := t.pendingCandidates
	t.pendingCandidates = nil
	for _, c := range pending {
		if err := t.pc.AddICECandidate(c); err != nil {
			t.log.Warn().Err(err).Str("candidate", c.Candidate).Msg("failed to add queued ice candidate")
		}
	}
	t.restartingICE = false

	if t.renegotiate {
		t.renegotiate = false
		return t.createAndSendOfferLocked(nil)
	}
	return nil
}

// CreateAnswer applies offer and answers it. A failure after the remote
// description is set is returned as is; nothing is rolled back.
func (t *PeerTransport) CreateAnswer(offer webrtc.SessionDescription, options *webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.setRemoteDescriptionLocked(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	answer, err := t.pc.CreateAnswer(options)
	if err != nil {
		return webrtc.SessionDescription{}, rtcError("create answer", err)
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, rtcError("set local description", err)
	}
	return answer, nil
}

// Negotiate creates and applies a new offer. A call made while another is
// in flight is a no-op; the offer deferred by the first one covers both.
func (t *PeerTransport) Negotiate() error {
	if !t.negotiating.CompareAndSwap(false, true) {
		return nil
	}
	defer t.negotiating.Store(false)
	return t.CreateAndSendOffer(nil)
}

// NegotiationNeeded schedules Negotiate, collapsing bursts of requests.
func (t *PeerTransport) NegotiationNeeded() {
	t.debounced(func() {
		t.mu.Lock()
		closed := t.closed
		t.mu.Unlock()
		if closed {
			return
		}
		if err := t.Negotiate(); err != nil {
			t.log.Error().Err(err).Msg("debounced negotiation failed")
		}
	})
}

func (t *PeerTransport) CreateAndSendOffer(options *webrtc.OfferOptions) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.createAndSendOfferLocked(options)
}

func (t *PeerTransport) createAndSendOfferLocked(options *webrtc.OfferOptions) error {
	if t.iceRestartPending && (options == nil || !options.ICERestart) {
		options = &webrtc.OfferOptions{ICERestart: true}
	}
	t.iceRestartPending = false
	iceRestart := options != nil && options.ICERestart
	if iceRestart {
		t.log.Debug().Msg("restarting ICE")
		t.restartingICE = true
	}

	if t.pc.SignalingState() == webrtc.SignalingStateHaveLocalOffer {
		if !iceRestart {
			t.renegotiate = true
			return nil
		}
		if remote := t.pc.CurrentRemoteDescription(); remote != nil {
			if err := t.pc.SetRemoteDescription(*remote); err != nil {
				return rtcError("reapply remote description", err)
			}
		} else {
			t.log.Warn().Msg("ICE restart without a remote description")
		}
	}

	offer, err := t.pc.CreateOffer(options)
	if err != nil {
		return rtcError("create offer", err)
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return rtcError("set local description", err)
	}
	if t.onOffer != nil {
		t.onOffer(offer)
	}
	return nil
}

// PrepareICERestart makes the next offer an ICE restart and holds remote
// candidates back until the next remote description, which carries the new
// ICE credentials.
func (t *PeerTransport) PrepareICERestart() {
	t.mu.Lock()
	t.restartingICE = true
	t.iceRestartPending = true
	t.mu.Unlock()
}

func (t *PeerTransport) SetConfiguration(cfg webrtc.Configuration) error {
	return rtcError("set configuration", t.pc.SetConfiguration(cfg))
}

func (t *PeerTransport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.pendingCandidates = nil
	t.mu.Unlock()

	if err := t.pc.Close(); err != nil {
		t.log.Error().Err(err).Msg("close error")
	}
}
