package rtc

import (
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/rtcengine/internal/core"
)

// Connection adapts *webrtc.PeerConnection to core.PeerConnection.
type Connection struct {
	pc  *webrtc.PeerConnection
	log zerolog.Logger
}

var _ core.PeerConnection = (*Connection)(nil)

func newConnection(pc *webrtc.PeerConnection) *Connection {
	c := &Connection{
		pc:  pc,
		log: log.With().Str("module", "webrtc").Logger(),
	}
	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		c.log.Debug().Str("ice_state", s.String()).Msg("ICE state")
	})
	pc.OnSignalingStateChange(func(s webrtc.SignalingState) {
		c.log.Trace().Str("signaling_state", s.String()).Msg("signaling state")
	})
	return c
}

func (c *Connection) CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	return c.pc.CreateOffer(options)
}

func (c *Connection) CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	return c.pc.CreateAnswer(options)
}

func (c *Connection) SetLocalDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetLocalDescription(desc)
}

func (c *Connection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(desc)
}

func (c *Connection) LocalDescription() *webrtc.SessionDescription { return c.pc.LocalDescription() }

func (c *Connection) RemoteDescription() *webrtc.SessionDescription { return c.pc.RemoteDescription() }

func (c *Connection) CurrentRemoteDescription() *webrtc.SessionDescription {
	return c.pc.CurrentRemoteDescription()
}

func (c *Connection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

func (c *Connection) SignalingState() webrtc.SignalingState { return c.pc.SignalingState() }

func (c *Connection) ICEConnectionState() webrtc.ICEConnectionState {
	return c.pc.ICEConnectionState()
}

func (c *Connection) SetConfiguration(cfg webrtc.Configuration) error {
	return c.pc.SetConfiguration(cfg)
}

func (c *Connection) CreateDataChannel(label string, init *webrtc.DataChannelInit) (core.DataChannel, error) {
	dc, err := c.pc.CreateDataChannel(label, init)
	if err != nil {
		return nil, err
	}
	return dc, nil
}

func (c *Connection) AddTransceiverFromTrack(track webrtc.TrackLocal, init webrtc.RTPTransceiverInit) (core.RTPTransceiver, error) {
	tr, err := c.pc.AddTransceiverFromTrack(track, init)
	if err != nil {
		return nil, err
	}
	return tr, nil
}

func (c *Connection) RemoveTrack(sender *webrtc.RTPSender) error {
	return c.pc.RemoveTrack(sender)
}

func (c *Connection) OnICECandidate(fn func(*webrtc.ICECandidateInit)) {
	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			fn(nil)
			return
		}
		ci := cand.ToJSON()
		fn(&ci)
	})
}

func (c *Connection) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.log.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		fn(s)
	})
}

func (c *Connection) OnDataChannel(fn func(core.DataChannel)) {
	c.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		c.log.Debug().Str("label", dc.Label()).Msg("remote data channel")
		fn(dc)
	})
}

func (c *Connection) OnTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	c.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		c.log.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		fn(track, receiver)
	})
}

func (c *Connection) OnNegotiationNeeded(fn func()) { c.pc.OnNegotiationNeeded(fn) }

func (c *Connection) Close() error {
	if err := c.pc.Close(); err != nil {
		c.log.Error().Err(err).Msg("close error")
		return err
	}
	c.log.Debug().Msg("closed")
	return nil
}
