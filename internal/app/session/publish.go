package session

import (
	"context"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/rtcengine/internal/core"
	"github.com/dkeye/rtcengine/internal/domain"
	"github.com/dkeye/rtcengine/internal/protocol"
)

type TrackPublishOptions struct {
	Name   string
	Source domain.TrackSource
	// VideoCodec is the preferred codec name for video tracks, e.g. "h264" or "vp8".
	VideoCodec string
}

// AddTrack announces a local track and waits for the server to acknowledge it.
// The cid is reusable once the call returns.
func (s *Session) AddTrack(ctx context.Context, req *protocol.AddTrackRequest) (domain.TrackInfo, error) {
	if s.closed.Load() {
		return domain.TrackInfo{}, ErrClosed
	}
	ack := make(chan domain.TrackInfo, 1)
	s.pendingMu.Lock()
	if _, ok := s.pendingTracks[req.CID]; ok {
		s.pendingMu.Unlock()
		return domain.TrackInfo{}, fmt.Errorf("add track %s: %w", req.CID, ErrTrackAlreadyPublished)
	}
	s.pendingTracks[req.CID] = ack
	s.pendingMu.Unlock()

	defer s.removePendingTrack(req.CID, ack)

	s.signal.Send(req)

	timer := time.NewTimer(s.timeouts.TrackPublish)
	defer timer.Stop()

	select {
	case info := <-ack:
		s.log.Debug().Str("cid", req.CID).Str("track", string(info.SID)).Msg("track published")
		return info, nil
	case <-timer.C:
		return domain.TrackInfo{}, fmt.Errorf("add track %s: %w", req.CID, ErrConnectionTimeout)
	case <-ctx.Done():
		return domain.TrackInfo{}, ctx.Err()
	case <-s.closeCh:
		return domain.TrackInfo{}, fmt.Errorf("add track %s: %w", req.CID, ErrCancelled)
	}
}

func (s *Session) removePendingTrack(cid string, ack chan domain.TrackInfo) {
	s.pendingMu.Lock()
	if s.pendingTracks[cid] == ack {
		delete(s.pendingTracks, cid)
	}
	s.pendingMu.Unlock()
}

func (s *Session) resolvePendingTrack(cid string, info domain.TrackInfo) {
	s.pendingMu.Lock()
	ack, ok := s.pendingTracks[cid]
	delete(s.pendingTracks, cid)
	s.pendingMu.Unlock()
	if !ok {
		s.log.Warn().Str("cid", cid).Msg("track published without a pending request")
		return
	}
	ack <- info
}

// CreateSender adds a send-only transceiver for track to the publisher. For
// video the codec preferences are reordered around opts.VideoCodec.
func (s *Session) CreateSender(track webrtc.TrackLocal, opts TrackPublishOptions, encodings []webrtc.RTPEncodingParameters) (core.RTPTransceiver, error) {
	init := webrtc.RTPTransceiverInit{
		Direction:     webrtc.RTPTransceiverDirectionSendonly,
		SendEncodings: encodings,
	}
	tr, err := s.publisher.PeerConnection().AddTransceiverFromTrack(track, init)
	if err != nil {
		return nil, rtcError("add transceiver", err)
	}
	if track.Kind() == webrtc.RTPCodecTypeVideo && opts.VideoCodec != "" {
		caps := s.factory.SenderCapabilities(webrtc.RTPCodecTypeVideo)
		if err := tr.SetCodecPreferences(sortCodecPreferences(caps, opts.VideoCodec)); err != nil {
			return nil, rtcError("set codec preferences", err)
		}
	}
	s.log.Debug().Str("track", track.ID()).Str("kind", track.Kind().String()).Msg("sender created")
	return tr, nil
}

func (s *Session) RemoveTrack(sender *webrtc.RTPSender) error {
	return rtcError("remove track", s.publisher.PeerConnection().RemoveTrack(sender))
}

func (s *Session) MuteTrack(sid domain.TrackSID, muted bool) {
	s.signal.Send(&protocol.MuteTrackRequest{SID: sid, Muted: muted})
}

func (s *Session) UpdateSubscription(sids []domain.TrackSID, subscribe bool) {
	s.signal.Send(&protocol.UpdateSubscription{TrackSIDs: sids, Subscribe: subscribe})
}

// SendRequest hands an arbitrary request to the signaling channel.
func (s *Session) SendRequest(req protocol.Request) {
	s.signal.Send(req)
}

// NegotiatePublisher marks the session as publishing and offers right away.
func (s *Session) NegotiatePublisher() error {
	s.hasPublished.Store(true)
	if err := s.publisher.Negotiate(); err != nil {
		s.log.Error().Err(err).Msg("publisher negotiation failed")
		return err
	}
	return nil
}

// PublisherNegotiationNeeded is the debounced variant of NegotiatePublisher.
func (s *Session) PublisherNegotiationNeeded() {
	s.hasPublished.Store(true)
	s.publisher.NegotiationNeeded()
}

func (s *Session) dataChannel(kind protocol.DataPacketKind) core.DataChannel {
	if kind == protocol.KindLossy {
		return s.lossyDC
	}
	return s.reliableDC
}

// EnsurePublisherConnected negotiates the publisher on demand when the
// subscriber is primary, then waits for the publisher and the data channel
// of kind to be usable.
func (s *Session) EnsurePublisherConnected(ctx context.Context, kind protocol.DataPacketKind) error {
	if s.info.Join.SubscriberPrimary && !s.publisher.IsConnected() &&
		s.publisher.ICEConnectionState() != webrtc.ICEConnectionStateChecking {
		if err := s.NegotiatePublisher(); err != nil {
			return err
		}
	}

	dc := s.dataChannel(kind)
	ready := func() bool {
		return s.publisher.IsConnected() && dc.ReadyState() == webrtc.DataChannelStateOpen
	}
	if ready() {
		return nil
	}
	if err := s.waitUntil(ctx, s.timeouts.ICEConnect, ready); err != nil {
		return fmt.Errorf("publisher %s channel: %w", kind, err)
	}
	return nil
}

func (s *Session) PublishData(ctx context.Context, pkt *protocol.DataPacket) error {
	if err := s.EnsurePublisherConnected(ctx, pkt.Kind); err != nil {
		return err
	}
	b, err := protocol.MarshalDataPacket(pkt)
	if err != nil {
		return err
	}
	if err := s.dataChannel(pkt.Kind).Send(b); err != nil {
		return fmt.Errorf("%w: send %s: %w", ErrDataChannel, pkt.Kind, err)
	}
	return nil
}
