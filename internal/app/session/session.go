// Package session implements one RTC session: a publisher and a subscriber
// peer connection driven by a single loop that consumes signaling messages and
// native peer connection callbacks.
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/rtcengine/internal/core"
	"github.com/dkeye/rtcengine/internal/domain"
	"github.com/dkeye/rtcengine/internal/protocol"
)

const slowHandlerThreshold = 10 * time.Second

type Timeouts struct {
	ICEConnect   time.Duration
	TrackPublish time.Duration
	// PollInterval is the pause between checks while waiting for a connection.
	PollInterval time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		ICEConnect:   15 * time.Second,
		TrackPublish: 10 * time.Second,
		PollInterval: 50 * time.Millisecond,
	}
}

type Options struct {
	Signal core.SignalOptions
	// ICEServers replaces the servers of the join response when set.
	ICEServers         []webrtc.ICEServer
	ICETransportPolicy webrtc.ICETransportPolicy
	Timeouts           Timeouts
}

// Info is captured at connect time and never changes afterwards. The token
// the server refreshes later is available from Session.Token.
type Info struct {
	URL     string
	Token   string
	Options Options
	Join    *protocol.JoinResponse
}

type Session struct {
	info     Info
	log      zerolog.Logger
	factory  core.PeerConnectionFactory
	signal   core.SignalClient
	timeouts Timeouts

	publisher  *PeerTransport
	subscriber *PeerTransport
	lossyDC    core.DataChannel
	reliableDC core.DataChannel

	// inbound channels offered by the server on the subscriber
	dcMu          sync.Mutex
	subLossyDC    core.DataChannel
	subReliableDC core.DataChannel

	pendingMu     sync.Mutex
	pendingTracks map[string]chan domain.TrackInfo

	tokenMu sync.Mutex
	token   string

	state        stateCell
	hasPublished atomic.Bool
	closed       atomic.Bool

	rtcEvents *core.Queue[rtcEvent]
	events    *core.Queue[Event]

	closeOnce sync.Once
	closeCh   chan struct{}
	done      chan struct{}
}

// Connect joins through signal and builds both transports. The session owns
// signal from then on.
func Connect(ctx context.Context, factory core.PeerConnectionFactory, signal core.SignalClient, url, token string, opts Options) (*Session, error) {
	if opts.Timeouts == (Timeouts{}) {
		opts.Timeouts = DefaultTimeouts()
	}
	join, err := signal.Connect(ctx, url, token, opts.Signal)
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %w", ErrSignal, err)
	}

	s, err := newSession(factory, signal, Info{URL: url, Token: token, Options: opts, Join: join})
	if err != nil {
		signal.Close()
		return nil, err
	}
	s.log.Info().
		Str("room", string(join.Room.Name)).
		Bool("subscriber_primary", join.SubscriberPrimary).
		Str("server_version", join.ServerVersion).
		Msg("joined")

	go s.run()

	if !join.SubscriberPrimary {
		if err := s.NegotiatePublisher(); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

func newSession(factory core.PeerConnectionFactory, signal core.SignalClient, info Info) (*Session, error) {
	s := &Session{
		info:          info,
		log:           log.With().Str("module", "session").Str("sid", string(info.Join.Participant.SID)).Logger(),
		factory:       factory,
		signal:        signal,
		token:         info.Token,
		timeouts:      info.Options.Timeouts,
		pendingTracks: make(map[string]chan domain.TrackInfo),
		rtcEvents:     core.NewQueue[rtcEvent](),
		events:        core.NewQueue[Event](),
		closeCh:       make(chan struct{}),
		done:          make(chan struct{}),
	}

	cfg := rtcConfiguration(info.Join.ICEServers, info.Join.ClientConfiguration, info.Options)

	pubPC, err := factory.NewPeerConnection(cfg)
	if err != nil {
		return nil, rtcError("new publisher", err)
	}
	subPC, err := factory.NewPeerConnection(cfg)
	if err != nil {
		_ = pubPC.Close()
		return nil, rtcError("new subscriber", err)
	}
	s.publisher = NewPeerTransport(protocol.Publisher, pubPC)
	s.subscriber = NewPeerTransport(protocol.Subscriber, subPC)

	forwardTransportEvents(s.publisher, !info.Join.SubscriberPrimary, s.rtcEvents)
	forwardTransportEvents(s.subscriber, info.Join.SubscriberPrimary, s.rtcEvents)

	ordered := false
	retransmits := uint16(0)
	s.lossyDC, err = pubPC.CreateDataChannel(protocol.LossyLabel, &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: &retransmits,
	})
	if err != nil {
		s.closeTransports()
		return nil, rtcError("create lossy data channel", err)
	}
	reliableOrdered := true
	s.reliableDC, err = pubPC.CreateDataChannel(protocol.ReliableLabel, &webrtc.DataChannelInit{
		Ordered: &reliableOrdered,
	})
	if err != nil {
		s.closeTransports()
		return nil, rtcError("create reliable data channel", err)
	}
	forwardDataEvents(s.lossyDC, s.rtcEvents)
	forwardDataEvents(s.reliableDC, s.rtcEvents)

	return s, nil
}

func rtcConfiguration(servers []protocol.ICEServer, client protocol.ClientConfiguration, opts Options) webrtc.Configuration {
	cfg := webrtc.Configuration{
		ICEServers:         opts.ICEServers,
		ICETransportPolicy: opts.ICETransportPolicy,
	}
	if len(cfg.ICEServers) == 0 {
		for _, srv := range servers {
			ice := webrtc.ICEServer{URLs: srv.URLs, Username: srv.Username}
			if srv.Credential != "" {
				ice.Credential = srv.Credential
			}
			cfg.ICEServers = append(cfg.ICEServers, ice)
		}
	}
	if client.ForceRelay {
		cfg.ICETransportPolicy = webrtc.ICETransportPolicyRelay
	}
	return cfg
}

func (s *Session) Info() Info { return s.info }

// Token returns the most recent access token, refreshed by the server while
// the session runs.
func (s *Session) Token() string {
	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()
	return s.token
}

func (s *Session) PeerState() PeerState { return s.state.Load() }

// Events yields the session events. It is closed with the session.
func (s *Session) Events() *core.Queue[Event] { return s.events }

func (s *Session) HasPublished() bool { return s.hasPublished.Load() }

func (s *Session) Publisher() *PeerTransport { return s.publisher }

func (s *Session) Subscriber() *PeerTransport { return s.subscriber }

func (s *Session) primary() *PeerTransport {
	if s.info.Join.SubscriberPrimary {
		return s.subscriber
	}
	return s.publisher
}

func (s *Session) run() {
	defer close(s.done)
	signalEvents := s.signal.Events()
	for {
		select {
		case <-s.closeCh:
			return
		case ev, ok := <-signalEvents:
			if !ok {
				signalEvents = nil
				s.onDisconnected("signal stream ended", domain.DisconnectUnknown, true, false, false)
				continue
			}
			start := time.Now()
			s.handleSignalEvent(ev)
			s.warnIfSlow(start, "signal "+ev.Kind.String())
		case <-s.rtcEvents.Ready():
			for {
				ev, ok := s.rtcEvents.Pop()
				if !ok {
					break
				}
				start := time.Now()
				if err := s.handleRTCEvent(ev); err != nil {
					s.log.Error().Err(err).Msg("failed to handle rtc event")
				}
				s.warnIfSlow(start, fmt.Sprintf("rtc %T", ev))
			}
		}
	}
}

func (s *Session) warnIfSlow(start time.Time, what string) {
	if d := time.Since(start); d > slowHandlerThreshold {
		s.log.Warn().Dur("took", d).Str("event", what).Msg("event handler is taking too much time")
	}
}

func (s *Session) handleSignalEvent(ev core.SignalEvent) {
	switch ev.Kind {
	case core.SignalOpen:
		s.log.Debug().Msg("signal open")
	case core.SignalClose:
		s.log.Warn().Err(ev.Err).Msg("signal closed")
		s.onDisconnected("signal client closed", domain.DisconnectUnknown, true, false, false)
	case core.SignalMessage:
		if err := s.handleSignal(ev.Message); err != nil {
			s.log.Error().Err(err).Str("type", ev.Message.ResponseType()).Msg("failed to handle signal")
		}
	}
}

func (s *Session) handleSignal(msg protocol.Response) error {
	switch m := msg.(type) {
	case *protocol.Answer:
		s.log.Debug().Msg("received publisher answer")
		desc, err := protocol.ParseSessionDescription(m.Type, m.SDP)
		if err != nil {
			return err
		}
		return s.publisher.SetRemoteDescription(desc)

	case *protocol.Offer:
		s.log.Debug().Msg("received subscriber offer")
		desc, err := protocol.ParseSessionDescription(m.Type, m.SDP)
		if err != nil {
			return err
		}
		answer, err := s.subscriber.CreateAnswer(desc, nil)
		if err != nil {
			return err
		}
		s.signal.Send(&protocol.Answer{Type: answer.Type.String(), SDP: answer.SDP})

	case *protocol.Trickle:
		cand, err := protocol.UnmarshalCandidate(m.CandidateInit)
		if err != nil {
			return err
		}
		s.log.Trace().Str("target", m.Target.String()).Str("candidate", cand.Candidate).Msg("remote ice candidate")
		if m.Target == protocol.Publisher {
			return s.publisher.AddICECandidate(cand)
		}
		return s.subscriber.AddICECandidate(cand)

	case *protocol.Leave:
		s.log.Info().Str("reason", m.Reason.String()).Bool("can_reconnect", m.CanReconnect).Msg("server asked to leave")
		s.onDisconnected("server request to leave", m.Reason, m.CanReconnect, true, true)

	case *protocol.ParticipantUpdate:
		s.emit(&ParticipantUpdateEvent{Participants: m.Participants})

	case *protocol.SpeakersChanged:
		s.emit(&SpeakersChangedEvent{Speakers: m.Speakers})

	case *protocol.ConnectionQualityUpdate:
		s.emit(&ConnectionQualityEvent{Updates: m.Updates})

	case *protocol.RoomUpdate:
		s.emit(&RoomUpdateEvent{Room: m.Room})

	case *protocol.TrackPublished:
		s.resolvePendingTrack(m.CID, m.Track)

	case *protocol.RefreshToken:
		s.log.Debug().Msg("access token refreshed")
		s.tokenMu.Lock()
		s.token = m.Token
		s.tokenMu.Unlock()

	default:
		s.log.Debug().Str("type", msg.ResponseType()).Msg("ignored signal message")
	}
	return nil
}

func (s *Session) handleRTCEvent(ev rtcEvent) error {
	switch e := ev.(type) {
	case iceCandidateEvent:
		init, err := protocol.MarshalCandidate(e.candidate)
		if err != nil {
			return err
		}
		go s.signal.Send(&protocol.Trickle{CandidateInit: init, Target: e.target})

	case connectionChangeEvent:
		s.log.Info().Str("target", e.target.String()).Str("state", e.state.String()).Msg("connection state changed")
		switch {
		case e.primary && e.state == webrtc.PeerConnectionStateConnected:
			if prev, ok := s.state.Set(PeerStateConnected); ok && prev == PeerStateNew {
				s.emit(&ConnectedEvent{})
			}
		case e.state == webrtc.PeerConnectionStateFailed:
			s.state.Set(PeerStateDisconnected)
			s.onDisconnected("peer connection failed", domain.DisconnectUnknown, true, false, false)
		}

	case dataChannelEvent:
		s.dcMu.Lock()
		switch e.channel.Label() {
		case protocol.LossyLabel:
			s.subLossyDC = e.channel
		case protocol.ReliableLabel:
			s.subReliableDC = e.channel
		default:
			s.log.Warn().Str("label", e.channel.Label()).Msg("unknown data channel label")
		}
		s.dcMu.Unlock()

	case offerEvent:
		go s.signal.Send(&protocol.Offer{Type: e.offer.Type.String(), SDP: e.offer.SDP})

	case dataEvent:
		return s.handleData(e)

	case trackEvent:
		s.emit(&MediaTrackEvent{Track: e.track, Receiver: e.receiver})

	case negotiationNeededEvent:
		if e.target == protocol.Publisher && s.hasPublished.Load() {
			s.publisher.NegotiationNeeded()
		}
	}
	return nil
}

func (s *Session) handleData(e dataEvent) error {
	if !e.binary {
		return fmt.Errorf("%w: text message", ErrUnsupportedData)
	}
	pkt, err := protocol.UnmarshalDataPacket(e.data)
	if err != nil {
		return fmt.Errorf("decode data packet: %w", err)
	}
	switch v := pkt.Value.(type) {
	case *protocol.UserPacket:
		s.emit(&DataEvent{
			ParticipantSID:  v.ParticipantSID,
			Payload:         v.Payload,
			Topic:           v.Topic,
			Kind:            pkt.Kind,
			DestinationSIDs: v.DestinationSIDs,
		})
	case *protocol.SpeakerPacket:
		s.log.Trace().Int("speakers", len(v.Speakers)).Msg("speaker update over data channel")
	default:
		s.log.Debug().Msg("data packet without a known value")
	}
	return nil
}

func (s *Session) emit(ev Event) {
	s.events.Push(ev)
}

func (s *Session) onDisconnected(source string, reason domain.DisconnectReason, canReconnect, retryNow, fullReconnect bool) {
	if s.closed.Load() {
		return
	}
	s.emit(&CloseEvent{
		Source:        source,
		Reason:        reason,
		CanReconnect:  canReconnect,
		RetryNow:      retryNow,
		FullReconnect: fullReconnect,
	})
}

// Close leaves the room and releases both transports. Pending operations
// fail with ErrCancelled.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.closeCh)
		<-s.done

		s.signal.Send(&protocol.Leave{CanReconnect: false, Reason: domain.DisconnectClientInitiated})
		s.state.Set(PeerStateClosed)
		s.signal.Close()
		s.rtcEvents.Close()
		s.closeTransports()
		s.events.Close()
		s.log.Info().Msg("session closed")
	})
}

func (s *Session) closeTransports() {
	s.publisher.Close()
	s.subscriber.Close()
}
