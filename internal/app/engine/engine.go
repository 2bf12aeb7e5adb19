// Package engine keeps an RTC session alive across failures: it resumes the
// current session when possible, replaces it otherwise and republishes the
// local tracks.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/rtcengine/internal/app/session"
	"github.com/dkeye/rtcengine/internal/core"
	"github.com/dkeye/rtcengine/internal/domain"
	"github.com/dkeye/rtcengine/internal/protocol"
)

var (
	ErrClosed             = errors.New("engine closed")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	ErrUnknownTrack       = errors.New("unknown track")

	errFullReconnectRequested = errors.New("full reconnect requested")
)

const (
	strategyResume = "resume"
	strategyFull   = "full"
)

type Params struct {
	URL     string
	Token   string
	Session session.Options
	// Policy defaults to DefaultPolicy.
	Policy          RetryPolicy
	Factory         core.PeerConnectionFactory
	NewSignalClient func() core.SignalClient
	Metrics         *Metrics
}

type Engine struct {
	params  Params
	log     zerolog.Logger
	state   *fsm.FSM
	tracks  *trackRegistry
	metrics *Metrics
	events  *core.Queue[session.Event]

	mu            sync.Mutex
	session       *session.Session
	stopPump      context.CancelFunc
	pumpDone      chan struct{}
	reconnecting  bool
	reconnectDone chan struct{}
	fullReconnect bool
	// token of the last terminated session, guarded by mu. The live
	// session holds the current one.
	token string

	connectedOnce atomic.Bool
	retryNow      chan struct{}

	ctx       context.Context
	cancel    context.CancelFunc
	closed    atomic.Bool
	closeOnce sync.Once
	closeCh   chan struct{}
}

// Connect joins the room and returns once the primary transport is connected.
func Connect(ctx context.Context, p Params) (*Engine, error) {
	if p.Policy == nil {
		p.Policy = DefaultPolicy()
	}
	e := &Engine{
		params:   p,
		log:      log.With().Str("module", "engine").Logger(),
		tracks:   newTrackRegistry(),
		metrics:  p.Metrics,
		events:   core.NewQueue[session.Event](),
		token:    p.Token,
		retryNow: make(chan struct{}, 1),
		closeCh:  make(chan struct{}),
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.state = newConnState(e.onStateChange)
	e.metrics.setState(StateDisconnected)

	if err := fire(e.state, eventConnect); err != nil {
		return nil, err
	}
	sess, err := e.connectSession(ctx)
	if err == nil {
		if err = sess.WaitPCConnection(ctx); err != nil {
			sess.Close()
		}
	}
	if err != nil {
		e.cancel()
		_ = fire(e.state, eventDisconnect)
		return nil, fmt.Errorf("connect %s: %w", p.URL, err)
	}
	// connected before the pump starts: a close event relayed by the pump
	// may move the state machine on right away
	if err := fire(e.state, eventConnected); err != nil {
		sess.Close()
		e.cancel()
		return nil, err
	}
	if err := e.setSession(sess); err != nil {
		e.cancel()
		_ = fire(e.state, eventDisconnect)
		return nil, fmt.Errorf("connect %s: %w", p.URL, err)
	}
	return e, nil
}

func (e *Engine) onStateChange(from, to string) {
	e.log.Info().Str("from", from).Str("to", to).Msg("state changed")
	e.metrics.setState(to)
}

// State is one of the State* constants.
func (e *Engine) State() string { return e.state.Current() }

// NextEvent waits for the next event. It returns false once the engine is
// closed and every event was delivered, or when ctx is done.
func (e *Engine) NextEvent(ctx context.Context) (session.Event, bool) {
	return e.events.Recv(ctx)
}

// Join returns the join response of the current session.
func (e *Engine) Join() *protocol.JoinResponse {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	return e.session.Info().Join
}

func (e *Engine) emit(ev session.Event) {
	e.events.Push(ev)
}

func (e *Engine) connectSession(ctx context.Context) (*session.Session, error) {
	signal := e.params.NewSignalClient()
	sess, err := session.Connect(ctx, e.params.Factory, signal, e.params.URL, e.currentToken(), e.params.Session)
	if err != nil {
		return nil, err
	}
	if e.closed.Load() {
		sess.Close()
		return nil, ErrClosed
	}
	return sess, nil
}

// currentToken returns the newest access token the server handed out.
func (e *Engine) currentToken() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != nil {
		return e.session.Token()
	}
	return e.token
}

// setSession installs sess as the current session and starts relaying its events.
func (e *Engine) setSession(sess *session.Session) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed.Load() {
		sess.Close()
		return ErrClosed
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	e.session = sess
	e.stopPump = cancel
	e.pumpDone = done
	go e.pump(ctx, sess, done)
	return nil
}

// terminateSession stops relaying and closes the current session. It must
// not be called from the pump goroutine.
func (e *Engine) terminateSession() {
	e.mu.Lock()
	sess, stop, done := e.session, e.stopPump, e.pumpDone
	e.session, e.stopPump, e.pumpDone = nil, nil, nil
	if sess != nil {
		e.token = sess.Token()
	}
	e.mu.Unlock()

	if stop != nil {
		stop()
		<-done
	}
	if sess != nil {
		sess.Close()
	}
}

func (e *Engine) pump(ctx context.Context, sess *session.Session, done chan struct{}) {
	defer close(done)
	for {
		ev, ok := sess.Events().Recv(ctx)
		if !ok {
			return
		}
		e.handleSessionEvent(ev)
	}
}

func (e *Engine) handleSessionEvent(ev session.Event) {
	switch ev := ev.(type) {
	case *session.CloseEvent:
		e.log.Warn().
			Str("source", ev.Source).
			Str("reason", ev.Reason.String()).
			Bool("can_reconnect", ev.CanReconnect).
			Bool("full", ev.FullReconnect).
			Msg("session closed")
		if !ev.CanReconnect {
			go e.close(ev.Reason)
			return
		}
		e.tryReconnect(ev.RetryNow, ev.FullReconnect)
	case *session.ConnectedEvent:
		if e.connectedOnce.CompareAndSwap(false, true) {
			e.emit(ev)
		}
	case *session.DataEvent:
		e.metrics.packet("in", ev.Kind.String())
		e.emit(ev)
	default:
		e.emit(ev)
	}
}

func (e *Engine) tryReconnect(retryNow, full bool) {
	if e.closed.Load() {
		return
	}
	e.mu.Lock()
	if full {
		e.fullReconnect = true
	}
	if e.reconnecting {
		e.mu.Unlock()
		if retryNow {
			select {
			case e.retryNow <- struct{}{}:
			default:
			}
		}
		return
	}
	e.reconnecting = true
	e.reconnectDone = make(chan struct{})
	// a retry request left over from the previous outage must not skip the
	// first delay of this one
	select {
	case <-e.retryNow:
	default:
	}
	e.mu.Unlock()

	go e.reconnectLoop()
}

func (e *Engine) reconnectLoop() {
	err := e.reconnect(e.ctx)

	e.mu.Lock()
	e.reconnecting = false
	e.fullReconnect = false
	done := e.reconnectDone
	e.mu.Unlock()

	if err != nil && !e.closed.Load() {
		e.log.Error().Err(err).Msg("failed to reconnect")
		e.close(domain.DisconnectUnknown)
	}
	close(done)
}

func (e *Engine) wantsFullReconnect() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fullReconnect
}

func (e *Engine) reconnect(ctx context.Context) error {
	if !e.wantsFullReconnect() {
		err := e.resumeLoop(ctx)
		if err == nil || ctx.Err() != nil {
			return err
		}
		e.log.Warn().Err(err).Msg("resume failed, falling back to full reconnect")
	}
	return e.fullReconnectLoop(ctx)
}

func (e *Engine) resumeLoop(ctx context.Context) error {
	if err := fire(e.state, eventResume); err != nil {
		return err
	}
	e.emit(&ResumingEvent{})

	for attempt := 0; ; attempt++ {
		delay, ok := e.params.Policy.NextDelay(attempt)
		if !ok {
			return ErrReconnectExhausted
		}
		if err := e.wait(ctx, delay); err != nil {
			return err
		}
		if e.wantsFullReconnect() {
			return errFullReconnectRequested
		}

		e.log.Info().Int("attempt", attempt).Msg("resuming session")
		e.metrics.attempt(strategyResume)
		err := e.resume(ctx)
		e.metrics.result(strategyResume, err)
		if err == nil {
			if err := e.markConnected(ctx); err != nil {
				return err
			}
			e.emit(&ResumedEvent{})
			return nil
		}
		e.log.Warn().Err(err).Int("attempt", attempt).Msg("resume attempt failed")
		if errors.Is(err, session.ErrSignal) || errors.Is(err, session.ErrClosed) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (e *Engine) resume(ctx context.Context) error {
	e.mu.Lock()
	sess := e.session
	e.mu.Unlock()
	if sess == nil {
		return session.ErrClosed
	}
	return sess.Restart(ctx)
}

func (e *Engine) fullReconnectLoop(ctx context.Context) error {
	if err := fire(e.state, eventRestart); err != nil {
		return err
	}
	e.emit(&RestartingEvent{})

	for attempt := 0; ; attempt++ {
		delay, ok := e.params.Policy.NextDelay(attempt)
		if !ok {
			return ErrReconnectExhausted
		}
		if err := e.wait(ctx, delay); err != nil {
			return err
		}

		e.log.Info().Int("attempt", attempt).Msg("restarting session")
		e.metrics.attempt(strategyFull)
		err := e.restartSession(ctx)
		e.metrics.result(strategyFull, err)
		if err == nil {
			if err := e.markConnected(ctx); err != nil {
				return err
			}
			e.emit(&RestartedEvent{})
			return nil
		}
		e.log.Warn().Err(err).Int("attempt", attempt).Msg("full reconnect attempt failed")
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (e *Engine) markConnected(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fire(e.state, eventConnected)
}

// restartSession replaces the current session with a new one and publishes
// the recorded tracks on it.
func (e *Engine) restartSession(ctx context.Context) error {
	e.terminateSession()

	sess, err := e.connectSession(ctx)
	if err != nil {
		return err
	}
	if err := sess.WaitPCConnection(ctx); err != nil {
		sess.Close()
		return err
	}
	if err := e.setSession(sess); err != nil {
		return err
	}
	if err := e.republish(ctx, sess); err != nil {
		return fmt.Errorf("republish: %w", err)
	}

	on, off := e.tracks.Subscriptions()
	if len(on) > 0 {
		sess.UpdateSubscription(on, true)
	}
	if len(off) > 0 {
		sess.UpdateSubscription(off, false)
	}
	return nil
}

func (e *Engine) republish(ctx context.Context, sess *session.Session) error {
	tracks := e.tracks.Snapshot()
	if len(tracks) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, t := range tracks {
		g.Go(func() error {
			req := t.Request
			info, err := sess.AddTrack(gctx, &req)
			if err != nil {
				return err
			}
			next := *t
			next.Info = info
			next.Transceiver = nil
			if t.Track != nil {
				tr, err := sess.CreateSender(t.Track, t.Options, t.Encodings)
				if err != nil {
					return err
				}
				next.Transceiver = tr
			}
			e.tracks.Put(&next)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	e.log.Info().Int("tracks", len(tracks)).Msg("republished tracks")
	return sess.NegotiatePublisher()
}

// wait sleeps for d unless a retry-now request, cancellation or close cuts it short.
func (e *Engine) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-e.retryNow:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// activeSession returns the current session, waiting for a reconnect in
// progress to finish first.
func (e *Engine) activeSession(ctx context.Context) (*session.Session, error) {
	for {
		if e.closed.Load() {
			return nil, ErrClosed
		}
		e.mu.Lock()
		sess, reconnecting, done := e.session, e.reconnecting, e.reconnectDone
		e.mu.Unlock()

		if !reconnecting {
			if sess == nil {
				return nil, ErrClosed
			}
			return sess, nil
		}
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-e.closeCh:
			return nil, ErrClosed
		}
	}
}

func trackKind(k webrtc.RTPCodecType) domain.TrackKind {
	if k == webrtc.RTPCodecTypeVideo {
		return domain.TrackVideo
	}
	return domain.TrackAudio
}

// PublishTrack announces track, attaches it to the publisher and records it
// so that it is published again after a full reconnect.
func (e *Engine) PublishTrack(ctx context.Context, track webrtc.TrackLocal, opts session.TrackPublishOptions, encodings []webrtc.RTPEncodingParameters) (domain.TrackInfo, error) {
	sess, err := e.activeSession(ctx)
	if err != nil {
		return domain.TrackInfo{}, err
	}
	cid := track.ID()
	if cid == "" {
		cid = uuid.NewString()
	}
	req := protocol.AddTrackRequest{
		CID:    cid,
		Name:   opts.Name,
		Type:   trackKind(track.Kind()),
		Source: opts.Source,
	}
	info, err := sess.AddTrack(ctx, &req)
	if err != nil {
		return domain.TrackInfo{}, err
	}
	tr, err := sess.CreateSender(track, opts, encodings)
	if err != nil {
		return domain.TrackInfo{}, err
	}
	e.tracks.Put(&publishedTrack{
		Request:     req,
		Track:       track,
		Options:     opts,
		Encodings:   encodings,
		Info:        info,
		Transceiver: tr,
	})
	sess.PublisherNegotiationNeeded()
	return info, nil
}

// AddTrack announces a track without attaching media to the publisher.
func (e *Engine) AddTrack(ctx context.Context, req protocol.AddTrackRequest) (domain.TrackInfo, error) {
	sess, err := e.activeSession(ctx)
	if err != nil {
		return domain.TrackInfo{}, err
	}
	info, err := sess.AddTrack(ctx, &req)
	if err != nil {
		return domain.TrackInfo{}, err
	}
	e.tracks.Put(&publishedTrack{Request: req, Info: info})
	return info, nil
}

func (e *Engine) UnpublishTrack(ctx context.Context, cid string) error {
	sess, err := e.activeSession(ctx)
	if err != nil {
		return err
	}
	t, ok := e.tracks.Remove(cid)
	if !ok {
		return fmt.Errorf("unpublish %s: %w", cid, ErrUnknownTrack)
	}
	if t.Transceiver != nil {
		if sender := t.Transceiver.Sender(); sender != nil {
			if err := sess.RemoveTrack(sender); err != nil {
				return err
			}
		}
	}
	sess.PublisherNegotiationNeeded()
	return nil
}

func (e *Engine) MuteTrack(ctx context.Context, sid domain.TrackSID, muted bool) error {
	sess, err := e.activeSession(ctx)
	if err != nil {
		return err
	}
	if _, ok := e.tracks.BySID(sid); !ok {
		return fmt.Errorf("mute %s: %w", sid, ErrUnknownTrack)
	}
	e.tracks.SetMuted(sid, muted)
	sess.MuteTrack(sid, muted)
	return nil
}

func (e *Engine) UpdateSubscription(ctx context.Context, sids []domain.TrackSID, subscribe bool) error {
	sess, err := e.activeSession(ctx)
	if err != nil {
		return err
	}
	e.tracks.SetSubscription(sids, subscribe)
	sess.UpdateSubscription(sids, subscribe)
	return nil
}

// PublishData sends payload to the room, or to destinations only when set.
func (e *Engine) PublishData(ctx context.Context, payload []byte, kind protocol.DataPacketKind, topic string, destinations []domain.ParticipantSID) error {
	sess, err := e.activeSession(ctx)
	if err != nil {
		return err
	}
	pkt := &protocol.DataPacket{
		Kind: kind,
		Value: &protocol.UserPacket{
			ParticipantSID:  sess.Info().Join.Participant.SID,
			Payload:         payload,
			DestinationSIDs: destinations,
			Topic:           topic,
		},
	}
	if err := sess.PublishData(ctx, pkt); err != nil {
		return err
	}
	e.metrics.packet("out", kind.String())
	return nil
}

func (e *Engine) SimulateScenario(ctx context.Context, sc session.Scenario) error {
	sess, err := e.activeSession(ctx)
	if err != nil {
		return err
	}
	return sess.SimulateScenario(sc)
}

// Close leaves the room. Reconnects in progress are abandoned.
func (e *Engine) Close() {
	e.close(domain.DisconnectClientInitiated)
}

func (e *Engine) close(reason domain.DisconnectReason) {
	e.closeOnce.Do(func() {
		e.log.Info().Str("reason", reason.String()).Msg("closing engine")
		e.closed.Store(true)
		e.cancel()
		close(e.closeCh)
		e.terminateSession()
		if err := fire(e.state, eventDisconnect); err != nil {
			e.log.Debug().Err(err).Msg("state already disconnected")
		}
		e.emit(&DisconnectedEvent{Reason: reason})
		e.events.Close()
	})
}
