package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/rtcengine/internal/app/session"
	"github.com/dkeye/rtcengine/internal/core"
	"github.com/dkeye/rtcengine/internal/core/coretest"
	"github.com/dkeye/rtcengine/internal/domain"
	"github.com/dkeye/rtcengine/internal/protocol"
)

type fixture struct {
	t       *testing.T
	log     *coretest.CallLog
	factory *coretest.Factory
	metrics *Metrics
	engine  *Engine

	mu      sync.Mutex
	signals []*coretest.SignalClient
	// prepare runs on every signal client before it is handed out; n is its index.
	prepare func(n int, s *coretest.SignalClient)
}

func newFixture(t *testing.T, policy RetryPolicy, prepare func(n int, s *coretest.SignalClient)) *fixture {
	t.Helper()
	log := &coretest.CallLog{}
	f := &fixture{
		t:       t,
		log:     log,
		factory: &coretest.Factory{Log: log, Connected: true},
		metrics: NewMetrics(prometheus.NewRegistry()),
		prepare: prepare,
	}

	e, err := Connect(context.Background(), Params{
		URL:   "ws://localhost:7880",
		Token: "token",
		Session: session.Options{Timeouts: session.Timeouts{
			ICEConnect:   300 * time.Millisecond,
			TrackPublish: 300 * time.Millisecond,
			PollInterval: 5 * time.Millisecond,
		}},
		Policy:          policy,
		Factory:         f.factory,
		NewSignalClient: f.newSignalClient,
		Metrics:         f.metrics,
	})
	require.NoError(t, err)
	t.Cleanup(e.Close)
	f.engine = e
	return f
}

func (f *fixture) newSignalClient() core.SignalClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	join := &protocol.JoinResponse{
		Room:        domain.Room{SID: "RM_1", Name: "room"},
		Participant: domain.ParticipantInfo{SID: "PA_1", Identity: "alice"},
	}
	s := coretest.NewSignalClient(join, f.log)
	s.SetAutoAckTracks(true)
	if f.prepare != nil {
		f.prepare(len(f.signals), s)
	}
	f.signals = append(f.signals, s)
	return s
}

func (f *fixture) signal(n int) *coretest.SignalClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	require.Greater(f.t, len(f.signals), n)
	return f.signals[n]
}

func (f *fixture) signalCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.signals)
}

// waitEvent skips events until one of type T arrives.
func waitEvent[T session.Event](t *testing.T, e *Engine) T {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for {
		ev, ok := e.NextEvent(ctx)
		require.True(t, ok, "event stream ended before the expected event")
		if v, ok := ev.(T); ok {
			return v
		}
	}
}

func fastPolicy(attempts int) LinearPolicy {
	return LinearPolicy{MaxAttempts: attempts, Interval: 10 * time.Millisecond, MaxInterval: 20 * time.Millisecond}
}

func TestConnect(t *testing.T) {
	f := newFixture(t, fastPolicy(3), nil)

	assert.Equal(t, StateConnected, f.engine.State())
	waitEvent[*session.ConnectedEvent](t, f.engine)
	assert.Equal(t, domain.ParticipantSID("PA_1"), f.engine.Join().Participant.SID)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.state.WithLabelValues(StateConnected)))
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.state.WithLabelValues(StateConnecting)))
}

func TestConnectFailure(t *testing.T) {
	log := &coretest.CallLog{}
	_, err := Connect(context.Background(), Params{
		URL:     "ws://localhost:7880",
		Factory: &coretest.Factory{Log: log},
		NewSignalClient: func() core.SignalClient {
			s := coretest.NewSignalClient(&protocol.JoinResponse{}, log)
			s.FailConnect(errors.New("refused"))
			return s
		},
	})
	require.ErrorIs(t, err, session.ErrSignal)
}

func TestResumeAfterSignalDrop(t *testing.T) {
	f := newFixture(t, fastPolicy(3), nil)

	f.signal(0).Drop(errors.New("eof"))
	waitEvent[*ResumingEvent](t, f.engine)
	waitEvent[*ResumedEvent](t, f.engine)

	assert.Equal(t, StateConnected, f.engine.State())
	assert.Equal(t, 1, f.signal(0).Reconnects())
	assert.Equal(t, 1, f.signalCount(), "resume keeps the session")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.reconnectAttempts.WithLabelValues(strategyResume)))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.reconnectResults.WithLabelValues(strategyResume, "success")))
}

func TestFullReconnectRepublishes(t *testing.T) {
	f := newFixture(t, fastPolicy(3), nil)
	ctx := context.Background()

	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "mic", "stream")
	require.NoError(t, err)
	info, err := f.engine.PublishTrack(ctx, track, session.TrackPublishOptions{Name: "mic", Source: domain.SourceMicrophone}, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.TrackSID("TR_mic"), info.SID)
	require.NoError(t, f.engine.UpdateSubscription(ctx, []domain.TrackSID{"TR_remote"}, true))

	f.signal(0).FailReconnect(errors.New("gone"))
	f.signal(0).Drop(errors.New("eof"))

	waitEvent[*ResumingEvent](t, f.engine)
	waitEvent[*RestartingEvent](t, f.engine)
	waitEvent[*RestartedEvent](t, f.engine)
	assert.Equal(t, StateConnected, f.engine.State())

	require.Equal(t, 2, f.signalCount())
	next := f.signal(1)
	adds := coretest.Requests[*protocol.AddTrackRequest](next)
	require.Len(t, adds, 1)
	assert.Equal(t, "mic", adds[0].CID)
	assert.Equal(t, domain.TrackAudio, adds[0].Type)
	assert.Equal(t, domain.SourceMicrophone, adds[0].Source)

	subs := coretest.Requests[*protocol.UpdateSubscription](next)
	require.Len(t, subs, 1)
	assert.Equal(t, []domain.TrackSID{"TR_remote"}, subs[0].TrackSIDs)
	assert.True(t, subs[0].Subscribe)

	require.Len(t, f.factory.PeerConnections(), 4)
	assert.Len(t, f.factory.Publisher().Transceivers(), 1)
	assert.True(t, f.factory.PeerConnections()[0].Closed(), "old session is torn down")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.reconnectResults.WithLabelValues(strategyFull, "success")))
}

func TestServerLeaveTriggersFullReconnect(t *testing.T) {
	f := newFixture(t, fastPolicy(3), nil)

	f.signal(0).Deliver(&protocol.Leave{CanReconnect: true, Reason: domain.DisconnectMigration})
	waitEvent[*RestartingEvent](t, f.engine)
	waitEvent[*RestartedEvent](t, f.engine)

	assert.Zero(t, f.signal(0).Reconnects(), "leave skips the resume phase")
	assert.Equal(t, 2, f.signalCount())
}

func TestLeaveBeforeConnectReturnsIsHandled(t *testing.T) {
	f := newFixture(t, fastPolicy(3), func(n int, s *coretest.SignalClient) {
		if n == 0 {
			s.Deliver(&protocol.Leave{CanReconnect: true, Reason: domain.DisconnectMigration})
		}
	})

	waitEvent[*RestartingEvent](t, f.engine)
	waitEvent[*RestartedEvent](t, f.engine)
	assert.Equal(t, StateConnected, f.engine.State())
	assert.Equal(t, 2, f.signalCount())
}

func TestReconnectsUseRefreshedToken(t *testing.T) {
	f := newFixture(t, fastPolicy(3), nil)

	f.signal(0).Deliver(&protocol.RefreshToken{Token: "fresh"})
	require.Eventually(t, func() bool { return f.engine.currentToken() == "fresh" }, time.Second, 5*time.Millisecond)

	f.signal(0).Drop(errors.New("eof"))
	waitEvent[*ResumedEvent](t, f.engine)
	assert.Equal(t, "fresh", f.signal(0).LastToken())

	f.signal(0).Deliver(&protocol.Leave{CanReconnect: true, Reason: domain.DisconnectMigration})
	waitEvent[*RestartedEvent](t, f.engine)
	require.Equal(t, 2, f.signalCount())
	assert.Equal(t, "fresh", f.signal(1).LastToken())
}

func TestStaleRetryRequestDoesNotSkipBackoff(t *testing.T) {
	f := newFixture(t, LinearPolicy{MaxAttempts: 5, Interval: time.Minute, MaxInterval: time.Minute}, func(n int, s *coretest.SignalClient) {
		if n > 0 {
			s.FailConnect(errors.New("refused"))
		}
	})
	f.signal(0).FailReconnect(errors.New("gone"))
	f.engine.retryNow <- struct{}{}

	f.signal(0).Drop(errors.New("eof"))
	waitEvent[*RestartingEvent](t, f.engine)
	require.Eventually(t, func() bool { return f.signalCount() == 2 }, time.Second, 5*time.Millisecond)

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 2, f.signalCount(), "second attempt waits for its delay")
}

func TestReconnectExhausted(t *testing.T) {
	f := newFixture(t, fastPolicy(2), func(n int, s *coretest.SignalClient) {
		if n > 0 {
			s.FailConnect(errors.New("refused"))
		}
	})
	f.signal(0).FailReconnect(errors.New("gone"))

	f.signal(0).Drop(errors.New("eof"))
	ev := waitEvent[*DisconnectedEvent](t, f.engine)
	assert.Equal(t, domain.DisconnectUnknown, ev.Reason)
	assert.Equal(t, StateDisconnected, f.engine.State())
	assert.Equal(t, 3, f.signalCount())
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.reconnectResults.WithLabelValues(strategyFull, "failure")))

	err := f.engine.PublishData(context.Background(), []byte("x"), protocol.KindReliable, "", nil)
	require.ErrorIs(t, err, ErrClosed)
}

func TestLeaveWithoutReconnect(t *testing.T) {
	f := newFixture(t, fastPolicy(3), nil)

	f.signal(0).Deliver(&protocol.Leave{CanReconnect: false, Reason: domain.DisconnectRoomDeleted})
	ev := waitEvent[*DisconnectedEvent](t, f.engine)
	assert.Equal(t, domain.DisconnectRoomDeleted, ev.Reason)
	assert.Equal(t, StateDisconnected, f.engine.State())
	assert.Equal(t, 1, f.signalCount())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, ok := f.engine.NextEvent(ctx)
	assert.False(t, ok, "no events after disconnect")
}

func TestCloseDuringReconnect(t *testing.T) {
	f := newFixture(t, LinearPolicy{MaxAttempts: 5, Interval: time.Minute, MaxInterval: time.Minute}, func(n int, s *coretest.SignalClient) {
		if n > 0 {
			s.FailConnect(errors.New("refused"))
		}
	})
	f.signal(0).FailReconnect(errors.New("gone"))
	f.signal(0).Drop(errors.New("eof"))
	waitEvent[*RestartingEvent](t, f.engine)
	require.Eventually(t, func() bool { return f.signalCount() == 2 }, time.Second, 5*time.Millisecond)

	closed := make(chan struct{})
	go func() {
		f.engine.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("close blocked on the reconnect backoff")
	}

	ev := waitEvent[*DisconnectedEvent](t, f.engine)
	assert.Equal(t, domain.DisconnectClientInitiated, ev.Reason)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, f.signalCount(), "no attempt after close")
}

func TestOperationsWaitForReconnect(t *testing.T) {
	f := newFixture(t, fastPolicy(3), nil)

	f.signal(0).FailReconnect(errors.New("gone"))
	f.signal(0).Drop(errors.New("eof"))
	waitEvent[*ResumingEvent](t, f.engine)

	err := f.engine.SimulateScenario(context.Background(), session.ScenarioSpeaker)
	require.NoError(t, err)
	assert.Equal(t, StateConnected, f.engine.State())
	require.Equal(t, 2, f.signalCount())
	assert.Len(t, coretest.Requests[*protocol.Simulate](f.signal(1)), 1, "request goes to the new session")
}

func TestPublishDataCountsPackets(t *testing.T) {
	f := newFixture(t, fastPolicy(3), nil)
	f.factory.Publisher().DataChannel(protocol.ReliableLabel).Open()

	err := f.engine.PublishData(context.Background(), []byte("hi"), protocol.KindReliable, "chat", []domain.ParticipantSID{"PA_2"})
	require.NoError(t, err)

	sent := f.factory.Publisher().DataChannel(protocol.ReliableLabel).Sent()
	require.Len(t, sent, 1)
	pkt, err := protocol.UnmarshalDataPacket(sent[0])
	require.NoError(t, err)
	user := pkt.Value.(*protocol.UserPacket)
	assert.Equal(t, domain.ParticipantSID("PA_1"), user.ParticipantSID)
	assert.Equal(t, "chat", user.Topic)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.dataPackets.WithLabelValues("out", "reliable")))

	in, err := protocol.MarshalDataPacket(&protocol.DataPacket{Kind: protocol.KindLossy, Value: &protocol.UserPacket{ParticipantSID: "PA_2", Payload: []byte("yo")}})
	require.NoError(t, err)
	f.factory.Publisher().DataChannel(protocol.LossyLabel).Deliver(webrtc.DataChannelMessage{Data: in})
	data := waitEvent[*session.DataEvent](t, f.engine)
	assert.Equal(t, []byte("yo"), data.Payload)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.dataPackets.WithLabelValues("in", "lossy")))
}

func TestMuteAndUnpublish(t *testing.T) {
	f := newFixture(t, fastPolicy(3), nil)
	ctx := context.Background()

	info, err := f.engine.AddTrack(ctx, protocol.AddTrackRequest{CID: "screen", Type: domain.TrackVideo, Source: domain.SourceScreenShare})
	require.NoError(t, err)

	require.NoError(t, f.engine.MuteTrack(ctx, info.SID, true))
	mutes := coretest.Requests[*protocol.MuteTrackRequest](f.signal(0))
	require.Len(t, mutes, 1)
	assert.True(t, mutes[0].Muted)

	require.ErrorIs(t, f.engine.MuteTrack(ctx, "TR_unknown", true), ErrUnknownTrack)
	require.NoError(t, f.engine.UnpublishTrack(ctx, "screen"))
	require.ErrorIs(t, f.engine.UnpublishTrack(ctx, "screen"), ErrUnknownTrack)
}

func TestLinearPolicy(t *testing.T) {
	p := LinearPolicy{MaxAttempts: 4, Interval: 300 * time.Millisecond, MaxInterval: 600 * time.Millisecond}

	var got []time.Duration
	for attempt := 0; ; attempt++ {
		d, ok := p.NextDelay(attempt)
		if !ok {
			break
		}
		got = append(got, d)
	}
	assert.Equal(t, []time.Duration{0, 300 * time.Millisecond, 600 * time.Millisecond, 600 * time.Millisecond}, got)
}

func TestConnStateTransitions(t *testing.T) {
	var seen []string
	m := newConnState(func(_, to string) { seen = append(seen, to) })

	require.NoError(t, fire(m, eventConnect))
	require.Error(t, fire(m, eventResume), "cannot resume before connecting")
	require.NoError(t, fire(m, eventConnected))
	require.NoError(t, fire(m, eventResume))
	require.NoError(t, fire(m, eventRestart))
	require.NoError(t, fire(m, eventConnected))
	require.NoError(t, fire(m, eventDisconnect))
	require.Error(t, fire(m, eventDisconnect), "disconnected is terminal for the disconnect event")
	assert.Equal(t, StateDisconnected, m.Current())

	assert.Equal(t, []string{StateConnecting, StateConnected, StateResuming, StateFullReconnecting, StateConnected, StateDisconnected}, seen)
}
