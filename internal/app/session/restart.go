package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/rtcengine/internal/domain"
	"github.com/dkeye/rtcengine/internal/protocol"
)

// waitUntil polls test until it holds, the timeout elapses, ctx is done or
// the session closes.
func (s *Session) waitUntil(ctx context.Context, timeout time.Duration, test func() bool) error {
	interval := s.timeouts.PollInterval
	if interval <= 0 {
		interval = DefaultTimeouts().PollInterval
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if test() {
			return nil
		}
		select {
		case <-ticker.C:
		case <-deadline.C:
			return ErrConnectionTimeout
		case <-ctx.Done():
			return ctx.Err()
		case <-s.closeCh:
			return ErrClosed
		}
	}
}

func (s *Session) transportsConnected() bool {
	if !s.primary().IsConnected() {
		return false
	}
	return !s.hasPublished.Load() || s.publisher.IsConnected()
}

// WaitPCConnection waits for the primary transport, and the publisher once
// anything was published, to be connected.
func (s *Session) WaitPCConnection(ctx context.Context) error {
	if err := s.waitUntil(ctx, s.timeouts.ICEConnect, s.transportsConnected); err != nil {
		return fmt.Errorf("wait pc connection: %w", err)
	}
	return nil
}

// Restart resumes the session over a new signaling connection and restarts
// ICE on both transports.
func (s *Session) Restart(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if _, ok := s.state.Set(PeerStateReconnecting); !ok {
		return ErrClosed
	}
	s.log.Info().Msg("restarting session")

	s.signal.Close()
	opts := s.info.Options.Signal
	opts.Reconnect = true
	opts.ParticipantSID = string(s.info.Join.Participant.SID)
	resp, err := s.signal.Reconnect(ctx, s.info.URL, s.Token(), opts)
	if err != nil {
		return fmt.Errorf("%w: reconnect: %w", ErrSignal, err)
	}

	if resp != nil {
		cfg := rtcConfiguration(resp.ICEServers, resp.ClientConfiguration, s.info.Options)
		if len(cfg.ICEServers) == 0 {
			cfg = rtcConfiguration(s.info.Join.ICEServers, resp.ClientConfiguration, s.info.Options)
		}
		if err := s.publisher.SetConfiguration(cfg); err != nil {
			return err
		}
		if err := s.subscriber.SetConfiguration(cfg); err != nil {
			return err
		}
	}

	s.subscriber.PrepareICERestart()
	if s.hasPublished.Load() {
		if err := s.publisher.CreateAndSendOffer(&webrtc.OfferOptions{ICERestart: true}); err != nil {
			return err
		}
	}

	if err := s.WaitPCConnection(ctx); err != nil {
		return err
	}
	// a primary failure during the wait moved the state away from
	// Reconnecting; the transports are connected again regardless
	if _, ok := s.state.Set(PeerStateConnected); !ok {
		return ErrClosed
	}
	s.signal.FlushQueue()
	s.log.Info().Msg("session restarted")
	return nil
}

// Scenario is a failure the server can be asked to simulate.
type Scenario int

const (
	ScenarioSignalReconnect Scenario = iota
	ScenarioSpeaker
	ScenarioNodeFailure
	ScenarioServerLeave
	ScenarioMigration
	ScenarioForceTCP
	ScenarioForceTLS
)

var scenarioNames = map[Scenario]string{
	ScenarioSignalReconnect: "signal-reconnect",
	ScenarioSpeaker:         "speaker",
	ScenarioNodeFailure:     "node-failure",
	ScenarioServerLeave:     "server-leave",
	ScenarioMigration:       "migration",
	ScenarioForceTCP:        "force-tcp",
	ScenarioForceTLS:        "force-tls",
}

func (s Scenario) String() string {
	if name, ok := scenarioNames[s]; ok {
		return name
	}
	return "unknown"
}

func ParseScenario(name string) (Scenario, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for sc, n := range scenarioNames {
		if n == name {
			return sc, nil
		}
	}
	return 0, fmt.Errorf("unknown scenario %q", name)
}

func (s *Session) SimulateScenario(sc Scenario) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.log.Info().Str("scenario", sc.String()).Msg("simulating scenario")

	switch sc {
	case ScenarioSignalReconnect:
		s.signal.Close()
		s.onDisconnected("simulated signal reconnect", domain.DisconnectUnknown, true, false, false)
	case ScenarioSpeaker:
		s.signal.Send(&protocol.Simulate{SpeakerUpdate: 3})
	case ScenarioNodeFailure:
		s.signal.Send(&protocol.Simulate{NodeFailure: true})
	case ScenarioServerLeave:
		s.signal.Send(&protocol.Simulate{ServerLeave: true})
	case ScenarioMigration:
		s.signal.Send(&protocol.Simulate{Migration: true})
	case ScenarioForceTCP, ScenarioForceTLS:
		proto := protocol.ProtocolTCP
		if sc == ScenarioForceTLS {
			proto = protocol.ProtocolTLS
		}
		s.signal.Send(&protocol.Simulate{SwitchCandidateProtocol: &proto})
		s.onDisconnected("simulated leave", domain.DisconnectClientInitiated, true, true, true)
	default:
		return fmt.Errorf("simulate: unknown scenario %d", sc)
	}
	return nil
}
