package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/rtcengine/internal/adapters/http"
	"github.com/dkeye/rtcengine/internal/adapters/rtc"
	signalclient "github.com/dkeye/rtcengine/internal/adapters/signal"
	"github.com/dkeye/rtcengine/internal/app/engine"
	"github.com/dkeye/rtcengine/internal/app/session"
	"github.com/dkeye/rtcengine/internal/config"
	"github.com/dkeye/rtcengine/internal/core"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	factory, err := rtc.NewFactory(rtc.FactoryParams{})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create peer connection factory")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	eng, err := engine.Connect(ctx, engineParams(cfg, factory, reg))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect")
	}
	if join := eng.Join(); join != nil {
		log.Info().Str("room", string(join.Room.Name)).Str("sid", string(join.Participant.SID)).
			Int("participants", len(join.OtherParticipants)).Msg("joined room")
	}

	r := router.SetupRouter(cfg, eng, reg)
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}
	go func() {
		log.Info().Str("addr", addr).Msg("control API started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
		}
	}()

	eventsDone := make(chan struct{})
	go func() {
		defer close(eventsDone)
		logEvents(context.Background(), eng)
		cancel()
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	eng.Close()
	<-eventsDone
	log.Info().Msg("Client exited gracefully")
}

func engineParams(cfg *config.Config, factory core.PeerConnectionFactory, reg prometheus.Registerer) engine.Params {
	opts := session.Options{
		Signal: core.SignalOptions{
			AutoSubscribe:  cfg.AutoSubscribe,
			AdaptiveStream: cfg.AdaptiveStream,
		},
		Timeouts: session.Timeouts{
			ICEConnect:   cfg.ICEConnectTimeout,
			TrackPublish: cfg.TrackPublishTimeout,
			PollInterval: session.DefaultTimeouts().PollInterval,
		},
	}
	if len(cfg.ICEServers) > 0 {
		opts.ICEServers = []webrtc.ICEServer{{URLs: cfg.ICEServers}}
	}
	if cfg.ForceRelay {
		opts.ICETransportPolicy = webrtc.ICETransportPolicyRelay
	}

	return engine.Params{
		URL:     cfg.URL,
		Token:   cfg.Token,
		Session: opts,
		Policy: engine.LinearPolicy{
			MaxAttempts: cfg.ReconnectAttempts,
			Interval:    cfg.ReconnectInterval,
			MaxInterval: cfg.MaxReconnectInterval,
		},
		Factory: factory,
		NewSignalClient: func() core.SignalClient {
			return signalclient.NewClient(signalclient.Params{
				ReadLimit:  cfg.ReadLimit,
				PingPeriod: cfg.PingPeriod,
			})
		},
		Metrics: engine.NewMetrics(reg),
	}
}

// logEvents returns once the engine is closed.
func logEvents(ctx context.Context, eng *engine.Engine) {
	for {
		ev, ok := eng.NextEvent(ctx)
		if !ok {
			return
		}
		l := log.Info().Str("event", ev.EventName())
		switch ev := ev.(type) {
		case *session.DataEvent:
			l = l.Str("from", string(ev.ParticipantSID)).Str("topic", ev.Topic).Int("bytes", len(ev.Payload))
		case *session.ParticipantUpdateEvent:
			l = l.Int("participants", len(ev.Participants))
		case *session.SpeakersChangedEvent:
			l = l.Int("speakers", len(ev.Speakers))
		case *session.MediaTrackEvent:
			l = l.Str("track_id", ev.Track.ID()).Str("kind", ev.Track.Kind().String())
			go discard(ev.Track)
		case *engine.DisconnectedEvent:
			l = l.Str("reason", ev.Reason.String())
		}
		l.Msg("engine event")
		if _, done := ev.(*engine.DisconnectedEvent); done {
			return
		}
	}
}

// discard keeps a remote track's receive buffer drained; this client does not render media.
func discard(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
	}
}
