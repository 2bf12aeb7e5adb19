package http

//go:generate mockgen -destination=mock_controller_test.go -package=http . Controller

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/rtcengine/internal/app/engine"
	"github.com/dkeye/rtcengine/internal/app/session"
	"github.com/dkeye/rtcengine/internal/config"
	"github.com/dkeye/rtcengine/internal/domain"
	"github.com/dkeye/rtcengine/internal/protocol"
)

const (
	simulateBurst  = 5
	simulateWindow = 10 * time.Second
)

// Controller is the part of *engine.Engine exposed over HTTP.
type Controller interface {
	State() string
	SimulateScenario(ctx context.Context, sc session.Scenario) error
	PublishData(ctx context.Context, payload []byte, kind protocol.DataPacketKind, topic string, destinations []domain.ParticipantSID) error
}

type DataRequest struct {
	Payload      string   `json:"payload" binding:"required"`
	Kind         string   `json:"kind"`
	Topic        string   `json:"topic"`
	Destinations []string `json:"destinations"`
}

func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func SetupRouter(cfg *config.Config, ctl Controller, gatherer prometheus.Gatherer) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())

	h := &handlers{ctl: ctl, limiter: newRateLimiter(simulateBurst, simulateWindow)}

	api := r.Group("/api")
	api.GET("/state", h.state)
	api.POST("/simulate/:scenario", h.simulate)
	api.POST("/data", h.data)

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}

type handlers struct {
	ctl     Controller
	limiter *rateLimiter
}

func (h *handlers) state(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"state": h.ctl.State()})
}

func (h *handlers) simulate(c *gin.Context) {
	sc, err := session.ParseScenario(c.Param("scenario"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !h.limiter.Allow(sc.String()) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many simulations"})
		return
	}
	if err := h.ctl.SimulateScenario(c.Request.Context(), sc); err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Str("request_id", c.GetString("request_id")).
			Str("scenario", sc.String()).Msg("simulate failed")
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"scenario": sc.String()})
}

func (h *handlers) data(c *gin.Context) {
	var req DataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid payload"})
		return
	}
	var kind protocol.DataPacketKind
	switch req.Kind {
	case "", "reliable":
		kind = protocol.KindReliable
	case "lossy":
		kind = protocol.KindLossy
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be reliable or lossy"})
		return
	}
	dest := make([]domain.ParticipantSID, 0, len(req.Destinations))
	for _, d := range req.Destinations {
		dest = append(dest, domain.ParticipantSID(d))
	}

	if err := h.ctl.PublishData(c.Request.Context(), []byte(req.Payload), kind, req.Topic, dest); err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Str("request_id", c.GetString("request_id")).Msg("publish data failed")
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrConnectionTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, session.ErrClosed), errors.Is(err, engine.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}
