package signal

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/rtcengine/internal/core"
	"github.com/dkeye/rtcengine/internal/protocol"
)

// ErrUnexpectedResponse is returned when the server opens with the wrong message.
var ErrUnexpectedResponse = errors.New("unexpected first response")

const (
	eventCapacity = 256
	joinTimeout   = 10 * time.Second
)

type Params struct {
	ReadLimit  int64
	PingPeriod time.Duration
	// Dialer defaults to a copy of websocket.DefaultDialer.
	Dialer *websocket.Dialer
}

// Client is the websocket implementation of core.SignalClient.
type Client struct {
	params Params
	log    zerolog.Logger
	events chan core.SignalEvent

	mu   sync.Mutex
	conn *wsConn
	// queue holds requests sent while disconnected until FlushQueue.
	queue []protocol.Request
	// keepalive settings; the join response may override the defaults.
	pingPeriod time.Duration
	pongWait   time.Duration
}

var _ core.SignalClient = (*Client)(nil)

func NewClient(p Params) *Client {
	if p.ReadLimit <= 0 {
		p.ReadLimit = 32768
	}
	if p.PingPeriod <= 0 {
		p.PingPeriod = 54 * time.Second
	}
	if p.Dialer == nil {
		d := *websocket.DefaultDialer
		d.HandshakeTimeout = joinTimeout
		p.Dialer = &d
	}
	return &Client{
		params:     p,
		log:        log.With().Str("module", "signal").Logger(),
		events:     make(chan core.SignalEvent, eventCapacity),
		pingPeriod: p.PingPeriod,
		pongWait:   p.PingPeriod * 10 / 9,
	}
}

func (cl *Client) Connect(ctx context.Context, rawURL, token string, opts core.SignalOptions) (*protocol.JoinResponse, error) {
	opts.Reconnect = false
	ws, first, err := cl.dial(ctx, rawURL, token, opts)
	if err != nil {
		return nil, err
	}
	join, ok := first.(*protocol.JoinResponse)
	if !ok {
		_ = ws.Close()
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedResponse, first.ResponseType())
	}
	cl.applyKeepalive(join.PingInterval, join.PingTimeout)
	cl.attach(ws)
	cl.log.Info().Str("room", string(join.Room.Name)).Str("sid", string(join.Participant.SID)).Msg("joined")
	return join, nil
}

func (cl *Client) Reconnect(ctx context.Context, rawURL, token string, opts core.SignalOptions) (*protocol.ReconnectResponse, error) {
	opts.Reconnect = true
	ws, first, err := cl.dial(ctx, rawURL, token, opts)
	if err != nil {
		return nil, err
	}
	resp, ok := first.(*protocol.ReconnectResponse)
	if !ok {
		_ = ws.Close()
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedResponse, first.ResponseType())
	}
	cl.attach(ws)
	cl.log.Info().Str("sid", opts.ParticipantSID).Msg("signal resumed")
	return resp, nil
}

func (cl *Client) dial(ctx context.Context, rawURL, token string, opts core.SignalOptions) (*websocket.Conn, protocol.Response, error) {
	u, err := buildURL(rawURL, token, opts)
	if err != nil {
		return nil, nil, err
	}
	ws, resp, err := cl.params.Dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, nil, fmt.Errorf("dial %s: %s: %w", u.Host, resp.Status, err)
		}
		return nil, nil, fmt.Errorf("dial %s: %w", u.Host, err)
	}
	ws.SetReadLimit(cl.params.ReadLimit)

	deadline := time.Now().Add(joinTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = ws.SetReadDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { _ = ws.Close() })
	defer stop()

	_, data, err := ws.ReadMessage()
	if err != nil {
		_ = ws.Close()
		if ctx.Err() != nil {
			return nil, nil, fmt.Errorf("read first message: %w", ctx.Err())
		}
		return nil, nil, fmt.Errorf("read first message: %w", err)
	}
	first, err := protocol.DecodeResponse(data)
	if err != nil {
		_ = ws.Close()
		return nil, nil, fmt.Errorf("read first message: %w", err)
	}
	if !stop() {
		_ = ws.Close()
		return nil, nil, fmt.Errorf("read first message: %w", ctx.Err())
	}
	return ws, first, nil
}

// applyKeepalive takes the server's ping interval and timeout, in seconds.
func (cl *Client) applyKeepalive(interval, timeout int32) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if interval > 0 {
		cl.pingPeriod = time.Duration(interval) * time.Second
		cl.pongWait = cl.pingPeriod * 10 / 9
	}
	if timeout > 0 {
		cl.pongWait = time.Duration(timeout) * time.Second
	}
}

// attach makes ws the live connection. Requests queued during an outage
// stay queued until FlushQueue; new ones go straight out.
func (cl *Client) attach(ws *websocket.Conn) {
	cl.mu.Lock()
	c := newWSConn(ws, cl.pingPeriod, cl.pongWait)
	old := cl.conn
	cl.conn = c
	cl.mu.Unlock()

	if old != nil {
		old.explicit.Store(true)
		old.Close()
	}
	go cl.writePump(c)
	go cl.readPump(c)
	cl.emit(core.SignalEvent{Kind: core.SignalOpen})
}

func (cl *Client) dropped(c *wsConn, err error) {
	cl.mu.Lock()
	current := cl.conn == c
	if current {
		cl.conn = nil
	}
	cl.mu.Unlock()

	if !current || c.explicit.Load() {
		return
	}
	if err == nil {
		err = errConnClosed
	}
	cl.log.Info().Err(err).Msg("signal connection lost")
	cl.emit(core.SignalEvent{Kind: core.SignalClose, Err: err})
}

func (cl *Client) emit(ev core.SignalEvent) {
	select {
	case cl.events <- ev:
	default:
		cl.log.Warn().Str("kind", ev.Kind.String()).Msg("event channel full, dropping")
	}
}

func (cl *Client) Send(req protocol.Request) {
	data, err := protocol.EncodeRequest(req)
	if err != nil {
		cl.log.Error().Err(err).Str("type", req.RequestType()).Msg("encode request")
		return
	}

	cl.mu.Lock()
	c := cl.conn
	if c == nil {
		cl.queue = append(cl.queue, req)
		cl.mu.Unlock()
		cl.log.Debug().Str("type", req.RequestType()).Msg("request queued")
		return
	}
	cl.mu.Unlock()

	if err := c.TrySend(data); err != nil {
		cl.mu.Lock()
		cl.queue = append(cl.queue, req)
		cl.mu.Unlock()
		cl.log.Warn().Err(err).Str("type", req.RequestType()).Msg("request queued")
	}
}

func (cl *Client) FlushQueue() {
	cl.mu.Lock()
	pending := cl.queue
	cl.queue = nil
	cl.mu.Unlock()

	if len(pending) > 0 {
		cl.log.Debug().Int("count", len(pending)).Msg("flushing queued requests")
	}
	for _, req := range pending {
		cl.Send(req)
	}
}

func (cl *Client) Events() <-chan core.SignalEvent { return cl.events }

func (cl *Client) Close() {
	cl.mu.Lock()
	c := cl.conn
	cl.conn = nil
	cl.mu.Unlock()

	if c != nil {
		c.explicit.Store(true)
		c.Close()
		cl.log.Debug().Msg("signal closed")
	}
}

func buildURL(rawURL, token string, opts core.SignalOptions) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("parse url: unsupported scheme %q", u.Scheme)
	}
	if !strings.HasSuffix(u.Path, "/rtc") {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/rtc"
	}

	q := u.Query()
	q.Set("access_token", token)
	q.Set("auto_subscribe", flag(opts.AutoSubscribe))
	q.Set("adaptive_stream", flag(opts.AdaptiveStream))
	if opts.Reconnect {
		q.Set("reconnect", "1")
		if opts.ParticipantSID != "" {
			q.Set("sid", opts.ParticipantSID)
		}
	}
	u.RawQuery = q.Encode()
	return u, nil
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
