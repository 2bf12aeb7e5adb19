package coretest

import (
	"context"
	"sync"

	"github.com/dkeye/rtcengine/internal/core"
	"github.com/dkeye/rtcengine/internal/domain"
	"github.com/dkeye/rtcengine/internal/protocol"
)

// SignalClient mirrors the websocket client's delivery rules: requests sent
// while disconnected (before Connect, after Close or Drop) are held until
// FlushQueue, everything else is delivered at once.
type SignalClient struct {
	Log *CallLog

	mu            sync.Mutex
	autoAck       bool
	connected     bool
	queued        []protocol.Request
	lastToken     string
	join          *protocol.JoinResponse
	connectErr    error
	reconnectErr  error
	reconnectResp *protocol.ReconnectResponse
	sent          []protocol.Request
	connects      int
	reconnects    int
	closes        int
	flushes       int
	lastOpts      core.SignalOptions
	events        chan core.SignalEvent
}

var _ core.SignalClient = (*SignalClient)(nil)

func NewSignalClient(join *protocol.JoinResponse, log *CallLog) *SignalClient {
	return &SignalClient{
		Log:    log,
		join:   join,
		events: make(chan core.SignalEvent, 256),
	}
}

func (s *SignalClient) Connect(_ context.Context, _, token string, opts core.SignalOptions) (*protocol.JoinResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Log.Add("signal.Connect")
	s.connects++
	s.lastOpts = opts
	s.lastToken = token
	if s.connectErr != nil {
		return nil, s.connectErr
	}
	s.connected = true
	return s.join, nil
}

func (s *SignalClient) Reconnect(_ context.Context, _, token string, opts core.SignalOptions) (*protocol.ReconnectResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Log.Add("signal.Reconnect")
	s.reconnects++
	s.lastOpts = opts
	s.lastToken = token
	if s.reconnectErr != nil {
		return nil, s.reconnectErr
	}
	s.connected = true
	return s.reconnectResp, nil
}

func (s *SignalClient) Send(req protocol.Request) {
	s.mu.Lock()
	if !s.connected {
		s.Log.Add("signal.Queue:" + req.RequestType())
		s.queued = append(s.queued, req)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.deliver(req)
}

func (s *SignalClient) deliver(req protocol.Request) {
	s.mu.Lock()
	s.Log.Add("signal.Send:" + req.RequestType())
	s.sent = append(s.sent, req)
	ack := s.autoAck
	s.mu.Unlock()

	if add, ok := req.(*protocol.AddTrackRequest); ok && ack {
		go s.Deliver(&protocol.TrackPublished{
			CID:   add.CID,
			Track: domain.TrackInfo{SID: domain.TrackSID("TR_" + add.CID), Name: add.Name, Type: add.Type},
		})
	}
}

func (s *SignalClient) FlushQueue() {
	s.mu.Lock()
	s.Log.Add("signal.FlushQueue")
	s.flushes++
	pending := s.queued
	s.queued = nil
	s.mu.Unlock()

	for _, req := range pending {
		s.Send(req)
	}
}

func (s *SignalClient) Events() <-chan core.SignalEvent { return s.events }

func (s *SignalClient) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Log.Add("signal.Close")
	s.closes++
	s.connected = false
}

// SetAutoAckTracks answers every later AddTrackRequest with a TrackPublished.
func (s *SignalClient) SetAutoAckTracks(on bool) {
	s.mu.Lock()
	s.autoAck = on
	s.mu.Unlock()
}

func (s *SignalClient) FailConnect(err error) {
	s.mu.Lock()
	s.connectErr = err
	s.mu.Unlock()
}

func (s *SignalClient) FailReconnect(err error) {
	s.mu.Lock()
	s.reconnectErr = err
	s.mu.Unlock()
}

func (s *SignalClient) SetReconnectResponse(resp *protocol.ReconnectResponse) {
	s.mu.Lock()
	s.reconnectResp = resp
	s.mu.Unlock()
}

// Deliver pushes a server message to the client.
func (s *SignalClient) Deliver(msg protocol.Response) {
	s.events <- core.SignalEvent{Kind: core.SignalMessage, Message: msg}
}

// Drop simulates the server side closing the connection.
func (s *SignalClient) Drop(err error) {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	s.events <- core.SignalEvent{Kind: core.SignalClose, Err: err}
}

// Queued lists requests waiting for FlushQueue.
func (s *SignalClient) Queued() []protocol.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Request(nil), s.queued...)
}

func (s *SignalClient) LastToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastToken
}

// Sent lists the requests that reached the server.
func (s *SignalClient) Sent() []protocol.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Request(nil), s.sent...)
}

func (s *SignalClient) Connects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

func (s *SignalClient) Reconnects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnects
}

func (s *SignalClient) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

func (s *SignalClient) Flushes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushes
}

func (s *SignalClient) LastOptions() core.SignalOptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastOpts
}

// Requests filters the requests sent so far by type.
func Requests[T protocol.Request](s *SignalClient) []T {
	var out []T
	for _, r := range s.Sent() {
		if v, ok := r.(T); ok {
			out = append(out, v)
		}
	}
	return out
}
