package core

import (
	"context"

	"github.com/dkeye/rtcengine/internal/protocol"
)

type SignalOptions struct {
	AutoSubscribe  bool
	AdaptiveStream bool
	// Reconnect asks the server to resume the participant identified by ParticipantSID.
	Reconnect      bool
	ParticipantSID string
}

type SignalEventKind int

const (
	SignalOpen SignalEventKind = iota
	SignalMessage
	SignalClose
)

func (k SignalEventKind) String() string {
	switch k {
	case SignalOpen:
		return "open"
	case SignalMessage:
		return "message"
	default:
		return "close"
	}
}

type SignalEvent struct {
	Kind    SignalEventKind
	Message protocol.Response
	Err     error
}

// SignalClient abstracts the duplex signaling connection.
// Owned by the session; the session must Close() it.
type SignalClient interface {
	Connect(ctx context.Context, url, token string, opts SignalOptions) (*protocol.JoinResponse, error)
	Reconnect(ctx context.Context, url, token string, opts SignalOptions) (*protocol.ReconnectResponse, error)
	// Send is best effort; requests issued while disconnected are queued
	// until FlushQueue.
	Send(req protocol.Request)
	FlushQueue()
	// Events stays the same channel across reconnects.
	Events() <-chan SignalEvent
	// Close drops the connection without producing a SignalClose event.
	Close()
}
