package session

import "sync"

// PeerState is the session-wide connection state.
type PeerState int

const (
	PeerStateNew PeerState = iota
	PeerStateConnected
	PeerStateDisconnected
	PeerStateReconnecting
	PeerStateClosed
)

func (s PeerState) String() string {
	switch s {
	case PeerStateNew:
		return "new"
	case PeerStateConnected:
		return "connected"
	case PeerStateDisconnected:
		return "disconnected"
	case PeerStateReconnecting:
		return "reconnecting"
	case PeerStateClosed:
		return "closed"
	}
	return "unknown"
}

// stateCell serializes PeerState transitions. Closed is terminal.
type stateCell struct {
	mu    sync.Mutex
	state PeerState
}

func (c *stateCell) Load() PeerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Set moves to next and returns the previous state. It refuses to leave Closed.
func (c *stateCell) Set(next PeerState) (PeerState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.state
	if prev == PeerStateClosed && next != PeerStateClosed {
		return prev, false
	}
	c.state = next
	return prev, true
}

