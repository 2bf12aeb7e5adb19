package engine

import (
	"context"
	"errors"

	"github.com/looplab/fsm"
)

const (
	StateDisconnected     = "disconnected"
	StateConnecting       = "connecting"
	StateConnected        = "connected"
	StateResuming         = "resuming"
	StateFullReconnecting = "full_reconnecting"
)

const (
	eventConnect    = "connect"
	eventConnected  = "connected"
	eventResume     = "resume"
	eventRestart    = "restart"
	eventDisconnect = "disconnect"
)

var allStates = []string{StateDisconnected, StateConnecting, StateConnected, StateResuming, StateFullReconnecting}

// newConnState builds the engine lifecycle machine. onEnter runs after every
// transition with the source and destination states.
func newConnState(onEnter func(from, to string)) *fsm.FSM {
	return fsm.NewFSM(
		StateDisconnected,
		fsm.Events{
			{Name: eventConnect, Src: []string{StateDisconnected}, Dst: StateConnecting},
			{Name: eventConnected, Src: []string{StateConnecting, StateResuming, StateFullReconnecting}, Dst: StateConnected},
			{Name: eventResume, Src: []string{StateConnected}, Dst: StateResuming},
			{Name: eventRestart, Src: []string{StateConnected, StateResuming}, Dst: StateFullReconnecting},
			{Name: eventDisconnect, Src: []string{StateConnecting, StateConnected, StateResuming, StateFullReconnecting}, Dst: StateDisconnected},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				onEnter(e.Src, e.Dst)
			},
		},
	)
}

// fire applies event, treating a transition to the current state as success.
func fire(m *fsm.FSM, event string) error {
	err := m.Event(context.Background(), event)
	var noTransition fsm.NoTransitionError
	if errors.As(err, &noTransition) {
		return nil
	}
	return err
}
