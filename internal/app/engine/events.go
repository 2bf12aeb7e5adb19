package engine

import "github.com/dkeye/rtcengine/internal/domain"

// Lifecycle events are delivered alongside the session events.
type (
	ResumingEvent   struct{}
	ResumedEvent    struct{}
	RestartingEvent struct{}
	RestartedEvent  struct{}

	// DisconnectedEvent is the last event of an engine.
	DisconnectedEvent struct {
		Reason domain.DisconnectReason
	}
)

func (*ResumingEvent) EventName() string     { return "resuming" }
func (*ResumedEvent) EventName() string      { return "resumed" }
func (*RestartingEvent) EventName() string   { return "restarting" }
func (*RestartedEvent) EventName() string    { return "restarted" }
func (*DisconnectedEvent) EventName() string { return "disconnected" }
