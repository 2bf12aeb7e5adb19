package session

import "errors"

var (
	// ErrSignal marks failures of the signaling connection. The engine
	// escalates these to a full reconnect.
	ErrSignal                = errors.New("signal failure")
	ErrConnectionTimeout     = errors.New("connection timeout")
	ErrTrackAlreadyPublished = errors.New("track already published")
	ErrCancelled             = errors.New("operation cancelled")
	ErrClosed                = errors.New("session closed")
	ErrUnsupportedData       = errors.New("unsupported data message")
	ErrDataChannel           = errors.New("data channel failure")
)

// RTCError wraps a failure of the native peer connection layer.
type RTCError struct {
	Op  string
	Err error
}

func (e *RTCError) Error() string { return "rtc " + e.Op + ": " + e.Err.Error() }

func (e *RTCError) Unwrap() error { return e.Err }

func rtcError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &RTCError{Op: op, Err: err}
}
