package protocol

import (
	"errors"
	"fmt"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

var ErrInvalidSDP = errors.New("invalid session description")

// ParseSessionDescription checks that raw is well-formed SDP of the given type
// before it reaches a peer connection.
func ParseSessionDescription(typ, raw string) (webrtc.SessionDescription, error) {
	t := webrtc.NewSDPType(typ)
	if t == webrtc.SDPTypeUnknown {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: type %q", ErrInvalidSDP, typ)
	}
	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(raw)); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: %v", ErrInvalidSDP, err)
	}
	return webrtc.SessionDescription{Type: t, SDP: raw}, nil
}
