package session

import (
	"strings"

	"github.com/pion/webrtc/v4"
)

const h264BaselineProfile = "profile-level-id=42e01f"

// sortCodecPreferences puts codecs of the requested kind first, with the
// constrained-baseline H.264 profile ahead of other entries of the same codec.
func sortCodecPreferences(codecs []webrtc.RTPCodecParameters, codec string) []webrtc.RTPCodecParameters {
	want := "video/" + strings.ToLower(codec)
	matched := make([]webrtc.RTPCodecParameters, 0, len(codecs))
	var partial, rest []webrtc.RTPCodecParameters
	for _, c := range codecs {
		if strings.ToLower(c.MimeType) != want {
			rest = append(rest, c)
			continue
		}
		if strings.Contains(c.SDPFmtpLine, h264BaselineProfile) {
			matched = append(matched, c)
		} else {
			partial = append(partial, c)
		}
	}
	return append(append(matched, partial...), rest...)
}
