package session

import (
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
)

func codec(mime, fmtp string, pt webrtc.PayloadType) webrtc.RTPCodecParameters {
	return webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: mime, ClockRate: 90000, SDPFmtpLine: fmtp},
		PayloadType:        pt,
	}
}

func TestSortCodecPreferencesH264(t *testing.T) {
	vp8 := codec(webrtc.MimeTypeVP8, "", 96)
	h264Other := codec(webrtc.MimeTypeH264, "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42001f", 102)
	h264Baseline := codec(webrtc.MimeTypeH264, "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f", 108)

	got := sortCodecPreferences([]webrtc.RTPCodecParameters{vp8, h264Other, h264Baseline}, "h264")
	assert.Equal(t, []webrtc.RTPCodecParameters{h264Baseline, h264Other, vp8}, got)
}

func TestSortCodecPreferencesKeepsRelativeOrder(t *testing.T) {
	vp8 := codec(webrtc.MimeTypeVP8, "", 96)
	vp9 := codec(webrtc.MimeTypeVP9, "profile-id=0", 98)
	h264 := codec(webrtc.MimeTypeH264, "profile-level-id=42001f", 102)
	av1 := codec(webrtc.MimeTypeAV1, "", 45)

	got := sortCodecPreferences([]webrtc.RTPCodecParameters{h264, vp8, av1, vp9}, "VP9")
	assert.Equal(t, []webrtc.RTPCodecParameters{vp9, h264, vp8, av1}, got)
}

func TestSortCodecPreferencesUnknownCodec(t *testing.T) {
	in := []webrtc.RTPCodecParameters{codec(webrtc.MimeTypeVP8, "", 96), codec(webrtc.MimeTypeH264, "", 102)}
	assert.Equal(t, in, sortCodecPreferences(in, "theora"))
}
