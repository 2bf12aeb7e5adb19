package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/dkeye/rtcengine/internal/domain"
)

func TestUserPacketRoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		kind    DataPacketKind
		sid     domain.ParticipantSID
		payload []byte
	}{
		{"reliable", KindReliable, "PA_alice", []byte("hello")},
		{"lossy", KindLossy, "PA_bob", []byte{0x00, 0xff, 0x10}},
		{"empty payload", KindReliable, "PA_carol", nil},
		{"no sender", KindLossy, "", []byte("anonymous")},
		{"large payload", KindReliable, "PA_dave", bytes.Repeat([]byte{0xab}, 64*1024)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := &DataPacket{
				Kind: tc.kind,
				Value: &UserPacket{
					ParticipantSID:  tc.sid,
					Payload:         tc.payload,
					DestinationSIDs: []domain.ParticipantSID{"PA_x", "PA_y"},
					Topic:           "chat",
				},
			}
			b, err := MarshalDataPacket(in)
			require.NoError(t, err)

			out, err := UnmarshalDataPacket(b)
			require.NoError(t, err)
			assert.Equal(t, tc.kind, out.Kind)

			user, ok := out.Value.(*UserPacket)
			require.True(t, ok, "value is %T", out.Value)
			assert.Equal(t, tc.sid, user.ParticipantSID)
			assert.True(t, bytes.Equal(tc.payload, user.Payload))
			assert.Equal(t, []domain.ParticipantSID{"PA_x", "PA_y"}, user.DestinationSIDs)
			assert.Equal(t, "chat", user.Topic)
		})
	}
}

func TestSpeakerPacketRoundTrip(t *testing.T) {
	in := &DataPacket{
		Kind: KindLossy,
		Value: &SpeakerPacket{Speakers: []domain.SpeakerInfo{
			{SID: "PA_a", Level: 0.5, Active: true},
			{SID: "PA_b"},
		}},
	}
	b, err := MarshalDataPacket(in)
	require.NoError(t, err)

	out, err := UnmarshalDataPacket(b)
	require.NoError(t, err)
	sp, ok := out.Value.(*SpeakerPacket)
	require.True(t, ok)
	assert.Equal(t, in.Value.(*SpeakerPacket).Speakers, sp.Speakers)
}

func TestTruncatedPacketFails(t *testing.T) {
	b, err := MarshalDataPacket(&DataPacket{
		Kind:  KindLossy,
		Value: &UserPacket{ParticipantSID: "PA_alice", Payload: []byte("some payload bytes")},
	})
	require.NoError(t, err)

	// The user message is the last field, so any cut past the kind field
	// leaves its length prefix pointing beyond the buffer.
	for cut := 1; cut < len(b)-2; cut++ {
		_, err := UnmarshalDataPacket(b[:len(b)-cut])
		require.ErrorIs(t, err, ErrMalformedPacket, "cut %d", cut)
	}

	// The intact buffer still decodes after the failures.
	out, err := UnmarshalDataPacket(b)
	require.NoError(t, err)
	assert.Equal(t, domain.ParticipantSID("PA_alice"), out.Value.(*UserPacket).ParticipantSID)
}

func TestCorruptedPacketDoesNotPanic(t *testing.T) {
	inputs := [][]byte{
		{0xff},
		{0x12, 0x80},
		{0x12, 0x05, 0x0a},
		{0x08, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		bytes.Repeat([]byte{0x1a}, 32),
	}
	for _, in := range inputs {
		assert.NotPanics(t, func() {
			_, _ = UnmarshalDataPacket(in)
		})
	}
}

func TestUnknownFieldsAreIgnored(t *testing.T) {
	b, err := MarshalDataPacket(&DataPacket{Value: &UserPacket{ParticipantSID: "PA_a", Payload: []byte("x")}})
	require.NoError(t, err)

	b = protowire.AppendTag(b, 42, protowire.BytesType)
	b = protowire.AppendString(b, "from a newer server")

	out, err := UnmarshalDataPacket(b)
	require.NoError(t, err)
	assert.Equal(t, domain.ParticipantSID("PA_a"), out.Value.(*UserPacket).ParticipantSID)
}

func TestUnknownVariantDecodesWithoutValue(t *testing.T) {
	var b []byte
	b = protowire.AppendTag(b, fieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(KindLossy))
	b = protowire.AppendTag(b, 9, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte{0x0a, 0x01, 'z'})

	out, err := UnmarshalDataPacket(b)
	require.NoError(t, err)
	assert.Equal(t, KindLossy, out.Kind)
	assert.Nil(t, out.Value)
}

func TestKindLabels(t *testing.T) {
	assert.Equal(t, "_lossy", KindLossy.Label())
	assert.Equal(t, "_reliable", KindReliable.Label())
}
