package protocol

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/dkeye/rtcengine/internal/domain"
)

var (
	ErrMalformedPacket  = errors.New("malformed data packet")
	ErrUnsupportedValue = errors.New("unsupported data packet value")
)

const (
	LossyLabel    = "_lossy"
	ReliableLabel = "_reliable"
)

// DataPacketKind selects the data channel a packet travels on.
type DataPacketKind int32

const (
	KindReliable DataPacketKind = 0
	KindLossy    DataPacketKind = 1
)

func (k DataPacketKind) String() string {
	if k == KindLossy {
		return "lossy"
	}
	return "reliable"
}

// Label returns the data channel label for the kind.
func (k DataPacketKind) Label() string {
	if k == KindLossy {
		return LossyLabel
	}
	return ReliableLabel
}

// DataPacket is the envelope of every reliable/lossy data channel message.
// Value is nil when the sender used a variant this client does not know.
type DataPacket struct {
	Kind  DataPacketKind
	Value DataPacketValue
}

type DataPacketValue interface {
	isDataPacketValue()
}

type UserPacket struct {
	ParticipantSID  domain.ParticipantSID
	Payload         []byte
	DestinationSIDs []domain.ParticipantSID
	Topic           string
}

type SpeakerPacket struct {
	Speakers []domain.SpeakerInfo
}

func (*UserPacket) isDataPacketValue()    {}
func (*SpeakerPacket) isDataPacketValue() {}

const (
	fieldKind    protowire.Number = 1
	fieldUser    protowire.Number = 2
	fieldSpeaker protowire.Number = 3

	fieldUserParticipant  protowire.Number = 1
	fieldUserPayload      protowire.Number = 2
	fieldUserDestinations protowire.Number = 3
	fieldUserTopic        protowire.Number = 4

	fieldSpeakers protowire.Number = 1

	fieldSpeakerSID    protowire.Number = 1
	fieldSpeakerLevel  protowire.Number = 2
	fieldSpeakerActive protowire.Number = 3
)

func MarshalDataPacket(p *DataPacket) ([]byte, error) {
	var b []byte
	if p.Kind != KindReliable {
		b = protowire.AppendTag(b, fieldKind, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(p.Kind))
	}
	switch v := p.Value.(type) {
	case nil:
	case *UserPacket:
		b = protowire.AppendTag(b, fieldUser, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalUser(v))
	case *SpeakerPacket:
		b = protowire.AppendTag(b, fieldSpeaker, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalSpeakers(v))
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
	return b, nil
}

func marshalUser(u *UserPacket) []byte {
	var b []byte
	if u.ParticipantSID != "" {
		b = protowire.AppendTag(b, fieldUserParticipant, protowire.BytesType)
		b = protowire.AppendString(b, string(u.ParticipantSID))
	}
	if len(u.Payload) > 0 {
		b = protowire.AppendTag(b, fieldUserPayload, protowire.BytesType)
		b = protowire.AppendBytes(b, u.Payload)
	}
	for _, sid := range u.DestinationSIDs {
		b = protowire.AppendTag(b, fieldUserDestinations, protowire.BytesType)
		b = protowire.AppendString(b, string(sid))
	}
	if u.Topic != "" {
		b = protowire.AppendTag(b, fieldUserTopic, protowire.BytesType)
		b = protowire.AppendString(b, u.Topic)
	}
	return b
}

func marshalSpeakers(s *SpeakerPacket) []byte {
	var b []byte
	for _, sp := range s.Speakers {
		var e []byte
		if sp.SID != "" {
			e = protowire.AppendTag(e, fieldSpeakerSID, protowire.BytesType)
			e = protowire.AppendString(e, string(sp.SID))
		}
		if sp.Level != 0 {
			e = protowire.AppendTag(e, fieldSpeakerLevel, protowire.Fixed32Type)
			e = protowire.AppendFixed32(e, math.Float32bits(sp.Level))
		}
		if sp.Active {
			e = protowire.AppendTag(e, fieldSpeakerActive, protowire.VarintType)
			e = protowire.AppendVarint(e, 1)
		}
		b = protowire.AppendTag(b, fieldSpeakers, protowire.BytesType)
		b = protowire.AppendBytes(b, e)
	}
	return b
}

func UnmarshalDataPacket(b []byte) (*DataPacket, error) {
	p := &DataPacket{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldKind && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			p.Kind = DataPacketKind(v)
			return n, nil
		case num == fieldUser && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			u, err := unmarshalUser(v)
			if err != nil {
				return 0, fmt.Errorf("user: %w", err)
			}
			p.Value = u
			return n, nil
		case num == fieldSpeaker && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			s, err := unmarshalSpeakers(v)
			if err != nil {
				return 0, fmt.Errorf("speaker: %w", err)
			}
			p.Value = s
			return n, nil
		}
		return skipField, nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func unmarshalUser(b []byte) (*UserPacket, error) {
	u := &UserPacket{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ != protowire.BytesType {
			return skipField, nil
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n, nil
		}
		switch num {
		case fieldUserParticipant:
			u.ParticipantSID = domain.ParticipantSID(v)
		case fieldUserPayload:
			u.Payload = append([]byte(nil), v...)
		case fieldUserDestinations:
			u.DestinationSIDs = append(u.DestinationSIDs, domain.ParticipantSID(v))
		case fieldUserTopic:
			u.Topic = string(v)
		}
		return n, nil
	})
	return u, err
}

func unmarshalSpeakers(b []byte) (*SpeakerPacket, error) {
	s := &SpeakerPacket{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != fieldSpeakers || typ != protowire.BytesType {
			return skipField, nil
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n, nil
		}
		var sp domain.SpeakerInfo
		err := walkFields(v, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
			switch {
			case num == fieldSpeakerSID && typ == protowire.BytesType:
				v, n := protowire.ConsumeBytes(b)
				sp.SID = domain.ParticipantSID(v)
				return n, nil
			case num == fieldSpeakerLevel && typ == protowire.Fixed32Type:
				v, n := protowire.ConsumeFixed32(b)
				sp.Level = math.Float32frombits(v)
				return n, nil
			case num == fieldSpeakerActive && typ == protowire.VarintType:
				v, n := protowire.ConsumeVarint(b)
				sp.Active = v != 0
				return n, nil
			}
			return skipField, nil
		})
		if err != nil {
			return 0, err
		}
		s.Speakers = append(s.Speakers, sp)
		return n, nil
	})
	return s, err
}

const skipField = math.MinInt

// walkFields feeds each field of a message to fn. fn returns the number of
// bytes it consumed, a negative protowire error code, or skipField for
// fields it does not know.
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformedPacket, protowire.ParseError(n))
		}
		b = b[n:]
		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m == skipField {
			m = protowire.ConsumeFieldValue(num, typ, b)
		}
		if m < 0 {
			return fmt.Errorf("%w: %v", ErrMalformedPacket, protowire.ParseError(m))
		}
		b = b[m:]
	}
	return nil
}
