package coretest

import (
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/rtcengine/internal/core"
)

// Factory hands out fake peer connections. Sessions create the publisher
// first, so even-numbered connections are named "publisher" and odd ones
// "subscriber".
type Factory struct {
	Log *CallLog
	// Connected makes new connections report Connected as soon as a
	// connection-state callback is registered.
	Connected bool
	Caps      []webrtc.RTPCodecParameters
	Err       error

	mu  sync.Mutex
	pcs []*PeerConnection
}

var _ core.PeerConnectionFactory = (*Factory)(nil)

func (f *Factory) NewPeerConnection(cfg webrtc.Configuration) (core.PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	name := "publisher"
	if len(f.pcs)%2 == 1 {
		name = "subscriber"
	}
	pc := NewPeerConnection(name, f.Log)
	pc.config = cfg
	if f.Connected {
		pc.SetConnected(true)
	}
	f.pcs = append(f.pcs, pc)
	return pc, nil
}

func (f *Factory) SenderCapabilities(kind webrtc.RTPCodecType) []webrtc.RTPCodecParameters {
	if kind != webrtc.RTPCodecTypeVideo {
		return nil
	}
	return f.Caps
}

func (f *Factory) PeerConnections() []*PeerConnection {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*PeerConnection(nil), f.pcs...)
}

// Publisher returns the most recent publisher connection.
func (f *Factory) Publisher() *PeerConnection { return f.last("publisher") }

// Subscriber returns the most recent subscriber connection.
func (f *Factory) Subscriber() *PeerConnection { return f.last("subscriber") }

func (f *Factory) last(name string) *PeerConnection {
	pcs := f.PeerConnections()
	for i := len(pcs) - 1; i >= 0; i-- {
		if pcs[i].Name == name {
			return pcs[i]
		}
	}
	return nil
}
