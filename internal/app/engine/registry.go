package engine

import (
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/rtcengine/internal/app/session"
	"github.com/dkeye/rtcengine/internal/core"
	"github.com/dkeye/rtcengine/internal/domain"
	"github.com/dkeye/rtcengine/internal/protocol"
)

// publishedTrack is what is needed to publish a local track again on a new session.
type publishedTrack struct {
	Request     protocol.AddTrackRequest
	Track       webrtc.TrackLocal
	Options     session.TrackPublishOptions
	Encodings   []webrtc.RTPEncodingParameters
	Info        domain.TrackInfo
	Transceiver core.RTPTransceiver
}

// trackRegistry remembers local tracks and subscription choices across sessions.
type trackRegistry struct {
	mu            sync.RWMutex
	tracks        map[string]*publishedTrack
	order         []string
	subscriptions map[domain.TrackSID]bool
}

func newTrackRegistry() *trackRegistry {
	return &trackRegistry{
		tracks:        make(map[string]*publishedTrack),
		subscriptions: make(map[domain.TrackSID]bool),
	}
}

func (r *trackRegistry) Put(t *publishedTrack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cid := t.Request.CID
	if _, ok := r.tracks[cid]; !ok {
		r.order = append(r.order, cid)
	}
	r.tracks[cid] = t
	log.Debug().Str("module", "engine.registry").Str("cid", cid).Str("sid", string(t.Info.SID)).Msg("track recorded")
}

func (r *trackRegistry) Get(cid string) (*publishedTrack, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tracks[cid]
	return t, ok
}

func (r *trackRegistry) BySID(sid domain.TrackSID) (*publishedTrack, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.tracks {
		if t.Info.SID == sid {
			return t, true
		}
	}
	return nil, false
}

func (r *trackRegistry) Remove(cid string) (*publishedTrack, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tracks[cid]
	if !ok {
		return nil, false
	}
	delete(r.tracks, cid)
	for i, c := range r.order {
		if c == cid {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	log.Debug().Str("module", "engine.registry").Str("cid", cid).Msg("track removed")
	return t, true
}

// SetMuted records the mute flag so a republished track keeps it.
func (r *trackRegistry) SetMuted(sid domain.TrackSID, muted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tracks {
		if t.Info.SID == sid {
			t.Request.Muted = muted
			t.Info.Muted = muted
		}
	}
}

// Snapshot lists the tracks in publish order.
func (r *trackRegistry) Snapshot() []*publishedTrack {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*publishedTrack, 0, len(r.order))
	for _, cid := range r.order {
		out = append(out, r.tracks[cid])
	}
	return out
}

func (r *trackRegistry) SetSubscription(sids []domain.TrackSID, subscribe bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sid := range sids {
		r.subscriptions[sid] = subscribe
	}
}

// Subscriptions splits the recorded choices into subscribed and unsubscribed sids.
func (r *trackRegistry) Subscriptions() (on, off []domain.TrackSID) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for sid, sub := range r.subscriptions {
		if sub {
			on = append(on, sid)
		} else {
			off = append(off, sid)
		}
	}
	return on, off
}
