// Package coretest provides in-memory fakes of the core collaborator interfaces.
package coretest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/rtcengine/internal/core"
)

var ErrNoRemoteDescription = errors.New("no remote description")

// CallLog records calls across fakes in the order they happened.
type CallLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *CallLog) Add(call string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.calls = append(l.calls, call)
	l.mu.Unlock()
}

func (l *CallLog) Calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type PeerConnection struct {
	Name string
	Log  *CallLog

	mu            sync.Mutex
	signaling     webrtc.SignalingState
	ice           webrtc.ICEConnectionState
	local         *webrtc.SessionDescription
	pendingRemote *webrtc.SessionDescription
	currentRemote *webrtc.SessionDescription
	candidates    []webrtc.ICECandidateInit
	offerOptions  []*webrtc.OfferOptions
	answers       int
	config        webrtc.Configuration
	channels      []*DataChannel
	transceivers  []*Transceiver
	removed       int
	closed        bool
	connected     bool

	createOfferErr  error
	createAnswerErr error
	setRemoteErr    error

	onICE   func(*webrtc.ICECandidateInit)
	onConn  func(webrtc.PeerConnectionState)
	onDC    func(core.DataChannel)
	onTrack func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
	onNeg   func()
}

var _ core.PeerConnection = (*PeerConnection)(nil)

func NewPeerConnection(name string, log *CallLog) *PeerConnection {
	return &PeerConnection{
		Name:      name,
		Log:       log,
		signaling: webrtc.SignalingStateStable,
		ice:       webrtc.ICEConnectionStateNew,
	}
}

func (pc *PeerConnection) record(method string) {
	pc.Log.Add(pc.Name + "." + method)
}

func (pc *PeerConnection) CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.record("CreateOffer")
	if pc.createOfferErr != nil {
		return webrtc.SessionDescription{}, pc.createOfferErr
	}
	pc.offerOptions = append(pc.offerOptions, options)
	return webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  fmt.Sprintf("offer-%s-%d", pc.Name, len(pc.offerOptions)),
	}, nil
}

func (pc *PeerConnection) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.record("CreateAnswer")
	if pc.createAnswerErr != nil {
		return webrtc.SessionDescription{}, pc.createAnswerErr
	}
	pc.answers++
	return webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  fmt.Sprintf("answer-%s-%d", pc.Name, pc.answers),
	}, nil
}

func (pc *PeerConnection) SetLocalDescription(desc webrtc.SessionDescription) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.record("SetLocalDescription")
	pc.local = &desc
	switch desc.Type {
	case webrtc.SDPTypeOffer:
		pc.signaling = webrtc.SignalingStateHaveLocalOffer
	case webrtc.SDPTypeAnswer:
		pc.currentRemote = pc.pendingRemote
		pc.pendingRemote = nil
		pc.signaling = webrtc.SignalingStateStable
	}
	return nil
}

func (pc *PeerConnection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.record("SetRemoteDescription")
	if pc.setRemoteErr != nil {
		return pc.setRemoteErr
	}
	switch desc.Type {
	case webrtc.SDPTypeOffer:
		pc.pendingRemote = &desc
		pc.signaling = webrtc.SignalingStateHaveRemoteOffer
	case webrtc.SDPTypeAnswer:
		pc.currentRemote = &desc
		pc.pendingRemote = nil
		pc.signaling = webrtc.SignalingStateStable
	}
	return nil
}

func (pc *PeerConnection) RemoteDescription() *webrtc.SessionDescription {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.pendingRemote != nil {
		return pc.pendingRemote
	}
	return pc.currentRemote
}

func (pc *PeerConnection) CurrentRemoteDescription() *webrtc.SessionDescription {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.currentRemote
}

func (pc *PeerConnection) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.record("AddICECandidate")
	if pc.pendingRemote == nil && pc.currentRemote == nil {
		return ErrNoRemoteDescription
	}
	pc.candidates = append(pc.candidates, candidate)
	return nil
}

func (pc *PeerConnection) SignalingState() webrtc.SignalingState {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.signaling
}

func (pc *PeerConnection) ICEConnectionState() webrtc.ICEConnectionState {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.ice
}

func (pc *PeerConnection) SetConfiguration(cfg webrtc.Configuration) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.record("SetConfiguration")
	pc.config = cfg
	return nil
}

func (pc *PeerConnection) CreateDataChannel(label string, init *webrtc.DataChannelInit) (core.DataChannel, error) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	dc := NewDataChannel(label)
	dc.Init = init
	pc.channels = append(pc.channels, dc)
	return dc, nil
}

func (pc *PeerConnection) AddTransceiverFromTrack(track webrtc.TrackLocal, init webrtc.RTPTransceiverInit) (core.RTPTransceiver, error) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.record("AddTransceiverFromTrack")
	tr := &Transceiver{kind: track.Kind(), Init: init}
	pc.transceivers = append(pc.transceivers, tr)
	return tr, nil
}

func (pc *PeerConnection) RemoveTrack(*webrtc.RTPSender) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.record("RemoveTrack")
	pc.removed++
	return nil
}

func (pc *PeerConnection) OnICECandidate(fn func(*webrtc.ICECandidateInit)) {
	pc.mu.Lock()
	pc.onICE = fn
	pc.mu.Unlock()
}

// OnConnectionStateChange reports Connected right away when the fake was
// created connected, the way a live link would shortly after negotiation.
func (pc *PeerConnection) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	pc.mu.Lock()
	pc.onConn = fn
	connected := pc.connected
	pc.mu.Unlock()
	if connected && fn != nil {
		go fn(webrtc.PeerConnectionStateConnected)
	}
}

func (pc *PeerConnection) OnDataChannel(fn func(core.DataChannel)) {
	pc.mu.Lock()
	pc.onDC = fn
	pc.mu.Unlock()
}

func (pc *PeerConnection) OnTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	pc.mu.Lock()
	pc.onTrack = fn
	pc.mu.Unlock()
}

func (pc *PeerConnection) OnNegotiationNeeded(fn func()) {
	pc.mu.Lock()
	pc.onNeg = fn
	pc.mu.Unlock()
}

func (pc *PeerConnection) Close() error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.record("Close")
	pc.closed = true
	pc.ice = webrtc.ICEConnectionStateClosed
	return nil
}

// SetConnected flips the ICE state to Connected (or back to New).
func (pc *PeerConnection) SetConnected(connected bool) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.connected = connected
	if connected {
		pc.ice = webrtc.ICEConnectionStateConnected
	} else {
		pc.ice = webrtc.ICEConnectionStateNew
	}
}

func (pc *PeerConnection) SetICEState(state webrtc.ICEConnectionState) {
	pc.mu.Lock()
	pc.ice = state
	pc.mu.Unlock()
}

func (pc *PeerConnection) FailCreateOffer(err error) {
	pc.mu.Lock()
	pc.createOfferErr = err
	pc.mu.Unlock()
}

func (pc *PeerConnection) FailCreateAnswer(err error) {
	pc.mu.Lock()
	pc.createAnswerErr = err
	pc.mu.Unlock()
}

func (pc *PeerConnection) FailSetRemote(err error) {
	pc.mu.Lock()
	pc.setRemoteErr = err
	pc.mu.Unlock()
}

func (pc *PeerConnection) FireConnectionState(state webrtc.PeerConnectionState) {
	pc.mu.Lock()
	fn := pc.onConn
	pc.mu.Unlock()
	if fn != nil {
		fn(state)
	}
}

func (pc *PeerConnection) FireICECandidate(c *webrtc.ICECandidateInit) {
	pc.mu.Lock()
	fn := pc.onICE
	pc.mu.Unlock()
	if fn != nil {
		fn(c)
	}
}

func (pc *PeerConnection) FireDataChannel(dc core.DataChannel) {
	pc.mu.Lock()
	fn := pc.onDC
	pc.mu.Unlock()
	if fn != nil {
		fn(dc)
	}
}

func (pc *PeerConnection) FireNegotiationNeeded() {
	pc.mu.Lock()
	fn := pc.onNeg
	pc.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (pc *PeerConnection) Candidates() []webrtc.ICECandidateInit {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), pc.candidates...)
}

// OfferOptions returns the options of every successful CreateOffer call.
func (pc *PeerConnection) OfferOptions() []*webrtc.OfferOptions {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return append([]*webrtc.OfferOptions(nil), pc.offerOptions...)
}

func (pc *PeerConnection) LocalDescription() *webrtc.SessionDescription {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.local
}

func (pc *PeerConnection) Configuration() webrtc.Configuration {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.config
}

func (pc *PeerConnection) DataChannels() []*DataChannel {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return append([]*DataChannel(nil), pc.channels...)
}

// DataChannel returns the channel created with label, or nil.
func (pc *PeerConnection) DataChannel(label string) *DataChannel {
	for _, dc := range pc.DataChannels() {
		if dc.Label() == label {
			return dc
		}
	}
	return nil
}

func (pc *PeerConnection) Transceivers() []*Transceiver {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return append([]*Transceiver(nil), pc.transceivers...)
}

func (pc *PeerConnection) Removed() int {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.removed
}

func (pc *PeerConnection) Closed() bool {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.closed
}

type Transceiver struct {
	Init webrtc.RTPTransceiverInit

	mu    sync.Mutex
	kind  webrtc.RTPCodecType
	prefs []webrtc.RTPCodecParameters
}

func (t *Transceiver) Kind() webrtc.RTPCodecType { return t.kind }

func (t *Transceiver) Sender() *webrtc.RTPSender { return nil }

func (t *Transceiver) SetCodecPreferences(codecs []webrtc.RTPCodecParameters) error {
	t.mu.Lock()
	t.prefs = append([]webrtc.RTPCodecParameters(nil), codecs...)
	t.mu.Unlock()
	return nil
}

func (t *Transceiver) CodecPreferences() []webrtc.RTPCodecParameters {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.prefs
}

type DataChannel struct {
	Init *webrtc.DataChannelInit

	label     string
	mu        sync.Mutex
	state     webrtc.DataChannelState
	sent      [][]byte
	sendErr   error
	onMessage func(webrtc.DataChannelMessage)
	onOpen    func()
}

func NewDataChannel(label string) *DataChannel {
	return &DataChannel{label: label, state: webrtc.DataChannelStateConnecting}
}

func (dc *DataChannel) Label() string { return dc.label }

func (dc *DataChannel) ReadyState() webrtc.DataChannelState {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	return dc.state
}

func (dc *DataChannel) Send(data []byte) error {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	if dc.sendErr != nil {
		return dc.sendErr
	}
	dc.sent = append(dc.sent, append([]byte(nil), data...))
	return nil
}

func (dc *DataChannel) OnMessage(fn func(webrtc.DataChannelMessage)) {
	dc.mu.Lock()
	dc.onMessage = fn
	dc.mu.Unlock()
}

func (dc *DataChannel) OnOpen(fn func()) {
	dc.mu.Lock()
	dc.onOpen = fn
	dc.mu.Unlock()
}

func (dc *DataChannel) Close() error {
	dc.mu.Lock()
	dc.state = webrtc.DataChannelStateClosed
	dc.mu.Unlock()
	return nil
}

// Open moves the channel to Open and fires OnOpen.
func (dc *DataChannel) Open() {
	dc.mu.Lock()
	dc.state = webrtc.DataChannelStateOpen
	fn := dc.onOpen
	dc.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (dc *DataChannel) FailSend(err error) {
	dc.mu.Lock()
	dc.sendErr = err
	dc.mu.Unlock()
}

// Deliver simulates an inbound message.
func (dc *DataChannel) Deliver(msg webrtc.DataChannelMessage) {
	dc.mu.Lock()
	fn := dc.onMessage
	dc.mu.Unlock()
	if fn != nil {
		fn(msg)
	}
}

func (dc *DataChannel) Sent() [][]byte {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	return append([][]byte(nil), dc.sent...)
}
