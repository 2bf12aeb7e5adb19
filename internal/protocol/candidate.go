package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

type candidatePayload struct {
	SDPMid        string `json:"sdpMid"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex"`
	Candidate     string `json:"candidate"`
}

// MarshalCandidate renders a local candidate as the JSON string carried in Trickle.
func MarshalCandidate(ci webrtc.ICECandidateInit) (string, error) {
	p := candidatePayload{Candidate: ci.Candidate}
	if ci.SDPMid != nil {
		p.SDPMid = *ci.SDPMid
	}
	if ci.SDPMLineIndex != nil {
		p.SDPMLineIndex = *ci.SDPMLineIndex
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal candidate: %w", err)
	}
	return string(b), nil
}

func UnmarshalCandidate(s string) (webrtc.ICECandidateInit, error) {
	var p candidatePayload
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return webrtc.ICECandidateInit{}, fmt.Errorf("bad candidate payload: %w", err)
	}
	cand := webrtc.ICECandidateInit{
		Candidate: p.Candidate,
	}
	if p.SDPMid != "" {
		cand.SDPMid = &p.SDPMid
	}
	cand.SDPMLineIndex = &p.SDPMLineIndex
	return cand, nil
}
