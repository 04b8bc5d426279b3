package peer

import "github.com/pion/webrtc/v4"

// Server message types of the peer broker protocol.
const (
	msgOpen      = "OPEN"
	msgError     = "ERROR"
	msgIDTaken   = "ID-TAKEN"
	msgHeartbeat = "HEARTBEAT"
	msgOffer     = "OFFER"
	msgAnswer    = "ANSWER"
	msgCandidate = "CANDIDATE"
	msgLeave     = "LEAVE"
	msgExpire    = "EXPIRE"
)

type message struct {
	Type    string   `json:"type"`
	Src     string   `json:"src,omitempty"`
	Dst     string   `json:"dst,omitempty"`
	Payload *payload `json:"payload,omitempty"`
}

type payload struct {
	SDP          *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate    *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
	Type         string                     `json:"type,omitempty"`
	ConnectionID string                     `json:"connectionId,omitempty"`
	Metadata     map[string]any             `json:"metadata,omitempty"`
	Msg          string                     `json:"msg,omitempty"`
}
