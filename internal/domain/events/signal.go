package events

import (
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// Signal request types accepted by POST /signal. An offer is typed by
// its media kind ("audio"/"video"); everything else is explicit.
const (
	SignalCallAccepted = "call_accepted"
	SignalCallRejected = "call_rejected"
	SignalCallEnded    = "call_ended"
	SignalIceCandidate = "ice_candidate"
	SignalMissedCall   = "missed_call"
)

// SignalRequest is the discriminated union posted to the signaling
// endpoint. The server relays it to the other party as a channel event
// and never inspects the SDP payloads.
type SignalRequest struct {
	Type       string                     `json:"type"`
	CallID     uuid.UUID                  `json:"callId"`
	CallerID   uuid.UUID                  `json:"callerId,omitzero"`
	ReceiverID uuid.UUID                  `json:"receiverId,omitzero"`
	Offer      *webrtc.SessionDescription `json:"offer,omitempty"`
	Answer     *webrtc.SessionDescription `json:"answer,omitempty"`
	Candidate  *webrtc.ICECandidateInit   `json:"iceCandidate,omitempty"`
}
