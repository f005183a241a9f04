package events

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/careline/rtc/internal/domain/models"
)

// Channel event types pushed by the server over the persistent
// connection. Delivery is ordered per connection; nothing is guaranteed
// across a reconnect.
const (
	TypeNewMessage          = "new_message"
	TypeMessageStatusUpdate = "message_status_update"
	TypeIncomingCall        = "incoming_call"
	TypeCallAccepted        = "call_accepted"
	TypeCallRejected        = "call_rejected"
	TypeCallEnded           = "call_ended"
	TypeIceCandidate        = "ice_candidate"
	TypeMissedCall          = "missed_call"
	TypeUserOnline          = "user_online"
	TypeUserOffline         = "user_offline"
	TypeHeartbeat           = "heartbeat"
)

// Envelope is the discriminated wire form of every channel event.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NewEnvelope marshals payload into an Envelope of the given type.
func NewEnvelope(eventType string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	return Envelope{Type: eventType, Data: data}, nil
}

type NewMessageEvent struct {
	Message models.Message     `json:"message"`
	Stats   *ConversationStats `json:"stats,omitempty"`
}

// ConversationStats piggybacks summary data on a new_message event so
// the client can refresh the conversation list without a refetch.
type ConversationStats struct {
	UnreadCount int `json:"unreadCount"`
}

type MessageStatusUpdateEvent struct {
	MessageID uuid.UUID `json:"messageId"`
	Status    string    `json:"status"`
}

type IncomingCallEvent struct {
	CallID       uuid.UUID                 `json:"callId"`
	CallerID     uuid.UUID                 `json:"callerId"`
	CallerName   string                    `json:"callerName"`
	CallerAvatar string                    `json:"callerAvatar,omitempty"`
	Kind         models.MediaKind          `json:"type"`
	Offer        webrtc.SessionDescription `json:"offer"`
}

type CallAcceptedEvent struct {
	CallID uuid.UUID                 `json:"callId"`
	Answer webrtc.SessionDescription `json:"answer"`
}

type CallRejectedEvent struct {
	CallID uuid.UUID `json:"callId"`
}

type CallEndedEvent struct {
	CallID uuid.UUID `json:"callId"`
}

type IceCandidateEvent struct {
	CallID    uuid.UUID               `json:"callId"`
	Candidate webrtc.ICECandidateInit `json:"iceCandidate"`
}

type MissedCallEvent struct {
	CallID uuid.UUID `json:"callId"`
}

type PresenceEvent struct {
	UserID uuid.UUID `json:"userId"`
}
