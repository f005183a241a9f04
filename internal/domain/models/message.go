package models

import (
	"time"

	"github.com/google/uuid"
)

type MessageType string

const (
	MessageText       MessageType = "text"
	MessageFile       MessageType = "file"
	MessageMissedCall MessageType = "missed_call"
)

type Message struct {
	ID         uuid.UUID   `json:"id"`
	SenderID   uuid.UUID   `json:"senderId"`
	ReceiverID uuid.UUID   `json:"receiverId"`
	Content    string      `json:"content"`
	Type       MessageType `json:"type"`
	Attachments []string   `json:"attachments,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`
	IsRead     bool        `json:"isRead"`

	// ClientTempID is the locally minted id an optimistic message
	// carries until the channel echoes the persisted copy.
	ClientTempID uuid.UUID `json:"clientTempId,omitempty"`
}

// PeerOf returns the other participant of the message relative to me.
func (m Message) PeerOf(me uuid.UUID) uuid.UUID {
	if m.SenderID == me {
		return m.ReceiverID
	}
	return m.SenderID
}
