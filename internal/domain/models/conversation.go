package models

import "github.com/google/uuid"

// Conversation is a read-mostly projection of a 1:1 thread, rebuilt
// from server summaries and locally observed channel events.
type Conversation struct {
	PeerUserID  uuid.UUID `json:"peerUserId"`
	PeerName    string    `json:"peerName,omitempty"`
	LastMessage *Message  `json:"lastMessage,omitempty"`
	UnreadCount int       `json:"unreadCount"`
	IsOnline    bool      `json:"isOnline"`
}
