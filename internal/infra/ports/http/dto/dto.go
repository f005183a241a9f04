package dto

import (
	"github.com/google/uuid"

	"github.com/careline/rtc/internal/domain/models"
)

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries the token in the body as well as in the cookie
// so non-browser clients can pick it up without cookie jar plumbing.
type LoginResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

type GetMeResponse struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
}

type CreateMessageRequest struct {
	ReceiverID   uuid.UUID          `json:"receiverId"`
	Content      string             `json:"content"`
	Type         models.MessageType `json:"type"`
	Attachments  []string           `json:"attachments,omitempty"`
	ClientTempID uuid.UUID          `json:"clientTempId,omitzero"`
}
