package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/careline/rtc/internal/domain/models"
)

// Client talks to the external message store over REST. Persistence
// lives behind this boundary; the core only consumes it.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// SetToken installs the JWT used for authenticated calls.
func (c *Client) SetToken(token string) {
	c.token = token
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
	User  models.User `json:"user"`
}

// Login exchanges credentials for a JWT and the caller's identity, and
// installs the token on the client.
func (c *Client) Login(ctx context.Context, username, password string) (models.User, error) {
	var resp loginResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", credentials{Username: username, Password: password}, &resp); err != nil {
		return models.User{}, fmt.Errorf("login: %w", err)
	}

	c.token = resp.Token

	return resp.User, nil
}

// Register creates an account on the relay. Dev convenience only; the
// production backend owns real accounts.
func (c *Client) Register(ctx context.Context, username, password string) error {
	if err := c.do(ctx, http.MethodPost, "/api/auth/register", credentials{Username: username, Password: password}, nil); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	return nil
}

func (c *Client) Token() string {
	return c.token
}

type createMessageRequest struct {
	ReceiverID   uuid.UUID          `json:"receiverId"`
	Content      string             `json:"content"`
	Type         models.MessageType `json:"type"`
	Attachments  []string           `json:"attachments,omitempty"`
	ClientTempID uuid.UUID          `json:"clientTempId,omitzero"`
}

// CreateMessage writes a message to the store. The authoritative copy
// comes back through the event channel as a new_message echo.
func (c *Client) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	var created models.Message

	err := c.do(ctx, http.MethodPost, "/api/v1/messages", createMessageRequest{
		ReceiverID:   msg.ReceiverID,
		Content:      msg.Content,
		Type:         msg.Type,
		Attachments:  msg.Attachments,
		ClientTempID: msg.ClientTempID,
	}, &created)
	if err != nil {
		return models.Message{}, fmt.Errorf("create message: %w", err)
	}

	return created, nil
}

func (c *Client) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	var conversations []models.Conversation

	if err := c.do(ctx, http.MethodGet, "/api/v1/conversations", nil, &conversations); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	return conversations, nil
}

func (c *Client) History(ctx context.Context, peerID uuid.UUID) ([]models.Message, error) {
	var messages []models.Message

	if err := c.do(ctx, http.MethodGet, "/api/v1/messages/"+peerID.String(), nil, &messages); err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}

	return messages, nil
}

// MarkRead is a one-way status push: the local view treats it as
// immediately authoritative and does not wait for a channel echo.
func (c *Client) MarkRead(ctx context.Context, peerID uuid.UUID) error {
	if err := c.do(ctx, http.MethodPost, "/api/v1/conversations/"+peerID.String()+"/read", nil, nil); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// IceServers fetches short-term TURN credentials from the relay.
func (c *Client) IceServers(ctx context.Context) ([]webrtc.ICEServer, error) {
	var server webrtc.ICEServer

	if err := c.do(ctx, http.MethodGet, "/api/v1/ice", nil, &server); err != nil {
		return nil, fmt.Errorf("fetch ice servers: %w", err)
	}

	return []webrtc.ICEServer{server}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.AddCookie(&http.Cookie{Name: "jwt", Value: c.token})
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, payload)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}

	return nil
}
