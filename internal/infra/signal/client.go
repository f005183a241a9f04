package signal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/careline/rtc/internal/application/constant"
	"github.com/careline/rtc/internal/domain/events"
	"github.com/careline/rtc/internal/domain/models"
)

// Client posts signaling requests. Every send is fire-and-forget from
// the state machine's point of view: a failure is logged and reported,
// but local state is the source of truth and never rolls back.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) SendOffer(ctx context.Context, kind models.MediaKind, callID, receiverID uuid.UUID, offer webrtc.SessionDescription) error {
	return c.post(ctx, events.SignalRequest{
		Type:       string(kind),
		CallID:     callID,
		ReceiverID: receiverID,
		Offer:      &offer,
	})
}

func (c *Client) SendAccepted(ctx context.Context, callID, callerID uuid.UUID, answer webrtc.SessionDescription) error {
	return c.post(ctx, events.SignalRequest{
		Type:     events.SignalCallAccepted,
		CallID:   callID,
		CallerID: callerID,
		Answer:   &answer,
	})
}

func (c *Client) SendRejected(ctx context.Context, callID, callerID uuid.UUID) error {
	return c.post(ctx, events.SignalRequest{
		Type:     events.SignalCallRejected,
		CallID:   callID,
		CallerID: callerID,
	})
}

func (c *Client) SendEnded(ctx context.Context, callID, callerID, receiverID uuid.UUID) error {
	return c.post(ctx, events.SignalRequest{
		Type:       events.SignalCallEnded,
		CallID:     callID,
		CallerID:   callerID,
		ReceiverID: receiverID,
	})
}

func (c *Client) SendCandidate(ctx context.Context, callID, callerID, receiverID uuid.UUID, candidate webrtc.ICECandidateInit) error {
	return c.post(ctx, events.SignalRequest{
		Type:       events.SignalIceCandidate,
		CallID:     callID,
		CallerID:   callerID,
		ReceiverID: receiverID,
		Candidate:  &candidate,
	})
}

func (c *Client) SendMissed(ctx context.Context, callID, receiverID uuid.UUID) error {
	return c.post(ctx, events.SignalRequest{
		Type:       events.SignalMissedCall,
		CallID:     callID,
		ReceiverID: receiverID,
	})
}

func (c *Client) post(ctx context.Context, signalReq events.SignalRequest) error {
	body, err := json.Marshal(signalReq)
	if err != nil {
		return fmt.Errorf("marshal signal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/signal", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create signal request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.AddCookie(&http.Cookie{Name: "jwt", Value: c.token})
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post signal %s: %w", signalReq.Type, err)
	}
	defer resp.Body.Close()

	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		slog.Error(
			"signal delivery failed",
			slog.String(constant.EventType, signalReq.Type),
			slog.Any(constant.CallID, signalReq.CallID),
			slog.Int("status", resp.StatusCode),
		)
		return fmt.Errorf("signal %s: unexpected status %d", signalReq.Type, resp.StatusCode)
	}

	return nil
}
