package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/careline/rtc/internal/application/constant"
	"github.com/careline/rtc/internal/domain/events"
	"github.com/careline/rtc/internal/domain/models"
	"github.com/careline/rtc/internal/infra/adapters/memory"
)

var ErrUnknownSignalType = errors.New("unknown signal type")

// RelayUsecase is the server half of the event channel contract: it
// translates signaling posts into channel events for the other party,
// stores messages and echoes them, and broadcasts presence.
type RelayUsecase interface {
	HandleSignal(ctx context.Context, senderID uuid.UUID, req events.SignalRequest) error

	HandleConnect(ctx context.Context, userID uuid.UUID)
	HandleDisconnect(ctx context.Context, userID uuid.UUID)
	Heartbeat(ctx context.Context)

	CreateMessage(ctx context.Context, senderID uuid.UUID, msg models.Message) (models.Message, error)
	Conversations(ctx context.Context, userID uuid.UUID) []models.Conversation
	History(ctx context.Context, userID, peerID uuid.UUID) []models.Message
	MarkRead(ctx context.Context, userID, peerID uuid.UUID) error
}

type relayUsecase struct {
	userRepo    memory.UserRepository
	messageRepo memory.MessageRepository
	connRepo    memory.ChannelConnectionRepository
}

func NewRelayUsecase(
	userRepo memory.UserRepository,
	messageRepo memory.MessageRepository,
	connRepo memory.ChannelConnectionRepository,
) RelayUsecase {
	return &relayUsecase{
		userRepo:    userRepo,
		messageRepo: messageRepo,
		connRepo:    connRepo,
	}
}

func (r *relayUsecase) HandleSignal(ctx context.Context, senderID uuid.UUID, req events.SignalRequest) error {
	switch req.Type {
	case string(models.MediaAudio), string(models.MediaVideo):
		if req.Offer == nil {
			return errors.New("offer is required")
		}

		caller, err := r.userRepo.GetByID(senderID)
		if err != nil {
			return fmt.Errorf("resolve caller: %w", err)
		}

		return r.send(req.ReceiverID, events.TypeIncomingCall, events.IncomingCallEvent{
			CallID:       req.CallID,
			CallerID:     senderID,
			CallerName:   caller.Username,
			CallerAvatar: caller.AvatarURL,
			Kind:         models.MediaKind(req.Type),
			Offer:        *req.Offer,
		})

	case events.SignalCallAccepted:
		if req.Answer == nil {
			return errors.New("answer is required")
		}

		return r.send(req.CallerID, events.TypeCallAccepted, events.CallAcceptedEvent{
			CallID: req.CallID,
			Answer: *req.Answer,
		})

	case events.SignalCallRejected:
		return r.send(req.CallerID, events.TypeCallRejected, events.CallRejectedEvent{CallID: req.CallID})

	case events.SignalCallEnded:
		return r.send(r.otherParty(senderID, req), events.TypeCallEnded, events.CallEndedEvent{CallID: req.CallID})

	case events.SignalIceCandidate:
		if req.Candidate == nil {
			return errors.New("iceCandidate is required")
		}

		return r.send(r.otherParty(senderID, req), events.TypeIceCandidate, events.IceCandidateEvent{
			CallID:    req.CallID,
			Candidate: *req.Candidate,
		})

	case events.SignalMissedCall:
		return r.send(req.ReceiverID, events.TypeMissedCall, events.MissedCallEvent{CallID: req.CallID})

	default:
		return fmt.Errorf("%w: %q", ErrUnknownSignalType, req.Type)
	}
}

// otherParty picks the relay target: whichever call party is not the
// sender. call_ended and ice_candidate flow in both directions.
func (r *relayUsecase) otherParty(senderID uuid.UUID, req events.SignalRequest) uuid.UUID {
	if req.CallerID == senderID {
		return req.ReceiverID
	}
	return req.CallerID
}

func (r *relayUsecase) HandleConnect(_ context.Context, userID uuid.UUID) {
	r.broadcastPresence(events.TypeUserOnline, userID)
}

func (r *relayUsecase) HandleDisconnect(_ context.Context, userID uuid.UUID) {
	r.broadcastPresence(events.TypeUserOffline, userID)
}

func (r *relayUsecase) Heartbeat(_ context.Context) {
	envelope, err := events.NewEnvelope(events.TypeHeartbeat, struct{}{})
	if err != nil {
		return
	}

	r.connRepo.Broadcast(envelope)
}

func (r *relayUsecase) CreateMessage(_ context.Context, senderID uuid.UUID, msg models.Message) (models.Message, error) {
	if msg.ReceiverID == uuid.Nil {
		return models.Message{}, errors.New("receiverId is required")
	}
	if msg.Type == "" {
		msg.Type = models.MessageText
	}

	msg.ID = uuid.New()
	msg.SenderID = senderID
	msg.CreatedAt = time.Now().UTC()
	msg.IsRead = false

	r.messageRepo.Append(msg)

	// Both parties get the authoritative copy over their channel; the
	// sender uses it to reconcile the optimistic render.
	r.echoMessage(senderID, msg, 0)
	r.echoMessage(msg.ReceiverID, msg, r.messageRepo.UnreadCount(msg.ReceiverID, senderID))

	return msg, nil
}

func (r *relayUsecase) echoMessage(target uuid.UUID, msg models.Message, unread int) {
	payload := events.NewMessageEvent{Message: msg}
	if unread > 0 {
		payload.Stats = &events.ConversationStats{UnreadCount: unread}
	}

	if err := r.send(target, events.TypeNewMessage, payload); err != nil {
		slog.Error("echo message", slog.Any(constant.Error, err), slog.Any(constant.UserID, target))
	}
}

func (r *relayUsecase) Conversations(_ context.Context, userID uuid.UUID) []models.Conversation {
	summaries := r.messageRepo.Summaries(userID)

	for i := range summaries {
		if user, err := r.userRepo.GetByID(summaries[i].PeerUserID); err == nil {
			summaries[i].PeerName = user.Username
		}
		summaries[i].IsOnline = r.connRepo.IsConnected(summaries[i].PeerUserID)
	}

	return summaries
}

func (r *relayUsecase) History(_ context.Context, userID, peerID uuid.UUID) []models.Message {
	return r.messageRepo.History(userID, peerID)
}

func (r *relayUsecase) MarkRead(_ context.Context, userID, peerID uuid.UUID) error {
	for _, messageID := range r.messageRepo.MarkRead(userID, peerID) {
		if err := r.send(peerID, events.TypeMessageStatusUpdate, events.MessageStatusUpdateEvent{
			MessageID: messageID,
			Status:    "read",
		}); err != nil {
			slog.Error("send status update", slog.Any(constant.Error, err), slog.Any(constant.MessageID, messageID))
		}
	}

	return nil
}

func (r *relayUsecase) broadcastPresence(eventType string, userID uuid.UUID) {
	envelope, err := events.NewEnvelope(eventType, events.PresenceEvent{UserID: userID})
	if err != nil {
		slog.Error("marshal presence event", slog.Any(constant.Error, err))
		return
	}

	for _, target := range r.connRepo.GetAllConnected() {
		if target == userID {
			continue
		}
		r.connRepo.Send(target, envelope)
	}
}

func (r *relayUsecase) send(target uuid.UUID, eventType string, payload any) error {
	if target == uuid.Nil {
		return errors.New("missing relay target")
	}

	envelope, err := events.NewEnvelope(eventType, payload)
	if err != nil {
		return err
	}

	r.connRepo.Send(target, envelope)

	return nil
}
