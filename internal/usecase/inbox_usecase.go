package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/careline/rtc/internal/application/constant"
	"github.com/careline/rtc/internal/application/metric"
	"github.com/careline/rtc/internal/domain/events"
	"github.com/careline/rtc/internal/domain/models"
	"github.com/careline/rtc/internal/infra/adapters/memory"
)

// proximityWindow bounds how far apart an optimistic message and its
// echo may sit in time and still be considered the same message when no
// temp id survived the round trip.
const proximityWindow = 5 * time.Second

// MessageStore is the REST boundary to the external message store.
// Satisfied by store.Client.
type MessageStore interface {
	CreateMessage(ctx context.Context, msg models.Message) (models.Message, error)
	ListConversations(ctx context.Context) ([]models.Conversation, error)
	History(ctx context.Context, peerID uuid.UUID) ([]models.Message, error)
	MarkRead(ctx context.Context, peerID uuid.UUID) error
}

// InboxUsecase merges locally sent messages with their channel echoes
// so every stored message renders exactly once, and keeps the
// conversation projection (last message, unread count, presence) in
// sync. It is the only writer of the projection.
type InboxUsecase interface {
	Send(ctx context.Context, peerID uuid.UUID, content string, msgType models.MessageType, attachments []string) (models.Message, error)
	OpenConversation(ctx context.Context, peerID uuid.UUID) ([]models.Message, error)
	CloseConversation()
	Conversations() []models.Conversation
	OpenMessages() []models.Message
	Resync(ctx context.Context) error

	HandleNewMessage(ctx context.Context, ev events.NewMessageEvent)
	HandleStatusUpdate(ctx context.Context, ev events.MessageStatusUpdateEvent)
	HandlePresence(userID uuid.UUID, online bool)

	SetObserver(fn func())
}

type pendingEcho struct {
	createdAt time.Time
}

type inboxUsecase struct {
	userID uuid.UUID

	store    MessageStore
	convRepo memory.ConversationRepository

	mu       sync.Mutex
	openPeer uuid.UUID
	openMsgs []models.Message

	// pending хранит map[client_temp_id] для ещё не подтверждённых эхо
	pending map[uuid.UUID]pendingEcho

	observer func()
}

func NewInboxUsecase(userID uuid.UUID, store MessageStore, convRepo memory.ConversationRepository) InboxUsecase {
	return &inboxUsecase{
		userID:   userID,
		store:    store,
		convRepo: convRepo,
		pending:  make(map[uuid.UUID]pendingEcho),
	}
}

func (u *inboxUsecase) SetObserver(fn func()) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.observer = fn
}

func (u *inboxUsecase) Send(ctx context.Context, peerID uuid.UUID, content string, msgType models.MessageType, attachments []string) (models.Message, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.prunePendingLocked()

	tempID := uuid.New()
	optimistic := models.Message{
		SenderID:     u.userID,
		ReceiverID:   peerID,
		Content:      content,
		Type:         msgType,
		Attachments:  attachments,
		CreatedAt:    time.Now().UTC(),
		ClientTempID: tempID,
	}

	// Optimistic render first; the echo replaces it, never joins it.
	if u.openPeer == peerID {
		u.openMsgs = append(u.openMsgs, optimistic)
	}
	u.pending[tempID] = pendingEcho{createdAt: optimistic.CreatedAt}

	created, err := u.store.CreateMessage(ctx, optimistic)
	if err != nil {
		// Roll the optimistic entry back: nothing was stored.
		u.removeOptimisticLocked(tempID)
		delete(u.pending, tempID)
		return models.Message{}, fmt.Errorf("send message: %w", err)
	}

	u.replaceOptimisticLocked(tempID, created)
	u.upsertSummaryLocked(created, false)
	u.notifyLocked()

	return created, nil
}

func (u *inboxUsecase) HandleNewMessage(_ context.Context, ev events.NewMessageEvent) {
	u.mu.Lock()
	defer u.mu.Unlock()

	msg := ev.Message
	peerID := msg.PeerOf(u.userID)
	incoming := msg.ReceiverID == u.userID

	if msg.SenderID == u.userID && u.reconcileEchoLocked(msg) {
		metric.IncrementDedupedMessages()
		u.upsertSummaryLocked(msg, false)
		u.notifyLocked()
		return
	}

	if u.openPeer == peerID {
		u.openMsgs = append(u.openMsgs, msg)

		if incoming {
			// The open thread is being read; tell the store without
			// waiting for an echo.
			go u.markReadQuiet(peerID)
		}
	}

	// The summary refreshes for every new_message, open thread or not.
	unreadDelta := incoming && u.openPeer != peerID
	if ev.Stats != nil && unreadDelta {
		u.upsertSummaryWithCountLocked(msg, ev.Stats.UnreadCount)
	} else {
		u.upsertSummaryLocked(msg, unreadDelta)
	}

	u.notifyLocked()
}

func (u *inboxUsecase) HandleStatusUpdate(_ context.Context, ev events.MessageStatusUpdateEvent) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if ev.Status != "read" {
		return
	}

	for i := range u.openMsgs {
		if u.openMsgs[i].ID == ev.MessageID {
			u.openMsgs[i].IsRead = true
		}
	}

	u.notifyLocked()
}

func (u *inboxUsecase) HandlePresence(userID uuid.UUID, online bool) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.convRepo.SetOnline(userID, online)
	u.notifyLocked()
}

func (u *inboxUsecase) OpenConversation(ctx context.Context, peerID uuid.UUID) ([]models.Message, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	history, err := u.store.History(ctx, peerID)
	if err != nil {
		return nil, fmt.Errorf("open conversation: %w", err)
	}

	u.openPeer = peerID
	u.openMsgs = history

	// The push is immediately authoritative for the local view; a
	// delivery failure is logged, not reverted.
	u.convRepo.ResetUnread(peerID)
	if err = u.store.MarkRead(ctx, peerID); err != nil {
		slog.Error("mark conversation read", slog.Any(constant.Error, err), slog.Any(constant.PeerID, peerID))
	}

	u.notifyLocked()

	return u.copyOpenLocked(), nil
}

func (u *inboxUsecase) CloseConversation() {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.openPeer = uuid.Nil
	u.openMsgs = nil
}

func (u *inboxUsecase) Conversations() []models.Conversation {
	return u.convRepo.List()
}

func (u *inboxUsecase) OpenMessages() []models.Message {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.copyOpenLocked()
}

// Resync rebuilds the projection from store summaries. Events in
// flight during a channel outage may be lost, so reconnect re-fetches
// instead of trusting the stream.
func (u *inboxUsecase) Resync(ctx context.Context) error {
	conversations, err := u.store.ListConversations(ctx)
	if err != nil {
		return fmt.Errorf("resync conversations: %w", err)
	}

	u.convRepo.Replace(conversations)

	u.mu.Lock()
	openPeer := u.openPeer
	u.mu.Unlock()

	if openPeer != uuid.Nil {
		history, err := u.store.History(ctx, openPeer)
		if err != nil {
			return fmt.Errorf("resync open conversation: %w", err)
		}

		u.mu.Lock()
		if u.openPeer == openPeer {
			u.openMsgs = history
		}
		u.mu.Unlock()
	}

	u.mu.Lock()
	u.notifyLocked()
	u.mu.Unlock()

	return nil
}

// reconcileEchoLocked matches a channel echo against an optimistic
// entry: first by the temp id it carried, then by proximity when the
// temp id did not survive. Reports whether the echo was absorbed.
func (u *inboxUsecase) reconcileEchoLocked(echo models.Message) bool {
	if echo.ClientTempID != uuid.Nil {
		if _, ok := u.pending[echo.ClientTempID]; ok {
			u.replaceOptimisticLocked(echo.ClientTempID, echo)
			return true
		}

		// The temp id is unknown: either already reconciled via the
		// create response, or sent from another session.
		for i := range u.openMsgs {
			if u.openMsgs[i].ID == echo.ID {
				return true
			}
		}
		return false
	}

	for i := range u.openMsgs {
		candidate := u.openMsgs[i]
		if candidate.ID == echo.ID {
			return true
		}
		if candidate.ClientTempID == uuid.Nil {
			continue
		}
		if candidate.SenderID == echo.SenderID &&
			candidate.ReceiverID == echo.ReceiverID &&
			candidate.Content == echo.Content &&
			candidate.Type == echo.Type &&
			absDuration(candidate.CreatedAt.Sub(echo.CreatedAt)) <= proximityWindow {
			delete(u.pending, candidate.ClientTempID)
			u.openMsgs[i] = echo
			return true
		}
	}

	return false
}

func (u *inboxUsecase) replaceOptimisticLocked(tempID uuid.UUID, authoritative models.Message) {
	delete(u.pending, tempID)

	for i := range u.openMsgs {
		if u.openMsgs[i].ClientTempID == tempID {
			u.openMsgs[i] = authoritative
			return
		}
	}
}

func (u *inboxUsecase) removeOptimisticLocked(tempID uuid.UUID) {
	for i := range u.openMsgs {
		if u.openMsgs[i].ClientTempID == tempID {
			u.openMsgs = append(u.openMsgs[:i], u.openMsgs[i+1:]...)
			return
		}
	}
}

func (u *inboxUsecase) upsertSummaryLocked(msg models.Message, bumpUnread bool) {
	peerID := msg.PeerOf(u.userID)

	conv, ok := u.convRepo.Get(peerID)
	if !ok {
		conv = models.Conversation{PeerUserID: peerID}
	}

	last := msg
	conv.LastMessage = &last
	if bumpUnread {
		conv.UnreadCount++
	}

	u.convRepo.Upsert(conv)
}

func (u *inboxUsecase) upsertSummaryWithCountLocked(msg models.Message, unread int) {
	peerID := msg.PeerOf(u.userID)

	conv, ok := u.convRepo.Get(peerID)
	if !ok {
		conv = models.Conversation{PeerUserID: peerID}
	}

	last := msg
	conv.LastMessage = &last
	conv.UnreadCount = unread

	u.convRepo.Upsert(conv)
}

func (u *inboxUsecase) markReadQuiet(peerID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := u.store.MarkRead(ctx, peerID); err != nil {
		slog.Error("mark read", slog.Any(constant.Error, err), slog.Any(constant.PeerID, peerID))
	}
}

func (u *inboxUsecase) copyOpenLocked() []models.Message {
	out := make([]models.Message, len(u.openMsgs))
	copy(out, u.openMsgs)
	return out
}

func (u *inboxUsecase) prunePendingLocked() {
	for tempID, entry := range u.pending {
		if time.Since(entry.createdAt) > time.Minute {
			delete(u.pending, tempID)
		}
	}
}

func (u *inboxUsecase) notifyLocked() {
	if u.observer != nil {
		u.observer()
	}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
