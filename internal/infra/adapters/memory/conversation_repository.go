package memory

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/careline/rtc/internal/domain/models"
)

// ConversationRepository holds the client-side conversation projection.
// The inbox usecase is its only writer.
type ConversationRepository interface {
	Get(peerID uuid.UUID) (models.Conversation, bool)
	Upsert(conversation models.Conversation)
	SetOnline(peerID uuid.UUID, online bool)
	ResetUnread(peerID uuid.UUID)
	List() []models.Conversation
	Replace(conversations []models.Conversation)
}

type conversationRepository struct {
	// conversations хранит map[peer_id]conversation
	conversations map[uuid.UUID]models.Conversation

	mu sync.RWMutex
}

func NewConversationRepository() ConversationRepository {
	return &conversationRepository{
		conversations: make(map[uuid.UUID]models.Conversation),
	}
}

func (r *conversationRepository) Get(peerID uuid.UUID) (models.Conversation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conv, ok := r.conversations[peerID]
	return conv, ok
}

func (r *conversationRepository) Upsert(conversation models.Conversation) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conversations[conversation.PeerUserID] = conversation
}

func (r *conversationRepository) SetOnline(peerID uuid.UUID, online bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.conversations[peerID]
	if !ok {
		// Presence for an unknown peer still creates the projection so
		// the badge is right once the conversation list loads.
		conv = models.Conversation{PeerUserID: peerID}
	}

	conv.IsOnline = online
	r.conversations[peerID] = conv
}

func (r *conversationRepository) ResetUnread(peerID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conv, ok := r.conversations[peerID]; ok {
		conv.UnreadCount = 0
		r.conversations[peerID] = conv
	}
}

func (r *conversationRepository) List() []models.Conversation {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]models.Conversation, 0, len(r.conversations))
	for _, conv := range r.conversations {
		list = append(list, conv)
	}

	sort.Slice(list, func(i, j int) bool {
		li, lj := list[i].LastMessage, list[j].LastMessage
		switch {
		case li == nil:
			return false
		case lj == nil:
			return true
		default:
			return li.CreatedAt.After(lj.CreatedAt)
		}
	})

	return list
}

func (r *conversationRepository) Replace(conversations []models.Conversation) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-sync keeps locally observed presence flags: the snapshot from
	// the store does not know who is online.
	online := make(map[uuid.UUID]bool, len(r.conversations))
	for id, conv := range r.conversations {
		online[id] = conv.IsOnline
	}

	r.conversations = make(map[uuid.UUID]models.Conversation, len(conversations))
	for _, conv := range conversations {
		if was, ok := online[conv.PeerUserID]; ok {
			conv.IsOnline = conv.IsOnline || was
		}
		r.conversations[conv.PeerUserID] = conv
	}
}
