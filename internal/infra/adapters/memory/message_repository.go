package memory

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/careline/rtc/internal/domain/models"
)

// MessageRepository is the relay's in-memory message store: enough of
// the external CRUD store contract to exercise the client end to end.
type MessageRepository interface {
	Append(message models.Message)
	History(a, b uuid.UUID) []models.Message

	// MarkRead flags every message sent by peer to owner as read and
	// returns the ids that flipped.
	MarkRead(owner, peer uuid.UUID) []uuid.UUID

	// Summaries builds the conversation list of owner.
	Summaries(owner uuid.UUID) []models.Conversation

	UnreadCount(owner, peer uuid.UUID) int
}

type pairKey struct {
	lo, hi uuid.UUID
}

func newPairKey(a, b uuid.UUID) pairKey {
	if a.String() < b.String() {
		return pairKey{lo: a, hi: b}
	}
	return pairKey{lo: b, hi: a}
}

type messageRepository struct {
	// threads хранит map[pair]messages в порядке создания
	threads map[pairKey][]models.Message

	mu sync.RWMutex
}

func NewMessageRepository() MessageRepository {
	return &messageRepository{
		threads: make(map[pairKey][]models.Message),
	}
}

func (r *messageRepository) Append(message models.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := newPairKey(message.SenderID, message.ReceiverID)
	r.threads[key] = append(r.threads[key], message)
}

func (r *messageRepository) History(a, b uuid.UUID) []models.Message {
	r.mu.RLock()
	defer r.mu.RUnlock()

	thread := r.threads[newPairKey(a, b)]

	out := make([]models.Message, len(thread))
	copy(out, thread)
	return out
}

func (r *messageRepository) MarkRead(owner, peer uuid.UUID) []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := newPairKey(owner, peer)

	var flipped []uuid.UUID
	for i, msg := range r.threads[key] {
		if msg.ReceiverID == owner && !msg.IsRead {
			r.threads[key][i].IsRead = true
			flipped = append(flipped, msg.ID)
		}
	}

	return flipped
}

func (r *messageRepository) Summaries(owner uuid.UUID) []models.Conversation {
	r.mu.RLock()
	defer r.mu.RUnlock()

	summaries := make([]models.Conversation, 0)

	for key, thread := range r.threads {
		if len(thread) == 0 {
			continue
		}
		if key.lo != owner && key.hi != owner {
			continue
		}

		peer := key.lo
		if peer == owner {
			peer = key.hi
		}

		last := thread[len(thread)-1]

		unread := 0
		for _, msg := range thread {
			if msg.ReceiverID == owner && !msg.IsRead {
				unread++
			}
		}

		summaries = append(summaries, models.Conversation{
			PeerUserID:  peer,
			LastMessage: &last,
			UnreadCount: unread,
		})
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].LastMessage.CreatedAt.After(summaries[j].LastMessage.CreatedAt)
	})

	return summaries
}

func (r *messageRepository) UnreadCount(owner, peer uuid.UUID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	unread := 0
	for _, msg := range r.threads[newPairKey(owner, peer)] {
		if msg.ReceiverID == owner && !msg.IsRead {
			unread++
		}
	}

	return unread
}
