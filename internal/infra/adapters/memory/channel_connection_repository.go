package memory

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/careline/rtc/internal/application/constant"
	"github.com/careline/rtc/internal/domain/events"
)

// ChannelConnectionRepository tracks the live event channel connection
// of each user on the relay side. One connection per logged-in user.
type ChannelConnectionRepository interface {
	Add(userID uuid.UUID, conn *websocket.Conn)
	Remove(userID uuid.UUID)

	// Send pushes one typed event to a single user. A user without a
	// connection is not an error: events for offline users are dropped,
	// clients re-sync on connect.
	Send(userID uuid.UUID, envelope events.Envelope)

	// Broadcast pushes one typed event to every connected user.
	Broadcast(envelope events.Envelope)

	GetAllConnected() []uuid.UUID
	IsConnected(userID uuid.UUID) bool
}

type safeConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

type channelConnectionRepository struct {
	// conns хранит map[user_id]*ws.conn
	conns map[uuid.UUID]*safeConn

	mu sync.RWMutex
}

func NewChannelConnectionRepository() ChannelConnectionRepository {
	return &channelConnectionRepository{
		conns: make(map[uuid.UUID]*safeConn, 10),
	}
}

func (r *channelConnectionRepository) Add(userID uuid.UUID, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns[userID] = &safeConn{conn: conn}
}

func (r *channelConnectionRepository) Remove(userID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.conns, userID)
}

func (r *channelConnectionRepository) Send(userID uuid.UUID, envelope events.Envelope) {
	sc, ok := r.get(userID)
	if !ok {
		return
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()

	if err := sc.conn.WriteJSON(envelope); err != nil {
		slog.Error(
			"write to event channel",
			slog.Any(constant.Error, err),
			slog.Any(constant.UserID, userID),
			slog.String(constant.EventType, envelope.Type),
		)
	}
}

func (r *channelConnectionRepository) Broadcast(envelope events.Envelope) {
	for _, userID := range r.GetAllConnected() {
		r.Send(userID, envelope)
	}
}

func (r *channelConnectionRepository) get(userID uuid.UUID) (*safeConn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[userID]
	return conn, ok
}

func (r *channelConnectionRepository) GetAllConnected() []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	userIDs := make([]uuid.UUID, 0, len(r.conns))
	for userID := range r.conns {
		userIDs = append(userIDs, userID)
	}

	return userIDs
}

func (r *channelConnectionRepository) IsConnected(userID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.conns[userID]
	return ok
}
