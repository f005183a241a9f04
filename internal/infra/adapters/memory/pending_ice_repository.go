package memory

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/careline/rtc/internal/application/metric"
)

// PendingIceRepository buffers remote ICE candidates that arrive before
// the remote description of their call is applied. Candidates and the
// offer/answer travel as independent signaling messages, so candidates
// racing ahead is the normal case, not the exception.
type PendingIceRepository interface {
	Enqueue(callID uuid.UUID, candidate webrtc.ICECandidateInit)

	// Drain removes and returns the queued candidates in arrival order.
	// A second Drain for the same call returns nothing.
	Drain(callID uuid.UUID) []webrtc.ICECandidateInit

	// Discard drops the queue without returning it. Used when the call
	// ends before a remote description was ever applied.
	Discard(callID uuid.UUID)

	Len(callID uuid.UUID) int
}

type pendingIceRepository struct {
	// queues хранит map[call_id][]candidate
	queues map[uuid.UUID][]webrtc.ICECandidateInit

	mu sync.Mutex
}

func NewPendingIceRepository() PendingIceRepository {
	return &pendingIceRepository{
		queues: make(map[uuid.UUID][]webrtc.ICECandidateInit),
	}
}

func (r *pendingIceRepository) Enqueue(callID uuid.UUID, candidate webrtc.ICECandidateInit) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.queues[callID] = append(r.queues[callID], candidate)

	metric.AddBufferedCandidates(1)
}

func (r *pendingIceRepository) Drain(callID uuid.UUID) []webrtc.ICECandidateInit {
	r.mu.Lock()
	defer r.mu.Unlock()

	queue, ok := r.queues[callID]
	if !ok {
		return nil
	}

	delete(r.queues, callID)

	metric.AddBufferedCandidates(-len(queue))

	return queue
}

func (r *pendingIceRepository) Discard(callID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if queue, ok := r.queues[callID]; ok {
		delete(r.queues, callID)

		metric.AddBufferedCandidates(-len(queue))
	}
}

func (r *pendingIceRepository) Len(callID uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.queues[callID])
}
