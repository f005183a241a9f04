package models

import (
	"time"

	"github.com/google/uuid"
)

type CallOutcome string

const (
	OutcomeCompleted CallOutcome = "completed"
	OutcomeMissed    CallOutcome = "missed"
	OutcomeRejected  CallOutcome = "rejected"
	OutcomeCancelled CallOutcome = "cancelled"
	OutcomeFailed    CallOutcome = "failed"
)

// CallLogEntry is one durable row of local call history.
type CallLogEntry struct {
	ID        int64         `db:"id"`
	CallID    uuid.UUID     `db:"call_id"`
	PeerID    uuid.UUID     `db:"peer_id"`
	Direction CallDirection `db:"direction"`
	MediaKind MediaKind     `db:"media_kind"`
	Outcome   CallOutcome   `db:"outcome"`
	StartedAt time.Time     `db:"started_at"`
	EndedAt   time.Time     `db:"ended_at"`

	// DurationSeconds is zero unless the call reached connected.
	DurationSeconds int64 `db:"duration_seconds"`
}
