package constant

// Attribute keys used for structured logging.
const (
	Error     = "error"
	UserID    = "user_id"
	PeerID    = "peer_id"
	CallID    = "call_id"
	MessageID = "message_id"
	State     = "state"
	EventType = "event_type"
	Attempt   = "attempt"
	Outcome   = "outcome"
)
