package models

import (
	"time"

	"github.com/google/uuid"
)

type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

type CallDirection string

const (
	DirectionInitiator CallDirection = "initiator"
	DirectionReceiver  CallDirection = "receiver"
)

// CallState is the lifecycle position of the single active call session.
type CallState string

const (
	CallIdle       CallState = "idle"
	CallCalling    CallState = "calling"
	CallIncoming   CallState = "incoming"
	CallConnecting CallState = "connecting"
	CallConnected  CallState = "connected"
	CallEnded      CallState = "ended"
)

// CallSession is a snapshot of the active call. At most one session is
// alive per user; it is owned by the call usecase and destroyed on
// reaching ended.
type CallSession struct {
	CallID       uuid.UUID     `json:"callId"`
	Direction    CallDirection `json:"direction"`
	RemoteUserID uuid.UUID     `json:"remoteUserId"`
	RemoteName   string        `json:"remoteName,omitempty"`
	MediaKind    MediaKind     `json:"mediaKind"`
	State        CallState     `json:"state"`
	Muted        bool          `json:"muted"`
	VideoOff     bool          `json:"videoOff"`
	CreatedAt    time.Time     `json:"createdAt"`
	ConnectedAt  time.Time     `json:"connectedAt,omitzero"`
}
