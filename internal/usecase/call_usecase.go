package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/careline/rtc/internal/application/constant"
	"github.com/careline/rtc/internal/application/metric"
	"github.com/careline/rtc/internal/domain/events"
	"github.com/careline/rtc/internal/domain/models"
	"github.com/careline/rtc/internal/infra/adapters/memory"
	"github.com/careline/rtc/internal/infra/adapters/sqlite"
	"github.com/careline/rtc/internal/infra/peer"
)

var (
	ErrCallBusy           = errors.New("a call is already active")
	ErrNoActiveCall       = errors.New("no active call")
	ErrNoIncomingCall     = errors.New("no incoming call to answer")
	ErrChannelUnavailable = errors.New("event channel unavailable")
)

// Signaler posts outbound signaling. Satisfied by signal.Client.
type Signaler interface {
	SendOffer(ctx context.Context, kind models.MediaKind, callID, receiverID uuid.UUID, offer webrtc.SessionDescription) error
	SendAccepted(ctx context.Context, callID, callerID uuid.UUID, answer webrtc.SessionDescription) error
	SendRejected(ctx context.Context, callID, callerID uuid.UUID) error
	SendEnded(ctx context.Context, callID, callerID, receiverID uuid.UUID) error
	SendCandidate(ctx context.Context, callID, callerID, receiverID uuid.UUID, candidate webrtc.ICECandidateInit) error
	SendMissed(ctx context.Context, callID, receiverID uuid.UUID) error
}

// ChannelControl is the slice of the event channel client a call needs:
// a call must not proceed on a channel that cannot deliver the answer.
type ChannelControl interface {
	IsConnected() bool
	ForceReconnect()
	WaitConnected(ctx context.Context, timeout time.Duration) error
}

// MessageWriter appends durable conversation entries (the missed-call
// message). Satisfied by store.Client.
type MessageWriter interface {
	CreateMessage(ctx context.Context, msg models.Message) (models.Message, error)
}

// IceServersFunc resolves the ICE server list at call time (config STUN
// plus short-term TURN credentials fetched from the relay).
type IceServersFunc func(ctx context.Context) []webrtc.ICEServer

// CallPolicy holds the tunable timing constants. Values are policy, not
// correctness: see the missed-call and connect-wait defaults in config.
type CallPolicy struct {
	MissedCallWindow time.Duration
	ConnectWait      time.Duration
}

// CallUsecase is the single source of truth for the call lifecycle. It
// arbitrates local user actions against remote signaling events and
// owns the one active session, its peer connection and its timers.
type CallUsecase interface {
	StartCall(ctx context.Context, receiverID uuid.UUID, kind models.MediaKind) (uuid.UUID, error)
	Accept(ctx context.Context) error
	Reject(ctx context.Context) error
	HangUp(ctx context.Context) error
	ToggleMute() (bool, error)
	ToggleVideo() (bool, error)
	ActiveSession() (models.CallSession, bool)

	HandleIncomingCall(ctx context.Context, ev events.IncomingCallEvent)
	HandleCallAccepted(ctx context.Context, ev events.CallAcceptedEvent)
	HandleCallRejected(ctx context.Context, ev events.CallRejectedEvent)
	HandleCallEnded(ctx context.Context, ev events.CallEndedEvent)
	HandleRemoteCandidate(ctx context.Context, ev events.IceCandidateEvent)
	HandleMissedCallNotice(ctx context.Context, ev events.MissedCallEvent)

	SetObserver(fn func(models.CallSession))
	Shutdown(ctx context.Context)
}

// session is the mutable state behind one CallSession snapshot.
type session struct {
	id         uuid.UUID
	direction  models.CallDirection
	remoteID   uuid.UUID
	remoteName string
	kind       models.MediaKind
	state      models.CallState

	conn          peer.Connection
	pendingOffer  *webrtc.SessionDescription
	remoteDescSet bool
	missedTimer   *time.Timer
	missedNotice  bool

	muted    bool
	videoOff bool

	createdAt   time.Time
	connectedAt time.Time
}

func (s *session) snapshot() models.CallSession {
	return models.CallSession{
		CallID:       s.id,
		Direction:    s.direction,
		RemoteUserID: s.remoteID,
		RemoteName:   s.remoteName,
		MediaKind:    s.kind,
		State:        s.state,
		Muted:        s.muted,
		VideoOff:     s.videoOff,
		CreatedAt:    s.createdAt,
		ConnectedAt:  s.connectedAt,
	}
}

type callUsecase struct {
	userID uuid.UUID
	policy CallPolicy

	signaler   Signaler
	channel    ChannelControl
	peers      peer.Factory
	iceServers IceServersFunc
	iceBuf     memory.PendingIceRepository
	callLog    sqlite.CallLogRepository
	messages   MessageWriter

	// mu is the single ordering point: user actions, channel events,
	// peer-connection callbacks and the missed-call timer all serialize
	// here, closing the interleavings the design exists to survive.
	mu       sync.Mutex
	sess     *session
	observer func(models.CallSession)
}

func NewCallUsecase(
	userID uuid.UUID,
	policy CallPolicy,
	signaler Signaler,
	channelCtrl ChannelControl,
	peers peer.Factory,
	iceServers IceServersFunc,
	iceBuf memory.PendingIceRepository,
	callLog sqlite.CallLogRepository,
	messages MessageWriter,
) CallUsecase {
	return &callUsecase{
		userID:     userID,
		policy:     policy,
		signaler:   signaler,
		channel:    channelCtrl,
		peers:      peers,
		iceServers: iceServers,
		iceBuf:     iceBuf,
		callLog:    callLog,
		messages:   messages,
	}
}

func (u *callUsecase) SetObserver(fn func(models.CallSession)) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.observer = fn
}

func (u *callUsecase) ActiveSession() (models.CallSession, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.sess == nil {
		return models.CallSession{State: models.CallIdle}, false
	}

	return u.sess.snapshot(), true
}

func (u *callUsecase) StartCall(ctx context.Context, receiverID uuid.UUID, kind models.MediaKind) (uuid.UUID, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.sess != nil {
		return uuid.Nil, ErrCallBusy
	}

	// The channel must be up before ringing: the answer and every ICE
	// event come back through it.
	if !u.channel.IsConnected() {
		u.channel.ForceReconnect()
		if err := u.channel.WaitConnected(ctx, u.policy.ConnectWait); err != nil {
			return uuid.Nil, fmt.Errorf("%w: %w", ErrChannelUnavailable, err)
		}
	}

	// The call id is minted synchronously, before any asynchronous
	// media or network step: candidates emitted at any later point
	// already resolve to it.
	callID := uuid.New()

	sess := &session{
		id:        callID,
		direction: models.DirectionInitiator,
		remoteID:  receiverID,
		kind:      kind,
		state:     models.CallCalling,
		createdAt: time.Now().UTC(),
	}
	u.sess = sess
	metric.IncrementActiveCalls()

	conn, err := u.peers.Create(u.iceServers(ctx))
	if err != nil {
		u.teardownLocked(ctx, models.OutcomeFailed)
		return uuid.Nil, fmt.Errorf("create peer connection: %w", err)
	}
	sess.conn = conn
	u.wireConnLocked(sess)

	if err = conn.AddLocalTracks(ctx, kind); err != nil {
		u.teardownLocked(ctx, models.OutcomeFailed)
		return uuid.Nil, fmt.Errorf("local media: %w", err)
	}

	offer, err := conn.CreateOffer(ctx)
	if err != nil {
		u.teardownLocked(ctx, models.OutcomeFailed)
		return uuid.Nil, fmt.Errorf("create offer: %w", err)
	}

	if err = u.signaler.SendOffer(ctx, kind, callID, receiverID, offer); err != nil {
		// Without the offer the remote side never rings; give up loudly.
		u.teardownLocked(ctx, models.OutcomeFailed)
		return uuid.Nil, fmt.Errorf("send offer: %w", err)
	}

	conn.SignalingReady()

	sess.missedTimer = time.AfterFunc(u.policy.MissedCallWindow, func() {
		u.onMissedTimeout(callID)
	})

	u.notifyLocked()

	return callID, nil
}

func (u *callUsecase) HandleIncomingCall(ctx context.Context, ev events.IncomingCallEvent) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.sess != nil {
		if ev.CallID == u.sess.id {
			return
		}

		// Busy: decline right away so the caller is not left ringing.
		if err := u.signaler.SendRejected(ctx, ev.CallID, ev.CallerID); err != nil {
			slog.Error("decline while busy", slog.Any(constant.Error, err))
		}
		return
	}

	offer := ev.Offer
	u.sess = &session{
		id:           ev.CallID,
		direction:    models.DirectionReceiver,
		remoteID:     ev.CallerID,
		remoteName:   ev.CallerName,
		kind:         ev.Kind,
		state:        models.CallIncoming,
		pendingOffer: &offer,
		createdAt:    time.Now().UTC(),
	}
	metric.IncrementActiveCalls()

	u.notifyLocked()
}

func (u *callUsecase) Accept(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	sess := u.sess
	if sess == nil || sess.state != models.CallIncoming {
		return ErrNoIncomingCall
	}

	conn, err := u.peers.Create(u.iceServers(ctx))
	if err != nil {
		u.rejectAndTeardownLocked(ctx, models.OutcomeFailed)
		return fmt.Errorf("create peer connection: %w", err)
	}
	sess.conn = conn
	u.wireConnLocked(sess)

	if err = conn.AddLocalTracks(ctx, sess.kind); err != nil {
		// Permission denial is fatal to this attempt only; the caller
		// is told so their side does not ring out.
		u.rejectAndTeardownLocked(ctx, models.OutcomeFailed)
		return fmt.Errorf("local media: %w", err)
	}

	if err = conn.SetRemoteDescription(*sess.pendingOffer); err != nil {
		u.rejectAndTeardownLocked(ctx, models.OutcomeFailed)
		return fmt.Errorf("apply remote offer: %w", err)
	}
	sess.remoteDescSet = true
	sess.pendingOffer = nil

	u.flushCandidatesLocked(sess)

	answer, err := conn.CreateAnswer(ctx)
	if err != nil {
		u.rejectAndTeardownLocked(ctx, models.OutcomeFailed)
		return fmt.Errorf("create answer: %w", err)
	}

	if err = u.signaler.SendAccepted(ctx, sess.id, sess.remoteID, answer); err != nil {
		u.rejectAndTeardownLocked(ctx, models.OutcomeFailed)
		return fmt.Errorf("send answer: %w", err)
	}

	conn.SignalingReady()

	sess.state = models.CallConnecting
	u.notifyLocked()

	return nil
}

func (u *callUsecase) Reject(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	sess := u.sess
	if sess == nil || sess.state != models.CallIncoming {
		return ErrNoIncomingCall
	}

	if err := u.signaler.SendRejected(ctx, sess.id, sess.remoteID); err != nil {
		// Local teardown proceeds regardless; the server relay is
		// best-effort from our point of view.
		slog.Error("send call_rejected", slog.Any(constant.Error, err), slog.Any(constant.CallID, sess.id))
	}

	u.teardownLocked(ctx, models.OutcomeRejected)

	return nil
}

func (u *callUsecase) HangUp(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	sess := u.sess
	if sess == nil {
		return ErrNoActiveCall
	}

	var err error
	if sess.state == models.CallIncoming {
		err = u.signaler.SendRejected(ctx, sess.id, sess.remoteID)
	} else {
		err = u.signaler.SendEnded(ctx, sess.id, u.callerIDLocked(), u.receiverIDLocked())
	}
	if err != nil {
		slog.Error("notify remote of hang-up", slog.Any(constant.Error, err), slog.Any(constant.CallID, sess.id))
	}

	outcome := models.OutcomeCancelled
	if !sess.connectedAt.IsZero() {
		outcome = models.OutcomeCompleted
	}
	u.teardownLocked(ctx, outcome)

	return nil
}

func (u *callUsecase) HandleCallAccepted(ctx context.Context, ev events.CallAcceptedEvent) {
	u.mu.Lock()
	defer u.mu.Unlock()

	sess := u.sess
	if sess == nil || sess.id != ev.CallID || sess.state != models.CallCalling {
		u.logStale(events.TypeCallAccepted, ev.CallID)
		return
	}

	// The timer is cancelled on the way out of calling, before anything
	// async: answer processing taking its time must not ring out.
	u.stopMissedTimerLocked(sess)

	if err := sess.conn.SetRemoteDescription(ev.Answer); err != nil {
		slog.Error("apply remote answer", slog.Any(constant.Error, err), slog.Any(constant.CallID, sess.id))
		if err = u.signaler.SendEnded(ctx, sess.id, u.callerIDLocked(), u.receiverIDLocked()); err != nil {
			slog.Error("send call_ended", slog.Any(constant.Error, err))
		}
		u.teardownLocked(ctx, models.OutcomeFailed)
		return
	}
	sess.remoteDescSet = true

	u.flushCandidatesLocked(sess)

	sess.state = models.CallConnecting
	u.notifyLocked()
}

func (u *callUsecase) HandleCallRejected(ctx context.Context, ev events.CallRejectedEvent) {
	u.mu.Lock()
	defer u.mu.Unlock()

	sess := u.sess
	if sess == nil || sess.id != ev.CallID || sess.state != models.CallCalling {
		u.logStale(events.TypeCallRejected, ev.CallID)
		return
	}

	u.teardownLocked(ctx, models.OutcomeRejected)
}

func (u *callUsecase) HandleCallEnded(ctx context.Context, ev events.CallEndedEvent) {
	u.mu.Lock()
	defer u.mu.Unlock()

	sess := u.sess
	if sess == nil || sess.id != ev.CallID {
		u.logStale(events.TypeCallEnded, ev.CallID)
		return
	}

	outcome := models.OutcomeCancelled
	switch {
	case sess.missedNotice:
		outcome = models.OutcomeMissed
	case !sess.connectedAt.IsZero():
		outcome = models.OutcomeCompleted
	}

	u.teardownLocked(ctx, outcome)
}

func (u *callUsecase) HandleRemoteCandidate(_ context.Context, ev events.IceCandidateEvent) {
	u.mu.Lock()
	defer u.mu.Unlock()

	sess := u.sess
	if sess == nil || sess.id != ev.CallID {
		u.logStale(events.TypeIceCandidate, ev.CallID)
		return
	}

	// Candidates racing ahead of the description are buffered, never
	// dropped: dropping would silently cost network paths.
	if !sess.remoteDescSet {
		u.iceBuf.Enqueue(sess.id, ev.Candidate)
		return
	}

	if err := sess.conn.AddRemoteCandidate(ev.Candidate); err != nil {
		slog.Error("add remote candidate", slog.Any(constant.Error, err), slog.Any(constant.CallID, sess.id))
	}
}

// HandleMissedCallNotice marks the ringing session as rung-out so the
// teardown driven by the companion call_ended logs it as missed, not as
// a remote hang-up.
func (u *callUsecase) HandleMissedCallNotice(_ context.Context, ev events.MissedCallEvent) {
	u.mu.Lock()
	defer u.mu.Unlock()

	sess := u.sess
	if sess == nil || sess.id != ev.CallID {
		u.logStale(events.TypeMissedCall, ev.CallID)
		return
	}

	sess.missedNotice = true
	u.notifyLocked()
}

func (u *callUsecase) ToggleMute() (bool, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	sess := u.sess
	if sess == nil || sess.conn == nil {
		return false, ErrNoActiveCall
	}

	sess.muted = !sess.muted
	sess.conn.SetTrackEnabled(webrtc.RTPCodecTypeAudio, !sess.muted)
	u.notifyLocked()

	return sess.muted, nil
}

func (u *callUsecase) ToggleVideo() (bool, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	sess := u.sess
	if sess == nil || sess.conn == nil {
		return false, ErrNoActiveCall
	}

	sess.videoOff = !sess.videoOff
	sess.conn.SetTrackEnabled(webrtc.RTPCodecTypeVideo, !sess.videoOff)
	u.notifyLocked()

	return sess.videoOff, nil
}

func (u *callUsecase) Shutdown(ctx context.Context) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.sess == nil {
		return
	}

	if err := u.signaler.SendEnded(ctx, u.sess.id, u.callerIDLocked(), u.receiverIDLocked()); err != nil {
		slog.Error("send call_ended on shutdown", slog.Any(constant.Error, err))
	}

	outcome := models.OutcomeCancelled
	if !u.sess.connectedAt.IsZero() {
		outcome = models.OutcomeCompleted
	}
	u.teardownLocked(ctx, outcome)
}

// onMissedTimeout fires when the missed-call window elapses with no
// answer. Exits from calling stop the timer synchronously; the state
// check below only covers the window where the timer already fired and
// was waiting on the lock.
func (u *callUsecase) onMissedTimeout(callID uuid.UUID) {
	u.mu.Lock()
	defer u.mu.Unlock()

	sess := u.sess
	if sess == nil || sess.id != callID || sess.state != models.CallCalling {
		return
	}

	ctx := context.Background()

	// missed_call is distinct from call_ended so the receiver can tell
	// "rang out" from "they hung up".
	if err := u.signaler.SendMissed(ctx, callID, sess.remoteID); err != nil {
		slog.Error("send missed_call", slog.Any(constant.Error, err), slog.Any(constant.CallID, callID))
	}
	if err := u.signaler.SendEnded(ctx, callID, u.userID, sess.remoteID); err != nil {
		slog.Error("send call_ended", slog.Any(constant.Error, err), slog.Any(constant.CallID, callID))
	}

	if _, err := u.messages.CreateMessage(ctx, models.Message{
		ReceiverID: sess.remoteID,
		Type:       models.MessageMissedCall,
		Content:    fmt.Sprintf("Missed %s call", sess.kind),
	}); err != nil {
		slog.Error("append missed-call message", slog.Any(constant.Error, err), slog.Any(constant.CallID, callID))
	}

	u.teardownLocked(ctx, models.OutcomeMissed)
}

// handleConnectionState reacts to the native transport's verdict. A
// terminal state is authoritative even if the application-level
// call_ended never arrives.
func (u *callUsecase) handleConnectionState(callID uuid.UUID, state webrtc.PeerConnectionState) {
	u.mu.Lock()
	defer u.mu.Unlock()

	sess := u.sess
	if sess == nil || sess.id != callID {
		return
	}

	switch state {
	case webrtc.PeerConnectionStateConnected:
		if sess.state == models.CallConnecting {
			sess.state = models.CallConnected
			sess.connectedAt = time.Now().UTC()
			u.stopMissedTimerLocked(sess)
			u.notifyLocked()
		}

	case webrtc.PeerConnectionStateDisconnected,
		webrtc.PeerConnectionStateFailed,
		webrtc.PeerConnectionStateClosed:
		outcome := models.OutcomeFailed
		if !sess.connectedAt.IsZero() {
			outcome = models.OutcomeCompleted
		}
		u.teardownLocked(context.Background(), outcome)
	}
}

func (u *callUsecase) wireConnLocked(sess *session) {
	callID := sess.id
	remoteID := sess.remoteID

	sess.conn.OnICECandidate(func(candidate webrtc.ICECandidateInit) {
		// Fire-and-forget: a lost candidate degrades path choice, it
		// does not abort the call.
		if err := u.signaler.SendCandidate(context.Background(), callID, u.userID, remoteID, candidate); err != nil {
			slog.Error("send ice candidate", slog.Any(constant.Error, err), slog.Any(constant.CallID, callID))
		}
	})

	sess.conn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		u.handleConnectionState(callID, state)
	})
}

// flushCandidatesLocked drains the receive-side buffer in arrival order
// the moment the remote description lands. Exactly once per call.
func (u *callUsecase) flushCandidatesLocked(sess *session) {
	for _, candidate := range u.iceBuf.Drain(sess.id) {
		if err := sess.conn.AddRemoteCandidate(candidate); err != nil {
			slog.Error("apply buffered candidate", slog.Any(constant.Error, err), slog.Any(constant.CallID, sess.id))
		}
	}
}

func (u *callUsecase) rejectAndTeardownLocked(ctx context.Context, outcome models.CallOutcome) {
	sess := u.sess
	if sess == nil {
		return
	}

	if err := u.signaler.SendRejected(ctx, sess.id, sess.remoteID); err != nil {
		slog.Error("send call_rejected", slog.Any(constant.Error, err), slog.Any(constant.CallID, sess.id))
	}

	u.teardownLocked(ctx, outcome)
}

// teardownLocked is the only path into ended. Every resource release
// here is unconditional: it runs for remote hang-ups, local hang-ups,
// timeouts and error paths alike.
func (u *callUsecase) teardownLocked(ctx context.Context, outcome models.CallOutcome) {
	sess := u.sess
	if sess == nil {
		return
	}

	u.stopMissedTimerLocked(sess)
	u.iceBuf.Discard(sess.id)

	if sess.conn != nil {
		if err := sess.conn.Close(); err != nil {
			slog.Error("close peer connection", slog.Any(constant.Error, err), slog.Any(constant.CallID, sess.id))
		}
	}

	sess.state = models.CallEnded
	u.notifyLocked()

	u.appendLog(ctx, sess, outcome)

	u.sess = nil
	metric.DecrementActiveCalls()

	slog.Info(
		"call ended",
		slog.Any(constant.CallID, sess.id),
		slog.Any(constant.PeerID, sess.remoteID),
		slog.String(constant.Outcome, string(outcome)),
	)

	// Cleanup complete: the machine is back at idle.
	if u.observer != nil {
		u.observer(models.CallSession{State: models.CallIdle})
	}
}

func (u *callUsecase) stopMissedTimerLocked(sess *session) {
	if sess.missedTimer != nil {
		sess.missedTimer.Stop()
		sess.missedTimer = nil
	}
}

func (u *callUsecase) appendLog(ctx context.Context, sess *session, outcome models.CallOutcome) {
	if u.callLog == nil {
		return
	}

	entry := models.CallLogEntry{
		CallID:    sess.id,
		PeerID:    sess.remoteID,
		Direction: sess.direction,
		MediaKind: sess.kind,
		Outcome:   outcome,
		StartedAt: sess.createdAt,
		EndedAt:   time.Now().UTC(),
	}
	if !sess.connectedAt.IsZero() {
		entry.DurationSeconds = int64(time.Since(sess.connectedAt) / time.Second)
	}

	if err := u.callLog.Append(ctx, entry); err != nil {
		slog.Error("append call log", slog.Any(constant.Error, err), slog.Any(constant.CallID, sess.id))
	}
}

func (u *callUsecase) callerIDLocked() uuid.UUID {
	if u.sess.direction == models.DirectionInitiator {
		return u.userID
	}
	return u.sess.remoteID
}

func (u *callUsecase) receiverIDLocked() uuid.UUID {
	if u.sess.direction == models.DirectionInitiator {
		return u.sess.remoteID
	}
	return u.userID
}

func (u *callUsecase) notifyLocked() {
	if u.observer != nil && u.sess != nil {
		u.observer(u.sess.snapshot())
	}
}

func (u *callUsecase) logStale(eventType string, callID uuid.UUID) {
	slog.Debug(
		"ignoring stale signaling event",
		slog.String(constant.EventType, eventType),
		slog.Any(constant.CallID, callID),
	)
}
