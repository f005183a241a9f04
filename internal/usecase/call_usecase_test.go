package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/careline/rtc/internal/domain/events"
	"github.com/careline/rtc/internal/domain/models"
	"github.com/careline/rtc/internal/infra/adapters/memory"
	"github.com/careline/rtc/internal/infra/peer"
)

func init() {
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

type sentSignal struct {
	kind   string
	callID uuid.UUID
}

type fakeSignaler struct {
	mu      sync.Mutex
	sent    []sentSignal
	sendErr map[string]error
}

func newFakeSignaler() *fakeSignaler {
	return &fakeSignaler{sendErr: make(map[string]error)}
}

func (f *fakeSignaler) record(kind string, callID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.sendErr[kind]; err != nil {
		return err
	}
	f.sent = append(f.sent, sentSignal{kind: kind, callID: callID})
	return nil
}

func (f *fakeSignaler) SendOffer(_ context.Context, _ models.MediaKind, callID, _ uuid.UUID, _ webrtc.SessionDescription) error {
	return f.record("offer", callID)
}

func (f *fakeSignaler) SendAccepted(_ context.Context, callID, _ uuid.UUID, _ webrtc.SessionDescription) error {
	return f.record("accepted", callID)
}

func (f *fakeSignaler) SendRejected(_ context.Context, callID, _ uuid.UUID) error {
	return f.record("rejected", callID)
}

func (f *fakeSignaler) SendEnded(_ context.Context, callID, _, _ uuid.UUID) error {
	return f.record("ended", callID)
}

func (f *fakeSignaler) SendCandidate(_ context.Context, callID, _, _ uuid.UUID, _ webrtc.ICECandidateInit) error {
	return f.record("candidate", callID)
}

func (f *fakeSignaler) SendMissed(_ context.Context, callID, _ uuid.UUID) error {
	return f.record("missed", callID)
}

func (f *fakeSignaler) count(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, s := range f.sent {
		if s.kind == kind {
			n++
		}
	}
	return n
}

type fakeChannel struct {
	mu        sync.Mutex
	connected bool
	forced    bool
	waitErr   error
}

func (f *fakeChannel) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeChannel) ForceReconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forced = true
}

func (f *fakeChannel) WaitConnected(_ context.Context, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.waitErr != nil {
		return f.waitErr
	}
	f.connected = true
	return nil
}

type fakeConn struct {
	mu sync.Mutex

	tracksErr    error
	setRemoteErr error

	remoteDescs      []webrtc.SessionDescription
	remoteCandidates []webrtc.ICECandidateInit
	signalingReady   bool
	closed           bool

	onState func(webrtc.PeerConnectionState)
}

func (f *fakeConn) AddLocalTracks(_ context.Context, _ models.MediaKind) error {
	return f.tracksErr
}

func (f *fakeConn) CreateOffer(_ context.Context) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer"}, nil
}

func (f *fakeConn) CreateAnswer(_ context.Context) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer"}, nil
}

func (f *fakeConn) SetRemoteDescription(desc webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.setRemoteErr != nil {
		return f.setRemoteErr
	}
	f.remoteDescs = append(f.remoteDescs, desc)
	return nil
}

func (f *fakeConn) AddRemoteCandidate(candidate webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.remoteCandidates = append(f.remoteCandidates, candidate)
	return nil
}

func (f *fakeConn) OnICECandidate(func(webrtc.ICECandidateInit)) {}

func (f *fakeConn) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onState = fn
}

func (f *fakeConn) SignalingReady() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signalingReady = true
}

func (f *fakeConn) SetTrackEnabled(webrtc.RTPCodecType, bool) {}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) candidates() []webrtc.ICECandidateInit {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]webrtc.ICECandidateInit, len(f.remoteCandidates))
	copy(out, f.remoteCandidates)
	return out
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeFactory struct {
	mu      sync.Mutex
	conn    *fakeConn
	err     error
	created int
}

func (f *fakeFactory) Create([]webrtc.ICEServer) (peer.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	f.created++
	if f.conn == nil {
		f.conn = &fakeConn{}
	}
	return f.conn, nil
}

type fakeCallLog struct {
	mu      sync.Mutex
	entries []models.CallLogEntry
}

func (f *fakeCallLog) Append(_ context.Context, entry models.CallLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeCallLog) Recent(context.Context, int) ([]models.CallLogEntry, error) {
	return nil, nil
}

func (f *fakeCallLog) RecentWithPeer(context.Context, uuid.UUID, int) ([]models.CallLogEntry, error) {
	return nil, nil
}

func (f *fakeCallLog) last(t *testing.T) models.CallLogEntry {
	t.Helper()

	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.entries) == 0 {
		t.Fatalf("no call log entries recorded")
	}
	return f.entries[len(f.entries)-1]
}

type fakeMessageWriter struct {
	mu      sync.Mutex
	created []models.Message
}

func (f *fakeMessageWriter) CreateMessage(_ context.Context, msg models.Message) (models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	msg.ID = uuid.New()
	f.created = append(f.created, msg)
	return msg, nil
}

type callFixture struct {
	uc       CallUsecase
	userID   uuid.UUID
	signaler *fakeSignaler
	channel  *fakeChannel
	factory  *fakeFactory
	callLog  *fakeCallLog
	messages *fakeMessageWriter
}

func newCallFixture(policy CallPolicy) *callFixture {
	f := &callFixture{
		userID:   uuid.New(),
		signaler: newFakeSignaler(),
		channel:  &fakeChannel{connected: true},
		factory:  &fakeFactory{},
		callLog:  &fakeCallLog{},
		messages: &fakeMessageWriter{},
	}

	f.uc = NewCallUsecase(
		f.userID,
		policy,
		f.signaler,
		f.channel,
		f.factory,
		func(context.Context) []webrtc.ICEServer {
			return []webrtc.ICEServer{{URLs: []string{"stun:stun.test:19302"}}}
		},
		memory.NewPendingIceRepository(),
		f.callLog,
		f.messages,
	)

	return f
}

func defaultPolicy() CallPolicy {
	return CallPolicy{MissedCallWindow: time.Hour, ConnectWait: time.Second}
}

func incomingEvent(callID, callerID uuid.UUID) events.IncomingCallEvent {
	return events.IncomingCallEvent{
		CallID:   callID,
		CallerID: callerID,
		Kind:     models.MediaAudio,
		Offer:    webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "remote-offer"},
	}
}

func TestStartCallTransitionsToCalling(t *testing.T) {
	f := newCallFixture(defaultPolicy())

	callID, err := f.uc.StartCall(context.Background(), uuid.New(), models.MediaAudio)
	if err != nil {
		t.Fatalf("StartCall() error = %v", err)
	}
	if callID == uuid.Nil {
		t.Fatalf("StartCall() returned nil call id")
	}

	sess, ok := f.uc.ActiveSession()
	if !ok {
		t.Fatalf("ActiveSession() reported no session")
	}
	if sess.State != models.CallCalling {
		t.Fatalf("session state = %q, want %q", sess.State, models.CallCalling)
	}
	if sess.CallID != callID {
		t.Fatalf("session call id = %v, want %v", sess.CallID, callID)
	}
	if got := f.signaler.count("offer"); got != 1 {
		t.Fatalf("offers sent = %d, want 1", got)
	}
	if !f.factory.conn.signalingReady {
		t.Fatalf("SignalingReady() was not invoked after the offer went out")
	}
}

func TestStartCallWhileBusy(t *testing.T) {
	f := newCallFixture(defaultPolicy())

	if _, err := f.uc.StartCall(context.Background(), uuid.New(), models.MediaAudio); err != nil {
		t.Fatalf("StartCall() error = %v", err)
	}

	if _, err := f.uc.StartCall(context.Background(), uuid.New(), models.MediaAudio); !errors.Is(err, ErrCallBusy) {
		t.Fatalf("second StartCall() error = %v, want ErrCallBusy", err)
	}
}

func TestStartCallForcesReconnectWhenChannelDown(t *testing.T) {
	f := newCallFixture(defaultPolicy())
	f.channel.connected = false

	if _, err := f.uc.StartCall(context.Background(), uuid.New(), models.MediaAudio); err != nil {
		t.Fatalf("StartCall() error = %v", err)
	}

	if !f.channel.forced {
		t.Fatalf("ForceReconnect() was not invoked for a down channel")
	}
}

func TestStartCallFailsWhenChannelStaysDown(t *testing.T) {
	f := newCallFixture(defaultPolicy())
	f.channel.connected = false
	f.channel.waitErr = errors.New("timeout")

	_, err := f.uc.StartCall(context.Background(), uuid.New(), models.MediaAudio)
	if !errors.Is(err, ErrChannelUnavailable) {
		t.Fatalf("StartCall() error = %v, want ErrChannelUnavailable", err)
	}

	if _, ok := f.uc.ActiveSession(); ok {
		t.Fatalf("session left behind after failed start")
	}
}

func TestStartCallMediaFailureTearsDown(t *testing.T) {
	f := newCallFixture(defaultPolicy())
	f.factory.conn = &fakeConn{tracksErr: errors.New("permission denied")}

	if _, err := f.uc.StartCall(context.Background(), uuid.New(), models.MediaAudio); err == nil {
		t.Fatalf("StartCall() succeeded despite media failure")
	}

	if _, ok := f.uc.ActiveSession(); ok {
		t.Fatalf("session left behind after media failure")
	}
	if !f.factory.conn.isClosed() {
		t.Fatalf("peer connection not closed after media failure")
	}
	if f.callLog.last(t).Outcome != models.OutcomeFailed {
		t.Fatalf("outcome = %q, want %q", f.callLog.last(t).Outcome, models.OutcomeFailed)
	}
}

func TestCallAcceptedMovesToConnecting(t *testing.T) {
	f := newCallFixture(defaultPolicy())

	callID, err := f.uc.StartCall(context.Background(), uuid.New(), models.MediaAudio)
	if err != nil {
		t.Fatalf("StartCall() error = %v", err)
	}

	f.uc.HandleCallAccepted(context.Background(), events.CallAcceptedEvent{
		CallID: callID,
		Answer: webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "remote-answer"},
	})

	sess, _ := f.uc.ActiveSession()
	if sess.State != models.CallConnecting {
		t.Fatalf("state after answer = %q, want %q", sess.State, models.CallConnecting)
	}
}

func TestStaleCallAcceptedIgnored(t *testing.T) {
	f := newCallFixture(defaultPolicy())

	callID, err := f.uc.StartCall(context.Background(), uuid.New(), models.MediaAudio)
	if err != nil {
		t.Fatalf("StartCall() error = %v", err)
	}

	f.uc.HandleCallAccepted(context.Background(), events.CallAcceptedEvent{
		CallID: uuid.New(),
		Answer: webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "stale"},
	})

	sess, _ := f.uc.ActiveSession()
	if sess.State != models.CallCalling {
		t.Fatalf("stale answer changed state to %q", sess.State)
	}
	if sess.CallID != callID {
		t.Fatalf("stale answer replaced the session")
	}
}

func TestCallRejectedOnlyAppliesWhileCalling(t *testing.T) {
	f := newCallFixture(defaultPolicy())

	callID, err := f.uc.StartCall(context.Background(), uuid.New(), models.MediaAudio)
	if err != nil {
		t.Fatalf("StartCall() error = %v", err)
	}

	f.uc.HandleCallAccepted(context.Background(), events.CallAcceptedEvent{
		CallID: callID,
		Answer: webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "remote-answer"},
	})

	// A late reject after the answer landed must not kill the call.
	f.uc.HandleCallRejected(context.Background(), events.CallRejectedEvent{CallID: callID})

	sess, ok := f.uc.ActiveSession()
	if !ok || sess.State != models.CallConnecting {
		t.Fatalf("late reject tore down a connecting call, state = %q", sess.State)
	}
}

func TestRemoteCandidatesBufferedUntilAnswer(t *testing.T) {
	f := newCallFixture(defaultPolicy())

	callID, err := f.uc.StartCall(context.Background(), uuid.New(), models.MediaAudio)
	if err != nil {
		t.Fatalf("StartCall() error = %v", err)
	}

	early := []events.IceCandidateEvent{
		{CallID: callID, Candidate: webrtc.ICECandidateInit{Candidate: "a"}},
		{CallID: callID, Candidate: webrtc.ICECandidateInit{Candidate: "b"}},
		{CallID: callID, Candidate: webrtc.ICECandidateInit{Candidate: "c"}},
	}
	for _, ev := range early {
		f.uc.HandleRemoteCandidate(context.Background(), ev)
	}

	if got := len(f.factory.conn.candidates()); got != 0 {
		t.Fatalf("candidates applied before the answer: %d", got)
	}

	f.uc.HandleCallAccepted(context.Background(), events.CallAcceptedEvent{
		CallID: callID,
		Answer: webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "remote-answer"},
	})

	applied := f.factory.conn.candidates()
	if len(applied) != len(early) {
		t.Fatalf("applied %d candidates, want %d", len(applied), len(early))
	}
	for i, ev := range early {
		if applied[i].Candidate != ev.Candidate.Candidate {
			t.Fatalf("candidate %d applied out of order: %q", i, applied[i].Candidate)
		}
	}

	// Post-answer candidates skip the buffer.
	f.uc.HandleRemoteCandidate(context.Background(), events.IceCandidateEvent{
		CallID: callID, Candidate: webrtc.ICECandidateInit{Candidate: "d"},
	})
	if got := len(f.factory.conn.candidates()); got != 4 {
		t.Fatalf("direct candidate not applied, total = %d", got)
	}
}

func TestCandidateForUnknownCallIgnored(t *testing.T) {
	f := newCallFixture(defaultPolicy())

	callID, err := f.uc.StartCall(context.Background(), uuid.New(), models.MediaAudio)
	if err != nil {
		t.Fatalf("StartCall() error = %v", err)
	}

	f.uc.HandleRemoteCandidate(context.Background(), events.IceCandidateEvent{
		CallID: uuid.New(), Candidate: webrtc.ICECandidateInit{Candidate: "stray"},
	})

	f.uc.HandleCallAccepted(context.Background(), events.CallAcceptedEvent{
		CallID: callID,
		Answer: webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "remote-answer"},
	})

	if got := len(f.factory.conn.candidates()); got != 0 {
		t.Fatalf("stray candidate leaked into the session, applied = %d", got)
	}
}

func TestMissedCallTimeout(t *testing.T) {
	f := newCallFixture(CallPolicy{MissedCallWindow: 30 * time.Millisecond, ConnectWait: time.Second})

	if _, err := f.uc.StartCall(context.Background(), uuid.New(), models.MediaAudio); err != nil {
		t.Fatalf("StartCall() error = %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		if _, ok := f.uc.ActiveSession(); !ok {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("missed-call timer never fired")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if got := f.signaler.count("missed"); got != 1 {
		t.Fatalf("missed_call signals = %d, want 1", got)
	}
	if got := f.signaler.count("ended"); got != 1 {
		t.Fatalf("call_ended signals = %d, want 1", got)
	}

	f.messages.mu.Lock()
	created := len(f.messages.created)
	var msgType models.MessageType
	if created > 0 {
		msgType = f.messages.created[0].Type
	}
	f.messages.mu.Unlock()

	if created != 1 || msgType != models.MessageMissedCall {
		t.Fatalf("missed-call message not appended, created = %d type = %q", created, msgType)
	}
	if f.callLog.last(t).Outcome != models.OutcomeMissed {
		t.Fatalf("outcome = %q, want %q", f.callLog.last(t).Outcome, models.OutcomeMissed)
	}
}

func TestAnswerCancelsMissedTimer(t *testing.T) {
	f := newCallFixture(CallPolicy{MissedCallWindow: 40 * time.Millisecond, ConnectWait: time.Second})

	callID, err := f.uc.StartCall(context.Background(), uuid.New(), models.MediaAudio)
	if err != nil {
		t.Fatalf("StartCall() error = %v", err)
	}

	f.uc.HandleCallAccepted(context.Background(), events.CallAcceptedEvent{
		CallID: callID,
		Answer: webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "remote-answer"},
	})

	time.Sleep(100 * time.Millisecond)

	if got := f.signaler.count("missed"); got != 0 {
		t.Fatalf("missed_call fired after the answer, signals = %d", got)
	}
	if sess, ok := f.uc.ActiveSession(); !ok || sess.State != models.CallConnecting {
		t.Fatalf("answered call torn down by stale timer")
	}
}

func TestIncomingCallWhileBusyRejected(t *testing.T) {
	f := newCallFixture(defaultPolicy())

	if _, err := f.uc.StartCall(context.Background(), uuid.New(), models.MediaAudio); err != nil {
		t.Fatalf("StartCall() error = %v", err)
	}

	f.uc.HandleIncomingCall(context.Background(), incomingEvent(uuid.New(), uuid.New()))

	if got := f.signaler.count("rejected"); got != 1 {
		t.Fatalf("busy rejections sent = %d, want 1", got)
	}
	if sess, _ := f.uc.ActiveSession(); sess.State != models.CallCalling {
		t.Fatalf("busy incoming call disturbed the active session, state = %q", sess.State)
	}
}

func TestDuplicateIncomingCallIgnored(t *testing.T) {
	f := newCallFixture(defaultPolicy())

	ev := incomingEvent(uuid.New(), uuid.New())
	f.uc.HandleIncomingCall(context.Background(), ev)
	f.uc.HandleIncomingCall(context.Background(), ev)

	if got := f.signaler.count("rejected"); got != 0 {
		t.Fatalf("duplicate delivery of the same call was rejected, signals = %d", got)
	}
}

func TestAcceptIncomingCall(t *testing.T) {
	f := newCallFixture(defaultPolicy())

	callID := uuid.New()
	f.uc.HandleIncomingCall(context.Background(), incomingEvent(callID, uuid.New()))

	// Candidates arriving while ringing wait for the answer path.
	f.uc.HandleRemoteCandidate(context.Background(), events.IceCandidateEvent{
		CallID: callID, Candidate: webrtc.ICECandidateInit{Candidate: "early"},
	})

	if err := f.uc.Accept(context.Background()); err != nil {
		t.Fatalf("Accept() error = %v", err)
	}

	sess, _ := f.uc.ActiveSession()
	if sess.State != models.CallConnecting {
		t.Fatalf("state after accept = %q, want %q", sess.State, models.CallConnecting)
	}
	if got := f.signaler.count("accepted"); got != 1 {
		t.Fatalf("accept signals = %d, want 1", got)
	}

	applied := f.factory.conn.candidates()
	if len(applied) != 1 || applied[0].Candidate != "early" {
		t.Fatalf("buffered candidate not applied on accept: %v", applied)
	}
}

func TestAcceptWithoutIncomingCall(t *testing.T) {
	f := newCallFixture(defaultPolicy())

	if err := f.uc.Accept(context.Background()); !errors.Is(err, ErrNoIncomingCall) {
		t.Fatalf("Accept() error = %v, want ErrNoIncomingCall", err)
	}
}

func TestAcceptMediaFailureRejectsCall(t *testing.T) {
	f := newCallFixture(defaultPolicy())
	f.factory.conn = &fakeConn{tracksErr: errors.New("permission denied")}

	f.uc.HandleIncomingCall(context.Background(), incomingEvent(uuid.New(), uuid.New()))

	if err := f.uc.Accept(context.Background()); err == nil {
		t.Fatalf("Accept() succeeded despite media failure")
	}

	if got := f.signaler.count("rejected"); got != 1 {
		t.Fatalf("caller was not told about the failed accept, rejections = %d", got)
	}
	if _, ok := f.uc.ActiveSession(); ok {
		t.Fatalf("session left behind after failed accept")
	}
}

func TestRejectIncomingCall(t *testing.T) {
	f := newCallFixture(defaultPolicy())

	f.uc.HandleIncomingCall(context.Background(), incomingEvent(uuid.New(), uuid.New()))

	if err := f.uc.Reject(context.Background()); err != nil {
		t.Fatalf("Reject() error = %v", err)
	}

	if got := f.signaler.count("rejected"); got != 1 {
		t.Fatalf("reject signals = %d, want 1", got)
	}
	if f.callLog.last(t).Outcome != models.OutcomeRejected {
		t.Fatalf("outcome = %q, want %q", f.callLog.last(t).Outcome, models.OutcomeRejected)
	}
}

func TestHangUpConnectedCall(t *testing.T) {
	f := newCallFixture(defaultPolicy())

	callID, err := f.uc.StartCall(context.Background(), uuid.New(), models.MediaAudio)
	if err != nil {
		t.Fatalf("StartCall() error = %v", err)
	}

	f.uc.HandleCallAccepted(context.Background(), events.CallAcceptedEvent{
		CallID: callID,
		Answer: webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "remote-answer"},
	})

	f.factory.conn.onState(webrtc.PeerConnectionStateConnected)

	if sess, _ := f.uc.ActiveSession(); sess.State != models.CallConnected {
		t.Fatalf("state after transport connect = %q, want %q", sess.State, models.CallConnected)
	}

	if err = f.uc.HangUp(context.Background()); err != nil {
		t.Fatalf("HangUp() error = %v", err)
	}

	if got := f.signaler.count("ended"); got != 1 {
		t.Fatalf("ended signals = %d, want 1", got)
	}
	if !f.factory.conn.isClosed() {
		t.Fatalf("peer connection not closed on hang-up")
	}
	if f.callLog.last(t).Outcome != models.OutcomeCompleted {
		t.Fatalf("outcome = %q, want %q", f.callLog.last(t).Outcome, models.OutcomeCompleted)
	}
}

func TestRemoteHangUpBeforeConnectLogsCancelled(t *testing.T) {
	f := newCallFixture(defaultPolicy())

	callID, err := f.uc.StartCall(context.Background(), uuid.New(), models.MediaAudio)
	if err != nil {
		t.Fatalf("StartCall() error = %v", err)
	}

	f.uc.HandleCallEnded(context.Background(), events.CallEndedEvent{CallID: callID})

	if _, ok := f.uc.ActiveSession(); ok {
		t.Fatalf("session survived remote hang-up")
	}
	if f.callLog.last(t).Outcome != models.OutcomeCancelled {
		t.Fatalf("outcome = %q, want %q", f.callLog.last(t).Outcome, models.OutcomeCancelled)
	}
}

func TestMissedNoticeDrivesMissedOutcome(t *testing.T) {
	f := newCallFixture(defaultPolicy())

	callID := uuid.New()
	f.uc.HandleIncomingCall(context.Background(), incomingEvent(callID, uuid.New()))

	f.uc.HandleMissedCallNotice(context.Background(), events.MissedCallEvent{CallID: callID})
	f.uc.HandleCallEnded(context.Background(), events.CallEndedEvent{CallID: callID})

	if f.callLog.last(t).Outcome != models.OutcomeMissed {
		t.Fatalf("outcome = %q, want %q", f.callLog.last(t).Outcome, models.OutcomeMissed)
	}
}

func TestTransportFailureTearsDown(t *testing.T) {
	f := newCallFixture(defaultPolicy())

	callID, err := f.uc.StartCall(context.Background(), uuid.New(), models.MediaAudio)
	if err != nil {
		t.Fatalf("StartCall() error = %v", err)
	}

	f.uc.HandleCallAccepted(context.Background(), events.CallAcceptedEvent{
		CallID: callID,
		Answer: webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "remote-answer"},
	})

	f.factory.conn.onState(webrtc.PeerConnectionStateFailed)

	if _, ok := f.uc.ActiveSession(); ok {
		t.Fatalf("session survived transport failure")
	}
	if f.callLog.last(t).Outcome != models.OutcomeFailed {
		t.Fatalf("outcome = %q, want %q", f.callLog.last(t).Outcome, models.OutcomeFailed)
	}
}

func TestToggleMuteRequiresCall(t *testing.T) {
	f := newCallFixture(defaultPolicy())

	if _, err := f.uc.ToggleMute(); !errors.Is(err, ErrNoActiveCall) {
		t.Fatalf("ToggleMute() error = %v, want ErrNoActiveCall", err)
	}

	if _, err := f.uc.StartCall(context.Background(), uuid.New(), models.MediaAudio); err != nil {
		t.Fatalf("StartCall() error = %v", err)
	}

	muted, err := f.uc.ToggleMute()
	if err != nil {
		t.Fatalf("ToggleMute() error = %v", err)
	}
	if !muted {
		t.Fatalf("first toggle should mute")
	}

	muted, _ = f.uc.ToggleMute()
	if muted {
		t.Fatalf("second toggle should unmute")
	}
}

func TestObserverSeesLifecycle(t *testing.T) {
	f := newCallFixture(defaultPolicy())

	var mu sync.Mutex
	var states []models.CallState
	f.uc.SetObserver(func(sess models.CallSession) {
		mu.Lock()
		states = append(states, sess.State)
		mu.Unlock()
	})

	callID, err := f.uc.StartCall(context.Background(), uuid.New(), models.MediaAudio)
	if err != nil {
		t.Fatalf("StartCall() error = %v", err)
	}
	f.uc.HandleCallAccepted(context.Background(), events.CallAcceptedEvent{
		CallID: callID,
		Answer: webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "remote-answer"},
	})
	if err = f.uc.HangUp(context.Background()); err != nil {
		t.Fatalf("HangUp() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()

	want := []models.CallState{models.CallCalling, models.CallConnecting, models.CallEnded, models.CallIdle}
	if len(states) != len(want) {
		t.Fatalf("observer states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("observer states = %v, want %v", states, want)
		}
	}
}
