package peer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/careline/rtc/internal/application/constant"
	"github.com/careline/rtc/internal/application/metric"
	"github.com/careline/rtc/internal/domain/models"
	"github.com/careline/rtc/internal/infra/media"
)

// Connection is one native peer-connection handle scoped to a single
// call. The call usecase owns exactly one at a time.
type Connection interface {
	AddLocalTracks(ctx context.Context, kind models.MediaKind) error

	CreateOffer(ctx context.Context) (webrtc.SessionDescription, error)
	CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error)
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddRemoteCandidate(candidate webrtc.ICECandidateInit) error

	OnICECandidate(fn func(webrtc.ICECandidateInit))
	OnConnectionStateChange(fn func(webrtc.PeerConnectionState))

	// SignalingReady flushes locally gathered candidates that queued up
	// before the offer/answer went out. Candidates generated before
	// signaling is ready are held, never dropped.
	SignalingReady()

	// SetTrackEnabled toggles a local track kind (mute / camera off)
	// without touching the call state.
	SetTrackEnabled(kind webrtc.RTPCodecType, enabled bool)

	Close() error
}

// Factory builds Connections from an ICE server list. At least one STUN
// entry is expected; TURN entries cover restrictive networks.
type Factory interface {
	Create(iceServers []webrtc.ICEServer) (Connection, error)
}

type pionFactory struct {
	provider media.Provider
}

func NewFactory(provider media.Provider) Factory {
	return &pionFactory{provider: provider}
}

func (f *pionFactory) Create(iceServers []webrtc.ICEServer) (Connection, error) {
	if len(iceServers) == 0 {
		return nil, errors.New("at least one ICE server is required")
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	conn := &pionConnection{
		pc:       pc,
		provider: f.provider,
		release:  func() {},
	}

	pc.OnICECandidate(conn.handleLocalCandidate)
	pc.OnTrack(conn.handleRemoteTrack)

	return conn, nil
}

type pionConnection struct {
	pc       *webrtc.PeerConnection
	provider media.Provider

	mu             sync.Mutex
	emit           func(webrtc.ICECandidateInit)
	pending        []webrtc.ICECandidateInit
	signalingReady bool
	senders        map[*webrtc.RTPSender]webrtc.TrackLocal
	release        func()
}

func (c *pionConnection) AddLocalTracks(ctx context.Context, kind models.MediaKind) error {
	tracks, release, err := c.provider.Acquire(ctx, kind)
	if err != nil {
		return fmt.Errorf("acquire local media: %w", err)
	}

	c.mu.Lock()
	c.release = release
	c.mu.Unlock()

	for _, track := range tracks {
		sender, err := c.pc.AddTrack(track)
		if err != nil {
			release()
			return fmt.Errorf("add local track: %w", err)
		}

		c.mu.Lock()
		if c.senders == nil {
			c.senders = make(map[*webrtc.RTPSender]webrtc.TrackLocal)
		}
		c.senders[sender] = track
		c.mu.Unlock()
	}

	return nil
}

func (c *pionConnection) CreateOffer(_ context.Context) (webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}

	if err = c.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}

	return offer, nil
}

func (c *pionConnection) CreateAnswer(_ context.Context) (webrtc.SessionDescription, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}

	if err = c.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}

	return answer, nil
}

func (c *pionConnection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	if err := c.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}

	return nil
}

func (c *pionConnection) AddRemoteCandidate(candidate webrtc.ICECandidateInit) error {
	if err := c.pc.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}

	return nil
}

func (c *pionConnection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.emit = fn
}

func (c *pionConnection) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	c.pc.OnConnectionStateChange(fn)
}

func (c *pionConnection) SignalingReady() {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.signalingReady = true
	emit := c.emit
	c.mu.Unlock()

	if emit == nil {
		return
	}

	for _, candidate := range pending {
		emit(candidate)
	}
}

func (c *pionConnection) SetTrackEnabled(kind webrtc.RTPCodecType, enabled bool) {
	// Replacing the sender track with nil stops outgoing media for that
	// kind; re-enabling restores the original track.
	c.mu.Lock()
	defer c.mu.Unlock()

	for sender, track := range c.senders {
		if track.Kind() != kind {
			continue
		}

		next := track
		if !enabled {
			next = nil
		}

		if err := sender.ReplaceTrack(next); err != nil {
			slog.Error("toggle local track", slog.Any(constant.Error, err))
		}
	}
}

func (c *pionConnection) Close() error {
	c.mu.Lock()
	release := c.release
	c.mu.Unlock()

	release()

	if err := c.pc.Close(); err != nil {
		return fmt.Errorf("close peer connection: %w", err)
	}

	return nil
}

func (c *pionConnection) handleLocalCandidate(candidate *webrtc.ICECandidate) {
	if candidate == nil {
		return
	}

	init := candidate.ToJSON()

	c.mu.Lock()
	if !c.signalingReady {
		c.pending = append(c.pending, init)
		c.mu.Unlock()
		return
	}
	emit := c.emit
	c.mu.Unlock()

	if emit != nil {
		emit(init)
	}
}

// handleRemoteTrack drains inbound RTP so congestion feedback keeps
// flowing and media-flow counters stay honest.
func (c *pionConnection) handleRemoteTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	go func() {
		for {
			pkt, _, err := track.ReadRTP()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					slog.Debug("RTP read ended", slog.Any(constant.Error, err))
				}
				return
			}

			c.observePacket(pkt)
		}
	}()
}

func (c *pionConnection) observePacket(pkt *rtp.Packet) {
	if pkt == nil {
		return
	}

	metric.AddRemoteMediaPackets(1)
}
