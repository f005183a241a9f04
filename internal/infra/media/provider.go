package media

import (
	"context"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/careline/rtc/internal/domain/models"
)

// ErrPermissionDenied marks a media acquisition refused by the
// platform. It is fatal to the call attempt only; no automatic retry.
var ErrPermissionDenied = errors.New("media permission denied")

// Provider acquires the local tracks for a call. Acquisition may take
// unbounded time and must be cancellable; the returned release func
// stops the capture and is safe to call more than once.
type Provider interface {
	Acquire(ctx context.Context, kind models.MediaKind) ([]webrtc.TrackLocal, func(), error)
}

// StaticProvider serves RTP-fed local tracks (opus audio, VP8 video)
// without touching capture hardware. Platform capture backends plug in
// behind the Provider interface.
type StaticProvider struct {
	StreamID string
}

func NewStaticProvider() *StaticProvider {
	return &StaticProvider{StreamID: "careline"}
}

func (p *StaticProvider) Acquire(_ context.Context, kind models.MediaKind) ([]webrtc.TrackLocal, func(), error) {
	audio, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", p.StreamID,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("create audio track: %w", err)
	}

	tracks := []webrtc.TrackLocal{audio}

	if kind == models.MediaVideo {
		video, err := webrtc.NewTrackLocalStaticRTP(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", p.StreamID,
		)
		if err != nil {
			return nil, nil, fmt.Errorf("create video track: %w", err)
		}

		tracks = append(tracks, video)
	}

	return tracks, func() {}, nil
}
