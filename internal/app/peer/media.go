package peer

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
)

// LocalMedia is a set of captured outgoing tracks. Release frees the capture devices.
type LocalMedia struct {
	Audio webrtc.TrackLocal
	Video webrtc.TrackLocal

	release func()
	once    sync.Once
}

// NewLocalMedia wraps tracks; release is called once by Release and may be nil.
func NewLocalMedia(audio, video webrtc.TrackLocal, release func()) *LocalMedia {
	return &LocalMedia{Audio: audio, Video: video, release: release}
}

func (m *LocalMedia) Release() {
	if m == nil {
		return
	}
	m.once.Do(func() {
		if m.release != nil {
			m.release()
		}
	})
}

// MediaSource captures local media. Both calls may block on a user consent prompt.
type MediaSource interface {
	Acquire(ctx context.Context) (*LocalMedia, error)
	AcquireScreen(ctx context.Context) (*LocalMedia, error)
}

// StaticSource produces sample-based tracks without any capture device, for
// headless participants. Samples can be written to the returned tracks.
type StaticSource struct {
	StreamID string
}

func (s StaticSource) streamID() string {
	if s.StreamID == "" {
		return "meetline"
	}
	return s.StreamID
}

func (s StaticSource) Acquire(context.Context) (*LocalMedia, error) {
	audio, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", s.streamID())
	if err != nil {
		return nil, err
	}
	video, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "camera", s.streamID())
	if err != nil {
		return nil, err
	}
	return NewLocalMedia(audio, video, nil), nil
}

func (s StaticSource) AcquireScreen(context.Context) (*LocalMedia, error) {
	video, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "screen", s.streamID())
	if err != nil {
		return nil, err
	}
	return NewLocalMedia(nil, video, nil), nil
}
