// Package media defines the local media stream handed to a call. Device
// capture lives in media/capture; this package only has the contracts and a
// fixed-track stream.
package media

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
)

// ErrNoDevices is returned when no usable capture device could be opened.
var ErrNoDevices = errors.New("no usable media devices")

// Stream is a set of local tracks. OnVideoTrack handlers fire whenever the
// video source changes (camera switch, screen share) with the new track.
type Stream interface {
	Tracks() []webrtc.TrackLocal
	OnVideoTrack(fn func(webrtc.TrackLocal))
	Close() error
}

// Acquirer opens local media for a call.
type Acquirer func(ctx context.Context) (Stream, error)

// Static is a Stream over caller-provided tracks.
type Static struct {
	mu       sync.Mutex
	tracks   []webrtc.TrackLocal
	handlers []func(webrtc.TrackLocal)
	closed   bool
}

func NewStatic(tracks ...webrtc.TrackLocal) *Static {
	return &Static{tracks: tracks}
}

func (s *Static) Tracks() []webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]webrtc.TrackLocal(nil), s.tracks...)
}

func (s *Static) OnVideoTrack(fn func(webrtc.TrackLocal)) {
	s.mu.Lock()
	s.handlers = append(s.handlers, fn)
	s.mu.Unlock()
}

// SwitchVideo replaces the stream's video track and notifies handlers.
func (s *Static) SwitchVideo(track webrtc.TrackLocal) {
	s.mu.Lock()
	replaced := false
	for i, t := range s.tracks {
		if t.Kind() == webrtc.RTPCodecTypeVideo {
			s.tracks[i] = track
			replaced = true
			break
		}
	}
	if !replaced {
		s.tracks = append(s.tracks, track)
	}
	hs := make([]func(webrtc.TrackLocal), len(s.handlers))
	copy(hs, s.handlers)
	s.mu.Unlock()

	for _, fn := range hs {
		fn(track)
	}
}

func (s *Static) Close() error {
	s.mu.Lock()
	s.closed = true
	s.handlers = nil
	s.mu.Unlock()
	return nil
}

func (s *Static) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
