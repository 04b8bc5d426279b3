// Package capture acquires camera and microphone tracks through
// pion/mediadevices. The codec selector used for capture must also populate
// the peer connection's MediaEngine, so both sides come from here.
package capture

import (
	"sync"

	"github.com/pion/mediadevices"
	"github.com/pion/webrtc/v4"
)

// Options limit what is captured.
type Options struct {
	MaxWidth  int
	MaxHeight int
	VideoBPS  int
	NoVideo   bool
	PreferCam string
	PreferMic string
}

// stream adapts a set of mediadevices tracks to media.Stream.
type stream struct {
	mu       sync.Mutex
	tracks   []mediadevices.Track
	handlers []func(webrtc.TrackLocal)
	closed   bool
}

func (s *stream) Tracks() []webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]webrtc.TrackLocal, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t)
	}
	return out
}

func (s *stream) OnVideoTrack(fn func(webrtc.TrackLocal)) {
	s.mu.Lock()
	s.handlers = append(s.handlers, fn)
	s.mu.Unlock()
}

// swapVideo installs next as the video track, closes the one it replaces and
// notifies handlers.
func (s *stream) swapVideo(next mediadevices.Track) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		next.Close()
		return
	}
	var old mediadevices.Track
	for i, t := range s.tracks {
		if t.Kind() == webrtc.RTPCodecTypeVideo {
			old = t
			s.tracks[i] = next
			break
		}
	}
	if old == nil {
		s.tracks = append(s.tracks, next)
	}
	hs := make([]func(webrtc.TrackLocal), len(s.handlers))
	copy(hs, s.handlers)
	s.mu.Unlock()

	for _, fn := range hs {
		fn(next)
	}
	if old != nil {
		old.Close()
	}
}

func (s *stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	tracks := s.tracks
	s.tracks = nil
	s.handlers = nil
	s.mu.Unlock()

	for _, t := range tracks {
		t.Close()
	}
	return nil
}
