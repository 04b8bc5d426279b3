package call

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/petervdpas/goassist/internal/media"
)

type State int

const (
	NoCall State = iota
	PendingConfirmation
	Active
)

func (s State) String() string {
	switch s {
	case NoCall:
		return "no-call"
	case PendingConfirmation:
		return "pending-confirmation"
	case Active:
		return "active"
	}
	return "unknown"
}

// Offer is an incoming media call on the peer transport. *peer.Call
// satisfies it. Callbacks may fire on any goroutine.
type Offer interface {
	Peer() string
	Answer(ctx context.Context, s media.Stream) error
	Close() error
	OnStream(fn func(*webrtc.TrackRemote))
	OnClose(fn func())
	OnError(fn func(error))
	ReplaceVideoTrack(track webrtc.TrackLocal) error
}

// UI is the externally rendered call window.
type UI interface {
	SetAgentName(name string)
	SetRemoteTrack(track *webrtc.TrackRemote)
	SetLocalStream(s media.Stream)
	SetCallEndAction(fn func())
	PlayRemote()
	Remove()
}

// Emitter sends outbound signaling events.
type Emitter interface {
	Emit(name string, args ...any)
}
