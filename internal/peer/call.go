package peer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"

	"github.com/petervdpas/goassist/internal/media"
)

// ErrNoVideoSender is returned by ReplaceVideoTrack when the connection has
// no outbound video.
var ErrNoVideoSender = errors.New("no video sender")

// Call is one incoming media connection from an agent.
type Call struct {
	t      *Transport
	peer   string
	connID string
	pc     *webrtc.PeerConnection

	mu       sync.Mutex
	closed   bool
	answered bool
	onStream func(*webrtc.TrackRemote)
	onClose  func()
	onError  func(error)
}

func (t *Transport) newCall(peerID, connID string, offer webrtc.SessionDescription) (*Call, error) {
	t.mu.Lock()
	ice := t.cfg.ICEServers
	t.mu.Unlock()

	pc, err := t.api.NewPeerConnection(webrtc.Configuration{ICEServers: ice})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	c := &Call{t: t, peer: peerID, connID: connID, pc: pc}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		init := cand.ToJSON()
		_ = t.send(message{
			Type: msgCandidate,
			Dst:  c.peer,
			Payload: &payload{
				Candidate:    &init,
				Type:         "media",
				ConnectionID: c.connID,
			},
		})
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Printf("PEER [%s]: remote %s track %s", c.connID, track.Kind(), track.ID())
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			// Ask for a keyframe so the remote video renders immediately.
			_ = pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())}})
		}
		c.mu.Lock()
		fn := c.onStream
		c.mu.Unlock()
		if fn != nil {
			fn(track)
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Printf("PEER [%s]: connection %s", c.connID, s)
		switch s {
		case webrtc.PeerConnectionStateFailed:
			c.fail(errors.New("peer connection failed"))
		case webrtc.PeerConnectionStateClosed:
			_ = c.Close()
		}
	})

	if err := pc.SetRemoteDescription(offer); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("set remote description: %w", err)
	}
	return c, nil
}

// Peer is the broker id of the calling agent.
func (c *Call) Peer() string { return c.peer }

func (c *Call) ConnectionID() string { return c.connID }

func (c *Call) OnStream(fn func(*webrtc.TrackRemote)) {
	c.mu.Lock()
	c.onStream = fn
	c.mu.Unlock()
}

func (c *Call) OnClose(fn func()) {
	c.mu.Lock()
	c.onClose = fn
	c.mu.Unlock()
}

func (c *Call) OnError(fn func(error)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

// Answer attaches the local tracks and sends the SDP answer. Candidates
// trickle afterwards.
func (c *Call) Answer(ctx context.Context, s media.Stream) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.answered {
		c.mu.Unlock()
		return errors.New("call already answered")
	}
	c.answered = true
	c.mu.Unlock()

	if s != nil {
		for _, tr := range s.Tracks() {
			if _, err := c.pc.AddTrack(tr); err != nil {
				return fmt.Errorf("add %s track: %w", tr.Kind(), err)
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}

	return c.t.send(message{
		Type: msgAnswer,
		Dst:  c.peer,
		Payload: &payload{
			SDP:          c.pc.LocalDescription(),
			Type:         "media",
			ConnectionID: c.connID,
		},
	})
}

// ReplaceVideoTrack swaps the outbound video track in place. Audio and the
// negotiated session are untouched.
func (c *Call) ReplaceVideoTrack(track webrtc.TrackLocal) error {
	for _, s := range c.pc.GetSenders() {
		if tr := s.Track(); tr != nil && tr.Kind() == webrtc.RTPCodecTypeVideo {
			return s.ReplaceTrack(track)
		}
	}
	return ErrNoVideoSender
}

func (c *Call) addCandidate(cand webrtc.ICECandidateInit) {
	if err := c.pc.AddICECandidate(cand); err != nil {
		log.Printf("PEER [%s]: add candidate: %v", c.connID, err)
	}
}

func (c *Call) fail(err error) {
	c.mu.Lock()
	fn := c.onError
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	if fn != nil {
		fn(err)
		return
	}
	_ = c.Close()
}

// Close ends the call. Idempotent; OnClose fires once.
func (c *Call) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	fn := c.onClose
	c.mu.Unlock()

	c.t.forget(c.connID)
	err := c.pc.Close()
	if fn != nil {
		fn()
	}
	return err
}
