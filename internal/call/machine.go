// Package call runs the incoming-call state machine:
// NoCall -> PendingConfirmation -> Active -> NoCall.
//
// Every exported method except State, Peer and CallingAgent must run on the
// owning loop. Blocking steps (the confirmation prompt, media acquisition,
// the SDP answer) run through loop.Await and re-check that their attempt is
// still current before touching state.
package call

import (
	"context"
	"log"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/petervdpas/goassist/internal/confirm"
	"github.com/petervdpas/goassist/internal/lease"
	"github.com/petervdpas/goassist/internal/loop"
	"github.com/petervdpas/goassist/internal/media"
	"github.com/petervdpas/goassist/internal/store"
)

type Config struct {
	Loop  *loop.Loop
	Sig   Emitter
	Store store.Store
	// PeerKey is the store key mirroring the peer id of an active call.
	PeerKey string
	Prompt  func() confirm.Prompt
	Media   media.Acquirer
	NewUI   func() UI
	OnStart lease.Func
}

// attempt is one offer's journey through the machine.
type attempt struct {
	offer  Offer
	ctx    context.Context
	cancel context.CancelFunc

	prompt *confirm.Pending
	stream media.Stream
	ui     UI
	lease  *lease.Lease
}

type Machine struct {
	cfg Config

	// cur is only touched on the loop.
	cur *attempt

	agentName    string
	callingAgent string

	// snapshot for readers off the loop
	mu    sync.RWMutex
	state State
	peer  string
}

func New(cfg Config) *Machine {
	if cfg.Store == nil {
		cfg.Store = store.NewMemory()
	}
	if cfg.PeerKey == "" {
		cfg.PeerKey = "__openreplay_calling_peer"
	}
	return &Machine{cfg: cfg}
}

func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Peer is the transport id of the current caller, if any.
func (m *Machine) Peer() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.peer
}

func (m *Machine) CallingAgent() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.callingAgent
}

func (m *Machine) setState(s State, peer string) {
	m.mu.Lock()
	m.state = s
	m.peer = peer
	m.mu.Unlock()

	if s == Active {
		if err := m.cfg.Store.Set(m.cfg.PeerKey, peer); err != nil {
			log.Printf("CALL [%s]: persist calling peer: %v", peer, err)
		}
	}
}

// HandleOffer starts the machine on an incoming call. A call arriving while
// another is pending or active is closed at once; the caller is not told why.
func (m *Machine) HandleOffer(o Offer) {
	peer := o.Peer()
	if m.cur != nil {
		safely("close busy offer", o.Close)
		log.Printf("CALL [%s]: closed instantly, line busy (%s)", peer, m.State())
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &attempt{offer: o, ctx: ctx, cancel: cancel}
	m.cur = a
	m.setState(PendingConfirmation, peer)

	o.OnClose(func() {
		m.cfg.Loop.Post(func() {
			if m.cur == a {
				log.Printf("CALL [%s]: transport closed", peer)
				m.teardown(a)
			}
		})
	})
	o.OnError(func(err error) {
		m.cfg.Loop.Post(func() {
			if m.cur == a {
				log.Printf("CALL [%s]: transport error: %v", peer, err)
				m.hangup(a)
			}
		})
	})

	stored, err := m.cfg.Store.Get(m.cfg.PeerKey)
	if err != nil {
		log.Printf("CALL [%s]: read calling peer: %v", peer, err)
	}
	if stored != "" && stored == peer {
		log.Printf("CALL [%s]: resuming call after reload", peer)
		m.accept(a)
		return
	}

	if m.cfg.Prompt == nil {
		m.hangup(a)
		return
	}
	a.prompt = confirm.Start(m.cfg.Prompt())
	loop.Await(m.cfg.Loop, a.prompt.Wait, func(ok bool, err error) {
		if m.cur != a {
			return
		}
		switch {
		case err != nil:
			log.Printf("CALL [%s]: confirmation abandoned", peer)
			m.hangup(a)
		case !ok:
			log.Printf("CALL [%s]: declined", peer)
			m.hangup(a)
		default:
			a.prompt.Dispose()
			a.prompt = nil
			m.accept(a)
		}
	})
}

func (m *Machine) accept(a *attempt) {
	peer := a.offer.Peer()
	if m.cfg.Media == nil {
		log.Printf("CALL [%s]: no media source configured", peer)
		m.hangup(a)
		return
	}
	loop.Await(m.cfg.Loop, func() (media.Stream, error) {
		return m.cfg.Media(a.ctx)
	}, func(s media.Stream, err error) {
		if m.cur != a {
			if s != nil {
				safely("close orphaned stream", s.Close)
			}
			return
		}
		if err != nil {
			log.Printf("CALL [%s]: local media request error: %v", peer, err)
			m.hangup(a)
			return
		}
		a.stream = s
		m.connect(a)
	})
}

func (m *Machine) connect(a *attempt) {
	peer := a.offer.Peer()

	var ui UI = nopUI{}
	if m.cfg.NewUI != nil {
		ui = m.cfg.NewUI()
	}
	a.ui = ui
	ui.SetAgentName(m.agentName)

	played := false
	a.offer.OnStream(func(track *webrtc.TrackRemote) {
		m.cfg.Loop.Post(func() {
			if m.cur != a {
				return
			}
			ui.SetRemoteTrack(track)
			if !played {
				played = true
				ui.PlayRemote()
			}
		})
	})
	a.stream.OnVideoTrack(func(track webrtc.TrackLocal) {
		m.cfg.Loop.Post(func() {
			if m.cur == a {
				m.replaceVideo(a, track)
			}
		})
	})
	ui.SetCallEndAction(func() {
		m.cfg.Loop.Post(func() {
			if m.cur == a {
				m.hangup(a)
			}
		})
	})
	ui.SetLocalStream(a.stream)

	stream := a.stream
	loop.Await(m.cfg.Loop, func() (struct{}, error) {
		return struct{}{}, a.offer.Answer(a.ctx, stream)
	}, func(_ struct{}, err error) {
		if m.cur != a {
			return
		}
		if err != nil {
			log.Printf("CALL [%s]: answer failed: %v", peer, err)
			m.hangup(a)
			return
		}
		m.setState(Active, peer)
		a.lease = lease.Acquire("call-start", m.cfg.OnStart)
		log.Printf("CALL [%s]: active", peer)
	})
}

func (m *Machine) replaceVideo(a *attempt, track webrtc.TrackLocal) {
	if err := a.offer.ReplaceVideoTrack(track); err != nil {
		log.Printf("CALL [%s]: replace video track: %v", a.offer.Peer(), err)
	}
}

// hangup tells the backend the call is over, then tears down. Declines,
// failed acquisition and local end actions all come through here.
func (m *Machine) hangup(a *attempt) {
	m.cfg.Sig.Emit("call_end")
	m.teardown(a)
}

// teardown is the single exit from PendingConfirmation and Active. Each step
// is isolated so one failure cannot strand the rest.
func (m *Machine) teardown(a *attempt) {
	m.finish(a, false)
}

func (m *Machine) finish(a *attempt, keepKey bool) {
	if m.cur != a {
		return
	}
	m.cur = nil
	peer := a.offer.Peer()

	a.cancel()
	if a.prompt != nil {
		safely("dispose prompt", func() error { a.prompt.Dispose(); return nil })
	}
	safely("close call", a.offer.Close)
	if a.ui != nil {
		safely("remove call ui", func() error { a.ui.Remove(); return nil })
	}
	if a.stream != nil {
		safely("close local stream", a.stream.Close)
	}
	a.lease.Release()

	// The agent name belongs to this call; a later caller announces its own.
	m.mu.Lock()
	m.state, m.peer = NoCall, ""
	m.callingAgent = ""
	m.mu.Unlock()
	m.agentName = ""
	if !keepKey {
		if err := m.cfg.Store.Delete(m.cfg.PeerKey); err != nil {
			log.Printf("CALL: clear calling peer: %v", err)
		}
	}
	log.Printf("CALL [%s]: ended", peer)
}

// End is the local end action.
func (m *Machine) End() {
	if m.cur != nil {
		m.hangup(m.cur)
	}
}

// RemoteEnd handles call_end from the backend. While the prompt is still up it
// counts as the caller cancelling.
func (m *Machine) RemoteEnd() {
	a := m.cur
	if a == nil {
		return
	}
	if m.State() == PendingConfirmation {
		log.Printf("CALL [%s]: call_end received during confirmation", a.offer.Peer())
		m.hangup(a)
		return
	}
	m.teardown(a)
}

// SetAgent records which agent is on the line and its display name.
func (m *Machine) SetAgent(id, name string) {
	m.mu.Lock()
	m.callingAgent = id
	m.mu.Unlock()
	m.agentName = name
	if m.cur != nil && m.cur.ui != nil {
		m.cur.ui.SetAgentName(name)
	}
}

// AgentLeft ends the call if id is the calling agent.
func (m *Machine) AgentLeft(id string) {
	if id == "" || id != m.CallingAgent() {
		return
	}
	m.RemoteEnd()
}

// Close tears down whatever is in flight without notifying the backend; the
// channel is going away with it. The persisted calling peer is kept so a
// restart within the same session resumes the call without a prompt.
func (m *Machine) Close() {
	if m.cur != nil {
		m.finish(m.cur, true)
	}
}

func safely(step string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("CALL: %s panicked: %v", step, r)
		}
	}()
	if err := fn(); err != nil {
		log.Printf("CALL: %s: %v", step, err)
	}
}

type nopUI struct{}

func (nopUI) SetAgentName(string)                {}
func (nopUI) SetRemoteTrack(*webrtc.TrackRemote) {}
func (nopUI) SetLocalStream(media.Stream)        {}
func (nopUI) SetCallEndAction(func())            {}
func (nopUI) PlayRemote()                        {}
func (nopUI) Remove()                            {}
