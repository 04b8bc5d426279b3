// Package control grants pointer control of the session to at most one agent
// at a time. All methods except Controlling must run on the owning loop.
package control

import (
	"log"
	"sync"

	"github.com/petervdpas/goassist/internal/confirm"
	"github.com/petervdpas/goassist/internal/lease"
	"github.com/petervdpas/goassist/internal/loop"
	"github.com/petervdpas/goassist/internal/store"
)

type Emitter interface {
	Emit(name string, args ...any)
}

type Config struct {
	Loop  *loop.Loop
	Sig   Emitter
	Store store.Store
	// PeerKey is the store key mirroring the controlling agent id.
	PeerKey string
	Prompt  func() confirm.Prompt
	Pointer Pointer
	OnStart lease.Func
}

type request struct {
	agent  string
	prompt *confirm.Pending
}

type Authorizer struct {
	cfg Config

	pending *request
	lease   *lease.Lease

	mu          sync.RWMutex
	controlling string
}

func New(cfg Config) *Authorizer {
	if cfg.Store == nil {
		cfg.Store = store.NewMemory()
	}
	if cfg.PeerKey == "" {
		cfg.PeerKey = "__openreplay_control_peer"
	}
	return &Authorizer{cfg: cfg}
}

// Controlling returns the agent currently driving the pointer, or "".
func (a *Authorizer) Controlling() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.controlling
}

func (a *Authorizer) setControlling(id string) {
	a.mu.Lock()
	a.controlling = id
	a.mu.Unlock()
}

// RequestControl asks the user to let agentID drive the pointer. A request
// while control is held or another request is pending is rejected outright.
func (a *Authorizer) RequestControl(agentID string) {
	if a.Controlling() != "" || a.pending != nil {
		log.Printf("CONTROL: request from %s rejected, control busy", agentID)
		a.cfg.Sig.Emit("control_rejected", agentID)
		return
	}
	if a.cfg.Prompt == nil {
		a.cfg.Sig.Emit("control_rejected", agentID)
		return
	}

	req := &request{agent: agentID, prompt: confirm.Start(a.cfg.Prompt())}
	a.pending = req
	log.Printf("CONTROL: %s requested control", agentID)

	loop.Await(a.cfg.Loop, req.prompt.Wait, func(ok bool, err error) {
		if a.pending != req {
			return
		}
		a.pending = nil
		req.prompt.Dispose()

		if err != nil || !ok {
			log.Printf("CONTROL: request from %s declined", agentID)
			a.cfg.Sig.Emit("control_rejected", agentID)
			return
		}
		if a.grant(agentID) {
			a.cfg.Sig.Emit("control_granted", agentID)
		} else {
			a.cfg.Sig.Emit("control_rejected", agentID)
		}
	})
}

func (a *Authorizer) grant(agentID string) bool {
	if a.cfg.Pointer != nil {
		if err := a.cfg.Pointer.Mount(); err != nil {
			log.Printf("CONTROL: mount pointer for %s: %v", agentID, err)
			return false
		}
	}
	a.setControlling(agentID)
	a.lease = lease.Acquire("remote-control-start", a.cfg.OnStart)
	if err := a.cfg.Store.Set(a.cfg.PeerKey, agentID); err != nil {
		log.Printf("CONTROL: persist controlling agent: %v", err)
	}
	log.Printf("CONTROL: granted to %s", agentID)
	return true
}

// ReleaseControl ends control held by agentID, or withdraws its pending
// request. Ids that hold nothing are ignored.
func (a *Authorizer) ReleaseControl(agentID string) {
	if p := a.pending; p != nil && p.agent == agentID {
		a.pending = nil
		p.prompt.Dispose()
		log.Printf("CONTROL: pending request from %s withdrawn", agentID)
		return
	}
	if agentID == "" || agentID != a.Controlling() {
		return
	}
	a.release(false)
}

// release drops control. keepKey leaves the persisted id in place so a
// restart within the same session can resume.
func (a *Authorizer) release(keepKey bool) {
	id := a.Controlling()
	a.lease.Release()
	a.lease = nil
	if a.cfg.Pointer != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("CONTROL: pointer remove panicked: %v", r)
				}
			}()
			a.cfg.Pointer.Remove()
		}()
	}
	a.setControlling("")
	if !keepKey {
		if err := a.cfg.Store.Delete(a.cfg.PeerKey); err != nil {
			log.Printf("CONTROL: clear controlling agent: %v", err)
		}
	}
	log.Printf("CONTROL: released by %s", id)
}

// Resume re-grants control persisted before a reload if that agent is among
// the connected ones; otherwise the persisted id is dropped.
func (a *Authorizer) Resume(connected []string) {
	stored, err := a.cfg.Store.Get(a.cfg.PeerKey)
	if err != nil {
		log.Printf("CONTROL: read controlling agent: %v", err)
	}
	if stored == "" {
		return
	}
	if cur := a.Controlling(); cur != "" {
		if cur != stored {
			log.Printf("CONTROL: stored controller %s ignored, %s holds control", stored, cur)
		}
		return
	}
	for _, id := range connected {
		if id == stored && a.pending == nil {
			if a.grant(id) {
				a.cfg.Sig.Emit("control_granted", id)
				return
			}
			break
		}
	}
	if err := a.cfg.Store.Delete(a.cfg.PeerKey); err != nil {
		log.Printf("CONTROL: clear controlling agent: %v", err)
	}
}

// AgentLeft drops control or a pending request owned by agentID.
func (a *Authorizer) AgentLeft(agentID string) {
	a.ReleaseControl(agentID)
}

func (a *Authorizer) Scroll(agentID string, d Delta) {
	if a.allowed(agentID) {
		a.cfg.Pointer.Scroll(d)
	}
}

func (a *Authorizer) Click(agentID string, p Point) {
	if a.allowed(agentID) {
		a.cfg.Pointer.Click(p)
	}
}

func (a *Authorizer) Move(agentID string, p Point) {
	if a.allowed(agentID) {
		a.cfg.Pointer.Move(p)
	}
}

func (a *Authorizer) allowed(agentID string) bool {
	return a.cfg.Pointer != nil && agentID != "" && agentID == a.Controlling()
}

// Close releases control and any pending request unconditionally. The
// persisted controller survives so a restart in this session can resume.
func (a *Authorizer) Close() { a.drop(true) }

// Reset is Close for a backend that reports no agents at all: nobody is left
// to resume, so the persisted controller is cleared as well.
func (a *Authorizer) Reset() { a.drop(false) }

func (a *Authorizer) drop(keepKey bool) {
	if p := a.pending; p != nil {
		a.pending = nil
		p.prompt.Dispose()
	}
	if a.Controlling() != "" {
		a.release(keepKey)
	}
}
