// Package assist binds the signaling channel, agent registry, call machine and
// control authorizer to a capture host's lifecycle.
package assist

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/petervdpas/goassist/internal/agents"
	"github.com/petervdpas/goassist/internal/call"
	"github.com/petervdpas/goassist/internal/confirm"
	"github.com/petervdpas/goassist/internal/control"
	"github.com/petervdpas/goassist/internal/lease"
	"github.com/petervdpas/goassist/internal/loop"
	"github.com/petervdpas/goassist/internal/media"
	"github.com/petervdpas/goassist/internal/signal"
	"github.com/petervdpas/goassist/internal/store"
	"github.com/petervdpas/goassist/internal/title"
)

// RestartState tells the lifecycle handlers whether a stop/start pair came
// from the host or from the assist layer re-baselining capture.
type RestartState int32

const (
	Idle RestartState = iota
	InternalRestart
)

func (s RestartState) String() string {
	if s == InternalRestart {
		return "internal-restart"
	}
	return "idle"
}

type Options struct {
	// SignalEndpoint is the backend websocket, e.g. wss://host/ws-assist/socket.
	SignalEndpoint string
	Dialer         *websocket.Dialer
	// Debugf mirrors inbound signaling frames. Defaults to log.Printf.
	Debugf func(format string, args ...any)

	CallingPeerKey string
	ControlPeerKey string
	Store          store.Store

	Transport     Transport
	CallPrompt    func() confirm.Prompt
	ControlPrompt func() confirm.Prompt
	Media         media.Acquirer
	NewCallUI     func() call.UI
	Pointer       control.Pointer
	Title         title.Source

	// BatchFilter drops captured batches that should not be relayed.
	// Defaults to StatsOnly(0, 49).
	BatchFilter func([]json.RawMessage) bool

	OnAgentConnect       lease.Func
	OnCallStart          lease.Func
	OnRemoteControlStart lease.Func
}

// Assist is the per-capture-instance context. It owns all call and control
// state; nothing here is global.
type Assist struct {
	opts Options
	host Host

	loop     *loop.Loop
	sig      *signal.Manager
	registry *agents.Registry
	calls    *call.Machine
	control  *control.Authorizer

	restart atomic.Int32
	ctx     context.Context
	cancel  context.CancelFunc

	// loop-owned
	running   bool
	stopTitle func()
}

func New(host Host, opts Options) (*Assist, error) {
	if host == nil {
		return nil, errors.New("assist: host is required")
	}
	if opts.SignalEndpoint == "" {
		return nil, errors.New("assist: signal endpoint is required")
	}
	if opts.Store == nil {
		opts.Store = store.NewMemory()
	}
	if opts.BatchFilter == nil {
		opts.BatchFilter = StatsOnly(0, 49)
	}
	if opts.Title == nil {
		opts.Title = title.Static("")
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &Assist{
		opts:     opts,
		host:     host,
		loop:     loop.New(512),
		registry: agents.NewRegistry(opts.OnAgentConnect),
		ctx:      ctx,
		cancel:   cancel,
	}
	a.sig = signal.New(signal.Options{
		Endpoint: opts.SignalEndpoint,
		Exec:     a.loop.Post,
		Debugf:   opts.Debugf,
		Dialer:   opts.Dialer,
	})
	a.calls = call.New(call.Config{
		Loop:    a.loop,
		Sig:     a.sig,
		Store:   opts.Store,
		PeerKey: opts.CallingPeerKey,
		Prompt:  opts.CallPrompt,
		Media:   opts.Media,
		NewUI:   opts.NewCallUI,
		OnStart: opts.OnCallStart,
	})
	a.control = control.New(control.Config{
		Loop:    a.loop,
		Sig:     a.sig,
		Store:   opts.Store,
		PeerKey: opts.ControlPeerKey,
		Prompt:  opts.ControlPrompt,
		Pointer: opts.Pointer,
		OnStart: opts.OnRemoteControlStart,
	})

	a.bindSignals()
	a.bindHost()
	go a.loop.Run()
	return a, nil
}

func (a *Assist) bindHost() {
	h := a.host
	h.OnStart(func() {
		if a.RestartState() == InternalRestart {
			return
		}
		a.loop.Post(a.onStart)
	})
	h.OnStop(func() {
		if a.RestartState() == InternalRestart {
			return
		}
		a.loop.Post(a.onStop)
	})
	h.OnCommit(func(batch []json.RawMessage) {
		a.loop.Post(func() {
			if a.registry.IsEmpty() || a.opts.BatchFilter(batch) {
				return
			}
			a.sig.Emit("messages", batch)
		})
	})
	h.OnVisibility(func(visible bool) {
		a.loop.Post(func() {
			a.sig.Emit("UPDATE_SESSION", map[string]any{"active": visible})
		})
	})
	h.OnSessionUpdate(func(info map[string]any) {
		a.loop.Post(func() {
			a.sig.Emit("UPDATE_SESSION", info)
		})
	})
}

func (a *Assist) bindSignals() {
	s := a.sig
	s.On("NEW_AGENT", func(args signal.Args) {
		if a.registry.Add(args.String(0), args.Map(1)) {
			a.restartHost()
		}
	})
	s.On("AGENTS_CONNECTED", func(args signal.Args) {
		ids := args.Strings(0)
		added := false
		for _, id := range ids {
			if a.registry.Add(id, nil) {
				added = true
			}
		}
		if added {
			a.restartHost()
		}
		a.control.Resume(ids)
	})
	s.On("AGENT_DISCONNECTED", func(args signal.Args) {
		id := args.String(0)
		a.registry.Remove(id)
		a.control.AgentLeft(id)
		a.calls.AgentLeft(id)
	})
	s.On("NO_AGENT", func(signal.Args) {
		// Disconnect hooks are skipped, but whoever held control or the
		// call is gone too.
		a.registry.ResetAll()
		a.control.Reset()
		a.calls.AgentLeft(a.calls.CallingAgent())
	})
	s.On("request_control", func(args signal.Args) {
		a.control.RequestControl(args.String(0))
	})
	s.On("release_control", func(args signal.Args) {
		a.control.ReleaseControl(args.String(0))
	})
	s.On("scroll", func(args signal.Args) {
		var d control.Delta
		if err := args.Decode(1, &d); err == nil {
			a.control.Scroll(args.String(0), d)
		}
	})
	s.On("click", func(args signal.Args) {
		var p control.Point
		if err := args.Decode(1, &p); err == nil {
			a.control.Click(args.String(0), p)
		}
	})
	s.On("move", func(args signal.Args) {
		var p control.Point
		if err := args.Decode(1, &p); err == nil {
			a.control.Move(args.String(0), p)
		}
	})
	s.On("call_end", func(signal.Args) {
		a.calls.RemoteEnd()
	})
	s.On("_agent_name", func(args signal.Args) {
		id, name := args.String(0), args.String(1)
		a.registry.SetName(id, name)
		a.calls.SetAgent(id, name)
	})
}

// restartHost stops and restarts capture so newly joined agents get a fresh
// baseline. The restart state suppresses the lifecycle handlers meanwhile and
// is cleared even when Start fails.
func (a *Assist) restartHost() {
	if !a.restart.CompareAndSwap(int32(Idle), int32(InternalRestart)) {
		return
	}
	defer a.restart.Store(int32(Idle))

	log.Printf("ASSIST: restarting capture for agent baseline")
	a.host.Stop()
	if err := a.host.Start(a.ctx); err != nil {
		log.Printf("ASSIST: capture restart failed: %v", err)
	}
}

func (a *Assist) RestartState() RestartState {
	return RestartState(a.restart.Load())
}

func (a *Assist) peerID() string {
	return signal.PeerID(a.host.ProjectKey(), a.host.SessionID())
}

func (a *Assist) onStart() {
	if a.running {
		return
	}
	a.running = true
	peerID := a.peerID()

	info := map[string]any{}
	for k, v := range a.host.SessionInfo() {
		info[k] = v
	}
	info["pageTitle"] = a.opts.Title.Title()

	loop.Await(a.loop, func() (struct{}, error) {
		return struct{}{}, a.sig.Open(a.ctx, peerID, info)
	}, func(_ struct{}, err error) {
		if err != nil {
			log.Printf("ASSIST: signaling unavailable: %v", err)
			return
		}
		if !a.running {
			a.sig.Close()
		}
	})

	if tr := a.opts.Transport; tr != nil {
		loop.Await(a.loop, func() (struct{}, error) {
			return struct{}{}, tr.Open(a.ctx, peerID)
		}, func(_ struct{}, err error) {
			if err != nil {
				log.Printf("ASSIST: peer transport unavailable: %v", err)
				return
			}
			if !a.running {
				tr.Close()
			}
		})
	}

	stop, err := a.opts.Title.Observe(func(t string) {
		a.loop.Post(func() {
			a.sig.Emit("UPDATE_SESSION", map[string]any{"pageTitle": t})
		})
	})
	if err != nil {
		log.Printf("ASSIST: title observation unavailable: %v", err)
		stop = func() {}
	}
	a.stopTitle = stop
	log.Printf("ASSIST: started for %s", peerID)
}

// onStop tears everything down. Steps are independent: a failing one is
// logged and the rest still run.
func (a *Assist) onStop() {
	if !a.running {
		return
	}
	a.running = false

	step("end call", a.calls.Close)
	step("release control", a.control.Close)
	if tr := a.opts.Transport; tr != nil {
		step("close peer transport", tr.Close)
	}
	step("close signaling", a.sig.Close)
	if a.stopTitle != nil {
		step("stop title observer", a.stopTitle)
		a.stopTitle = nil
	}
	step("release agents", a.registry.ReleaseAll)
	log.Printf("ASSIST: stopped")
}

func step(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ASSIST: %s failed: %v", name, r)
		}
	}()
	fn()
}

// HandleOffer routes an incoming peer call to the call machine.
func (a *Assist) HandleOffer(o call.Offer) {
	a.loop.Post(func() { a.calls.HandleOffer(o) })
}

// EndCall hangs up the current call, if any.
func (a *Assist) EndCall() {
	a.loop.Post(a.calls.End)
}

func (a *Assist) CallState() call.State { return a.calls.State() }

func (a *Assist) Controlling() string { return a.control.Controlling() }

// Agents returns the connected agents.
func (a *Assist) Agents() []agents.Agent {
	var out []agents.Agent
	a.loop.Do(func() {
		for _, id := range a.registry.IDs() {
			if ag, ok := a.registry.Get(id); ok {
				out = append(out, ag)
			}
		}
	})
	return out
}

// Close tears down as if the host had stopped and ends the event loop.
func (a *Assist) Close() {
	a.loop.Do(a.onStop)
	a.cancel()
	a.loop.Close()
}
