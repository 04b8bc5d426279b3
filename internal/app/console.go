package app

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/pion/webrtc/v4"

	"github.com/petervdpas/goassist/internal/call"
	"github.com/petervdpas/goassist/internal/control"
	"github.com/petervdpas/goassist/internal/lease"
	"github.com/petervdpas/goassist/internal/media"
)

// console renders the call window, the remote pointer and lifecycle notices
// as lines on a terminal.
type console struct {
	mu  sync.Mutex
	out io.Writer

	wmu    sync.Mutex
	window *callWindow
}

func newConsole(out io.Writer) *console {
	return &console{out: out}
}

func (c *console) line(tag *color.Color, label, format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "%s %s %s\n",
		color.HiBlackString(time.Now().Format("15:04:05")),
		tag.Sprintf("%-8s", label),
		fmt.Sprintf(format, args...))
}

var (
	tagCall    = color.New(color.FgCyan, color.Bold)
	tagPointer = color.New(color.FgMagenta, color.Bold)
	tagNotice  = color.New(color.FgGreen)
)

// notice prints start when the capability is taken and stop when released.
func (c *console) notice(start, stop string) lease.Func {
	return func() func() {
		c.line(tagNotice, "assist", "%s", start)
		return func() { c.line(tagNotice, "assist", "%s", stop) }
	}
}

type callWindow struct {
	c      *console
	mu     sync.Mutex
	end    func()
	meters map[string]*meter
}

func (c *console) callWindow() call.UI {
	w := &callWindow{c: c}
	c.wmu.Lock()
	c.window = w
	c.wmu.Unlock()
	c.line(tagCall, "call", "window opened")
	return w
}

// hangup presses the open call window's end button. It reports false when no
// window with an end action is open.
func (c *console) hangup() bool {
	c.wmu.Lock()
	w := c.window
	c.wmu.Unlock()
	if w == nil {
		return false
	}
	w.mu.Lock()
	fn := w.end
	w.mu.Unlock()
	if fn == nil {
		return false
	}
	fn()
	return true
}

func (w *callWindow) SetAgentName(name string) {
	w.c.line(tagCall, "call", "talking to %s", color.New(color.Bold).Sprint(name))
}

func (w *callWindow) SetRemoteTrack(t *webrtc.TrackRemote) {
	if t == nil {
		return
	}
	w.c.line(tagCall, "call", "remote %s track %s", t.Kind(), t.Codec().MimeType)
	w.mu.Lock()
	if w.meters == nil {
		w.meters = make(map[string]*meter)
	}
	m, seen := w.meters[t.Kind().String()]
	if !seen {
		m = &meter{}
		w.meters[t.Kind().String()] = m
	}
	w.mu.Unlock()
	if !seen {
		go m.run(t)
	}
}

func (w *callWindow) SetLocalStream(s media.Stream) {
	if s == nil {
		return
	}
	w.c.line(tagCall, "call", "sending %d local tracks", len(s.Tracks()))
}

func (w *callWindow) SetCallEndAction(fn func()) {
	w.mu.Lock()
	w.end = fn
	w.mu.Unlock()
}

func (w *callWindow) PlayRemote() {
	w.c.line(tagCall, "call", "playing remote media")
}

func (w *callWindow) Remove() {
	w.c.wmu.Lock()
	if w.c.window == w {
		w.c.window = nil
	}
	w.c.wmu.Unlock()

	w.mu.Lock()
	meters := w.meters
	w.mu.Unlock()
	for kind, m := range meters {
		st := m.stats()
		w.c.line(tagCall, "call", "received %s: %d packets, %d bytes, %d frames, %d lost",
			kind, st.Packets, st.Bytes, st.Frames, st.Lost)
	}
	w.c.line(tagCall, "call", "window closed")
}

type pointer struct {
	c *console
}

func (c *console) pointer() control.Pointer { return &pointer{c: c} }

func (p *pointer) Mount() error {
	p.c.line(tagPointer, "pointer", "remote pointer shown")
	return nil
}

func (p *pointer) Remove() {
	p.c.line(tagPointer, "pointer", "remote pointer hidden")
}

func (p *pointer) Scroll(d control.Delta) {
	p.c.line(tagPointer, "pointer", "scroll %+.0f,%+.0f", d.X, d.Y)
}

func (p *pointer) Click(pt control.Point) {
	p.c.line(tagPointer, "pointer", "click at %.0f,%.0f", pt.X, pt.Y)
}

func (p *pointer) Move(pt control.Point) {
	p.c.line(tagPointer, "pointer", "move to %.0f,%.0f", pt.X, pt.Y)
}
