package control

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petervdpas/goassist/internal/confirm"
	"github.com/petervdpas/goassist/internal/loop"
	"github.com/petervdpas/goassist/internal/store"
)

const controlKey = "__control_peer"

type fakePointer struct {
	mu       sync.Mutex
	mounted  bool
	mounts   int
	mountErr error
	clicks   []Point
	moves    []Point
	scrolls  []Delta
}

func (p *fakePointer) Mount() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mountErr != nil {
		return p.mountErr
	}
	p.mounted = true
	p.mounts++
	return nil
}

func (p *fakePointer) Remove()        { p.mu.Lock(); p.mounted = false; p.mu.Unlock() }
func (p *fakePointer) Scroll(d Delta) { p.mu.Lock(); p.scrolls = append(p.scrolls, d); p.mu.Unlock() }
func (p *fakePointer) Click(pt Point) { p.mu.Lock(); p.clicks = append(p.clicks, pt); p.mu.Unlock() }
func (p *fakePointer) Move(pt Point)  { p.mu.Lock(); p.moves = append(p.moves, pt); p.mu.Unlock() }

func (p *fakePointer) isMounted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mounted
}

type fakePrompt struct {
	answer  chan bool
	removed chan struct{}
	once    sync.Once
}

func (p *fakePrompt) Mount(ctx context.Context) (bool, error) {
	select {
	case ok := <-p.answer:
		return ok, nil
	case <-p.removed:
		return false, confirm.ErrAbandoned
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (p *fakePrompt) Remove() { p.once.Do(func() { close(p.removed) }) }

type event struct {
	name  string
	agent string
}

type recorder struct {
	mu     sync.Mutex
	events []event
}

func (r *recorder) Emit(name string, args ...any) {
	e := event{name: name}
	if len(args) > 0 {
		e.agent, _ = args[0].(string)
	}
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) all() []event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event(nil), r.events...)
}

type harness struct {
	t   *testing.T
	l   *loop.Loop
	a   *Authorizer
	ptr *fakePointer
	sig *recorder
	st  *store.Memory

	mu      sync.Mutex
	prompts []*fakePrompt

	started atomic.Int32
	ended   atomic.Int32
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{t: t, l: loop.New(64), ptr: &fakePointer{}, sig: &recorder{}, st: store.NewMemory()}
	go h.l.Run()
	t.Cleanup(h.l.Close)

	h.a = New(Config{
		Loop:    h.l,
		Sig:     h.sig,
		Store:   h.st,
		PeerKey: controlKey,
		Pointer: h.ptr,
		Prompt: func() confirm.Prompt {
			p := &fakePrompt{answer: make(chan bool, 1), removed: make(chan struct{})}
			h.mu.Lock()
			h.prompts = append(h.prompts, p)
			h.mu.Unlock()
			return p
		},
		OnStart: func() func() {
			h.started.Add(1)
			return func() { h.ended.Add(1) }
		},
	})
	return h
}

func (h *harness) on(fn func()) { require.True(h.t, h.l.Do(fn)) }

func (h *harness) prompt(i int) *fakePrompt {
	h.mu.Lock()
	defer h.mu.Unlock()
	require.Greater(h.t, len(h.prompts), i)
	return h.prompts[i]
}

func (h *harness) promptCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.prompts)
}

func (h *harness) waitEvents(n int) []event {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return len(h.sig.all()) >= n }, 2*time.Second, 5*time.Millisecond)
	h.on(func() {})
	return h.sig.all()
}

func (h *harness) stored() string {
	v, _ := h.st.Get(controlKey)
	return v
}

func (h *harness) grantTo(agent string) {
	h.t.Helper()
	n, before := h.promptCount(), len(h.sig.all())
	h.on(func() { h.a.RequestControl(agent) })
	h.prompt(n).answer <- true
	ev := h.waitEvents(before + 1)
	require.Equal(h.t, event{"control_granted", agent}, ev[len(ev)-1])
}

func TestGrantThenRejectSecond(t *testing.T) {
	h := newHarness(t)
	h.grantTo("A1")

	assert.Equal(t, "A1", h.a.Controlling())
	assert.Equal(t, "A1", h.stored())
	assert.True(t, h.ptr.isMounted())
	assert.EqualValues(t, 1, h.started.Load())

	h.on(func() { h.a.RequestControl("A2") })
	assert.Equal(t, []event{{"control_granted", "A1"}, {"control_rejected", "A2"}}, h.sig.all())
	assert.Equal(t, 1, h.promptCount(), "request while held must not prompt")
	assert.Equal(t, "A1", h.a.Controlling())
}

func TestRequestWhilePendingIsRejected(t *testing.T) {
	h := newHarness(t)
	h.on(func() { h.a.RequestControl("A1") })
	h.on(func() { h.a.RequestControl("A2") })

	assert.Equal(t, []event{{"control_rejected", "A2"}}, h.sig.all())
	assert.Equal(t, 1, h.promptCount())
}

func TestDecline(t *testing.T) {
	h := newHarness(t)
	h.on(func() { h.a.RequestControl("A1") })
	h.prompt(0).answer <- false

	ev := h.waitEvents(1)
	assert.Equal(t, []event{{"control_rejected", "A1"}}, ev)
	assert.Empty(t, h.a.Controlling())
	assert.Empty(t, h.stored())
	assert.False(t, h.ptr.isMounted())

	// The slot is free again.
	h.grantTo("A2")
	assert.Equal(t, "A2", h.a.Controlling())
}

func TestAbandonedPromptRejects(t *testing.T) {
	h := newHarness(t)
	h.on(func() { h.a.RequestControl("A1") })
	h.prompt(0).Remove()

	ev := h.waitEvents(1)
	assert.Equal(t, event{"control_rejected", "A1"}, ev[0])
	assert.Empty(t, h.a.Controlling())
}

func TestMountFailureRejects(t *testing.T) {
	h := newHarness(t)
	h.ptr.mountErr = errors.New("no overlay")
	h.on(func() { h.a.RequestControl("A1") })
	h.prompt(0).answer <- true

	ev := h.waitEvents(1)
	assert.Equal(t, event{"control_rejected", "A1"}, ev[0])
	assert.Empty(t, h.a.Controlling())
	assert.Zero(t, h.started.Load())
}

func TestPointerEventsOnlyFromController(t *testing.T) {
	h := newHarness(t)
	h.on(func() {
		h.a.Click("A1", Point{1, 1})
	})
	h.grantTo("A1")

	h.on(func() {
		h.a.Click("A1", Point{10, 20})
		h.a.Move("A1", Point{30, 40})
		h.a.Scroll("A1", Delta{0, 120})
		h.a.Click("A2", Point{99, 99})
		h.a.Move("", Point{99, 99})
	})

	h.ptr.mu.Lock()
	defer h.ptr.mu.Unlock()
	assert.Equal(t, []Point{{10, 20}}, h.ptr.clicks)
	assert.Equal(t, []Point{{30, 40}}, h.ptr.moves)
	assert.Equal(t, []Delta{{0, 120}}, h.ptr.scrolls)
}

func TestReleaseOnlyByController(t *testing.T) {
	h := newHarness(t)
	h.grantTo("A1")

	h.on(func() { h.a.ReleaseControl("A2") })
	assert.Equal(t, "A1", h.a.Controlling())

	h.on(func() { h.a.ReleaseControl("A1") })
	assert.Empty(t, h.a.Controlling())
	assert.Empty(t, h.stored())
	assert.False(t, h.ptr.isMounted())
	assert.EqualValues(t, 1, h.ended.Load())

	h.on(func() { h.a.ReleaseControl("A1") })
	assert.EqualValues(t, 1, h.ended.Load())
}

func TestControllerDisconnect(t *testing.T) {
	h := newHarness(t)
	h.grantTo("A1")

	h.on(func() { h.a.AgentLeft("A1") })
	assert.Empty(t, h.a.Controlling())
	assert.Empty(t, h.stored())
	assert.False(t, h.ptr.isMounted())
}

func TestPendingRequesterDisconnect(t *testing.T) {
	h := newHarness(t)
	h.on(func() { h.a.RequestControl("A1") })
	p := h.prompt(0)

	h.on(func() { h.a.AgentLeft("A1") })
	select {
	case <-p.removed:
	default:
		t.Fatal("prompt should have been removed")
	}
	time.Sleep(20 * time.Millisecond)
	h.on(func() {})
	assert.Empty(t, h.sig.all(), "withdrawn request gets no answer")

	h.grantTo("A2")
}

func TestResumeAfterReload(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.st.Set(controlKey, "A1"))

	h.on(func() { h.a.Resume([]string{"A0", "A1"}) })
	assert.Equal(t, "A1", h.a.Controlling())
	assert.Zero(t, h.promptCount())
	assert.True(t, h.ptr.isMounted())
	assert.Equal(t, []event{{"control_granted", "A1"}}, h.sig.all())
}

func TestResumeWithAbsentAgentDiscardsKey(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.st.Set(controlKey, "A1"))

	h.on(func() { h.a.Resume([]string{"A2"}) })
	assert.Empty(t, h.a.Controlling())
	assert.Empty(t, h.stored())
	assert.Empty(t, h.sig.all())
	assert.False(t, h.ptr.isMounted())
}

func TestGrantPersistReloadRoundTrip(t *testing.T) {
	h := newHarness(t)
	h.grantTo("A1")

	// Same store, fresh authorizer: what a reload looks like.
	l := loop.New(8)
	go l.Run()
	defer l.Close()
	ptr := &fakePointer{}
	sig := &recorder{}
	b := New(Config{Loop: l, Sig: sig, Store: h.st, PeerKey: controlKey, Pointer: ptr})

	l.Do(func() { b.Resume([]string{"A1"}) })
	assert.Equal(t, "A1", b.Controlling())
	assert.Equal(t, []event{{"control_granted", "A1"}}, sig.all())
}

func TestCloseKeepsResumeKey(t *testing.T) {
	h := newHarness(t)
	h.grantTo("A1")

	h.on(h.a.Close)
	assert.Empty(t, h.a.Controlling())
	assert.False(t, h.ptr.isMounted())
	assert.EqualValues(t, 1, h.ended.Load())
	assert.Equal(t, "A1", h.stored())
}

func TestResetClearsControllerAndPending(t *testing.T) {
	h := newHarness(t)
	h.grantTo("A1")

	h.on(h.a.Reset)
	assert.Empty(t, h.a.Controlling())
	assert.False(t, h.ptr.isMounted())
	assert.EqualValues(t, 1, h.ended.Load())
	assert.Empty(t, h.stored())

	h.on(func() { h.a.Click("A1", Point{X: 3, Y: 4}) })
	h.ptr.mu.Lock()
	assert.Empty(t, h.ptr.clicks)
	h.ptr.mu.Unlock()

	h.on(func() { h.a.RequestControl("A2") })
	p := h.prompt(1)
	h.on(h.a.Reset)
	select {
	case <-p.removed:
	case <-time.After(2 * time.Second):
		t.Fatal("pending prompt not removed on reset")
	}

	// Control is free again.
	h.on(func() { h.a.RequestControl("A3") })
	h.prompt(2).answer <- true
	ev := h.waitEvents(2)
	assert.Equal(t, event{"control_granted", "A3"}, ev[len(ev)-1])
}

func TestPointJSON(t *testing.T) {
	var p Point
	require.NoError(t, json.Unmarshal([]byte(`[12.5, 40]`), &p))
	assert.Equal(t, Point{12.5, 40}, p)
	require.NoError(t, json.Unmarshal([]byte(`{"x":3,"y":4}`), &p))
	assert.Equal(t, Point{3, 4}, p)

	var d Delta
	require.NoError(t, json.Unmarshal([]byte(`[0,-120]`), &d))
	assert.Equal(t, Delta{0, -120}, d)
	assert.Error(t, json.Unmarshal([]byte(`"nope"`), &d))
}
