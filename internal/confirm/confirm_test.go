package confirm

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blocking is a prompt that only answers when told to.
type blocking struct {
	answer  chan bool
	removed int
}

func newBlocking() *blocking { return &blocking{answer: make(chan bool, 1)} }

func (b *blocking) Mount(ctx context.Context) (bool, error) {
	select {
	case ok := <-b.answer:
		return ok, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (b *blocking) Remove() { b.removed++ }

func TestPendingPromptAnswer(t *testing.T) {
	b := newBlocking()
	p := Start(b)
	b.answer <- true

	ok, err := p.Wait()
	require.NoError(t, err)
	assert.True(t, ok)

	p.Dispose()
	p.Dispose()
	assert.Equal(t, 1, b.removed)
}

func TestPendingCancelIsAbandonment(t *testing.T) {
	b := newBlocking()
	p := Start(b)
	p.Dispose()

	ok, err := p.Wait()
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrAbandoned)
}

func TestResolveWinsOverLaterAnswer(t *testing.T) {
	b := newBlocking()
	p := Start(b)
	p.Resolve(false)
	b.answer <- true

	ok, err := p.Wait()
	require.NoError(t, err)
	assert.False(t, ok)
	p.Dispose()
}

func TestPromptErrorIsAbandonment(t *testing.T) {
	p := Start(Func(func(context.Context) (bool, error) { return false, errors.New("dialog closed") }))
	_, err := p.Wait()
	assert.ErrorIs(t, err, ErrAbandoned)
}

func TestDefaults(t *testing.T) {
	o := CallDefaults(Options{Text: "Support is calling"})
	assert.Equal(t, "Support is calling", o.Text)
	assert.Equal(t, "Answer", o.AcceptLabel)

	c := ControlDefaults(Options{})
	assert.Equal(t, "Allow remote control?", c.Text)
	assert.Equal(t, "Allow", c.AcceptLabel)
	assert.Equal(t, "Reject", c.DeclineLabel)
}

func TestTerminalPrompt(t *testing.T) {
	var out bytes.Buffer
	term := NewTerminal(strings.NewReader("maybe\nallow\nreject\n"), &out)

	ok, err := term.Prompt(ControlDefaults(Options{})).Mount(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, out.String(), "please answer")

	ok, err = term.Prompt(ControlDefaults(Options{})).Mount(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = term.Prompt(ControlDefaults(Options{})).Mount(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestTerminalPromptRemoved(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	term := NewTerminal(pr, io.Discard)

	prompt := term.Prompt(CallDefaults(Options{}))
	p := Start(prompt)
	p.Dispose()

	_, err := p.Wait()
	assert.ErrorIs(t, err, ErrAbandoned)
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestTerminalQueuedPromptCancelled(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	var out lockedBuffer
	term := NewTerminal(pr, &out)

	first := Start(term.Prompt(CallDefaults(Options{Text: "Answer the call?"})))
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "Answer the call?") },
		2*time.Second, 5*time.Millisecond)

	second := Start(term.Prompt(ControlDefaults(Options{Text: "Hand over the pointer?"})))
	second.Dispose()
	_, err := second.Wait()
	assert.ErrorIs(t, err, ErrAbandoned)

	_, err = io.WriteString(pw, "answer\n")
	require.NoError(t, err)
	ok, err := first.Wait()
	require.NoError(t, err)
	assert.True(t, ok)
	first.Dispose()

	assert.NotContains(t, out.String(), "Hand over the pointer?")
}

func TestTerminalHeldLineGoesToNextPrompt(t *testing.T) {
	term := NewTerminal(strings.NewReader(""), io.Discard)
	line := "allow"
	term.held = &line

	ok, err := term.Prompt(ControlDefaults(Options{})).Mount(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Nil(t, term.held)
}
