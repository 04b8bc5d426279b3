// Package confirm wraps user confirmation dialogs as cancellable futures.
package confirm

import (
	"context"
	"errors"
	"sync"
)

// ErrAbandoned is the result of a prompt that was removed or cancelled before
// the user answered.
var ErrAbandoned = errors.New("confirmation abandoned")

// Prompt is an externally rendered yes/no dialog. Mount blocks until the user
// answers or ctx is cancelled. Remove takes the dialog down; it may be called
// while Mount is still blocked.
type Prompt interface {
	Mount(ctx context.Context) (bool, error)
	Remove()
}

// Options configures the dialog text. Zero fields fall back to defaults.
type Options struct {
	Text         string `json:"text"`
	AcceptLabel  string `json:"accept_label"`
	DeclineLabel string `json:"decline_label"`
}

func CallDefaults(o Options) Options {
	return o.withDefaults("You have an incoming call. Do you want to answer?", "Answer", "Reject")
}

func ControlDefaults(o Options) Options {
	return o.withDefaults("Allow remote control?", "Allow", "Reject")
}

func (o Options) withDefaults(text, accept, decline string) Options {
	if o.Text == "" {
		o.Text = text
	}
	if o.AcceptLabel == "" {
		o.AcceptLabel = accept
	}
	if o.DeclineLabel == "" {
		o.DeclineLabel = decline
	}
	return o
}

// Pending is one in-flight confirmation. The first of Resolve, Cancel or the
// prompt's own answer settles it; Dispose must be called by the owner on
// every terminal path.
type Pending struct {
	prompt Prompt
	ctx    context.Context
	cancel context.CancelFunc

	settle sync.Once
	done   chan struct{}
	ok     bool
	err    error

	disposeOnce sync.Once
}

// Start mounts p on its own goroutine and returns the pending handle.
func Start(p Prompt) *Pending {
	ctx, cancel := context.WithCancel(context.Background())
	pd := &Pending{
		prompt: p,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		ok, err := p.Mount(ctx)
		if err != nil {
			pd.finish(false, errors.Join(ErrAbandoned, err))
			return
		}
		pd.finish(ok, nil)
	}()
	return pd
}

func (p *Pending) finish(ok bool, err error) {
	p.settle.Do(func() {
		p.ok, p.err = ok, err
		close(p.done)
	})
}

// Resolve settles the confirmation with the given answer.
func (p *Pending) Resolve(ok bool) { p.finish(ok, nil) }

// Cancel settles the confirmation with ErrAbandoned and stops Mount.
func (p *Pending) Cancel() {
	p.finish(false, ErrAbandoned)
	p.cancel()
}

// Wait blocks until the confirmation is settled.
func (p *Pending) Wait() (bool, error) {
	<-p.done
	return p.ok, p.err
}

// Done is closed once the confirmation is settled.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Dispose cancels (if still open) and removes the dialog. Idempotent; a nil
// *Pending is a no-op.
func (p *Pending) Dispose() {
	if p == nil {
		return
	}
	p.disposeOnce.Do(func() {
		p.Cancel()
		p.prompt.Remove()
	})
}

// Func adapts a plain function to Prompt; Remove is a no-op.
type Func func(ctx context.Context) (bool, error)

func (f Func) Mount(ctx context.Context) (bool, error) { return f(ctx) }
func (f Func) Remove()                                 {}

// Always returns a prompt that immediately answers ok.
func Always(ok bool) Prompt {
	return Func(func(context.Context) (bool, error) { return ok, nil })
}
