package confirm

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// Terminal renders prompts on a text console. Answers are read line by line
// from in; only one prompt is asked at a time.
type Terminal struct {
	out io.Writer

	// turn is held by the prompt currently asking.
	turn  chan struct{}
	lines chan string
	// held is a line read by a prompt that was dismissed before it could
	// use it. Only the turn holder touches it.
	held *string
}

// NewTerminal starts reading lines from in. The reader goroutine ends when in
// is exhausted.
func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	t := &Terminal{out: out, turn: make(chan struct{}, 1), lines: make(chan string)}
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			t.lines <- sc.Text()
		}
		close(t.lines)
	}()
	return t
}

// Prompt returns a Prompt that asks o.Text on this terminal.
func (t *Terminal) Prompt(o Options) Prompt {
	return &terminalPrompt{term: t, opts: o}
}

type terminalPrompt struct {
	term *Terminal
	opts Options

	removeOnce sync.Once
	removed    chan struct{}
	initOnce   sync.Once
}

func (p *terminalPrompt) init() {
	p.initOnce.Do(func() { p.removed = make(chan struct{}) })
}

// dismissed reports why the prompt should stop asking, if it should.
func (p *terminalPrompt) dismissed(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-p.removed:
		return ErrAbandoned
	default:
		return nil
	}
}

func (p *terminalPrompt) next(ctx context.Context) (string, error) {
	t := p.term
	if t.held != nil {
		line := *t.held
		t.held = nil
		return line, nil
	}
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-p.removed:
		return "", ErrAbandoned
	case line, ok := <-t.lines:
		if !ok {
			return "", io.EOF
		}
		if err := p.dismissed(ctx); err != nil {
			t.held = &line
			return "", err
		}
		return line, nil
	}
}

func (p *terminalPrompt) Mount(ctx context.Context) (bool, error) {
	p.init()
	t := p.term

	// A prompt cancelled while queued never shows its question.
	select {
	case t.turn <- struct{}{}:
	case <-ctx.Done():
		return false, ctx.Err()
	case <-p.removed:
		return false, ErrAbandoned
	}
	defer func() { <-t.turn }()
	if err := p.dismissed(ctx); err != nil {
		return false, err
	}

	accept := strings.ToLower(p.opts.AcceptLabel)
	decline := strings.ToLower(p.opts.DeclineLabel)
	fmt.Fprintf(t.out, "%s [%s/%s] ",
		color.New(color.FgYellow, color.Bold).Sprint(p.opts.Text),
		color.GreenString(accept), color.RedString(decline))

	for {
		line, err := p.next(ctx)
		if errors.Is(err, io.EOF) {
			return false, err
		}
		if err != nil {
			fmt.Fprintln(t.out, color.HiBlackString("(dismissed)"))
			return false, err
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case accept, "y", "yes":
			return true, nil
		case decline, "n", "no", "":
			return false, nil
		}
		fmt.Fprintf(t.out, "please answer %s or %s: ", accept, decline)
	}
}

func (p *terminalPrompt) Remove() {
	p.init()
	p.removeOnce.Do(func() { close(p.removed) })
}
