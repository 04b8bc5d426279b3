// Package loop provides the single cooperative event loop that owns all
// call and control state. Everything that mutates that state is posted onto
// the loop; blocking work runs elsewhere and reports back through Await.
package loop

import (
	"log"
	"sync"
)

// Loop runs posted funcs one at a time, in posting order, on one goroutine.
type Loop struct {
	tasks chan func()
	quit  chan struct{}
	done  chan struct{}

	closeOnce sync.Once
}

// New creates a loop with a task queue of the given depth. Call Run to start it.
func New(depth int) *Loop {
	if depth <= 0 {
		depth = 256
	}
	return &Loop{
		tasks: make(chan func(), depth),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Run drains the queue until Close. It must be called exactly once.
func (l *Loop) Run() {
	defer close(l.done)
	for {
		select {
		case <-l.quit:
			return
		case fn := <-l.tasks:
			l.exec(fn)
		}
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("LOOP: task panicked: %v", r)
		}
	}()
	fn()
}

// Post queues fn. It reports false if the loop is closed. Post must not be
// called from the loop goroutine when the queue may be full.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.quit:
		return false
	default:
	}
	select {
	case l.tasks <- fn:
		return true
	case <-l.quit:
		return false
	}
}

// Do posts fn and waits until it has run. Never call Do from the loop itself.
func (l *Loop) Do(fn func()) bool {
	ran := make(chan struct{})
	if !l.Post(func() {
		defer close(ran)
		fn()
	}) {
		return false
	}
	select {
	case <-ran:
		return true
	case <-l.done:
		return false
	}
}

// Close stops the loop. Tasks still queued are dropped.
func (l *Loop) Close() {
	l.closeOnce.Do(func() { close(l.quit) })
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Await runs work on its own goroutine and posts then(result) back onto the
// loop. then must re-check any state it depends on: other tasks may have run
// while work was in flight.
func Await[T any](l *Loop, work func() (T, error), then func(T, error)) {
	go func() {
		v, err := work()
		l.Post(func() { then(v, err) })
	}()
}
