// Package lease models the "start hook returns an optional end hook" callback
// pattern as an owned release handle.
package lease

import (
	"log"
	"sync"
)

// Func is an activity-start callback. It may return a cleanup func to be run
// when the activity ends, or nil.
type Func func() func()

// Lease holds the cleanup returned by a Func. Release runs it at most once.
// A nil *Lease is valid and releases nothing.
type Lease struct {
	once    sync.Once
	release func()
}

// Acquire runs fn (if non-nil) and captures its cleanup. A panic inside fn is
// recovered and logged; the returned lease is then empty.
func Acquire(name string, fn Func) *Lease {
	l := &Lease{}
	if fn == nil {
		return l
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("LEASE: %s start hook panicked: %v", name, r)
		}
	}()
	l.release = fn()
	return l
}

// Release invokes the cleanup once. Later calls are no-ops.
func (l *Lease) Release() {
	if l == nil {
		return
	}
	l.once.Do(func() {
		if l.release == nil {
			return
		}
		defer func() {
			if r := recover(); r != nil {
				log.Printf("LEASE: end hook panicked: %v", r)
			}
		}()
		l.release()
	})
}
