// Package host provides a synthetic capture host: it owns a session id,
// produces periodic record batches while started and reports visibility and
// session metadata changes.
package host

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Record ids used in synthetic batches.
const (
	RecTimestamp   = 0
	RecCustomEvent = 27
	RecPerformance = 49
)

type Options struct {
	ProjectKey string
	// SessionID defaults to a fresh uuid.
	SessionID   string
	UserID      string
	CommitEvery time.Duration
}

type Demo struct {
	projectKey string
	sessionID  string
	every      time.Duration

	mu      sync.Mutex
	info    map[string]any
	running bool
	stop    chan struct{}
	seq     int

	onStart   func()
	onStop    func()
	onCommit  func([]json.RawMessage)
	onVisible func(bool)
	onUpdate  func(map[string]any)
}

func New(opts Options) *Demo {
	sid := opts.SessionID
	if sid == "" {
		sid = uuid.NewString()
	}
	every := opts.CommitEvery
	if every <= 0 {
		every = 5 * time.Second
	}
	info := map[string]any{"sessionID": sid}
	if opts.UserID != "" {
		info["userID"] = opts.UserID
	}
	return &Demo{
		projectKey: opts.ProjectKey,
		sessionID:  sid,
		every:      every,
		info:       info,
		onStart:    func() {},
		onStop:     func() {},
		onCommit:   func([]json.RawMessage) {},
		onVisible:  func(bool) {},
		onUpdate:   func(map[string]any) {},
	}
}

func (d *Demo) ProjectKey() string { return d.projectKey }
func (d *Demo) SessionID() string  { return d.sessionID }

func (d *Demo) SessionInfo() map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]any, len(d.info))
	for k, v := range d.info {
		out[k] = v
	}
	return out
}

func (d *Demo) OnStart(fn func())                       { d.mu.Lock(); d.onStart = fn; d.mu.Unlock() }
func (d *Demo) OnStop(fn func())                        { d.mu.Lock(); d.onStop = fn; d.mu.Unlock() }
func (d *Demo) OnCommit(fn func([]json.RawMessage))     { d.mu.Lock(); d.onCommit = fn; d.mu.Unlock() }
func (d *Demo) OnVisibility(fn func(bool))              { d.mu.Lock(); d.onVisible = fn; d.mu.Unlock() }
func (d *Demo) OnSessionUpdate(fn func(map[string]any)) { d.mu.Lock(); d.onUpdate = fn; d.mu.Unlock() }

func (d *Demo) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Start begins producing batches. The start callback has run when Start
// returns. Starting a running host is a no-op.
func (d *Demo) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return nil
	}
	if err := ctx.Err(); err != nil {
		d.mu.Unlock()
		return err
	}
	d.running = true
	d.stop = make(chan struct{})
	stop := d.stop
	cb := d.onStart
	d.mu.Unlock()

	log.Printf("HOST: capture started for %s", d.sessionID)
	cb()
	go d.produce(stop)
	return nil
}

// Stop ends batch production. The stop callback has run when Stop returns.
func (d *Demo) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	close(d.stop)
	cb := d.onStop
	d.mu.Unlock()

	log.Printf("HOST: capture stopped for %s", d.sessionID)
	cb()
}

// SetVisible reports the page becoming visible or hidden.
func (d *Demo) SetVisible(v bool) {
	d.mu.Lock()
	cb := d.onVisible
	d.mu.Unlock()
	cb(v)
}

// UpdateSession merges info into the session metadata and reports the change.
func (d *Demo) UpdateSession(info map[string]any) {
	d.mu.Lock()
	for k, v := range info {
		d.info[k] = v
	}
	cb := d.onUpdate
	d.mu.Unlock()
	cb(info)
}

func (d *Demo) produce(stop <-chan struct{}) {
	t := time.NewTicker(d.every)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-t.C:
			d.Commit(now)
		}
	}
}

// Commit emits one batch. Every other batch carries statistics only.
func (d *Demo) Commit(now time.Time) {
	d.mu.Lock()
	d.seq++
	seq := d.seq
	cb := d.onCommit
	d.mu.Unlock()

	ts := now.UnixMilli()
	var batch []json.RawMessage
	if seq%2 == 0 {
		batch = records(
			map[string]any{"_id": RecTimestamp, "timestamp": ts},
			map[string]any{"_id": RecPerformance, "frames": 60, "ticks": seq},
		)
	} else {
		payload, _ := json.Marshal(map[string]any{"seq": seq})
		batch = records(
			map[string]any{"_id": RecTimestamp, "timestamp": ts},
			map[string]any{"_id": RecCustomEvent, "name": "demo.tick", "payload": string(payload)},
		)
	}
	cb(batch)
}

func records(recs ...map[string]any) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(recs))
	for _, r := range recs {
		b, err := json.Marshal(r)
		if err != nil {
			continue
		}
		out = append(out, b)
	}
	return out
}
