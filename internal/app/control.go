package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/petervdpas/goassist/internal/agents"
	"github.com/petervdpas/goassist/internal/call"
	"github.com/petervdpas/goassist/internal/media"
)

var errNoStream = errors.New("no local media stream")

// session is the part of *assist.Assist the debug endpoint drives.
type session interface {
	CallState() call.State
	Controlling() string
	Agents() []agents.Agent
}

type status struct {
	Call        string         `json:"call"`
	Controlling string         `json:"controlling,omitempty"`
	Agents      []agents.Agent `json:"agents"`
}

// registerControl mounts the session status and call actions on mux.
func registerControl(mux *http.ServeMux, s session, endCall func(), switchVideo func(deviceID string) error) {
	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		st := status{
			Call:        s.CallState().String(),
			Controlling: s.Controlling(),
			Agents:      s.Agents(),
		}
		if st.Agents == nil {
			st.Agents = []agents.Agent{}
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(st)
	})

	mux.HandleFunc("/api/call/end", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		endCall()
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("/api/call/video", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		device := r.URL.Query().Get("device")
		if device == "" {
			http.Error(w, "device is required", http.StatusBadRequest)
			return
		}
		if err := switchVideo(device); err != nil {
			code := http.StatusInternalServerError
			if errors.Is(err, errNoStream) {
				code = http.StatusConflict
			}
			http.Error(w, err.Error(), code)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

// streamTracker remembers the local stream of the current call so its video
// source can be switched from outside the call machine.
type streamTracker struct {
	acquire media.Acquirer

	mu  sync.Mutex
	cur *trackedStream
}

type trackedStream struct {
	media.Stream
	t *streamTracker
}

func (s *trackedStream) Close() error {
	s.t.mu.Lock()
	if s.t.cur == s {
		s.t.cur = nil
	}
	s.t.mu.Unlock()
	return s.Stream.Close()
}

func (t *streamTracker) Acquire(ctx context.Context) (media.Stream, error) {
	s, err := t.acquire(ctx)
	if err != nil {
		return nil, err
	}
	ts := &trackedStream{Stream: s, t: t}
	t.mu.Lock()
	t.cur = ts
	t.mu.Unlock()
	return ts, nil
}

// Current returns the open stream, or nil.
func (t *streamTracker) Current() media.Stream {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cur == nil {
		return nil
	}
	return t.cur.Stream
}
