// Package signal owns the event channel to the assist backend. Frames are JSON
// arrays of the form ["EVENT_NAME", arg0, arg1, ...].
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrNotOpen is returned by Send when no connection is open.
var ErrNotOpen = errors.New("signaling channel not open")

// Handler consumes one inbound event.
type Handler func(args Args)

// PeerID is the address both the backend and the peer transport use for a
// capture session.
func PeerID(projectKey, sessionID string) string {
	return projectKey + "-" + sessionID
}

type Options struct {
	// Endpoint is the backend websocket URL, e.g. wss://host/ws-assist/socket.
	Endpoint string
	// Exec runs handlers. It must preserve call order. Defaults to inline.
	Exec func(func()) bool
	// Debugf receives a copy of every inbound frame. Defaults to log.Printf.
	Debugf func(format string, args ...any)
	// WriteTimeout bounds a single frame write.
	WriteTimeout time.Duration
	Dialer       *websocket.Dialer
}

// Manager is the signaling channel. At most one connection is open at a time.
type Manager struct {
	opts Options

	hmu      sync.RWMutex
	handlers map[string][]Handler

	mu   sync.Mutex
	conn *websocket.Conn
	wmu  sync.Mutex
}

func New(opts Options) *Manager {
	if opts.Exec == nil {
		opts.Exec = func(fn func()) bool { fn(); return true }
	}
	if opts.Debugf == nil {
		opts.Debugf = log.Printf
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &Manager{
		opts:     opts,
		handlers: make(map[string][]Handler),
	}
}

// On registers h for inbound events named name. Handlers survive reconnects.
func (m *Manager) On(name string, h Handler) {
	m.hmu.Lock()
	m.handlers[name] = append(m.handlers[name], h)
	m.hmu.Unlock()
}

// Open dials the backend as peerID, announcing info in the connection query.
// An already-open connection is closed first. Failures are returned and
// logged; Open never retries.
func (m *Manager) Open(ctx context.Context, peerID string, info map[string]any) error {
	u, err := dialURL(m.opts.Endpoint, peerID, info)
	if err != nil {
		return err
	}

	conn, _, err := m.opts.Dialer.DialContext(ctx, u, nil)
	if err != nil {
		m.opts.Debugf("SIGNAL: connect %s failed: %v", peerID, err)
		return fmt.Errorf("dial signaling: %w", err)
	}

	m.mu.Lock()
	old := m.conn
	m.conn = conn
	m.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	log.Printf("SIGNAL: connected as %s", peerID)
	go m.readLoop(conn)
	return nil
}

func dialURL(endpoint, peerID string, info map[string]any) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("signaling endpoint: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("signaling endpoint: unsupported scheme %q", u.Scheme)
	}

	raw, err := json.Marshal(info)
	if err != nil {
		return "", fmt.Errorf("encode session info: %w", err)
	}
	q := u.Query()
	q.Set("peerId", peerID)
	q.Set("identity", "session")
	q.Set("sessionInfo", string(raw))
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// IsOpen reports whether a connection is currently held.
func (m *Manager) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

// Emit sends an event, dropping it silently when no channel is open.
func (m *Manager) Emit(name string, args ...any) {
	if err := m.Send(name, args...); err != nil && !errors.Is(err, ErrNotOpen) {
		m.opts.Debugf("SIGNAL: emit %s failed: %v", name, err)
	}
}

// Send is Emit with the error surfaced.
func (m *Manager) Send(name string, args ...any) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return ErrNotOpen
	}

	frame := make([]any, 0, len(args)+1)
	frame = append(frame, name)
	frame = append(frame, args...)

	m.wmu.Lock()
	defer m.wmu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(m.opts.WriteTimeout))
	return conn.WriteJSON(frame)
}

// Close disconnects. Safe to call when nothing is open.
func (m *Manager) Close() {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()
	if conn == nil {
		return
	}

	m.wmu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	m.wmu.Unlock()
	_ = conn.Close()
	log.Printf("SIGNAL: disconnected")
}

func (m *Manager) readLoop(conn *websocket.Conn) {
	defer func() {
		m.mu.Lock()
		if m.conn == conn {
			m.conn = nil
		}
		m.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) &&
				!strings.Contains(err.Error(), "use of closed network connection") {
				m.opts.Debugf("SIGNAL: read error: %v", err)
			}
			return
		}

		var frame []json.RawMessage
		if err := json.Unmarshal(data, &frame); err != nil || len(frame) == 0 {
			m.opts.Debugf("SIGNAL: malformed frame %q", data)
			continue
		}
		var name string
		if err := json.Unmarshal(frame[0], &name); err != nil {
			m.opts.Debugf("SIGNAL: frame without event name %q", data)
			continue
		}
		m.opts.Debugf("Socket: %s %s", name, data)
		m.dispatch(name, Args(frame[1:]))
	}
}

func (m *Manager) dispatch(name string, args Args) {
	m.hmu.RLock()
	hs := append([]Handler(nil), m.handlers[name]...)
	m.hmu.RUnlock()
	if len(hs) == 0 {
		return
	}
	m.opts.Exec(func() {
		for _, h := range hs {
			h(args)
		}
	})
}
