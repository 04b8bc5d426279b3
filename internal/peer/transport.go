// Package peer is the peer-media transport: a broker websocket that relays
// SDP offers, answers and ICE candidates, and pion PeerConnections that carry
// the call itself. Only the answering side is implemented; agents always call.
package peer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// ErrClosed is returned when the transport has been closed.
var ErrClosed = errors.New("peer transport closed")

type Config struct {
	// Endpoint is the broker websocket URL, e.g. wss://host/assist/peerjs.
	Endpoint   string
	Key        string
	ICEServers []webrtc.ICEServer
	// Heartbeat is the keepalive period on the broker socket.
	Heartbeat time.Duration
	// ReconnectDelay is the wait between broker reconnect attempts.
	ReconnectDelay time.Duration
	// Populate registers codecs on the MediaEngine. Defaults to pion's
	// default codecs.
	Populate func(*webrtc.MediaEngine) error
}

// Transport accepts incoming media calls addressed to one peer id.
type Transport struct {
	cfg Config
	api *webrtc.API

	mu     sync.Mutex
	id     string
	conn   *websocket.Conn
	calls  map[string]*Call
	onCall func(*Call)
	closed bool
	cancel context.CancelFunc

	wmu sync.Mutex
}

func New(cfg Config) (*Transport, error) {
	if cfg.Key == "" {
		cfg.Key = "peerjs"
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 5 * time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 3 * time.Second
	}

	me := &webrtc.MediaEngine{}
	populate := cfg.Populate
	if populate == nil {
		populate = (*webrtc.MediaEngine).RegisterDefaultCodecs
	}
	if err := populate(me); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(me, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	// Generous ICE timeouts: a short relay hiccup should not end the call.
	se := webrtc.SettingEngine{LoggerFactory: goLogFactory{}}
	se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)

	return &Transport{
		cfg: cfg,
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(me),
			webrtc.WithInterceptorRegistry(ir),
			webrtc.WithSettingEngine(se),
		),
		calls: make(map[string]*Call),
	}, nil
}

// OnCall sets the handler for incoming calls. It runs on the transport's read
// goroutine and must not block.
func (t *Transport) OnCall(fn func(*Call)) {
	t.mu.Lock()
	t.onCall = fn
	t.mu.Unlock()
}

// Open registers id with the broker. A dropped broker socket is redialed in
// the background until Close.
func (t *Transport) Open(ctx context.Context, id string) error {
	t.mu.Lock()
	if t.cancel != nil {
		t.mu.Unlock()
		return errors.New("peer transport already open")
	}
	runCtx, cancel := context.WithCancel(context.Background())
	t.id = id
	t.closed = false
	t.cancel = cancel
	t.mu.Unlock()

	conn, err := t.dial(ctx)
	if err != nil {
		cancel()
		t.mu.Lock()
		t.cancel = nil
		t.mu.Unlock()
		return err
	}
	go t.serve(runCtx, conn)
	return nil
}

func (t *Transport) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(t.cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("peer endpoint: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	q := u.Query()
	q.Set("key", t.cfg.Key)
	q.Set("id", t.id)
	q.Set("token", uuid.NewString())
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial peer broker: %w", err)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = conn.Close()
		return nil, ErrClosed
	}
	t.conn = conn
	t.mu.Unlock()
	log.Printf("PEER: registered as %s", t.id)
	return conn, nil
}

// serve runs one broker connection and redials after it drops.
func (t *Transport) serve(ctx context.Context, conn *websocket.Conn) {
	for {
		hbDone := make(chan struct{})
		go t.heartbeat(conn, hbDone)
		t.readLoop(conn)
		close(hbDone)

		t.mu.Lock()
		if t.conn == conn {
			t.conn = nil
		}
		t.mu.Unlock()

		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(t.cfg.ReconnectDelay):
			}
			next, err := t.dial(ctx)
			if errors.Is(err, ErrClosed) {
				return
			}
			if err != nil {
				log.Printf("PEER: reconnect failed: %v", err)
				continue
			}
			conn = next
			break
		}
	}
}

func (t *Transport) heartbeat(conn *websocket.Conn, done <-chan struct{}) {
	tick := time.NewTicker(t.cfg.Heartbeat)
	defer tick.Stop()
	for {
		select {
		case <-done:
			return
		case <-tick.C:
			if err := t.writeTo(conn, message{Type: msgHeartbeat}); err != nil {
				return
			}
		}
	}
}

func (t *Transport) readLoop(conn *websocket.Conn) {
	for {
		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			t.mu.Lock()
			closed := t.closed
			t.mu.Unlock()
			if !closed {
				log.Printf("PEER: broker connection lost: %v", err)
			}
			return
		}
		t.handle(msg)
	}
}

func (t *Transport) handle(msg message) {
	switch msg.Type {
	case msgOpen:
		log.Printf("PEER: broker confirmed id")
	case msgHeartbeat:
	case msgError, msgIDTaken:
		reason := msg.Type
		if msg.Payload != nil && msg.Payload.Msg != "" {
			reason = msg.Payload.Msg
		}
		log.Printf("PEER: broker error: %s", reason)
	case msgOffer:
		t.handleOffer(msg)
	case msgCandidate:
		if c := t.callFor(msg); c != nil && msg.Payload.Candidate != nil {
			c.addCandidate(*msg.Payload.Candidate)
		}
	case msgLeave, msgExpire:
		t.mu.Lock()
		var gone []*Call
		for _, c := range t.calls {
			if c.peer == msg.Src {
				gone = append(gone, c)
			}
		}
		t.mu.Unlock()
		for _, c := range gone {
			_ = c.Close()
		}
	default:
		log.Printf("PEER: unhandled broker message %q", msg.Type)
	}
}

func (t *Transport) callFor(msg message) *Call {
	if msg.Payload == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls[msg.Payload.ConnectionID]
}

func (t *Transport) handleOffer(msg message) {
	if msg.Payload == nil || msg.Payload.SDP == nil || msg.Payload.ConnectionID == "" {
		log.Printf("PEER: malformed offer from %s", msg.Src)
		return
	}
	if msg.Payload.Type != "" && msg.Payload.Type != "media" {
		log.Printf("PEER: ignoring %s connection from %s", msg.Payload.Type, msg.Src)
		return
	}

	c, err := t.newCall(msg.Src, msg.Payload.ConnectionID, *msg.Payload.SDP)
	if err != nil {
		log.Printf("PEER [%s]: offer from %s rejected: %v", msg.Payload.ConnectionID, msg.Src, err)
		return
	}

	t.mu.Lock()
	t.calls[c.connID] = c
	fn := t.onCall
	t.mu.Unlock()

	if fn == nil {
		_ = c.Close()
		return
	}
	fn(c)
}

func (t *Transport) forget(connID string) {
	t.mu.Lock()
	delete(t.calls, connID)
	t.mu.Unlock()
}

func (t *Transport) send(msg message) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ErrClosed
	}
	return t.writeTo(conn, msg)
}

func (t *Transport) writeTo(conn *websocket.Conn, msg message) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(msg)
}

// Close hangs up every call and drops the broker connection. The transport
// can be opened again afterwards.
func (t *Transport) Close() {
	t.mu.Lock()
	if t.cancel == nil {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.cancel()
	t.cancel = nil
	conn := t.conn
	t.conn = nil
	calls := t.calls
	t.calls = make(map[string]*Call)
	t.mu.Unlock()

	for _, c := range calls {
		_ = c.Close()
	}
	if conn != nil {
		_ = conn.Close()
	}
	log.Printf("PEER: transport destroyed")
}
