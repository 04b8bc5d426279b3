package peer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petervdpas/goassist/internal/media"
)

type broker struct {
	srv   *httptest.Server
	query chan url.Values
	conns chan *websocket.Conn
}

func newBroker(t *testing.T) *broker {
	t.Helper()
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	b := &broker{query: make(chan url.Values, 4), conns: make(chan *websocket.Conn, 4)}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		b.query <- r.URL.Query()
		b.conns <- c
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *broker) endpoint() string {
	return "ws" + strings.TrimPrefix(b.srv.URL, "http") + "/assist/peerjs"
}

func localTrack(t *testing.T, mime, id string) *webrtc.TrackLocalStaticSample {
	t.Helper()
	tr, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, id, "local")
	require.NoError(t, err)
	return tr
}

func agentOffer(t *testing.T) (*webrtc.PeerConnection, webrtc.SessionDescription) {
	t.Helper()
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pc.Close() })

	_, err = pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio)
	require.NoError(t, err)
	_, err = pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo)
	require.NoError(t, err)

	offer, err := pc.CreateOffer(nil)
	require.NoError(t, err)
	require.NoError(t, pc.SetLocalDescription(offer))
	return pc, offer
}

func readUntil(t *testing.T, c *websocket.Conn, typ string) message {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg message
		require.NoError(t, c.ReadJSON(&msg))
		if msg.Type == typ {
			return msg
		}
	}
}

func TestIncomingCallAnswerAndLeave(t *testing.T) {
	b := newBroker(t)
	tr, err := New(Config{Endpoint: b.endpoint(), Heartbeat: 50 * time.Millisecond})
	require.NoError(t, err)
	defer tr.Close()

	calls := make(chan *Call, 1)
	tr.OnCall(func(c *Call) { calls <- c })
	require.NoError(t, tr.Open(context.Background(), "proj-sess"))

	q := <-b.query
	assert.Equal(t, "proj-sess", q.Get("id"))
	assert.Equal(t, "peerjs", q.Get("key"))
	assert.NotEmpty(t, q.Get("token"))
	srv := <-b.conns
	defer srv.Close()

	readUntil(t, srv, msgHeartbeat)

	agent, offer := agentOffer(t)
	require.NoError(t, srv.WriteJSON(message{
		Type: msgOffer,
		Src:  "agent-1",
		Dst:  "proj-sess",
		Payload: &payload{
			SDP:          &offer,
			Type:         "media",
			ConnectionID: "mc_1",
		},
	}))

	var c *Call
	select {
	case c = <-calls:
	case <-time.After(5 * time.Second):
		t.Fatal("no incoming call")
	}
	assert.Equal(t, "agent-1", c.Peer())
	assert.Equal(t, "mc_1", c.ConnectionID())

	stream := media.NewStatic(
		localTrack(t, webrtc.MimeTypeOpus, "mic"),
		localTrack(t, webrtc.MimeTypeVP8, "cam"),
	)
	require.NoError(t, c.Answer(context.Background(), stream))
	assert.Error(t, c.Answer(context.Background(), stream), "second answer must fail")

	ans := readUntil(t, srv, msgAnswer)
	require.NotNil(t, ans.Payload)
	require.NotNil(t, ans.Payload.SDP)
	assert.Equal(t, "agent-1", ans.Dst)
	assert.Equal(t, "mc_1", ans.Payload.ConnectionID)
	assert.Equal(t, webrtc.SDPTypeAnswer, ans.Payload.SDP.Type)
	require.NoError(t, agent.SetRemoteDescription(*ans.Payload.SDP))

	require.NoError(t, c.ReplaceVideoTrack(localTrack(t, webrtc.MimeTypeVP8, "screen")))

	closed := make(chan struct{}, 2)
	c.OnClose(func() { closed <- struct{}{} })
	require.NoError(t, srv.WriteJSON(message{Type: msgLeave, Src: "agent-1"}))

	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("call not closed on LEAVE")
	}
	require.NoError(t, c.Close())
	assert.Len(t, closed, 0, "OnClose fires once")
}

func TestAudioOnlyCallHasNoVideoSender(t *testing.T) {
	b := newBroker(t)
	tr, err := New(Config{Endpoint: b.endpoint()})
	require.NoError(t, err)
	defer tr.Close()

	calls := make(chan *Call, 1)
	tr.OnCall(func(c *Call) { calls <- c })
	require.NoError(t, tr.Open(context.Background(), "proj-sess"))
	srv := <-b.conns
	defer srv.Close()

	_, offer := agentOffer(t)
	require.NoError(t, srv.WriteJSON(message{
		Type:    msgOffer,
		Src:     "agent-2",
		Payload: &payload{SDP: &offer, Type: "media", ConnectionID: "mc_2"},
	}))
	c := <-calls

	require.NoError(t, c.Answer(context.Background(), media.NewStatic(localTrack(t, webrtc.MimeTypeOpus, "mic"))))
	assert.ErrorIs(t, c.ReplaceVideoTrack(localTrack(t, webrtc.MimeTypeVP8, "cam")), ErrNoVideoSender)
}

func TestMalformedOfferIgnored(t *testing.T) {
	b := newBroker(t)
	tr, err := New(Config{Endpoint: b.endpoint()})
	require.NoError(t, err)
	defer tr.Close()

	calls := make(chan *Call, 1)
	tr.OnCall(func(c *Call) { calls <- c })
	require.NoError(t, tr.Open(context.Background(), "proj-sess"))
	srv := <-b.conns
	defer srv.Close()

	require.NoError(t, srv.WriteJSON(message{Type: msgOffer, Src: "agent-3"}))
	require.NoError(t, srv.WriteJSON(message{Type: msgError, Payload: &payload{Msg: "boom"}}))

	select {
	case <-calls:
		t.Fatal("malformed offer must not produce a call")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestOpenTwiceFails(t *testing.T) {
	b := newBroker(t)
	tr, err := New(Config{Endpoint: b.endpoint()})
	require.NoError(t, err)
	defer tr.Close()

	require.NoError(t, tr.Open(context.Background(), "x"))
	assert.Error(t, tr.Open(context.Background(), "x"))
	tr.Close()
	tr.Close()
}
