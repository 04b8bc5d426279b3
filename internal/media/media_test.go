package media

import (
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTrack(t *testing.T, kind, id string) webrtc.TrackLocal {
	t.Helper()
	mime := webrtc.MimeTypeVP8
	if kind == "audio" {
		mime = webrtc.MimeTypeOpus
	}
	tr, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, id, "local")
	require.NoError(t, err)
	return tr
}

func TestStaticSwitchVideo(t *testing.T) {
	audio := newTrack(t, "audio", "mic")
	cam := newTrack(t, "video", "cam")
	s := NewStatic(audio, cam)

	var seen []string
	s.OnVideoTrack(func(tr webrtc.TrackLocal) { seen = append(seen, tr.ID()) })

	screen := newTrack(t, "video", "screen")
	s.SwitchVideo(screen)

	assert.Equal(t, []string{"screen"}, seen)
	tracks := s.Tracks()
	require.Len(t, tracks, 2)
	assert.Equal(t, "mic", tracks[0].ID())
	assert.Equal(t, "screen", tracks[1].ID())

	require.NoError(t, s.Close())
	assert.True(t, s.Closed())
}

func TestStaticSwitchAddsMissingVideo(t *testing.T) {
	s := NewStatic(newTrack(t, "audio", "mic"))
	s.SwitchVideo(newTrack(t, "video", "cam"))
	assert.Len(t, s.Tracks(), 2)
}
