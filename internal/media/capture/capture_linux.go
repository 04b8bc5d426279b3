//go:build linux

package capture

import (
	"context"
	"fmt"
	"log"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"

	"github.com/petervdpas/goassist/internal/media"
)

// Device captures local media with VP8 video and Opus audio.
type Device struct {
	opts     Options
	selector *mediadevices.CodecSelector
}

func New(opts Options) (*Device, error) {
	if opts.MaxWidth <= 0 {
		opts.MaxWidth = 640
	}
	if opts.MaxHeight <= 0 {
		opts.MaxHeight = 480
	}
	if opts.VideoBPS <= 0 {
		opts.VideoBPS = 1_500_000
	}

	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = opts.VideoBPS

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}

	return &Device{
		opts: opts,
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}, nil
}

// Populate registers the capture codecs on a peer connection's MediaEngine.
func (d *Device) Populate(me *webrtc.MediaEngine) error {
	d.selector.Populate(me)
	return nil
}

func (d *Device) videoConstraint(deviceID string) func(*mediadevices.MediaTrackConstraints) {
	return func(c *mediadevices.MediaTrackConstraints) {
		// Raw formats only; MJPEG nodes on some cameras poison the VP8 encoder.
		c.FrameFormat = prop.FrameFormatOneOf{
			frame.FormatYUYV,
			frame.FormatI420,
			frame.FormatI444,
			frame.FormatRGBA,
		}
		c.Width = prop.IntRanged{Max: d.opts.MaxWidth}
		c.Height = prop.IntRanged{Max: d.opts.MaxHeight}
		if deviceID != "" {
			c.DeviceID = prop.StringExact(deviceID)
		}
	}
}

func (d *Device) audioConstraint(c *mediadevices.MediaTrackConstraints) {
	if d.opts.PreferMic != "" {
		c.DeviceID = prop.String(d.opts.PreferMic)
	}
}

// Acquire opens local media. Audio+video is tried first, then each alone, so a
// busy camera does not cost the user their microphone.
func (d *Device) Acquire(ctx context.Context) (media.Stream, error) {
	devices := mediadevices.EnumerateDevices()
	for _, dev := range devices {
		log.Printf("CAPTURE: device kind=%v label=%q", dev.Kind, dev.Label)
	}
	if len(devices) == 0 {
		return nil, media.ErrNoDevices
	}

	type attempt struct {
		video, audio bool
		label        string
	}
	attempts := []attempt{
		{true, true, "video+audio"},
		{true, false, "video-only"},
		{false, true, "audio-only"},
	}
	if d.opts.NoVideo {
		attempts = attempts[2:]
	}

	for _, a := range attempts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		constraints := mediadevices.MediaStreamConstraints{Codec: d.selector}
		if a.video {
			constraints.Video = d.videoConstraint(d.opts.PreferCam)
		}
		if a.audio {
			constraints.Audio = d.audioConstraint
		}

		ms, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			log.Printf("CAPTURE: GetUserMedia (%s) failed: %v", a.label, err)
			continue
		}

		tracks := ms.GetTracks()
		for _, t := range tracks {
			t.OnEnded(func(err error) {
				if err != nil {
					log.Printf("CAPTURE: local track ended: %v", err)
				}
			})
		}
		log.Printf("CAPTURE: local media captured (%s), %d tracks", a.label, len(tracks))
		return &stream{tracks: tracks}, nil
	}
	return nil, media.ErrNoDevices
}

// SwitchVideo replaces the video source of s with the camera deviceID. The
// stream's OnVideoTrack handlers receive the new track.
func (d *Device) SwitchVideo(s media.Stream, deviceID string) error {
	st, ok := s.(*stream)
	if !ok {
		return fmt.Errorf("stream %T was not captured by this device", s)
	}
	ms, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: d.videoConstraint(deviceID),
		Codec: d.selector,
	})
	if err != nil {
		return fmt.Errorf("open camera %s: %w", deviceID, err)
	}
	vts := ms.GetVideoTracks()
	if len(vts) == 0 {
		return media.ErrNoDevices
	}
	st.swapVideo(vts[0])
	log.Printf("CAPTURE: video source switched to %q", deviceID)
	return nil
}
