//go:build !linux

package capture

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/petervdpas/goassist/internal/media"
)

// Device is a placeholder on platforms without capture drivers. Acquire
// always fails, which the call state machine treats as a declined call.
type Device struct{ opts Options }

func New(opts Options) (*Device, error) { return &Device{opts: opts}, nil }

func (d *Device) Populate(me *webrtc.MediaEngine) error {
	return me.RegisterDefaultCodecs()
}

func (d *Device) Acquire(context.Context) (media.Stream, error) {
	return nil, media.ErrNoDevices
}

func (d *Device) SwitchVideo(media.Stream, string) error {
	return media.ErrNoDevices
}
