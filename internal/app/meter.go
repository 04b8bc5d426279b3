package app

import (
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
)

// packetReader is the part of *webrtc.TrackRemote the meter needs.
type packetReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// meter drains a remote track and counts what arrived. A console has nothing
// to render the media on, but the receiver must keep being read.
type meter struct {
	mu      sync.Mutex
	packets int
	bytes   int
	frames  int
	lost    int
	lastSeq uint16
	started bool
}

func (m *meter) run(r packetReader) {
	for {
		pkt, _, err := r.ReadRTP()
		if err != nil {
			return
		}
		m.add(pkt)
	}
}

func (m *meter) add(pkt *rtp.Packet) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		if gap := pkt.SequenceNumber - m.lastSeq; gap > 1 && gap < 0x8000 {
			m.lost += int(gap) - 1
		}
	}
	m.started = true
	m.lastSeq = pkt.SequenceNumber
	m.packets++
	m.bytes += len(pkt.Payload)
	if pkt.Marker {
		m.frames++
	}
}

type meterStats struct {
	Packets, Bytes, Frames, Lost int
}

func (m *meter) stats() meterStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return meterStats{Packets: m.packets, Bytes: m.bytes, Frames: m.frames, Lost: m.lost}
}
