package rtc

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/dkeye/huddle/internal/core"
	"github.com/jonboulle/clockwork"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// DefaultSilenceAfter is how long a remote track may go without packets
// before it reports Muted.
const DefaultSilenceAfter = 2 * time.Second

// RemoteTrack drains one incoming track and meters its packets.
type RemoteTrack struct {
	id    string
	kind  core.TrackKind
	clock clockwork.Clock

	enabled atomic.Bool
	stopped atomic.Bool
	last    atomic.Int64
	packets atomic.Uint64
	bytes   atomic.Uint64
	lastSeq atomic.Uint32

	cancel context.CancelFunc
}

var (
	_ core.MediaTrack       = (*RemoteTrack)(nil)
	_ core.ActivityReporter = (*RemoteTrack)(nil)
)

func newRemoteTrack(id string, kind core.TrackKind, clock clockwork.Clock) *RemoteTrack {
	t := &RemoteTrack{id: id, kind: kind, clock: clock, cancel: func() {}}
	t.enabled.Store(true)
	return t
}

func kindOf(k webrtc.RTPCodecType) core.TrackKind {
	if k == webrtc.RTPCodecTypeVideo {
		return core.KindVideo
	}
	return core.KindAudio
}

func (t *RemoteTrack) ID() string           { return t.id }
func (t *RemoteTrack) Kind() core.TrackKind { return t.kind }

// Enabled controls local playback only.
func (t *RemoteTrack) Enabled() bool     { return t.enabled.Load() }
func (t *RemoteTrack) SetEnabled(v bool) { t.enabled.Store(v) }

func (t *RemoteTrack) Muted() bool {
	last := t.LastActivity()
	return last.IsZero() || t.clock.Since(last) > DefaultSilenceAfter
}

func (t *RemoteTrack) Stop() {
	if t.stopped.CompareAndSwap(false, true) {
		t.cancel()
	}
}

func (t *RemoteTrack) LastActivity() time.Time {
	ns := t.last.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (t *RemoteTrack) Packets() uint64 { return t.packets.Load() }
func (t *RemoteTrack) Bytes() uint64   { return t.bytes.Load() }

func (t *RemoteTrack) observe(pkt *rtp.Packet) {
	if pkt == nil || len(pkt.Payload) == 0 {
		return
	}
	t.packets.Add(1)
	t.bytes.Add(uint64(len(pkt.Payload)))
	t.lastSeq.Store(uint32(pkt.SequenceNumber))
	t.last.Store(t.clock.Now().UnixNano())
}

// readRTP adapts *webrtc.TrackRemote for the drain loop.
func readRTP(src *webrtc.TrackRemote) func() (*rtp.Packet, error) {
	return func() (*rtp.Packet, error) {
		pkt, _, err := src.ReadRTP()
		return pkt, err
	}
}

// loop reads packets until the track ends or ctx is canceled.
func (t *RemoteTrack) loop(ctx context.Context, read func() (*rtp.Packet, error), logger *zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("remote track ctx done")
			return
		default:
		}
		pkt, err := read()
		if err != nil {
			logger.Debug().Err(err).Msg("remote track read ended")
			t.stopped.Store(true)
			return
		}
		t.observe(pkt)
	}
}
