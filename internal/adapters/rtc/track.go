package rtc

import (
	"errors"
	"sync/atomic"

	"github.com/dkeye/huddle/internal/core"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

var (
	ErrTrackStopped = errors.New("track stopped")
	ErrNotCamera    = errors.New("track is not a camera")
)

type TrackState int32

const (
	TrackStateLive TrackState = iota
	TrackStateMuted
	TrackStateStopped
)

type Facing int32

const (
	FacingFront Facing = iota
	FacingBack
)

func (f Facing) String() string {
	if f == FacingBack {
		return "back"
	}
	return "front"
}

// LocalTrack is one captured track. Samples written while the track is
// disabled or muted are dropped; the sender keeps running.
type LocalTrack struct {
	sample  *webrtc.TrackLocalStaticSample
	kind    core.TrackKind
	state   atomic.Int32
	enabled atomic.Bool
}

var _ core.MediaTrack = (*LocalTrack)(nil)

func newLocalTrack(kind core.TrackKind, streamID string) (*LocalTrack, error) {
	mime := webrtc.MimeTypeOpus
	if kind == core.KindVideo {
		mime = webrtc.MimeTypeVP8
	}
	sample, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: mime},
		string(kind)+"-"+uuid.NewString(),
		streamID,
	)
	if err != nil {
		return nil, err
	}
	t := &LocalTrack{sample: sample, kind: kind}
	t.enabled.Store(true)
	return t, nil
}

func (t *LocalTrack) ID() string           { return t.sample.ID() }
func (t *LocalTrack) Kind() core.TrackKind { return t.kind }
func (t *LocalTrack) Enabled() bool        { return t.enabled.Load() }

func (t *LocalTrack) SetEnabled(v bool) {
	if t.State() == TrackStateStopped {
		return
	}
	t.enabled.Store(v)
}

func (t *LocalTrack) State() TrackState { return TrackState(t.state.Load()) }

func (t *LocalTrack) Muted() bool { return t.State() == TrackStateMuted }

// MarkMuted records that the capture source went silent.
func (t *LocalTrack) MarkMuted() { t.state.CompareAndSwap(int32(TrackStateLive), int32(TrackStateMuted)) }

func (t *LocalTrack) MarkLive() { t.state.CompareAndSwap(int32(TrackStateMuted), int32(TrackStateLive)) }

func (t *LocalTrack) Stop() {
	t.state.Store(int32(TrackStateStopped))
	t.enabled.Store(false)
}

// Local is what gets attached to a peer connection.
func (t *LocalTrack) Local() webrtc.TrackLocal { return t.sample }

// WriteSample feeds captured media into every peer sending this track.
func (t *LocalTrack) WriteSample(s media.Sample) error {
	switch t.State() {
	case TrackStateStopped:
		return ErrTrackStopped
	case TrackStateMuted:
		return nil
	}
	if !t.Enabled() {
		return nil
	}
	return t.sample.WriteSample(s)
}

// CameraTrack is a video track that can flip between the front and back
// camera without renegotiating.
type CameraTrack struct {
	*LocalTrack
	facing atomic.Int32
}

var _ core.CameraSwitcher = (*CameraTrack)(nil)

func (t *CameraTrack) Facing() Facing { return Facing(t.facing.Load()) }

func (t *CameraTrack) SwitchCamera() error {
	if t.State() == TrackStateStopped {
		return ErrTrackStopped
	}
	for {
		cur := t.facing.Load()
		next := int32(FacingBack)
		if Facing(cur) == FacingBack {
			next = int32(FacingFront)
		}
		if t.facing.CompareAndSwap(cur, next) {
			return nil
		}
	}
}

// sendable is implemented by tracks a peer connection can carry.
type sendable interface {
	core.MediaTrack
	Local() webrtc.TrackLocal
}

func sendableOf(s *core.MediaStream, kind core.TrackKind) (sendable, bool) {
	if s == nil {
		return nil, false
	}
	for _, t := range s.Tracks() {
		if t.Kind() != kind {
			continue
		}
		if st, ok := t.(sendable); ok {
			return st, true
		}
	}
	return nil, false
}
