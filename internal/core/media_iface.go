package core

import (
	"context"
	"errors"
	"time"
)

// ErrMediaAccess is returned when local capture is denied or unavailable.
var ErrMediaAccess = errors.New("media access denied")

type TrackKind string

const (
	KindAudio TrackKind = "audio"
	KindVideo TrackKind = "video"
)

// MediaTrack is one local or remote audio/video track.
type MediaTrack interface {
	ID() string
	Kind() TrackKind
	Enabled() bool
	SetEnabled(bool)
	// Muted reports that the source produces nothing, independent of Enabled.
	Muted() bool
	Stop()
}

// CameraSwitcher is implemented by video tracks that can change facing.
type CameraSwitcher interface {
	SwitchCamera() error
}

// ActivityReporter is implemented by tracks that meter incoming packets.
type ActivityReporter interface {
	LastActivity() time.Time
}

// ScreenCapture is implemented by video tracks fed from a screen grab.
type ScreenCapture interface {
	IsScreenCapture() bool
}

// MediaTransport abstracts the peer-to-peer media library.
// Callbacks may fire on any goroutine.
type MediaTransport interface {
	AcquireLocalStream(ctx context.Context, participantID string) (*MediaStream, error)
	ConnectToParticipants(ctx context.Context, meetingID string, participantIDs []string) error
	ProcessSignal(ctx context.Context, msg SignalMessage) error
	// UpdateLocalStream renegotiates every open peer with the new stream.
	UpdateLocalStream(ctx context.Context, meetingID string, stream *MediaStream) error
	OnRemoteStream(func(*MediaStream))
	OnRemoteStreamRemoved(func(participantID string))
	Close() error
}
