// Package coretest holds in-memory doubles of the core media interfaces.
package coretest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/dkeye/huddle/internal/core"
	"github.com/google/uuid"
)

var ErrUnsupported = errors.New("camera switch unsupported")

type Track struct {
	id      string
	kind    core.TrackKind
	enabled atomic.Bool
	muted   atomic.Bool
	stopped atomic.Bool
}

func NewTrack(kind core.TrackKind) *Track {
	t := &Track{id: uuid.NewString(), kind: kind}
	t.enabled.Store(true)
	return t
}

func (t *Track) ID() string { return t.id }
func (t *Track) Kind() core.TrackKind { return t.kind }
func (t *Track) Enabled() bool { return t.enabled.Load() }
func (t *Track) SetEnabled(v bool) { t.enabled.Store(v) }
func (t *Track) Muted() bool { return t.muted.Load() }
func (t *Track) SetMuted(v bool) { t.muted.Store(v) }
func (t *Track) Stop() { t.stopped.Store(true) }
func (t *Track) Stopped() bool { return t.stopped.Load() }

// CameraTrack is a video track that can flip between cameras.
type CameraTrack struct {
	*Track
	Fail     error
	switches atomic.Int32
}

func NewCameraTrack() *CameraTrack {
	return &CameraTrack{Track: NewTrack(core.KindVideo)}
}

func (t *CameraTrack) SwitchCamera() error {
	if t.Fail != nil {
		return t.Fail
	}
	t.switches.Add(1)
	return nil
}

func (t *CameraTrack) Switches() int { return int(t.switches.Load()) }

// NewStream builds an audio+video stream stamped with participantID.
func NewStream(participantID string) *core.MediaStream {
	s := core.NewMediaStream(uuid.NewString(), NewTrack(core.KindAudio), NewCameraTrack())
	s.ParticipantID = participantID
	return s
}

// Transport records every call and lets tests fire remote stream events.
type Transport struct {
	AcquireErr error
	ConnectErr error
	ProcessErr error
	UpdateErr  error

	mu        sync.Mutex
	onRemote  func(*core.MediaStream)
	onRemoved func(string)
	acquired  int
	connected [][]string
	processed []core.SignalMessage
	updated   []*core.MediaStream
	closed    int
}

func (t *Transport) AcquireLocalStream(_ context.Context, participantID string) (*core.MediaStream, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.acquired++
	if t.AcquireErr != nil {
		return nil, t.AcquireErr
	}
	return NewStream(participantID), nil
}

func (t *Transport) ConnectToParticipants(_ context.Context, _ string, ids []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = append(t.connected, append([]string(nil), ids...))
	return t.ConnectErr
}

func (t *Transport) ProcessSignal(_ context.Context, msg core.SignalMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.processed = append(t.processed, msg)
	return t.ProcessErr
}

func (t *Transport) UpdateLocalStream(_ context.Context, _ string, s *core.MediaStream) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.updated = append(t.updated, s)
	return t.UpdateErr
}

func (t *Transport) OnRemoteStream(fn func(*core.MediaStream)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onRemote = fn
}

func (t *Transport) OnRemoteStreamRemoved(fn func(string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onRemoved = fn
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed++
	return nil
}

// EmitRemote fires the remote-stream callback as the media library would.
func (t *Transport) EmitRemote(s *core.MediaStream) {
	t.mu.Lock()
	fn := t.onRemote
	t.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (t *Transport) EmitRemoved(participantID string) {
	t.mu.Lock()
	fn := t.onRemoved
	t.mu.Unlock()
	if fn != nil {
		fn(participantID)
	}
}

func (t *Transport) Acquired() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.acquired
}

func (t *Transport) Connected() [][]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([][]string(nil), t.connected...)
}

func (t *Transport) Processed() []core.SignalMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]core.SignalMessage(nil), t.processed...)
}

func (t *Transport) Updated() []*core.MediaStream {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*core.MediaStream(nil), t.updated...)
}

func (t *Transport) Closed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Notice is one non-blocking message shown by a Prompter.
type Notice struct {
	Title   string
	Message string
}

// Notices records Prompter.Notify calls; Confirm and Alert answer Answer.
type Notices struct {
	Answer bool

	mu   sync.Mutex
	seen []Notice
}

func (n *Notices) Confirm(context.Context, core.Dialog) (bool, error) { return n.Answer, nil }
func (n *Notices) Alert(context.Context, string, string) error { return nil }

func (n *Notices) Notify(title, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seen = append(n.seen, Notice{Title: title, Message: message})
}

func (n *Notices) Seen() []Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notice(nil), n.seen...)
}
