// Package media reflects local intent for audio, video and camera facing
// onto the local stream and the participant state store.
package media

import (
	"context"
	"sync"

	"github.com/dkeye/huddle/internal/app/participants"
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/rs/zerolog/log"
)

// StreamHolder owns the single local stream of a session.
type StreamHolder interface {
	LocalStream() *core.MediaStream
	SetLocalStream(*core.MediaStream)
}

type StatePusher interface {
	UpdateLocal(ctx context.Context, p participants.Patch) error
}

type Renegotiator interface {
	UpdateLocalStream(ctx context.Context, meetingID string, stream *core.MediaStream) error
}

type Controls struct {
	meetingID string
	self      domain.User
	holder    StreamHolder
	states    StatePusher
	transport Renegotiator

	// mu serialises toggles so the pushed value always matches the track.
	mu          sync.Mutex
	frontCamera bool
	renegotiate sync.WaitGroup
}

func New(meetingID string, self domain.User, holder StreamHolder, states StatePusher, transport Renegotiator) *Controls {
	return &Controls{
		meetingID:   meetingID,
		self:        self,
		holder:      holder,
		states:      states,
		transport:   transport,
		frontCamera: true,
	}
}

func (c *Controls) ToggleAudio(ctx context.Context) error {
	return c.toggle(ctx, core.KindAudio)
}

func (c *Controls) ToggleVideo(ctx context.Context) error {
	return c.toggle(ctx, core.KindVideo)
}

func (c *Controls) toggle(ctx context.Context, kind core.TrackKind) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	track := c.firstTrack(kind)
	if track == nil {
		log.Debug().Str("module", "media").Str("kind", string(kind)).Msg("toggle without track, ignoring")
		return nil
	}
	enabled := !track.Enabled()
	track.SetEnabled(enabled)
	log.Info().Str("module", "media").Str("kind", string(kind)).Bool("enabled", enabled).Msg("track toggled")

	patch := participants.Patch{AudioEnabled: participants.Bool(enabled)}
	if kind == core.KindVideo {
		patch = participants.Patch{VideoEnabled: participants.Bool(enabled)}
	}
	return c.states.UpdateLocal(ctx, patch)
}

func (c *Controls) firstTrack(kind core.TrackKind) core.MediaTrack {
	stream := c.holder.LocalStream()
	if stream == nil {
		return nil
	}
	var tracks []core.MediaTrack
	if kind == core.KindAudio {
		tracks = stream.AudioTracks()
	} else {
		tracks = stream.VideoTracks()
	}
	if len(tracks) == 0 {
		return nil
	}
	return tracks[0]
}

// FlipCamera switches every video track that supports it. It reports
// whether at least one track switched. The facing flag is display-only.
func (c *Controls) FlipCamera() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	stream := c.holder.LocalStream()
	if stream == nil {
		log.Warn().Str("module", "media").Msg("flip camera without local stream")
		return false
	}
	switched := false
	for _, t := range stream.VideoTracks() {
		sw, ok := t.(core.CameraSwitcher)
		if !ok {
			log.Warn().Str("module", "media").Str("track", t.ID()).Msg("camera switch unsupported")
			continue
		}
		if err := sw.SwitchCamera(); err != nil {
			log.Warn().Err(err).Str("module", "media").Str("track", t.ID()).Msg("camera switch failed")
			continue
		}
		switched = true
	}
	if switched {
		c.frontCamera = !c.frontCamera
	}
	return switched
}

func (c *Controls) IsFrontCamera() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frontCamera
}

// UpdateLocalStream replaces the local stream. Renegotiation is requested
// in the background and its failure is only logged; the holder and the
// participant record are updated right away.
func (c *Controls) UpdateLocalStream(ctx context.Context, stream *core.MediaStream) error {
	if stream == nil {
		return nil
	}
	if stream.ParticipantID == "" {
		stream.ParticipantID = c.self.ID
	}

	c.renegotiate.Add(1)
	go func(ctx context.Context) {
		defer c.renegotiate.Done()
		if err := c.transport.UpdateLocalStream(ctx, c.meetingID, stream); err != nil {
			log.Error().Err(err).Str("module", "media").Str("stream", stream.ID).Msg("renegotiation failed")
		}
	}(context.WithoutCancel(ctx))

	c.mu.Lock()
	defer c.mu.Unlock()
	c.holder.SetLocalStream(stream)

	return c.states.UpdateLocal(ctx, participants.Patch{
		AudioEnabled:  participants.Bool(anyEnabled(stream.AudioTracks())),
		VideoEnabled:  participants.Bool(anyEnabled(stream.VideoTracks())),
		ScreenSharing: participants.Bool(isScreenCapture(stream)),
	})
}

// Wait blocks until background renegotiations have returned.
func (c *Controls) Wait() { c.renegotiate.Wait() }

func (c *Controls) AudioEnabled() bool {
	t := c.firstTrack(core.KindAudio)
	return t != nil && t.Enabled()
}

func (c *Controls) VideoEnabled() bool {
	t := c.firstTrack(core.KindVideo)
	return t != nil && t.Enabled()
}

func anyEnabled(tracks []core.MediaTrack) bool {
	for _, t := range tracks {
		if t.Enabled() {
			return true
		}
	}
	return false
}

func isScreenCapture(stream *core.MediaStream) bool {
	for _, t := range stream.VideoTracks() {
		if sc, ok := t.(core.ScreenCapture); ok && sc.IsScreenCapture() {
			return true
		}
	}
	return false
}
