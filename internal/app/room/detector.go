package room

import (
	"math/rand/v2"
	"time"

	"github.com/dkeye/huddle/internal/core"
	"github.com/jonboulle/clockwork"
)

// SpeakingDetector decides whether a stream's owner is talking right now.
type SpeakingDetector interface {
	IsSpeaking(stream *core.MediaStream) bool
}

// liveAudio returns the first audio track when it is enabled and unmuted.
func liveAudio(stream *core.MediaStream) core.MediaTrack {
	if stream == nil {
		return nil
	}
	tracks := stream.AudioTracks()
	if len(tracks) == 0 {
		return nil
	}
	t := tracks[0]
	if !t.Enabled() || t.Muted() {
		return nil
	}
	return t
}

// RandomDetector is a heuristic, not a meter: a live audio track counts as
// speaking with a fixed probability per sample. Use ActivityDetector when
// the transport reports packet activity.
type RandomDetector struct {
	Threshold float64
	Sample    func() float64
}

func NewRandomDetector() *RandomDetector {
	return &RandomDetector{Threshold: 0.7, Sample: rand.Float64}
}

func (d *RandomDetector) IsSpeaking(stream *core.MediaStream) bool {
	if liveAudio(stream) == nil {
		return false
	}
	return d.Sample() > d.Threshold
}

// ActivityDetector treats recent inbound audio packets as speech.
type ActivityDetector struct {
	Window time.Duration
	Clock  clockwork.Clock
}

func NewActivityDetector(window time.Duration, clock clockwork.Clock) *ActivityDetector {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ActivityDetector{Window: window, Clock: clock}
}

func (d *ActivityDetector) IsSpeaking(stream *core.MediaStream) bool {
	t := liveAudio(stream)
	if t == nil {
		return false
	}
	meter, ok := t.(core.ActivityReporter)
	if !ok {
		return false
	}
	last := meter.LastActivity()
	return !last.IsZero() && d.Clock.Since(last) < d.Window
}

// NewDetector picks a detector by its configuration name.
func NewDetector(name string, interval time.Duration, clock clockwork.Clock) SpeakingDetector {
	if name == "activity" {
		return NewActivityDetector(interval, clock)
	}
	return NewRandomDetector()
}
