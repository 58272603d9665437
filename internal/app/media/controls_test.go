package media

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/dkeye/huddle/internal/app/participants"
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/core/coretest"
	"github.com/dkeye/huddle/internal/docstore"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/stretchr/testify/require"
)

var self = domain.User{ID: "u1", DisplayName: "Ada"}

type holder struct {
	mu sync.Mutex
	s  *core.MediaStream
}

func (h *holder) LocalStream() *core.MediaStream {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.s
}

func (h *holder) SetLocalStream(s *core.MediaStream) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.s = s
}

func newControls(stream *core.MediaStream) (*Controls, *participants.Store, *coretest.Transport) {
	states := participants.New("m1", self, docstore.NewMemory())
	tr := &coretest.Transport{}
	return New("m1", self, &holder{s: stream}, states, tr), states, tr
}

func TestToggleVideoOffThenOn(t *testing.T) {
	ctx := context.Background()
	stream := coretest.NewStream(self.ID)
	c, states, _ := newControls(stream)

	require.NoError(t, c.ToggleVideo(ctx))
	require.False(t, c.VideoEnabled())
	require.False(t, states.Local().VideoEnabled)

	require.NoError(t, c.ToggleVideo(ctx))
	require.True(t, states.Local().VideoEnabled)
	require.Equal(t, stream.VideoTracks()[0].Enabled(), states.Local().VideoEnabled)
}

func TestConcurrentTogglesStayConsistent(t *testing.T) {
	ctx := context.Background()
	stream := coretest.NewStream(self.ID)
	c, states, _ := newControls(stream)

	var wg sync.WaitGroup
	for range 9 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.ToggleAudio(ctx)
		}()
	}
	wg.Wait()

	require.False(t, c.AudioEnabled())
	require.Equal(t, c.AudioEnabled(), states.Local().AudioEnabled)
}

func TestToggleWithoutTrackIsNoop(t *testing.T) {
	ctx := context.Background()
	c, states, _ := newControls(core.NewMediaStream("audio-only", coretest.NewTrack(core.KindAudio)))

	require.NoError(t, c.ToggleVideo(ctx))
	_, ok := states.Get(self.ID)
	require.False(t, ok)

	c2, _, _ := newControls(nil)
	require.NoError(t, c2.ToggleAudio(ctx))
	require.False(t, c2.AudioEnabled())
}

func TestFlipCamera(t *testing.T) {
	cam := coretest.NewCameraTrack()
	c, _, _ := newControls(core.NewMediaStream("s", cam))

	require.True(t, c.IsFrontCamera())
	require.True(t, c.FlipCamera())
	require.False(t, c.IsFrontCamera())
	require.Equal(t, 1, cam.Switches())

	cam.Fail = coretest.ErrUnsupported
	require.False(t, c.FlipCamera())
	require.False(t, c.IsFrontCamera())
}

func TestFlipCameraUnsupportedTrackLeavesStateAlone(t *testing.T) {
	c, _, _ := newControls(core.NewMediaStream("s", coretest.NewTrack(core.KindVideo)))
	require.False(t, c.FlipCamera())
	require.True(t, c.IsFrontCamera())
}

func TestUpdateLocalStreamStampsAndRenegotiates(t *testing.T) {
	ctx := context.Background()
	c, states, tr := newControls(coretest.NewStream(self.ID))
	tr.UpdateErr = errors.New("peer gone")

	muted := coretest.NewTrack(core.KindAudio)
	muted.SetEnabled(false)
	next := core.NewMediaStream("next", muted, coretest.NewCameraTrack())

	require.NoError(t, c.UpdateLocalStream(ctx, next))
	c.Wait()

	require.Equal(t, self.ID, next.ParticipantID)
	require.Equal(t, []*core.MediaStream{next}, tr.Updated())
	require.False(t, states.Local().AudioEnabled)
	require.True(t, states.Local().VideoEnabled)
	require.False(t, c.AudioEnabled())
}
