package room_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/huddle/internal/app/meetings"
	"github.com/dkeye/huddle/internal/app/participants"
	"github.com/dkeye/huddle/internal/app/room"
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/core/coretest"
	"github.com/dkeye/huddle/internal/docstore"
	"github.com/dkeye/huddle/internal/domain"
)

const (
	wait = 2 * time.Second
	tick = 10 * time.Millisecond
)

var (
	host  = domain.User{ID: "host", DisplayName: "Hana Host"}
	guest = domain.User{ID: "guest", DisplayName: "Gus Guest"}
)

type stubDetector struct{ speaking atomic.Bool }

func (d *stubDetector) IsSpeaking(*core.MediaStream) bool { return d.speaking.Load() }

// flakyMeetings fails the first n joins, then defers to the real service.
type flakyMeetings struct {
	room.Meetings
	failures atomic.Int32
	joins    atomic.Int32
}

func (f *flakyMeetings) Join(ctx context.Context, id string) error {
	f.joins.Add(1)
	if f.failures.Add(-1) >= 0 {
		return errors.New("backend unavailable")
	}
	return f.Meetings.Join(ctx, id)
}

type harness struct {
	docs      *docstore.Memory
	clock     *clockwork.FakeClock
	transport *coretest.Transport
	notices   *coretest.Notices
	detector  *stubDetector
	states    *participants.Store
	meeting   domain.Meeting
	room      *room.Coordinator
}

type setupOpt func(*harness, *room.Deps)

func newHarness(t *testing.T, self domain.User, req meetings.CreateRequest, opts ...setupOpt) *harness {
	t.Helper()
	h := &harness{
		docs:      docstore.NewMemory(),
		clock:     clockwork.NewFakeClock(),
		transport: &coretest.Transport{},
		notices:   &coretest.Notices{},
		detector:  &stubDetector{},
	}
	if req.Title == "" {
		req = meetings.CreateRequest{Title: "Standup", Duration: 30}
	}
	m, err := meetings.New(h.docs, host, meetings.WithRetry(1, 0)).Create(context.Background(), req)
	require.NoError(t, err)
	h.meeting = m

	h.states = participants.New(m.ID, self, h.docs, participants.WithClock(h.clock))
	deps := room.Deps{
		Docs:      h.docs,
		Meetings:  meetings.New(h.docs, self, meetings.WithRetry(1, 0)),
		Transport: h.transport,
		States:    h.states,
		Prompter:  h.notices,
		Detector:  h.detector,
		Clock:     h.clock,
	}
	for _, opt := range opts {
		opt(h, &deps)
	}
	h.room = room.New(m, self, deps, room.DefaultConfig())
	t.Cleanup(func() { _ = h.room.Cleanup(context.Background()) })
	return h
}

func connected(t *testing.T, self domain.User, opts ...setupOpt) *harness {
	t.Helper()
	h := newHarness(t, self, meetings.CreateRequest{}, opts...)
	require.NoError(t, h.room.Setup(context.Background()))
	return h
}

func TestRemoteStreamLastWriterWins(t *testing.T) {
	h := connected(t, guest)

	first := coretest.NewStream("p1")
	second := coretest.NewStream("p1")
	h.transport.EmitRemote(first)
	h.transport.EmitRemote(second)
	h.transport.EmitRemote(coretest.NewStream("p2"))

	streams := h.room.RemoteStreams()
	require.Len(t, streams, 2)
	require.Same(t, second, streams[0])
	require.Equal(t, "p2", streams[1].ParticipantID)
	require.Equal(t, domain.ConnectionConnected, h.room.State())

	st, ok := h.states.Get("p1")
	require.True(t, ok)
	require.True(t, st.AudioEnabled)
}

func TestRemoteStreamWithoutParticipantIsDropped(t *testing.T) {
	h := connected(t, guest)

	h.transport.EmitRemote(core.NewMediaStream("orphan", coretest.NewTrack(core.KindAudio)))

	require.Empty(t, h.room.RemoteStreams())
}

func TestRemovalKeepsParticipantState(t *testing.T) {
	h := connected(t, guest)

	h.transport.EmitRemote(coretest.NewStream("p1"))
	h.transport.EmitRemoved("p1")

	_, ok := h.room.StreamFor("p1")
	require.False(t, ok)
	_, ok = h.states.Get("p1")
	require.True(t, ok)
	require.Equal(t, domain.ConnectionDisconnected, h.room.State())
}

func TestSetupGivesUpAfterMaxAttempts(t *testing.T) {
	flaky := &flakyMeetings{}
	flaky.failures.Store(100)
	h := newHarness(t, guest, meetings.CreateRequest{}, func(_ *harness, d *room.Deps) {
		flaky.Meetings = d.Meetings
		d.Meetings = flaky
	})

	require.Error(t, h.room.Setup(context.Background()))
	require.Equal(t, 1, h.room.Attempts())
	require.Equal(t, domain.ConnectionFailed, h.room.State())

	for n := 2; n <= room.DefaultMaxConnectionAttempts; n++ {
		h.clock.BlockUntil(1)
		h.clock.Advance(room.DefaultRetryDelay)
		require.Eventually(t, func() bool {
			return h.room.Attempts() == n && h.room.State() == domain.ConnectionFailed
		}, wait, tick)
	}

	require.Eventually(t, func() bool { return len(h.notices.Seen()) == 1 }, wait, tick)
	require.Equal(t, "Connection Error", h.notices.Seen()[0].Title)

	h.clock.Advance(time.Minute)
	require.Never(t, func() bool { return flaky.joins.Load() > room.DefaultMaxConnectionAttempts }, 200*time.Millisecond, tick)
	require.Equal(t, room.DefaultMaxConnectionAttempts, h.room.Attempts())
	require.ErrorContains(t, h.room.LastError(), "backend unavailable")
}

func TestSetupRecoversOnRetry(t *testing.T) {
	flaky := &flakyMeetings{}
	flaky.failures.Store(1)
	h := newHarness(t, guest, meetings.CreateRequest{}, func(_ *harness, d *room.Deps) {
		flaky.Meetings = d.Meetings
		d.Meetings = flaky
	})

	require.Error(t, h.room.Setup(context.Background()))
	h.clock.BlockUntil(1)
	h.clock.Advance(room.DefaultRetryDelay)

	require.Eventually(t, func() bool {
		return h.room.Attempts() == 2 && h.room.State() == domain.ConnectionConnected
	}, wait, tick)
	require.NoError(t, h.room.LastError())
	require.Equal(t, 1, h.transport.Acquired())
	require.Empty(t, h.notices.Seen())

	m, err := meetings.New(h.docs, guest).Get(context.Background(), h.meeting.ID)
	require.NoError(t, err)
	require.True(t, m.HasParticipant(guest.ID))
	require.Equal(t, domain.MeetingActive, m.Status)
}

func addSignal(t *testing.T, docs docstore.Store, meetingID, receiver string) {
	t.Helper()
	msg := core.SignalMessage{
		MeetingID: meetingID,
		Type:      core.SignalOffer,
		Sender:    host.ID,
		Receiver:  receiver,
		Payload:   map[string]any{"sdp": "v=0"},
		Timestamp: time.Now(),
	}
	_, err := docs.Add(context.Background(), core.SignalingCollection, msg.ToDocument())
	require.NoError(t, err)
}

func TestSignalsAreConsumedAndForwarded(t *testing.T) {
	h := connected(t, guest)
	ctx := context.Background()

	addSignal(t, h.docs, h.meeting.ID, guest.ID)
	addSignal(t, h.docs, h.meeting.ID, "someone-else")

	require.Eventually(t, func() bool { return len(h.transport.Processed()) == 1 }, wait, tick)
	got := h.transport.Processed()[0]
	require.Equal(t, core.SignalOffer, got.Type)
	require.Equal(t, host.ID, got.Sender)
	require.Equal(t, "v=0", got.Payload["sdp"])

	require.Eventually(t, func() bool {
		left, err := h.docs.Query(ctx, docstore.Collection(core.SignalingCollection))
		return err == nil && len(left) == 1 && left[0].Data["receiver"] == "someone-else"
	}, wait, tick)
}

func TestSignalFailureRetriesTheAttempt(t *testing.T) {
	h := newHarness(t, guest, meetings.CreateRequest{})
	h.transport.ProcessErr = errors.New("bad sdp")
	require.NoError(t, h.room.Setup(context.Background()))

	addSignal(t, h.docs, h.meeting.ID, guest.ID)

	require.Eventually(t, func() bool { return h.room.State() == domain.ConnectionFailed }, wait, tick)
	require.ErrorContains(t, h.room.LastError(), "bad sdp")

	// The consumed message is gone, so the retry comes up clean.
	require.Eventually(t, func() bool {
		h.clock.Advance(room.DefaultRetryDelay)
		return h.room.Attempts() == 2 && h.room.State() == domain.ConnectionConnected
	}, wait, tick)
}

func TestMeetingEndedHandlerRunsOnce(t *testing.T) {
	h := connected(t, guest)
	ctx := context.Background()

	var ended atomic.Int32
	h.room.OnMeetingEnded(func(context.Context) { ended.Add(1) })

	require.NoError(t, meetings.New(h.docs, host).End(ctx, h.meeting.ID))
	require.Eventually(t, func() bool { return ended.Load() == 1 }, wait, tick)
	require.Eventually(t, func() bool { return h.room.Meeting().Status == domain.MeetingCompleted }, wait, tick)

	require.NoError(t, h.docs.Update(ctx, docstore.Doc(meetings.Collection, h.meeting.ID), map[string]any{"title": "Renamed"}))
	require.Eventually(t, func() bool { return h.room.Meeting().Title == "Renamed" }, wait, tick)
	require.Equal(t, int32(1), ended.Load())
}

func TestNewcomersAreConnected(t *testing.T) {
	h := connected(t, host)
	require.Empty(t, h.transport.Connected())

	require.NoError(t, meetings.New(h.docs, guest).Join(context.Background(), h.meeting.ID))

	require.Eventually(t, func() bool {
		got := h.transport.Connected()
		return len(got) == 1 && len(got[0]) == 1 && got[0][0] == guest.ID
	}, wait, tick)
}

func TestGuestConnectsToExistingParticipants(t *testing.T) {
	h := connected(t, guest)

	calls := h.transport.Connected()
	require.NotEmpty(t, calls)
	require.Equal(t, []string{host.ID}, calls[0])
}

func TestCleanupIsIdempotent(t *testing.T) {
	h := connected(t, guest)
	h.transport.EmitRemote(coretest.NewStream("p1"))
	local := h.room.LocalStream()
	require.NotNil(t, local)

	var closed atomic.Int32
	h.room.AddCloser(func() error { closed.Add(1); return nil })

	ctx := context.Background()
	require.NoError(t, h.room.Cleanup(ctx))
	require.NoError(t, h.room.Cleanup(ctx))

	require.Equal(t, int32(1), closed.Load())
	require.Equal(t, 1, h.transport.Closed())
	require.Zero(t, h.docs.Subscriptions())
	require.False(t, local.Active())
	for _, tr := range local.Tracks() {
		require.True(t, tr.(interface{ Stopped() bool }).Stopped())
	}
	require.Empty(t, h.room.RemoteStreams())
	require.Nil(t, h.room.LocalStream())
	require.Equal(t, domain.ConnectionDisconnected, h.room.State())

	h.transport.EmitRemote(coretest.NewStream("late"))
	require.Empty(t, h.room.RemoteStreams())
	require.ErrorIs(t, h.room.Setup(ctx), room.ErrClosed)
}

func TestSpeakingOverlayStaysLocal(t *testing.T) {
	h := connected(t, guest)
	h.detector.speaking.Store(true)
	h.transport.EmitRemote(coretest.NewStream("p1"))

	h.clock.Advance(room.DefaultSpeakingInterval)

	require.Eventually(t, func() bool { return h.room.Speaking("p1") }, wait, tick)
	st, _ := h.states.Get("p1")
	require.False(t, st.Speaking)

	require.Eventually(t, func() bool { return h.room.Speaking(guest.ID) }, wait, tick)
	doc, err := h.docs.Get(context.Background(), docstore.Doc(participants.Collection(h.meeting.ID), guest.ID))
	require.NoError(t, err)
	require.Equal(t, true, doc.Data["isSpeaking"])

	_, err = h.docs.Get(context.Background(), docstore.Doc(participants.Collection(h.meeting.ID), "p1"))
	require.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestDeniedMediaContinuesWithoutLocalStream(t *testing.T) {
	h := newHarness(t, guest, meetings.CreateRequest{})
	h.transport.AcquireErr = core.ErrMediaAccess

	require.NoError(t, h.room.Setup(context.Background()))
	require.Nil(t, h.room.LocalStream())
	require.Equal(t, domain.ConnectionConnecting, h.room.State())
	require.Len(t, h.notices.Seen(), 1)
	require.Equal(t, "Media Access", h.notices.Seen()[0].Title)

	local := h.states.Local()
	require.False(t, local.AudioEnabled)
	require.False(t, local.VideoEnabled)

	h.transport.EmitRemote(coretest.NewStream("p1"))
	require.Equal(t, domain.ConnectionConnected, h.room.State())
}

func TestMuteOnEntryDisablesLocalAudio(t *testing.T) {
	settings := domain.DefaultMeetingSettings()
	settings.MuteOnEntry = true
	h := newHarness(t, guest, meetings.CreateRequest{Title: "Quiet", Duration: 15, Settings: &settings})

	require.NoError(t, h.room.Setup(context.Background()))
	audio := h.room.LocalStream().AudioTracks()
	require.Len(t, audio, 1)
	require.False(t, audio[0].Enabled())
	require.False(t, h.states.Local().AudioEnabled)
	require.True(t, h.states.Local().VideoEnabled)
}

func TestSetLocalStreamStopsOnlyReplacedTracks(t *testing.T) {
	h := connected(t, guest)
	old := h.room.LocalStream()
	audio := old.AudioTracks()[0]
	video := old.VideoTracks()[0]

	next := core.NewMediaStream("next", audio, coretest.NewCameraTrack())
	h.room.SetLocalStream(next)

	require.Same(t, next, h.room.LocalStream())
	require.False(t, audio.(*coretest.Track).Stopped())
	require.True(t, video.(*coretest.CameraTrack).Stopped())
}
