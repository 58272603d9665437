package meetings

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/dkeye/huddle/internal/app/participants"
	"github.com/dkeye/huddle/internal/docstore"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/stretchr/testify/require"
)

var (
	host  = domain.User{ID: "host", DisplayName: "Hana Host"}
	guest = domain.User{ID: "guest", DisplayName: "Gus Guest"}
)

func newMeeting(t *testing.T, docs docstore.Store, req CreateRequest) domain.Meeting {
	t.Helper()
	m, err := New(docs, host, WithRetry(1, 0)).Create(context.Background(), req)
	require.NoError(t, err)
	return m
}

func TestCreateValidates(t *testing.T) {
	svc := New(docstore.NewMemory(), host)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateRequest{Title: "   ", Duration: 30})
	require.ErrorIs(t, err, ErrInvalidMeeting)
	_, err = svc.Create(ctx, CreateRequest{Title: "Sync", Duration: 0})
	require.ErrorIs(t, err, ErrInvalidMeeting)
	_, err = svc.Create(ctx, CreateRequest{Title: "Sync", Duration: 101})
	require.ErrorIs(t, err, ErrInvalidMeeting)
	_, err = svc.Create(ctx, CreateRequest{Title: "Sync", Duration: 30, MaxParticipants: 1})
	require.ErrorIs(t, err, ErrInvalidMeeting)
}

func TestCreateAndFindByRoomCode(t *testing.T) {
	docs := docstore.NewMemory()
	m := newMeeting(t, docs, CreateRequest{Title: " Planning ", Duration: 45, TaskID: "t1"})

	require.Equal(t, "Planning", m.Title)
	require.Equal(t, domain.MeetingScheduled, m.Status)
	require.Equal(t, []string{host.ID}, m.Participants)
	require.Equal(t, domain.DefaultMeetingCap, m.MaxParticipants)
	require.False(t, m.CreatedAt.IsZero())

	found, err := New(docs, guest).GetByRoomCode(context.Background(), m.RoomCode)
	require.NoError(t, err)
	require.Equal(t, m.ID, found.ID)

	_, err = New(docs, guest).GetByRoomCode(context.Background(), "ZZZZ-ZZZZ")
	require.ErrorIs(t, err, ErrMeetingNotFound)
}

func TestJoinRules(t *testing.T) {
	ctx := context.Background()
	docs := docstore.NewMemory()
	svc := New(docs, guest, WithRetry(1, 0))

	open := newMeeting(t, docs, CreateRequest{Title: "Open", Duration: 30, MaxParticipants: 2})
	require.NoError(t, svc.Join(ctx, open.ID))
	got, err := svc.Get(ctx, open.ID)
	require.NoError(t, err)
	require.Equal(t, domain.MeetingActive, got.Status)
	require.Equal(t, []string{host.ID, guest.ID}, got.Participants)

	// Rejoining a full meeting is fine for someone already in it.
	require.NoError(t, svc.Join(ctx, open.ID))
	third := New(docs, domain.User{ID: "third", DisplayName: "Third"}, WithRetry(1, 0))
	require.ErrorIs(t, third.Join(ctx, open.ID), ErrMeetingFull)

	private := newMeeting(t, docs, CreateRequest{Title: "Private", Duration: 30, IsPrivate: true})
	require.ErrorIs(t, svc.Join(ctx, private.ID), ErrPrivateMeeting)

	done := newMeeting(t, docs, CreateRequest{Title: "Done", Duration: 30})
	require.NoError(t, New(docs, host).End(ctx, done.ID))
	require.ErrorIs(t, svc.Join(ctx, done.ID), ErrMeetingEnded)

	require.ErrorIs(t, svc.Join(ctx, "missing"), ErrMeetingNotFound)
}

func TestLeaveAndEnd(t *testing.T) {
	ctx := context.Background()
	docs := docstore.NewMemory()
	m := newMeeting(t, docs, CreateRequest{Title: "Retro", Duration: 30})
	hostSvc := New(docs, host)
	guestSvc := New(docs, guest)
	require.NoError(t, guestSvc.Join(ctx, m.ID))

	for _, u := range []domain.User{host, guest} {
		require.NoError(t, participants.New(m.ID, u, docs).UpdateLocal(ctx, participants.Patch{}))
	}

	require.ErrorIs(t, guestSvc.End(ctx, m.ID), ErrNotHost)

	require.NoError(t, guestSvc.Leave(ctx, m.ID))
	got, err := hostSvc.Get(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, []string{host.ID}, got.Participants)
	_, err = docs.Get(ctx, docstore.Doc(participants.Collection(m.ID), guest.ID))
	require.ErrorIs(t, err, docstore.ErrNotFound)

	// The host leaving ends the meeting.
	require.NoError(t, hostSvc.Leave(ctx, m.ID))
	got, err = hostSvc.Get(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, domain.MeetingCompleted, got.Status)
	states, err := docs.Query(ctx, docstore.Collection(participants.Collection(m.ID)))
	require.NoError(t, err)
	require.Empty(t, states)
}

type flakyStore struct {
	*docstore.Memory
	failures atomic.Int32
}

func (f *flakyStore) Update(ctx context.Context, r docstore.Ref, fields map[string]any) error {
	if f.failures.Add(-1) >= 0 {
		return errors.New("unavailable")
	}
	return f.Memory.Update(ctx, r, fields)
}

func TestRetryTransientFailures(t *testing.T) {
	ctx := context.Background()
	docs := &flakyStore{Memory: docstore.NewMemory()}
	m := newMeeting(t, docs, CreateRequest{Title: "Flaky", Duration: 30})

	docs.failures.Store(2)
	require.NoError(t, New(docs, guest, WithRetry(3, 0)).Join(ctx, m.ID))

	docs.failures.Store(3)
	err := New(docs, guest, WithRetry(3, 0)).Join(ctx, m.ID)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrMeetingFull)
}

func TestTasksComplete(t *testing.T) {
	ctx := context.Background()
	docs := docstore.NewMemory()
	require.NoError(t, docs.Set(ctx, docstore.Doc(TaskCollection, "t1"), map[string]any{"completed": false}, false))

	require.NoError(t, NewTasks(docs).Complete(ctx, "t1"))
	doc, err := docs.Get(ctx, docstore.Doc(TaskCollection, "t1"))
	require.NoError(t, err)
	require.Equal(t, true, doc.Data["completed"])

	require.ErrorIs(t, NewTasks(docs).Complete(ctx, "missing"), docstore.ErrNotFound)
}
