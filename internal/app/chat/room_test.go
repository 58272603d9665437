package chat

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/huddle/internal/docstore"
	"github.com/dkeye/huddle/internal/domain"
)

var (
	host  = domain.User{ID: "host", DisplayName: "Hana Host"}
	guest = domain.User{ID: "guest", DisplayName: "Gus Guest"}
)

func texts(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Text
	}
	return out
}

func TestMessagesArriveInTimestampOrder(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	docs := docstore.NewMemory(docstore.WithClock(clock))

	hostRoom := New("m1", host, docs)
	require.NoError(t, hostRoom.Send(ctx, "  first  "))
	clock.Advance(time.Second)
	require.NoError(t, hostRoom.Send(ctx, "second"))
	require.NoError(t, hostRoom.Send(ctx, "   "))

	guestRoom := New("m1", guest, docs)
	require.NoError(t, guestRoom.Subscribe(ctx))
	defer guestRoom.Close()

	require.Eventually(t, func() bool { return len(guestRoom.Messages()) == 2 }, time.Second, 10*time.Millisecond)
	msgs := guestRoom.Messages()
	require.Equal(t, []string{"first", "second"}, texts(msgs))
	require.Equal(t, "Hana", msgs[0].SenderName)
	require.False(t, msgs[0].IsMe)

	clock.Advance(time.Second)
	require.NoError(t, guestRoom.Send(ctx, "third"))
	require.Eventually(t, func() bool { return len(guestRoom.Messages()) == 3 }, time.Second, 10*time.Millisecond)
	require.True(t, guestRoom.Messages()[2].IsMe)
}

func TestEditDeleteAndReact(t *testing.T) {
	ctx := context.Background()
	docs := docstore.NewMemory()
	hostRoom := New("m1", host, docs)
	guestRoom := New("m1", guest, docs)
	require.NoError(t, guestRoom.Subscribe(ctx))
	defer guestRoom.Close()

	require.NoError(t, hostRoom.Send(ctx, "helo"))
	require.Eventually(t, func() bool { return len(guestRoom.Messages()) == 1 }, time.Second, 10*time.Millisecond)
	id := guestRoom.Messages()[0].ID

	require.ErrorIs(t, guestRoom.Edit(ctx, id, "hijacked"), ErrNotSender)
	require.NoError(t, hostRoom.Edit(ctx, id, " hello "))
	require.Eventually(t, func() bool {
		m := guestRoom.Messages()
		return len(m) == 1 && m[0].Text == "hello" && m[0].Edited
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, guestRoom.React(ctx, id, "like"))
	require.Eventually(t, func() bool { return guestRoom.Messages()[0].Reactions[guest.ID] == "like" }, time.Second, 10*time.Millisecond)
	require.NoError(t, guestRoom.React(ctx, id, "love"))
	require.Eventually(t, func() bool { return guestRoom.Messages()[0].Reactions[guest.ID] == "love" }, time.Second, 10*time.Millisecond)
	require.NoError(t, guestRoom.React(ctx, id, "love"))
	require.Eventually(t, func() bool {
		_, ok := guestRoom.Messages()[0].Reactions[guest.ID]
		return !ok
	}, time.Second, 10*time.Millisecond)

	require.ErrorIs(t, guestRoom.Delete(ctx, id), ErrNotSender)
	require.NoError(t, hostRoom.Delete(ctx, id))
	require.Eventually(t, func() bool { return len(guestRoom.Messages()) == 0 }, time.Second, 10*time.Millisecond)
}

func TestCloseIsIdempotent(t *testing.T) {
	docs := docstore.NewMemory()
	r := New("m1", guest, docs)
	require.NoError(t, r.Subscribe(context.Background()))
	require.Equal(t, 1, docs.Subscriptions())

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	require.Zero(t, docs.Subscriptions())
}
