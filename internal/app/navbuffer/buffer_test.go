package navbuffer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dkeye/huddle/internal/core"
)

type navLog struct{ routes []core.Route }

func (n *navLog) Navigate(screen string, params map[string]any) {
	n.routes = append(n.routes, core.Route{Screen: screen, Params: params})
}

func TestBufferedCommandsDrainOnce(t *testing.T) {
	nav := &navLog{}
	b := New(nav)

	require.False(t, b.Dispatch(Command{Kind: KindDeepLink, Route: core.Route{Screen: "EventDetails"}}))
	require.False(t, b.Dispatch(Command{Kind: KindNotification, Route: core.RouteTasks}))
	require.False(t, b.Dispatch(Command{Kind: KindDeepLink, Route: core.Route{Screen: "Room"}}))
	require.Empty(t, nav.routes)

	cmd, ok := b.Pending(KindDeepLink)
	require.True(t, ok)
	require.Equal(t, "Room", cmd.Route.Screen)

	require.Equal(t, 2, b.Ready())
	require.Equal(t, []string{"Room", "Tabs"}, screens(nav.routes))

	require.Zero(t, b.Ready())
	require.Len(t, nav.routes, 2)

	require.True(t, b.Dispatch(Command{Kind: KindNavigate, Route: core.RouteHome}))
	require.Len(t, nav.routes, 3)
}

func TestNavigateBeforeReadyKeepsTheLatest(t *testing.T) {
	nav := &navLog{}
	b := New(nav)

	b.Navigate("Room", map[string]any{"roomCode": "ABCD-1234"})
	b.Navigate(core.RouteHome.Screen, core.RouteHome.Params)
	require.Empty(t, nav.routes)
	cmd, ok := b.Pending(KindNavigate)
	require.True(t, ok)
	require.Equal(t, core.RouteHome.Screen, cmd.Route.Screen)

	require.Equal(t, 1, b.Ready())
	require.Equal(t, []string{core.RouteHome.Screen}, screens(nav.routes))
	require.Zero(t, b.Ready())

	b.Navigate("Room", nil)
	require.Equal(t, []string{core.RouteHome.Screen, "Room"}, screens(nav.routes))
}

func TestResetBuffersAgain(t *testing.T) {
	nav := &navLog{}
	b := New(nav)
	b.Ready()
	b.Reset()

	require.False(t, b.Dispatch(Command{Kind: KindNavigate, Route: core.RouteHome}))
	require.Equal(t, 1, b.Ready())
}

func screens(routes []core.Route) []string {
	out := make([]string, len(routes))
	for i, r := range routes {
		out[i] = r.Screen
	}
	return out
}

func TestParseDeepLink(t *testing.T) {
	cases := []struct {
		url    string
		screen string
		params map[string]any
	}{
		{"https://huddle.app/event/devpost/42", "EventDetails", map[string]any{"source": "devpost", "id": "42"}},
		{"huddle://hackathon/mlh/7", "EventDetails", map[string]any{"source": "mlh", "id": "7"}},
		{"huddle://room/abcd-1234", "Room", map[string]any{"roomCode": "ABCD-1234"}},
		{"/room/WXYZ-0000", "Room", map[string]any{"roomCode": "WXYZ-0000"}},
	}
	for _, tc := range cases {
		t.Run(tc.url, func(t *testing.T) {
			cmd, err := ParseDeepLink(tc.url)
			require.NoError(t, err)
			require.Equal(t, KindDeepLink, cmd.Kind)
			require.Equal(t, tc.screen, cmd.Route.Screen)
			require.Equal(t, tc.params, cmd.Route.Params)
		})
	}

	for _, bad := range []string{"", "https://huddle.app/", "huddle://event/only-source", "huddle://profile/1"} {
		_, err := ParseDeepLink(bad)
		require.ErrorIs(t, err, ErrUnknownLink, bad)
	}
}

func TestDispatchURLBuffersUntilReady(t *testing.T) {
	nav := &navLog{}
	b := New(nav)

	require.Error(t, b.DispatchURL("huddle://nowhere"))
	require.NoError(t, b.DispatchURL("huddle://room/abcd-1234"))
	require.Empty(t, nav.routes)

	b.Ready()
	require.Equal(t, []string{"Room"}, screens(nav.routes))
}

func TestRoomLinkRoundTrips(t *testing.T) {
	link := RoomLink("abcd-1234")
	require.Equal(t, "huddle://room/ABCD-1234", link)
	cmd, err := ParseDeepLink(link)
	require.NoError(t, err)
	require.Equal(t, "ABCD-1234", cmd.Route.Params["roomCode"])
}
