// Package navbuffer holds navigation commands that arrive before the app
// shell can route them, one slot per command kind.
package navbuffer

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/dkeye/huddle/internal/core"
	"github.com/rs/zerolog/log"
)

var ErrUnknownLink = errors.New("unknown deep link")

type Kind string

const (
	KindDeepLink     Kind = "deepLink"
	KindNotification Kind = "notification"
	KindNavigate     Kind = "navigate"
)

type Command struct {
	Kind  Kind
	Route core.Route
}

// Buffer is idle or buffering per kind. A later command of the same kind
// replaces the buffered one.
type Buffer struct {
	nav core.Navigator

	mu      sync.Mutex
	ready   bool
	pending map[Kind]Command
	order   []Kind
}

var _ core.Navigator = (*Buffer)(nil)

func New(nav core.Navigator) *Buffer {
	return &Buffer{nav: nav, pending: make(map[Kind]Command)}
}

// Dispatch runs cmd now if the navigator is ready and buffers it otherwise.
// It reports whether cmd ran.
func (b *Buffer) Dispatch(cmd Command) bool {
	b.mu.Lock()
	if !b.ready {
		if _, ok := b.pending[cmd.Kind]; !ok {
			b.order = append(b.order, cmd.Kind)
		}
		b.pending[cmd.Kind] = cmd
		b.mu.Unlock()
		log.Debug().Str("module", "navbuffer").Str("kind", string(cmd.Kind)).Str("screen", cmd.Route.Screen).Msg("navigator not ready, buffering")
		return false
	}
	b.mu.Unlock()
	b.nav.Navigate(cmd.Route.Screen, cmd.Route.Params)
	return true
}

// Navigate makes the buffer a core.Navigator: plain navigations share one
// slot, so only the latest is kept while not ready.
func (b *Buffer) Navigate(screen string, params map[string]any) {
	b.Dispatch(Command{Kind: KindNavigate, Route: core.Route{Screen: screen, Params: params}})
}

// Ready marks the navigator ready and drains every buffered command once,
// in the order their kinds were first buffered.
func (b *Buffer) Ready() int {
	b.mu.Lock()
	b.ready = true
	cmds := make([]Command, 0, len(b.order))
	for _, k := range b.order {
		cmds = append(cmds, b.pending[k])
	}
	b.pending = make(map[Kind]Command)
	b.order = nil
	b.mu.Unlock()

	for _, cmd := range cmds {
		b.nav.Navigate(cmd.Route.Screen, cmd.Route.Params)
	}
	return len(cmds)
}

// Reset returns to buffering, e.g. while the shell is rebuilt.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ready = false
}

func (b *Buffer) Pending(kind Kind) (Command, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cmd, ok := b.pending[kind]
	return cmd, ok
}

// DispatchURL parses a deep link and dispatches it.
func (b *Buffer) DispatchURL(raw string) error {
	cmd, err := ParseDeepLink(raw)
	if err != nil {
		log.Warn().Err(err).Str("module", "navbuffer").Str("url", raw).Msg("ignoring deep link")
		return err
	}
	b.Dispatch(cmd)
	return nil
}

// ParseDeepLink maps /event/{source}/{id} and /hackathon/{source}/{id} to
// EventDetails and /room/{code} to Room.
func ParseDeepLink(raw string) (Command, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Command{}, fmt.Errorf("parse deep link: %w", err)
	}
	path := u.Path
	if u.Opaque != "" {
		path = u.Opaque
	}
	// custom schemes put the first segment in the host: huddle://room/ABCD-1234
	if u.Scheme != "http" && u.Scheme != "https" && u.Host != "" {
		path = u.Host + "/" + path
	}
	var segs []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	if len(segs) == 0 {
		return Command{}, ErrUnknownLink
	}

	switch segs[0] {
	case "event", "hackathon":
		if len(segs) >= 3 {
			return Command{Kind: KindDeepLink, Route: core.Route{
				Screen: "EventDetails",
				Params: map[string]any{"source": segs[1], "id": segs[2]},
			}}, nil
		}
	case "room":
		if len(segs) >= 2 {
			return Command{Kind: KindDeepLink, Route: core.Route{
				Screen: "Room",
				Params: map[string]any{"roomCode": strings.ToUpper(segs[1])},
			}}, nil
		}
	}
	return Command{}, fmt.Errorf("%w: %s", ErrUnknownLink, segs[0])
}

// RoomLink is the deep link that ParseDeepLink maps back to the Room screen.
func RoomLink(code string) string {
	return "huddle://room/" + strings.ToUpper(code)
}
