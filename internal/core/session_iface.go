package core

//go:generate mockgen -source=session_iface.go -destination=mocks/mock_session.go -package=mocks

import (
	"context"

	"github.com/dkeye/huddle/internal/domain"
)

// Route is a navigation target understood by the app shell.
type Route struct {
	Screen string
	Params map[string]any
}

var (
	RouteHome  = Route{Screen: "Tabs", Params: map[string]any{"screen": "Home"}}
	RouteTasks = Route{Screen: "Tabs", Params: map[string]any{"screen": "Tasks"}}
)

// Navigator moves the app between sections. The core issues commands but
// never owns routing.
type Navigator interface {
	Navigate(screen string, params map[string]any)
}

// Dialog is a two-button blocking question.
type Dialog struct {
	Title       string
	Message     string
	ConfirmText string
	CancelText  string
}

type Prompter interface {
	// Confirm blocks until the user answers; false means the cancel path.
	Confirm(ctx context.Context, d Dialog) (bool, error)
	// Alert blocks until the user acknowledges.
	Alert(ctx context.Context, title, message string) error
	// Notify shows a message without waiting.
	Notify(title, message string)
}

// IdentityProvider exposes the current user as read-only ambient context.
type IdentityProvider interface {
	CurrentUser() domain.User
}
