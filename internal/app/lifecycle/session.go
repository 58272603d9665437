// Package lifecycle decides how a participant leaves a meeting: host or
// guest, with or without a linked task, and makes sure every exit path
// tears the room down exactly once.
package lifecycle

import (
	"context"
	"sync"

	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/rs/zerolog/log"
)

type Phase string

const (
	PhaseActive     Phase = "active"
	PhaseEnding     Phase = "ending"
	PhaseLeaving    Phase = "leaving"
	PhaseTerminated Phase = "terminated"
)

var (
	taskDialog = core.Dialog{
		Title:       "Task Completion",
		Message:     "Did you complete the task associated with this meeting?",
		ConfirmText: "Yes",
		CancelText:  "No",
	}
	leaveDialog = core.Dialog{
		Title:       "Leave Meeting",
		Message:     "Are you sure you want to leave this meeting?",
		ConfirmText: "Leave",
		CancelText:  "Cancel",
	}
)

type MeetingEnder interface {
	End(ctx context.Context, meetingID string) error
	Leave(ctx context.Context, meetingID string) error
}

type TaskCompleter interface {
	Complete(ctx context.Context, taskID string) error
}

// Connection is the part of the room the lifecycle drives.
type Connection interface {
	State() domain.ConnectionState
	Cleanup(ctx context.Context) error
}

type Deps struct {
	Meetings  MeetingEnder
	Tasks     TaskCompleter
	Conn      Connection
	Prompter  core.Prompter
	Navigator core.Navigator
}

type Session struct {
	meeting  domain.Meeting
	self     domain.User
	meetings MeetingEnder
	tasks    TaskCompleter
	conn     Connection
	prompter core.Prompter
	nav      core.Navigator

	mu    sync.Mutex
	phase Phase
	once  sync.Once
	done  chan struct{}
}

func New(meeting domain.Meeting, self domain.User, deps Deps) *Session {
	return &Session{
		meeting:  meeting,
		self:     self,
		meetings: deps.Meetings,
		tasks:    deps.Tasks,
		conn:     deps.Conn,
		prompter: deps.Prompter,
		nav:      deps.Navigator,
		phase:    PhaseActive,
		done:     make(chan struct{}),
	}
}

func (s *Session) IsHost() bool { return s.meeting.IsHost(s.self.ID) }

func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Done is closed once the session has been torn down and navigated away.
func (s *Session) Done() <-chan struct{} { return s.done }

// begin moves an active session into its exit phase; any other phase means
// an exit is already under way.
func (s *Session) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseActive {
		return false
	}
	if s.IsHost() {
		s.phase = PhaseEnding
	} else {
		s.phase = PhaseLeaving
	}
	return true
}

// EndCall ends the meeting for a host and leaves it for a guest. A backend
// failure is returned, but the room is still torn down and the user still
// navigates away.
func (s *Session) EndCall(ctx context.Context) error {
	if !s.begin() {
		return nil
	}
	return s.endCall(ctx)
}

func (s *Session) endCall(ctx context.Context) error {
	l := log.With().Str("module", "lifecycle").Str("meeting", s.meeting.ID).Logger()

	if !s.IsHost() {
		err := s.meetings.Leave(ctx, s.meeting.ID)
		if err != nil {
			l.Error().Err(err).Msg("leave meeting")
		}
		s.terminate(ctx, core.RouteHome)
		return err
	}

	route := core.RouteHome
	if s.meeting.TaskID != "" {
		route = s.askTask(ctx)
	}
	err := s.meetings.End(ctx, s.meeting.ID)
	if err != nil {
		l.Error().Err(err).Msg("end meeting")
		route = core.RouteHome
	}
	s.terminate(ctx, route)
	return err
}

// askTask returns where to go once the meeting has ended.
func (s *Session) askTask(ctx context.Context) core.Route {
	done, err := s.prompter.Confirm(ctx, taskDialog)
	if err != nil {
		log.Warn().Err(err).Str("module", "lifecycle").Msg("task prompt dismissed")
		return core.RouteTasks
	}
	if !done {
		return core.RouteTasks
	}
	if err := s.tasks.Complete(ctx, s.meeting.TaskID); err != nil {
		log.Error().Err(err).Str("module", "lifecycle").Str("task", s.meeting.TaskID).Msg("complete task")
		s.prompter.Notify("Error", "Failed to update task status")
		return core.RouteHome
	}
	return core.RouteTasks
}

// ConfirmLeaveRoom asks before leaving. While the room is still
// connecting there is nothing to end, so it only tears down. It reports
// whether the user chose to leave.
func (s *Session) ConfirmLeaveRoom(ctx context.Context) (bool, error) {
	if s.Phase() != PhaseActive {
		return false, nil
	}
	leave, err := s.prompter.Confirm(ctx, leaveDialog)
	if err != nil || !leave {
		return false, err
	}
	if !s.begin() {
		return false, nil
	}
	if s.conn.State() == domain.ConnectionConnecting {
		s.terminate(ctx, core.RouteHome)
		return true, nil
	}
	return true, s.endCall(ctx)
}

// HandleMeetingEnded reacts to the host ending the meeting. A host, or a
// session already on its way out, just finishes; a guest acknowledges first.
func (s *Session) HandleMeetingEnded(ctx context.Context) {
	if !s.begin() {
		return
	}
	if !s.IsHost() {
		if err := s.prompter.Alert(ctx, "Meeting Ended", "The meeting has been ended by the host"); err != nil {
			log.Warn().Err(err).Str("module", "lifecycle").Msg("meeting ended alert")
		}
	}
	s.terminate(ctx, core.RouteHome)
}

// HandleBack intercepts the system back action. It never exits directly:
// the leave confirmation runs in the background and the action is always
// reported as handled.
func (s *Session) HandleBack(ctx context.Context) bool {
	go func() {
		if _, err := s.ConfirmLeaveRoom(ctx); err != nil {
			log.Warn().Err(err).Str("module", "lifecycle").Msg("leave from back action")
		}
	}()
	return true
}

// terminate is the single exit: cleanup once, navigate once.
func (s *Session) terminate(ctx context.Context, route core.Route) {
	s.once.Do(func() {
		s.mu.Lock()
		s.phase = PhaseTerminated
		s.mu.Unlock()

		if err := s.conn.Cleanup(ctx); err != nil {
			log.Warn().Err(err).Str("module", "lifecycle").Msg("cleanup")
		}
		s.nav.Navigate(route.Screen, route.Params)
		close(s.done)
	})
}
