package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/huddle/internal/adapters/rtc"
	"github.com/dkeye/huddle/internal/adapters/syncclient"
	"github.com/dkeye/huddle/internal/app/chat"
	"github.com/dkeye/huddle/internal/app/lifecycle"
	"github.com/dkeye/huddle/internal/app/media"
	"github.com/dkeye/huddle/internal/app/meetings"
	"github.com/dkeye/huddle/internal/app/navbuffer"
	"github.com/dkeye/huddle/internal/app/participants"
	"github.com/dkeye/huddle/internal/app/room"
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
)

// navigator prints where the app shell would go next.
type navigator struct {
	f *Formatter
}

func (n navigator) Navigate(screen string, params map[string]any) { n.f.Navigated(screen, params) }

type session struct {
	self     domain.User
	out      *Formatter
	term     *Terminal
	coord    *room.Coordinator
	controls *media.Controls
	states   *participants.Store
	chat     *chat.Room
	life     *lifecycle.Session
}

func runSession(ctx context.Context, deps *Dependencies, client *syncclient.Client, self domain.User, m domain.Meeting) error {
	cfg := deps.Config
	w := &syncWriter{w: deps.Out}
	out := NewFormatter(w)
	term := NewTerminal(deps.In, w)
	defer term.Close()

	nav := navbuffer.New(navigator{f: out})
	nav.Dispatch(navbuffer.Command{Kind: navbuffer.KindNavigate, Route: core.Route{
		Screen: "Room", Params: map[string]any{"roomCode": m.RoomCode},
	}})

	svc := meetings.New(client, self)
	states := participants.New(m.ID, self, client, participants.WithReactionDisplay(cfg.Room.ReactionDisplay))
	transport := rtc.New(self.ID, rtc.NewSignalChannel(client, nil), rtc.Options{
		Config:  rtc.DefaultWebRTCConfig(cfg.Media.ICEServers...),
		Capture: rtc.Capture{Audio: cfg.Media.CaptureAudio, Video: cfg.Media.CaptureVideo},
	})
	coord := room.New(m, self, room.Deps{
		Docs:      client,
		Meetings:  svc,
		Transport: transport,
		States:    states,
		Prompter:  term,
		Detector:  room.NewDetector(cfg.Room.SpeakingDetector, cfg.Room.SpeakingInterval, nil),
	}, room.Config{
		MaxConnectionAttempts: cfg.Room.MaxConnectionAttempts,
		RetryDelay:            cfg.Room.RetryDelay,
		SpeakingInterval:      cfg.Room.SpeakingInterval,
	})
	life := lifecycle.New(m, self, lifecycle.Deps{
		Meetings:  svc,
		Tasks:     meetings.NewTasks(client),
		Conn:      coord,
		Prompter:  term,
		Navigator: nav,
	})
	s := &session{
		self:     self,
		out:      out,
		term:     term,
		coord:    coord,
		controls: media.New(m.ID, self, coord, states, transport),
		states:   states,
		chat:     chat.New(m.ID, self, client),
		life:     life,
	}

	coord.OnMeetingEnded(life.HandleMeetingEnded)
	s.watch()

	// a failed first attempt keeps the session open: the coordinator retries
	// on its own and the user leaves once it gives up
	if err := coord.Setup(ctx); err != nil {
		out.Error(err.Error())
	}
	if err := s.chat.Subscribe(ctx); err != nil {
		log.Warn().Err(err).Str("module", "cli").Msg("chat unavailable")
	} else {
		coord.AddCloser(s.chat.Close)
	}

	out.Joined(coord.Meeting(), self)
	nav.Ready()
	return s.loop(ctx, client, deps)
}

// watch prints connection changes and chat messages as they arrive.
func (s *session) watch() {
	var mu sync.Mutex
	last := domain.ConnectionState("")
	s.coord.OnChange(func() {
		st := s.coord.State()
		mu.Lock()
		changed := st != last
		last = st
		mu.Unlock()
		if changed {
			s.status()
		}
	})

	seen := make(map[string]bool)
	s.chat.OnChange(func(msgs []chat.Message) {
		mu.Lock()
		var fresh []chat.Message
		for _, m := range msgs {
			if !seen[m.ID] {
				seen[m.ID] = true
				fresh = append(fresh, m)
			}
		}
		mu.Unlock()
		for _, m := range fresh {
			s.out.ChatMessage(m)
		}
	})
}

func (s *session) status() {
	s.out.Status(s.coord.State(), len(s.coord.RemoteStreams()), s.controls.AudioEnabled(), s.controls.VideoEnabled())
}

func (s *session) loop(ctx context.Context, client *syncclient.Client, deps *Dependencies) error {
	lines := make(chan string)
	more := make(chan struct{})
	eof := make(chan struct{})
	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	// the next line is only requested once the previous command has run,
	// so a prompt it opens gets the answer
	go func() {
		defer close(eof)
		for {
			line, ok := s.term.Next(loopCtx)
			if !ok {
				return
			}
			select {
			case lines <- line:
			case <-loopCtx.Done():
				return
			}
			select {
			case <-more:
			case <-loopCtx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-s.life.Done():
			return nil
		case <-client.Done():
			_ = s.coord.Cleanup(context.Background())
			return client.Err()
		case <-ctx.Done():
			_ = s.coord.Cleanup(context.Background())
			return ctx.Err()
		case sig := <-deps.Signals:
			log.Debug().Str("module", "cli").Str("signal", sig.String()).Msg("interrupt")
			s.life.HandleBack(ctx)
		case <-eof:
			if err := s.life.EndCall(ctx); err != nil {
				s.out.Error(err.Error())
			}
			<-s.life.Done()
			return nil
		case line := <-lines:
			if err := s.exec(ctx, line); err != nil {
				s.out.Error(err.Error())
			}
			select {
			case more <- struct{}{}:
			case <-s.life.Done():
			}
		}
	}
}

// parseCommand splits a line into its verb and the rest.
func parseCommand(line string) (verb, arg string) {
	line = strings.TrimSpace(line)
	verb, arg, _ = strings.Cut(line, " ")
	return strings.ToLower(verb), strings.TrimSpace(arg)
}

var errUnknownCommand = errors.New("unknown command")

func (s *session) exec(ctx context.Context, line string) error {
	verb, arg := parseCommand(line)
	switch verb {
	case "":
		return nil
	case "a":
		return s.controls.ToggleAudio(ctx)
	case "v":
		return s.controls.ToggleVideo(ctx)
	case "f":
		if !s.controls.FlipCamera() {
			return errors.New("no camera to flip")
		}
		facing := "back"
		if s.controls.IsFrontCamera() {
			facing = "front"
		}
		s.out.Info("camera " + facing)
		return nil
	case "h":
		return s.states.RaiseHand(ctx, !s.states.Local().HandRaised)
	case "r":
		r, err := domain.ParseReaction(arg)
		if err != nil {
			return err
		}
		return s.states.React(ctx, r)
	case "m":
		return s.chat.Send(ctx, arg)
	case "s", "status":
		s.status()
		return nil
	case "leave":
		_, err := s.life.ConfirmLeaveRoom(ctx)
		return err
	case "end":
		return s.life.EndCall(ctx)
	}
	return fmt.Errorf("%w: %s", errUnknownCommand, verb)
}
