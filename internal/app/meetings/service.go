// Package meetings wraps the meeting and task documents of the data service.
package meetings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dkeye/huddle/internal/app/participants"
	"github.com/dkeye/huddle/internal/docstore"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
)

const (
	Collection     = "meetings"
	DefaultRetries = 3
	DefaultBackoff = time.Second
	roomCodeTries  = 5
)

var (
	ErrMeetingNotFound = errors.New("meeting not found")
	ErrMeetingEnded    = errors.New("meeting has ended")
	ErrPrivateMeeting  = errors.New("meeting is private")
	ErrMeetingFull     = errors.New("meeting is full")
	ErrNotHost         = errors.New("only the host can end the meeting")
	ErrInvalidMeeting  = errors.New("invalid meeting")
)

// CreateRequest is validated before anything is written.
type CreateRequest struct {
	Title           string `validate:"required,max=120"`
	Description     string `validate:"max=1000"`
	Duration        int    `validate:"min=1,max=100"`
	MaxParticipants int    `validate:"omitempty,min=2,max=50"`
	IsPrivate       bool
	TaskID          string `validate:"max=128"`
	Settings        *domain.MeetingSettings
}

type Option func(*Service)

// WithRetry sets the attempt count and the linear backoff unit.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(s *Service) {
		if attempts > 0 {
			s.attempts = attempts
		}
		s.backoff = backoff
	}
}

func WithClock(c clockwork.Clock) Option { return func(s *Service) { s.clock = c } }

type Service struct {
	docs     docstore.Store
	self     domain.User
	clock    clockwork.Clock
	attempts int
	backoff  time.Duration
	validate *validator.Validate
}

func New(docs docstore.Store, self domain.User, opts ...Option) *Service {
	s := &Service{
		docs:     docs,
		self:     self,
		clock:    clockwork.NewRealClock(),
		attempts: DefaultRetries,
		backoff:  DefaultBackoff,
		validate: validator.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func ref(id string) docstore.Ref { return docstore.Doc(Collection, id) }

// permanent errors are answers, not outages.
func permanent(err error) bool {
	return errors.Is(err, ErrMeetingNotFound) ||
		errors.Is(err, ErrMeetingEnded) ||
		errors.Is(err, ErrPrivateMeeting) ||
		errors.Is(err, ErrMeetingFull) ||
		errors.Is(err, ErrNotHost) ||
		errors.Is(err, ErrInvalidMeeting) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func (s *Service) retry(ctx context.Context, op string, fn func(context.Context) error) error {
	var err error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		if err = fn(ctx); err == nil || permanent(err) {
			break
		}
		log.Warn().Err(err).Str("module", "meetings").Str("op", op).Int("attempt", attempt).Msg("operation failed")
		if attempt == s.attempts || s.backoff <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.clock.After(s.backoff * time.Duration(attempt)):
		}
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (domain.Meeting, error) {
	req.Title = strings.TrimSpace(req.Title)
	req.Description = strings.TrimSpace(req.Description)
	if err := s.validate.Struct(req); err != nil {
		return domain.Meeting{}, fmt.Errorf("%w: %v", ErrInvalidMeeting, err)
	}

	m := domain.Meeting{
		Title:           req.Title,
		Description:     req.Description,
		Host:            s.self.ID,
		TaskID:          req.TaskID,
		Participants:    []string{s.self.ID},
		Status:          domain.MeetingScheduled,
		IsPrivate:       req.IsPrivate,
		MaxParticipants: req.MaxParticipants,
		Duration:        req.Duration,
		Settings:        domain.DefaultMeetingSettings(),
	}
	if m.MaxParticipants == 0 {
		m.MaxParticipants = domain.DefaultMeetingCap
	}
	if req.Settings != nil {
		m.Settings = *req.Settings
	}

	err := s.retry(ctx, "create meeting", func(ctx context.Context) error {
		code, err := s.freeRoomCode(ctx)
		if err != nil {
			return err
		}
		m.RoomCode = code
		doc := m.ToDocument()
		doc["createdAt"] = docstore.ServerTimestamp()
		doc["updatedAt"] = docstore.ServerTimestamp()
		r, err := s.docs.Add(ctx, Collection, doc)
		if err != nil {
			return err
		}
		m.ID = r.ID
		return nil
	})
	if err != nil {
		return domain.Meeting{}, err
	}
	log.Info().Str("module", "meetings").Str("meeting", m.ID).Str("code", m.RoomCode).Msg("meeting created")
	return s.Get(ctx, m.ID)
}

func (s *Service) freeRoomCode(ctx context.Context) (string, error) {
	for range roomCodeTries {
		code := domain.GenerateRoomCode()
		docs, err := s.docs.Query(ctx, docstore.Collection(Collection).Where("roomCode", docstore.OpEqual, code))
		if err != nil {
			return "", err
		}
		if len(docs) == 0 {
			return code, nil
		}
	}
	return "", errors.New("no free room code")
}

func (s *Service) Get(ctx context.Context, meetingID string) (domain.Meeting, error) {
	var m domain.Meeting
	err := s.retry(ctx, "get meeting", func(ctx context.Context) error {
		var err error
		m, err = s.load(ctx, meetingID)
		return err
	})
	return m, err
}

func (s *Service) load(ctx context.Context, meetingID string) (domain.Meeting, error) {
	doc, err := s.docs.Get(ctx, ref(meetingID))
	if errors.Is(err, docstore.ErrNotFound) {
		return domain.Meeting{}, fmt.Errorf("%s: %w", meetingID, ErrMeetingNotFound)
	}
	if err != nil {
		return domain.Meeting{}, err
	}
	return domain.MeetingFromDocument(doc.Ref.ID, doc.Data)
}

// GetByRoomCode finds a scheduled or active meeting by its room code.
func (s *Service) GetByRoomCode(ctx context.Context, code string) (domain.Meeting, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	var m domain.Meeting
	err := s.retry(ctx, "find meeting", func(ctx context.Context) error {
		q := docstore.Collection(Collection).
			Where("roomCode", docstore.OpEqual, code).
			Where("status", docstore.OpIn, []any{string(domain.MeetingScheduled), string(domain.MeetingActive)})
		docs, err := s.docs.Query(ctx, q)
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			return fmt.Errorf("room %s: %w", code, ErrMeetingNotFound)
		}
		m, err = domain.MeetingFromDocument(docs[0].Ref.ID, docs[0].Data)
		return err
	})
	return m, err
}

// Join adds the current user to the meeting and marks it active. Joining
// again is allowed even when the meeting is at capacity.
func (s *Service) Join(ctx context.Context, meetingID string) error {
	return s.retry(ctx, "join meeting", func(ctx context.Context) error {
		m, err := s.load(ctx, meetingID)
		if err != nil {
			return err
		}
		switch {
		case m.IsOver():
			return ErrMeetingEnded
		case m.IsPrivate && !m.IsHost(s.self.ID):
			return ErrPrivateMeeting
		case m.IsFull() && !m.HasParticipant(s.self.ID):
			return ErrMeetingFull
		}
		return s.docs.Update(ctx, ref(meetingID), map[string]any{
			"participants": docstore.ArrayUnion(s.self.ID),
			"status":       string(domain.MeetingActive),
			"updatedAt":    docstore.ServerTimestamp(),
		})
	})
}

// Leave removes the current user. A leaving host ends the meeting instead.
func (s *Service) Leave(ctx context.Context, meetingID string) error {
	m, err := s.Get(ctx, meetingID)
	if err != nil {
		return err
	}
	if m.IsHost(s.self.ID) {
		return s.End(ctx, meetingID)
	}
	stateRef := docstore.Doc(participants.Collection(meetingID), s.self.ID)
	if err := s.docs.Delete(ctx, stateRef); err != nil {
		log.Warn().Err(err).Str("module", "meetings").Str("meeting", meetingID).Msg("delete own participant state")
	}
	return s.retry(ctx, "leave meeting", func(ctx context.Context) error {
		return s.docs.Update(ctx, ref(meetingID), map[string]any{
			"participants": docstore.ArrayRemove(s.self.ID),
			"updatedAt":    docstore.ServerTimestamp(),
		})
	})
}

// End completes the meeting for everyone and drops all participant states.
func (s *Service) End(ctx context.Context, meetingID string) error {
	m, err := s.Get(ctx, meetingID)
	if err != nil {
		return err
	}
	if !m.IsHost(s.self.ID) {
		return ErrNotHost
	}

	states, err := s.docs.Query(ctx, docstore.Collection(participants.Collection(meetingID)))
	if err != nil {
		log.Warn().Err(err).Str("module", "meetings").Str("meeting", meetingID).Msg("list participant states")
	}
	p := pool.New().WithErrors().WithContext(ctx).WithMaxGoroutines(8)
	for _, d := range states {
		p.Go(func(ctx context.Context) error { return s.docs.Delete(ctx, d.Ref) })
	}
	if err := p.Wait(); err != nil {
		log.Warn().Err(err).Str("module", "meetings").Str("meeting", meetingID).Msg("delete participant states")
	}

	err = s.retry(ctx, "end meeting", func(ctx context.Context) error {
		return s.docs.Update(ctx, ref(meetingID), map[string]any{
			"status":    string(domain.MeetingCompleted),
			"updatedAt": docstore.ServerTimestamp(),
		})
	})
	if err == nil {
		log.Info().Str("module", "meetings").Str("meeting", meetingID).Msg("meeting ended")
	}
	return err
}

// Subscribe delivers the meeting on every change. A deleted meeting is
// reported through onErr.
func (s *Service) Subscribe(ctx context.Context, meetingID string, fn func(domain.Meeting), onErr func(error)) (docstore.Unsubscribe, error) {
	return s.docs.SubscribeDoc(ctx, ref(meetingID), func(changes []docstore.Change) {
		for _, ch := range changes {
			if ch.Type == docstore.ChangeRemoved {
				if onErr != nil {
					onErr(fmt.Errorf("%s: %w", meetingID, ErrMeetingNotFound))
				}
				continue
			}
			m, err := domain.MeetingFromDocument(ch.Doc.Ref.ID, ch.Doc.Data)
			if err != nil {
				log.Warn().Err(err).Str("module", "meetings").Msg("skip malformed meeting")
				continue
			}
			fn(m)
		}
	}, onErr)
}
