// Package participants keeps the local view of every participant's
// ephemeral state in one meeting and mediates local pushes and remote
// snapshots.
package participants

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/dkeye/huddle/internal/docstore"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const (
	CollectionName         = "participantStates"
	DefaultReactionDisplay = 2500 * time.Millisecond
)

// Collection returns meetings/{meetingID}/participantStates.
func Collection(meetingID string) string {
	return docstore.Doc("meetings", meetingID).Sub(CollectionName)
}

// Patch names the fields of a local update; nil fields are left alone.
type Patch struct {
	AudioEnabled  *bool
	VideoEnabled  *bool
	HandRaised    *bool
	Speaking      *bool
	ScreenSharing *bool
	Reaction      *domain.Reaction
}

func Bool(v bool) *bool { return &v }

func ReactionPtr(r domain.Reaction) *domain.Reaction { return &r }

func (p Patch) apply(s domain.ParticipantState) domain.ParticipantState {
	if p.AudioEnabled != nil {
		s.AudioEnabled = *p.AudioEnabled
	}
	if p.VideoEnabled != nil {
		s.VideoEnabled = *p.VideoEnabled
	}
	if p.HandRaised != nil {
		s.HandRaised = *p.HandRaised
	}
	if p.Speaking != nil {
		s.Speaking = *p.Speaking
	}
	if p.ScreenSharing != nil {
		s.ScreenSharing = *p.ScreenSharing
	}
	if p.Reaction != nil {
		s.Reaction = *p.Reaction
	}
	return s
}

type Option func(*Store)

func WithClock(c clockwork.Clock) Option { return func(s *Store) { s.clock = c } }

func WithReactionDisplay(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.display = d
		}
	}
}

// Store is safe for concurrent use. Only the local participant's own entry
// is ever written to the backend.
type Store struct {
	meetingID string
	self      domain.User
	docs      docstore.Store
	clock     clockwork.Clock
	display   time.Duration

	mu        sync.RWMutex
	states    map[string]domain.ParticipantState
	observers []func(participantID string, s domain.ParticipantState)
	reaction  clockwork.Timer
	// reactionGen tells a stale timer callback from the live one.
	reactionGen uint64
	unsub     docstore.Unsubscribe
	closed    bool
}

func New(meetingID string, self domain.User, docs docstore.Store, opts ...Option) *Store {
	s := &Store{
		meetingID: meetingID,
		self:      self,
		docs:      docs,
		clock:     clockwork.NewRealClock(),
		display:   DefaultReactionDisplay,
		states:    make(map[string]domain.ParticipantState),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Self() domain.User { return s.self }

// UpdateLocal merges p into the local participant's record. The merge is
// visible immediately; the backend write follows and a failure there is
// logged and returned without rolling back.
func (s *Store) UpdateLocal(ctx context.Context, p Patch) error {
	s.mu.Lock()
	cur, ok := s.states[s.self.ID]
	if !ok {
		cur = domain.DefaultParticipantState(s.clock.Now())
	}
	next := p.apply(cur)
	next.LastUpdated = s.clock.Now()
	s.states[s.self.ID] = next
	s.mu.Unlock()

	s.notify(s.self.ID, next)

	ref := docstore.Doc(Collection(s.meetingID), s.self.ID)
	if err := s.docs.Set(ctx, ref, next.ToDocument(), true); err != nil {
		log.Error().Err(err).Str("module", "participants").Str("meeting", s.meetingID).Msg("push local state")
		return fmt.Errorf("push participant state: %w", err)
	}
	return nil
}

// Apply replaces the stored record for participantID wholesale.
func (s *Store) Apply(participantID string, state domain.ParticipantState) {
	s.mu.Lock()
	s.states[participantID] = state
	s.mu.Unlock()
	s.notify(participantID, state)
}

// EnsureDefault creates the default record when none exists yet.
func (s *Store) EnsureDefault(participantID string) domain.ParticipantState {
	s.mu.Lock()
	st, ok := s.states[participantID]
	if !ok {
		st = domain.DefaultParticipantState(s.clock.Now())
		s.states[participantID] = st
	}
	s.mu.Unlock()
	if !ok {
		s.notify(participantID, st)
	}
	return st
}

func (s *Store) Get(participantID string) (domain.ParticipantState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[participantID]
	return st, ok
}

// Local returns the local record, or the default one if nothing was pushed.
func (s *Store) Local() domain.ParticipantState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.states[s.self.ID]; ok {
		return st
	}
	return domain.DefaultParticipantState(time.Time{})
}

func (s *Store) Snapshot() map[string]domain.ParticipantState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.states)
}

// React shows r and schedules its removal. A newer reaction restarts the
// single display timer, so only one clearing update is ever pending.
func (s *Store) React(ctx context.Context, r domain.Reaction) error {
	err := s.UpdateLocal(ctx, Patch{Reaction: ReactionPtr(r)})

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reaction != nil {
		s.reaction.Stop()
		s.reaction = nil
	}
	if r == domain.ReactionNone || s.closed {
		return err
	}
	s.reactionGen++
	gen := s.reactionGen
	s.reaction = s.clock.AfterFunc(s.display, func() {
		go s.clearReaction(gen)
	})
	return err
}

func (s *Store) clearReaction(gen uint64) {
	s.mu.Lock()
	if s.closed || s.reactionGen != gen || s.reaction == nil {
		s.mu.Unlock()
		return
	}
	s.reaction = nil
	s.mu.Unlock()
	_ = s.UpdateLocal(context.Background(), Patch{Reaction: ReactionPtr(domain.ReactionNone)})
}

func (s *Store) RaiseHand(ctx context.Context, raised bool) error {
	return s.UpdateLocal(ctx, Patch{HandRaised: Bool(raised)})
}

// Subscribe follows remote snapshots of the meeting's participant records.
// Removed records stay in the store: a participant may rejoin.
func (s *Store) Subscribe(ctx context.Context) (docstore.Unsubscribe, error) {
	unsub, err := s.docs.SubscribeQuery(ctx, docstore.Collection(Collection(s.meetingID)), s.onChanges, func(err error) {
		log.Error().Err(err).Str("module", "participants").Str("meeting", s.meetingID).Msg("participant state subscription")
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe participant states: %w", err)
	}
	s.mu.Lock()
	if s.unsub != nil {
		s.unsub()
	}
	s.unsub = unsub
	s.mu.Unlock()
	return unsub, nil
}

func (s *Store) onChanges(changes []docstore.Change) {
	for _, ch := range changes {
		pid := ch.Doc.Ref.ID
		switch ch.Type {
		case docstore.ChangeAdded, docstore.ChangeModified:
			st, err := domain.ParticipantStateFromDocument(ch.Doc.Data)
			if err != nil {
				log.Warn().Err(err).Str("module", "participants").Str("participant", pid).Msg("skip malformed state")
				continue
			}
			s.Apply(pid, st)
		case docstore.ChangeRemoved:
			log.Debug().Str("module", "participants").Str("participant", pid).Msg("remote state removed, keeping last known")
		}
	}
}

// OnChange registers an observer for every local or remote change.
func (s *Store) OnChange(fn func(participantID string, st domain.ParticipantState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

func (s *Store) notify(pid string, st domain.ParticipantState) {
	s.mu.RLock()
	obs := make([]func(string, domain.ParticipantState), len(s.observers))
	copy(obs, s.observers)
	s.mu.RUnlock()
	for _, fn := range obs {
		fn(pid, st)
	}
}

// Close stops the reaction timer and the subscription. Idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.reaction != nil {
		s.reaction.Stop()
		s.reaction = nil
	}
	unsub := s.unsub
	s.unsub = nil
	s.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	return nil
}
