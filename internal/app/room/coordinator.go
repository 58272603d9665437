// Package room brings the local participant into a meeting's live session:
// local capture, the meeting and participant-state subscriptions, signaling
// and the set of remote streams, with bounded retries on failure.
package room

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dkeye/huddle/internal/app/participants"
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/docstore"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/dkeye/huddle/internal/metrics"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
)

var ErrClosed = errors.New("room closed")

const (
	DefaultMaxConnectionAttempts = 3
	DefaultRetryDelay            = 2 * time.Second
	DefaultSpeakingInterval      = time.Second
)

type Config struct {
	MaxConnectionAttempts int
	RetryDelay            time.Duration
	SpeakingInterval      time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxConnectionAttempts: DefaultMaxConnectionAttempts,
		RetryDelay:            DefaultRetryDelay,
		SpeakingInterval:      DefaultSpeakingInterval,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxConnectionAttempts <= 0 {
		c.MaxConnectionAttempts = d.MaxConnectionAttempts
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = d.RetryDelay
	}
	if c.SpeakingInterval <= 0 {
		c.SpeakingInterval = d.SpeakingInterval
	}
	return c
}

// Meetings is the slice of the meeting service a session needs.
type Meetings interface {
	Join(ctx context.Context, meetingID string) error
	Subscribe(ctx context.Context, meetingID string, fn func(domain.Meeting), onErr func(error)) (docstore.Unsubscribe, error)
}

type Deps struct {
	Docs      docstore.Store
	Meetings  Meetings
	Transport core.MediaTransport
	States    *participants.Store
	Prompter  core.Prompter
	Detector  SpeakingDetector
	Clock     clockwork.Clock
}

type monitor struct {
	ticker clockwork.Ticker
	done   chan struct{}
}

// Coordinator is safe for concurrent use; transport and store callbacks may
// arrive on any goroutine.
type Coordinator struct {
	self      domain.User
	cfg       Config
	docs      docstore.Store
	meetings  Meetings
	transport core.MediaTransport
	states    *participants.Store
	prompter  core.Prompter
	detector  SpeakingDetector
	clock     clockwork.Clock

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.RWMutex
	meeting      domain.Meeting
	state        domain.ConnectionState
	attempts     int
	lastErr      error
	scope        *attemptScope
	retry        clockwork.Timer
	peers        map[string]bool
	local        *core.MediaStream
	remote       map[string]*core.MediaStream
	monitors     map[string]*monitor
	speaking     map[string]bool
	mediaNoticed bool
	endedFired   bool
	callbacks    bool
	closed       bool
	closers      []func() error
	endedFns     []func(context.Context)
	changeFns    []func()

	cleanupOnce sync.Once
}

func New(meeting domain.Meeting, self domain.User, deps Deps, cfg Config) *Coordinator {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Detector == nil {
		deps.Detector = NewRandomDetector()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		self:      self,
		cfg:       cfg.withDefaults(),
		docs:      deps.Docs,
		meetings:  deps.Meetings,
		transport: deps.Transport,
		states:    deps.States,
		prompter:  deps.Prompter,
		detector:  deps.Detector,
		clock:     deps.Clock,
		ctx:       ctx,
		cancel:    cancel,
		meeting:   meeting,
		state:     domain.ConnectionConnecting,
		peers:     make(map[string]bool),
		remote:    make(map[string]*core.MediaStream),
		monitors:  make(map[string]*monitor),
		speaking:  make(map[string]bool),
	}
}

// Setup runs the first connection attempt; cancelling ctx stops the
// session's background work. A failed attempt schedules the
// next one after RetryDelay until MaxConnectionAttempts is reached; the
// returned error is that of the first attempt.
func (c *Coordinator) Setup(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	register := !c.callbacks
	c.callbacks = true
	c.mu.Unlock()

	if register {
		c.transport.OnRemoteStream(c.admitRemote)
		c.transport.OnRemoteStreamRemoved(c.removeRemote)
	}
	if ctx != nil {
		stop := context.AfterFunc(ctx, func() { c.cancel() })
		c.AddCloser(func() error { stop(); return nil })
	}
	return c.attempt()
}

func (c *Coordinator) attempt() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	prev := c.scope
	c.attempts++
	scope := newAttemptScope(c.ctx, c.attempts)
	c.scope = scope
	c.state = domain.ConnectionConnecting
	c.peers = make(map[string]bool)
	c.mu.Unlock()

	if prev != nil {
		prev.close()
	}
	log.Info().Str("module", "room").Str("meeting", c.Meeting().ID).Int("attempt", scope.n).Msg("connecting")
	c.changed()

	if err := c.connect(scope); err != nil {
		c.fail(scope, err)
		return err
	}

	c.mu.Lock()
	if c.scope != scope || scope.isFailed() {
		err := c.lastErr
		c.mu.Unlock()
		return err
	}
	c.lastErr = nil
	if c.local != nil || len(c.remote) > 0 {
		c.state = domain.ConnectionConnected
	}
	c.mu.Unlock()

	metrics.ConnectionAttempt("ok")
	log.Info().Str("module", "room").Str("meeting", c.Meeting().ID).Int("attempt", scope.n).Msg("connected")
	c.changed()
	return nil
}

func (c *Coordinator) connect(scope *attemptScope) error {
	ctx := scope.ctx
	meetingID := c.Meeting().ID

	if err := c.meetings.Join(ctx, meetingID); err != nil {
		return fmt.Errorf("join meeting: %w", err)
	}
	if err := c.acquireLocal(ctx); err != nil {
		return err
	}

	unsub, err := c.meetings.Subscribe(ctx, meetingID,
		func(m domain.Meeting) { c.onMeeting(scope, m) },
		func(err error) { c.fail(scope, fmt.Errorf("meeting subscription: %w", err)) })
	if err != nil {
		return fmt.Errorf("subscribe meeting: %w", err)
	}
	scope.add(unsub)

	unsub, err = c.states.Subscribe(ctx)
	if err != nil {
		return err
	}
	scope.add(unsub)

	if err := c.states.UpdateLocal(ctx, localPatch(c.LocalStream())); err != nil {
		log.Warn().Err(err).Str("module", "room").Msg("initial state push")
	}

	q := docstore.Collection(core.SignalingCollection).
		Where("meetingId", docstore.OpEqual, meetingID).
		Where("receiver", docstore.OpEqual, c.self.ID).
		Order("timestamp")
	unsub, err = c.docs.SubscribeQuery(ctx, q,
		func(changes []docstore.Change) { c.onSignals(scope, changes) },
		func(err error) { c.fail(scope, fmt.Errorf("signaling subscription: %w", err)) })
	if err != nil {
		return fmt.Errorf("subscribe signaling: %w", err)
	}
	scope.add(unsub)

	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	others := c.meeting.Others(c.self.ID)
	for _, id := range others {
		c.peers[id] = true
	}
	scope.ready = true
	c.mu.Unlock()

	if len(others) > 0 {
		if err := c.transport.ConnectToParticipants(ctx, meetingID, others); err != nil {
			return fmt.Errorf("connect to participants: %w", err)
		}
	}
	return nil
}

// acquireLocal keeps a stream from an earlier attempt. Denied capture is
// reported once and the session continues without local media.
func (c *Coordinator) acquireLocal(ctx context.Context) error {
	if c.LocalStream() != nil {
		return nil
	}
	stream, err := c.transport.AcquireLocalStream(ctx, c.self.ID)
	if errors.Is(err, core.ErrMediaAccess) {
		log.Warn().Err(err).Str("module", "room").Msg("continuing without local media")
		c.mu.Lock()
		first := !c.mediaNoticed
		c.mediaNoticed = true
		c.mu.Unlock()
		if first && c.prompter != nil {
			c.prompter.Notify("Media Access", "Camera or microphone is unavailable. You joined without local media.")
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("acquire local stream: %w", err)
	}
	if stream.ParticipantID == "" {
		stream.ParticipantID = c.self.ID
	}
	if c.Meeting().Settings.MuteOnEntry {
		for _, t := range stream.AudioTracks() {
			t.SetEnabled(false)
		}
	}
	c.SetLocalStream(stream)
	return nil
}

func localPatch(stream *core.MediaStream) participants.Patch {
	var audio, video, screen bool
	if stream != nil {
		if t := stream.AudioTracks(); len(t) > 0 {
			audio = t[0].Enabled()
		}
		if t := stream.VideoTracks(); len(t) > 0 {
			video = t[0].Enabled()
			if sc, ok := t[0].(core.ScreenCapture); ok {
				screen = sc.IsScreenCapture()
			}
		}
	}
	return participants.Patch{
		AudioEnabled:  participants.Bool(audio),
		VideoEnabled:  participants.Bool(video),
		ScreenSharing: participants.Bool(screen),
	}
}

func (c *Coordinator) onMeeting(scope *attemptScope, m domain.Meeting) {
	if scope.ctx.Err() != nil {
		return
	}
	c.mu.Lock()
	c.meeting = m
	var newcomers []string
	if scope.ready {
		current := make(map[string]bool, len(m.Participants))
		for _, id := range m.Others(c.self.ID) {
			current[id] = true
			if !c.peers[id] {
				newcomers = append(newcomers, id)
			}
		}
		c.peers = current
	}
	fire := m.Status == domain.MeetingCompleted && !c.endedFired
	if fire {
		c.endedFired = true
	}
	handlers := slices.Clone(c.endedFns)
	c.mu.Unlock()

	c.changed()

	if fire {
		log.Info().Str("module", "room").Str("meeting", m.ID).Msg("meeting ended remotely")
		go func() {
			for _, fn := range handlers {
				fn(context.Background())
			}
		}()
		return
	}
	if len(newcomers) > 0 {
		if err := c.transport.ConnectToParticipants(scope.ctx, m.ID, newcomers); err != nil {
			log.Warn().Err(err).Str("module", "room").Strs("participants", newcomers).Msg("connect newcomers")
		}
	}
}

// onSignals deletes each consumed message before handing it to the
// transport. A processing failure fails the attempt.
func (c *Coordinator) onSignals(scope *attemptScope, changes []docstore.Change) {
	for _, ch := range changes {
		if ch.Type != docstore.ChangeAdded || scope.ctx.Err() != nil {
			continue
		}
		if err := c.docs.Delete(scope.ctx, ch.Doc.Ref); err != nil {
			log.Warn().Err(err).Str("module", "room").Str("signal", ch.Doc.Ref.ID).Msg("delete consumed signal")
		}
		msg, err := core.SignalFromDocument(ch.Doc.Ref.ID, ch.Doc.Data)
		if err != nil {
			log.Warn().Err(err).Str("module", "room").Msg("skip malformed signal")
			continue
		}
		if err := c.transport.ProcessSignal(scope.ctx, msg); err != nil {
			c.fail(scope, fmt.Errorf("process %s from %s: %w", msg.Type, msg.Sender, err))
			return
		}
	}
}

func (c *Coordinator) fail(scope *attemptScope, err error) {
	if !scope.markFailed() {
		return
	}
	scope.close()

	c.mu.Lock()
	if c.closed || c.scope != scope {
		c.mu.Unlock()
		return
	}
	c.lastErr = err
	c.state = domain.ConnectionFailed
	retry := c.attempts < c.cfg.MaxConnectionAttempts
	if retry {
		c.retry = c.clock.AfterFunc(c.cfg.RetryDelay, func() { go c.retryAttempt() })
	}
	attempts := c.attempts
	c.mu.Unlock()

	metrics.ConnectionAttempt("failed")
	log.Error().Err(err).Str("module", "room").Int("attempt", attempts).Bool("retry", retry).Msg("connection attempt failed")
	c.changed()

	if !retry && c.prompter != nil {
		c.prompter.Notify("Connection Error", "Could not connect to the meeting. Please leave and try again.")
	}
}

func (c *Coordinator) retryAttempt() {
	c.mu.Lock()
	c.retry = nil
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	_ = c.attempt()
}

// admitRemote keeps at most one stream per participant, the latest one.
func (c *Coordinator) admitRemote(s *core.MediaStream) {
	if s == nil || s.ParticipantID == "" {
		log.Warn().Str("module", "room").Msg("dropping remote stream without participant id")
		return
	}
	pid := s.ParticipantID
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	_, replaced := c.remote[pid]
	c.remote[pid] = s
	c.state = domain.ConnectionConnected
	c.mu.Unlock()

	if replaced {
		log.Debug().Str("module", "room").Str("participant", pid).Msg("remote stream replaced")
	} else {
		metrics.RemoteStreams(1)
	}
	c.states.EnsureDefault(pid)
	c.watch(pid)
	c.changed()
}

// removeRemote drops the stream but keeps the participant's last state.
func (c *Coordinator) removeRemote(pid string) {
	c.mu.Lock()
	if _, ok := c.remote[pid]; !ok || c.closed {
		c.mu.Unlock()
		return
	}
	delete(c.remote, pid)
	delete(c.speaking, pid)
	if len(c.remote) == 0 && c.state == domain.ConnectionConnected {
		c.state = domain.ConnectionDisconnected
	}
	c.mu.Unlock()

	metrics.RemoteStreams(-1)
	c.unwatch(pid)
	c.changed()
}

// SetLocalStream replaces the local stream, stopping only the tracks the
// new stream does not carry over.
func (c *Coordinator) SetLocalStream(s *core.MediaStream) {
	c.mu.Lock()
	old := c.local
	c.local = s
	c.mu.Unlock()

	if old != nil && old != s {
		keep := make(map[string]bool)
		if s != nil {
			for _, t := range s.Tracks() {
				keep[t.ID()] = true
			}
		}
		for _, t := range old.Tracks() {
			if !keep[t.ID()] {
				t.Stop()
			}
		}
	}
	if s != nil {
		c.watch(c.self.ID)
	} else {
		c.unwatch(c.self.ID)
	}
	c.changed()
}

func (c *Coordinator) watch(pid string) {
	c.mu.Lock()
	if c.closed || c.monitors[pid] != nil {
		c.mu.Unlock()
		return
	}
	m := &monitor{ticker: c.clock.NewTicker(c.cfg.SpeakingInterval), done: make(chan struct{})}
	c.monitors[pid] = m
	c.mu.Unlock()

	go func() {
		defer m.ticker.Stop()
		for {
			select {
			case <-m.done:
				return
			case <-m.ticker.Chan():
				c.sample(pid)
			}
		}
	}()
}

func (c *Coordinator) unwatch(pid string) {
	c.mu.Lock()
	m := c.monitors[pid]
	delete(c.monitors, pid)
	c.mu.Unlock()
	if m != nil {
		close(m.done)
	}
}

// sample pushes the local result into the store; remote results only
// update the local overlay.
func (c *Coordinator) sample(pid string) {
	c.mu.RLock()
	stream := c.remote[pid]
	if pid == c.self.ID {
		stream = c.local
	}
	closed := c.closed
	c.mu.RUnlock()
	if stream == nil || closed {
		return
	}

	speaking := c.detector.IsSpeaking(stream)
	if pid == c.self.ID {
		if c.states.Local().Speaking != speaking {
			_ = c.states.UpdateLocal(c.ctx, participants.Patch{Speaking: participants.Bool(speaking)})
		}
		return
	}

	c.mu.Lock()
	prev := c.speaking[pid]
	if _, ok := c.remote[pid]; ok {
		c.speaking[pid] = speaking
	}
	c.mu.Unlock()
	if prev != speaking {
		c.changed()
	}
}

// Cleanup releases everything the session opened. Only the first call does
// any work; teardown errors are logged and returned, never retried.
func (c *Coordinator) Cleanup(ctx context.Context) error {
	var err error
	c.cleanupOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		scope := c.scope
		retry := c.retry
		c.retry = nil
		closers := c.closers
		c.closers = nil
		monitors := c.monitors
		c.monitors = make(map[string]*monitor)
		local := c.local
		c.local = nil
		admitted := len(c.remote)
		c.remote = make(map[string]*core.MediaStream)
		c.speaking = make(map[string]bool)
		c.state = domain.ConnectionDisconnected
		c.mu.Unlock()

		if retry != nil {
			retry.Stop()
		}
		if scope != nil {
			scope.close()
		}
		for _, m := range monitors {
			close(m.done)
		}
		for i := len(closers) - 1; i >= 0; i-- {
			err = multierr.Append(err, closers[i]())
		}
		err = multierr.Append(err, c.states.Close())
		err = multierr.Append(err, c.transport.Close())
		if local != nil {
			local.Stop()
		}
		c.cancel()
		metrics.RemoteStreams(-admitted)

		l := log.Info()
		if err != nil {
			l = log.Warn().Err(err)
		}
		l.Str("module", "room").Str("meeting", c.Meeting().ID).Msg("room cleaned up")
		c.changed()
	})
	return err
}

// AddCloser registers fn to run during Cleanup, in reverse order of
// registration. After Cleanup fn runs immediately.
func (c *Coordinator) AddCloser(fn func() error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		if err := fn(); err != nil {
			log.Warn().Err(err).Str("module", "room").Msg("late closer")
		}
		return
	}
	c.closers = append(c.closers, fn)
	c.mu.Unlock()
}

// OnMeetingEnded registers fn for the first time the meeting is seen
// completed. Handlers run on their own goroutine.
func (c *Coordinator) OnMeetingEnded(fn func(ctx context.Context)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endedFns = append(c.endedFns, fn)
}

// OnChange registers fn for any change of connection state, streams,
// meeting or speaking overlay.
func (c *Coordinator) OnChange(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changeFns = append(c.changeFns, fn)
}

func (c *Coordinator) changed() {
	c.mu.RLock()
	fns := slices.Clone(c.changeFns)
	c.mu.RUnlock()
	for _, fn := range fns {
		fn()
	}
}

func (c *Coordinator) State() domain.ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Coordinator) Attempts() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.attempts
}

func (c *Coordinator) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

func (c *Coordinator) Meeting() domain.Meeting {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.meeting
}

func (c *Coordinator) LocalStream() *core.MediaStream {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.local
}

// RemoteStreams returns the admitted streams ordered by participant id.
func (c *Coordinator) RemoteStreams() []*core.MediaStream {
	c.mu.RLock()
	out := make([]*core.MediaStream, 0, len(c.remote))
	for _, s := range c.remote {
		out = append(out, s)
	}
	c.mu.RUnlock()
	slices.SortFunc(out, func(a, b *core.MediaStream) int {
		switch {
		case a.ParticipantID < b.ParticipantID:
			return -1
		case a.ParticipantID > b.ParticipantID:
			return 1
		}
		return 0
	})
	return out
}

func (c *Coordinator) StreamFor(participantID string) (*core.MediaStream, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.remote[participantID]
	return s, ok
}

// Speaking reports the latest detector result. The local participant's
// value comes from the store; remote values never leave this process.
func (c *Coordinator) Speaking(participantID string) bool {
	if participantID == c.self.ID {
		return c.states.Local().Speaking
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.speaking[participantID]
}
