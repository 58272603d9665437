// Package sweeper completes meetings that outlived their planned duration
// and drops signaling messages nobody consumed.
package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/dkeye/huddle/internal/app/meetings"
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/docstore"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/dkeye/huddle/internal/metrics"
	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
)

const (
	DefaultSchedule  = "@every 1m"
	DefaultSignalTTL = 5 * time.Minute
)

type Option func(*Sweeper)

// WithCron injects a preconfigured scheduler.
func WithCron(c *cron.Cron) Option {
	return func(s *Sweeper) {
		if c != nil {
			s.cron = c
		}
	}
}

func WithClock(c clockwork.Clock) Option { return func(s *Sweeper) { s.clock = c } }

func WithSchedule(spec string) Option {
	return func(s *Sweeper) {
		if spec != "" {
			s.schedule = spec
		}
	}
}

func WithSignalTTL(ttl time.Duration) Option {
	return func(s *Sweeper) {
		if ttl > 0 {
			s.signalTTL = ttl
		}
	}
}

type Sweeper struct {
	docs      docstore.Store
	cron      *cron.Cron
	clock     clockwork.Clock
	schedule  string
	signalTTL time.Duration
}

func New(docs docstore.Store, opts ...Option) *Sweeper {
	s := &Sweeper{
		docs:      docs,
		clock:     clockwork.NewRealClock(),
		schedule:  DefaultSchedule,
		signalTTL: DefaultSignalTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cron == nil {
		s.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	return s
}

func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, func() {
		if _, err := s.Sweep(context.Background()); err != nil {
			log.Warn().Err(err).Str("module", "sweeper").Msg("sweep failed")
		}
	}); err != nil {
		return fmt.Errorf("schedule sweeper %q: %w", s.schedule, err)
	}
	s.cron.Start()
	log.Info().Str("module", "sweeper").Str("schedule", s.schedule).Msg("sweeper started")
	return nil
}

// Stop halts the scheduler; the returned context is done once a running
// sweep has finished.
func (s *Sweeper) Stop() context.Context { return s.cron.Stop() }

type Stats struct {
	Meetings int
	Signals  int
}

// Sweep runs one pass. Every failing document is reported; the pass does
// not stop at the first one.
func (s *Sweeper) Sweep(ctx context.Context) (Stats, error) {
	var stats Stats
	now := s.clock.Now()

	swept, errs := s.expireMeetings(ctx, now)
	stats.Meetings = swept

	dropped, err := s.dropSignals(ctx, now)
	stats.Signals = dropped
	errs = multierr.Append(errs, err)

	metrics.MeetingsSwept(stats.Meetings)
	result := "ok"
	if errs != nil {
		result = "error"
	}
	metrics.SweepRun(result)
	if stats.Meetings > 0 || stats.Signals > 0 {
		log.Info().Str("module", "sweeper").Int("meetings", stats.Meetings).Int("signals", stats.Signals).Msg("swept")
	}
	return stats, errs
}

func (s *Sweeper) expireMeetings(ctx context.Context, now time.Time) (int, error) {
	q := docstore.Collection(meetings.Collection).
		Where("status", docstore.OpIn, []any{string(domain.MeetingScheduled), string(domain.MeetingActive)})
	docs, err := s.docs.Query(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("list open meetings: %w", err)
	}

	var errs error
	swept := 0
	for _, d := range docs {
		m, err := domain.MeetingFromDocument(d.Ref.ID, d.Data)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if m.CreatedAt.IsZero() || now.Before(m.EndsAt()) {
			continue
		}
		err = s.docs.Update(ctx, d.Ref, map[string]any{
			"status":    string(domain.MeetingCompleted),
			"updatedAt": docstore.ServerTimestamp(),
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("complete meeting %s: %w", m.ID, err))
			continue
		}
		swept++
	}
	return swept, errs
}

func (s *Sweeper) dropSignals(ctx context.Context, now time.Time) (int, error) {
	docs, err := s.docs.Query(ctx, docstore.Collection(core.SignalingCollection))
	if err != nil {
		return 0, fmt.Errorf("list signals: %w", err)
	}
	var errs error
	dropped := 0
	for _, d := range docs {
		msg, err := core.SignalFromDocument(d.Ref.ID, d.Data)
		if err != nil || msg.Timestamp.IsZero() || now.Sub(msg.Timestamp) < s.signalTTL {
			continue
		}
		if err := s.docs.Delete(ctx, d.Ref); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		dropped++
	}
	return dropped, errs
}
