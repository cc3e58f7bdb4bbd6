// Package jobs runs the periodic maintenance the API depends on.
package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"fivesteps.org/internal/obs"
)

// DailySpec fires shortly after midnight UTC.
const DailySpec = "5 0 * * *"

// DailyOpener creates the per-day statistics rows for every member.
type DailyOpener interface {
	EnsureDailyStatistics(ctx context.Context, day time.Time) (int64, error)
}

// Scheduler opens each statistics day on a cron schedule.
type Scheduler struct {
	cron    *cron.Cron
	opener  DailyOpener
	now     func() time.Time
	timeout time.Duration
}

type Option func(*Scheduler)

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewScheduler registers the daily job under a cron schedule. An empty schedule uses DailySpec.
func NewScheduler(opener DailyOpener, schedule string, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		cron:    cron.New(cron.WithLocation(time.UTC)),
		opener:  opener,
		now:     time.Now,
		timeout: time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	if schedule == "" {
		schedule = DailySpec
	}
	if _, err := s.cron.AddFunc(schedule, func() { _ = s.RunOnce(context.Background()) }); err != nil {
		return nil, err
	}
	return s, nil
}

// RunOnce opens today's statistics rows. Rows that already exist are kept.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	day := s.now().UTC()
	created, err := s.opener.EnsureDailyStatistics(ctx, day)
	if err != nil {
		obs.Logger().Error().Err(err).Str("day", day.Format(time.DateOnly)).Msg("daily statistics failed")
		return err
	}
	obs.Logger().Info().Int64("created", created).Str("day", day.Format(time.DateOnly)).Msg("daily statistics opened")
	return nil
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the schedule and waits for a running job to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}
