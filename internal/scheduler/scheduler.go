// README: Background ticker that expires overdue waitlist offers.
package scheduler

import (
	"context"
	"log/slog"
	"time"
)

type sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

type Scheduler struct {
	waitlist sweeper
	interval time.Duration
	log      *slog.Logger
}

func New(waitlist sweeper, interval time.Duration, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{waitlist: waitlist, interval: interval, log: log}
}

// Start blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("scheduler started", slog.Duration("interval", s.interval))

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	expired, err := s.waitlist.Sweep(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.log.ErrorContext(ctx, "waitlist sweep failed", slog.Any("error", err))
		return
	}
	if expired > 0 {
		s.log.DebugContext(ctx, "waitlist offers expired", slog.Int("count", expired))
	}
}
