package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Loop drives TickAll at a fixed interval, passing the wall time actually
// elapsed since the previous tick so that a late tick catches up.
type Loop struct {
	s        *Scheduler
	interval time.Duration
	now      func() time.Time
	stopCh   chan struct{}
}

// NewLoop creates a tick loop for s.
func NewLoop(s *Scheduler, interval time.Duration) *Loop {
	return &Loop{
		s:        s,
		interval: interval,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// Run ticks until ctx is cancelled or Stop is called.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	slog.Info("tick loop started", "interval", l.interval)

	last := l.now()
	for {
		select {
		case <-ctx.Done():
			slog.Info("tick loop stopping")
			return ctx.Err()

		case <-l.stopCh:
			slog.Info("tick loop stopped")
			return nil

		case <-ticker.C:
			now := l.now()
			dt := now.Sub(last)
			last = now
			if err := l.s.TickAll(ctx, dt); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					continue
				}
				return err
			}
			if dt > 2*l.interval {
				slog.Warn("tick loop falling behind", "dt", dt, "interval", l.interval)
			}
		}
	}
}

// Stop ends Run. Must be called at most once.
func (l *Loop) Stop() {
	close(l.stopCh)
}
