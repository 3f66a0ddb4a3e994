package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/samims/keepsake/internal/model"
)

// Runner performs one processing pass.
type Runner interface {
	RunOnce(ctx context.Context) (model.Summary, error)
}

// Scheduler is the in-process run trigger.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	l        *slog.Logger
}

// NewScheduler creates a scheduler that triggers runner every interval.
func NewScheduler(runner Runner, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		runner:   runner,
		interval: interval,
		l:        logger.With(slog.String("component", "scheduler")),
	}
}

// Start begins periodic processing runs until ctx is cancelled.
// A failed run is logged; the next tick tries again.
func (s *Scheduler) Start(ctx context.Context) error {
	s.l.InfoContext(ctx, "Starting delivery scheduler", slog.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.l.InfoContext(ctx, "Delivery scheduler shutting down")
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.runner.RunOnce(ctx); err != nil {
				s.l.ErrorContext(ctx, "Processing run failed", slog.Any("error", err))
			}
		}
	}
}
