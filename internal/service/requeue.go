package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	appErr "github.com/samims/keepsake/internal/errors"
	"github.com/samims/keepsake/internal/metrics"
	"github.com/samims/keepsake/internal/storage"
)

// RequeueService moves keepsakes out of the terminal error status.
type RequeueService interface {
	// Requeue schedules an errored keepsake again. source labels where the request came from.
	Requeue(ctx context.Context, id uuid.UUID, source string) error
}

type requeueService struct {
	keepsakes storage.KeepsakeStorage
	timeout   time.Duration
	now       func() time.Time
	l         *slog.Logger
}

// NewRequeueService creates the manual re-queue service
func NewRequeueService(keepsakes storage.KeepsakeStorage, timeout time.Duration, logger *slog.Logger) RequeueService {
	return &requeueService{
		keepsakes: keepsakes,
		timeout:   timeout,
		now:       func() time.Time { return time.Now().UTC() },
		l:         logger.With(slog.String("component", "requeue")),
	}
}

func (s *requeueService) Requeue(ctx context.Context, id uuid.UUID, source string) error {
	dbCtx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	err := s.keepsakes.Requeue(dbCtx, id, s.now())
	metrics.Requeues.WithLabelValues(source, requeueResult(err)).Inc()
	if err != nil {
		s.l.WarnContext(ctx, "Requeue rejected",
			slog.String("keepsake_id", id.String()),
			slog.String("source", source),
			slog.Any("error", err))
		return err
	}

	s.l.InfoContext(ctx, "Keepsake requeued", slog.String("keepsake_id", id.String()), slog.String("source", source))
	return nil
}

func requeueResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case appErr.IsNotFound(err):
		return "not_found"
	case errors.Is(err, appErr.ErrNotRequeueable):
		return "not_requeueable"
	default:
		return "error"
	}
}
