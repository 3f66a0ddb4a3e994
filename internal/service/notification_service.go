package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/samims/keepsake/internal/metrics"
	"github.com/samims/keepsake/internal/model"
	"github.com/samims/keepsake/internal/store"
)

// Outcome is the terminal result of one keepsake as reported to its owner.
type Outcome struct {
	Keepsake model.Keepsake
	RunID    uuid.UUID
	Kind     model.NotificationKind
	Status   model.Status
	Reached  int
	Total    int
	Reason   string
	At       time.Time
}

// OutcomePublisher forwards outcome events to other systems.
type OutcomePublisher interface {
	Publish(ctx context.Context, evt model.OutcomeEvent) error
}

// NotificationService tells keepsake owners how their delivery went.
type NotificationService interface {
	// Emit writes exactly one notification for o. Failures are logged, never returned.
	Emit(ctx context.Context, o Outcome)
}

type notificationService struct {
	store     store.NotificationStorage
	publisher OutcomePublisher
	timeout   time.Duration
	l         *slog.Logger
}

// NewNotificationService creates the owner notification emitter. publisher may be nil.
func NewNotificationService(
	store store.NotificationStorage,
	publisher OutcomePublisher,
	timeout time.Duration,
	logger *slog.Logger,
) NotificationService {
	return &notificationService{
		store:     store,
		publisher: publisher,
		timeout:   timeout,
		l:         logger,
	}
}

func (s *notificationService) Emit(ctx context.Context, o Outcome) {
	n := &model.Notification{
		ID:          uuid.New(),
		OwnerID:     o.Keepsake.OwnerID,
		KeepsakeID:  o.Keepsake.ID,
		Kind:        o.Kind,
		SummaryText: summaryText(o),
		CreatedAt:   o.At,
	}

	writeCtx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.store.Insert(writeCtx, n); err != nil {
		metrics.Notifications.WithLabelValues(string(o.Kind), "failed").Inc()
		s.l.ErrorContext(ctx, "Failed to write owner notification",
			slog.String("keepsake_id", o.Keepsake.ID.String()),
			slog.String("kind", string(o.Kind)),
			slog.Any("error", err))
	} else {
		metrics.Notifications.WithLabelValues(string(o.Kind), "ok").Inc()
	}

	if s.publisher == nil {
		return
	}
	evt := model.OutcomeEvent{
		KeepsakeID: o.Keepsake.ID,
		OwnerID:    o.Keepsake.OwnerID,
		Kind:       o.Kind,
		Status:     o.Status,
		Reached:    o.Reached,
		Total:      o.Total,
		RunID:      o.RunID,
		At:         o.At,
	}
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.l.WarnContext(ctx, "Failed to publish outcome event",
			slog.String("keepsake_id", o.Keepsake.ID.String()),
			slog.Any("error", err))
	}
}

// summaryText never carries per-recipient detail; that stays in the operator logs.
func summaryText(o Outcome) string {
	switch {
	case o.Kind == model.KindDelivered:
		return fmt.Sprintf("Your keepsake %q was delivered.", o.Keepsake.Title)
	case o.Total == 0:
		return fmt.Sprintf("Your keepsake %q could not be delivered because it has no recipients.", o.Keepsake.Title)
	default:
		return fmt.Sprintf("Your keepsake %q could not be delivered.", o.Keepsake.Title)
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
