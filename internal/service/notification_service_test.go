package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samims/keepsake/internal/model"
)

func testOutcome(kind model.NotificationKind, reached, total int) Outcome {
	return Outcome{
		Keepsake: model.Keepsake{ID: uuid.New(), OwnerID: "owner-7", Title: "Birthday"},
		RunID:    uuid.New(),
		Kind:     kind,
		Status:   model.StatusSent,
		Reached:  reached,
		Total:    total,
		At:       baseTime,
	}
}

func TestNotificationService_Emit(t *testing.T) {
	tests := []struct {
		name        string
		outcome     Outcome
		wantKind    model.NotificationKind
		wantSummary string
	}{
		{
			name:        "delivered",
			outcome:     testOutcome(model.KindDelivered, 1, 3),
			wantKind:    model.KindDelivered,
			wantSummary: `Your keepsake "Birthday" was delivered.`,
		},
		{
			name:        "failed",
			outcome:     testOutcome(model.KindFailed, 0, 2),
			wantKind:    model.KindFailed,
			wantSummary: `Your keepsake "Birthday" could not be delivered.`,
		},
		{
			name:        "no recipients",
			outcome:     testOutcome(model.KindFailed, 0, 0),
			wantKind:    model.KindFailed,
			wantSummary: `Your keepsake "Birthday" could not be delivered because it has no recipients.`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := &failingNotificationStore{}
			svc := NewNotificationService(st, nil, time.Second, discardLogger())

			svc.Emit(context.Background(), tt.outcome)

			require.Len(t, st.inserted, 1)
			n := st.inserted[0]
			assert.Equal(t, tt.outcome.Keepsake.OwnerID, n.OwnerID)
			assert.Equal(t, tt.outcome.Keepsake.ID, n.KeepsakeID)
			assert.Equal(t, tt.wantKind, n.Kind)
			assert.Equal(t, tt.wantSummary, n.SummaryText)
			assert.Equal(t, baseTime, n.CreatedAt)
			assert.Nil(t, n.ReadAt)
			assert.NotEqual(t, uuid.Nil, n.ID)
		})
	}
}

func TestNotificationService_EmitSwallowsFailures(t *testing.T) {
	st := &failingNotificationStore{err: errors.New("insert failed")}
	pub := &recordingPublisher{err: errors.New("broker down")}
	svc := NewNotificationService(st, pub, time.Second, discardLogger())

	assert.NotPanics(t, func() {
		svc.Emit(context.Background(), testOutcome(model.KindDelivered, 1, 1))
	})
	assert.Len(t, pub.events, 1, "event is still published when the row write fails")
}

func TestNotificationService_PublishesOutcome(t *testing.T) {
	st := &failingNotificationStore{}
	pub := &recordingPublisher{}
	svc := NewNotificationService(st, pub, time.Second, discardLogger())
	o := testOutcome(model.KindDelivered, 2, 3)

	svc.Emit(context.Background(), o)

	require.Len(t, pub.events, 1)
	evt := pub.events[0]
	assert.Equal(t, o.Keepsake.ID, evt.KeepsakeID)
	assert.Equal(t, "owner-7", evt.OwnerID)
	assert.Equal(t, model.KindDelivered, evt.Kind)
	assert.Equal(t, model.StatusSent, evt.Status)
	assert.Equal(t, 2, evt.Reached)
	assert.Equal(t, 3, evt.Total)
	assert.Equal(t, o.RunID, evt.RunID)
}

func TestRunOnce_NotificationFailureKeepsStatus(t *testing.T) {
	h := newHarness(t)
	k := h.addKeepsake(baseTime, model.ChannelSingle, "a@example.com")
	h.p.notifier = NewNotificationService(&failingNotificationStore{err: errors.New("insert failed")}, nil, time.Second, discardLogger())

	summary, err := h.p.RunOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Sent)
	assert.Equal(t, model.StatusSent, h.keepsakes.get(k.ID).Status)
}
