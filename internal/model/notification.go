package model

import (
	"time"

	"github.com/google/uuid"
)

// NotificationKind is the outcome reported to a keepsake owner.
type NotificationKind string

const (
	KindDelivered NotificationKind = "delivered"
	KindFailed    NotificationKind = "failed"
)

// Notification struct holds a message visible to the keepsake owner.
// The read flag belongs to the UI and is never written here.
type Notification struct {
	ID          uuid.UUID        `json:"id" db:"id"`
	OwnerID     string           `json:"owner_id" db:"owner_id"`
	KeepsakeID  uuid.UUID        `json:"keepsake_id" db:"keepsake_id"`
	Kind        NotificationKind `json:"kind" db:"kind"`
	SummaryText string           `json:"summary_text" db:"summary_text"`
	CreatedAt   time.Time        `json:"created_at" db:"created_at"`
	ReadAt      *time.Time       `json:"read_at,omitempty" db:"read_at"`
}

// OutcomeEvent is published after a keepsake reaches a terminal status.
type OutcomeEvent struct {
	KeepsakeID uuid.UUID        `json:"keepsake_id"`
	OwnerID    string           `json:"owner_id"`
	Kind       NotificationKind `json:"kind"`
	Status     Status           `json:"status"`
	Reached    int              `json:"recipients_reached"`
	Total      int              `json:"recipients_total"`
	RunID      uuid.UUID        `json:"run_id"`
	At         time.Time        `json:"at"`
}

// RequeueRequest asks for an errored keepsake to be scheduled again.
type RequeueRequest struct {
	KeepsakeID uuid.UUID `json:"keepsake_id"`
	Reason     string    `json:"reason,omitempty"`
}
