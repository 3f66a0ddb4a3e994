package model

import (
	"time"

	"github.com/google/uuid"
)

// Status is the delivery state of a keepsake.
type Status string

const (
	StatusScheduled    Status = "scheduled"
	StatusInProgress   Status = "in_progress"
	StatusRetryPending Status = "retry_pending"
	StatusSent         Status = "sent"
	StatusDelivered    Status = "delivered"
	StatusError        Status = "error"
)

// Terminal reports whether the processor will never pick the item up again on its own.
func (s Status) Terminal() bool {
	switch s {
	case StatusSent, StatusDelivered, StatusError:
		return true
	}
	return false
}

// Selectable reports whether the due-item selector may return an item in this status.
func (s Status) Selectable() bool {
	return s == StatusScheduled || s == StatusRetryPending
}

// ChannelType controls how recipients of a keepsake are routed to delivery channels.
type ChannelType string

const (
	ChannelSingle ChannelType = "single"
	ChannelMulti  ChannelType = "multi"
)

// Keepsake is a time-delayed message owned by a user.
type Keepsake struct {
	ID                uuid.UUID   `json:"id"`
	OwnerID           string      `json:"owner_id"`
	Title             string      `json:"title"`
	MessageBody       string      `json:"message_body"`
	ChannelType       ChannelType `json:"channel_type"`
	Status            Status      `json:"status"`
	DeliveryTimestamp time.Time   `json:"delivery_timestamp"`
	SentAt            *time.Time  `json:"sent_at,omitempty"`
	LeaseOwner        *uuid.UUID  `json:"lease_owner,omitempty"`
	LeaseExpiresAt    *time.Time  `json:"lease_expires_at,omitempty"`
	AttemptCount      int         `json:"attempt_count"`
	NextAttemptAt     *time.Time  `json:"next_attempt_at,omitempty"`
	LastError         *string     `json:"last_error,omitempty"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

// Recipient is one addressee of a keepsake. Recipients are never processed on their own.
type Recipient struct {
	ID             uuid.UUID `json:"id"`
	KeepsakeID     uuid.UUID `json:"keepsake_id"`
	DisplayName    string    `json:"display_name"`
	ContactAddress string    `json:"contact_address"`
}

// Cursor is the keyset position of the due-item selector.
type Cursor struct {
	DeliveryTimestamp time.Time
	ID                uuid.UUID
}

// After returns the cursor positioned on k.
func After(k Keepsake) Cursor {
	return Cursor{DeliveryTimestamp: k.DeliveryTimestamp, ID: k.ID}
}

// IsZero reports whether the cursor points before the first row.
func (c Cursor) IsZero() bool {
	return c.DeliveryTimestamp.IsZero() && c.ID == uuid.Nil
}

// Completion is the final status write for one claimed keepsake.
type Completion struct {
	KeepsakeID    uuid.UUID
	RunID         uuid.UUID
	Status        Status
	SentAt        *time.Time
	NextAttemptAt *time.Time
	LastError     *string
	At            time.Time
}
