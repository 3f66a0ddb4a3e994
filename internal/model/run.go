package model

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle of one processing pass.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunAborted   RunStatus = "aborted"
)

// Summary is the aggregate result of one processing pass, returned to the trigger.
type Summary struct {
	RunID        uuid.UUID `json:"run_id"`
	Attempted    int       `json:"attempted"`
	Sent         int       `json:"sent"`
	Errored      int       `json:"errored"`
	RetryPending int       `json:"retry_pending"`
	LeaseLost    int       `json:"lease_lost"`
	Unpersisted  int       `json:"unpersisted"`
	Swept        int64     `json:"swept"`
	Truncated    bool      `json:"truncated"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// Run is the stored record of a processing pass.
type Run struct {
	ID         uuid.UUID  `json:"id"`
	Status     RunStatus  `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Attempted  int        `json:"attempted"`
	Sent       int        `json:"sent"`
	Errored    int        `json:"errored"`
	Retrying   int        `json:"retry_pending"`
	LeaseLost  int        `json:"lease_lost"`
	ErrorText  *string    `json:"error_text,omitempty"`
}
