package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/samims/keepsake/internal/model"
)

// KeepsakeStorage is the processor's view of the keepsakes table.
type KeepsakeStorage interface {
	// SelectDue returns up to limit selectable keepsakes due at now, oldest first,
	// strictly after the cursor. It never writes.
	SelectDue(ctx context.Context, now time.Time, after model.Cursor, limit int) ([]model.Keepsake, error)
	// Claim moves k to in_progress under a lease held by runID.
	// It returns ErrLeaseLost when k changed since it was selected.
	Claim(ctx context.Context, k model.Keepsake, runID uuid.UUID, now, leaseUntil time.Time) (model.Keepsake, error)
	// ExtendLease moves the lease expiry of a keepsake still leased to runID.
	// It returns ErrLeaseLost when the lease was swept or taken.
	ExtendLease(ctx context.Context, id, runID uuid.UUID, leaseUntil time.Time) error
	// Complete writes the final status of a claimed keepsake.
	Complete(ctx context.Context, c model.Completion) error
	// ReleaseExpired returns keepsakes with expired leases to scheduled.
	ReleaseExpired(ctx context.Context, now time.Time) (int64, error)
	// Requeue moves an errored keepsake back to scheduled.
	Requeue(ctx context.Context, id uuid.UUID, now time.Time) error
	Ping(ctx context.Context) error
}

// RecipientStorage reads the recipients of a keepsake.
type RecipientStorage interface {
	Recipients(ctx context.Context, keepsakeID uuid.UUID) ([]model.Recipient, error)
	Ping(ctx context.Context) error
}

// RunStorage records processing runs.
type RunStorage interface {
	StartRun(ctx context.Context, id uuid.UUID, startedAt time.Time) error
	FinishRun(ctx context.Context, s model.Summary, status model.RunStatus, runErr error) error
	// ActiveRuns counts runs other than self still marked running since the given time.
	ActiveRuns(ctx context.Context, self uuid.UUID, since time.Time) (int, error)
	LatestRun(ctx context.Context) (model.Run, error)
}
