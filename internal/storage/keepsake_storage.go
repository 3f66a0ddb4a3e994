package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	appErr "github.com/samims/keepsake/internal/errors"
	"github.com/samims/keepsake/internal/model"
)

const keepsakeColumns = `id, owner_id, title, message_body, channel_type, status,
	delivery_timestamp, sent_at, attempt_count, next_attempt_at, last_error, updated_at`

type keepsakeStorage struct {
	db DB
}

// NewKeepsakeStorage returns a KeepsakeStorage backed by Postgres.
func NewKeepsakeStorage(db DB) KeepsakeStorage {
	return &keepsakeStorage{db: db}
}

func (s *keepsakeStorage) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *keepsakeStorage) SelectDue(ctx context.Context, now time.Time, after model.Cursor, limit int) ([]model.Keepsake, error) {
	const query = `
		SELECT ` + keepsakeColumns + `
		FROM keepsakes
		WHERE ((status = 'scheduled' AND delivery_timestamp <= $1)
		    OR (status = 'retry_pending' AND next_attempt_at <= $1))
		  AND (delivery_timestamp, id) > ($2, $3)
		ORDER BY delivery_timestamp ASC, id ASC
		LIMIT $4
	`

	rows, err := s.db.Query(ctx, query, now, after.DeliveryTimestamp, after.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("select due keepsakes failed: %w", err)
	}
	defer rows.Close()

	var out []model.Keepsake
	for rows.Next() {
		k, err := scanKeepsake(rows)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration failed: %w", err)
	}
	return out, nil
}

// Claim relies on attempt_count as an optimistic version: a concurrent claim,
// sweep or requeue bumps or resets it, so at most one run's update matches.
func (s *keepsakeStorage) Claim(ctx context.Context, k model.Keepsake, runID uuid.UUID, now, leaseUntil time.Time) (model.Keepsake, error) {
	const query = `
		UPDATE keepsakes
		SET status = 'in_progress',
		    lease_owner = $2,
		    lease_expires_at = $3,
		    attempt_count = attempt_count + 1,
		    updated_at = $4
		WHERE id = $1
		  AND status IN ('scheduled', 'retry_pending')
		  AND attempt_count = $5
	`

	tag, err := s.db.Exec(ctx, query, k.ID, runID, leaseUntil, now, k.AttemptCount)
	if err != nil {
		return model.Keepsake{}, fmt.Errorf("claim keepsake %s failed: %w", k.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return model.Keepsake{}, appErr.ErrLeaseLost
	}

	k.Status = model.StatusInProgress
	k.AttemptCount++
	k.LeaseOwner = &runID
	k.LeaseExpiresAt = &leaseUntil
	k.UpdatedAt = now
	return k, nil
}

// ExtendLease pushes the lease of a keepsake still held by runID to leaseUntil.
func (s *keepsakeStorage) ExtendLease(ctx context.Context, id, runID uuid.UUID, leaseUntil time.Time) error {
	const query = `
		UPDATE keepsakes
		SET lease_expires_at = $3
		WHERE id = $1
		  AND status = 'in_progress'
		  AND lease_owner = $2
	`

	tag, err := s.db.Exec(ctx, query, id, runID, leaseUntil)
	if err != nil {
		return fmt.Errorf("extend lease of keepsake %s failed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return appErr.ErrLeaseLost
	}
	return nil
}

func (s *keepsakeStorage) Complete(ctx context.Context, c model.Completion) error {
	if !c.Status.Terminal() && c.Status != model.StatusRetryPending {
		return fmt.Errorf("complete keepsake %s: invalid final status %q", c.KeepsakeID, c.Status)
	}

	const query = `
		UPDATE keepsakes
		SET status = $3,
		    sent_at = COALESCE($4, sent_at),
		    next_attempt_at = $5,
		    last_error = $6,
		    lease_owner = NULL,
		    lease_expires_at = NULL,
		    updated_at = $7
		WHERE id = $1
		  AND status = 'in_progress'
		  AND lease_owner = $2
	`

	tag, err := s.db.Exec(ctx, query, c.KeepsakeID, c.RunID, string(c.Status), c.SentAt, c.NextAttemptAt, c.LastError, c.At)
	if err != nil {
		return fmt.Errorf("complete keepsake %s failed: %w", c.KeepsakeID, err)
	}
	if tag.RowsAffected() == 0 {
		return appErr.ErrLeaseLost
	}
	return nil
}

func (s *keepsakeStorage) ReleaseExpired(ctx context.Context, now time.Time) (int64, error) {
	const query = `
		UPDATE keepsakes
		SET status = 'scheduled',
		    lease_owner = NULL,
		    lease_expires_at = NULL,
		    updated_at = $1
		WHERE status = 'in_progress'
		  AND lease_expires_at < $1
	`

	tag, err := s.db.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("release expired leases failed: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *keepsakeStorage) Requeue(ctx context.Context, id uuid.UUID, now time.Time) error {
	const query = `
		UPDATE keepsakes
		SET status = 'scheduled',
		    attempt_count = 0,
		    next_attempt_at = NULL,
		    last_error = NULL,
		    updated_at = $2
		WHERE id = $1
		  AND status = 'error'
	`

	tag, err := s.db.Exec(ctx, query, id, now)
	if err != nil {
		return fmt.Errorf("requeue keepsake %s failed: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var status string
	err = s.db.QueryRow(ctx, `SELECT status FROM keepsakes WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("keepsake %s: %w", id, appErr.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("lookup keepsake %s failed: %w", id, err)
	}
	return fmt.Errorf("keepsake %s is %s: %w", id, status, appErr.ErrNotRequeueable)
}

func scanKeepsake(row pgx.Row) (model.Keepsake, error) {
	var k model.Keepsake
	err := row.Scan(
		&k.ID, &k.OwnerID, &k.Title, &k.MessageBody, &k.ChannelType, &k.Status,
		&k.DeliveryTimestamp, &k.SentAt, &k.AttemptCount, &k.NextAttemptAt, &k.LastError, &k.UpdatedAt,
	)
	return k, err
}
