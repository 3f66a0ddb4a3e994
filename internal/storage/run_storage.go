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

type runStorage struct {
	db DB
}

// NewRunStorage returns a RunStorage backed by Postgres.
func NewRunStorage(db DB) RunStorage {
	return &runStorage{db: db}
}

func (s *runStorage) StartRun(ctx context.Context, id uuid.UUID, startedAt time.Time) error {
	const query = `
		INSERT INTO processing_runs (id, status, started_at)
		VALUES ($1, $2, $3)
	`
	if _, err := s.db.Exec(ctx, query, id, string(model.RunRunning), startedAt); err != nil {
		return fmt.Errorf("failed to record run start: %w", err)
	}
	return nil
}

func (s *runStorage) FinishRun(ctx context.Context, sum model.Summary, status model.RunStatus, runErr error) error {
	const query = `
		UPDATE processing_runs
		SET status = $2, finished_at = $3, attempted = $4, sent = $5,
		    errored = $6, retry_pending = $7, lease_lost = $8, error_text = $9
		WHERE id = $1
	`

	var errText *string
	if runErr != nil {
		msg := runErr.Error()
		errText = &msg
	}

	tag, err := s.db.Exec(ctx, query, sum.RunID, string(status), sum.FinishedAt,
		sum.Attempted, sum.Sent, sum.Errored, sum.RetryPending, sum.LeaseLost, errText)
	if err != nil {
		return fmt.Errorf("failed to record run finish: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s: %w", sum.RunID, appErr.ErrNotFound)
	}
	return nil
}

func (s *runStorage) ActiveRuns(ctx context.Context, self uuid.UUID, since time.Time) (int, error) {
	const query = `
		SELECT count(*)
		FROM processing_runs
		WHERE status = 'running' AND started_at >= $1 AND id <> $2
	`
	var n int
	if err := s.db.QueryRow(ctx, query, since, self).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count active runs: %w", err)
	}
	return n, nil
}

func (s *runStorage) LatestRun(ctx context.Context) (model.Run, error) {
	const query = `
		SELECT id, status, started_at, finished_at, attempted, sent, errored, retry_pending, lease_lost, error_text
		FROM processing_runs
		ORDER BY started_at DESC
		LIMIT 1
	`
	var r model.Run
	err := s.db.QueryRow(ctx, query).Scan(
		&r.ID, &r.Status, &r.StartedAt, &r.FinishedAt, &r.Attempted, &r.Sent,
		&r.Errored, &r.Retrying, &r.LeaseLost, &r.ErrorText,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Run{}, appErr.ErrNotFound
	}
	if err != nil {
		return model.Run{}, fmt.Errorf("failed to load latest run: %w", err)
	}
	return r, nil
}
