package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErr "github.com/samims/keepsake/internal/errors"
	"github.com/samims/keepsake/internal/model"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestKeepsakeStorage_Claim(t *testing.T) {
	now := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	leaseUntil := now.Add(2 * time.Minute)
	runID := uuid.New()
	k := model.Keepsake{ID: uuid.New(), Status: model.StatusScheduled, AttemptCount: 0}

	t.Run("claimed", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec("UPDATE keepsakes").
			WithArgs(k.ID, runID, leaseUntil, now, 0).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		got, err := NewKeepsakeStorage(mock).Claim(context.Background(), k, runID, now, leaseUntil)
		require.NoError(t, err)
		assert.Equal(t, model.StatusInProgress, got.Status)
		assert.Equal(t, 1, got.AttemptCount)
		assert.Equal(t, runID, *got.LeaseOwner)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("taken by another run", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec("UPDATE keepsakes").
			WithArgs(k.ID, runID, leaseUntil, now, 0).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		_, err := NewKeepsakeStorage(mock).Claim(context.Background(), k, runID, now, leaseUntil)
		assert.ErrorIs(t, err, appErr.ErrLeaseLost)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestKeepsakeStorage_Complete(t *testing.T) {
	now := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	c := model.Completion{
		KeepsakeID: uuid.New(),
		RunID:      uuid.New(),
		Status:     model.StatusSent,
		SentAt:     &now,
		At:         now,
	}

	t.Run("written", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec("UPDATE keepsakes").
			WithArgs(c.KeepsakeID, c.RunID, "sent", c.SentAt, c.NextAttemptAt, c.LastError, now).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		assert.NoError(t, NewKeepsakeStorage(mock).Complete(context.Background(), c))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("lease swept", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec("UPDATE keepsakes").
			WithArgs(c.KeepsakeID, c.RunID, "sent", c.SentAt, c.NextAttemptAt, c.LastError, now).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := NewKeepsakeStorage(mock).Complete(context.Background(), c)
		assert.ErrorIs(t, err, appErr.ErrLeaseLost)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("non-final status rejected", func(t *testing.T) {
		mock := newMock(t)
		bad := c
		bad.Status = model.StatusScheduled

		assert.Error(t, NewKeepsakeStorage(mock).Complete(context.Background(), bad))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestKeepsakeStorage_ExtendLease(t *testing.T) {
	id, runID := uuid.New(), uuid.New()
	until := time.Date(2026, 10, 15, 9, 4, 0, 0, time.UTC)

	tests := []struct {
		name    string
		rows    int64
		execErr error
		wantErr error
	}{
		{name: "still held", rows: 1},
		{name: "swept or taken", rows: 0, wantErr: appErr.ErrLeaseLost},
		{name: "db failure", execErr: errors.New("connection reset")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMock(t)
			exp := mock.ExpectExec("UPDATE keepsakes").WithArgs(id, runID, until)
			if tt.execErr != nil {
				exp.WillReturnError(tt.execErr)
			} else {
				exp.WillReturnResult(pgxmock.NewResult("UPDATE", tt.rows))
			}

			err := NewKeepsakeStorage(mock).ExtendLease(context.Background(), id, runID, until)
			switch {
			case tt.execErr != nil:
				assert.ErrorContains(t, err, "extend lease")
				assert.NotErrorIs(t, err, appErr.ErrLeaseLost)
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			default:
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestKeepsakeStorage_ReleaseExpired(t *testing.T) {
	now := time.Now()
	mock := newMock(t)
	mock.ExpectExec("UPDATE keepsakes").
		WithArgs(now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	n, err := NewKeepsakeStorage(mock).ReleaseExpired(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestKeepsakeStorage_Requeue(t *testing.T) {
	id := uuid.New()
	now := time.Now()

	tests := []struct {
		name    string
		setup   func(pgxmock.PgxPoolIface)
		wantErr error
	}{
		{
			name: "errored keepsake rescheduled",
			setup: func(m pgxmock.PgxPoolIface) {
				m.ExpectExec("UPDATE keepsakes").WithArgs(id, now).
					WillReturnResult(pgxmock.NewResult("UPDATE", 1))
			},
		},
		{
			name: "unknown keepsake",
			setup: func(m pgxmock.PgxPoolIface) {
				m.ExpectExec("UPDATE keepsakes").WithArgs(id, now).
					WillReturnResult(pgxmock.NewResult("UPDATE", 0))
				m.ExpectQuery("SELECT status FROM keepsakes").WithArgs(id).
					WillReturnError(pgx.ErrNoRows)
			},
			wantErr: appErr.ErrNotFound,
		},
		{
			name: "already sent",
			setup: func(m pgxmock.PgxPoolIface) {
				m.ExpectExec("UPDATE keepsakes").WithArgs(id, now).
					WillReturnResult(pgxmock.NewResult("UPDATE", 0))
				m.ExpectQuery("SELECT status FROM keepsakes").WithArgs(id).
					WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("sent"))
			},
			wantErr: appErr.ErrNotRequeueable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMock(t)
			tt.setup(mock)

			err := NewKeepsakeStorage(mock).Requeue(context.Background(), id, now)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestKeepsakeStorage_SelectDueError(t *testing.T) {
	mock := newMock(t)
	now := time.Now()
	mock.ExpectQuery("FROM keepsakes").
		WithArgs(now, time.Time{}, uuid.Nil, 10).
		WillReturnError(errors.New("connection refused"))

	_, err := NewKeepsakeStorage(mock).SelectDue(context.Background(), now, model.Cursor{}, 10)
	assert.ErrorContains(t, err, "select due keepsakes failed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplySchema(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS keepsakes").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	assert.NoError(t, ApplySchema(context.Background(), mock))
	assert.NoError(t, mock.ExpectationsWereMet())
}
