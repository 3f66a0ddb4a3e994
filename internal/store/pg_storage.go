package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/samims/keepsake/internal/model"
)

type postgresStorage struct {
	db *sqlx.DB
}

// NewPostgresStorage wraps an open notification database.
func NewPostgresStorage(db *sqlx.DB) NotificationStorage {
	return &postgresStorage{db: db}
}

// Insert writes one notification row. read_at is left to the UI.
func (s *postgresStorage) Insert(ctx context.Context, n *model.Notification) error {
	if n == nil {
		return fmt.Errorf("notification cannot be nil")
	}
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}

	query := `INSERT INTO notifications
		(id, owner_id, keepsake_id, kind, summary_text, created_at)
		VALUES (:id, :owner_id, :keepsake_id, :kind, :summary_text, :created_at)`

	if _, err := s.db.NamedExecContext(ctx, query, n); err != nil {
		return fmt.Errorf("insert notification for keepsake %s: %w", n.KeepsakeID, err)
	}
	return nil
}

func (s *postgresStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
